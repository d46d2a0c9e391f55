package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080"},
		Database:  DatabaseConfig{Driver: "mysql", Host: "localhost", User: "root", DBName: "mail"},
		Queue:     QueueConfig{Driver: "redis", RedisAddr: "localhost:6379", BatchSize: 10, Concurrency: 2},
		Scheduler: SchedulerConfig{IntervalMinutes: 5},
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
database:
  driver: postgres
  host: db
  port: 5432
  user: archiver
  dbname: mail
blob:
  driver: s3
  bucket: inbox
drive:
  api_url: https://drive.example.com
  bucket_id: b-1
  auth_token: Basic abc
  timeout: 15s
queue:
  max_attempts: 7
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "s3", cfg.Blob.Driver)
	assert.Equal(t, "inbox", cfg.Blob.Bucket)
	assert.Equal(t, "https://drive.example.com", cfg.Drive.APIURL)
	assert.Equal(t, 15*time.Second, cfg.Drive.Timeout)
	assert.Equal(t, 7, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Queue.RetryBaseDelay)
	assert.Equal(t, 5, cfg.Scheduler.IntervalMinutes)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.SMTP.Enabled)
	assert.Equal(t, ":2525", cfg.SMTP.Addr)
	assert.Equal(t, int64(25<<20), cfg.SMTP.MaxMessageBytes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\n")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DRIVE_BUCKET_ID", "env-bucket")
	t.Setenv("QUEUE_DRIVER", "memory")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "env-bucket", cfg.Drive.BucketID)
	assert.Equal(t, "memory", cfg.Queue.Driver)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	mysqlCfg := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", DBName: "d"}
	assert.Equal(t, "u:p@tcp(h:3306)/d?charset=utf8mb4&parseTime=True&loc=UTC", mysqlCfg.GetDSN())

	pgCfg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable TimeZone=UTC", pgCfg.GetDSN())

	explicit := DatabaseConfig{Driver: "postgres", DSN: "postgres://x"}
	assert.Equal(t, "postgres://x", explicit.GetDSN())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"unknown db driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"dsn only", func(c *Config) { c.Database = DatabaseConfig{Driver: "postgres", DSN: "postgres://x"} }, false},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, true},
		{"unknown queue", func(c *Config) { c.Queue.Driver = "sqs" }, true},
		{"redis without addr", func(c *Config) { c.Queue.RedisAddr = "" }, true},
		{"memory queue", func(c *Config) { c.Queue.Driver = "memory"; c.Queue.RedisAddr = "" }, false},
		{"zero concurrency", func(c *Config) { c.Queue.Concurrency = 0 }, true},
		{"missing drive token", func(c *Config) { c.Drive.AuthToken = "" }, true},
		{"zero interval", func(c *Config) { c.Scheduler.IntervalMinutes = 0 }, true},
		{"smtp without addr", func(c *Config) { c.SMTP.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Drive.APIURL = "https://drive.example.com"
			cfg.Drive.BucketID = "b"
			cfg.Drive.AuthToken = "t"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
