package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mail-archiver-go/internal/blob"
	"mail-archiver-go/internal/drive"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Blob      blob.Config     `mapstructure:"blob"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Drive     drive.Config    `mapstructure:"drive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// QueueConfig holds work queue configuration
type QueueConfig struct {
	Driver         string        `mapstructure:"driver"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	Key            string        `mapstructure:"key"`
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// SchedulerConfig holds recovery sweep configuration
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	GraceMinutes    int  `mapstructure:"grace_minutes"`
	BatchSize       int  `mapstructure:"batch_size"`
}

// SMTPConfig holds the optional inbound SMTP listener configuration
type SMTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Domain          string        `mapstructure:"domain"`
	AllowedDomains  []string      `mapstructure:"allowed_domains"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	MaxRecipients   int           `mapstructure:"max_recipients"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig loads configuration from .env, an optional config file and
// environment variables. An empty path searches ./config.yaml and
// ./config/config.yaml.
func LoadConfig(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads .env from the working directory or its parent
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 25<<20)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("blob.driver", "filesystem")
	v.SetDefault("blob.path", "./data/blobs")
	v.SetDefault("blob.region", "auto")

	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.key", "mail-archiver:emails")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.retry_base_delay", "5s")
	v.SetDefault("queue.retry_max_delay", "10m")
	v.SetDefault("queue.max_attempts", 0)

	v.SetDefault("drive.timeout", "60s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.grace_minutes", 10)
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.addr", ":2525")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_message_bytes", 25<<20)
	v.SetDefault("smtp.max_recipients", 50)
	v.SetDefault("smtp.read_timeout", "10s")
	v.SetDefault("smtp.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("server.max_body_bytes", "SERVER_MAX_BODY_BYTES")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.dsn", "DB_DSN")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Blob
	v.BindEnv("blob.driver", "BLOB_DRIVER")
	v.BindEnv("blob.path", "BLOB_PATH")
	v.BindEnv("blob.bucket", "BLOB_BUCKET")
	v.BindEnv("blob.region", "BLOB_REGION")
	v.BindEnv("blob.endpoint", "BLOB_ENDPOINT")
	v.BindEnv("blob.access_key_id", "BLOB_ACCESS_KEY_ID")
	v.BindEnv("blob.secret_access_key", "BLOB_SECRET_ACCESS_KEY")
	v.BindEnv("blob.use_path_style", "BLOB_USE_PATH_STYLE")

	// Queue
	v.BindEnv("queue.driver", "QUEUE_DRIVER")
	v.BindEnv("queue.redis_addr", "REDIS_ADDR")
	v.BindEnv("queue.redis_password", "REDIS_PASSWORD")
	v.BindEnv("queue.redis_db", "REDIS_DB")
	v.BindEnv("queue.key", "QUEUE_KEY")
	v.BindEnv("queue.batch_size", "QUEUE_BATCH_SIZE")
	v.BindEnv("queue.concurrency", "QUEUE_CONCURRENCY")
	v.BindEnv("queue.max_attempts", "QUEUE_MAX_ATTEMPTS")

	// Drive
	v.BindEnv("drive.api_url", "DRIVE_API_URL")
	v.BindEnv("drive.bucket_id", "DRIVE_BUCKET_ID")
	v.BindEnv("drive.auth_token", "DRIVE_AUTH_TOKEN")
	v.BindEnv("drive.timeout", "DRIVE_TIMEOUT")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	v.BindEnv("scheduler.grace_minutes", "SCHEDULER_GRACE_MINUTES")
	v.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")

	// SMTP
	v.BindEnv("smtp.enabled", "SMTP_ENABLED")
	v.BindEnv("smtp.addr", "SMTP_ADDR")
	v.BindEnv("smtp.domain", "SMTP_DOMAIN")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.file", "LOG_FILE")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.isPostgres() {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

func (c *DatabaseConfig) isPostgres() bool {
	d := strings.ToLower(c.Driver)
	return d == "postgres" || d == "postgresql"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "") {
		return fmt.Errorf("database dsn or host, user, and dbname are required")
	}

	switch strings.ToLower(c.Queue.Driver) {
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis queue")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported queue driver: %s", c.Queue.Driver)
	}
	if c.Queue.Concurrency <= 0 || c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue concurrency and batch size must be greater than 0")
	}

	if c.Drive.APIURL == "" || c.Drive.BucketID == "" || c.Drive.AuthToken == "" {
		return fmt.Errorf("drive api url, bucket id, and auth token are required")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.SMTP.Enabled && c.SMTP.Addr == "" {
		return fmt.Errorf("smtp address is required when smtp is enabled")
	}

	return nil
}
