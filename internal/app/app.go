package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"mail-archiver-go/internal/blob"
	"mail-archiver-go/internal/config"
	"mail-archiver-go/internal/db"
	"mail-archiver-go/internal/drive"
	"mail-archiver-go/internal/handler"
	"mail-archiver-go/internal/identity"
	"mail-archiver-go/internal/ingest"
	"mail-archiver-go/internal/logging"
	"mail-archiver-go/internal/mbox"
	"mail-archiver-go/internal/metrics"
	"mail-archiver-go/internal/processor"
	"mail-archiver-go/internal/queue"
	"mail-archiver-go/internal/repository"
	"mail-archiver-go/internal/router"
	"mail-archiver-go/internal/scheduler"
	"mail-archiver-go/internal/smtpd"
)

const shutdownTimeout = 30 * time.Second

// App holds the wired components of the archiver
type App struct {
	cfg       *config.Config
	db        *gorm.DB
	ledger    *repository.Repository
	blobs     blob.Store
	queue     queue.Queue
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	ingest    *ingest.Service
	scheduler *scheduler.Scheduler
	logCloser io.Closer
}

// LoadConfig loads, validates and applies the logging section of the
// configuration at path
func LoadConfig(path string) (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, closer, nil
}

// New loads configuration from path and connects every backend
func New(ctx context.Context, path string) (*App, error) {
	cfg, logCloser, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	a := &App{cfg: cfg, logCloser: logCloser}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	var err error

	a.db, err = db.Init(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.ledger = repository.New(a.db)

	a.blobs, err = blob.New(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	a.queue, err = queue.New(ctx, queue.Config{
		Driver:        a.cfg.Queue.Driver,
		RedisAddr:     a.cfg.Queue.RedisAddr,
		RedisPassword: a.cfg.Queue.RedisPassword,
		RedisDB:       a.cfg.Queue.RedisDB,
		Options: queue.Options{
			Key:            a.cfg.Queue.Key,
			RetryBaseDelay: a.cfg.Queue.RetryBaseDelay,
			RetryMaxDelay:  a.cfg.Queue.RetryMaxDelay,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewMetrics(a.registry)

	a.ingest = ingest.NewService(identity.NewDeriver(), a.blobs, a.ledger, a.queue, a.metrics)
	a.scheduler = scheduler.NewScheduler(a.cfg.Scheduler, a.ledger, a.queue, a.metrics)
	return nil
}

// Serve runs the HTTP server, the queue consumer and the recovery sweep
// until ctx is cancelled
func (a *App) Serve(ctx context.Context) error {
	logrus.Info("Starting Mail Archiver Service")

	recovered, err := a.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight messages: %w", err)
	}
	if recovered > 0 {
		logrus.Infof("Requeued %d in-flight messages", recovered)
	}

	uploader := drive.New(a.cfg.Drive)
	proc := processor.New(a.ledger, a.blobs, uploader, a.metrics)
	consumer := processor.NewConsumer(a.queue, proc, processor.ConsumerConfig{
		BatchSize:    a.cfg.Queue.BatchSize,
		Concurrency:  a.cfg.Queue.Concurrency,
		PollInterval: a.cfg.Queue.PollInterval,
		MaxAttempts:  a.cfg.Queue.MaxAttempts,
	})

	metricsHandler := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	h := handler.NewHandlers(a.ingest, a.ledger, a.scheduler, a.queue, metricsHandler, a.cfg.Server.MaxBodyBytes)
	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logrus.Infof("Starting HTTP server on port %s", a.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return consumer.Run(groupCtx)
	})

	var smtpServer *gosmtp.Server
	if a.cfg.SMTP.Enabled {
		smtpServer = smtpd.NewServer(smtpd.NewBackend(a.ingest, a.cfg.SMTP), a.cfg.SMTP)
		group.Go(func() error {
			logrus.Infof("Starting SMTP server on %s", a.cfg.SMTP.Addr)
			if err := smtpServer.ListenAndServe(); err != nil && !smtpd.IsClosed(err) {
				return fmt.Errorf("SMTP server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logrus.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.scheduler.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
		a.scheduler.Wait()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("HTTP server shutdown error: %v", err)
		}
		if smtpServer != nil {
			if err := smtpServer.Shutdown(shutdownCtx); err != nil {
				logrus.Errorf("SMTP server shutdown error: %v", err)
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logrus.Info("Server stopped gracefully")
	return nil
}

// Sweep runs one recovery pass
func (a *App) Sweep(ctx context.Context) (int, error) {
	return a.scheduler.RunOnce(ctx)
}

// Import backfills the archive from an mbox file
func (a *App) Import(ctx context.Context, path string) (mbox.Stats, error) {
	return mbox.NewImporter(a.ingest).ImportFile(ctx, path)
}

// Migrate creates or updates the ledger schema using the configuration at path
func Migrate(path string) error {
	cfg, logCloser, err := LoadConfig(path)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	conn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Close releases every backend connection
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
