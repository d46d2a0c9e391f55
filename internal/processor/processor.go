// Package processor uploads stored emails to the storage provider and
// settles their ledger rows.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/blob"
	"mail-archiver-go/internal/drive"
	"mail-archiver-go/internal/metrics"
	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/repository"
)

// Result tells the consumer what to do with a delivery
type Result int

const (
	// Processed means the delivery can be acknowledged
	Processed Result = iota
	// Retry means the delivery should be redelivered later
	Retry
)

func (r Result) String() string {
	switch r {
	case Processed:
		return "processed"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Uploader sends raw email bytes to the storage provider
type Uploader interface {
	Upload(ctx context.Context, data []byte) (*drive.UploadResult, error)
}

// Processor handles a single work item
type Processor struct {
	ledger   repository.Ledger
	blobs    blob.Store
	uploader Uploader
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Processor
func New(ledger repository.Ledger, blobs blob.Store, uploader Uploader, m *metrics.Metrics) *Processor {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Processor{
		ledger:   ledger,
		blobs:    blobs,
		uploader: uploader,
		metrics:  m,
		now:      time.Now,
	}
}

// Process uploads the email behind msg and marks it completed. Rows that
// are already terminal are acknowledged without uploading again. Every
// failure, including a panic, yields Retry and leaves the row pending.
func (p *Processor) Process(ctx context.Context, msg model.QueueMessage) (result Result) {
	log := logrus.WithFields(logrus.Fields{
		"email_id":    msg.EmailID,
		"storage_key": msg.StorageKey,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic while processing email")
			result = Retry
		}
		if result == Retry {
			p.metrics.ProcessRetries.Inc()
		}
	}()

	rec, err := p.ledger.Get(ctx, msg.EmailID)
	if err != nil {
		log.WithError(err).Warn("Failed to load ledger row")
		return Retry
	}

	switch rec.Status {
	case model.StatusCompleted:
		log.Debug("Email already completed")
		return Processed
	case model.StatusFailed:
		log.Warn("Email already marked failed, dropping work item")
		return Processed
	}

	data, err := p.blobs.Get(ctx, rec.StorageKey)
	if err != nil {
		log.WithError(err).Warn("Failed to read email blob")
		return Retry
	}

	start := time.Now()
	upload, err := p.uploader.Upload(ctx, data)
	if err != nil {
		log.WithError(err).Warn("Failed to upload email")
		return Retry
	}
	p.metrics.UploadDuration.Observe(time.Since(start).Seconds())
	p.metrics.UploadBytes.Observe(float64(upload.Size))

	if err := p.ledger.MarkCompleted(ctx, rec.ID, p.now()); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			log.WithError(err).Warn("Email left pending before upload finished")
			return Processed
		}
		log.WithError(err).Warn("Failed to mark email completed")
		return Retry
	}

	p.metrics.Processed.Inc()
	log.WithFields(logrus.Fields{
		"upload_uuid": upload.UUID,
		"hash":        upload.Hash,
		"size":        upload.Size,
		"response":    string(upload.Response),
	}).Info("Email archived")
	return Processed
}

// Abandon marks the email failed once its deliveries are exhausted.
// An email that completed in the meantime is left alone.
func (p *Processor) Abandon(ctx context.Context, msg model.QueueMessage) error {
	err := p.ledger.MarkFailed(ctx, msg.EmailID, p.now())
	if errors.Is(err, repository.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to abandon email %s: %w", msg.EmailID, err)
	}
	p.metrics.DeadLettered.Inc()
	logrus.WithField("email_id", msg.EmailID).Error("Email marked failed after exhausting retries")
	return nil
}
