// Package ingest stores inbound emails and hands them to the processor.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"mail-archiver-go/internal/blob"
	"mail-archiver-go/internal/identity"
	"mail-archiver-go/internal/metrics"
	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/parser"
	"mail-archiver-go/internal/queue"
	"mail-archiver-go/internal/repository"
)

// ErrMalformedEmail wraps failures caused by the message itself. Retrying
// the same bytes cannot succeed.
var ErrMalformedEmail = errors.New("malformed email")

// Result describes the outcome of a successful ingestion
type Result struct {
	EmailID    string
	StorageKey string
	Duplicate  bool
}

// Service runs the ingestion path: parse, derive identity, store the blob,
// record a pending ledger row and enqueue a work item.
type Service struct {
	deriver  *identity.Deriver
	blobs    blob.Store
	ledger   repository.Ledger
	producer queue.Producer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates an ingestion service
func NewService(deriver *identity.Deriver, blobs blob.Store, ledger repository.Ledger, producer queue.Producer, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Service{
		deriver:  deriver,
		blobs:    blobs,
		ledger:   ledger,
		producer: producer,
		metrics:  m,
		now:      time.Now,
	}
}

// Handle ingests one raw MIME message. A message whose id is already in the
// ledger is reported as a duplicate and is neither stored nor enqueued again.
// An error means nothing was recorded in the ledger.
func (s *Service) Handle(ctx context.Context, raw []byte) (*Result, error) {
	s.metrics.WebhookReceived.Inc()

	parsed, err := parser.Parse(raw)
	if err != nil {
		s.metrics.IngestFailures.Inc()
		return nil, fmt.Errorf("%w: %w", ErrMalformedEmail, err)
	}

	id := s.deriver.Derive(parsed.MessageID)
	log := logrus.WithFields(logrus.Fields{
		"email_id":    id.EmailID,
		"storage_key": id.StorageKey,
	})

	if s.alreadyRecorded(ctx, id.EmailID) {
		s.metrics.Duplicates.Inc()
		log.Info("Duplicate email ignored")
		return &Result{EmailID: id.EmailID, StorageKey: id.StorageKey, Duplicate: true}, nil
	}

	if err := s.blobs.Put(ctx, id.StorageKey, raw); err != nil {
		s.metrics.IngestFailures.Inc()
		return nil, fmt.Errorf("failed to store email blob: %w", err)
	}

	rec := &model.EmailRecord{
		ID:         id.EmailID,
		StorageKey: id.StorageKey,
		Status:     model.StatusPending,
		ReceivedAt: s.now().UTC(),
		Metadata:   datatypes.NewJSONType(parsed.Metadata),
	}
	if err := s.ledger.Insert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConstraintViolation) {
			s.metrics.Duplicates.Inc()
			log.Info("Duplicate email rejected by ledger")
			return &Result{EmailID: id.EmailID, StorageKey: id.StorageKey, Duplicate: true}, nil
		}
		s.metrics.IngestFailures.Inc()
		return nil, fmt.Errorf("failed to record email: %w", err)
	}

	msg := model.QueueMessage{EmailID: id.EmailID, StorageKey: id.StorageKey}
	if err := s.producer.Send(ctx, msg); err != nil && !errors.Is(err, queue.ErrAlreadyQueued) {
		// the row stays pending and the recovery sweep enqueues it later
		s.metrics.EnqueueFailures.Inc()
		log.WithError(err).Warn("Failed to enqueue email, leaving it for recovery")
	}

	log.Info("Email ingested")
	return &Result{EmailID: id.EmailID, StorageKey: id.StorageKey}, nil
}

func (s *Service) alreadyRecorded(ctx context.Context, emailID string) bool {
	_, err := s.ledger.Get(ctx, emailID)
	if err == nil {
		return true
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).WithField("email_id", emailID).Warn("Duplicate pre-check failed")
	}
	return false
}
