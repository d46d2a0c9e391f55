package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"mail-archiver-go/internal/model"
)

var (
	// ErrNotFound is returned when no ledger row exists for an id
	ErrNotFound = errors.New("email record not found")
	// ErrConstraintViolation is returned when an insert hits the unique id
	ErrConstraintViolation = errors.New("email record already exists")
	// ErrInvalidTransition is returned when a status update would leave a terminal state
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
	defaultPendingLimit = 100
	maxListLimit        = 1000
)

// Ledger tracks the processing state of every ingested email
type Ledger interface {
	Insert(ctx context.Context, rec *model.EmailRecord) error
	Get(ctx context.Context, id string) (*model.EmailRecord, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time) error
	ListPending(ctx context.Context, receivedBefore time.Time, limit int) ([]model.EmailRecord, error)
	List(ctx context.Context, status model.EmailStatus, limit int) ([]model.EmailRecord, error)
	Ping(ctx context.Context) error
}

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert creates a pending row. A duplicate id is reported as
// ErrConstraintViolation, decided by the database's unique key.
func (r *Repository) Insert(ctx context.Context, rec *model.EmailRecord) error {
	if rec.Status == "" {
		rec.Status = model.StatusPending
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	rec.ReceivedAt = rec.ReceivedAt.UTC()
	result := r.db.WithContext(ctx).Create(rec)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrConstraintViolation
		}
		return fmt.Errorf("failed to insert email record: %w", result.Error)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*model.EmailRecord, error) {
	var rec model.EmailRecord
	result := r.db.WithContext(ctx).Where("id = ?", id).Take(&rec)
	if result.Error == nil {
		return &rec, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("database error fetching email record: %w", result.Error)
}

// MarkCompleted moves a pending row to completed. Completing an already
// completed row is a no-op and keeps its original processed_at.
func (r *Repository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, model.StatusCompleted, at)
}

// MarkFailed moves a pending row to failed
func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, model.StatusFailed, at)
}

func (r *Repository) transition(ctx context.Context, id string, to model.EmailStatus, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.EmailRecord{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"status":       to,
			"processed_at": at.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark email %s: %w", to, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

// ListPending returns pending rows received before the cutoff, oldest first
func (r *Repository) ListPending(ctx context.Context, receivedBefore time.Time, limit int) ([]model.EmailRecord, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	var recs []model.EmailRecord
	result := r.db.WithContext(ctx).
		Where("status = ? AND received_at < ?", model.StatusPending, receivedBefore.UTC()).
		Order("received_at ASC").
		Limit(limit).
		Find(&recs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list pending emails: %w", result.Error)
	}
	return recs, nil
}

// List returns the most recent rows, optionally filtered by status
func (r *Repository) List(ctx context.Context, status model.EmailStatus, limit int) ([]model.EmailRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultPendingLimit
	}
	q := r.db.WithContext(ctx).Order("received_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var recs []model.EmailRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return recs, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// isUniqueViolation classifies driver errors by code, never by message text
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return false
}
