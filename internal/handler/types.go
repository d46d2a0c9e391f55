package handler

import (
	"time"

	"mail-archiver-go/internal/model"
)

// EmailResponse represents a ledger row in API responses
type EmailResponse struct {
	ID          string              `json:"id"`
	StorageKey  string              `json:"storage_key"`
	Status      model.EmailStatus   `json:"status"`
	ReceivedAt  time.Time           `json:"received_at"`
	ProcessedAt *time.Time          `json:"processed_at"`
	Metadata    model.EmailMetadata `json:"metadata"`
}

func newEmailResponse(rec model.EmailRecord) EmailResponse {
	return EmailResponse{
		ID:          rec.ID,
		StorageKey:  rec.StorageKey,
		Status:      rec.Status,
		ReceivedAt:  rec.ReceivedAt,
		ProcessedAt: rec.ProcessedAt,
		Metadata:    rec.Metadata.Data(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Queue     string            `json:"queue"`
	Scheduler map[string]string `json:"scheduler,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
