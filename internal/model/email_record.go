package model

import (
	"time"

	"gorm.io/datatypes"
)

// EmailStatus is the processing state of an ingested email
type EmailStatus string

const (
	StatusPending   EmailStatus = "pending"
	StatusCompleted EmailStatus = "completed"
	StatusFailed    EmailStatus = "failed"
)

// Valid reports whether s is a known status
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s
func (s EmailStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EmailRecord is the ledger row tracking one logical inbound email.
// ID is unique and doubles as the deduplication key for webhook redeliveries.
// Ids are at most identity.MaxEmailIDLength bytes.
type EmailRecord struct {
	ID          string                            `json:"id" gorm:"primaryKey;type:varchar(768)"`
	StorageKey  string                            `json:"storage_key" gorm:"type:varchar(255);not null"`
	Status      EmailStatus                       `json:"status" gorm:"type:varchar(16);not null;default:pending;index"`
	ReceivedAt  time.Time                         `json:"received_at" gorm:"not null;index"`
	ProcessedAt *time.Time                        `json:"processed_at"`
	Metadata    datatypes.JSONType[EmailMetadata] `json:"metadata"`
}

// TableName specifies the table name for EmailRecord
func (EmailRecord) TableName() string {
	return "email_inbox"
}

// EmailMetadata holds the header fields extracted at ingestion time
type EmailMetadata struct {
	From            []string   `json:"from"`
	To              []string   `json:"to"`
	Cc              []string   `json:"cc,omitempty"`
	Subject         string     `json:"subject"`
	Date            *time.Time `json:"date,omitempty"`
	AttachmentCount int        `json:"attachment_count"`
	InReplyTo       []string   `json:"in_reply_to,omitempty"`
	References      []string   `json:"references,omitempty"`
}
