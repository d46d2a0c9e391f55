// Package identity derives the ledger identity and blob storage key for an
// inbound email.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	keyPrefix    = "emails/"
	keyExtension = ".eml"
	dateLayout   = "2006-01-02"

	// MaxEmailIDLength is the widest id the ledger column holds. It is the
	// largest utf8mb4 varchar InnoDB accepts as a primary key.
	MaxEmailIDLength = 768
	digestIDPrefix   = "sha256:"
)

// Identity is the logical id of an email plus the blob key its raw bytes live under
type Identity struct {
	EmailID    string
	StorageKey string
}

// Deriver computes identities. Now and NewID are replaceable for tests.
type Deriver struct {
	Now   func() time.Time
	NewID func() string
}

// NewDeriver returns a Deriver using the wall clock and random UUIDs
func NewDeriver() *Deriver {
	return &Deriver{
		Now:   time.Now,
		NewID: func() string { return uuid.New().String() },
	}
}

// Derive returns the identity for an email with the given Message-ID header.
// A present Message-ID is kept verbatim as EmailID; an empty one yields a fresh
// random id, so such emails are never deduplicated. A Message-ID longer than
// MaxEmailIDLength bytes is replaced by "sha256:" and its hex digest.
func (d *Deriver) Derive(messageID string) Identity {
	emailID := strings.TrimSpace(messageID)
	switch {
	case emailID == "":
		emailID = d.NewID()
	case len(emailID) > MaxEmailIDLength:
		emailID = digestIDPrefix + PathComponent(emailID)
	}
	return Identity{
		EmailID:    emailID,
		StorageKey: StorageKey(d.Now(), emailID),
	}
}

// StorageKey builds emails/<date>/<digest>.eml. The email id is hashed so that
// header bytes never reach the storage path.
func StorageKey(at time.Time, emailID string) string {
	return keyPrefix + at.UTC().Format(dateLayout) + "/" + PathComponent(emailID) + keyExtension
}

// PathComponent returns the hex SHA-256 of emailID
func PathComponent(emailID string) string {
	sum := sha256.Sum256([]byte(emailID))
	return hex.EncodeToString(sum[:])
}
