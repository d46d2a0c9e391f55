// Package parser extracts the header metadata the archive ledger records for
// an inbound MIME message.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/model"
)

// ErrEmptyMessage is returned for a zero-length payload
var ErrEmptyMessage = errors.New("empty message")

// ParsedEmail is the result of parsing a raw MIME message
type ParsedEmail struct {
	// MessageID is the raw Message-ID header value, angle brackets included
	MessageID string
	Metadata  model.EmailMetadata
}

// Parse reads the headers of raw and walks its parts to count attachments.
// The body content itself is discarded.
func Parse(raw []byte) (*ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !isLenient(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if mr == nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	header := mr.Header
	parsed := &ParsedEmail{
		MessageID: strings.TrimSpace(header.Get("Message-Id")),
		Metadata: model.EmailMetadata{
			From:       addressList(&header, "From"),
			To:         addressList(&header, "To"),
			Cc:         addressList(&header, "Cc"),
			Subject:    subject(&header),
			InReplyTo:  msgIDList(&header, "In-Reply-To"),
			References: msgIDList(&header, "References"),
		},
	}

	if date, err := header.Date(); err == nil && !date.IsZero() {
		parsed.Metadata.Date = &date
	}

	count, err := countAttachments(mr)
	if err != nil {
		return nil, fmt.Errorf("failed to read message parts: %w", err)
	}
	parsed.Metadata.AttachmentCount = count

	return parsed, nil
}

// countAttachments drains every part and counts those with an attachment
// disposition
func countAttachments(mr *mail.Reader) (int, error) {
	count := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return count, nil
		}
		if err != nil && !isLenient(err) {
			return count, err
		}
		if part == nil {
			continue
		}
		if _, ok := part.Header.(*mail.AttachmentHeader); ok {
			count++
		}
	}
}

// isLenient reports errors for which go-message still hands back a usable
// entity
func isLenient(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func subject(h *mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		logrus.Debugf("Falling back to raw subject: %v", err)
		return h.Get("Subject")
	}
	return s
}

func addressList(h *mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		if raw := strings.TrimSpace(h.Get(key)); raw != "" {
			logrus.Debugf("Keeping unparsable %s header verbatim: %v", key, err)
			return []string{raw}
		}
		return nil
	}
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func msgIDList(h *mail.Header, key string) []string {
	ids, err := h.MsgIDList(key)
	if err != nil || len(ids) == 0 {
		return nil
	}
	return ids
}
