// Package mbox backfills the archive from mbox files.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/ingest"
)

// Ingester accepts raw emails
type Ingester interface {
	Handle(ctx context.Context, raw []byte) (*ingest.Result, error)
}

// Stats summarises an import run
type Stats struct {
	Total      int
	Stored     int
	Duplicates int
	Failed     int
}

// Importer feeds every message in an mbox through the ingestion path
type Importer struct {
	ingester Ingester
}

// NewImporter creates an Importer
func NewImporter(ingester Ingester) *Importer {
	return &Importer{ingester: ingester}
}

// ImportFile imports the mbox at path
func (i *Importer) ImportFile(ctx context.Context, path string) (Stats, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Stats{}, fmt.Errorf("mbox path is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return i.Import(ctx, file)
}

// Import reads messages from r until EOF. A message that fails to ingest is
// counted and skipped; reading errors stop the run.
func (i *Importer) Import(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	reader := mboxlib.NewReader(r)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read mbox message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return stats, fmt.Errorf("read mbox message %d: %w", idx, err)
		}
		stats.Total++

		result, err := i.ingester.Handle(ctx, raw)
		if err != nil {
			stats.Failed++
			logrus.WithError(err).WithField("index", idx).Warn("Failed to import mbox message")
			continue
		}
		if result.Duplicate {
			stats.Duplicates++
			continue
		}
		stats.Stored++
	}

	logrus.WithFields(logrus.Fields{
		"total":      stats.Total,
		"stored":     stats.Stored,
		"duplicates": stats.Duplicates,
		"failed":     stats.Failed,
	}).Info("Mbox import finished")
	return stats, nil
}
