package mbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-archiver-go/internal/ingest"
)

const sampleMbox = "From alice@example.com Mon Jan  1 00:00:00 2024\n" +
	"Message-ID: <one@x>\n" +
	"Subject: first\n" +
	"\n" +
	"hello\n" +
	"\n" +
	"From bob@example.com Mon Jan  1 00:01:00 2024\n" +
	"Message-ID: <two@x>\n" +
	"Subject: second\n" +
	"\n" +
	"world\n" +
	"\n" +
	"From carol@example.com Mon Jan  1 00:02:00 2024\n" +
	"Message-ID: <one@x>\n" +
	"Subject: first again\n" +
	"\n" +
	"hello\n"

type recordingIngester struct {
	seen map[string]bool
	raws []string
	fail string
}

func (r *recordingIngester) Handle(_ context.Context, raw []byte) (*ingest.Result, error) {
	text := string(raw)
	r.raws = append(r.raws, text)
	if r.fail != "" && strings.Contains(text, r.fail) {
		return nil, errors.New("ingest failed")
	}
	id := "<one@x>"
	if strings.Contains(text, "<two@x>") {
		id = "<two@x>"
	}
	if r.seen[id] {
		return &ingest.Result{EmailID: id, Duplicate: true}, nil
	}
	r.seen[id] = true
	return &ingest.Result{EmailID: id}, nil
}

func TestImportCountsOutcomes(t *testing.T) {
	ing := &recordingIngester{seen: map[string]bool{}}

	stats, err := NewImporter(ing).Import(context.Background(), strings.NewReader(sampleMbox))
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 3, Stored: 2, Duplicates: 1}, stats)
	require.Len(t, ing.raws, 3)
	assert.Contains(t, ing.raws[0], "Subject: first")
	assert.NotContains(t, ing.raws[0], "From alice@example.com Mon")
}

func TestImportSkipsFailures(t *testing.T) {
	ing := &recordingIngester{seen: map[string]bool{}, fail: "second"}

	stats, err := NewImporter(ing).Import(context.Background(), strings.NewReader(sampleMbox))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Stored)
}

func TestImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(sampleMbox), 0o644))

	stats, err := NewImporter(&recordingIngester{seen: map[string]bool{}}).ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)

	_, err = NewImporter(nil).ImportFile(context.Background(), " ")
	assert.Error(t, err)
}

func TestImportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImporter(&recordingIngester{seen: map[string]bool{}}).Import(ctx, strings.NewReader(sampleMbox))
	assert.ErrorIs(t, err, context.Canceled)
}
