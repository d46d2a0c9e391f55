package drive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu          sync.Mutex
	server      *httptest.Server
	startStatus int
	putStatus   int
	noUploads   bool
	put         []byte
	putCalls    int
	finish      finishRequest
	finishCalls int
	startBody   startRequest
	authHeaders []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{startStatus: http.StatusOK, putStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/buckets/bucket-1/files/start", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.authHeaders = append(p.authHeaders, r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "1", r.URL.Query().Get("multiparts"))
		assert.Equal(t, "drive-web", r.Header.Get("internxt-client"))
		_ = json.NewDecoder(r.Body).Decode(&p.startBody)
		if p.startStatus != http.StatusOK {
			w.WriteHeader(p.startStatus)
			_, _ = w.Write([]byte("start rejected"))
			return
		}
		resp := startResponse{}
		if !p.noUploads {
			resp.Uploads = []SignedUpload{{Index: 0, UUID: "shard-uuid", URL: p.server.URL + "/signed/put"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/signed/put", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		p.putCalls++
		p.put, _ = io.ReadAll(r.Body)
		w.WriteHeader(p.putStatus)
	})
	mux.HandleFunc("/v2/buckets/bucket-1/files/finish", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.authHeaders = append(p.authHeaders, r.Header.Get("Authorization"))
		p.finishCalls++
		_ = json.NewDecoder(r.Body).Decode(&p.finish)
		_, _ = w.Write([]byte(`{"id":"file-1"}`))
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) client() *Client {
	return NewWithHTTPClient(Config{
		APIURL:    p.server.URL + "/",
		BucketID:  "bucket-1",
		AuthToken: "Basic dG9rZW4=",
	}, p.server.Client())
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestUploadSuccess(t *testing.T) {
	p := newFakeProvider(t)
	data := []byte("From: a@example.com\r\nSubject: hi\r\n\r\nbody\r\n")

	res, err := p.client().Upload(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, "shard-uuid", res.UUID)
	assert.Equal(t, len(data), res.Size)
	assert.Equal(t, sha256Hex(data), res.Hash)
	assert.JSONEq(t, `{"id":"file-1"}`, string(res.Response))

	assert.Equal(t, data, p.put)
	assert.Equal(t, []uploadSlot{{Index: 0, Size: len(data)}}, p.startBody.Uploads)
	assert.Equal(t, sha256Hex(p.put), p.finish.Index)
	require.Len(t, p.finish.Shards, 1)
	assert.Equal(t, sha256Hex(p.put), p.finish.Shards[0].Hash)
	assert.Equal(t, "shard-uuid", p.finish.Shards[0].UUID)
	assert.Equal(t, []string{"Basic dG9rZW4=", "Basic dG9rZW4="}, p.authHeaders)
}

func TestUploadEmptyContent(t *testing.T) {
	p := newFakeProvider(t)

	res, err := p.client().Upload(context.Background(), []byte{})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Size)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", res.Hash)
	assert.Equal(t, res.Hash, p.finish.Index)
	assert.Equal(t, 1, p.putCalls)
	assert.Empty(t, p.put)
}

func TestUploadStartFailure(t *testing.T) {
	p := newFakeProvider(t)
	p.startStatus = http.StatusUnauthorized

	_, err := p.client().Upload(context.Background(), []byte("data"))
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "start", statusErr.Step)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "start rejected", statusErr.Body)
	assert.Equal(t, 0, p.putCalls)
	assert.Equal(t, 0, p.finishCalls)
}

func TestUploadNoUploads(t *testing.T) {
	p := newFakeProvider(t)
	p.noUploads = true

	_, err := p.client().Upload(context.Background(), []byte("data"))
	assert.ErrorIs(t, err, ErrNoUploads)
	assert.Equal(t, 0, p.putCalls)
}

func TestUploadTransferFailure(t *testing.T) {
	p := newFakeProvider(t)
	p.putStatus = http.StatusForbidden

	_, err := p.client().Upload(context.Background(), []byte("data"))
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "transfer", statusErr.Step)
	assert.Equal(t, 0, p.finishCalls)
}

func TestUploadCancelledContext(t *testing.T) {
	p := newFakeProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.client().Upload(ctx, []byte("data"))
	assert.ErrorIs(t, err, context.Canceled)
}
