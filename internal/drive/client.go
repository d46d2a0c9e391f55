package drive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Client talks to the storage provider's three-step signed upload API.
// It performs no retries; callers decide what to do with a failure.
type Client struct {
	apiURL     string
	bucketID   string
	authToken  string
	httpClient *http.Client
}

// New creates a Client from cfg
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewWithHTTPClient(cfg, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient creates a Client that uses the given http.Client
func NewWithHTTPClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		bucketID:   cfg.BucketID,
		authToken:  cfg.AuthToken,
		httpClient: httpClient,
	}
}

// Upload starts an upload for data, PUTs it to the signed URL and finishes
// it with the SHA-256 of exactly the bytes sent.
func (c *Client) Upload(ctx context.Context, data []byte) (*UploadResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	slot, err := c.Start(ctx, len(data))
	if err != nil {
		return nil, err
	}

	if err := c.Transfer(ctx, slot.URL, data); err != nil {
		return nil, err
	}

	resp, err := c.Finish(ctx, hash, hash, slot.UUID)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"uuid": slot.UUID,
		"hash": hash,
		"size": len(data),
	}).Debug("Finished upload")

	return &UploadResult{
		UUID:     slot.UUID,
		Hash:     hash,
		Size:     len(data),
		Response: resp,
	}, nil
}

// Start requests a signed upload slot for a single part of size bytes
func (c *Client) Start(ctx context.Context, size int) (*SignedUpload, error) {
	url := fmt.Sprintf("%s/v2/buckets/%s/files/start?multiparts=1", c.apiURL, c.bucketID)
	body, err := json.Marshal(startRequest{Uploads: []uploadSlot{{Index: 0, Size: size}}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start request: %w", err)
	}

	respBody, err := c.doJSON(ctx, "start", url, body)
	if err != nil {
		return nil, err
	}

	var parsed startResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode start response: %w", err)
	}
	if len(parsed.Uploads) == 0 {
		return nil, ErrNoUploads
	}
	return &parsed.Uploads[0], nil
}

// Transfer PUTs data to a signed URL
func (c *Client) Transfer(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError("transfer", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Finish commits an upload. The provider expects the file index and the
// shard hash, which are the same value for single-part uploads.
func (c *Client) Finish(ctx context.Context, index, hash, uuid string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/v2/buckets/%s/files/finish", c.apiURL, c.bucketID)
	body, err := json.Marshal(finishRequest{
		Index:  index,
		Shards: []shard{{Hash: hash, UUID: uuid}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal finish request: %w", err)
	}

	respBody, err := c.doJSON(ctx, "finish", url, body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(respBody), nil
}

func (c *Client) doJSON(ctx context.Context, step, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("internxt-version", "1.0")
	req.Header.Set("internxt-client", "drive-web")
	req.Header.Set("Authorization", c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(step, resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", step, err)
	}
	return respBody, nil
}

func newStatusError(step string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Step:       step,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
