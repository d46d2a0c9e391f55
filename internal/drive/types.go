package drive

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoUploads is returned when the start step yields no upload slot
var ErrNoUploads = errors.New("drive: no uploads in start response")

// Config holds the storage provider endpoint and credentials
type Config struct {
	APIURL    string        `mapstructure:"api_url"`
	BucketID  string        `mapstructure:"bucket_id"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StatusError reports a non-2xx response from one of the upload steps
type StatusError struct {
	Step       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("drive %s failed (HTTP %d): %s", e.Step, e.StatusCode, e.Body)
}

// UploadResult describes a finished upload
type UploadResult struct {
	UUID     string
	Hash     string
	Size     int
	Response json.RawMessage
}

type startRequest struct {
	Uploads []uploadSlot `json:"uploads"`
}

type uploadSlot struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

type startResponse struct {
	Uploads []SignedUpload `json:"uploads"`
}

// SignedUpload is an upload slot returned by the start step
type SignedUpload struct {
	Index int    `json:"index"`
	UUID  string `json:"uuid"`
	URL   string `json:"url"`
}

type finishRequest struct {
	Index  string  `json:"index"`
	Shards []shard `json:"shards"`
}

type shard struct {
	Hash string `json:"hash"`
	UUID string `json:"uuid"`
}
