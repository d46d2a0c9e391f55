package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	// WebhookPath is the route inbound email providers post to
	WebhookPath        = "/webhook/inbound"
	messageField       = "message"
	multipartMemory    = 32 << 20
	noMessageError     = "No message field"
	processFailedError = "Failed to process email"
)

var errNoMessage = errors.New("no message field")

// InboundWebhook accepts a raw MIME email in the "message" form field
func (h *Handlers) InboundWebhook(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}

	raw, err := readMessageField(c)
	if err != nil {
		logrus.WithError(err).Warn("Rejected inbound webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": noMessageError})
		return
	}

	result, err := h.ingester.Handle(c.Request.Context(), raw)
	if err != nil {
		logrus.WithError(err).Error("Failed to ingest inbound email")
		c.JSON(http.StatusInternalServerError, gin.H{"error": processFailedError})
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"emailId": result.EmailID,
			"note":    "duplicate",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"emailId":    result.EmailID,
		"storageKey": result.StorageKey,
	})
}

// readMessageField returns the message field as a text value or file part.
// URL-encoded bodies are accepted as well as multipart ones.
func readMessageField(c *gin.Context) ([]byte, error) {
	err := c.Request.ParseMultipartForm(multipartMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}

	if form := c.Request.MultipartForm; form != nil {
		if values := form.Value[messageField]; len(values) > 0 && values[0] != "" {
			return []byte(values[0]), nil
		}
		if files := form.File[messageField]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return nil, err
			}
			if len(data) > 0 {
				return data, nil
			}
		}
		return nil, errNoMessage
	}

	if value := c.Request.PostFormValue(messageField); value != "" {
		return []byte(value), nil
	}
	return nil, errNoMessage
}

// Recover answers a request whose handler panicked. Webhook callers get the
// same body as any other processing failure.
func (h *Handlers) Recover(c *gin.Context, recovered any) {
	logrus.WithFields(logrus.Fields{
		"panic": recovered,
		"path":  c.Request.URL.Path,
	}).Error("Recovered from panic in HTTP handler")

	if c.FullPath() == WebhookPath {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": processFailedError})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "Internal server error",
		Code:    http.StatusInternalServerError,
	})
}
