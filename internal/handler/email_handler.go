package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/model"
	"mail-archiver-go/internal/repository"
)

// GetEmails lists ledger rows, newest first, optionally filtered by status
func (h *Handlers) GetEmails(c *gin.Context) {
	status := model.EmailStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_status",
			Message: "Status must be pending, completed or failed",
			Code:    http.StatusBadRequest,
		})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "Limit must be a positive integer",
				Code:    http.StatusBadRequest,
			})
			return
		}
		limit = parsed
	}

	recs, err := h.ledger.List(c.Request.Context(), status, limit)
	if err != nil {
		logrus.Errorf("Failed to list emails: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve emails",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := make([]EmailResponse, 0, len(recs))
	for _, rec := range recs {
		response = append(response, newEmailResponse(rec))
	}
	c.JSON(http.StatusOK, response)
}

// GetEmail returns one ledger row. The id is the rest of the path since
// Message-IDs may contain slashes.
func (h *Handlers) GetEmail(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	if id == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Email ID is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	rec, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Email not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		logrus.Errorf("Failed to get email %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to retrieve email",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, newEmailResponse(*rec))
}
