package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"briefing_scheduler/internal/domain"
)

type ContentHandler struct {
	content ContentService
	logger  *slog.Logger
}

func NewContentHandler(content ContentService, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{
		content: content,
		logger:  logger.With("component", "content_handler"),
	}
}

type appendContentRequest struct {
	ContentType string          `json:"content_type" binding:"required,oneof=news stocks sports"`
	Source      string          `json:"source" binding:"required"`
	Data        json.RawMessage `json:"data" binding:"required"`
}

// POST /internal/content
func (h *ContentHandler) Append(c *gin.Context) {
	var req appendContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	entry, err := h.content.Append(c.Request.Context(), domain.ContentType(req.ContentType), req.Source, req.Data)
	if err != nil {
		h.logger.Error("content append failed", "content_type", req.ContentType, "source", req.Source, "error", err)
		RespondError(c, http.StatusInternalServerError, "append_failed", errors.New("append failed"))
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// GET /internal/content?types=news,sports
//
// Without types every content type is returned.
func (h *ContentHandler) Fresh(c *gin.Context) {
	types := domain.ContentTypes
	if raw := c.Query("types"); raw != "" {
		types = nil
		for _, part := range strings.Split(raw, ",") {
			t, err := domain.ParseContentType(strings.TrimSpace(part))
			if err != nil {
				RespondError(c, http.StatusBadRequest, "invalid_content_type", err)
				return
			}
			types = append(types, t)
		}
	}

	fresh, err := h.content.Fresh(c.Request.Context(), types)
	if err != nil {
		h.logger.Error("content lookup failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "content_failed", errors.New("content lookup failed"))
		return
	}
	if fresh == nil {
		fresh = domain.FreshContent{}
	}
	RespondOK(c, gin.H{"content": fresh})
}

// GET /internal/content/freshness
func (h *ContentHandler) Freshness(c *gin.Context) {
	report, err := h.content.Freshness(c.Request.Context())
	if err != nil {
		h.logger.Error("freshness report failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "freshness_failed", errors.New("freshness report failed"))
		return
	}
	RespondOK(c, gin.H{"types": report})
}
