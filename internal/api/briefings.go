package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/service"
)

type BriefingHandler struct {
	intake IntakeService
	status StatusService
	logger *slog.Logger
}

func NewBriefingHandler(intake IntakeService, status StatusService, logger *slog.Logger) *BriefingHandler {
	return &BriefingHandler{
		intake: intake,
		status: status,
		logger: logger.With("component", "briefing_handler"),
	}
}

// IntakeResponse is returned with HTTP 200 for every intake call; callers
// branch on Success and ErrorCode.
type IntakeResponse struct {
	Success          bool                 `json:"success"`
	ErrorCode        string               `json:"error_code,omitempty"`
	ErrorMessage     string               `json:"error_message,omitempty"`
	RequestID        string               `json:"request_id,omitempty"`
	JobID            string               `json:"job_id,omitempty"`
	Status           domain.JobStatus     `json:"status,omitempty"`
	Outcome          domain.IntakeOutcome `json:"outcome,omitempty"`
	Created          bool                 `json:"created"`
	EstimatedReadyAt *time.Time           `json:"estimated_ready_at,omitempty"`
}

// POST /v1/briefings
func (h *BriefingHandler) Submit(c *gin.Context) {
	var req service.IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, IntakeResponse{
			ErrorCode:    service.CodeValidationFailed,
			ErrorMessage: "invalid request body: " + err.Error(),
			RequestID:    RequestIDFromContext(c.Request.Context()),
		})
		return
	}

	res, err := h.intake.Submit(c.Request.Context(), req)
	if err != nil {
		code := service.ErrorCode(err)
		msg := err.Error()
		if code == service.CodeInternal {
			h.logger.Error("intake failed", "user_id", req.UserID, "local_date", req.LocalDate, "error", err)
			msg = "internal error"
		}
		c.JSON(http.StatusOK, IntakeResponse{
			ErrorCode:    code,
			ErrorMessage: msg,
			RequestID:    RequestIDFromContext(c.Request.Context()),
		})
		return
	}

	eta := res.EstimatedReadyAt
	RespondOK(c, IntakeResponse{
		Success:          true,
		RequestID:        res.RequestID,
		JobID:            res.JobID,
		Status:           res.Status,
		Outcome:          res.Outcome,
		Created:          res.Outcome == domain.IntakeCreated,
		EstimatedReadyAt: &eta,
	})
}

type StatusResponse struct {
	JobID                string             `json:"job_id,omitempty"`
	Status               service.StatusView `json:"status"`
	AudioURL             *string            `json:"audio_url,omitempty"`
	AudioURLExpiresAt    *time.Time         `json:"audio_url_expires_at,omitempty"`
	AudioDurationSeconds *int               `json:"audio_duration_seconds,omitempty"`
	Transcript           *string            `json:"transcript,omitempty"`
	ErrorCode            *string            `json:"error_code,omitempty"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty"`
}

// GET /v1/briefings/:user_id/:local_date?consume=true
func (h *BriefingHandler) Get(c *gin.Context) {
	consume := false
	if raw := c.Query("consume"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_consume", errors.New("consume must be a boolean"))
			return
		}
		consume = v
	}

	st, err := h.status.Get(c.Request.Context(), c.Param("user_id"), c.Param("local_date"), consume)
	if err != nil {
		h.logger.Error("status lookup failed", "user_id", c.Param("user_id"), "error", err)
		RespondError(c, http.StatusInternalServerError, "status_failed", errors.New("status lookup failed"))
		return
	}

	RespondOK(c, StatusResponse{
		JobID:                st.JobID,
		Status:               st.Status,
		AudioURL:             st.AudioURL,
		AudioURLExpiresAt:    st.AudioURLExpiresAt,
		AudioDurationSeconds: st.AudioDurationSeconds,
		Transcript:           st.Transcript,
		ErrorCode:            st.ErrorCode,
		CompletedAt:          st.CompletedAt,
	})
}

// DELETE /v1/briefings/:user_id/:local_date
func (h *BriefingHandler) Cancel(c *gin.Context) {
	outcome, err := h.intake.Cancel(c.Request.Context(), c.Param("user_id"), c.Param("local_date"))
	if err != nil {
		h.logger.Error("cancel failed", "user_id", c.Param("user_id"), "error", err)
		RespondError(c, http.StatusInternalServerError, "cancel_failed", errors.New("cancel failed"))
		return
	}

	status := http.StatusOK
	switch outcome {
	case service.CancelNotFound:
		status = http.StatusNotFound
	case service.CancelExempt, service.CancelFinished:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"outcome": outcome})
}

type IntakeLogResponse struct {
	RequestID   string               `json:"request_id"`
	LocalDate   string               `json:"local_date"`
	ForceUpdate bool                 `json:"force_update"`
	Welcome     bool                 `json:"welcome"`
	Outcome     domain.IntakeOutcome `json:"outcome"`
	JobID       *string              `json:"job_id,omitempty"`
	ErrorCode   *string              `json:"error_code,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// GET /internal/intake-log/:user_id?limit=50
func (h *BriefingHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = v
	}

	entries, err := h.intake.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		h.logger.Error("intake history failed", "user_id", c.Param("user_id"), "error", err)
		RespondError(c, http.StatusInternalServerError, "history_failed", errors.New("intake history failed"))
		return
	}

	resp := make([]IntakeLogResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, IntakeLogResponse{
			RequestID:   e.RequestID,
			LocalDate:   e.LocalDate,
			ForceUpdate: e.ForceUpdate,
			Welcome:     e.Welcome,
			Outcome:     e.Outcome,
			JobID:       e.JobID,
			ErrorCode:   e.ErrorCode,
			CreatedAt:   e.CreatedAt,
		})
	}
	RespondOK(c, gin.H{"user_id": c.Param("user_id"), "entries": resp})
}
