package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"briefing_scheduler/internal/domain"
)

// JobHandler exposes the claim protocol to out-of-process workers.
type JobHandler struct {
	queue  QueueService
	logger *slog.Logger
}

func NewJobHandler(queue QueueService, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		queue:  queue,
		logger: logger.With("component", "job_handler"),
	}
}

type JobResponse struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	LocalDate   string             `json:"local_date"`
	Timezone    string             `json:"timezone"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	Priority    int                `json:"priority"`
	IsWelcome   bool               `json:"is_welcome"`
	Status      domain.JobStatus   `json:"status"`
	Attempt     int                `json:"attempt"`
	WorkerID    *string            `json:"worker_id,omitempty"`
	LeaseUntil  *time.Time         `json:"lease_until,omitempty"`
	Preferences domain.Preferences `json:"preferences"`
	AudioPath   *string            `json:"audio_path,omitempty"`
	ErrorCode   *string            `json:"error_code,omitempty"`
}

func newJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:          job.ID,
		UserID:      job.UserID,
		LocalDate:   job.LocalDate,
		Timezone:    job.Timezone,
		ScheduledAt: job.ScheduledAt,
		Priority:    job.Priority,
		IsWelcome:   job.IsWelcome,
		Status:      job.Status,
		Attempt:     job.AttemptCount,
		WorkerID:    job.WorkerID,
		LeaseUntil:  job.LeaseUntil,
		Preferences: job.Preferences,
		AudioPath:   job.AudioPath,
		ErrorCode:   job.ErrorCode,
	}
}

type claimRequest struct {
	WorkerID string `json:"worker_id" binding:"required,max=128"`
	JobID    string `json:"job_id" binding:"omitempty,uuid"`
}

// POST /internal/jobs/claim
//
// Responds 204 when nothing is eligible and 404 when a named job does not
// exist.
func (h *JobHandler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	var (
		job *domain.Job
		err error
	)
	if req.JobID != "" {
		job, err = h.queue.ClaimByID(c.Request.Context(), req.JobID, req.WorkerID)
	} else {
		job, err = h.queue.ClaimNext(c.Request.Context(), req.WorkerID)
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		RespondError(c, http.StatusNotFound, "job_not_found", domain.ErrJobNotFound)
		return
	}
	if err != nil {
		h.logger.Error("claim failed", "worker_id", req.WorkerID, "error", err)
		RespondError(c, http.StatusInternalServerError, "claim_failed", errors.New("claim failed"))
		return
	}
	if job == nil {
		c.Status(http.StatusNoContent)
		return
	}
	RespondOK(c, gin.H{"job": newJobResponse(job)})
}

type leaseRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
	Attempt  int    `json:"attempt" binding:"min=1"`
}

func (r leaseRequest) lease(jobID string) domain.Lease {
	return domain.Lease{JobID: jobID, WorkerID: r.WorkerID, Attempt: r.Attempt}
}

type completeRequest struct {
	leaseRequest
	Script               string  `json:"script"`
	AudioPath            string  `json:"audio_path" binding:"required"`
	AudioDurationSeconds int     `json:"audio_duration_seconds" binding:"min=0"`
	Transcript           string  `json:"transcript"`
	GenerationCost       float64 `json:"generation_cost" binding:"min=0"`
}

// POST /internal/jobs/:job_id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	job, err := h.queue.Complete(c.Request.Context(), req.lease(c.Param("job_id")), domain.Result{
		Script:               req.Script,
		AudioPath:            req.AudioPath,
		AudioDurationSeconds: req.AudioDurationSeconds,
		Transcript:           req.Transcript,
		GenerationCost:       req.GenerationCost,
	})
	if err != nil {
		h.respondReportError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": newJobResponse(job)})
}

type failRequest struct {
	leaseRequest
	ErrorCode    string `json:"error_code" binding:"required,max=64"`
	ErrorMessage string `json:"error_message"`
}

// POST /internal/jobs/:job_id/fail
func (h *JobHandler) Fail(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	job, err := h.queue.Fail(c.Request.Context(), req.lease(c.Param("job_id")), domain.Failure{
		Code:    req.ErrorCode,
		Message: req.ErrorMessage,
	})
	if err != nil {
		h.respondReportError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": newJobResponse(job)})
}

func (h *JobHandler) respondReportError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrLeaseLost) {
		RespondError(c, http.StatusConflict, "lease_lost", domain.ErrLeaseLost)
		return
	}
	h.logger.Error("outcome report failed", "job_id", c.Param("job_id"), "error", err)
	RespondError(c, http.StatusInternalServerError, "report_failed", errors.New("report failed"))
}

// POST /internal/jobs/reclaim
func (h *JobHandler) Reclaim(c *gin.Context) {
	stats, err := h.queue.Reclaim(c.Request.Context())
	if err != nil {
		h.logger.Error("reclaim failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "reclaim_failed", errors.New("reclaim failed"))
		return
	}
	RespondOK(c, gin.H{
		"count":    stats.Total(),
		"requeued": emptyIfNil(stats.Requeued),
		"failed":   emptyIfNil(stats.Failed),
	})
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
