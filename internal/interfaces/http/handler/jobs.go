package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/xpgateway/backend/internal/infrastructure/scheduler"
	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

// JobRunner lists and triggers scheduled maintenance jobs
type JobRunner interface {
	Jobs() []scheduler.JobState
	RunNow(ctx context.Context, name string) error
}

// JobHandler serves the maintenance job endpoints
type JobHandler struct {
	BaseHandler
	jobs JobRunner
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobRunner) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// List godoc
// @ID           listJobs
// @Summary      List maintenance jobs
// @Tags         jobs
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} APIResponse[[]dto.JobResponse]
// @Router       /jobs [get]
func (h *JobHandler) List(c *gin.Context) {
	states := h.jobs.Jobs()
	out := make([]dto.JobResponse, 0, len(states))
	for _, s := range states {
		out = append(out, jobResponse(s))
	}
	h.Success(c, out)
}

// Run godoc
// @ID           runJob
// @Summary      Run a maintenance job now
// @Description  Runs the job synchronously and returns its updated state
// @Tags         jobs
// @Produce      json
// @Security     BearerAuth
// @Param        name path string true "Job name"
// @Success      200 {object} APIResponse[dto.JobResponse]
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /jobs/{name}/run [post]
func (h *JobHandler) Run(c *gin.Context) {
	name := c.Param("name")
	if err := h.jobs.RunNow(c.Request.Context(), name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			h.NotFound(c, "Job not found")
			return
		}
		_ = c.Error(err)
		h.InternalError(c, "Job "+name+" failed")
		return
	}
	for _, s := range h.jobs.Jobs() {
		if s.Name == name {
			h.Success(c, jobResponse(s))
			return
		}
	}
	h.NotFound(c, "Job not found")
}

func jobResponse(s scheduler.JobState) dto.JobResponse {
	return dto.JobResponse{
		Name:         s.Name,
		Schedule:     s.Schedule,
		Status:       string(s.Status),
		Runs:         s.Runs,
		Failures:     s.Failures,
		LastRun:      s.LastRun,
		LastDuration: s.LastDuration.String(),
		LastError:    s.LastError,
		NextRun:      s.NextRun,
	}
}
