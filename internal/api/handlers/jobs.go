package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nikhilbhutani/tenantkit/internal/models"
	"github.com/nikhilbhutani/tenantkit/internal/queue"
	"github.com/nikhilbhutani/tenantkit/internal/respond"
)

type DemoEnqueuer interface {
	EnqueueDemo(ctx context.Context, kind string) (*queue.DemoTask, error)
}

type JobStatusReader interface {
	Status(taskID string) (*models.JobStatus, error)
}

type JobHandler struct {
	jobs   DemoEnqueuer
	status JobStatusReader
}

func NewJobHandler(jobs DemoEnqueuer, status JobStatusReader) *JobHandler {
	return &JobHandler{jobs: jobs, status: status}
}

func (h *JobHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	task, err := h.jobs.EnqueueDemo(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		if errors.Is(err, queue.ErrUnknownDemo) {
			respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid task type"})
			return
		}
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, task)
}

func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(chi.URLParam(r, "taskID"))
	if err != nil {
		respond.Error(w, r, err, http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}
