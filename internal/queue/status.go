package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/tenantkit/internal/models"
)

// TaskInspector is the part of *asynq.Inspector the status lookup needs.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

type StatusReader struct {
	inspector TaskInspector
}

func NewStatusReader(inspector TaskInspector) *StatusReader {
	return &StatusReader{inspector: inspector}
}

// Status maps the queue's view of a demo task to a polled job status. An
// unknown id reads as PENDING, as does anything not yet started.
func (s *StatusReader) Status(taskID string) (*models.JobStatus, error) {
	status := &models.JobStatus{TaskID: taskID, State: models.JobPending}

	info, err := s.inspector.GetTaskInfo(QueueDefault, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return status, nil
		}
		return nil, fmt.Errorf("get task info %s: %w", taskID, err)
	}

	switch info.State {
	case asynq.TaskStateCompleted:
		status.State = models.JobSuccess
		status.Result = rawOrNull(info.Result)
	case asynq.TaskStateArchived:
		status.State = models.JobFailure
		status.Error = info.LastErr
	case asynq.TaskStateActive:
		if len(info.Result) > 0 {
			status.State = models.JobProgress
			status.Progress = rawOrNull(info.Result)
		} else {
			status.State = models.JobPending
		}
	}
	return status, nil
}

func rawOrNull(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
