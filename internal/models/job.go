package models

import "encoding/json"

type JobState string

const (
	JobPending  JobState = "PENDING"
	JobProgress JobState = "PROGRESS"
	JobSuccess  JobState = "SUCCESS"
	JobFailure  JobState = "FAILURE"
)

// JobStatus is the polled view of a background task.
type JobStatus struct {
	TaskID   string          `json:"task_id"`
	State    JobState        `json:"state"`
	Result   json.RawMessage `json:"result,omitempty"`
	Progress json.RawMessage `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
}
