package models

import "time"

// JobLogEntry is one operational log record of a pipeline run, persisted in
// the embedded store and served by GET /api/projects/{id}/job/logs. JobID is
// the badgerhold query field.
type JobLogEntry struct {
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Step      Step      `json:"step,omitempty"`
	Message   string    `json:"message"`
}
