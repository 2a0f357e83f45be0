package core

import "time"

// RunStatus represents the status of an extraction run.
type RunStatus string

// Run status values.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of a study definition against an event store.
type Run struct {
	ID          string
	Study       string
	Dummy       bool
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Evaluated   int64
	Included    int64
	Error       string
}

// RunStore records run history.
type RunStore interface {
	Close() error

	CreateRun(study string, dummy bool) (*Run, error)
	CompleteRun(id string, status RunStatus, evaluated, included int64, errMsg string) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)
}
