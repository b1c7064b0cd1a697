package worker

import (
	"context"

	"relaybot/internal/models"
)

type JobType int

const (
	JobRun JobType = iota
	JobStop
)

func (t JobType) String() string {
	switch t {
	case JobRun:
		return "run"
	case JobStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is one unit of work for a single user.
type Job struct {
	Type   JobType
	UserID models.UserID

	ctx  context.Context
	fn   func(context.Context)
	done chan error
}

// finish reports the job result to the waiting caller. done is buffered.
func (j Job) finish(err error) {
	if j.done != nil {
		j.done <- err
	}
}
