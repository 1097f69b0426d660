package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/voyagen/guidevault/internal/models"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("a job is already active for this target")

// ErrPollExhausted is returned by Poll when maxAttempts checks did not
// observe completion.
var ErrPollExhausted = errors.New("jobs: polling attempts exhausted")

// ConflictError rejects a job or edit because the target has an active job.
type ConflictError struct {
	Target      models.Target
	ActiveJobID int64 // 0 when the holder is unknown (lock held elsewhere)
}

func (e *ConflictError) Error() string {
	if e.ActiveJobID != 0 {
		return fmt.Sprintf("%s: job %d is already active", e.Target, e.ActiveJobID)
	}
	return fmt.Sprintf("%s: a job is already active", e.Target)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StuckJobError describes a job failed by the reaper. It is only ever
// reported through a ReapReport and the failed job's error text.
type StuckJobError struct {
	JobID  int64            `json:"job_id"`
	Type   models.JobType   `json:"type"`
	Status models.JobStatus `json:"status"`
	Idle   time.Duration    `json:"idle_ns"`
}

func (e *StuckJobError) Error() string {
	return fmt.Sprintf("%s job %d stuck in %s for %s; reaped", e.Type, e.JobID, e.Status, e.Idle.Round(time.Second))
}

// ReapReport is the outcome of Manager.Reap.
type ReapReport struct {
	Target  models.Target    `json:"target"`
	Cleaned int              `json:"cleaned"`
	Jobs    []*StuckJobError `json:"jobs"`
}
