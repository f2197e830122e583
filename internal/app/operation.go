package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	StartedAt  time.Time
	Status     string // "success" or "error"
}

// NewOperation creates an operation with a fresh short id.
func NewOperation(name, parameters string, startedAt time.Time) *Operation {
	return &Operation{
		ID:         newOpID(),
		Name:       name,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     "success",
	}
}

// Fail marks the operation as failed if err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Failed reports whether any step of the operation failed.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}

func newOpID() string {
	return uuid.New().String()[:8]
}
