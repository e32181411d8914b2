package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// BatchStatus represents the status of a batch run
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusSuccess   BatchStatus = "success"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusCancelled BatchStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusRunning, BatchStatusSuccess, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusSuccess || s == BatchStatusFailed || s == BatchStatusCancelled
}

// String returns the string representation
func (s BatchStatus) String() string {
	return string(s)
}

// batch state machine events
const (
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventCancel  = "cancel"
)

var terminalEvents = map[BatchStatus]string{
	BatchStatusSuccess:   eventSucceed,
	BatchStatusFailed:    eventFail,
	BatchStatusCancelled: eventCancel,
}

func newBatchFSM(initial BatchStatus) *fsm.FSM {
	running := string(BatchStatusRunning)
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: eventSucceed, Src: []string{running}, Dst: string(BatchStatusSuccess)},
			{Name: eventFail, Src: []string{running}, Dst: string(BatchStatusFailed)},
			{Name: eventCancel, Src: []string{running}, Dst: string(BatchStatusCancelled)},
		},
		fsm.Callbacks{},
	)
}

// BatchRun is the audit record of one pipeline execution for a (source, target) pair.
type BatchRun struct {
	ID               string
	SourceID         string
	TargetTable      string
	Mode             LoadMode
	WindowStart      time.Time
	WindowEnd        time.Time
	StartedAt        time.Time
	EndedAt          *time.Time
	Status           BatchStatus
	RecordsExtracted int
	RecordsLoaded    int
	ErrorMessage     string
}

// NewBatchRun creates a running batch with a fresh identifier.
func NewBatchRun(sourceID, targetTable string, mode LoadMode, window Window, startedAt time.Time) (*BatchRun, error) {
	if sourceID == "" {
		return nil, NewOperatorError("batch.new", "INVALID_SOURCE", ErrUnknownSource)
	}
	if targetTable == "" {
		return nil, NewOperatorError("batch.new", "INVALID_TARGET", ErrUnknownTarget)
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	return &BatchRun{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		TargetTable: targetTable,
		Mode:        mode,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		StartedAt:   startedAt,
		Status:      BatchStatusRunning,
	}, nil
}

// Window returns the extraction window the batch covers.
func (b *BatchRun) Window() Window {
	return Window{Start: b.WindowStart, End: b.WindowEnd}
}

// Complete moves the batch into a terminal status. It fails with
// ErrInvalidTransition unless the batch is running and status is terminal.
func (b *BatchRun) Complete(ctx context.Context, status BatchStatus, extracted, loaded int, errMsg string, endedAt time.Time) error {
	event, ok := terminalEvents[status]
	if !ok {
		return NewFatalError("batch.complete", "INVALID_TRANSITION",
			fmt.Errorf("%w: %s is not a terminal status", ErrInvalidTransition, status))
	}
	if extracted < 0 || loaded < 0 || loaded > extracted {
		return NewFatalError("batch.complete", "INVALID_COUNTS",
			fmt.Errorf("%w: loaded %d exceeds extracted %d", ErrInvalidTransition, loaded, extracted))
	}

	machine := newBatchFSM(b.Status)
	if err := machine.Event(ctx, event); err != nil {
		return NewFatalError("batch.complete", "INVALID_TRANSITION",
			fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, b.Status, status, err))
	}

	b.Status = BatchStatus(machine.Current())
	b.RecordsExtracted = extracted
	b.RecordsLoaded = loaded
	b.ErrorMessage = errMsg
	b.EndedAt = &endedAt
	return nil
}

// Duration returns how long the batch ran, or zero while it is running.
func (b *BatchRun) Duration() time.Duration {
	if b.EndedAt == nil {
		return 0
	}
	return b.EndedAt.Sub(b.StartedAt)
}
