package pipeline

import (
	"fmt"
	"time"
)

// Window is an inclusive extraction time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects windows that end before they start.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return NewOperatorError("window.validate", "INVALID_WINDOW",
			fmt.Errorf("%w: start and end are required", ErrInvalidWindow))
	}
	if w.End.Before(w.Start) {
		return NewOperatorError("window.validate", "INVALID_WINDOW",
			fmt.Errorf("%w: end %s is before start %s", ErrInvalidWindow,
				w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339)))
	}
	return nil
}

// Contains reports whether t falls inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}
