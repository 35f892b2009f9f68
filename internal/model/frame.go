package model

import "time"

// UnknownTopic is used when the caller does not name the upstream stream.
const UnknownTopic = "unknown"

// FrameRequest is one parsed multi-resolution detect call. It is immutable
// once the decoder returns it.
type FrameRequest struct {
	CorrelationID string
	Topic         string
	Frames        map[Resolution][]byte
	DecodeErrors  map[Resolution]*Error
	ReceivedAt    time.Time
	// IncludeDetections asks for the per-detection list in the response.
	IncludeDetections bool
}

// Frame returns the decoded buffer for r, or the decode error recorded for it.
// A resolution that is in neither map is reported as MissingField.
func (f *FrameRequest) Frame(r Resolution) ([]byte, *Error) {
	if buf, ok := f.Frames[r]; ok {
		return buf, nil
	}
	if err, ok := f.DecodeErrors[r]; ok {
		return nil, err
	}
	return nil, NewError(CodeMissingField, r, "no part for resolution %s", r)
}

// TaskState is the lifecycle of one ResolutionTask.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
	TaskTimedOut
)

var taskStateNames = map[TaskState]string{
	TaskPending:   "pending",
	TaskRunning:   "running",
	TaskSucceeded: "succeeded",
	TaskFailed:    "failed",
	TaskTimedOut:  "timed_out",
}

func (s TaskState) String() string {
	if n, ok := taskStateNames[s]; ok {
		return n
	}
	return "invalid"
}

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskTimedOut
}

// CanTransition reports whether moving from s to next respects the one-way lifecycle.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case TaskPending:
		return next != TaskPending
	case TaskRunning:
		return next.Terminal()
	default:
		return false
	}
}
