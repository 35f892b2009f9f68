package model

import "time"

// ResolutionOutcome is the terminal view of one resolution's task.
type ResolutionOutcome struct {
	Resolution Resolution
	Sequence   uint64
	State      TaskState
	Result     *DetectionResult
	Err        *Error
}

// Outcome is what the dispatcher hands to the aggregator: exactly one entry
// per resolution, in Resolutions order.
type Outcome struct {
	CorrelationID     string
	Topic             string
	IncludeDetections bool
	Results           []ResolutionOutcome
	StartedAt         time.Time
	Elapsed           time.Duration
}

// Succeeded returns how many resolutions produced a result.
func (o *Outcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.State == TaskSucceeded {
			n++
		}
	}
	return n
}
