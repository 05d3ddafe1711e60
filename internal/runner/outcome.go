package runner

import (
	"time"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/errs"
)

// State is a scenario execution state.
type State string

const (
	NotStarted    State = "not_started"
	SessionOpen   State = "session_open"
	StepRunning   State = "step_running"
	SessionClosed State = "session_closed"
	Passed        State = "passed"
	Failed        State = "failed"
)

// Outcome is the result of one scenario execution against one browser kind.
type Outcome struct {
	RunID    string
	Scenario string
	Browser  driver.BrowserKind
	State    State
	// Err is the triggering error of a failed run, nil when passed.
	Err error
	// StepsRun counts steps that started, including a failed one.
	StepsRun int
	// FailedStep is the 1-based index of the failed step, 0 if none failed.
	FailedStep   int
	Observations map[string]string
	// Transitions lists every state entered, in order.
	Transitions []State
	StartedAt   time.Time
	Duration    time.Duration
	// Artifacts holds URLs of failure screenshots.
	Artifacts []string
}

// Passed reports whether the run reached Passed.
func (o Outcome) Passed() bool {
	return o.State == Passed
}

// ErrorCode returns the code of the triggering error, or "" when passed.
func (o Outcome) ErrorCode() errs.Code {
	if o.Err == nil {
		return ""
	}
	return errs.CodeOf(o.Err)
}

// ErrorMessage returns the triggering error text, or "".
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Transitions = append(o.Transitions, s)
}

// Summary totals a batch of outcomes.
type Summary struct {
	Total  int
	Passed int
	Failed int
	// Code is the error code of the first failed outcome.
	Code errs.Code
}

// OK reports whether every outcome passed.
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Summarize counts passed and failed outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		s.Total++
		if o.Passed() {
			s.Passed++
			continue
		}
		s.Failed++
		if s.Code == "" {
			s.Code = o.ErrorCode()
		}
	}
	return s
}
