package retry

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the state of one submission's attempt loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAttempting
	PhaseBackingOff
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAttempting:
		return "attempting"
	case PhaseBackingOff:
		return "backing_off"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// ErrInvalidTransition is returned when the tracker is driven out of order.
var ErrInvalidTransition = errors.New("invalid attempt transition")

// Tracker drives Attempting(n) -> BackingOff(n, until) -> Attempting(n+1)
// until Succeeded or Failed(kind). It is not safe for concurrent use; one
// attempt loop owns it.
type Tracker struct {
	policy    *Policy
	phase     Phase
	attempt   int
	until     time.Time
	kind      ErrorKind
	exhausted bool
}

// NewTracker creates an attempt tracker
func NewTracker(policy *Policy) *Tracker {
	if policy == nil {
		policy = NewPolicy(DefaultConfig())
	}
	return &Tracker{policy: policy}
}

// Begin starts the next attempt and returns its 1-based number.
func (t *Tracker) Begin() (int, error) {
	if t.phase != PhaseIdle && t.phase != PhaseBackingOff {
		return t.attempt, fmt.Errorf("%w: begin from %s", ErrInvalidTransition, t.phase)
	}
	t.attempt++
	t.phase = PhaseAttempting
	t.until = time.Time{}
	return t.attempt, nil
}

// Succeed records a successful attempt.
func (t *Tracker) Succeed() error {
	if t.phase != PhaseAttempting {
		return fmt.Errorf("%w: succeed from %s", ErrInvalidTransition, t.phase)
	}
	t.phase = PhaseSucceeded
	return nil
}

// Fail records a failed attempt and moves to BackingOff or Failed depending
// on the policy verdict, which is returned.
func (t *Tracker) Fail(kind ErrorKind, now time.Time) (Decision, error) {
	if t.phase != PhaseAttempting {
		return Decision{}, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, t.phase)
	}
	t.kind = kind
	decision := t.policy.Decide(kind, t.attempt)
	if decision.Retry {
		t.phase = PhaseBackingOff
		t.until = now.Add(decision.Delay)
		return decision, nil
	}
	t.phase = PhaseFailed
	t.exhausted = t.policy.Exhausted(kind, t.attempt)
	return decision, nil
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase { return t.phase }

// Attempt returns the number of attempts started so far.
func (t *Tracker) Attempt() int { return t.attempt }

// Until returns when the current backoff ends; zero outside BackingOff.
func (t *Tracker) Until() time.Time { return t.until }

// Kind returns the kind of the last failure.
func (t *Tracker) Kind() ErrorKind { return t.kind }

// Exhausted reports whether the loop failed because a transient kind ran out
// of attempts.
func (t *Tracker) Exhausted() bool { return t.exhausted }

// Done reports whether the loop reached a terminal phase.
func (t *Tracker) Done() bool {
	return t.phase == PhaseSucceeded || t.phase == PhaseFailed
}
