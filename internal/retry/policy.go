package retry

import "time"

// Decision is the policy verdict after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy decides whether a failed attempt is retried.
type Policy struct {
	config Config
}

// NewPolicy creates a retry policy
func NewPolicy(config Config) *Policy {
	return &Policy{config: config.normalized()}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.config
}

// Decide returns whether attempt (1-based) should be followed by another one
// after the classified failure kind. Only transient kinds are retried, with a
// linear backoff of BaseDelay*attempt.
func (p *Policy) Decide(kind ErrorKind, attempt int) Decision {
	if !kind.Retryable() {
		return Decision{}
	}
	if attempt < 1 || attempt >= p.config.MaxAttempts {
		return Decision{}
	}
	return Decision{
		Retry: true,
		Delay: p.config.BaseDelay * time.Duration(attempt),
	}
}

// Exhausted reports whether a retryable kind ran out of attempts.
func (p *Policy) Exhausted(kind ErrorKind, attempt int) bool {
	return kind.Retryable() && attempt >= p.config.MaxAttempts
}
