package gate

import (
	"time"

	"analyzehub/internal/retry"
)

// Observer receives attempt loop events. Calls are made from the loop's
// goroutine and must not block.
type Observer interface {
	OnAttempt(req AnalysisRequest)
	// OnBackoff fires once the backoff timer is armed.
	OnBackoff(req AnalysisRequest, kind retry.ErrorKind, delay time.Duration)
	OnFinish(report Report)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnAttempt(AnalysisRequest)                                 {}
func (NopObserver) OnBackoff(AnalysisRequest, retry.ErrorKind, time.Duration) {}
func (NopObserver) OnFinish(Report)                                           {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) OnAttempt(req AnalysisRequest) {
	for _, obs := range o {
		if obs != nil {
			obs.OnAttempt(req)
		}
	}
}

func (o Observers) OnBackoff(req AnalysisRequest, kind retry.ErrorKind, delay time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.OnBackoff(req, kind, delay)
		}
	}
}

func (o Observers) OnFinish(report Report) {
	for _, obs := range o {
		if obs != nil {
			obs.OnFinish(report)
		}
	}
}
