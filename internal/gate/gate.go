// Package gate is the entry point of every analysis. It debounces and guards
// submissions, runs the bounded attempt loop and publishes each outcome to the
// shared state.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"analyzehub/internal/analyzer"
	"analyzehub/internal/cooldown"
	"analyzehub/internal/logger"
	"analyzehub/internal/retry"
	"analyzehub/internal/state"
	"analyzehub/internal/statsdb"
	"analyzehub/internal/storage"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// DefaultDebounce is the quiet period before a submission executes.
const DefaultDebounce = 500 * time.Millisecond

var (
	ErrInFlight      = errors.New("an analysis is already in flight")
	ErrCoolingDown   = errors.New("rate limit cooldown is active")
	ErrInvalidTarget = errors.New(MsgInvalidTarget)
	ErrClosed        = errors.New("gate is closed")
)

const statsWriteTimeout = 5 * time.Second

// Analyzer performs one analysis call.
type Analyzer interface {
	Analyze(ctx context.Context, target string) (json.RawMessage, error)
}

// AnalysisRequest identifies one attempt loop. Attempt is 1-based and grows
// with each retry.
type AnalysisRequest struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"startedAt"`
}

// Report describes a finished attempt loop.
type Report struct {
	Request    AnalysisRequest `json:"request"`
	Succeeded  bool            `json:"succeeded"`
	Canceled   bool            `json:"canceled,omitempty"`
	Kind       retry.ErrorKind `json:"kind,omitempty"`
	Message    string          `json:"message,omitempty"`
	RetryAfter int             `json:"retryAfter,omitempty"`
	Attempts   int             `json:"attempts"`
	Duration   time.Duration   `json:"duration"`
}

// Options configures a Gate. Analyzer, Hub and Recent are required.
type Options struct {
	Analyzer Analyzer
	Hub      *state.Hub
	Recent   *storage.RecentTargets
	// Stats, if set, receives one record per finished loop.
	Stats    statsdb.AnalysisStatsStore
	Clock    clock.WithTickerAndDelayedExecution
	Policy   *retry.Policy
	Debounce time.Duration
	Observer Observer
}

// Gate serializes analyses: at most one attempt loop runs at a time, and none
// starts while a rate limit cooldown is active.
type Gate struct {
	analyzer Analyzer
	hub      *state.Hub
	recent   *storage.RecentTargets
	stats    statsdb.AnalysisStatsStore
	clock    clock.WithTickerAndDelayedExecution
	policy   *retry.Policy
	debounce time.Duration
	observer Observer
	cooldown *cooldown.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight bool
	token    uint64
	pending  clock.Timer
	closed   bool
}

// New creates a gate and publishes the persisted recent targets.
func New(opts Options) (*Gate, error) {
	if opts.Analyzer == nil {
		return nil, errors.New("gate: nil analyzer")
	}
	if opts.Hub == nil {
		return nil, errors.New("gate: nil state hub")
	}
	if opts.Recent == nil {
		return nil, errors.New("gate: nil recent targets store")
	}

	g := &Gate{
		analyzer: opts.Analyzer,
		hub:      opts.Hub,
		recent:   opts.Recent,
		stats:    opts.Stats,
		clock:    opts.Clock,
		policy:   opts.Policy,
		debounce: opts.Debounce,
		observer: opts.Observer,
	}
	if g.clock == nil {
		g.clock = clock.RealClock{}
	}
	if g.policy == nil {
		g.policy = retry.NewPolicy(retry.DefaultConfig())
	}
	if g.debounce <= 0 {
		g.debounce = DefaultDebounce
	}
	if g.observer == nil {
		g.observer = NopObserver{}
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.cooldown = cooldown.New(g.clock, func(remaining int) {
		g.hub.Merge(state.Partial{CooldownSeconds: state.Int(remaining)})
	})

	recent, err := g.recent.Load()
	if err != nil {
		logger.Warn("failed to load recent targets, starting empty: %v", err)
	}
	g.hub.Merge(state.Partial{Recent: recent})
	return g, nil
}

// Submit schedules an analysis of target after the debounce period. A later
// call supersedes a pending one. It returns ErrInFlight while a loop runs,
// ErrInvalidTarget for a blank target and ErrCoolingDown during a cooldown;
// none of these schedule anything.
func (g *Gate) Submit(target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if g.inFlight {
		return ErrInFlight
	}

	g.token++
	g.stopPendingLocked()

	target = strings.TrimSpace(target)
	if target == "" {
		g.hub.Merge(state.Partial{
			IsLoading: state.Bool(false),
			Errors:    map[string]string{state.ErrorKeyAnalysis: MsgInvalidTarget},
		})
		return ErrInvalidTarget
	}
	if g.cooldown.IsActive() {
		return ErrCoolingDown
	}

	token := g.token
	g.pending = g.clock.AfterFunc(g.debounce, func() {
		g.fire(token, target)
	})
	return nil
}

// fire runs when the debounce period of token elapses.
func (g *Gate) fire(token uint64, target string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || token != g.token {
		return
	}
	g.pending = nil
	if g.inFlight || g.cooldown.IsActive() {
		return
	}

	g.inFlight = true
	g.hub.Merge(state.Partial{
		IsLoading: state.Bool(true),
		Errors:    map[string]string{state.ErrorKeyAnalysis: ""},
		Target:    state.String(target),
	})
	g.wg.Add(1)
	go g.run(target)
}

func (g *Gate) stopPendingLocked() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}

// loopResult is what the attempt loop hands to finish.
type loopResult struct {
	payload json.RawMessage
	err     error
	class   retry.Classification
}

func (g *Gate) run(target string) {
	defer g.wg.Done()

	req := AnalysisRequest{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: g.clock.Now(),
	}
	log := logger.NewRequestLogger(req.ID)
	ctx := analyzer.WithRequestID(g.ctx, req.ID)
	tracker := retry.NewTracker(g.policy)
	cfg := g.policy.Config()

	var res loopResult
	for !tracker.Done() {
		attempt, err := tracker.Begin()
		if err != nil {
			log.Error("attempt loop out of order: %v", err)
			res.class = retry.Classification{Kind: retry.KindUnknown}
			break
		}
		req.Attempt = attempt
		log.Debug("analyzing %q, attempt %d/%d", target, attempt, cfg.MaxAttempts)
		g.observer.OnAttempt(req)

		res.payload, res.err = g.analyzer.Analyze(ctx, target)
		if res.err == nil {
			_ = tracker.Succeed()
			break
		}
		if retry.IsCanceled(res.err) || g.ctx.Err() != nil {
			g.finishCanceled(req)
			return
		}

		res.class = cfg.Classify(analyzer.OutcomeOf(res.err))
		decision, _ := tracker.Fail(res.class.Kind, g.clock.Now())
		if !decision.Retry {
			break
		}
		log.Warn("attempt %d failed (%s), retrying in %s", attempt, res.class.Kind, decision.Delay)
		if !g.wait(decision.Delay, req, res.class.Kind) {
			g.finishCanceled(req)
			return
		}
	}

	g.finish(req, tracker, res)
}

// wait sleeps for the backoff delay. It reports false if the gate closed.
func (g *Gate) wait(delay time.Duration, req AnalysisRequest, kind retry.ErrorKind) bool {
	t := g.clock.NewTimer(delay)
	defer t.Stop()
	g.observer.OnBackoff(req, kind, delay)

	select {
	case <-t.C():
		return true
	case <-g.ctx.Done():
		return false
	}
}

func (g *Gate) finish(req AnalysisRequest, tracker *retry.Tracker, res loopResult) {
	log := logger.NewRequestLogger(req.ID)
	report := Report{
		Request:   req,
		Succeeded: tracker.Phase() == retry.PhaseSucceeded,
		Attempts:  tracker.Attempt(),
		Duration:  g.clock.Since(req.StartedAt),
	}

	var p state.Partial
	if report.Succeeded {
		if err := g.recent.Record(req.Target); err != nil {
			log.Warn("failed to persist recent targets: %v", err)
		}
		p = state.Partial{
			IsLoading: state.Bool(false),
			Errors:    map[string]string{state.ErrorKeyAnalysis: ""},
			Result:    res.payload,
			Recent:    g.recent.List(),
		}
		log.Info("analysis of %q succeeded after %d attempt(s)", req.Target, report.Attempts)
	} else {
		report.Kind = res.class.Kind
		report.RetryAfter = res.class.RetryAfter
		report.Message = Message(res.class.Kind, req.Target, res.class.RetryAfter, analyzer.ServerMessage(res.err))
		if res.class.Kind == retry.KindRateLimited {
			g.cooldown.Arm(res.class.RetryAfter)
		}
		p = state.Partial{
			IsLoading: state.Bool(false),
			Errors:    map[string]string{state.ErrorKeyAnalysis: report.Message},
		}
		log.Warn("analysis of %q failed after %d attempt(s): %s: %v", req.Target, report.Attempts, report.Kind, res.err)
	}

	g.recordStat(report)

	g.mu.Lock()
	g.hub.Merge(p)
	g.inFlight = false
	g.mu.Unlock()

	g.observer.OnFinish(report)
}

func (g *Gate) finishCanceled(req AnalysisRequest) {
	report := Report{
		Request:  req,
		Canceled: true,
		Attempts: req.Attempt,
		Duration: g.clock.Since(req.StartedAt),
	}
	logger.NewRequestLogger(req.ID).Info("analysis of %q canceled", req.Target)

	g.mu.Lock()
	g.hub.Merge(state.Partial{IsLoading: state.Bool(false)})
	g.inFlight = false
	g.mu.Unlock()

	g.observer.OnFinish(report)
}

func (g *Gate) recordStat(report Report) {
	if g.stats == nil {
		return
	}
	outcome := statsdb.OutcomeSuccess
	if !report.Succeeded {
		outcome = report.Kind.String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
	defer cancel()
	err := g.stats.InsertAnalysisStat(ctx, statsdb.AnalysisStat{
		RequestID:  report.Request.ID,
		Target:     report.Request.Target,
		Outcome:    outcome,
		Message:    report.Message,
		Attempts:   report.Attempts,
		DurationMs: report.Duration.Milliseconds(),
		CreatedAt:  g.clock.Now(),
	})
	if err != nil {
		logger.Warn("failed to record analysis stat: %v", err)
	}
}

// RemoveRecent drops target from the recent list. If it is the target whose
// result is shown, the result is cleared too.
func (g *Gate) RemoveRecent(target string) error {
	target = strings.TrimSpace(target)

	g.mu.Lock()
	defer g.mu.Unlock()

	removed, err := g.recent.Remove(target)
	if !removed {
		return err
	}
	p := state.Partial{Recent: g.recent.List()}
	if !g.inFlight && g.hub.Read().Target == target {
		p.ClearResult = true
		p.Target = state.String("")
	}
	g.hub.Merge(p)
	return err
}

// Recent returns the recent targets, newest first.
func (g *Gate) Recent() []string {
	return g.recent.List()
}

// InFlight reports whether an attempt loop is running.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// CooldownRemaining returns the seconds left before a new analysis may start.
func (g *Gate) CooldownRemaining() int {
	return g.cooldown.Remaining()
}

// Close cancels a pending submission and any running attempt, stops the
// cooldown ticker and waits for the loop to exit.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.stopPendingLocked()
	g.mu.Unlock()

	g.cooldown.Stop()
	g.cancel()
	g.wg.Wait()
}
