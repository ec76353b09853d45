package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/cynacedia/pubkeeper/pkg/observability"
	"github.com/sony/gobreaker/v2"
)

// rateWindow is one hour; limit is 10 publishes per window.
const (
	rateWindow        = time.Hour
	rateLimit         = 10
	processorSpacing  = 100 * time.Millisecond
	wakeupGracePeriod = 100 * time.Millisecond
)

// backoffLadder is the lock-duration ladder in minutes: each consecutive
// publish failure for a target moves one rung further out.
var backoffLadder = []time.Duration{
	2 * time.Minute, 4 * time.Minute, 8 * time.Minute,
	16 * time.Minute, 32 * time.Minute, 60 * time.Minute,
}

// targetState is the per-target rate-limit bookkeeping: a sliding-window
// publish history, a lock deadline, and the exponential back-off index.
type targetState struct {
	history      []time.Time
	lockUntil    time.Time
	backoffIndex int
}

// PublishFunc is the C7 inner call the rate gate's processor invokes once a
// slot key is admitted. Implementations (PublishWorker.ProcessItem) own the
// steps that follow.
type PublishFunc func(ctx context.Context, targetID, slotKey string)

// RateGate is the per-target sliding-window counter, exponential back-off,
// and single-flight priority queue processor (C6). At most one execution
// runs at a time across the whole engine.
type RateGate struct {
	mu       sync.Mutex
	targets  map[string]*targetState
	breakers map[string]*gobreaker.CircuitBreaker[domain.PublishOutcome]
	queue    *PriorityQueue
	running  bool

	publish PublishFunc
	logger  *slog.Logger
	now     func() time.Time
	metrics observability.Metrics

	breakerEnabled  bool
	breakerSettings BreakerSettings
}

// BreakerSettings configures the gobreaker.CircuitBreaker wrapped around
// the Publisher.Publish transport call, an ambient resilience layer
// independent of the rate gate's own sliding-window/backoff bookkeeping.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerSettings mirrors a conservative circuit-breaker config:
// a handful of trial requests per interval before tripping.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// NewRateGate builds a RateGate. publish is called once a queued slot key
// is admitted; logger defaults to slog.Default() when nil.
func NewRateGate(publish PublishFunc, logger *slog.Logger, breakerSettings BreakerSettings) *RateGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateGate{
		targets:         make(map[string]*targetState),
		breakers:        make(map[string]*gobreaker.CircuitBreaker[domain.PublishOutcome]),
		queue:           NewPriorityQueue(),
		publish:         publish,
		logger:          logger,
		now:             time.Now,
		metrics:         observability.NoopMetrics{},
		breakerEnabled:  true,
		breakerSettings: breakerSettings,
	}
}

// SetMetrics installs the metrics sink used for queue depth and admission
// counters. Must be called before Enqueue's first use to avoid a data race
// with the processor goroutine.
func (g *RateGate) SetMetrics(m observability.Metrics) {
	if m == nil {
		m = observability.NoopMetrics{}
	}
	g.metrics = m
}

func (g *RateGate) stateFor(targetID string) *targetState {
	st, ok := g.targets[targetID]
	if !ok {
		st = &targetState{}
		g.targets[targetID] = st
	}
	return st
}

func (g *RateGate) breakerFor(targetID string) *gobreaker.CircuitBreaker[domain.PublishOutcome] {
	if b, ok := g.breakers[targetID]; ok {
		return b
	}
	s := g.breakerSettings
	settings := gobreaker.Settings{
		Name:        targetID,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Info("publisher circuit breaker state changed",
				"target_id", name, "from", from.String(), "to", to.String())
		},
	}
	b := gobreaker.NewCircuitBreaker[domain.PublishOutcome](settings)
	g.breakers[targetID] = b
	return b
}

// CallPublisher invokes pub.PublishEvent wrapped by targetID's circuit
// breaker. A rate-limit error does not count as a breaker failure (it is
// the gate's own backoff ladder's concern, not the breaker's); five
// consecutive other failures trip the breaker independently.
func (g *RateGate) CallPublisher(ctx context.Context, pub domain.Publisher, targetID string, details domain.EventDetails, startsAt, endsAt time.Time) (domain.PublishOutcome, error) {
	g.mu.Lock()
	breaker := g.breakerFor(targetID)
	g.mu.Unlock()

	var realErr error
	outcome, err := breaker.Execute(func() (domain.PublishOutcome, error) {
		o, pubErr := pub.PublishEvent(ctx, targetID, details, startsAt, endsAt)
		realErr = pubErr
		if pubErr != nil && domain.IsRateLimitError(pubErr) {
			return o, nil
		}
		return o, pubErr
	})
	if err == gobreaker.ErrOpenState {
		return domain.PublishOutcome{}, domain.ErrCircuitOpen
	}
	return outcome, realErr
}

// countWithinWindow reports how many timestamps in history fall within
// [now-window, now], pruning older entries in place.
func countWithinWindow(st *targetState, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	i := 0
	for i < len(st.history) && st.history[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		st.history = st.history[i:]
	}
	return len(st.history)
}

// admitLocked implements the admission predicate: not locked AND the
// sliding-window count is under the limit. Returns the instant to retry
// at when admission is denied.
func (g *RateGate) admitLocked(targetID string, now time.Time) (bool, time.Time) {
	st := g.stateFor(targetID)

	if !st.lockUntil.IsZero() && now.Before(st.lockUntil) {
		return false, st.lockUntil
	}
	if !st.lockUntil.IsZero() && !now.Before(st.lockUntil) {
		st.lockUntil = time.Time{}
		st.backoffIndex = 0
	}

	count := countWithinWindow(st, now, rateWindow)
	if count >= rateLimit {
		return false, st.history[0].Add(rateWindow)
	}
	return true, time.Time{}
}

// RecordSuccess appends a publish timestamp to targetID's window and
// resets its back-off index to zero.
func (g *RateGate) RecordSuccess(targetID string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.stateFor(targetID)
	st.history = append(st.history, at)
	st.backoffIndex = 0
	g.metrics.Counter("rategate.publish.success", 1, observability.T("target_id", targetID))
}

// RecordRateLimit applies the on-observed-429 rule: if the window is
// already full, lock until the oldest entry ages out; otherwise lock for
// backoffLadder[backoffIndex] and advance the index.
func (g *RateGate) RecordRateLimit(targetID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.stateFor(targetID)

	g.metrics.Counter("rategate.publish.rate_limited", 1, observability.T("target_id", targetID))

	count := countWithinWindow(st, now, rateWindow)
	if count >= rateLimit {
		st.lockUntil = st.history[0].Add(rateWindow)
		return
	}

	idx := st.backoffIndex
	if idx >= len(backoffLadder) {
		idx = len(backoffLadder) - 1
	}
	st.lockUntil = now.Add(backoffLadder[idx])
	if st.backoffIndex < len(backoffLadder)-1 {
		st.backoffIndex++
	}
}

// Enqueue adds slotKey to the priority queue and starts the processor if it
// was idle.
func (g *RateGate) Enqueue(slotKey, targetID string, eventStartsAt time.Time) {
	g.mu.Lock()
	g.queue.Enqueue(slotKey, targetID, eventStartsAt)
	depth := g.queue.Len()
	shouldStart := !g.running
	if shouldStart {
		g.running = true
	}
	g.mu.Unlock()

	g.metrics.Gauge("rategate.queue_depth", float64(depth))
	if shouldStart {
		go g.tick()
	}
}

// Remove dequeues slotKey if present (Cancel).
func (g *RateGate) Remove(slotKey string) bool {
	g.mu.Lock()
	removed := g.queue.Remove(slotKey)
	depth := g.queue.Len()
	g.mu.Unlock()

	if removed {
		g.metrics.Gauge("rategate.queue_depth", float64(depth))
	}
	return removed
}

// QueueDepth returns the number of items currently queued.
func (g *RateGate) QueueDepth() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Len()
}

// tick drives the single-flight processor: peek the head, admit or
// schedule a wake-up, dequeue and publish, then re-enter after the 100 ms
// inter-publish spacing.
func (g *RateGate) tick() {
	g.mu.Lock()
	item, ok := g.queue.Peek()
	if !ok {
		g.running = false
		g.mu.Unlock()
		return
	}

	admitted, retryAt := g.admitLocked(item.TargetID, g.now())
	if !admitted {
		g.running = true
		delay := retryAt.Add(wakeupGracePeriod).Sub(g.now())
		if delay < 0 {
			delay = 0
		}
		g.mu.Unlock()
		time.AfterFunc(delay, g.tick)
		return
	}

	g.queue.Dequeue()
	g.running = true
	slotKey, targetID := item.SlotKey, item.TargetID
	g.mu.Unlock()

	g.publish(context.Background(), targetID, slotKey)

	time.AfterFunc(processorSpacing, g.tick)
}
