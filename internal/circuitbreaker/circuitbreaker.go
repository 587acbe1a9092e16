// Package circuitbreaker implements a per-operation circuit breaker with a
// sliding-window error-rate detector. It short-circuits requests to a
// known-bad upstream operation, reducing failover latency from seconds
// (timeout + network) to nanoseconds (a state check).
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// maxBuckets bounds the fixed-size ring buffer so it stays stack-allocated
// regardless of configured RollingCountBuckets.
const maxBuckets = 120

// Config holds circuit breaker parameters for one operation, mirroring
// OperationPolicy's breaker-relevant fields.
type Config struct {
	ErrorThresholdPercent float64       // weighted error rate (0-100) to trip
	VolumeThreshold       int           // minimum calls in-window before the breaker can open
	RollingCountTimeout   time.Duration // total sliding window duration
	RollingCountBuckets   int           // window subdivided into this many equal slices
	ResetTimeout          time.Duration // OPEN -> HALF_OPEN transition time
}

// DefaultConfig returns sensible defaults (getConsumerSecret's shape).
func DefaultConfig() Config {
	return Config{
		ErrorThresholdPercent: 50,
		VolumeThreshold:       20,
		RollingCountTimeout:   10 * time.Second,
		RollingCountBuckets:   10,
		ResetTimeout:          60 * time.Second,
	}
}

// bucket holds outcome counts for one window slice, matching the four
// categories spec.md's BreakerState names: success, failure, timeout, reject.
type bucket struct {
	success int
	failure int
	timeout int
	reject  int
}

func (b bucket) total() int { return b.success + b.failure + b.timeout + b.reject }

// errorCount is the number of outcomes that count toward the error rate:
// timeouts and failures. Rejections and successes do not.
func (b bucket) errorCount() int { return b.failure + b.timeout }

// SlidingWindow is a fixed-size ring buffer of equal-duration slices
// spanning RollingCountTimeout, subdivided into RollingCountBuckets.
type SlidingWindow struct {
	buckets    [maxBuckets]bucket
	size       int           // number of active buckets (== RollingCountBuckets, capped)
	sliceDur   time.Duration // duration of one slice
	head       int           // index of current bucket
	headWindow int64         // which slice-index-since-epoch the head currently represents
}

// newSlidingWindow creates a sliding window of size buckets spanning
// windowTimeout, capped at maxBuckets slices.
func newSlidingWindow(buckets int, windowTimeout time.Duration) SlidingWindow {
	if buckets <= 0 {
		buckets = 10
	}
	if buckets > maxBuckets {
		buckets = maxBuckets
	}
	if windowTimeout <= 0 {
		windowTimeout = 10 * time.Second
	}
	return SlidingWindow{size: buckets, sliceDur: windowTimeout / time.Duration(buckets)}
}

// advance moves the head forward to the slice containing now, clearing any
// slices that fall outside the window.
func (w *SlidingWindow) advance(now time.Time) {
	if w.sliceDur <= 0 {
		return
	}
	cur := now.UnixNano() / int64(w.sliceDur)
	if w.headWindow == 0 {
		w.headWindow = cur
		return
	}
	gap := cur - w.headWindow
	if gap <= 0 {
		return
	}
	clear := min(int(gap), w.size)
	for i := range clear {
		idx := (w.head + 1 + i) % w.size
		w.buckets[idx] = bucket{}
	}
	w.head = int((int64(w.head) + gap) % int64(w.size))
	w.headWindow = cur
}

// record adds one outcome to the current slice.
func (w *SlidingWindow) record(now time.Time, mutate func(*bucket)) {
	w.advance(now)
	mutate(&w.buckets[w.head])
}

// snapshot returns the aggregate error rate (0-100) and total in-window
// call volume (rejections excluded from the volume, matching Hystrix-style
// semantics: a rejected call never reached the upstream).
func (w *SlidingWindow) snapshot(now time.Time) (errorPercent float64, volume int) {
	w.advance(now)
	var errs, total int
	for i := range w.size {
		b := &w.buckets[i]
		errs += b.errorCount()
		total += b.success + b.failure + b.timeout
	}
	if total == 0 {
		return 0, 0
	}
	return 100 * float64(errs) / float64(total), total
}

// Reset clears all buckets.
func (w *SlidingWindow) Reset() {
	for i := range w.size {
		w.buckets[i] = bucket{}
	}
	w.headWindow = 0
	w.head = 0
}

// Breaker is a per-operation circuit breaker state machine.
type Breaker struct {
	mu       sync.Mutex
	state    State
	window   SlidingWindow
	openedAt time.Time // when transitioned to OPEN
	lastUsed time.Time // for stale eviction
	probing  bool      // true when a half-open probe is in flight

	errorThresholdPercent float64
	volumeThreshold       int
	resetTimeout          time.Duration
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		state:                 StateClosed,
		window:                newSlidingWindow(cfg.RollingCountBuckets, cfg.RollingCountTimeout),
		errorThresholdPercent: cfg.ErrorThresholdPercent,
		volumeThreshold:       cfg.VolumeThreshold,
		resetTimeout:          cfg.ResetTimeout,
		lastUsed:              time.Now(),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// Allow checks whether a request should be allowed through, transitioning
// Open -> HalfOpen once ResetTimeout has elapsed. Every transition out of
// Open passes through HalfOpen; there is no direct Open -> Closed edge.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		b.window.record(now, func(bk *bucket) { bk.reject++ })
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		// Another probe already in flight; reject.
		b.window.record(now, func(bk *bucket) { bk.reject++ })
		return false
	}
	return false
}

// RecordSuccess records a successful request outcome.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(now, func(bk *bucket) { bk.success++ })

	if b.state == StateHalfOpen {
		// Probe succeeded: close the breaker.
		b.state = StateClosed
		b.probing = false
		b.window.Reset()
	}
}

// RecordFailure records a failed request outcome (non-timeout).
func (b *Breaker) RecordFailure() { b.recordBad(false) }

// RecordTimeout records a wall-clock timeout outcome. Timeouts count as
// failures toward the error threshold, same as any other failure.
func (b *Breaker) RecordTimeout() { b.recordBad(true) }

func (b *Breaker) recordBad(timeout bool) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.window.record(now, func(bk *bucket) {
		if timeout {
			bk.timeout++
		} else {
			bk.failure++
		}
	})

	switch b.state {
	case StateClosed:
		rate, volume := b.window.snapshot(now)
		if volume >= b.volumeThreshold && rate >= b.errorThresholdPercent {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		// Probe failed: reopen.
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	}
}

// LastUsed returns the time of last activity (for stale eviction).
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	t := b.lastUsed
	b.mu.Unlock()
	return t
}

// Snapshot returns the current error rate (0-100) and in-window call
// volume, for inspection endpoints.
func (b *Breaker) Snapshot() (errorPercent float64, volume int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window.snapshot(time.Now())
}
