// Package watch owns the scan loop that keeps nacre's view of the
// tracker fresh: it polls the source, fingerprints the result, and on
// change recomputes the derived artifacts and notifies subscribers.
//
// The scan cycle is Idle → Scanning → (Unchanged | Changed) → Idle.
// A new snapshot is published by swapping an atomic pointer after the
// derived computations finish, so readers never observe a half-landed
// fetch. When the source fails the previously published snapshot stays
// live and the watcher reports itself stale instead of blocking anyone.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/nacre/internal/events"
	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/metrics"
	"github.com/marcus/nacre/internal/source"
	"github.com/marcus/nacre/internal/timeline"
)

// ErrNoSnapshot is returned by accessors before the first successful scan.
var ErrNoSnapshot = errors.New("no snapshot available yet")

// Result is the outcome of one scan pass.
type Result string

const (
	ResultUnchanged Result = "unchanged"
	ResultChanged   Result = "changed"
	ResultFailed    Result = "failed"
)

// Fingerprint is the cheap change detector for a snapshot: counts plus
// max timestamps. Comparable by value.
type Fingerprint struct {
	Issues         int
	Events         int
	MaxIssueUpdate time.Time
	MaxEventAt     time.Time
}

// FingerprintOf computes the fingerprint for a snapshot.
func FingerprintOf(snap *source.Snapshot) Fingerprint {
	fp := Fingerprint{Issues: len(snap.Issues), Events: len(snap.Events)}
	for _, is := range snap.Issues {
		if is.UpdatedAt.After(fp.MaxIssueUpdate) {
			fp.MaxIssueUpdate = is.UpdatedAt
		}
	}
	for _, ev := range snap.Events {
		if ev.At.After(fp.MaxEventAt) {
			fp.MaxEventAt = ev.At
		}
	}
	return fp
}

// Token renders the fingerprint as an opaque string for change-token
// style comparisons (SSE event ids, health endpoint).
func (f Fingerprint) Token() string {
	return fmt.Sprintf("%d-%d-%d-%d", f.Issues, f.Events,
		f.MaxIssueUpdate.UnixNano(), f.MaxEventAt.UnixNano())
}

// Artifacts is one published generation: the immutable snapshot plus
// every derived value computed from it. Readers get the whole set or
// nothing; fields are never updated in place.
type Artifacts struct {
	Snapshot    *source.Snapshot
	Timelines   map[string]timeline.Timeline
	Metrics     *metrics.Snapshot
	Graph       *graph.View
	Fingerprint Fingerprint
	ComputedAt  time.Time
}

// Config tunes the watcher loop.
type Config struct {
	// PollInterval between automatic scans.
	PollInterval time.Duration
	// Debounce coalesces bursts of Notify calls into one scan.
	Debounce time.Duration
	// MetricsWindow is the window length for the precomputed default
	// metrics snapshot.
	MetricsWindow time.Duration
	// MaxBackoff caps the retry delay after consecutive source failures.
	MaxBackoff time.Duration
}

// DefaultConfig matches the tracker's write cadence: poll every couple
// of seconds, fold sub-250ms bursts, report over the trailing week.
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		Debounce:      250 * time.Millisecond,
		MetricsWindow: 7 * 24 * time.Hour,
		MaxBackoff:    time.Minute,
	}
}

// Watcher drives the scan loop. Create with New, then Start.
type Watcher struct {
	src source.Source
	cfg Config
	now func() time.Time

	current atomic.Pointer[Artifacts]

	mu         sync.Mutex
	subs       map[chan struct{}]struct{}
	lastErr    error
	lastResult Result
	failures   int
	nextRetry  time.Time

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Watcher over the given source. Zero config fields take
// defaults.
func New(src source.Source, cfg Config) *Watcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = def.MetricsWindow
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Watcher{
		src:     src,
		cfg:     cfg,
		now:     time.Now,
		subs:    make(map[chan struct{}]struct{}),
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins the background loop. An initial scan runs immediately so
// the first request does not wait a full poll interval.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop shuts the loop down and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

// Notify requests a rescan: a manual refresh or an external change
// signal (e.g. a filesystem event fed in by the caller). Bursts within
// the debounce window collapse into a single scan.
func (w *Watcher) Notify() {
	select {
	case w.trigger <- struct{}{}:
	default:
		// A trigger is already pending; the coming scan covers this one.
	}
}

// Subscribe registers a change listener. The channel receives one
// (possibly coalesced) signal per published change; the returned func
// unregisters it.
func (w *Watcher) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	cancel := func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
	}
	return ch, cancel
}

// Current returns the latest published artifacts, or ErrNoSnapshot
// before the first successful scan.
func (w *Watcher) Current() (*Artifacts, error) {
	if a := w.current.Load(); a != nil {
		return a, nil
	}
	return nil, ErrNoSnapshot
}

// Stale reports whether the most recent scan failed, meaning the
// published artifacts are last-known-good rather than current.
func (w *Watcher) Stale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr != nil
}

// LastError returns the most recent scan failure, nil when healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// LastResult returns the outcome of the most recent scan pass.
func (w *Watcher) LastResult() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// The debounce timer is owned exclusively by this goroutine.
	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	w.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.Scan(ctx)

		case <-w.trigger:
			if debounce == nil {
				debounce = time.NewTimer(w.cfg.Debounce)
				debounceC = debounce.C
			}
			// Further triggers while the timer runs are coalesced.

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.Scan(ctx)
		}
	}
}

// Scan performs one fetch-fingerprint-publish pass. Exported so the
// serve startup path can run a synchronous first pass before the loop
// takes over.
func (w *Watcher) Scan(ctx context.Context) Result {
	w.mu.Lock()
	if w.failures > 0 && w.now().Before(w.nextRetry) {
		w.mu.Unlock()
		return ResultFailed
	}
	w.mu.Unlock()

	snap, err := w.src.Fetch(ctx)
	if err != nil {
		w.recordFailure(err)
		return ResultFailed
	}

	fp := FingerprintOf(snap)
	if cur := w.current.Load(); cur != nil && fp == cur.Fingerprint {
		w.recordResult(ResultUnchanged)
		return ResultUnchanged
	}

	now := w.now().UTC()
	timelines := timeline.BuildAll(events.ByIssue(snap.Events))

	// Metrics and graph are independent reads of the same immutable
	// snapshot; compute them in parallel.
	var m *metrics.Snapshot
	var g *graph.View
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error {
		m = metrics.Compute(metrics.WindowEnding(now, w.cfg.MetricsWindow), snap, timelines, now)
		return nil
	})
	eg.Go(func() error {
		g = graph.Build(snap, graph.Scope{})
		return nil
	})
	eg.Wait()

	w.current.Store(&Artifacts{
		Snapshot:    snap,
		Timelines:   timelines,
		Metrics:     m,
		Graph:       g,
		Fingerprint: fp,
		ComputedAt:  now,
	})
	w.recordResult(ResultChanged)
	w.broadcast()
	return ResultChanged
}

func (w *Watcher) recordFailure(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.lastResult = ResultFailed
	w.failures++
	backoff := w.cfg.PollInterval << (w.failures - 1)
	if backoff > w.cfg.MaxBackoff || backoff <= 0 {
		backoff = w.cfg.MaxBackoff
	}
	w.nextRetry = w.now().Add(backoff)
	n := w.failures
	w.mu.Unlock()

	slog.Warn("source scan failed, keeping last-known-good snapshot",
		"err", err, "consecutive_failures", n, "retry_in", backoff)
}

func (w *Watcher) recordResult(r Result) {
	w.mu.Lock()
	w.lastErr = nil
	w.lastResult = r
	w.failures = 0
	w.nextRetry = time.Time{}
	w.mu.Unlock()
}

func (w *Watcher) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber hasn't drained the previous signal; it will
			// re-query anyway.
		}
	}
}
