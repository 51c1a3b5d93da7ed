// Package sync runs the progressive fetch of thread summaries from the
// messaging network into the preview map.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/lensdm/internal/badge"
	"github.com/matheus3301/lensdm/internal/bus"
	"github.com/matheus3301/lensdm/internal/gate"
	"github.com/matheus3301/lensdm/internal/preview"
	"go.uber.org/zap"
)

var (
	// ErrBatchFailed wraps a single failed fetch attempt.
	ErrBatchFailed = errors.New("batch fetch failed")
	// ErrProfilesUnavailable is the terminal state after the retry budget
	// is spent. Previews received so far are kept.
	ErrProfilesUnavailable = errors.New("profiles unavailable")
	// ErrNotAuthenticated is returned when the gate is not open.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Batch is one page of thread summaries.
type Batch struct {
	Tuples     []preview.Tuple
	NextCursor string
	Done       bool
	// TotalBatches is zero when the network does not know it.
	TotalBatches int
}

// Network fetches thread summaries for an account.
type Network interface {
	NextBatch(ctx context.Context, accountID, cursor string) (Batch, error)
}

// Authorizer reports the authentication gate state.
type Authorizer interface {
	Current() gate.State
}

// Observer receives ingestion measurements.
type Observer interface {
	BatchApplied(tuples, dropped int)
	BatchRetried()
	RunFinished(err error)
}

// Options bounds fetching and retrying.
type Options struct {
	BatchTimeout time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		BatchTimeout: 15 * time.Second,
		MaxAttempts:  5,
		BaseBackoff:  500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = d.BatchTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = d.BaseBackoff
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	return o
}

// Status is the observable state of the pipeline.
type Status struct {
	Running bool
	Done    bool
	// Progress is nil while the total number of batches is unknown.
	Progress *int
	Err      error
	Account  string
}

// BatchApplied is the payload of ingest.batch_applied events.
type BatchApplied struct {
	Account string
	Result  preview.ApplyResult
}

// Pipeline streams batches into the preview map. It is the only writer of
// previews and badge increments.
type Pipeline struct {
	network  Network
	previews *preview.Map
	badges   *badge.Tracker
	gate     Authorizer
	bus      *bus.Bus
	observer Observer
	opts     Options
	logger   *zap.Logger

	// lifecycle serialises Start and Stop; mu guards the fields below.
	lifecycle stdsync.Mutex

	mu      stdsync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
	onBatch func(BatchApplied)
}

// New creates a pipeline. observer, bus and logger may be nil.
func New(network Network, previews *preview.Map, badges *badge.Tracker, g Authorizer, b *bus.Bus, observer Observer, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		network:  network,
		previews: previews,
		badges:   badges,
		gate:     g,
		bus:      b,
		observer: observer,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// OnBatch registers a callback invoked after each applied batch, on the
// pipeline goroutine.
func (p *Pipeline) OnBatch(fn func(BatchApplied)) {
	p.mu.Lock()
	p.onBatch = fn
	p.mu.Unlock()
}

// Start begins ingestion for accountID. A run for the same account that is
// still going is left alone; a run for another account is stopped first.
// Concurrent Start and Stop calls are serialised, so at most one run exists.
func (p *Pipeline) Start(ctx context.Context, accountID string) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.authorized() {
		return ErrNotAuthenticated
	}

	p.mu.Lock()
	running := p.status.Running && p.status.Account == accountID
	p.mu.Unlock()
	if running {
		return nil
	}
	p.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.status = Status{Running: true, Account: accountID}
	p.mu.Unlock()

	go p.run(runCtx, accountID, done)
	return nil
}

// Stop cancels the current run and waits for it to exit.
func (p *Pipeline) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.stopLocked()
}

// stopLocked requires p.lifecycle.
func (p *Pipeline) stopLocked() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	p.status.Running = false
	p.mu.Unlock()
}

// Status returns a copy of the current status.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if s.Progress != nil {
		v := *s.Progress
		s.Progress = &v
	}
	return s
}

// Wait blocks until the current run exits or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) authorized() bool {
	return p.gate == nil || p.gate.Current() == gate.Authenticated
}

func (p *Pipeline) run(ctx context.Context, accountID string, done chan struct{}) {
	defer close(done)

	log := p.logger.With(zap.String("account", accountID))
	log.Info("ingestion started")
	p.bus.Emit(bus.KindIngestStarted, accountID)

	cursor := ""
	completed := 0
	for {
		b, err := p.fetch(ctx, accountID, cursor)
		if ctx.Err() != nil {
			log.Info("ingestion cancelled", zap.Int("batches", completed))
			return
		}
		if err != nil {
			p.finish(log, err)
			return
		}
		if !p.authorized() {
			p.finish(log, ErrNotAuthenticated)
			return
		}

		res := p.previews.Apply(b.Tuples)
		for _, key := range res.Dropped {
			log.DPanic("malformed conversation key", zap.String("key", key))
		}
		p.countUnread(log, accountID, res)
		completed++

		progress := computeProgress(completed, b.TotalBatches, b.Done)
		p.mu.Lock()
		p.status.Progress = progress
		onBatch := p.onBatch
		p.mu.Unlock()

		if p.observer != nil {
			p.observer.BatchApplied(len(b.Tuples), len(res.Dropped))
		}
		applied := BatchApplied{Account: accountID, Result: res}
		p.bus.Emit(bus.KindIngestBatchApplied, applied)
		if progress != nil {
			p.bus.Emit(bus.KindIngestProgress, *progress)
		}
		if onBatch != nil {
			onBatch(applied)
		}

		if b.Done {
			p.finish(log, nil)
			return
		}
		cursor = b.NextCursor
	}
}

func (p *Pipeline) countUnread(log *zap.Logger, accountID string, res preview.ApplyResult) {
	if p.badges == nil {
		return
	}
	for _, c := range res.Changes {
		if !c.Unread {
			continue
		}
		id := badge.LedgerID(c.Key, accountID)
		if err := p.badges.Increment(id); err != nil {
			log.Warn("failed to increment badge", zap.String("badge", id), zap.Error(err))
			continue
		}
		p.bus.Emit(bus.KindBadgeChanged, id)
	}
}

func (p *Pipeline) finish(log *zap.Logger, err error) {
	p.mu.Lock()
	p.status.Running = false
	p.status.Err = err
	if err == nil {
		p.status.Done = true
	}
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.RunFinished(err)
	}
	if err != nil {
		log.Error("ingestion failed", zap.Error(err))
		p.bus.Emit(bus.KindIngestFailed, err.Error())
		return
	}
	log.Info("ingestion done")
	p.bus.Emit(bus.KindIngestDone, nil)
}

// fetch retries one batch with exponential backoff. Each attempt gets its
// own deadline; a timeout counts as a failed attempt.
func (p *Pipeline) fetch(ctx context.Context, accountID, cursor string) (Batch, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.BaseBackoff
	eb.MaxInterval = p.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.opts.MaxAttempts-1)), ctx)

	attempts := 0
	op := func() (Batch, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, p.opts.BatchTimeout)
		defer cancel()
		b, err := p.network.NextBatch(actx, accountID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return Batch{}, backoff.Permanent(ctx.Err())
			}
			return Batch{}, fmt.Errorf("%w: %w", ErrBatchFailed, err)
		}
		return b, nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("retrying batch",
			zap.String("cursor", cursor),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		if p.observer != nil {
			p.observer.BatchRetried()
		}
	}

	b, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if ctx.Err() != nil {
			return Batch{}, ctx.Err()
		}
		return Batch{}, fmt.Errorf("%w after %d attempts: %w", ErrProfilesUnavailable, attempts, err)
	}
	return b, nil
}

// computeProgress returns completed/total as a percentage in [0, 100], or
// nil when total is unknown.
func computeProgress(completed, total int, done bool) *int {
	if total <= 0 {
		return nil
	}
	v := 100
	if !done {
		v = completed * 100 / total
	}
	v = min(max(v, 0), 100)
	return &v
}
