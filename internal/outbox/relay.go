package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"brigade/internal/domain"
	"brigade/internal/repo"
)

// UnhandledPolicy decides what happens to a claimed event with no handler.
type UnhandledPolicy string

const (
	// UnhandledConsume marks the event processed and logs a warning.
	UnhandledConsume UnhandledPolicy = "consume"
	// UnhandledHold leaves the event pending until a handler is registered.
	UnhandledHold UnhandledPolicy = "hold"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultBatchSize    = 20
)

const (
	tickIdle   = "idle"
	tickOK     = "ok"
	tickFailed = "handler_failed"
	tickError  = "error"
	tickBusy   = "busy"
)

type RelayConfig struct {
	// Disabled turns the relay off: Start and Tick return ErrRelayDisabled.
	Disabled     bool
	PollInterval time.Duration
	BatchSize    int
	Unhandled    UnhandledPolicy
	// MaxAttempts quarantines an event after that many failed batches. Zero retries forever.
	MaxAttempts int
	// HandlerTimeout bounds each handler call. Zero means no bound.
	HandlerTimeout time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Unhandled == "" {
		c.Unhandled = UnhandledConsume
	}
	return c
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Claimed   int `json:"claimed"`
	Handled   int `json:"handled"`
	Unhandled int `json:"unhandled"`
	Processed int `json:"processed"`
}

type RelayOption func(*Relay)

func WithLogger(logger *zap.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// Relay polls the outbox and delivers pending events to registered handlers.
// Delivery is at-least-once: a batch is committed as processed only after
// every handler in it succeeded.
type Relay struct {
	repo     repo.Repo
	registry *Registry
	cfg      RelayConfig
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	ticking atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewRelay(r repo.Repo, registry *Registry, cfg RelayConfig, opts ...RelayOption) (*Relay, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	relay := &Relay{
		repo:     r,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(relay)
	}
	switch relay.cfg.Unhandled {
	case UnhandledConsume, UnhandledHold:
	default:
		return nil, fmt.Errorf("unknown unhandled-event policy %q", relay.cfg.Unhandled)
	}
	return relay, nil
}

func (r *Relay) Config() RelayConfig { return r.cfg }

// Start runs one tick immediately and then one per poll interval until Stop
// is called or ctx is done. A relay whose ctx has ended can be started again.
func (r *Relay) Start(ctx context.Context) error {
	if r.cfg.Disabled {
		return ErrRelayDisabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		select {
		case <-r.done:
			// The previous loop ended with its context.
			r.stop, r.done = nil, nil
		default:
			return ErrRelayRunning
		}
	}
	for _, t := range r.registry.Missing() {
		r.logger.Warn("outbox event type has no handler", zap.String("event_type", string(t)), zap.String("policy", string(r.cfg.Unhandled)))
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stop, r.done)
	r.logger.Info("outbox relay started",
		zap.Duration("poll_interval", r.cfg.PollInterval),
		zap.Int("batch_size", r.cfg.BatchSize))
	return nil
}

// Stop ends the polling loop and waits for it. A tick in flight runs to completion.
func (r *Relay) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	r.runTick(ctx)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped", zap.Error(ctx.Err()))
			return
		case <-stop:
			return
		case <-ticker.C:
			r.runTick(ctx)
		}
	}
}

func (r *Relay) runTick(ctx context.Context) {
	res, err := r.Tick(ctx)
	var herr *HandlerError
	switch {
	case errors.Is(err, ErrTickInProgress):
		r.logger.Debug("outbox tick skipped", zap.Error(err))
	case errors.As(err, &herr):
		r.logger.Error("outbox batch aborted",
			zap.String("event_id", herr.EventID),
			zap.String("event_type", string(herr.EventType)),
			zap.Int("claimed", res.Claimed),
			zap.Error(herr.Err))
	case err != nil:
		r.logger.Error("outbox tick failed", zap.Error(err))
	case res.Claimed > 0:
		r.logger.Debug("outbox batch processed",
			zap.Int("claimed", res.Claimed),
			zap.Int("handled", res.Handled),
			zap.Int("unhandled", res.Unhandled),
			zap.Int("processed", res.Processed))
	}
}

// Tick processes one batch. Only one tick runs at a time per Relay; a
// concurrent call returns ErrTickInProgress. Cancelling ctx does not interrupt
// a batch that has started.
func (r *Relay) Tick(ctx context.Context) (BatchResult, error) {
	if r.cfg.Disabled {
		return BatchResult{}, ErrRelayDisabled
	}
	if !r.ticking.CompareAndSwap(false, true) {
		r.metrics.observeTick(tickBusy, 0)
		return BatchResult{}, ErrTickInProgress
	}
	defer r.ticking.Store(false)

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res, err := r.ProcessBatch(ctx, r.cfg.BatchSize)
	var herr *HandlerError
	switch {
	case errors.As(err, &herr):
		r.metrics.observeTick(tickFailed, time.Since(start))
	case err != nil:
		r.metrics.observeTick(tickError, time.Since(start))
	case res.Claimed == 0:
		r.metrics.observeTick(tickIdle, time.Since(start))
	default:
		r.metrics.observeTick(tickOK, time.Since(start))
	}
	if r.metrics != nil {
		if pending, cerr := r.repo.CountPending(ctx); cerr == nil {
			r.metrics.setBacklog(pending)
		}
	}
	return res, err
}

// ProcessBatch claims up to batchSize pending events in creation order and
// runs their handlers synchronously in one transaction. The first handler
// error rolls the transaction back, so no event of the batch is marked
// processed, and is returned as a *HandlerError.
func (r *Relay) ProcessBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	var res BatchResult
	if batchSize <= 0 {
		batchSize = r.cfg.BatchSize
	}
	tx, err := r.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin relay tx: %w", err)
	}
	defer tx.Rollback()

	var types []string
	if r.cfg.Unhandled == UnhandledHold {
		types = []string{}
		for _, t := range r.registry.Types() {
			types = append(types, string(t))
		}
	}
	rows, err := r.repo.ClaimPending(ctx, tx, batchSize, types)
	if err != nil {
		return res, fmt.Errorf("claim outbox events: %w", err)
	}
	res.Claimed = len(rows)
	if len(rows) == 0 {
		return res, nil
	}

	seqs := make([]int64, 0, len(rows))
	for _, row := range rows {
		ev := eventFromRow(row)
		h, ok := r.registry.Lookup(ev.Type)
		if !ok {
			r.logger.Warn("no handler for outbox event",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.Type)),
				zap.String("policy", string(r.cfg.Unhandled)))
			if r.cfg.Unhandled == UnhandledConsume {
				res.Unhandled++
				seqs = append(seqs, ev.Seq)
			}
			continue
		}
		if err := r.invoke(ctx, h, ev); err != nil {
			herr := &HandlerError{EventID: ev.ID, EventType: ev.Type, Err: err}
			_ = tx.Rollback()
			r.metrics.addEvents("failed", 1)
			r.recordFailure(ctx, herr)
			return res, herr
		}
		res.Handled++
		seqs = append(seqs, ev.Seq)
	}

	n, err := r.repo.MarkProcessed(ctx, tx, seqs, domain.FormatTime(r.now()))
	if err != nil {
		return res, fmt.Errorf("mark outbox events processed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit relay tx: %w", err)
	}
	res.Processed = int(n)
	r.metrics.addEvents("handled", res.Handled)
	r.metrics.addEvents("unhandled", res.Unhandled)
	return res, nil
}

func (r *Relay) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	if r.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, ev)
}

// recordFailure stores the attempt on the failing event in its own transaction.
func (r *Relay) recordFailure(ctx context.Context, herr *HandlerError) {
	tx, err := r.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error("record outbox failure", zap.String("event_id", herr.EventID), zap.Error(err))
		return
	}
	defer tx.Rollback()
	row, err := r.repo.RecordFailure(ctx, tx, herr.EventID, herr.Err.Error(), r.cfg.MaxAttempts, domain.FormatTime(r.now()))
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		r.logger.Error("record outbox failure", zap.String("event_id", herr.EventID), zap.Error(err))
		return
	}
	if row.QuarantinedAt != nil {
		r.metrics.addEvents("quarantined", 1)
		r.logger.Error("outbox event quarantined",
			zap.String("event_id", row.EventID),
			zap.String("event_type", row.EventType),
			zap.Int("attempts", row.Attempts),
			zap.String("last_error", row.LastError))
	}
}

// Requeue returns a quarantined event to the pending set.
func (r *Relay) Requeue(ctx context.Context, eventID string) error {
	if err := r.repo.Requeue(ctx, eventID); err != nil {
		return fmt.Errorf("requeue %s: %w", eventID, err)
	}
	r.logger.Info("outbox event requeued", zap.String("event_id", eventID))
	return nil
}
