// Package oracle implements the attestation consensus engine: the oracle
// registry, market registration, attestation ledger, consensus evaluation,
// the admin multi-sig registry and the emergency override.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

const (
	writeLockKey        = "polyoracle:write"
	defaultLockTTL      = 10 * time.Second
	defaultLockWait     = 5 * time.Second
	lockPollInterval    = 25 * time.Millisecond
	defaultPublishLimit = 5 * time.Second
)

// Recorder observes the result of every operation. internal/metrics
// provides the Prometheus implementation.
type Recorder interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

// Config carries the engine's collaborators. Store and Auth are required.
type Config struct {
	Store domain.Store
	Auth  domain.Authenticator
	// Clock defaults to domain.SystemClock.
	Clock domain.Clock
	// Lock, when set, serialises writers across processes.
	Lock     domain.LockManager
	LockTTL  time.Duration
	LockWait time.Duration
	// Sinks receive events after commit. Failures are logged only.
	Sinks    []domain.EventSink
	Recorder Recorder
}

// Engine is the single entry point for every oracle operation. Mutations are
// serialised; each one reads the clock once, checks every precondition and
// then writes its state and audit event in one store transaction.
type Engine struct {
	store    domain.Store
	auth     domain.Authenticator
	clock    domain.Clock
	lock     domain.LockManager
	lockTTL  time.Duration
	lockWait time.Duration
	sinks    []domain.EventSink
	recorder Recorder
	logger   *slog.Logger

	mu sync.Mutex
}

// NewEngine creates an Engine from cfg.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("oracle: store is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("oracle: authenticator is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Engine{
		store:    cfg.Store,
		auth:     cfg.Auth,
		clock:    clock,
		lock:     cfg.Lock,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		sinks:    cfg.Sinks,
		recorder: cfg.Recorder,
		logger:   logger.With(slog.String("component", "oracle_engine")),
	}, nil
}

// AddSink registers an additional event sink. It must be called before the
// engine starts serving requests.
func (e *Engine) AddSink(s domain.EventSink) {
	e.sinks = append(e.sinks, s)
}

// mutation is the body of a state-changing operation. It receives the time
// read at call entry and returns the events to record on success.
type mutation func(ctx context.Context, now time.Time, r domain.Repositories) ([]domain.Event, error)

// mutate runs fn under the engine's write serialisation inside one store
// transaction, appends the returned events to the audit log in the same
// transaction and publishes them to the sinks after commit.
func (e *Engine) mutate(ctx context.Context, op string, fn mutation) error {
	start := time.Now()
	err := e.mutateLocked(ctx, op, fn)
	if e.recorder != nil {
		e.recorder.ObserveOperation(op, err, time.Since(start))
	}
	return err
}

func (e *Engine) mutateLocked(ctx context.Context, op string, fn mutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock != nil {
		unlock, err := e.acquireWriteLock(ctx)
		if err != nil {
			return fmt.Errorf("oracle: %s: %w", op, err)
		}
		defer unlock()
	}

	now := e.clock.Now().UTC().Truncate(time.Second)

	var committed []domain.Event
	err := e.store.Atomic(ctx, func(ctx context.Context, r domain.Repositories) error {
		events, err := fn(ctx, now, r)
		if err != nil {
			return err
		}
		for i := range events {
			events[i].ID = uuid.NewString()
			events[i].Timestamp = now
			if err := r.Events.Append(ctx, events[i]); err != nil {
				return fmt.Errorf("append event %s: %w", events[i].Type, err)
			}
		}
		committed = events
		return nil
	})
	if err != nil {
		e.logRejection(ctx, op, err)
		return err
	}

	e.logger.InfoContext(ctx, "operation committed",
		slog.String("op", op),
		slog.Int("events", len(committed)),
	)
	e.publish(ctx, committed)
	return nil
}

// view runs fn against a read-only snapshot of the store.
func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	return e.store.View(ctx, fn)
}

func (e *Engine) acquireWriteLock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, e.lockWait)
	defer cancel()

	for {
		unlock, err := e.lock.Acquire(ctx, writeLockKey, e.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("acquire write lock: %w", err)
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire write lock: %w", domain.ErrLockHeld)
		case <-timer.C:
		}
	}
}

func (e *Engine) logRejection(ctx context.Context, op string, err error) {
	kind := domain.KindOf(err)
	attrs := []any{
		slog.String("op", op),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	}
	switch {
	case kind == domain.KindInternal || kind == domain.KindUnavailable:
		e.logger.ErrorContext(ctx, "operation failed", attrs...)
	case op == OpEmergencyOverride || kind == domain.KindAuthorization:
		e.logger.WarnContext(ctx, "operation rejected", attrs...)
	default:
		e.logger.DebugContext(ctx, "operation rejected", attrs...)
	}
}

// publish fans committed events out to every sink. The state change has
// already committed, so sink errors are only logged.
func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	if len(e.sinks) == 0 || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishLimit)
	defer cancel()

	for _, ev := range events {
		for _, s := range e.sinks {
			if err := s.Publish(ctx, ev); err != nil {
				e.logger.WarnContext(ctx, "event sink failed",
					slog.String("event", string(ev.Type)),
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// authenticate verifies cred for message, wrapping failures in
// ErrUnauthorized.
func (e *Engine) authenticate(ctx context.Context, cred domain.Credential, message []byte) error {
	if err := e.auth.Authenticate(ctx, cred, message); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrUnauthorized, cred.Identity, err)
	}
	return nil
}

// canonical returns c with its identity normalised by domain.NewAddress, so
// differently cased spellings of one hex address are the same identity.
func canonical(c domain.Credential) domain.Credential {
	c.Identity = domain.NewAddress(string(c.Identity))
	return c
}

// loadConfig returns the admin configuration or ErrNotInitialized.
func loadConfig(ctx context.Context, r domain.Repositories) (domain.AdminConfig, error) {
	cfg, err := r.Admin.Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.AdminConfig{}, domain.ErrNotInitialized
		}
		return domain.AdminConfig{}, fmt.Errorf("load admin config: %w", err)
	}
	return cfg, nil
}

// ListEvents returns audit events in commit order.
func (e *Engine) ListEvents(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	var out []domain.Event
	err := e.view(ctx, func(ctx context.Context, r domain.Repositories) error {
		evs, err := r.Events.List(ctx, opts)
		out = evs
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: list events: %w", err)
	}
	return out, nil
}
