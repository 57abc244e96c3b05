// Package ledger implements the food sale ledger: item registration, purchase,
// repricing, restocking and ownership transfer over a committed state store.
//
// Every operation runs under one lock, validates all preconditions against the
// current state, and only then appends a changelog entry and applies the
// resulting commit. A rejected operation changes nothing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"foodledger/internal/changelog"
	"foodledger/internal/clock"
	"foodledger/internal/metrics"
	"foodledger/internal/model"
	"foodledger/internal/owner"
	"foodledger/internal/state"
)

const tracerName = "foodledger/internal/ledger"

// ErrHalted is returned for every mutation after a journaled entry failed to
// reach the store. The journal is ahead of the store until the ledger is
// reopened and the changelog replayed.
var ErrHalted = errors.New("ledger halted")

// Options carries the ledger's collaborators. Zero values fall back to
// the system clock, no changelog, no metrics and a no-op logger.
type Options struct {
	Clock   clock.Clock
	Journal changelog.Writer
	Metrics *metrics.Registry
	Logger  *zap.Logger
	// NewTxID overrides transaction id generation (tests).
	NewTxID func() string
}

type Ledger struct {
	mu      sync.Mutex
	store   state.Store
	guard   *owner.Guard
	meta    model.Meta
	lastSeq int64
	// halted is set once the store misses a journaled entry.
	halted error

	clock   clock.Clock
	journal changelog.Writer
	metrics *metrics.Registry
	logger  *zap.Logger
	tracer  trace.Tracer
	newTxID func() string
}

// Open loads the ledger from st. A store without an owner is initialized
// with deployer as administrator; otherwise deployer is ignored.
func Open(ctx context.Context, st state.Store, deployer model.Identity, opts Options) (*Ledger, error) {
	l := &Ledger{
		store:   st,
		clock:   opts.Clock,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		tracer:  otel.Tracer(tracerName),
		newTxID: opts.NewTxID,
	}
	if l.clock == nil {
		l.clock = clock.NewSystem()
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.newTxID == nil {
		l.newTxID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}

	meta, err := st.Meta()
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	l.meta = meta
	l.lastSeq = meta.LastSeq

	if !meta.Owner.IsZero() {
		l.guard, err = owner.New(meta.Owner)
		if err != nil {
			return nil, err
		}
		l.logger.Info("ledger opened", zap.Stringer("owner", meta.Owner), zap.Int64("last_seq", meta.LastSeq))
		return l, nil
	}

	l.guard, err = owner.New(deployer)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	err = l.run(ctx, changelog.OpInitialize, deployer, 0, func(time.Time) (changelog.Entry, error) {
		next := l.meta
		next.Owner = deployer
		return changelog.Entry{Meta: next}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return l, nil
}

// run serializes one operation. prepare validates against the current state
// and returns the entry to commit; it must not mutate the ledger.
func (l *Ledger) run(ctx context.Context, op changelog.Op, caller model.Identity, foodID uint64, prepare func(now time.Time) (changelog.Entry, error)) (err error) {
	ctx, span := l.tracer.Start(ctx, string(op), trace.WithAttributes(
		attribute.String("ledger.caller", caller.String()),
		attribute.Int64("ledger.food_id", int64(foodID)),
	))
	start := time.Now()
	defer func() {
		l.observe(op, caller, foodID, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, model.ErrorCode(err))
		}
		span.End()
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted != nil {
		return l.halted
	}
	now := l.clock.Now()
	e, err := prepare(now)
	if err != nil {
		return err
	}
	e.Op = op
	e.Caller = caller
	e.At = now
	return l.commit(ctx, e)
}

// commit appends e to the changelog and applies it to the store.
// Once the append succeeds the entry is durable and will be replayed, so a
// failed store write halts the ledger instead of letting later operations
// build on state that is missing it.
func (l *Ledger) commit(ctx context.Context, e changelog.Entry) error {
	e.Seq = l.lastSeq + 1
	e.TxID = l.newTxID()
	e.Meta.LastSeq = e.Seq

	if l.journal != nil {
		if err := l.journal.Append(ctx, e); err != nil {
			return fmt.Errorf("append changelog: %w", err)
		}
		if l.metrics != nil {
			l.metrics.ChangelogAppended.Inc()
		}
	}
	l.lastSeq = e.Seq

	applied, err := l.store.Apply(e.Commit())
	if err == nil && !applied {
		err = errors.New("store is ahead of the ledger")
	}
	if err != nil {
		l.halted = fmt.Errorf("%w: seq %d journaled but not applied, reopen to recover: %w", ErrHalted, e.Seq, err)
		l.logger.Error("store write failed after journal append; halting",
			zap.String("op", string(e.Op)),
			zap.Int64("seq", e.Seq),
			zap.String("tx_id", e.TxID),
			zap.Error(err))
		return l.halted
	}
	l.meta = e.Meta
	if e.Op == changelog.OpTransferOwnership {
		if err := l.guard.TransferOwnership(e.Caller, e.Meta.Owner); err != nil {
			l.halted = fmt.Errorf("%w: seq %d stored but guard refused transfer: %w", ErrHalted, e.Seq, err)
			return l.halted
		}
	}
	if e.Op == changelog.OpBuyFood && l.metrics != nil {
		l.metrics.UnitsSold.Add(float64(e.Units))
		l.metrics.Revenue.Add(float64(e.Payment))
	}
	l.logger.Info("committed",
		zap.String("op", string(e.Op)),
		zap.Stringer("caller", e.Caller),
		zap.Int64("seq", e.Seq),
		zap.String("tx_id", e.TxID))
	return nil
}

func (l *Ledger) observe(op changelog.Op, caller model.Identity, foodID uint64, start time.Time, err error) {
	if l.metrics != nil {
		l.metrics.Ops.WithLabelValues(string(op), model.ErrorCode(err)).Inc()
		l.metrics.OpLatency.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("op", string(op)),
		zap.Stringer("caller", caller),
		zap.Uint64("food_id", foodID),
		zap.Error(err),
	}
	if model.IsRejection(err) {
		l.logger.Debug("rejected", fields...)
		return
	}
	l.logger.Error("operation failed", fields...)
}

// lookup returns the record for id or ErrItemNotFound.
func (l *Ledger) lookup(id uint64) (model.Food, error) {
	f, ok, err := l.store.Get(id)
	if err != nil {
		return model.Food{}, fmt.Errorf("read food %d: %w", id, err)
	}
	if !ok || !f.IsAdded {
		return model.Food{}, fmt.Errorf("%w: food %d", model.ErrItemNotFound, id)
	}
	return f, nil
}

// Owner returns the current administrator.
func (l *Ledger) Owner() model.Identity {
	return l.guard.Owner()
}

// Balance is the sum of all accepted purchase payments held by the ledger.
func (l *Ledger) Balance() model.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.Balance
}

// LastSeq is the seq of the last committed operation.
func (l *Ledger) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.LastSeq
}

// Store exposes the backing store for snapshots.
func (l *Ledger) Store() state.Store { return l.store }

// WithLock runs fn while no operation can commit. Snapshots use it to read a consistent store.
func (l *Ledger) WithLock(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// GetFood returns the record for id. Expired items stay readable.
func (l *Ledger) GetFood(id uint64) (model.Food, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(id)
}

// ListFoods returns every registered item ordered by id.
func (l *Ledger) ListFoods() ([]model.Food, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, err := state.Snapshot(l.store)
	if err != nil {
		return nil, err
	}
	return d.Foods, nil
}
