package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"fund_sheet_sync/internal/model"
	"fund_sheet_sync/internal/syncer"

	"github.com/rs/zerolog/log"
)

// ErrAlreadySyncing rejects a manual sync for a connection that is
// currently being processed.
var ErrAlreadySyncing = errors.New("connection is already syncing")

// Store is the slice of the connection state store the worker needs.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]model.Connection, error)
	Get(ctx context.Context, id string) (*model.Connection, error)
	MarkSyncing(ctx context.Context, id string) (bool, error)
	MarkSuccess(ctx context.Context, id string, syncedAt time.Time, rowCount int, nextSyncAt *time.Time) error
	MarkError(ctx context.Context, id, message string, nextSyncAt *time.Time) error
	ReleaseStale(ctx context.Context, processStart time.Time) (int64, error)
}

// Runner executes one connection's sync.
type Runner interface {
	Run(ctx context.Context, conn *model.Connection) (*syncer.Result, error)
}

// Notifier pushes operator alerts. Implementations must be best-effort;
// the worker never waits on delivery semantics beyond the call itself.
type Notifier interface {
	NotifySyncFailure(ctx context.Context, conn *model.Connection, message string)
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// Worker drives due connections through the sync executor on a fixed
// interval. One Worker instance owns all of its state, so independent
// instances can coexist in tests.
type Worker struct {
	store    Store
	exec     Runner
	notifier Notifier
	interval time.Duration

	mu      sync.Mutex
	ticking bool
	busy    map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWorker(store Store, exec Runner, notifier Notifier, interval time.Duration) *Worker {
	return &Worker{
		store:    store,
		exec:     exec,
		notifier: notifier,
		interval: interval,
		busy:     make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start reconciles stale syncing rows left by a previous process, runs
// one tick immediately, then ticks on the configured interval until
// Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	released, err := w.store.ReleaseStale(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if released > 0 {
		log.Warn().Int64("connections", released).Msg("Reconciled stale syncing connections from previous run")
	}

	go func() {
		defer close(w.doneCh)

		w.RunTick(ctx, time.Now().UTC())

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RunTick(ctx, time.Now().UTC())
			}
		}
	}()

	log.Info().Dur("interval", w.interval).Msg("Scheduler started")
	return nil
}

// Stop halts ticking and waits for an in-flight tick to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	log.Info().Msg("Scheduler stopped")
}

// RunTick processes every due connection sequentially. If a tick is
// already in progress the call is skipped entirely; ticks never
// overlap.
func (w *Worker) RunTick(ctx context.Context, now time.Time) TickResult {
	w.mu.Lock()
	if w.ticking {
		w.mu.Unlock()
		log.Warn().Msg("Previous tick still running, skipping this tick")
		return TickResult{}
	}
	w.ticking = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.ticking = false
		w.mu.Unlock()
	}()

	due, err := w.store.ListDue(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list due connections")
		return TickResult{}
	}
	if len(due) == 0 {
		log.Debug().Msg("No connections due")
		return TickResult{}
	}

	log.Debug().Int("due", len(due)).Msg("Processing due connections")

	var result TickResult
	for i := range due {
		select {
		case <-ctx.Done():
			return result
		default:
		}

		conn := due[i]
		result.Processed++
		if _, err := w.syncOne(ctx, &conn, now); err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	log.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("Tick complete")
	return result
}

// TriggerSync runs one connection immediately, bypassing the due-time
// check but not the per-connection no-overlap rule.
func (w *Worker) TriggerSync(ctx context.Context, id string) (*syncer.Result, error) {
	conn, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return w.syncOne(ctx, conn, time.Now().UTC())
}

// syncOne claims a connection, runs the executor, and records a
// terminal status. The claim (in-process busy set plus the store's
// conditional status flip) is what enforces at most one active executor
// per connection id.
func (w *Worker) syncOne(ctx context.Context, conn *model.Connection, now time.Time) (*syncer.Result, error) {
	w.mu.Lock()
	if w.busy[conn.ID] {
		w.mu.Unlock()
		return nil, ErrAlreadySyncing
	}
	w.busy[conn.ID] = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.busy, conn.ID)
		w.mu.Unlock()
	}()

	claimed, err := w.store.MarkSyncing(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadySyncing
	}

	next := conn.NextSyncTime(now)

	result, runErr := w.exec.Run(ctx, conn)
	if runErr != nil {
		message := tenantMessage(runErr)
		log.Error().Err(runErr).
			Str("connection_id", conn.ID).
			Str("fund_id", conn.FundID).
			Msg("Sync failed")

		if err := w.store.MarkError(ctx, conn.ID, message, next); err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to record sync error")
		}
		if w.notifier != nil {
			w.notifier.NotifySyncFailure(ctx, conn, message)
		}
		return nil, runErr
	}

	conn.LastRowCount = result.RowCount
	if err := w.store.MarkSuccess(ctx, conn.ID, now, result.RowCount, next); err != nil {
		log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to record sync success")
		return nil, err
	}
	return result, nil
}

// tenantMessage maps an executor failure to the text shown on the
// connection. Raw provider errors can carry token material or response
// bodies, so only classified summaries ever surface.
func tenantMessage(err error) string {
	switch {
	case errors.Is(err, syncer.ErrCredential):
		return "spreadsheet authorization expired; please reconnect your account"
	case errors.Is(err, syncer.ErrSourceUnavailable):
		return "spreadsheet could not be read; check that it still exists and is shared"
	}
	return "sync failed"
}
