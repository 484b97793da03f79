// Package engine owns the bot's mutable state and drives deployments.
//
// The planner, shape, tier and risk packages are pure. Engine wraps them:
//
//  1. Operator edits (settings, curve, tiers, thresholds, overrides) go
//     through a single writer, are validated, persisted, logged to the
//     activity log and broadcast as events.
//  2. Preview gathers a consistent snapshot (state, balance, exposure,
//     resting orders) and hands it to planner.Compute.
//  3. Deploy and Withdraw hold an exclusive deploy lock so cancels and
//     placements of two deployments never interleave.
//  4. A book stream keeps market.Books warm; a cron schedule can trigger
//     redeployments.
//
// Lifecycle: New() → Start() → [runs until shutdown] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"liquidity-mm/internal/config"
	"liquidity-mm/internal/market"
	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/internal/shape"
	"liquidity-mm/internal/store"
	"liquidity-mm/internal/tier"
	"liquidity-mm/pkg/types"
)

const eventBufferSize = 100

// Engine orchestrates planning, placement and operator edits.
type Engine struct {
	cfg    config.Config
	deps   Deps
	books  *market.Books
	logger *slog.Logger

	// state is the single source of truth for operator settings. Protected by mu.
	mu    sync.RWMutex
	state store.State

	// lastExposure caches the most recent exposure reading for activity
	// entries of config changes. Protected by mu.
	lastExposure int64

	// deployMu serializes Deploy and Withdraw.
	deployMu sync.Mutex

	events chan Event
	cron   *cron.Cron

	now   func() time.Time
	newID func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the engine and restores its state. Stored state wins over the
// config seed; without stored state the seed comes from cfg.Bot and the
// default shape of the library, if any.
func New(ctx context.Context, cfg config.Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if deps.Balance == nil || deps.Orders == nil || deps.Exposure == nil || deps.Activity == nil {
		return nil, fmt.Errorf("%w: engine requires balance, orders, exposure and activity collaborators", types.ErrInvalidInput)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		books:  market.NewBooks(),
		logger: logger.With("component", "engine"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		ctx:    runCtx,
		cancel: cancel,
	}
	if cfg.Dashboard.Enabled {
		e.events = make(chan Event, eventBufferSize)
	}

	if err := e.restore(ctx); err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

func (e *Engine) restore(ctx context.Context) error {
	st := store.State{
		Settings:   e.cfg.Bot.Settings(),
		Thresholds: risk.Sorted(e.cfg.Bot.Thresholds),
		Overrides:  map[string]planner.Override{},
	}

	if e.deps.Shapes != nil {
		def, err := e.deps.Shapes.Default()
		if err != nil {
			return fmt.Errorf("load default shape: %w", err)
		}
		if def != nil {
			st.Curve = def.Points
			st.DefaultShapeID = def.ID
		}
	}

	if e.deps.State != nil {
		stored, found, err := e.deps.State.LoadState(ctx)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if found {
			st = stored
			e.logger.Info("state restored",
				"tiers", len(st.Tiers),
				"curve_points", len(st.Curve),
				"active", st.Settings.IsActive,
			)
		}
	}
	if st.Overrides == nil {
		st.Overrides = map[string]planner.Override{}
	}

	e.state = st
	return nil
}

// Start launches the book stream, its consumer and the redeploy schedule.
func (e *Engine) Start() error {
	if feed := e.deps.Feed; feed != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("book feed error", "error", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeBooks()
		}()

		e.syncSubscriptions()
	}

	if spec := e.cfg.Schedule.Redeploy; spec != "" {
		e.cron = cron.New()
		if _, err := e.cron.AddFunc(spec, e.scheduledDeploy); err != nil {
			return fmt.Errorf("schedule redeploy %q: %w", spec, err)
		}
		e.cron.Start()
		e.logger.Info("redeploy scheduled", "spec", spec)
	}
	return nil
}

// Stop halts background work. Resting orders are left in place; use
// Withdraw to pull liquidity.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.cancel()
	e.wg.Wait()

	if e.deps.Feed != nil {
		if err := e.deps.Feed.Close(); err != nil {
			e.logger.Warn("close book feed", "error", err)
		}
	}
	e.logger.Info("shutdown complete")
}

func (e *Engine) scheduledDeploy() {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Minute)
	defer cancel()

	res, err := e.Deploy(ctx)
	if err != nil {
		e.logger.Error("scheduled deploy failed", "error", err)
		return
	}
	e.logger.Info("scheduled deploy complete",
		"status", res.Plan.Status,
		"placed", res.Placed,
		"failed_markets", res.FailedMarkets,
	)
}

// State returns a deep copy of the current bot state.
func (e *Engine) State() store.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneState(e.state)
}

// Books exposes the resting-order cache.
func (e *Engine) Books() *market.Books {
	return e.books
}

// Risk reads current exposure and evaluates the pullback schedule.
func (e *Engine) Risk(ctx context.Context) (risk.Snapshot, error) {
	exposure, err := e.exposure(ctx)
	if err != nil {
		return risk.Snapshot{}, err
	}
	st := e.State()
	return risk.Evaluate(st.Thresholds, exposure, st.Settings.MaxAcceptableLoss, e.now().UTC())
}

// Pullback returns the multiplier the current thresholds yield at an
// exposure percentage.
func (e *Engine) Pullback(exposurePct float64) (float64, error) {
	e.mu.RLock()
	thresholds := risk.Sorted(e.state.Thresholds)
	e.mu.RUnlock()
	return risk.Multiplier(thresholds, exposurePct)
}

// callCtx bounds a single collaborator call.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.cfg.Exchange.RequestTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) exposure(ctx context.Context) (int64, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()

	exposure, err := e.deps.Exposure.GetExposure(cctx)
	if err != nil {
		return 0, fmt.Errorf("%w: get exposure: %w", errCollaborator, err)
	}
	if exposure < 0 {
		return 0, fmt.Errorf("%w: exposure %d", types.ErrInvalidInput, exposure)
	}

	e.mu.Lock()
	e.lastExposure = exposure
	e.mu.Unlock()
	return exposure, nil
}

// record writes an activity entry. Failures are logged, never returned: the
// change it describes has already happened.
func (e *Engine) record(ctx context.Context, action types.Action, details string, before, after int64) {
	a := types.Activity{
		ID:             e.newID(),
		Action:         action,
		Details:        details,
		ExposureBefore: before,
		ExposureAfter:  after,
		Timestamp:      e.now().UTC(),
	}
	cctx, cancel := e.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.deps.Activity.Record(cctx, a); err != nil {
		e.logger.Error("record activity", "action", action, "error", err)
	}
}

func cloneState(st store.State) store.State {
	out := st
	out.Curve = append([]shape.Point(nil), st.Curve...)
	out.Tiers = tier.Clone(st.Tiers)
	out.Thresholds = append([]risk.Threshold(nil), st.Thresholds...)
	out.Placed = append([]string(nil), st.Placed...)
	out.Overrides = make(map[string]planner.Override, len(st.Overrides))
	for id, o := range st.Overrides {
		o.Curve = append([]shape.Point(nil), o.Curve...)
		out.Overrides[id] = o
	}
	return out
}

// errCollaborator marks failures of external collaborators so the dashboard
// can tell them apart from rejected input.
var errCollaborator = errors.New("collaborator failure")

// IsCollaboratorError reports whether err came from an external collaborator.
func IsCollaboratorError(err error) bool {
	return errors.Is(err, errCollaborator)
}
