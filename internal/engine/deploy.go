package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/tier"
	"liquidity-mm/pkg/types"
)

// MarketResult is the outcome of cancel-then-place on one market.
type MarketResult struct {
	MarketID  string   `json:"market_id"`
	Cancelled int      `json:"cancelled"`
	Refund    int64    `json:"refund"`
	Placed    int      `json:"placed"`
	Rejected  int      `json:"rejected"`
	OrderIDs  []string `json:"order_ids,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// DeployResult summarizes a deployment.
type DeployResult struct {
	Plan           planner.Plan   `json:"plan"`
	Markets        []MarketResult `json:"markets"`
	Placed         int            `json:"placed"`
	FailedMarkets  int            `json:"failed_markets"`
	ExposureBefore int64          `json:"exposure_before"`
	ExposureAfter  int64          `json:"exposure_after"`
	Skipped        string         `json:"skipped,omitempty"` // reason nothing was placed
}

// WithdrawResult summarizes a withdrawal.
type WithdrawResult struct {
	Markets        []MarketResult `json:"markets"`
	Cancelled      int            `json:"cancelled"`
	Refund         int64          `json:"refund"`
	FailedMarkets  int            `json:"failed_markets"`
	ExposureBefore int64          `json:"exposure_before"`
	ExposureAfter  int64          `json:"exposure_after"`
}

// Preview computes the plan a deploy would place right now.
func (e *Engine) Preview(ctx context.Context) (planner.Plan, error) {
	in, err := e.buildInput(ctx)
	if err != nil {
		return planner.Plan{}, err
	}
	plan, err := planner.Compute(in)
	if err != nil {
		return planner.Plan{}, fmt.Errorf("compute plan: %w", err)
	}
	e.emit(EventPlan, "", plan)
	return plan, nil
}

// buildInput reads one consistent snapshot of everything the planner needs.
// State is copied under the read lock; collaborator reads happen after.
func (e *Engine) buildInput(ctx context.Context) (planner.Input, error) {
	st := e.State()

	in := planner.Input{
		Settings:      st.Settings,
		Curve:         st.Curve,
		Weights:       tier.EffectiveWeights(st.Tiers),
		Thresholds:    st.Thresholds,
		Overrides:     st.Overrides,
		OfferSide:     types.Side(e.cfg.Planner.OfferSide),
		MinOrderUnits: e.cfg.Planner.MinOrderUnits,
		CrossRule:     planner.CrossRule(e.cfg.Planner.CrossRule),
		Now:           e.now().UTC(),
	}
	if in.CrossRule == "" {
		in.CrossRule = planner.CrossGTE
	}

	exposure, err := e.exposure(ctx)
	if err != nil {
		return planner.Input{}, err
	}
	in.Exposure = exposure

	bctx, cancel := e.callCtx(ctx)
	balance, err := e.deps.Balance.GetEffectiveBalance(bctx)
	cancel()
	if err != nil {
		return planner.Input{}, fmt.Errorf("%w: get balance: %w", errCollaborator, err)
	}
	in.Balance = balance

	if !st.Settings.IsActive {
		return in, nil
	}

	in.RestingOrders = make(map[string][]types.RestingOrder)
	for _, id := range sortedKeys(in.Weights) {
		if in.Weights[id] <= 0 {
			continue
		}
		if o, ok := in.Overrides[id]; ok && o.Mode == planner.OverrideDisable {
			continue
		}
		snap, err := e.restingOrders(ctx, id)
		if err != nil {
			return planner.Input{}, err
		}
		in.RestingOrders[id] = snap.Orders
		if in.BookAsOf.IsZero() || snap.Timestamp.Before(in.BookAsOf) {
			in.BookAsOf = snap.Timestamp
		}
	}
	return in, nil
}

// restingOrders prefers a fresh streamed book and falls back to REST.
func (e *Engine) restingOrders(ctx context.Context, marketID string) (types.BookSnapshot, error) {
	if snap, fresh := e.books.Get(marketID, e.cfg.Exchange.BookMaxAge); fresh {
		return snap, nil
	}

	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	snap, err := e.deps.Orders.GetRestingOrders(cctx, marketID)
	if err != nil {
		return types.BookSnapshot{}, fmt.Errorf("%w: resting orders %s: %w", errCollaborator, marketID, err)
	}
	if snap.MarketID == "" {
		snap.MarketID = marketID
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = e.now().UTC()
	}
	e.books.Set(snap)
	return snap, nil
}

// Deploy computes a fresh plan and, per weighted market, cancels the resting
// orders and places the planned ones. Markets that held orders from an
// earlier deploy but are no longer weighted are cancelled as well. Nothing
// is touched when the plan cannot be computed, the bot is inactive, or the
// balance does not cover the plan. Per-market failures are collected; other
// markets proceed.
func (e *Engine) Deploy(ctx context.Context) (DeployResult, error) {
	e.deployMu.Lock()
	defer e.deployMu.Unlock()

	plan, err := e.Preview(ctx)
	if err != nil {
		return DeployResult{}, err
	}

	before := e.cachedExposure()
	res := DeployResult{
		Plan:           plan,
		Markets:        []MarketResult{},
		ExposureBefore: before,
		ExposureAfter:  before,
	}

	if plan.Status == planner.StatusInactive {
		return e.skipDeploy(ctx, res), nil
	}
	if plan.Status == planner.StatusOK && !plan.HasSufficientBalance {
		return DeployResult{}, fmt.Errorf("%w: insufficient balance: shortfall %d", types.ErrInvalidOperation, plan.Shortfall)
	}

	// With an ok plan every weighted market is cleared, including those whose
	// new order set is empty (disabled, or pulled back to zero). Otherwise
	// only markets that dropped out of the weights are cleared.
	var targets []planner.MarketPlan
	if plan.Status == planner.StatusOK {
		targets = append(targets, plan.Markets...)
	}
	planned := make(map[string]bool, len(plan.Markets))
	for _, mp := range plan.Markets {
		planned[mp.MarketID] = true
	}
	for _, id := range e.placedMarkets() {
		if !planned[id] {
			targets = append(targets, planner.MarketPlan{MarketID: id})
		}
	}
	if len(targets) == 0 {
		return e.skipDeploy(ctx, res), nil
	}

	for _, mp := range targets {
		mr := e.replaceOrders(ctx, mp.MarketID, mp.Orders)
		res.Placed += mr.Placed
		if mr.Error != "" {
			res.FailedMarkets++
		}
		res.Markets = append(res.Markets, mr)
	}
	e.trackPlaced(ctx, res.Markets)
	if plan.Status != planner.StatusOK {
		res.Skipped = string(plan.Status)
	}

	if after, err := e.exposure(ctx); err != nil {
		e.logger.Warn("read exposure after deploy", "error", err)
	} else {
		res.ExposureAfter = after
	}

	e.logger.Info("deploy complete",
		"markets", len(res.Markets),
		"placed", res.Placed,
		"failed_markets", res.FailedMarkets,
		"total_cost", plan.TotalCost,
	)
	e.record(ctx, types.ActionDeploy, deployDetails(res), res.ExposureBefore, res.ExposureAfter)
	e.emit(EventDeploy, "", res)
	return res, nil
}

func (e *Engine) skipDeploy(ctx context.Context, res DeployResult) DeployResult {
	res.Skipped = string(res.Plan.Status)
	e.logger.Info("deploy skipped", "reason", res.Skipped)
	e.record(ctx, types.ActionDeploy, "skipped: "+res.Skipped, res.ExposureBefore, res.ExposureAfter)
	e.emit(EventDeploy, "", res)
	return res
}

func (e *Engine) replaceOrders(ctx context.Context, marketID string, orders []types.Order) MarketResult {
	mr := MarketResult{MarketID: marketID}

	cctx, cancel := e.callCtx(ctx)
	cres, err := e.deps.Orders.CancelAllOrders(cctx, marketID)
	cancel()
	if err != nil {
		mr.Error = fmt.Sprintf("cancel: %v", err)
		e.logger.Error("cancel before place failed", "market", marketID, "error", err)
		return mr
	}
	mr.Cancelled = cres.CancelledCount
	mr.Refund = cres.Refund
	if len(orders) == 0 {
		return mr
	}

	pctx, cancel := e.callCtx(ctx)
	pres, err := e.deps.Orders.PlaceOrders(pctx, marketID, orders)
	cancel()
	mr.Placed = len(pres.OrderIDs)
	mr.Rejected = pres.Rejected
	mr.OrderIDs = pres.OrderIDs
	if err != nil {
		mr.Error = fmt.Sprintf("place: %v", err)
		e.logger.Error("place orders failed", "market", marketID, "placed", mr.Placed, "error", err)
	}
	return mr
}

// Withdraw cancels all resting orders on the given markets. With none given
// it covers every tiered market plus any market still holding orders from an
// earlier deploy.
func (e *Engine) Withdraw(ctx context.Context, marketIDs []string) (WithdrawResult, error) {
	e.deployMu.Lock()
	defer e.deployMu.Unlock()

	if len(marketIDs) == 0 {
		ids := make(map[string]bool)
		for id := range tier.EffectiveWeights(e.State().Tiers) {
			ids[id] = true
		}
		for _, id := range e.placedMarkets() {
			ids[id] = true
		}
		marketIDs = sortedKeys(ids)
	}

	before, err := e.exposure(ctx)
	if err != nil {
		return WithdrawResult{}, err
	}

	res := WithdrawResult{Markets: []MarketResult{}, ExposureBefore: before, ExposureAfter: before}
	for _, id := range marketIDs {
		mr := MarketResult{MarketID: id}
		cctx, cancel := e.callCtx(ctx)
		cres, err := e.deps.Orders.CancelAllOrders(cctx, id)
		cancel()
		if err != nil {
			mr.Error = fmt.Sprintf("cancel: %v", err)
			res.FailedMarkets++
			e.logger.Error("withdraw failed", "market", id, "error", err)
		} else {
			mr.Cancelled = cres.CancelledCount
			mr.Refund = cres.Refund
			res.Cancelled += cres.CancelledCount
			res.Refund += cres.Refund
		}
		res.Markets = append(res.Markets, mr)
	}
	e.trackPlaced(ctx, res.Markets)

	if after, err := e.exposure(ctx); err != nil {
		e.logger.Warn("read exposure after withdraw", "error", err)
	} else {
		res.ExposureAfter = after
	}

	e.logger.Info("withdraw complete", "markets", len(marketIDs), "cancelled", res.Cancelled, "refund", res.Refund)
	details := fmt.Sprintf("markets=%d cancelled=%d refund=%d failed=%d",
		len(marketIDs), res.Cancelled, res.Refund, res.FailedMarkets)
	e.record(ctx, types.ActionWithdraw, details, res.ExposureBefore, res.ExposureAfter)
	e.emit(EventWithdraw, "", res)
	return res, nil
}

func (e *Engine) placedMarkets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.state.Placed...)
}

// trackPlaced folds per-market results into the placed set and persists it.
// A market leaves the set only when its cancel succeeded and nothing new was
// placed there.
func (e *Engine) trackPlaced(ctx context.Context, results []MarketResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := make(map[string]bool, len(e.state.Placed)+len(results))
	for _, id := range e.state.Placed {
		set[id] = true
	}
	for _, mr := range results {
		set[mr.MarketID] = mr.Placed > 0 || mr.Error != ""
	}
	var next []string
	for _, id := range sortedKeys(set) {
		if set[id] {
			next = append(next, id)
		}
	}
	if slices.Equal(next, e.state.Placed) {
		return
	}

	if e.deps.State != nil {
		st := cloneState(e.state)
		st.Placed = next
		cctx, cancel := e.callCtx(ctx)
		err := e.deps.State.SaveState(cctx, st)
		cancel()
		if err != nil {
			e.logger.Error("save placed markets", "markets", next, "error", err)
		}
	}
	e.state.Placed = next
}

func (e *Engine) cachedExposure() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastExposure
}

func deployDetails(res DeployResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "markets=%d orders=%d placed=%d cost=%d multiplier=%.4f",
		res.Plan.TotalMarkets, res.Plan.TotalOrders, res.Placed, res.Plan.TotalCost, res.Plan.PullbackMultiplier)
	if res.FailedMarkets > 0 {
		fmt.Fprintf(&b, " failed=%d", res.FailedMarkets)
	}
	if res.Plan.AutoMatch.Pairs > 0 {
		fmt.Fprintf(&b, " auto_match_pairs=%d", res.Plan.AutoMatch.Pairs)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
