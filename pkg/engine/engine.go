// Package engine runs the tick loop: collect a snapshot, keep the day plan
// fresh, decide, persist, publish.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/amber"
	"github.com/gridpilot/gridpilot/pkg/forecast"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// the profile is rebuilt once a day in the quiet early-morning window
const relearnHour = 2

// summaryEveryTicks is how often the health summary line is written.
const summaryEveryTicks = 12

// Snapshotter produces the per-tick snapshot and per-source availability.
type Snapshotter interface {
	Collect(ctx context.Context, prof *types.UsageProfile) (*types.Snapshot, map[string]bool)
	BatteryConfig() types.BatteryConfig
}

// Decider turns a snapshot and an optional plan into exactly one decision.
type Decider interface {
	Decide(ctx context.Context, snap *types.Snapshot, plan *types.DayPlan) types.Decision
}

// PlanBuilder builds the day-ahead schedule.
type PlanBuilder interface {
	Build(now time.Time, windows []forecast.Window, prof *types.UsageProfile, solar []types.SolarForecast, battery types.BatteryConfig) *types.DayPlan
}

// ProfileLearner loads or rebuilds the usage profile.
type ProfileLearner interface {
	LoadOrLearn(ctx context.Context, now time.Time) (*types.UsageProfile, error)
	Learn(ctx context.Context, now time.Time) (*types.UsageProfile, error)
}

// HealthRecorder receives per-tick outcomes.
type HealthRecorder interface {
	RecordSources(sources map[string]bool)
	RecordCycleSuccess()
	RecordCycleFailure(ctx context.Context, err error)
	LogSummary(ctx context.Context)
}

// Broadcaster pushes each decision to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, d types.Decision)
}

// CostReporter aggregates a day of metered usage into a cost summary.
type CostReporter interface {
	GetDailyCost(ctx context.Context, date time.Time) (amber.DailyCost, error)
}

// Engine owns the loop state. It is also the StatusSource the HTTP server
// reads, so the published fields are guarded.
type Engine struct {
	tick time.Duration

	collector   Snapshotter
	supervisor  Decider
	planner     PlanBuilder
	learner     ProfileLearner
	db          storage.Database
	monitor     HealthRecorder
	broadcaster Broadcaster
	inverter    inverter.Inverter
	costs       CostReporter
	siteID      string

	mtx            sync.Mutex
	profile        *types.UsageProfile
	plan           *types.DayPlan
	latestDecision *types.Decision
	latestSnapshot *types.Snapshot
	prevDescriptor types.PriceDescriptor
	lastLearnDate  string
	tickCount      int
	dailyCost      *amber.DailyCost
	lastCostFetch  time.Time
}

// Configured initializes the Engine.
// It uses lflag to register command-line flags for configuration.
func Configured() *Engine {
	e := &Engine{}
	tick := lflag.Duration("decision-interval", 5*time.Minute, "How often a decision cycle runs")

	lflag.Do(func() {
		e.tick = *tick
	})

	return e
}

// Bind wires the engine's collaborators. Must be called before Run.
func (e *Engine) Bind(collector Snapshotter, supervisor Decider, plan PlanBuilder, learner ProfileLearner, db storage.Database, monitor HealthRecorder, broadcaster Broadcaster, inv inverter.Inverter, costs CostReporter, siteID string) {
	e.collector = collector
	e.supervisor = supervisor
	e.planner = plan
	e.learner = learner
	e.db = db
	e.monitor = monitor
	e.broadcaster = broadcaster
	e.inverter = inv
	e.costs = costs
	e.siteID = siteID
}

// Validate ensures the configuration is usable.
func (e *Engine) Validate() error {
	if e.tick < time.Minute {
		return fmt.Errorf("decision-interval must be at least 1m")
	}
	if e.collector == nil || e.supervisor == nil || e.planner == nil || e.learner == nil {
		return fmt.Errorf("engine is missing a bound dependency")
	}
	return nil
}

// Run executes decision cycles until the context is cancelled. A failed cycle
// is recorded and the loop continues; only cancellation stops it.
func (e *Engine) Run(ctx context.Context) error {
	if prof, err := e.learner.LoadOrLearn(ctx, time.Now()); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "starting without a usage profile", slog.Any("error", err))
	} else {
		e.mtx.Lock()
		e.profile = prof
		e.mtx.Unlock()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			e.monitor.LogSummary(context.WithoutCancel(ctx))
			return nil
		case <-timer.C:
		}
		e.runCycle(ctx, time.Now())
		timer.Reset(e.tick)
	}
}

// LatestDecision returns the most recent decision, or nil before the first
// cycle completes.
func (e *Engine) LatestDecision() *types.Decision {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.latestDecision
}

// CurrentPlan returns the active day plan, or nil when none has been built.
func (e *Engine) CurrentPlan() *types.DayPlan {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.plan
}

// LatestSnapshot returns the snapshot from the most recent cycle.
func (e *Engine) LatestSnapshot() *types.Snapshot {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.latestSnapshot
}

// DailyCost returns today's running cost summary, or nil until the first
// successful fetch.
func (e *Engine) DailyCost() *amber.DailyCost {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.dailyCost
}

// runCycle performs one full decision cycle. A panic inside the cycle is
// converted into a recorded failure so the loop survives it.
func (e *Engine) runCycle(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.monitor.RecordCycleFailure(ctx, fmt.Errorf("cycle panic: %v", r))
			e.emitFallback(ctx, now)
		}
	}()

	e.mtx.Lock()
	prof := e.profile
	e.mtx.Unlock()

	snap, sources := e.collector.Collect(ctx, prof)
	e.monitor.RecordSources(sources)

	stats := forecast.Analyse(snap.PriceForecast)
	plan := e.refreshPlan(ctx, now, snap, prof)

	d := e.supervisor.Decide(ctx, snap, plan)

	if err := e.inverter.Apply(ctx, d); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "inverter rejected command",
			slog.String("action", string(d.Action)), slog.Any("error", err))
	}

	rec := storage.DecisionRecord{
		Decision:         d,
		ForecastAvgCents: stats.ForecastAvgCents,
		ForecastMaxCents: stats.ForecastMaxCents,
		SolarKW:          snap.CurrentSolarKW,
	}
	if snap.CurrentImportPrice != nil {
		rec.ImportCents = snap.CurrentImportPrice.PerKWHCents
	}
	if snap.CurrentExportPrice != nil {
		rec.ExportCents = snap.CurrentExportPrice.PerKWHCents
	}
	if err := e.db.AppendDecision(ctx, e.siteID, rec); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist decision", slog.Any("error", err))
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(ctx, d)
	}

	e.mtx.Lock()
	e.latestDecision = &d
	e.latestSnapshot = snap
	e.prevDescriptor = snap.Descriptor
	e.tickCount++
	tickCount := e.tickCount
	e.mtx.Unlock()

	e.monitor.RecordCycleSuccess()
	if tickCount%summaryEveryTicks == 0 {
		e.monitor.LogSummary(ctx)
	}

	e.maybeRelearn(ctx, now)
	e.refreshDailyCost(ctx, now)
}

// emitFallback publishes a conservative decision after a cycle panic so
// downstream consumers still see one decision per tick. The supervisor's
// no-price path cannot depend on the data that broke the cycle.
func (e *Engine) emitFallback(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "fallback decision also panicked", slog.Any("panic", r))
		}
	}()

	snap := &types.Snapshot{
		Timestamp: now,
		Battery:   e.collector.BatteryConfig().DefaultState(),
	}
	d := e.supervisor.Decide(ctx, snap, nil)

	if err := e.inverter.Apply(ctx, d); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "inverter rejected fallback command", slog.Any("error", err))
	}

	// the fallback has no price context, but it still belongs in the decision
	// log so the history shows one decision per tick
	if err := e.db.AppendDecision(ctx, e.siteID, storage.DecisionRecord{Decision: d}); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist fallback decision", slog.Any("error", err))
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(ctx, d)
	}

	e.mtx.Lock()
	e.latestDecision = &d
	e.mtx.Unlock()
}

// refreshDailyCost keeps today's cost summary roughly an hour fresh. Failures
// keep the previous summary.
func (e *Engine) refreshDailyCost(ctx context.Context, now time.Time) {
	if e.costs == nil {
		return
	}
	e.mtx.Lock()
	due := now.Sub(e.lastCostFetch) >= time.Hour
	if due {
		e.lastCostFetch = now
	}
	e.mtx.Unlock()
	if !due {
		return
	}

	dc, err := e.costs.GetDailyCost(ctx, now)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh daily cost", slog.Any("error", err))
		return
	}

	e.mtx.Lock()
	e.dailyCost = &dc
	e.mtx.Unlock()
}

// refreshPlan rebuilds the day plan when the current one has gone stale and
// returns whichever plan should drive this cycle.
func (e *Engine) refreshPlan(ctx context.Context, now time.Time, snap *types.Snapshot, prof *types.UsageProfile) *types.DayPlan {
	e.mtx.Lock()
	plan := e.plan
	prevDescriptor := e.prevDescriptor
	e.mtx.Unlock()

	if !planner.Stale(plan, now, prevDescriptor, snap.Descriptor) {
		return plan
	}

	general, feedIn := splitForecast(snap.PriceForecast)
	windows := forecast.BuildWindows(general, feedIn)
	plan = e.planner.Build(now, windows, prof, snap.SolarForecast, e.collector.BatteryConfig())

	log.Ctx(ctx).InfoContext(ctx, "rebuilt day plan",
		slog.Int("scheduledActions", len(plan.Schedule)),
		slog.Int("arbitragePairs", plan.Summary.ArbitragePairs),
		slog.Float64("totalExpectedCents", plan.Summary.TotalExpectedCents))

	e.mtx.Lock()
	e.plan = plan
	e.mtx.Unlock()
	return plan
}

// maybeRelearn rebuilds the usage profile once per day around the relearn
// hour. A failed rebuild keeps the existing profile.
func (e *Engine) maybeRelearn(ctx context.Context, now time.Time) {
	today := now.Format("2006-01-02")

	e.mtx.Lock()
	due := now.Hour() == relearnHour && e.lastLearnDate != today
	e.mtx.Unlock()
	if !due {
		return
	}

	prof, err := e.learner.Learn(ctx, now)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "profile relearn failed, keeping existing profile", slog.Any("error", err))
		return
	}

	e.mtx.Lock()
	e.profile = prof
	e.lastLearnDate = today
	e.mtx.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "usage profile rebuilt", slog.Int("daysAnalysed", prof.DaysAnalysed))
}

func splitForecast(intervals []types.PriceInterval) (general, feedIn []types.PriceInterval) {
	for _, p := range intervals {
		switch p.Channel {
		case types.ChannelGeneral:
			general = append(general, p)
		case types.ChannelFeedIn:
			feedIn = append(feedIn, p)
		}
	}
	return general, feedIn
}
