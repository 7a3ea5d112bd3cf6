package engine

import (
	"context"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/pkg/amber"
	"github.com/gridpilot/gridpilot/pkg/forecast"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/storage/storagemock"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubCollector struct {
	snap    *types.Snapshot
	sources map[string]bool
}

func (s *stubCollector) Collect(ctx context.Context, prof *types.UsageProfile) (*types.Snapshot, map[string]bool) {
	return s.snap, s.sources
}

func (s *stubCollector) BatteryConfig() types.BatteryConfig {
	return types.BatteryConfig{
		CapacityKWH:         13.5,
		MaxChargeKW:         5,
		MaxDischargeKW:      5,
		RoundTripEfficiency: 0.9,
		MinSOCPct:           20,
		CycleCostCents:      5,
	}
}

type stubDecider struct {
	decision types.Decision
	panics   bool
	// panicWithPrices only panics when the snapshot carries price data, so
	// the price-free fallback snapshot still yields a decision
	panicWithPrices bool
	calls           int
}

func (s *stubDecider) Decide(ctx context.Context, snap *types.Snapshot, plan *types.DayPlan) types.Decision {
	s.calls++
	if s.panics || (s.panicWithPrices && snap.CurrentImportPrice != nil) {
		panic("decider exploded")
	}
	return s.decision
}

type stubPlanner struct {
	plan   *types.DayPlan
	builds int
}

func (s *stubPlanner) Build(now time.Time, windows []forecast.Window, prof *types.UsageProfile, solar []types.SolarForecast, battery types.BatteryConfig) *types.DayPlan {
	s.builds++
	return s.plan
}

type stubLearner struct {
	profile *types.UsageProfile
	learns  int
	loadErr error
}

func (s *stubLearner) LoadOrLearn(ctx context.Context, now time.Time) (*types.UsageProfile, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.profile, nil
}

func (s *stubLearner) Learn(ctx context.Context, now time.Time) (*types.UsageProfile, error) {
	s.learns++
	return s.profile, nil
}

type stubHealth struct {
	sources   map[string]bool
	successes int
	failures  int
	summaries int
}

func (s *stubHealth) RecordSources(sources map[string]bool)           { s.sources = sources }
func (s *stubHealth) RecordCycleSuccess()                             { s.successes++ }
func (s *stubHealth) RecordCycleFailure(ctx context.Context, e error) { s.failures++ }
func (s *stubHealth) LogSummary(ctx context.Context)                  { s.summaries++ }

type stubBroadcaster struct {
	decisions []types.Decision
}

func (s *stubBroadcaster) Broadcast(ctx context.Context, d types.Decision) {
	s.decisions = append(s.decisions, d)
}

func testSnapshot(now time.Time) *types.Snapshot {
	return &types.Snapshot{
		Timestamp: now,
		CurrentImportPrice: &types.PriceInterval{
			PerKWHCents: 25,
			Channel:     types.ChannelGeneral,
		},
		CurrentExportPrice: &types.PriceInterval{
			PerKWHCents: 5,
			Channel:     types.ChannelFeedIn,
		},
		Battery:        types.BatteryConfig{CapacityKWH: 13.5, MaxChargeKW: 5, MaxDischargeKW: 5, RoundTripEfficiency: 0.9, MinSOCPct: 20}.DefaultState(),
		CurrentSolarKW: 1.2,
		Descriptor:     types.DescriptorNeutral,
	}
}

func testEngine(col *stubCollector, dec *stubDecider, pln *stubPlanner, lrn *stubLearner, db storage.Database, hlt *stubHealth, brd *stubBroadcaster) *Engine {
	e := &Engine{tick: 5 * time.Minute}
	e.Bind(col, dec, pln, lrn, db, hlt, brd, &inverter.LogInverter{}, nil, "site-1")
	return e
}

func TestCyclePersistsAndPublishes(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{"retailer_current": true}}
	dec := &stubDecider{decision: types.Decision{ID: "d1", Timestamp: now, Action: types.ActionIdle, Confidence: 0.6}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	lrn := &stubLearner{}
	hlt := &stubHealth{}
	brd := &stubBroadcaster{}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, "site-1", mock.Anything).Return(nil)

	e := testEngine(col, dec, pln, lrn, db, hlt, brd)
	e.runCycle(context.Background(), now)

	require.NotNil(t, e.LatestDecision())
	assert.Equal(t, "d1", e.LatestDecision().ID)
	assert.Same(t, col.snap, e.LatestSnapshot())
	assert.Equal(t, 1, hlt.successes)
	assert.Equal(t, 0, hlt.failures)
	assert.Equal(t, map[string]bool{"retailer_current": true}, hlt.sources)
	require.Len(t, brd.decisions, 1)
	assert.Equal(t, "d1", brd.decisions[0].ID)

	db.AssertCalled(t, "AppendDecision", mock.Anything, "site-1", mock.MatchedBy(func(rec storage.DecisionRecord) bool {
		return rec.Decision.ID == "d1" && rec.ImportCents == 25 && rec.SolarKW == 1.2
	}))
}

func TestPlanReusedWhileFresh(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{decision: types.Decision{Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e := testEngine(col, dec, pln, &stubLearner{}, db, &stubHealth{}, &stubBroadcaster{})
	e.runCycle(context.Background(), now)
	e.runCycle(context.Background(), now.Add(5*time.Minute))

	// built once on the first cycle, then reused
	assert.Equal(t, 1, pln.builds)
	assert.Same(t, pln.plan, e.CurrentPlan())
}

func TestPlanRebuiltOnHourChange(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 59, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{decision: types.Decision{Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e := testEngine(col, dec, pln, &stubLearner{}, db, &stubHealth{}, &stubBroadcaster{})
	e.runCycle(context.Background(), now)
	e.runCycle(context.Background(), now.Add(5*time.Minute)) // 13:04, new hour

	assert.Equal(t, 2, pln.builds)
}

func TestCyclePanicRecordedNotFatal(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{panics: true}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	hlt := &stubHealth{}
	db := &storagemock.MockDatabase{}

	e := testEngine(col, dec, pln, &stubLearner{}, db, hlt, &stubBroadcaster{})
	require.NotPanics(t, func() {
		e.runCycle(context.Background(), now)
	})

	assert.Equal(t, 1, hlt.failures)
	assert.Equal(t, 0, hlt.successes)
	assert.Nil(t, e.LatestDecision())
}

func TestCyclePanicEmitsFallback(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{panicWithPrices: true, decision: types.Decision{ID: "fb", Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	hlt := &stubHealth{}
	brd := &stubBroadcaster{}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, "site-1", mock.MatchedBy(func(rec storage.DecisionRecord) bool {
		return rec.Decision.ID == "fb" && rec.ImportCents == 0 && rec.SolarKW == 0
	})).Return(nil)

	e := testEngine(col, dec, pln, &stubLearner{}, db, hlt, brd)
	e.runCycle(context.Background(), now)

	assert.Equal(t, 1, hlt.failures)
	require.NotNil(t, e.LatestDecision())
	assert.Equal(t, "fb", e.LatestDecision().ID)
	require.Len(t, brd.decisions, 1)

	// the fallback decision still lands in the decision log
	db.AssertCalled(t, "AppendDecision", mock.Anything, "site-1", mock.Anything)
}

type stubCosts struct {
	cost  amber.DailyCost
	calls int
}

func (s *stubCosts) GetDailyCost(ctx context.Context, date time.Time) (amber.DailyCost, error) {
	s.calls++
	return s.cost, nil
}

func TestDailyCostRefreshedHourly(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{decision: types.Decision{Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	costs := &stubCosts{cost: amber.DailyCost{Date: "2026-08-26", NetCostCents: 55}}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e := &Engine{tick: 5 * time.Minute}
	e.Bind(col, dec, pln, &stubLearner{}, db, &stubHealth{}, &stubBroadcaster{}, &inverter.LogInverter{}, costs, "site-1")

	e.runCycle(context.Background(), now)
	require.NotNil(t, e.DailyCost())
	assert.Equal(t, 55.0, e.DailyCost().NetCostCents)
	assert.Equal(t, 1, costs.calls)

	// within the hour the cached summary is reused
	e.runCycle(context.Background(), now.Add(5*time.Minute))
	assert.Equal(t, 1, costs.calls)

	e.runCycle(context.Background(), now.Add(time.Hour))
	assert.Equal(t, 2, costs.calls)
}

func TestRelearnOncePerDay(t *testing.T) {
	twoAM := time.Date(2026, 8, 26, 2, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(twoAM), sources: map[string]bool{}}
	dec := &stubDecider{decision: types.Decision{Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: twoAM, BuiltHour: twoAM.Hour()}}
	lrn := &stubLearner{profile: &types.UsageProfile{DaysAnalysed: 14}}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e := testEngine(col, dec, pln, lrn, db, &stubHealth{}, &stubBroadcaster{})
	e.runCycle(context.Background(), twoAM)
	e.runCycle(context.Background(), twoAM.Add(5*time.Minute))
	assert.Equal(t, 1, lrn.learns)

	// noon does not trigger
	e.runCycle(context.Background(), twoAM.Add(10*time.Hour))
	assert.Equal(t, 1, lrn.learns)

	// next day's 2am window does
	e.runCycle(context.Background(), twoAM.Add(24*time.Hour))
	assert.Equal(t, 2, lrn.learns)
}

func TestHealthSummaryCadence(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{decision: types.Decision{Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	hlt := &stubHealth{}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e := testEngine(col, dec, pln, &stubLearner{}, db, hlt, &stubBroadcaster{})
	for i := 0; i < summaryEveryTicks; i++ {
		e.runCycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
	}
	assert.Equal(t, 1, hlt.summaries)
}

func TestRunStopsOnCancel(t *testing.T) {
	now := time.Now()
	col := &stubCollector{snap: testSnapshot(now), sources: map[string]bool{}}
	dec := &stubDecider{decision: types.Decision{Action: types.ActionIdle}}
	pln := &stubPlanner{plan: &types.DayPlan{CreatedAt: now, BuiltHour: now.Hour()}}
	db := &storagemock.MockDatabase{}
	db.On("AppendDecision", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e := testEngine(col, dec, pln, &stubLearner{}, db, &stubHealth{}, &stubBroadcaster{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// let the immediate first cycle land, then cancel
	require.Eventually(t, func() bool { return e.LatestDecision() != nil }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	col := &stubCollector{snap: testSnapshot(now)}
	e := testEngine(col, &stubDecider{}, &stubPlanner{}, &stubLearner{}, &storagemock.MockDatabase{}, &stubHealth{}, &stubBroadcaster{})
	assert.NoError(t, e.Validate())

	e.tick = time.Second
	assert.Error(t, e.Validate())
}
