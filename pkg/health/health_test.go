package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/pkg/collector"
	"github.com/stretchr/testify/assert"
)

func testMonitor() *Monitor {
	return &Monitor{
		startTime:              time.Now(),
		sources:                map[string]bool{},
		maxFailuresBeforeAlert: 3,
	}
}

func allUp() map[string]bool {
	return map[string]bool{
		collector.SourceCurrentPrices: true,
		collector.SourceForecast:      true,
		collector.SourceBattery:       true,
		collector.SourceWeather:       true,
		collector.SourceGrid:          true,
	}
}

func TestHealthyAfterSuccess(t *testing.T) {
	m := testMonitor()
	m.RecordSources(allUp())
	m.RecordCycleSuccess()

	s := m.Status()
	assert.Equal(t, StateHealthy, s.State)
	assert.Equal(t, 1, s.TotalCycles)
	assert.Equal(t, 0, s.TotalFailures)
	assert.False(t, s.LastSuccessfulCycle.IsZero())
}

func TestDegradedWhenSourceDown(t *testing.T) {
	m := testMonitor()
	sources := allUp()
	sources[collector.SourceWeather] = false
	m.RecordSources(sources)
	m.RecordCycleSuccess()

	s := m.Status()
	assert.Equal(t, StateDegraded, s.State)
	assert.False(t, s.Sources[collector.SourceWeather])
}

func TestCriticalWhenRetailerDown(t *testing.T) {
	m := testMonitor()
	sources := allUp()
	sources[collector.SourceCurrentPrices] = false
	m.RecordSources(sources)
	m.RecordCycleSuccess()

	assert.Equal(t, StateCritical, m.Status().State)
}

func TestCriticalAfterConsecutiveFailures(t *testing.T) {
	m := testMonitor()
	m.RecordSources(allUp())
	ctx := context.Background()
	boom := errors.New("boom")

	m.RecordCycleFailure(ctx, boom)
	m.RecordCycleFailure(ctx, boom)
	assert.Equal(t, StateHealthy, m.Status().State)

	m.RecordCycleFailure(ctx, boom)
	s := m.Status()
	assert.Equal(t, StateCritical, s.State)
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Equal(t, 3, s.TotalFailures)

	// a success clears the streak
	m.RecordCycleSuccess()
	assert.Equal(t, StateHealthy, m.Status().State)
	assert.Equal(t, 0, m.Status().ConsecutiveFailures)
	assert.Equal(t, 3, m.Status().TotalFailures)
}

func TestSourceRecoveryClearsDegraded(t *testing.T) {
	m := testMonitor()
	sources := allUp()
	sources[collector.SourceGrid] = false
	m.RecordSources(sources)
	assert.Equal(t, StateDegraded, m.Status().State)

	m.RecordSources(allUp())
	assert.Equal(t, StateHealthy, m.Status().State)
}

func TestValidate(t *testing.T) {
	m := testMonitor()
	assert.NoError(t, m.Validate())

	m.maxFailuresBeforeAlert = 0
	assert.Error(t, m.Validate())
}
