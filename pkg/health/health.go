// Package health tracks tick cadence and per-source availability for the
// engine loop.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/collector"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// State is the coarse health classification.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateCritical State = "critical"
)

// Status is a point-in-time health report.
type Status struct {
	State               State           `json:"state"`
	LastSuccessfulCycle time.Time       `json:"lastSuccessfulCycle"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
	TotalCycles         int             `json:"totalCycles"`
	TotalFailures       int             `json:"totalFailures"`
	Sources             map[string]bool `json:"sources"`
	UptimeSeconds       float64         `json:"uptimeSeconds"`
}

// Monitor accumulates cycle and source results. Safe for concurrent use; the
// engine writes and the status server reads.
type Monitor struct {
	maxFailuresBeforeAlert int

	mtx                 sync.Mutex
	startTime           time.Time
	lastSuccessfulCycle time.Time
	consecutiveFailures int
	totalCycles         int
	totalFailures       int
	sources             map[string]bool
	alerted             bool
}

// Configured sets up flags for the monitor and returns the instance.
func Configured() *Monitor {
	m := &Monitor{
		startTime: time.Now(),
		sources:   map[string]bool{},
	}
	maxFailures := lflag.Int("health-max-failures-before-alert", 3, "Consecutive cycle failures before an alert is raised")

	lflag.Do(func() {
		m.maxFailuresBeforeAlert = *maxFailures
	})

	return m
}

// Validate ensures the configuration is usable.
func (m *Monitor) Validate() error {
	if m.maxFailuresBeforeAlert < 1 {
		return fmt.Errorf("health-max-failures-before-alert must be at least 1")
	}
	return nil
}

// RecordSources stores the latest per-source availability map.
func (m *Monitor) RecordSources(sources map[string]bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for name, ok := range sources {
		m.sources[name] = ok
	}
}

// RecordCycleSuccess marks a completed tick.
func (m *Monitor) RecordCycleSuccess() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.totalCycles++
	m.consecutiveFailures = 0
	m.lastSuccessfulCycle = time.Now()
	m.alerted = false
}

// RecordCycleFailure marks a failed tick. Crossing the configured threshold
// raises an alert once per failure streak.
func (m *Monitor) RecordCycleFailure(ctx context.Context, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.totalCycles++
	m.totalFailures++
	m.consecutiveFailures++

	log.Ctx(ctx).ErrorContext(ctx, "tick failed",
		slog.Int("consecutiveFailures", m.consecutiveFailures), slog.Any("error", err))

	if m.consecutiveFailures >= m.maxFailuresBeforeAlert && !m.alerted {
		m.alerted = true
		log.Ctx(ctx).ErrorContext(ctx, "HEALTH ALERT: consecutive tick failures crossed threshold",
			slog.Int("consecutiveFailures", m.consecutiveFailures),
			slog.Int("threshold", m.maxFailuresBeforeAlert))
	}
}

// Status reports the current health. Degraded means any source is down;
// critical means the failure streak crossed the threshold or the retailer
// itself is unreachable.
func (m *Monitor) Status() Status {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	sources := make(map[string]bool, len(m.sources))
	for name, ok := range m.sources {
		sources[name] = ok
	}

	state := StateHealthy
	for _, ok := range sources {
		if !ok {
			state = StateDegraded
			break
		}
	}
	if m.consecutiveFailures >= m.maxFailuresBeforeAlert {
		state = StateCritical
	}
	if retailerUp, tracked := sources[collector.SourceCurrentPrices]; tracked && !retailerUp {
		state = StateCritical
	}

	return Status{
		State:               state,
		LastSuccessfulCycle: m.lastSuccessfulCycle,
		ConsecutiveFailures: m.consecutiveFailures,
		TotalCycles:         m.totalCycles,
		TotalFailures:       m.totalFailures,
		Sources:             sources,
		UptimeSeconds:       time.Since(m.startTime).Seconds(),
	}
}

// LogSummary writes the periodic health summary line.
func (m *Monitor) LogSummary(ctx context.Context) {
	s := m.Status()
	log.Ctx(ctx).InfoContext(ctx, "health summary",
		slog.String("state", string(s.State)),
		slog.Int("totalCycles", s.TotalCycles),
		slog.Int("totalFailures", s.TotalFailures),
		slog.Int("consecutiveFailures", s.ConsecutiveFailures),
		slog.Time("lastSuccessfulCycle", s.LastSuccessfulCycle),
		slog.Float64("uptimeSeconds", s.UptimeSeconds),
		slog.Any("sources", s.Sources))
}
