package types

import (
	"fmt"
	"time"
)

// PlanAction is the action kind a scheduled window carries. It is a superset
// label space from BatteryAction: selling is "sell_grid" in plans.
type PlanAction string

const (
	PlanChargeGrid  PlanAction = "charge_grid"
	PlanSellGrid    PlanAction = "sell_grid"
	PlanSelfConsume PlanAction = "self_consume"
	PlanChargeSolar PlanAction = "charge_solar"
)

// BatteryAction maps the plan action to the command the controller emits.
func (a PlanAction) BatteryAction() BatteryAction {
	switch a {
	case PlanChargeGrid:
		return ActionChargeGrid
	case PlanSellGrid:
		return ActionDischargeGrid
	case PlanSelfConsume:
		return ActionDischargeHouse
	case PlanChargeSolar:
		return ActionChargeSolar
	}
	return ActionIdle
}

// ScheduledAction is one 30-minute window of the day-ahead plan.
// Start and End are local wall-clock "HH:MM".
type ScheduledAction struct {
	Start              string     `json:"start"`
	End                string     `json:"end"`
	Action             PlanAction `json:"action"`
	Reason             string     `json:"reason"`
	ImportPriceCents   float64    `json:"importPriceCents"`
	ExportPriceCents   float64    `json:"exportPriceCents"`
	ExpectedValueCents float64    `json:"expectedValueCents"`
	Priority           int        `json:"priority"` // 1 arbitrage, 2 self-consume, 3 solar charge
}

// PlanSummary carries the plan's aggregate counts for logging and the status
// endpoint.
type PlanSummary struct {
	ArbitragePairs     int     `json:"arbitragePairs"`
	TotalExpectedCents float64 `json:"totalExpectedCents"`
	ChargeWindows      int     `json:"chargeWindows"`
	SellWindows        int     `json:"sellWindows"`
	SelfConsumeWindows int     `json:"selfConsumeWindows"`
	SolarChargeWindows int     `json:"solarChargeWindows"`
}

// DayPlan is the day-ahead schedule built from the 48-hour forecast.
type DayPlan struct {
	CreatedAt time.Time         `json:"createdAt"`
	BuiltHour int               `json:"builtHour"` // local hour the plan was built in
	Schedule  []ScheduledAction `json:"schedule"`  // sorted by Start
	Summary   PlanSummary       `json:"summary"`
}

// ActionForTime returns the scheduled action whose [start, end) window covers
// the local time, or nil when the plan has no opinion.
func (p *DayPlan) ActionForTime(hour, minute int) *ScheduledAction {
	if p == nil {
		return nil
	}
	t := fmt.Sprintf("%02d:%02d", hour, minute)
	for i := range p.Schedule {
		s := &p.Schedule[i]
		if s.Start <= t && t < s.End {
			return s
		}
	}
	return nil
}
