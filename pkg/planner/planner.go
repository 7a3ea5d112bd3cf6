// Package planner builds the day-ahead schedule: charge/sell arbitrage pairs
// over 30-minute windows, overlaid with self-consume and solar-charge windows.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/forecast"
	"github.com/gridpilot/gridpilot/pkg/profile"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	windowHours = 0.5

	// a solar surplus below this is noise, not worth a charge window
	solarExcessFloorKW = 0.3

	maxPlanAge = 30 * time.Minute
)

// virtual c/kWh nudges so off-peak charging and peak self-consumption win ties
var (
	chargePenaltyCents = map[types.TariffPeriod]float64{
		types.TariffOffPeak:  0,
		types.TariffShoulder: 3,
		types.TariffPeak:     10,
	}
	selfConsumeBonusCents = map[types.TariffPeriod]float64{
		types.TariffOffPeak:  0,
		types.TariffShoulder: 5,
		types.TariffPeak:     15,
	}
)

// Planner builds DayPlans.
type Planner struct {
	minMarginCents float64
}

// Configured sets up flags for the planner and returns the instance.
func Configured() *Planner {
	p := &Planner{}
	margin := common.Float64Flag("planner-min-arbitrage-margin-cents", 5, "Minimum c/kWh margin, net of efficiency and cycle cost, to schedule an arbitrage pair")

	lflag.Do(func() {
		p.minMarginCents = *margin
	})

	return p
}

// Validate ensures the configuration is usable.
func (p *Planner) Validate() error {
	if p.minMarginCents < 0 {
		return fmt.Errorf("planner-min-arbitrage-margin-cents cannot be negative")
	}
	return nil
}

type annotated struct {
	forecast.Window

	SolarKW  float64
	LoadKW   float64
	ExportKW float64
	NetKW    float64 // LoadKW - SolarKW

	used bool
}

// Build produces the day-ahead plan from 30-minute windows, the learned
// profile, and the hourly solar forecast. The output is deterministic for a
// given input: every sort carries a slot-key tie-break.
func (p *Planner) Build(now time.Time, windows []forecast.Window, prof *types.UsageProfile, solar []types.SolarForecast, battery types.BatteryConfig) *types.DayPlan {
	plan := &types.DayPlan{
		CreatedAt: now,
		BuiltHour: now.Hour(),
	}
	if len(windows) == 0 {
		return plan
	}

	solarByHour := map[time.Time]float64{}
	for _, f := range solar {
		solarByHour[f.Timestamp.Local().Truncate(time.Hour)] = f.GenerationKW
	}

	ann := make([]*annotated, len(windows))
	for i, w := range windows {
		hour := w.Start.Local().Hour()
		weekday := w.Start.Local().Weekday() != time.Saturday && w.Start.Local().Weekday() != time.Sunday
		a := &annotated{
			Window:   w,
			SolarKW:  solarByHour[w.Start.Local().Truncate(time.Hour)],
			LoadKW:   profile.PredictedLoadKW(prof, hour, weekday),
			ExportKW: prof.PredictedExportKW(hour, weekday),
		}
		a.NetKW = a.LoadKW - a.SolarKW
		ann[i] = a
	}

	medianImport := forecast.MedianImport(windows)
	cycleCostPerKWH := battery.CycleCostCents / battery.CapacityKWH

	schedule := p.matchArbitrage(ann, battery, cycleCostPerKWH, plan)
	schedule = append(schedule, p.overlaySelfConsume(ann, battery, medianImport, plan)...)
	schedule = append(schedule, p.overlaySolarCharge(ann, battery, medianImport, plan)...)

	sort.SliceStable(schedule, func(i, j int) bool { return schedule[i].Start < schedule[j].Start })
	plan.Schedule = schedule
	return plan
}

// matchArbitrage greedily pairs the highest export windows with the cheapest
// earlier charge windows until battery capacity or margins run out.
func (p *Planner) matchArbitrage(ann []*annotated, battery types.BatteryConfig, cycleCostPerKWH float64, plan *types.DayPlan) []types.ScheduledAction {
	efficiency := battery.RoundTripEfficiency
	if efficiency <= 0 {
		efficiency = 1
	}

	charges := make([]*annotated, 0, len(ann))
	sells := make([]*annotated, 0, len(ann))
	for _, a := range ann {
		if a.ImportCents > 0 {
			charges = append(charges, a)
		}
		if a.ExportCents > 0 {
			sells = append(sells, a)
		}
	}
	effectiveCost := func(a *annotated) float64 {
		return a.ImportCents/efficiency + cycleCostPerKWH + chargePenaltyCents[a.Tariff]
	}
	sort.SliceStable(charges, func(i, j int) bool {
		ci, cj := effectiveCost(charges[i]), effectiveCost(charges[j])
		if ci != cj {
			return ci < cj
		}
		return charges[i].Slot < charges[j].Slot
	})
	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].ExportCents != sells[j].ExportCents {
			return sells[i].ExportCents > sells[j].ExportCents
		}
		return sells[i].Slot < sells[j].Slot
	})

	maxTransferKW := battery.MaxChargeKW
	if battery.MaxDischargeKW < maxTransferKW {
		maxTransferKW = battery.MaxDischargeKW
	}
	remaining := battery.CapacityKWH * (1 - battery.MinSOCPct/100)

	var schedule []types.ScheduledAction
	for _, s := range sells {
		if remaining <= 0 {
			break
		}
		if s.used {
			continue
		}
		for _, c := range charges {
			// must charge strictly before selling
			if c.used || c == s || !c.Start.Before(s.Start) {
				continue
			}
			margin := s.ExportCents - (c.ImportCents/efficiency + cycleCostPerKWH)
			if margin < p.minMarginCents {
				continue
			}

			transfer := maxTransferKW * windowHours
			if transfer > remaining {
				transfer = remaining
			}
			value := margin * transfer

			schedule = append(schedule, types.ScheduledAction{
				Start:            c.Slot,
				End:              c.End.Local().Format("15:04"),
				Action:           types.PlanChargeGrid,
				Reason:           fmt.Sprintf("arbitrage charge at %.1fc for %.1fc sell at %s (margin %.1fc)", c.ImportCents, s.ExportCents, s.Slot, margin),
				ImportPriceCents: c.ImportCents,
				ExportPriceCents: c.ExportCents,
				Priority:         1,
			}, types.ScheduledAction{
				Start:              s.Slot,
				End:                s.End.Local().Format("15:04"),
				Action:             types.PlanSellGrid,
				Reason:             fmt.Sprintf("arbitrage sell at %.1fc, charged at %s (margin %.1fc)", s.ExportCents, c.Slot, margin),
				ImportPriceCents:   s.ImportCents,
				ExportPriceCents:   s.ExportCents,
				ExpectedValueCents: value,
				Priority:           1,
			})
			c.used = true
			s.used = true
			remaining -= transfer
			plan.Summary.ArbitragePairs++
			plan.Summary.ChargeWindows++
			plan.Summary.SellWindows++
			plan.Summary.TotalExpectedCents += value
			break
		}
	}
	return schedule
}

// overlaySelfConsume marks remaining net-consuming windows where discharging
// into the house beats buying from the grid.
func (p *Planner) overlaySelfConsume(ann []*annotated, battery types.BatteryConfig, medianImport float64, plan *types.DayPlan) []types.ScheduledAction {
	candidates := make([]*annotated, 0, len(ann))
	for _, a := range ann {
		if !a.used && a.NetKW > 0 {
			candidates = append(candidates, a)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		vi := candidates[i].ImportCents + selfConsumeBonusCents[candidates[i].Tariff]
		vj := candidates[j].ImportCents + selfConsumeBonusCents[candidates[j].Tariff]
		if vi != vj {
			return vi > vj
		}
		return candidates[i].Slot < candidates[j].Slot
	})

	var schedule []types.ScheduledAction
	for _, a := range candidates {
		worthIt := a.Tariff == types.TariffPeak || a.Tariff == types.TariffShoulder ||
			a.ImportCents > medianImport || a.SpikeRisk
		if !worthIt {
			continue
		}

		power := a.NetKW
		if power > battery.MaxDischargeKW {
			power = battery.MaxDischargeKW
		}
		value := a.ImportCents * power * windowHours

		schedule = append(schedule, types.ScheduledAction{
			Start:              a.Slot,
			End:                a.End.Local().Format("15:04"),
			Action:             types.PlanSelfConsume,
			Reason:             fmt.Sprintf("self-consume at %.1fc (%s tariff, median %.1fc)", a.ImportCents, a.Tariff, medianImport),
			ImportPriceCents:   a.ImportCents,
			ExportPriceCents:   a.ExportCents,
			ExpectedValueCents: value,
			Priority:           2,
		})
		a.used = true
		plan.Summary.SelfConsumeWindows++
		plan.Summary.TotalExpectedCents += value
	}
	return schedule
}

// overlaySolarCharge routes forecast solar surplus into the battery.
func (p *Planner) overlaySolarCharge(ann []*annotated, battery types.BatteryConfig, medianImport float64, plan *types.DayPlan) []types.ScheduledAction {
	var schedule []types.ScheduledAction
	for _, a := range ann {
		if a.used {
			continue
		}
		excess := a.SolarKW - a.LoadKW
		if excess <= solarExcessFloorKW {
			continue
		}

		power := excess
		if power > battery.MaxChargeKW {
			power = battery.MaxChargeKW
		}
		// stored solar is worth roughly what importing later would cost
		value := medianImport * power * windowHours

		schedule = append(schedule, types.ScheduledAction{
			Start:              a.Slot,
			End:                a.End.Local().Format("15:04"),
			Action:             types.PlanChargeSolar,
			Reason:             fmt.Sprintf("solar surplus %.1fkW (solar %.1fkW, load %.1fkW)", excess, a.SolarKW, a.LoadKW),
			ImportPriceCents:   a.ImportCents,
			ExportPriceCents:   a.ExportCents,
			ExpectedValueCents: value,
			Priority:           3,
		})
		a.used = true
		plan.Summary.SolarChargeWindows++
		plan.Summary.TotalExpectedCents += value
	}
	return schedule
}

// Stale reports whether the plan must be rebuilt: the wall-clock hour moved
// on, the price regime shifted into or out of spike/extremely-low territory,
// or the plan aged past 30 minutes.
func Stale(plan *types.DayPlan, now time.Time, prev, cur types.PriceDescriptor) bool {
	if plan == nil {
		return true
	}
	if now.Hour() != plan.BuiltHour {
		return true
	}
	if now.Sub(plan.CreatedAt) > maxPlanAge {
		return true
	}
	if prev != cur && (volatile(prev) || volatile(cur)) {
		return true
	}
	return false
}

func volatile(d types.PriceDescriptor) bool {
	return d == types.DescriptorSpike || d == types.DescriptorExtremelyLow
}
