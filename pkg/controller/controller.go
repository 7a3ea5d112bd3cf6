// Package controller is the real-time supervisor: each tick it turns the
// snapshot, the day plan, and the strategy thresholds into exactly one
// battery decision.
package controller

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// one 5-minute interval as a fraction of an hour, for expected value
const intervalFraction = 1.0 / 12

// an export price past this is extreme enough to pre-empt the plan
const extremeExportCents = 500

// Controller decides the battery action for a tick.
type Controller struct {
	chargeThresholdCents float64
	sellThresholdCents   float64
	spikeReserveSOCPct   float64
}

// Configured sets up flags for the strategy thresholds and returns the
// instance.
func Configured() *Controller {
	c := &Controller{}
	chargeThreshold := common.Float64Flag("charge-price-threshold-cents", 8, "Import price below which grid charging is considered")
	sellThreshold := common.Float64Flag("sell-price-threshold-cents", 25, "Export price above which selling is considered")
	spikeReserve := common.Float64Flag("spike-reserve-soc-pct", 40, "SOC to build toward when a spike is forecast")

	lflag.Do(func() {
		c.chargeThresholdCents = *chargeThreshold
		c.sellThresholdCents = *sellThreshold
		c.spikeReserveSOCPct = *spikeReserve
	})

	return c
}

// Validate ensures the configuration is usable.
func (c *Controller) Validate() error {
	if c.spikeReserveSOCPct < 0 || c.spikeReserveSOCPct > 100 {
		return fmt.Errorf("spike-reserve-soc-pct must be in [0, 100]")
	}
	if c.sellThresholdCents <= 0 {
		return fmt.Errorf("sell-price-threshold-cents must be positive")
	}
	return nil
}

// Decide evaluates the override cascade, then the day plan, then the
// per-interval heuristics. It always returns a decision; when the snapshot
// has no current import price it degrades to the time-of-day fallback.
func (c *Controller) Decide(ctx context.Context, snap *types.Snapshot, plan *types.DayPlan) types.Decision {
	if snap.CurrentImportPrice == nil {
		return c.fallback(snap)
	}

	battery := snap.Battery
	importCents := snap.CurrentImportPrice.PerKWHCents
	spotCents := snap.CurrentImportPrice.SpotPerKWHCents
	spike := snap.CurrentImportPrice.SpikeStatus
	descriptor := snap.CurrentImportPrice.Descriptor

	exportCents := 5.0
	if snap.CurrentExportPrice != nil {
		exportCents = abs(snap.CurrentExportPrice.PerKWHCents)
	}

	general, feedIn := splitForecast(snap.PriceForecast)
	peakPrice := maxImport(general, 30)
	avgPrice := meanImport(general, 30)
	// best export in the next 3 hours of 5-minute intervals
	peakExport := maxExport(head(feedIn, 36), 5)
	solarRemaining := solarRemainingKWH(snap)

	factors := map[string]any{
		"importCents":       round2(importCents),
		"exportCents":       round2(exportCents),
		"spotCents":         round2(spotCents),
		"spike":             string(spike),
		"descriptor":        string(descriptor),
		"tariffPeriod":      string(snap.TariffPeriod),
		"batterySOC":        battery.SOCPct,
		"solarKW":           snap.CurrentSolarKW,
		"loadKW":            snap.PredictedLoadKW,
		"peakForecastCents": round2(peakPrice),
		"avgForecastCents":  round2(avgPrice),
		"peakExportCents":   round2(peakExport),
		"solarRemainingKWH": round2(solarRemaining),
		"aemoPriceMWH":      snap.GridState.PriceAUDPerMWH,
		"aemoRenewablesPct": snap.GridState.RenewablesPct,
		"vppActive":         snap.VPPEventActive,
	}

	// === Override cascade, first match wins ===

	// 1. VPP event: always participate for bonus revenue
	if snap.VPPEventActive && battery.UsableKWH() > 0 {
		return c.decision(snap, types.ActionDischargeGrid, battery.MaxDischargeKW,
			"VPP event active, max discharge for bonus revenue",
			0.95, exportCents*battery.MaxDischargeKW*intervalFraction, factors)
	}

	// 2. Actual spike: battery carries the house instead of the grid
	if spike == types.SpikeActual && battery.UsableKWH() > 0 {
		power := min(snap.PredictedLoadKW, battery.MaxDischargeKW)
		return c.decision(snap, types.ActionDischargeHouse, power,
			fmt.Sprintf("SPIKE ACTIVE (%.0fc), battery powering house", importCents),
			0.99, importCents*power*intervalFraction, factors)
	}

	// 3. Potential spike: build reserve
	if spike == types.SpikePotential && battery.SOCPct < c.spikeReserveSOCPct {
		return c.decision(snap, types.ActionChargeGrid, battery.MaxChargeKW,
			fmt.Sprintf("Potential spike, charging to %.0f%% reserve", c.spikeReserveSOCPct),
			0.7, 0, factors)
	}

	// 4. Negative price: get paid to charge
	if importCents <= 0 && battery.HeadroomKWH() > 0 {
		return c.decision(snap, types.ActionChargeGrid, battery.MaxChargeKW,
			fmt.Sprintf("NEGATIVE price (%.1fc), paid to charge", importCents),
			0.99, abs(importCents)*battery.MaxChargeKW*intervalFraction, factors)
	}

	// 5. Extreme export: sell regardless of what the plan says
	if exportCents > extremeExportCents && battery.UsableKWH() > 0 {
		return c.decision(snap, types.ActionDischargeGrid, battery.MaxDischargeKW,
			fmt.Sprintf("EXTREME export (%.0fc), selling", exportCents),
			0.95, exportCents*battery.MaxDischargeKW*intervalFraction, factors)
	}

	// === Plan follow ===
	if scheduled := plan.ActionForTime(snap.Timestamp.Hour(), snap.Timestamp.Minute()); scheduled != nil {
		if d, ok := c.followPlan(snap, scheduled, factors); ok {
			return d
		}
	}

	// === Per-interval heuristics ===

	cycleCostPerInterval := func(powerKW float64) float64 {
		return battery.CycleCostCents * powerKW * intervalFraction / battery.CapacityKWH
	}

	// arbitrage charge on a low descriptor
	if descriptor == types.DescriptorExtremelyLow || descriptor == types.DescriptorVeryLow {
		if battery.HeadroomKWH() > 0 {
			margin := peakPrice - importCents/battery.RoundTripEfficiency - cycleCostPerInterval(battery.MaxChargeKW)
			if margin > 5 {
				return c.decision(snap, types.ActionChargeGrid, battery.MaxChargeKW,
					fmt.Sprintf("Low price (%.1fc, %s), arbitrage margin %.1fc to peak %.0fc",
						importCents, descriptor, margin, peakPrice),
					0.8, margin*battery.MaxChargeKW*intervalFraction, factors)
			}
		}
	}

	// cheap grid below threshold needs a fatter margin
	if importCents < c.chargeThresholdCents && battery.HeadroomKWH() > 0 {
		margin := peakPrice - importCents/battery.RoundTripEfficiency - cycleCostPerInterval(battery.MaxChargeKW)
		if margin > 8 {
			return c.decision(snap, types.ActionChargeGrid, battery.MaxChargeKW,
				fmt.Sprintf("Below threshold (%.1fc < %.0fc), margin %.1fc",
					importCents, c.chargeThresholdCents, margin),
				0.75, margin*battery.MaxChargeKW*intervalFraction, factors)
		}
	}

	// sell into a high export price unless a better one is coming
	if exportCents > c.sellThresholdCents && battery.UsableKWH() > 0 {
		futureHigher := false
		for _, p := range head(feedIn, 36) {
			if abs(p.PerKWHCents) > exportCents*1.3 {
				futureHigher = true
				break
			}
		}
		if !futureHigher {
			return c.decision(snap, types.ActionDischargeGrid, battery.MaxDischargeKW,
				fmt.Sprintf("High export (%.1fc, descriptor=%s), selling", exportCents, descriptor),
				0.85, exportCents*battery.MaxDischargeKW*intervalFraction, factors)
		}
	}

	// store solar surplus
	solarExcess := snap.CurrentSolarKW - snap.PredictedLoadKW
	if solarExcess > 0.3 && battery.HeadroomKWH() > 0 {
		power := min(solarExcess, battery.MaxChargeKW)
		return c.decision(snap, types.ActionChargeSolar, power,
			fmt.Sprintf("Solar excess (%.1fkW), storing", solarExcess),
			0.9, avgPrice*power*intervalFraction, factors)
	}

	// self-consume through peak tariff or an expensive interval
	if snap.TariffPeriod == types.TariffPeak || importCents > avgPrice*1.2 {
		if battery.UsableKWH() > 0 {
			power := min(snap.PredictedLoadKW, battery.MaxDischargeKW)
			savings := importCents * power * intervalFraction
			degradation := cycleCostPerInterval(power)
			if savings > degradation {
				return c.decision(snap, types.ActionDischargeHouse, power,
					fmt.Sprintf("Self-consume, %s tariff, %.1fc (avg %.0fc)",
						snap.TariffPeriod, importCents, avgPrice),
					0.7, savings-degradation, factors)
			}
		}
	}

	return c.decision(snap, types.ActionIdle, 0,
		fmt.Sprintf("No action, %.1fc import, %.1fc export, SOC %.0f%%, %s",
			importCents, exportCents, battery.SOCPct, descriptor),
		0.6, 0, factors)
}

// followPlan adapts a scheduled window into a tick decision. Windows whose
// preconditions no longer hold (no headroom, no usable energy) fall through
// to the heuristics.
func (c *Controller) followPlan(snap *types.Snapshot, scheduled *types.ScheduledAction, factors map[string]any) (types.Decision, bool) {
	battery := snap.Battery
	factors["planWindow"] = scheduled.Start
	factors["planReason"] = scheduled.Reason

	var power float64
	switch scheduled.Action {
	case types.PlanChargeGrid, types.PlanChargeSolar:
		if battery.HeadroomKWH() <= 0 {
			return types.Decision{}, false
		}
		power = battery.MaxChargeKW
	case types.PlanSellGrid:
		if battery.UsableKWH() <= 0 {
			return types.Decision{}, false
		}
		power = battery.MaxDischargeKW
	case types.PlanSelfConsume:
		if battery.UsableKWH() <= 0 {
			return types.Decision{}, false
		}
		power = min(snap.PredictedLoadKW, battery.MaxDischargeKW)
	default:
		return types.Decision{}, false
	}

	return c.decision(snap, scheduled.Action.BatteryAction(), power,
		fmt.Sprintf("Plan %s@%s: %s", scheduled.Action, scheduled.Start, scheduled.Reason),
		0.8, scheduled.ExpectedValueCents, factors), true
}

// fallback applies time-of-day rules when the retailer is unreachable.
func (c *Controller) fallback(snap *types.Snapshot) types.Decision {
	battery := snap.Battery
	hour := snap.Timestamp.Hour()
	factors := map[string]any{"mode": "fallback", "reason": "no_data"}

	// evening peak, battery carries the house
	if hour >= 16 && hour < 21 && battery.UsableKWH() > 0 {
		return c.decision(snap, types.ActionDischargeHouse, battery.MaxDischargeKW,
			"FALLBACK: evening peak, self-consume", 0.5, 0, factors)
	}

	// daytime, assume solar is there to harvest
	if hour >= 9 && hour < 16 && battery.HeadroomKWH() > 0 {
		return c.decision(snap, types.ActionChargeSolar, battery.MaxChargeKW*0.5,
			"FALLBACK: daytime, assume solar available", 0.3, 0, factors)
	}

	return c.decision(snap, types.ActionIdle, 0,
		"FALLBACK: no data, preserving battery", 0.3, 0, factors)
}

func (c *Controller) decision(snap *types.Snapshot, action types.BatteryAction, powerKW float64, reason string, confidence, valueCents float64, factors map[string]any) types.Decision {
	return types.Decision{
		ID:                 uuid.NewString(),
		Timestamp:          snap.Timestamp,
		Action:             action,
		PowerKW:            powerKW,
		Reason:             reason,
		Confidence:         confidence,
		ExpectedValueCents: round2(valueCents),
		Factors:            factors,
	}
}

func splitForecast(forecast []types.PriceInterval) (general, feedIn []types.PriceInterval) {
	for _, p := range forecast {
		switch p.Channel {
		case types.ChannelGeneral:
			general = append(general, p)
		case types.ChannelFeedIn:
			feedIn = append(feedIn, p)
		}
	}
	return general, feedIn
}

func solarRemainingKWH(snap *types.Snapshot) float64 {
	var sum float64
	now := snap.Timestamp
	for _, f := range snap.SolarForecast {
		if f.Timestamp.Year() == now.Year() && f.Timestamp.YearDay() == now.YearDay() &&
			f.Timestamp.Hour() > now.Hour() {
			sum += f.GenerationKW
		}
	}
	return sum
}

func head(intervals []types.PriceInterval, n int) []types.PriceInterval {
	if len(intervals) > n {
		return intervals[:n]
	}
	return intervals
}

func maxImport(intervals []types.PriceInterval, def float64) float64 {
	if len(intervals) == 0 {
		return def
	}
	max := intervals[0].PerKWHCents
	for _, p := range intervals[1:] {
		if p.PerKWHCents > max {
			max = p.PerKWHCents
		}
	}
	return max
}

func meanImport(intervals []types.PriceInterval, def float64) float64 {
	if len(intervals) == 0 {
		return def
	}
	var sum float64
	for _, p := range intervals {
		sum += p.PerKWHCents
	}
	return sum / float64(len(intervals))
}

func maxExport(intervals []types.PriceInterval, def float64) float64 {
	max := def
	for _, p := range intervals {
		if v := abs(p.PerKWHCents); v > max {
			max = v
		}
	}
	return max
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
