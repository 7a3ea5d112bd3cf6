package types

import "fmt"

// BatteryState is the battery at a point in time plus its fixed ratings.
type BatteryState struct {
	SOCPct              float64 `json:"socPct"` // 0-100
	SOCKWH              float64 `json:"socKWH"`
	CapacityKWH         float64 `json:"capacityKWH"`
	MaxChargeKW         float64 `json:"maxChargeKW"`
	MaxDischargeKW      float64 `json:"maxDischargeKW"`
	RoundTripEfficiency float64 `json:"roundTripEfficiency"` // 0-1
	CycleCostCents      float64 `json:"cycleCostCents"`      // per full cycle
	MinSOCPct           float64 `json:"minSOCPct"`           // reserve floor
}

// UsableKWH is the energy available above the reserve floor.
func (b BatteryState) UsableKWH() float64 {
	usable := b.SOCKWH - b.CapacityKWH*b.MinSOCPct/100
	if usable < 0 {
		return 0
	}
	return usable
}

// HeadroomKWH is the remaining room to charge.
func (b BatteryState) HeadroomKWH() float64 {
	return b.CapacityKWH - b.SOCKWH
}

// Validate checks the invariants 0 <= socKWH <= capacity, minSOC in [0,100),
// and 0 < efficiency <= 1.
func (b BatteryState) Validate() error {
	if b.SOCKWH < 0 || b.SOCKWH > b.CapacityKWH {
		return fmt.Errorf("soc %.2f kWh outside [0, %.2f]", b.SOCKWH, b.CapacityKWH)
	}
	if b.MinSOCPct < 0 || b.MinSOCPct >= 100 {
		return fmt.Errorf("min SOC %.1f%% outside [0, 100)", b.MinSOCPct)
	}
	if b.RoundTripEfficiency <= 0 || b.RoundTripEfficiency > 1 {
		return fmt.Errorf("round trip efficiency %.2f outside (0, 1]", b.RoundTripEfficiency)
	}
	return nil
}

// BatteryConfig is the static battery specification from configuration.
type BatteryConfig struct {
	CapacityKWH         float64 `json:"capacityKWH"`
	MaxChargeKW         float64 `json:"maxChargeKW"`
	MaxDischargeKW      float64 `json:"maxDischargeKW"`
	RoundTripEfficiency float64 `json:"roundTripEfficiency"`
	MinSOCPct           float64 `json:"minSOCPct"`
	CycleCostCents      float64 `json:"cycleCostCents"`
}

// DefaultState builds a conservative 50% SOC state for when the inverter
// interface is unavailable.
func (c BatteryConfig) DefaultState() BatteryState {
	return BatteryState{
		SOCPct:              50,
		SOCKWH:              c.CapacityKWH * 0.5,
		CapacityKWH:         c.CapacityKWH,
		MaxChargeKW:         c.MaxChargeKW,
		MaxDischargeKW:      c.MaxDischargeKW,
		RoundTripEfficiency: c.RoundTripEfficiency,
		CycleCostCents:      c.CycleCostCents,
		MinSOCPct:           c.MinSOCPct,
	}
}

// StateAtSOC builds a state at the given SOC percentage.
func (c BatteryConfig) StateAtSOC(socPct float64) BatteryState {
	if socPct < 0 {
		socPct = 0
	} else if socPct > 100 {
		socPct = 100
	}
	s := c.DefaultState()
	s.SOCPct = socPct
	s.SOCKWH = c.CapacityKWH * socPct / 100
	return s
}

// StrategyConfig holds the tunable decision thresholds.
type StrategyConfig struct {
	ChargePriceThresholdCents float64 `json:"chargePriceThresholdCents"`
	SellPriceThresholdCents   float64 `json:"sellPriceThresholdCents"`
	SpikeReserveSOCPct        float64 `json:"spikeReserveSOCPct"`
	MinArbitrageMarginCents   float64 `json:"minArbitrageMarginCents"`
	BaseLoadQuantile          float64 `json:"baseLoadQuantile"`
	SolarPeakQuantile         float64 `json:"solarPeakQuantile"`
}
