package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatteryStateDerived(t *testing.T) {
	b := BatteryState{
		SOCPct:      60,
		SOCKWH:      8.1,
		CapacityKWH: 13.5,
		MinSOCPct:   20,
	}

	assert.InDelta(t, 8.1-13.5*0.2, b.UsableKWH(), 1e-9)
	assert.InDelta(t, 13.5-8.1, b.HeadroomKWH(), 1e-9)

	// usable + headroom never exceeds capacity; the reserve is the difference
	assert.LessOrEqual(t, b.UsableKWH()+b.HeadroomKWH(), b.CapacityKWH)
}

func TestBatteryStateUsableFloor(t *testing.T) {
	b := BatteryState{SOCKWH: 1.0, CapacityKWH: 13.5, MinSOCPct: 20}
	assert.Equal(t, 0.0, b.UsableKWH())
}

func TestBatteryStateValidate(t *testing.T) {
	good := BatteryState{SOCKWH: 5, CapacityKWH: 10, MinSOCPct: 20, RoundTripEfficiency: 0.9}
	assert.NoError(t, good.Validate())

	bad := good
	bad.SOCKWH = 11
	assert.Error(t, bad.Validate())

	bad = good
	bad.MinSOCPct = 100
	assert.Error(t, bad.Validate())

	bad = good
	bad.RoundTripEfficiency = 0
	assert.Error(t, bad.Validate())
}

func TestBatteryConfigStates(t *testing.T) {
	cfg := BatteryConfig{
		CapacityKWH:         13.5,
		MaxChargeKW:         5,
		MaxDischargeKW:      5,
		RoundTripEfficiency: 0.9,
		MinSOCPct:           20,
		CycleCostCents:      5,
	}

	def := cfg.DefaultState()
	assert.Equal(t, 50.0, def.SOCPct)
	assert.InDelta(t, 6.75, def.SOCKWH, 1e-9)
	assert.NoError(t, def.Validate())

	high := cfg.StateAtSOC(120)
	assert.Equal(t, 100.0, high.SOCPct)
	assert.InDelta(t, 13.5, high.SOCKWH, 1e-9)
}
