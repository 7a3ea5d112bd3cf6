package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionForTime(t *testing.T) {
	plan := &DayPlan{
		CreatedAt: time.Now(),
		Schedule: []ScheduledAction{
			{Start: "02:30", End: "03:00", Action: PlanChargeGrid},
			{Start: "18:30", End: "19:00", Action: PlanSellGrid},
		},
	}

	got := plan.ActionForTime(2, 45)
	require.NotNil(t, got)
	assert.Equal(t, PlanChargeGrid, got.Action)

	got = plan.ActionForTime(18, 30)
	require.NotNil(t, got)
	assert.Equal(t, PlanSellGrid, got.Action)

	// end is exclusive
	assert.Nil(t, plan.ActionForTime(19, 0))
	assert.Nil(t, plan.ActionForTime(12, 0))

	var nilPlan *DayPlan
	assert.Nil(t, nilPlan.ActionForTime(12, 0))
}

func TestPlanActionMapping(t *testing.T) {
	assert.Equal(t, ActionChargeGrid, PlanChargeGrid.BatteryAction())
	assert.Equal(t, ActionDischargeGrid, PlanSellGrid.BatteryAction())
	assert.Equal(t, ActionDischargeHouse, PlanSelfConsume.BatteryAction())
	assert.Equal(t, ActionChargeSolar, PlanChargeSolar.BatteryAction())
}

func TestParseEnumsDegrade(t *testing.T) {
	assert.Equal(t, SpikeNone, ParseSpikeStatus("bogus"))
	assert.Equal(t, SpikeActual, ParseSpikeStatus("actual"))
	assert.Equal(t, ChannelGeneral, ParsePriceChannel("mystery"))
	assert.Equal(t, DescriptorNeutral, ParsePriceDescriptor("wild"))
	assert.Equal(t, DescriptorSpike, ParsePriceDescriptor("spike"))
	assert.Equal(t, TariffOffPeak, ParseTariffPeriod(""))
	assert.Equal(t, IntervalCurrent, ParseIntervalType("NotAThing"))
}

func TestProfilePrediction(t *testing.T) {
	p := &UsageProfile{LastUpdated: time.Now()}
	p.Hours[18] = HourProfile{WeekdayImportKW: 3.0, WeekendImportKW: 1.5}

	assert.Equal(t, 3.0, p.PredictedImportKW(18, true))
	assert.Equal(t, 1.5, p.PredictedImportKW(18, false))
	assert.Equal(t, 0.0, p.PredictedImportKW(25, true))

	var nilProfile *UsageProfile
	assert.Equal(t, 0.0, nilProfile.PredictedImportKW(18, true))
	assert.False(t, nilProfile.Fresh(time.Now()))
	assert.True(t, p.Fresh(time.Now()))
	assert.False(t, p.Fresh(time.Now().Add(25*time.Hour)))
}
