package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	current     []types.PriceInterval
	currentErr  error
	forecast    []types.PriceInterval
	forecastErr error
	battery     types.BatteryState
	batteryErr  error
}

func (s *stubPrices) GetCurrentPrices(ctx context.Context) ([]types.PriceInterval, error) {
	return s.current, s.currentErr
}

func (s *stubPrices) GetPriceForecast(ctx context.Context, nextHours int) ([]types.PriceInterval, error) {
	return s.forecast, s.forecastErr
}

func (s *stubPrices) GetBatteryState(ctx context.Context, cfg types.BatteryConfig) (types.BatteryState, error) {
	return s.battery, s.batteryErr
}

type stubSolar struct {
	forecast []types.SolarForecast
	err      error
}

func (s *stubSolar) GetSolarForecast(ctx context.Context, hours int) ([]types.SolarForecast, error) {
	return s.forecast, s.err
}

type stubGrid struct {
	state *types.GridState
	err   error
}

func (s *stubGrid) GetGridState(ctx context.Context) (*types.GridState, error) {
	return s.state, s.err
}

func testBatteryConfig() types.BatteryConfig {
	return types.BatteryConfig{
		CapacityKWH:         13.5,
		MaxChargeKW:         5,
		MaxDischargeKW:      5,
		RoundTripEfficiency: 0.9,
		MinSOCPct:           20,
		CycleCostCents:      5,
	}
}

func testCollector(prices PriceSource, solar SolarSource, grid GridSource) *Collector {
	c := &Collector{battery: testBatteryConfig(), forecastHours: 48}
	c.Bind(prices, solar, grid, "NSW1")
	return c
}

func price(channel types.PriceChannel, cents float64, it types.IntervalType) types.PriceInterval {
	return types.PriceInterval{
		TSStart:         time.Now(),
		PerKWHCents:     cents,
		Channel:         channel,
		Descriptor:      types.DescriptorNeutral,
		DurationMinutes: 5,
		Type:            it,
	}
}

func TestCollectMergesAllSources(t *testing.T) {
	importPrice := price(types.ChannelGeneral, 32.5, types.IntervalCurrent)
	importPrice.Tariff = &types.TariffInfo{Period: types.TariffPeak, Season: types.SeasonWinter}
	importPrice.Descriptor = types.DescriptorHigh
	exportPrice := price(types.ChannelFeedIn, -3, types.IntervalCurrent)

	prices := &stubPrices{
		current: []types.PriceInterval{importPrice, exportPrice},
		forecast: []types.PriceInterval{
			price(types.ChannelGeneral, 20, types.IntervalActual),
			price(types.ChannelGeneral, 40, types.IntervalForecast),
			price(types.ChannelGeneral, 31, types.IntervalCurrent),
		},
		battery: testBatteryConfig().StateAtSOC(70),
	}
	solar := &stubSolar{forecast: []types.SolarForecast{{GenerationKW: 2.4}, {GenerationKW: 1.1}}}
	grid := &stubGrid{state: &types.GridState{Region: "NSW1", PriceAUDPerMWH: 112}}

	snap, sources := testCollector(prices, solar, grid).Collect(context.Background(), nil)

	for name, ok := range sources {
		assert.True(t, ok, name)
	}
	require.NotNil(t, snap.CurrentImportPrice)
	assert.Equal(t, 32.5, snap.CurrentImportPrice.PerKWHCents)
	require.NotNil(t, snap.CurrentExportPrice)
	assert.Equal(t, -3.0, snap.CurrentExportPrice.PerKWHCents)

	// the current interval from the series is neither history nor forecast
	require.Len(t, snap.PriceHistory, 1)
	require.Len(t, snap.PriceForecast, 1)
	assert.Equal(t, 40.0, snap.PriceForecast[0].PerKWHCents)

	assert.Equal(t, 70.0, snap.Battery.SOCPct)
	assert.Equal(t, 2.4, snap.CurrentSolarKW)
	assert.Equal(t, 112.0, snap.GridState.PriceAUDPerMWH)
	assert.Equal(t, types.TariffPeak, snap.TariffPeriod)
	assert.Equal(t, types.SeasonWinter, snap.TariffSeason)
	assert.Equal(t, types.DescriptorHigh, snap.Descriptor)
	assert.False(t, snap.VPPEventActive)
	assert.Greater(t, snap.PredictedLoadKW, 0.0)
}

func TestCollectVPPDetection(t *testing.T) {
	exportPrice := price(types.ChannelFeedIn, 600, types.IntervalCurrent)
	exportPrice.SpikeStatus = types.SpikeActual

	prices := &stubPrices{
		current: []types.PriceInterval{price(types.ChannelGeneral, 30, types.IntervalCurrent), exportPrice},
		battery: testBatteryConfig().StateAtSOC(80),
	}
	snap, _ := testCollector(prices, &stubSolar{}, &stubGrid{}).Collect(context.Background(), nil)

	assert.True(t, snap.VPPEventActive)
}

func TestCollectToleratesAllSourcesFailing(t *testing.T) {
	boom := errors.New("boom")
	prices := &stubPrices{currentErr: boom, forecastErr: boom, batteryErr: boom}
	snap, sources := testCollector(prices, &stubSolar{err: boom}, &stubGrid{err: boom}).
		Collect(context.Background(), nil)

	for name, ok := range sources {
		assert.False(t, ok, name)
	}
	require.NotNil(t, snap)
	assert.Nil(t, snap.CurrentImportPrice)
	assert.Nil(t, snap.CurrentExportPrice)
	assert.Empty(t, snap.PriceForecast)

	// defaults substitute for every failed source
	assert.Equal(t, 50.0, snap.Battery.SOCPct)
	assert.Equal(t, "NSW1", snap.GridState.Region)
	assert.Equal(t, 0.0, snap.CurrentSolarKW)
	assert.Equal(t, types.DescriptorNeutral, snap.Descriptor)
	assert.Greater(t, snap.PredictedLoadKW, 0.0)
}

func TestCollectUsesProfileLoad(t *testing.T) {
	prof := &types.UsageProfile{LastUpdated: time.Now()}
	for h := 0; h < 24; h++ {
		prof.Hours[h] = types.HourProfile{WeekdayImportKW: 2.75, WeekendImportKW: 2.75}
	}

	prices := &stubPrices{battery: testBatteryConfig().DefaultState()}
	snap, _ := testCollector(prices, &stubSolar{}, &stubGrid{}).Collect(context.Background(), prof)

	assert.Equal(t, 2.75, snap.PredictedLoadKW)
}

func TestValidate(t *testing.T) {
	c := &Collector{battery: testBatteryConfig(), forecastHours: 48}
	assert.NoError(t, c.Validate())

	c.forecastHours = 0
	assert.Error(t, c.Validate())

	c.forecastHours = 48
	c.battery.RoundTripEfficiency = 0
	assert.Error(t, c.Validate())
}
