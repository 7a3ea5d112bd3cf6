// Package collector fans out to the data sources in parallel and merges the
// results into one immutable snapshot per tick.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/profile"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Source names as recorded against health.
const (
	SourceCurrentPrices = "retailer_current"
	SourceForecast      = "retailer_forecast"
	SourceBattery       = "battery"
	SourceWeather       = "weather"
	SourceGrid          = "grid"
)

// PriceSource is the slice of the retailer client the collector needs.
type PriceSource interface {
	GetCurrentPrices(ctx context.Context) ([]types.PriceInterval, error)
	GetPriceForecast(ctx context.Context, nextHours int) ([]types.PriceInterval, error)
	GetBatteryState(ctx context.Context, cfg types.BatteryConfig) (types.BatteryState, error)
}

// SolarSource provides hourly generation forecasts.
type SolarSource interface {
	GetSolarForecast(ctx context.Context, hours int) ([]types.SolarForecast, error)
}

// GridSource provides the wholesale market summary.
type GridSource interface {
	GetGridState(ctx context.Context) (*types.GridState, error)
}

// Collector gathers all sources into a Snapshot.
type Collector struct {
	prices PriceSource
	solar  SolarSource
	grid   GridSource

	battery       types.BatteryConfig
	region        string
	forecastHours int
}

// Configured sets up flags for the collector, including the battery
// parameters it synthesises defaults from, and returns the instance.
func Configured() *Collector {
	c := &Collector{}
	capacity := common.Float64Flag("battery-capacity-kwh", 13.5, "Battery capacity in kWh")
	maxCharge := common.Float64Flag("battery-max-charge-kw", 5, "Maximum charge power in kW")
	maxDischarge := common.Float64Flag("battery-max-discharge-kw", 5, "Maximum discharge power in kW")
	efficiency := common.Float64Flag("battery-round-trip-efficiency", 0.9, "Round-trip efficiency (0-1)")
	minSOC := common.Float64Flag("battery-min-soc-pct", 20, "Minimum state of charge in percent")
	cycleCost := common.Float64Flag("battery-cycle-cost-cents", 5, "Amortised degradation cost per full cycle in cents")
	hours := lflag.Int("forecast-hours", 48, "Hours of price forecast to request")

	lflag.Do(func() {
		c.battery = types.BatteryConfig{
			CapacityKWH:         *capacity,
			MaxChargeKW:         *maxCharge,
			MaxDischargeKW:      *maxDischarge,
			RoundTripEfficiency: *efficiency,
			MinSOCPct:           *minSOC,
			CycleCostCents:      *cycleCost,
		}
		c.forecastHours = *hours
	})

	return c
}

// Bind attaches the runtime sources.
func (c *Collector) Bind(prices PriceSource, solar SolarSource, grid GridSource, region string) {
	c.prices = prices
	c.solar = solar
	c.grid = grid
	c.region = region
}

// Validate ensures the configuration is usable.
func (c *Collector) Validate() error {
	if err := c.battery.DefaultState().Validate(); err != nil {
		return fmt.Errorf("invalid battery config: %w", err)
	}
	if c.forecastHours < 1 || c.forecastHours > 96 {
		return fmt.Errorf("forecast-hours must be in [1, 96], got %d", c.forecastHours)
	}
	return nil
}

// BatteryConfig exposes the configured battery parameters.
func (c *Collector) BatteryConfig() types.BatteryConfig {
	return c.battery
}

// Collect launches all source fetches concurrently, joins them, and merges
// the results. A failing source never aborts the snapshot; it degrades to a
// typed default and is reported false in the source map.
func (c *Collector) Collect(ctx context.Context, prof *types.UsageProfile) (*types.Snapshot, map[string]bool) {
	var (
		wg sync.WaitGroup

		current     []types.PriceInterval
		currentErr  error
		forecast    []types.PriceInterval
		forecastErr error
		battery     types.BatteryState
		batteryErr  error
		solar       []types.SolarForecast
		solarErr    error
		grid        *types.GridState
		gridErr     error
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		current, currentErr = c.prices.GetCurrentPrices(ctx)
	}()
	go func() {
		defer wg.Done()
		forecast, forecastErr = c.prices.GetPriceForecast(ctx, c.forecastHours)
	}()
	go func() {
		defer wg.Done()
		battery, batteryErr = c.prices.GetBatteryState(ctx, c.battery)
	}()
	go func() {
		defer wg.Done()
		solar, solarErr = c.solar.GetSolarForecast(ctx, c.forecastHours)
	}()
	go func() {
		defer wg.Done()
		grid, gridErr = c.grid.GetGridState(ctx)
	}()
	wg.Wait()

	sources := map[string]bool{
		SourceCurrentPrices: currentErr == nil,
		SourceForecast:      forecastErr == nil,
		SourceBattery:       batteryErr == nil,
		SourceWeather:       solarErr == nil,
		SourceGrid:          gridErr == nil,
	}
	for name, err := range map[string]error{
		SourceCurrentPrices: currentErr,
		SourceForecast:      forecastErr,
		SourceBattery:       batteryErr,
		SourceWeather:       solarErr,
		SourceGrid:          gridErr,
	} {
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "source failed, substituting default",
				slog.String("source", name), slog.Any("error", err))
		}
	}

	now := time.Now()
	snap := &types.Snapshot{
		Timestamp:       now,
		SolarForecast:   solar,
		IntervalMinutes: 5,
		TariffPeriod:    types.TariffOffPeak,
		TariffSeason:    types.SeasonSummer,
		Descriptor:      types.DescriptorNeutral,
	}

	if batteryErr != nil {
		battery = c.battery.DefaultState()
	}
	snap.Battery = battery

	if gridErr != nil || grid == nil {
		grid = &types.GridState{Timestamp: now, Region: c.region}
	}
	snap.GridState = *grid

	// split the 48h series: actuals become history, forecasts the lookahead
	for _, p := range forecast {
		switch p.Type {
		case types.IntervalActual:
			snap.PriceHistory = append(snap.PriceHistory, p)
		case types.IntervalForecast:
			snap.PriceForecast = append(snap.PriceForecast, p)
		}
	}

	for i := range current {
		p := &current[i]
		switch p.Channel {
		case types.ChannelGeneral:
			if snap.CurrentImportPrice == nil {
				snap.CurrentImportPrice = p
			}
		case types.ChannelFeedIn:
			if snap.CurrentExportPrice == nil {
				snap.CurrentExportPrice = p
			}
			if p.SpikeStatus == types.SpikeActual {
				snap.VPPEventActive = true
			}
		}
	}

	if len(solar) > 0 {
		snap.CurrentSolarKW = solar[0].GenerationKW
	}

	hour := now.Hour()
	weekday := now.Weekday() != time.Saturday && now.Weekday() != time.Sunday
	snap.PredictedLoadKW = profile.PredictedLoadKW(prof, hour, weekday)

	if ip := snap.CurrentImportPrice; ip != nil {
		if ip.DurationMinutes > 0 {
			snap.IntervalMinutes = ip.DurationMinutes
		}
		if ip.Tariff != nil {
			snap.TariffPeriod = ip.Tariff.Period
			snap.TariffSeason = ip.Tariff.Season
		}
		snap.Descriptor = ip.Descriptor
	}

	return snap, sources
}
