// Package weather estimates rooftop solar generation from an Open-Meteo
// hourly irradiance forecast.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/sixdouglas/suncalc"
)

const (
	requestTimeout = 10 * time.Second

	// weather is best-effort so it gets a much shorter retry budget than the
	// price sources
	retryDeadline = 30 * time.Second
)

// Client fetches irradiance forecasts and converts them to panel output.
type Client struct {
	apiURL     string
	latitude   float64
	longitude  float64
	panelM2    float64
	efficiency float64
	client     *http.Client
}

// Configured sets up flags for the weather client and returns the instance.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(requestTimeout),
	}
	apiURL := lflag.String("weather-api-url", "https://api.open-meteo.com/v1/forecast", "Base URL for the Open-Meteo forecast API")
	lat := common.Float64Flag("site-latitude", -33.8688, "Site latitude in decimal degrees")
	lon := common.Float64Flag("site-longitude", 151.2093, "Site longitude in decimal degrees")
	area := common.Float64Flag("solar-panel-m2", 20, "Total panel area in square metres")
	eff := common.Float64Flag("solar-efficiency", 0.15, "Panel conversion efficiency (0-1)")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.latitude = *lat
		c.longitude = *lon
		c.panelM2 = *area
		c.efficiency = *eff
	})

	return c
}

// Validate ensures the configuration is usable.
func (c *Client) Validate() error {
	if c.latitude < -90 || c.latitude > 90 {
		return fmt.Errorf("site-latitude out of range: %f", c.latitude)
	}
	if c.longitude < -180 || c.longitude > 180 {
		return fmt.Errorf("site-longitude out of range: %f", c.longitude)
	}
	if c.panelM2 <= 0 {
		return fmt.Errorf("solar-panel-m2 must be positive")
	}
	if c.efficiency <= 0 || c.efficiency > 1 {
		return fmt.Errorf("solar-efficiency must be in (0, 1]")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse weather url (%s): %w", c.apiURL, err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

type forecastResponse struct {
	Hourly struct {
		Time            []string  `json:"time"`
		DirectRadiation []float64 `json:"direct_radiation"`
		CloudCover      []float64 `json:"cloud_cover"`
		Temperature     []float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

// GetSolarForecast returns per-hour generation estimates for the next hours
// hours. Generation is clamped to zero outside the site's daylight window even
// when the API reports residual irradiance at dusk.
func (c *Client) GetSolarForecast(ctx context.Context, hours int) ([]types.SolarForecast, error) {
	days := hours/24 + 1
	if days > 16 {
		days = 16
	}
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", c.latitude))
	params.Set("longitude", fmt.Sprintf("%.4f", c.longitude))
	params.Set("hourly", "direct_radiation,cloud_cover,temperature_2m")
	params.Set("forecast_days", fmt.Sprintf("%d", days))
	params.Set("timezone", "UTC")

	newReq := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	}
	body, err := common.GetJSON(ctx, c.client, newReq, common.RetryOptions{Deadline: retryDeadline})
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode weather forecast: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Hour)
	cutoff := now.Add(time.Duration(hours) * time.Hour)

	forecasts := make([]types.SolarForecast, 0, hours)
	for i, raw := range resp.Hourly.Time {
		ts, err := time.Parse("2006-01-02T15:04", raw)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse weather timestamp",
				slog.String("value", raw), slog.Any("error", err))
			continue
		}
		ts = ts.UTC()
		if ts.Before(now) || !ts.Before(cutoff) {
			continue
		}
		f := types.SolarForecast{Timestamp: ts}
		if i < len(resp.Hourly.DirectRadiation) {
			f.GenerationKW = c.generationKW(ts, resp.Hourly.DirectRadiation[i])
		}
		if i < len(resp.Hourly.CloudCover) {
			f.CloudCoverPct = resp.Hourly.CloudCover[i]
		}
		if i < len(resp.Hourly.Temperature) {
			f.TemperatureC = resp.Hourly.Temperature[i]
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, nil
}

// CurrentSolarKW returns the estimated generation for the hour in progress, or
// 0 when the forecast has no matching hour.
func (c *Client) CurrentSolarKW(ctx context.Context) (float64, error) {
	forecasts, err := c.GetSolarForecast(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(forecasts) == 0 {
		return 0, nil
	}
	return forecasts[0].GenerationKW, nil
}

// generationKW converts irradiance in W/m2 to estimated panel output in kW.
func (c *Client) generationKW(ts time.Time, irradianceWM2 float64) float64 {
	if irradianceWM2 <= 0 {
		return 0
	}
	if !c.daylight(ts) {
		return 0
	}
	return irradianceWM2 * c.panelM2 / 1000 * c.efficiency
}

func (c *Client) daylight(ts time.Time) bool {
	sunTimes := suncalc.GetTimes(ts, c.latitude, c.longitude)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if sunrise.IsZero() || sunset.IsZero() {
		return true
	}
	return !ts.Before(sunrise) && ts.Before(sunset)
}
