// Package amber is the retailer client: current and forecast 5-minute prices,
// historical usage, and site metadata for a single site.
package amber

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
)

const (
	requestTimeout = 15 * time.Second

	// usage syncs happen outside the tick so they get a short budget
	usageDeadline = 60 * time.Second
)

// Client talks to an Amber-style retailer API for one site.
type Client struct {
	apiURL   string
	apiToken string
	siteID   string
	client   *http.Client
}

// Configured sets up flags for the retailer client and returns the instance.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(requestTimeout),
	}
	apiURL := lflag.String("amber-api-url", "https://api.amber.com.au/v1", "Base URL for the Amber API")
	token := lflag.String("amber-api-token", "", "Bearer token for the Amber API")
	siteID := lflag.String("amber-site-id", "", "Amber site ID")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.apiToken = *token
		c.siteID = *siteID
	})

	return c
}

// Validate ensures the configuration is usable. A missing token or site is a
// fatal startup error.
func (c *Client) Validate() error {
	if c.apiToken == "" {
		return fmt.Errorf("amber-api-token is required")
	}
	if c.siteID == "" {
		return fmt.Errorf("amber-site-id is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse amber url (%s): %w", c.apiURL, err)
	}
	return nil
}

// SiteID returns the configured Amber site.
func (c *Client) SiteID() string {
	return c.siteID
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) newReq(path string, params url.Values) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		u, err := url.Parse(c.apiURL + path)
		if err != nil {
			return nil, fmt.Errorf("invalid amber url: %w", err)
		}
		if params != nil {
			u.RawQuery = params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

// amberPrice is the wire shape of a price interval. All fields are optional;
// parsing is total and degrades instead of failing.
type amberPrice struct {
	StartTime   string       `json:"startTime"`
	EndTime     string       `json:"endTime"`
	PerKwh      float64      `json:"perKwh"`
	SpotPerKwh  *float64     `json:"spotPerKwh"`
	ChannelType string       `json:"channelType"`
	SpikeStatus string       `json:"spikeStatus"`
	Descriptor  string       `json:"descriptor"`
	Renewables  float64      `json:"renewables"`
	Tariff      *amberTariff `json:"tariffInformation"`
	Duration    int          `json:"duration"`
	Type        string       `json:"type"`
	Estimate    bool         `json:"estimate"`
}

type amberTariff struct {
	Period string `json:"period"`
	Season string `json:"season"`
}

type amberUsage struct {
	amberPrice
	ChannelIdentifier string  `json:"channelIdentifier"`
	Kwh               float64 `json:"kwh"`
	Cost              float64 `json:"cost"`
	Quality           string  `json:"quality"`
}

type amberSite struct {
	ID             string         `json:"id"`
	NMI            string         `json:"nmi"`
	Network        string         `json:"network"`
	Status         string         `json:"status"`
	ActiveFrom     string         `json:"activeFrom"`
	IntervalLength int            `json:"intervalLength"`
	Channels       []amberChannel `json:"channels"`
}

type amberChannel struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
}

// GetSites lists the sites visible to the token.
func (c *Client) GetSites(ctx context.Context) ([]types.SiteInfo, error) {
	body, err := common.GetJSON(ctx, c.client, c.newReq("/sites", nil), common.RetryOptions{Deadline: usageDeadline})
	if err != nil {
		return nil, err
	}

	var raw []amberSite
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode sites: %w", err)
	}

	sites := make([]types.SiteInfo, 0, len(raw))
	for _, s := range raw {
		intervalMinutes := s.IntervalLength
		if intervalMinutes <= 0 {
			intervalMinutes = 5
		}
		channels := make([]string, 0, len(s.Channels))
		for _, ch := range s.Channels {
			channels = append(channels, ch.Type)
		}
		sites = append(sites, types.SiteInfo{
			ID:              s.ID,
			NMI:             s.NMI,
			Network:         s.Network,
			Status:          s.Status,
			ActiveFrom:      s.ActiveFrom,
			IntervalMinutes: intervalMinutes,
			Channels:        channels,
		})
	}
	return sites, nil
}

// GetCurrentPrices returns the in-progress 5-minute interval for every
// channel on the site.
func (c *Client) GetCurrentPrices(ctx context.Context) ([]types.PriceInterval, error) {
	body, err := common.GetJSON(ctx, c.client,
		c.newReq(fmt.Sprintf("/sites/%s/prices/current", c.siteID), nil),
		common.RetryOptions{})
	if err != nil {
		return nil, err
	}
	return c.decodePrices(ctx, body)
}

// GetPriceForecast returns the actual+current+forecast 5-minute series
// covering the next nextHours hours (roughly 12 records per hour per channel).
func (c *Client) GetPriceForecast(ctx context.Context, nextHours int) ([]types.PriceInterval, error) {
	params := url.Values{}
	params.Set("next", fmt.Sprintf("%d", nextHours))
	body, err := common.GetJSON(ctx, c.client,
		c.newReq(fmt.Sprintf("/sites/%s/prices", c.siteID), params),
		common.RetryOptions{})
	if err != nil {
		return nil, err
	}
	return c.decodePrices(ctx, body)
}

func (c *Client) decodePrices(ctx context.Context, body []byte) ([]types.PriceInterval, error) {
	var raw []amberPrice
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode prices: %w", err)
	}

	prices := make([]types.PriceInterval, 0, len(raw))
	for _, p := range raw {
		prices = append(prices, c.parsePrice(ctx, p))
	}
	return prices, nil
}

func (c *Client) parsePrice(ctx context.Context, p amberPrice) types.PriceInterval {
	start := parseTime(ctx, p.StartTime)
	end := parseTime(ctx, p.EndTime)
	duration := p.Duration
	if duration <= 0 {
		duration = 5
	}
	spot := p.PerKwh
	if p.SpotPerKwh != nil {
		spot = *p.SpotPerKwh
	}
	return types.PriceInterval{
		TSStart:         start,
		TSEnd:           end,
		PerKWHCents:     p.PerKwh,
		SpotPerKWHCents: spot,
		Channel:         types.ParsePriceChannel(p.ChannelType),
		SpikeStatus:     types.ParseSpikeStatus(p.SpikeStatus),
		Descriptor:      types.ParsePriceDescriptor(p.Descriptor),
		RenewablesPct:   p.Renewables,
		Tariff:          parseTariff(p.Tariff),
		DurationMinutes: duration,
		Type:            types.ParseIntervalType(p.Type),
		Estimate:        p.Estimate,
	}
}

// GetUsage returns 5-minute usage rows for the inclusive date range.
// Dates are the site's local calendar days.
func (c *Client) GetUsage(ctx context.Context, start, end time.Time) ([]types.UsageInterval, error) {
	params := url.Values{}
	params.Set("startDate", start.Format("2006-01-02"))
	params.Set("endDate", end.Format("2006-01-02"))

	body, err := common.GetJSON(ctx, c.client,
		c.newReq(fmt.Sprintf("/sites/%s/usage", c.siteID), params),
		common.RetryOptions{Deadline: usageDeadline})
	if err != nil {
		return nil, err
	}

	var raw []amberUsage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode usage: %w", err)
	}

	usage := make([]types.UsageInterval, 0, len(raw))
	for _, u := range raw {
		quality := types.QualityEstimated
		if u.Quality == string(types.QualityBillable) {
			quality = types.QualityBillable
		}
		spot := u.PerKwh
		if u.SpotPerKwh != nil {
			spot = *u.SpotPerKwh
		}
		usage = append(usage, types.UsageInterval{
			TSStart:         parseTime(ctx, u.StartTime),
			TSEnd:           parseTime(ctx, u.EndTime),
			Channel:         types.ParsePriceChannel(u.ChannelType),
			ChannelID:       u.ChannelIdentifier,
			KWH:             u.Kwh,
			CostCents:       u.Cost,
			PerKWHCents:     u.PerKwh,
			SpotPerKWHCents: spot,
			SpikeStatus:     types.ParseSpikeStatus(u.SpikeStatus),
			Descriptor:      types.ParsePriceDescriptor(u.Descriptor),
			RenewablesPct:   u.Renewables,
			Tariff:          parseTariff(u.Tariff),
			Quality:         quality,
		})
	}
	return usage, nil
}

// GetBatteryState derives the battery state. The retailer usually has no
// battery channel, so the common path is the conservative 50% default from
// config. When the site does meter a battery channel, the latest row's kWh is
// read as the inverter-reported stored energy.
func (c *Client) GetBatteryState(ctx context.Context, cfg types.BatteryConfig) (types.BatteryState, error) {
	sites, err := c.GetSites(ctx)
	if err != nil {
		return cfg.DefaultState(), err
	}

	var hasBattery bool
	for _, s := range sites {
		if s.ID != c.siteID {
			continue
		}
		for _, ch := range s.Channels {
			if types.ParsePriceChannel(ch) == types.ChannelBattery {
				hasBattery = true
			}
		}
	}
	if !hasBattery {
		return cfg.DefaultState(), nil
	}

	today := time.Now()
	usage, err := c.GetUsage(ctx, today, today)
	if err != nil {
		return cfg.DefaultState(), err
	}

	var latest *types.UsageInterval
	for i := range usage {
		u := &usage[i]
		if u.Channel != types.ChannelBattery {
			continue
		}
		if latest == nil || u.TSStart.After(latest.TSStart) {
			latest = u
		}
	}
	if latest == nil || cfg.CapacityKWH <= 0 {
		return cfg.DefaultState(), nil
	}
	return cfg.StateAtSOC(latest.KWH / cfg.CapacityKWH * 100), nil
}

// DailyCost is the import/export breakdown for one local calendar day.
type DailyCost struct {
	Date               string  `json:"date"`
	ImportKWH          float64 `json:"importKWH"`
	ImportCostCents    float64 `json:"importCostCents"`
	ExportKWH          float64 `json:"exportKWH"`
	ExportRevenueCents float64 `json:"exportRevenueCents"`
	NetCostCents       float64 `json:"netCostCents"`
	Intervals          int     `json:"intervals"`
}

// GetDailyCost aggregates one day of usage into a cost/revenue summary.
func (c *Client) GetDailyCost(ctx context.Context, date time.Time) (DailyCost, error) {
	usage, err := c.GetUsage(ctx, date, date)
	if err != nil {
		return DailyCost{}, err
	}

	dc := DailyCost{Date: date.Format("2006-01-02")}
	for _, u := range usage {
		dc.NetCostCents += u.CostCents
		switch u.Channel {
		case types.ChannelGeneral:
			dc.ImportKWH += u.KWH
			dc.ImportCostCents += u.CostCents
			dc.Intervals++
		case types.ChannelFeedIn:
			dc.ExportKWH += abs(u.KWH)
			dc.ExportRevenueCents += abs(u.CostCents)
		}
	}
	return dc, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func parseTariff(t *amberTariff) *types.TariffInfo {
	if t == nil || t.Period == "" {
		return nil
	}
	return &types.TariffInfo{
		Period: types.ParseTariffPeriod(t.Period),
		Season: types.ParseTariffSeason(t.Season),
	}
}

func parseTime(ctx context.Context, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to parse amber timestamp",
			slog.String("value", s), slog.Any("error", err))
		return time.Time{}
	}
	return t
}
