// Package nem reads the AEMO National Electricity Market summary feed for
// regional demand, spot price, and renewables share.
package nem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	requestTimeout = 15 * time.Second
	retryDeadline  = 30 * time.Second
)

// Client fetches the NEM summary for one region.
type Client struct {
	apiURL string
	region string
	client *http.Client
}

// Configured sets up flags for the NEM client and returns the instance.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(requestTimeout),
	}
	apiURL := lflag.String("nem-api-url", "https://visualisations.aemo.com.au/aemo/apps/api/report/ELEC_NEM_SUMMARY", "URL for the AEMO NEM summary report")
	region := lflag.String("nem-region", "NSW1", "NEM region ID (NSW1, QLD1, SA1, TAS1, VIC1)")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.region = strings.ToUpper(*region)
	})

	return c
}

// Validate ensures the configuration is usable.
func (c *Client) Validate() error {
	switch c.region {
	case "NSW1", "QLD1", "SA1", "TAS1", "VIC1":
	default:
		return fmt.Errorf("unknown nem-region: %s", c.region)
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse nem url (%s): %w", c.apiURL, err)
	}
	return nil
}

// Region returns the configured NEM region.
func (c *Client) Region() string {
	return c.region
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

type summaryResponse struct {
	Summary []regionSummary `json:"ELEC_NEM_SUMMARY"`
}

type regionSummary struct {
	RegionID            string  `json:"REGIONID"`
	SettlementDate      string  `json:"SETTLEMENTDATE"`
	Price               float64 `json:"PRICE"`
	TotalDemand         float64 `json:"TOTALDEMAND"`
	NetInterchange      float64 `json:"NETINTERCHANGE"`
	ScheduledGeneration float64 `json:"SCHEDULEDGENERATION"`
	Solar               float64 `json:"SOLAR"`
	Wind                float64 `json:"WIND"`
}

// GetGridState returns the latest summary row for the configured region.
func (c *Client) GetGridState(ctx context.Context) (*types.GridState, error) {
	newReq := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	}
	body, err := common.GetJSON(ctx, c.client, newReq, common.RetryOptions{Deadline: retryDeadline})
	if err != nil {
		return nil, err
	}

	var resp summaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode nem summary: %w", err)
	}

	for _, row := range resp.Summary {
		if !strings.EqualFold(row.RegionID, c.region) {
			continue
		}
		ts := parseSettlement(row.SettlementDate)
		demand := row.TotalDemand
		if demand < 1 {
			demand = 1
		}
		return &types.GridState{
			Timestamp:            ts,
			Region:               c.region,
			DemandMW:             row.TotalDemand,
			PriceAUDPerMWH:       row.Price,
			RenewablesPct:        (row.Solar + row.Wind) / demand * 100,
			InterconnectorFlowMW: row.NetInterchange,
		}, nil
	}
	return nil, fmt.Errorf("region %s not present in nem summary", c.region)
}

// parseSettlement handles AEMO's market-time timestamps, which carry no zone
// and refer to Australian Eastern Standard Time year round.
func parseSettlement(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	marketTime := time.FixedZone("AEST", 10*60*60)
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, marketTime); err == nil {
			return t
		}
	}
	return time.Time{}
}
