package types

import "time"

// SolarForecast is one hourly weather-derived generation estimate.
type SolarForecast struct {
	Timestamp     time.Time `json:"timestamp"`
	GenerationKW  float64   `json:"generationKW"`
	CloudCoverPct float64   `json:"cloudCoverPct"`
	TemperatureC  float64   `json:"temperatureC"`
}

// GridState is the wholesale market summary for one region.
type GridState struct {
	Timestamp            time.Time `json:"timestamp"`
	Region               string    `json:"region"`
	DemandMW             float64   `json:"demandMW"`
	PriceAUDPerMWH       float64   `json:"priceAUDPerMWH"`
	RenewablesPct        float64   `json:"renewablesPct"`
	InterconnectorFlowMW float64   `json:"interconnectorFlowMW"` // positive = importing
}
