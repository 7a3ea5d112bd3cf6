package types

import "time"

// Snapshot is the complete system state gathered for one decision tick.
// It is immutable once the collector returns it.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Prices, 5-minute intervals. The current pointers are nil when the
	// retailer did not return the channel this tick.
	CurrentImportPrice *PriceInterval  `json:"currentImportPrice,omitempty"`
	CurrentExportPrice *PriceInterval  `json:"currentExportPrice,omitempty"`
	PriceForecast      []PriceInterval `json:"priceForecast"` // future intervals only
	PriceHistory       []PriceInterval `json:"priceHistory"`  // today's actuals

	Battery BatteryState `json:"battery"`

	SolarForecast  []SolarForecast `json:"solarForecast"`
	CurrentSolarKW float64         `json:"currentSolarKW"`

	GridState GridState `json:"gridState"`

	PredictedLoadKW float64 `json:"predictedLoadKW"`

	VPPEventActive bool `json:"vppEventActive"`

	IntervalMinutes int             `json:"intervalMinutes"`
	TariffPeriod    TariffPeriod    `json:"tariffPeriod"`
	TariffSeason    TariffSeason    `json:"tariffSeason"`
	Descriptor      PriceDescriptor `json:"descriptor"`
}
