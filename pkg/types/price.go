package types

import "time"

// TariffInfo is the network time-of-use tag attached to a price or usage row.
// It is nil when the retailer does not supply tariff information.
type TariffInfo struct {
	Period TariffPeriod `json:"period"`
	Season TariffSeason `json:"season"`
}

// PriceInterval is one 5-minute retail price on a single channel.
// PerKWHCents includes all fees and may be negative; on the feed-in channel a
// negative value means the site is paid to export.
type PriceInterval struct {
	TSStart         time.Time       `json:"tsStart"`
	TSEnd           time.Time       `json:"tsEnd"`
	PerKWHCents     float64         `json:"perKWHCents"`
	SpotPerKWHCents float64         `json:"spotPerKWHCents"`
	Channel         PriceChannel    `json:"channel"`
	SpikeStatus     SpikeStatus     `json:"spikeStatus"`
	Descriptor      PriceDescriptor `json:"descriptor"`
	RenewablesPct   float64         `json:"renewablesPct"`
	Tariff          *TariffInfo     `json:"tariff,omitempty"`
	DurationMinutes int             `json:"durationMinutes"`
	Type            IntervalType    `json:"type"`
	Estimate        bool            `json:"estimate,omitempty"`
}

// UsageInterval is one 5-minute metered usage row on a single channel.
type UsageInterval struct {
	TSStart         time.Time       `json:"tsStart"`
	TSEnd           time.Time       `json:"tsEnd"`
	Channel         PriceChannel    `json:"channel"`
	ChannelID       string          `json:"channelID"`
	KWH             float64         `json:"kwh"`
	CostCents       float64         `json:"costCents"`
	PerKWHCents     float64         `json:"perKWHCents"`
	SpotPerKWHCents float64         `json:"spotPerKWHCents"`
	SpikeStatus     SpikeStatus     `json:"spikeStatus"`
	Descriptor      PriceDescriptor `json:"descriptor"`
	RenewablesPct   float64         `json:"renewablesPct"`
	Tariff          *TariffInfo     `json:"tariff,omitempty"`
	Quality         UsageQuality    `json:"quality"`
}

// SiteInfo describes a retailer site and its meter channels.
type SiteInfo struct {
	ID              string   `json:"id"`
	NMI             string   `json:"nmi"`
	Network         string   `json:"network"`
	Status          string   `json:"status"`
	ActiveFrom      string   `json:"activeFrom"`
	IntervalMinutes int      `json:"intervalMinutes"`
	Channels        []string `json:"channels"`
}
