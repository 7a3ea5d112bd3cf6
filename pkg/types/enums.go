package types

// BatteryAction is the single command the controller emits each tick.
type BatteryAction string

const (
	ActionChargeGrid     BatteryAction = "charge_grid"
	ActionChargeSolar    BatteryAction = "charge_solar"
	ActionDischargeGrid  BatteryAction = "discharge_grid"  // sell to grid
	ActionDischargeHouse BatteryAction = "discharge_house" // self-consume
	ActionIdle           BatteryAction = "idle"
)

// SpikeStatus is the retailer's price spike indicator.
type SpikeStatus string

const (
	SpikeNone      SpikeStatus = "none"
	SpikePotential SpikeStatus = "potential"
	SpikeActual    SpikeStatus = "actual"
)

// ParseSpikeStatus maps unknown values to SpikeNone rather than failing.
func ParseSpikeStatus(s string) SpikeStatus {
	switch SpikeStatus(s) {
	case SpikePotential, SpikeActual:
		return SpikeStatus(s)
	}
	return SpikeNone
}

// PriceChannel identifies which meter channel a price or usage row belongs to.
type PriceChannel string

const (
	ChannelGeneral        PriceChannel = "general" // import
	ChannelFeedIn         PriceChannel = "feedIn"  // export
	ChannelControlledLoad PriceChannel = "controlledLoad"
	ChannelBattery        PriceChannel = "battery"
)

// ParsePriceChannel maps unknown values to ChannelGeneral.
func ParsePriceChannel(s string) PriceChannel {
	switch PriceChannel(s) {
	case ChannelFeedIn, ChannelControlledLoad, ChannelBattery:
		return PriceChannel(s)
	}
	return ChannelGeneral
}

// PriceDescriptor is the retailer's qualitative label for a price.
type PriceDescriptor string

const (
	DescriptorNegative     PriceDescriptor = "negative"
	DescriptorExtremelyLow PriceDescriptor = "extremelyLow"
	DescriptorVeryLow      PriceDescriptor = "veryLow"
	DescriptorLow          PriceDescriptor = "low"
	DescriptorNeutral      PriceDescriptor = "neutral"
	DescriptorHigh         PriceDescriptor = "high"
	DescriptorSpike        PriceDescriptor = "spike"
)

// ParsePriceDescriptor maps unknown values to DescriptorNeutral.
func ParsePriceDescriptor(s string) PriceDescriptor {
	switch PriceDescriptor(s) {
	case DescriptorNegative, DescriptorExtremelyLow, DescriptorVeryLow,
		DescriptorLow, DescriptorHigh, DescriptorSpike:
		return PriceDescriptor(s)
	}
	return DescriptorNeutral
}

// TariffPeriod is the network time-of-use period.
type TariffPeriod string

const (
	TariffOffPeak  TariffPeriod = "offPeak"
	TariffShoulder TariffPeriod = "shoulder"
	TariffPeak     TariffPeriod = "peak"
)

// ParseTariffPeriod maps unknown values to TariffOffPeak.
func ParseTariffPeriod(s string) TariffPeriod {
	switch TariffPeriod(s) {
	case TariffShoulder, TariffPeak:
		return TariffPeriod(s)
	}
	return TariffOffPeak
}

// TariffSeason is the network tariff season.
type TariffSeason string

const (
	SeasonSummer TariffSeason = "summer"
	SeasonAutumn TariffSeason = "autumn"
	SeasonWinter TariffSeason = "winter"
	SeasonSpring TariffSeason = "spring"
)

// ParseTariffSeason maps unknown values to SeasonSummer.
func ParseTariffSeason(s string) TariffSeason {
	switch TariffSeason(s) {
	case SeasonAutumn, SeasonWinter, SeasonSpring:
		return TariffSeason(s)
	}
	return SeasonSummer
}

// IntervalType distinguishes confirmed, in-progress, and forecast intervals
// in the retailer's 48-hour price series.
type IntervalType string

const (
	IntervalActual   IntervalType = "ActualInterval"
	IntervalCurrent  IntervalType = "CurrentInterval"
	IntervalForecast IntervalType = "ForecastInterval"
)

// ParseIntervalType maps unknown values to IntervalCurrent.
func ParseIntervalType(s string) IntervalType {
	switch IntervalType(s) {
	case IntervalActual, IntervalForecast:
		return IntervalType(s)
	}
	return IntervalCurrent
}

// UsageQuality marks whether a usage row is settled or estimated.
type UsageQuality string

const (
	QualityBillable  UsageQuality = "billable"
	QualityEstimated UsageQuality = "estimated"
)
