package types

import "time"

// CurrentUsageProfileVersion is bumped when the persisted profile layout changes.
const CurrentUsageProfileVersion = 1

// HourProfile is the learned load/export for one hour of day.
type HourProfile struct {
	WeekdayImportKW float64 `json:"weekdayImportKW"`
	WeekendImportKW float64 `json:"weekendImportKW"`
	WeekdayExportKW float64 `json:"weekdayExportKW"`
	WeekendExportKW float64 `json:"weekendExportKW"`
}

// UsageProfile is the household usage model learned from historical 5-minute
// interval data. It is the single persisted source of truth for load and
// export prediction.
type UsageProfile struct {
	Version        int             `json:"version"`
	Hours          [24]HourProfile `json:"hours"`
	BaseLoadKW     float64         `json:"baseLoadKW"`  // 10th percentile of hourly import
	SolarPeakKW    float64         `json:"solarPeakKW"` // 90th percentile of hourly export
	PeakImportHour int             `json:"peakImportHour"`
	PeakExportHour int             `json:"peakExportHour"`
	DaysAnalysed   int             `json:"daysAnalysed"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// PredictedImportKW returns the learned import for the hour.
func (p *UsageProfile) PredictedImportKW(hour int, weekday bool) float64 {
	if p == nil || hour < 0 || hour > 23 {
		return 0
	}
	if weekday {
		return p.Hours[hour].WeekdayImportKW
	}
	return p.Hours[hour].WeekendImportKW
}

// PredictedExportKW returns the learned export for the hour.
func (p *UsageProfile) PredictedExportKW(hour int, weekday bool) float64 {
	if p == nil || hour < 0 || hour > 23 {
		return 0
	}
	if weekday {
		return p.Hours[hour].WeekdayExportKW
	}
	return p.Hours[hour].WeekendExportKW
}

// Fresh reports whether the profile was rebuilt within the last 24 hours.
func (p *UsageProfile) Fresh(now time.Time) bool {
	if p == nil || p.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(p.LastUpdated) < 24*time.Hour
}
