// Package forecast reduces raw 5-minute price forecasts into the statistics
// and 30-minute windows the planner and supervisor consume.
package forecast

import (
	"sort"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

const (
	// defaults when the forecast is empty, chosen to keep downstream maths
	// conservative rather than zero
	defaultImportCents = 30
	defaultExportCents = 5

	topN = 5
)

// Stats is the reduction of a forecast series. All price fields are retail
// c/kWh; export values are absolute.
type Stats struct {
	ForecastMinCents float64
	ForecastAvgCents float64
	ForecastMaxCents float64
	ExportAvgCents   float64
	ExportMaxCents   float64

	// the 5 lowest-import, highest-import, and highest-export intervals
	Cheapest  []types.PriceInterval
	Expensive []types.PriceInterval
	BestSell  []types.PriceInterval

	NegativeCount int
	SpikeCount    int
	Samples       int
}

// Analyse reduces a mixed-channel forecast. It is a pure function: the same
// input always yields the same Stats, and the input slice is never mutated.
func Analyse(forecast []types.PriceInterval) Stats {
	var general, feedIn []types.PriceInterval
	for _, p := range forecast {
		switch p.Channel {
		case types.ChannelGeneral:
			general = append(general, p)
		case types.ChannelFeedIn:
			feedIn = append(feedIn, p)
		}
	}

	s := Stats{
		ForecastMinCents: defaultImportCents,
		ForecastAvgCents: defaultImportCents,
		ForecastMaxCents: defaultImportCents,
		ExportAvgCents:   defaultExportCents,
		Samples:          len(general),
	}

	if len(general) > 0 {
		var sum float64
		s.ForecastMinCents = general[0].PerKWHCents
		s.ForecastMaxCents = general[0].PerKWHCents
		for _, p := range general {
			sum += p.PerKWHCents
			if p.PerKWHCents < s.ForecastMinCents {
				s.ForecastMinCents = p.PerKWHCents
			}
			if p.PerKWHCents > s.ForecastMaxCents {
				s.ForecastMaxCents = p.PerKWHCents
			}
			if p.PerKWHCents < 0 {
				s.NegativeCount++
			}
			if p.SpikeStatus != types.SpikeNone {
				s.SpikeCount++
			}
		}
		s.ForecastAvgCents = sum / float64(len(general))
	}

	if len(feedIn) > 0 {
		var sum float64
		for _, p := range feedIn {
			v := abs(p.PerKWHCents)
			sum += v
			if v > s.ExportMaxCents {
				s.ExportMaxCents = v
			}
		}
		s.ExportAvgCents = sum / float64(len(feedIn))
	}

	s.Cheapest = topBy(general, func(a, b types.PriceInterval) bool {
		return a.PerKWHCents < b.PerKWHCents
	})
	s.Expensive = topBy(general, func(a, b types.PriceInterval) bool {
		return a.PerKWHCents > b.PerKWHCents
	})
	s.BestSell = topBy(feedIn, func(a, b types.PriceInterval) bool {
		return abs(a.PerKWHCents) > abs(b.PerKWHCents)
	})

	return s
}

func topBy(intervals []types.PriceInterval, less func(a, b types.PriceInterval) bool) []types.PriceInterval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]types.PriceInterval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}

// Window is a 30-minute aggregation of 5-minute forecast intervals.
type Window struct {
	Slot    string // local "HH:MM" aligned to a 30-minute boundary
	Start   time.Time
	End     time.Time
	TimeIdx int // chronological index within the built list

	ImportCents float64 // mean over member general intervals
	ExportCents float64 // mean absolute over member feed-in intervals
	Tariff      types.TariffPeriod
	SpikeRisk   bool
}

// BuildWindows groups general and feed-in forecast intervals into 30-minute
// windows keyed by their local HH:MM slot. Intervals from different days that
// land on the same slot merge into a single window, so each slot appears at
// most once and downstream schedules cannot double-book it. Import and export
// cents are arithmetic means over the member intervals; tariff comes from the
// chronologically first general member; spike risk is set when any member
// reports a non-none spike status. An empty input yields an empty list.
func BuildWindows(general, feedIn []types.PriceInterval) []Window {
	type bucket struct {
		start, end  time.Time
		importSum   float64
		importCount int
		exportSum   float64
		exportCount int
		tariff      types.TariffPeriod
		tariffTS    time.Time
		spikeRisk   bool
	}
	buckets := map[string]*bucket{}

	get := func(ts time.Time) *bucket {
		start := ts.Local().Truncate(30 * time.Minute)
		slot := start.Format("15:04")
		b, ok := buckets[slot]
		if !ok {
			b = &bucket{start: start, end: start.Add(30 * time.Minute)}
			buckets[slot] = b
		} else if start.Before(b.start) {
			b.start = start
			b.end = start.Add(30 * time.Minute)
		}
		return b
	}

	for _, p := range general {
		if p.TSStart.IsZero() {
			continue
		}
		b := get(p.TSStart)
		b.importSum += p.PerKWHCents
		b.importCount++
		if p.Tariff != nil && (b.tariffTS.IsZero() || p.TSStart.Before(b.tariffTS)) {
			b.tariff = p.Tariff.Period
			b.tariffTS = p.TSStart
		}
		if p.SpikeStatus != types.SpikeNone {
			b.spikeRisk = true
		}
	}
	for _, p := range feedIn {
		if p.TSStart.IsZero() {
			continue
		}
		b := get(p.TSStart)
		b.exportSum += abs(p.PerKWHCents)
		b.exportCount++
		if p.SpikeStatus != types.SpikeNone {
			b.spikeRisk = true
		}
	}

	slots := make([]string, 0, len(buckets))
	for slot := range buckets {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		return buckets[slots[i]].start.Before(buckets[slots[j]].start)
	})

	windows := make([]Window, 0, len(slots))
	for idx, slot := range slots {
		b := buckets[slot]
		w := Window{
			Slot:      slot,
			Start:     b.start,
			End:       b.end,
			TimeIdx:   idx,
			Tariff:    b.tariff,
			SpikeRisk: b.spikeRisk,
		}
		if b.importCount > 0 {
			w.ImportCents = b.importSum / float64(b.importCount)
		}
		if b.exportCount > 0 {
			w.ExportCents = b.exportSum / float64(b.exportCount)
		}
		windows = append(windows, w)
	}
	return windows
}

// MedianImport returns the median window import price, or the conservative
// default when there are no windows.
func MedianImport(windows []Window) float64 {
	if len(windows) == 0 {
		return defaultImportCents
	}
	vals := make([]float64, len(windows))
	for i, w := range windows {
		vals[i] = w.ImportCents
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// TodayAvgImport returns the mean import price across today's settled
// intervals, used to compare the forecast against what actually happened.
// Empty history yields the conservative default.
func TodayAvgImport(history []types.PriceInterval) float64 {
	var sum float64
	var n int
	for _, p := range history {
		if p.Channel != types.ChannelGeneral {
			continue
		}
		sum += p.PerKWHCents
		n++
	}
	if n == 0 {
		return defaultImportCents
	}
	return sum / float64(n)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
