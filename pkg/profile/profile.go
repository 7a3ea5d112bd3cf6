// Package profile learns a household load and export profile from historical
// 5-minute usage and serves predictions to the planner and supervisor.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// UsageFetcher is the slice of the retailer client the learner needs.
type UsageFetcher interface {
	GetUsage(ctx context.Context, start, end time.Time) ([]types.UsageInterval, error)
}

// Learner builds and persists the usage profile.
type Learner struct {
	fetcher UsageFetcher
	db      storage.Database
	siteID  string

	days          int
	baseQuantile  float64
	solarQuantile float64
}

// Configured sets up flags for the learner. The fetcher, database, and site
// are bound later via Bind since they are themselves flag-configured.
func Configured() *Learner {
	l := &Learner{}
	days := lflag.Int("learner-days", 30, "Days of usage history to learn from")
	baseQ := common.Float64Flag("learner-base-load-quantile", 0.10, "Quantile of hourly import means used as base load")
	solarQ := common.Float64Flag("learner-solar-peak-quantile", 0.90, "Quantile of hourly export means used as solar peak")

	lflag.Do(func() {
		l.days = *days
		l.baseQuantile = *baseQ
		l.solarQuantile = *solarQ
	})

	return l
}

// Bind attaches the runtime collaborators.
func (l *Learner) Bind(fetcher UsageFetcher, db storage.Database, siteID string) {
	l.fetcher = fetcher
	l.db = db
	l.siteID = siteID
}

// Validate ensures the configuration is usable.
func (l *Learner) Validate() error {
	if l.days < 7 {
		return fmt.Errorf("learner-days must be at least 7, got %d", l.days)
	}
	if l.baseQuantile <= 0 || l.baseQuantile >= 1 {
		return fmt.Errorf("learner-base-load-quantile must be in (0, 1)")
	}
	if l.solarQuantile <= 0 || l.solarQuantile >= 1 {
		return fmt.Errorf("learner-solar-peak-quantile must be in (0, 1)")
	}
	return nil
}

// Load returns the persisted profile, or nil when none exists.
func (l *Learner) Load(ctx context.Context) (*types.UsageProfile, error) {
	p, err := l.db.LoadProfile(ctx, l.siteID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// LoadOrLearn returns the persisted profile when it is fresh, otherwise
// rebuilds it from usage history. A rebuild failure with a stale profile on
// hand degrades to the stale profile rather than none.
func (l *Learner) LoadOrLearn(ctx context.Context, now time.Time) (*types.UsageProfile, error) {
	existing, err := l.Load(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load usage profile", slog.Any("error", err))
	}
	if existing != nil && existing.Fresh(now) {
		return existing, nil
	}

	learned, err := l.Learn(ctx, now)
	if err != nil {
		if existing != nil {
			log.Ctx(ctx).WarnContext(ctx, "profile rebuild failed, keeping stale profile",
				slog.Any("error", err), slog.Time("lastUpdated", existing.LastUpdated))
			return existing, nil
		}
		return nil, err
	}
	return learned, nil
}

// Learn fetches the configured span of usage history, builds a fresh profile,
// and persists it.
func (l *Learner) Learn(ctx context.Context, now time.Time) (*types.UsageProfile, error) {
	start := now.AddDate(0, 0, -l.days)
	usage, err := l.fetcher.GetUsage(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch usage history: %w", err)
	}

	profile := Build(usage, l.baseQuantile, l.solarQuantile, now)
	if profile == nil {
		return nil, fmt.Errorf("not enough usage history to build a profile")
	}

	if err := l.db.SaveProfile(ctx, l.siteID, *profile); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist usage profile", slog.Any("error", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "usage profile rebuilt",
		slog.Int("daysAnalysed", profile.DaysAnalysed),
		slog.Float64("baseLoadKW", profile.BaseLoadKW),
		slog.Float64("solarPeakKW", profile.SolarPeakKW),
		slog.Int("peakImportHour", profile.PeakImportHour))
	return profile, nil
}

type cell struct {
	sum   float64
	count int
}

func (c *cell) add(v float64) { c.sum += v; c.count++ }

func (c cell) mean() float64 {
	if c.count == 0 {
		return 0
	}
	return c.sum / float64(c.count)
}

// Build distills raw usage rows into a profile. Each row is floored to its
// local hour and split by weekday/weekend; kWh scales to kW by the interval
// length. Returns nil when the input is empty.
func Build(usage []types.UsageInterval, baseQuantile, solarQuantile float64, now time.Time) *types.UsageProfile {
	if len(usage) == 0 {
		return nil
	}

	var wdImport, weImport, wdExport, weExport [24]cell
	days := map[string]struct{}{}

	for _, u := range usage {
		if u.TSStart.IsZero() {
			continue
		}
		local := u.TSStart.Local()
		hour := local.Hour()
		weekday := local.Weekday() != time.Saturday && local.Weekday() != time.Sunday
		days[local.Format("2006-01-02")] = struct{}{}

		minutes := minutesBetween(u.TSStart, u.TSEnd)
		kw := u.KWH * (60 / minutes)

		switch u.Channel {
		case types.ChannelGeneral:
			if weekday {
				wdImport[hour].add(kw)
			} else {
				weImport[hour].add(kw)
			}
		case types.ChannelFeedIn:
			kw = math.Abs(kw)
			if weekday {
				wdExport[hour].add(kw)
			} else {
				weExport[hour].add(kw)
			}
		}
	}

	profile := &types.UsageProfile{
		Version:      types.CurrentUsageProfileVersion,
		DaysAnalysed: len(days),
		LastUpdated:  now,
	}

	var importMeans, exportMeans []float64
	for h := 0; h < 24; h++ {
		hp := types.HourProfile{
			WeekdayImportKW: wdImport[h].mean(),
			WeekendImportKW: weImport[h].mean(),
			WeekdayExportKW: wdExport[h].mean(),
			WeekendExportKW: weExport[h].mean(),
		}
		profile.Hours[h] = hp

		for _, v := range []float64{hp.WeekdayImportKW, hp.WeekendImportKW} {
			if v > 0 {
				importMeans = append(importMeans, v)
			}
		}
		for _, v := range []float64{hp.WeekdayExportKW, hp.WeekendExportKW} {
			if v > 0 {
				exportMeans = append(exportMeans, v)
			}
		}

		if hp.WeekdayImportKW > profile.Hours[profile.PeakImportHour].WeekdayImportKW {
			profile.PeakImportHour = h
		}
		if hp.WeekdayExportKW > profile.Hours[profile.PeakExportHour].WeekdayExportKW {
			profile.PeakExportHour = h
		}
	}

	profile.BaseLoadKW = quantile(importMeans, baseQuantile)
	profile.SolarPeakKW = quantile(exportMeans, solarQuantile)
	return profile
}

func minutesBetween(start, end time.Time) float64 {
	m := end.Sub(start).Minutes()
	if m <= 0 {
		return 5
	}
	return m
}

// quantile is the nearest-rank quantile over vals; 0 when vals is empty.
func quantile(vals []float64, q float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// FallbackLoadKW is the time-of-day load estimate used when no learned
// profile is available.
func FallbackLoadKW(hour int, weekday bool) float64 {
	switch {
	case hour >= 6 && hour < 9:
		if weekday {
			return 2.5 // morning routine
		}
		return 1.5
	case hour >= 9 && hour < 16:
		if weekday {
			return 0.8 // daytime
		}
		return 1.5
	case hour >= 16 && hour < 21:
		return 3.5 // evening peak
	case hour >= 21 && hour < 24:
		return 1.5 // wind down
	default:
		return 0.5 // overnight
	}
}

// PredictedLoadKW consults the profile, falling back to the time-of-day table
// when the profile is absent or has no data for the hour.
func PredictedLoadKW(p *types.UsageProfile, hour int, weekday bool) float64 {
	if kw := p.PredictedImportKW(hour, weekday); kw > 0 {
		return kw
	}
	return FallbackLoadKW(hour, weekday)
}
