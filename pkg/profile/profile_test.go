package profile

import (
	"context"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/storage/storagemock"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fourteen days of synthetic usage: weekday evenings draw 3.0 kW, weekend
// evenings 1.5 kW, middays export 4.0 kW
func syntheticUsage(t *testing.T) []types.UsageInterval {
	t.Helper()
	var usage []types.UsageInterval
	start := time.Date(2026, 8, 10, 0, 0, 0, 0, time.Local) // a Monday
	for day := 0; day < 14; day++ {
		date := start.AddDate(0, 0, day)
		weekday := date.Weekday() != time.Saturday && date.Weekday() != time.Sunday

		evening := 1.5
		if weekday {
			evening = 3.0
		}
		for slot := 0; slot < 12; slot++ {
			ts := time.Date(date.Year(), date.Month(), date.Day(), 18, slot*5, 0, 0, time.Local)
			usage = append(usage, types.UsageInterval{
				TSStart: ts,
				TSEnd:   ts.Add(5 * time.Minute),
				Channel: types.ChannelGeneral,
				KWH:     evening / 12, // kW back out to kWh per 5-min slot
			})
		}
		for slot := 0; slot < 12; slot++ {
			ts := time.Date(date.Year(), date.Month(), date.Day(), 12, slot*5, 0, 0, time.Local)
			usage = append(usage, types.UsageInterval{
				TSStart: ts,
				TSEnd:   ts.Add(5 * time.Minute),
				Channel: types.ChannelFeedIn,
				KWH:     -4.0 / 12, // exports come through negative
			})
		}
		// light overnight load
		ts := time.Date(date.Year(), date.Month(), date.Day(), 3, 0, 0, 0, time.Local)
		usage = append(usage, types.UsageInterval{
			TSStart: ts,
			TSEnd:   ts.Add(5 * time.Minute),
			Channel: types.ChannelGeneral,
			KWH:     0.3 / 12,
		})
	}
	return usage
}

func TestBuildLearnsWeekdaySplit(t *testing.T) {
	now := time.Now()
	p := Build(syntheticUsage(t), 0.10, 0.90, now)
	require.NotNil(t, p)

	assert.InDelta(t, 3.0, p.Hours[18].WeekdayImportKW, 1e-9)
	assert.InDelta(t, 1.5, p.Hours[18].WeekendImportKW, 1e-9)
	assert.InDelta(t, 4.0, p.Hours[12].WeekdayExportKW, 1e-9)
	assert.Equal(t, 18, p.PeakImportHour)
	assert.Equal(t, 12, p.PeakExportHour)
	assert.Equal(t, 14, p.DaysAnalysed)
	assert.Equal(t, types.CurrentUsageProfileVersion, p.Version)
	assert.Equal(t, now, p.LastUpdated)

	// base load is the low quantile of non-zero import means
	assert.InDelta(t, 0.3, p.BaseLoadKW, 1e-9)
	assert.InDelta(t, 4.0, p.SolarPeakKW, 1e-9)
}

func TestBuildEmpty(t *testing.T) {
	assert.Nil(t, Build(nil, 0.10, 0.90, time.Now()))
}

func TestQuantile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 1.0, quantile(vals, 0.10))
	assert.Equal(t, 9.0, quantile(vals, 0.90))
	assert.Equal(t, 5.0, quantile(vals, 0.50))
	assert.Equal(t, 0.0, quantile(nil, 0.50))
}

func TestFallbackLoadKW(t *testing.T) {
	assert.Equal(t, 2.5, FallbackLoadKW(7, true))
	assert.Equal(t, 1.5, FallbackLoadKW(7, false))
	assert.Equal(t, 0.8, FallbackLoadKW(12, true))
	assert.Equal(t, 3.5, FallbackLoadKW(18, true))
	assert.Equal(t, 3.5, FallbackLoadKW(18, false))
	assert.Equal(t, 1.5, FallbackLoadKW(22, true))
	assert.Equal(t, 0.5, FallbackLoadKW(2, true))
}

func TestPredictedLoadKWFallsBack(t *testing.T) {
	p := &types.UsageProfile{LastUpdated: time.Now()}
	p.Hours[18] = types.HourProfile{WeekdayImportKW: 2.2}

	assert.Equal(t, 2.2, PredictedLoadKW(p, 18, true))
	// empty cell falls through to the table
	assert.Equal(t, 0.8, PredictedLoadKW(p, 12, true))
	assert.Equal(t, 3.5, PredictedLoadKW(nil, 18, true))
}

type stubFetcher struct {
	usage []types.UsageInterval
	err   error
}

func (s *stubFetcher) GetUsage(ctx context.Context, start, end time.Time) ([]types.UsageInterval, error) {
	return s.usage, s.err
}

func TestLearnPersists(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("SaveProfile", mock.Anything, "site-1", mock.AnythingOfType("types.UsageProfile")).Return(nil)

	l := &Learner{days: 14, baseQuantile: 0.10, solarQuantile: 0.90}
	l.Bind(&stubFetcher{usage: syntheticUsage(t)}, db, "site-1")

	p, err := l.Learn(context.Background(), time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, p.Hours[18].WeekdayImportKW, 1e-9)
	db.AssertExpectations(t)
}

func TestLoadOrLearnPrefersFreshProfile(t *testing.T) {
	fresh := &types.UsageProfile{
		Version:     types.CurrentUsageProfileVersion,
		LastUpdated: time.Now().Add(-time.Hour),
	}
	db := &storagemock.MockDatabase{}
	db.On("LoadProfile", mock.Anything, "site-1").Return(fresh, nil)

	l := &Learner{days: 14, baseQuantile: 0.10, solarQuantile: 0.90}
	l.Bind(&stubFetcher{err: assert.AnError}, db, "site-1")

	p, err := l.LoadOrLearn(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, fresh, p)
}

func TestLoadOrLearnKeepsStaleOnRebuildFailure(t *testing.T) {
	stale := &types.UsageProfile{
		Version:     types.CurrentUsageProfileVersion,
		LastUpdated: time.Now().Add(-48 * time.Hour),
	}
	db := &storagemock.MockDatabase{}
	db.On("LoadProfile", mock.Anything, "site-1").Return(stale, nil)

	l := &Learner{days: 14, baseQuantile: 0.10, solarQuantile: 0.90}
	l.Bind(&stubFetcher{err: assert.AnError}, db, "site-1")

	p, err := l.LoadOrLearn(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, stale, p)
}

func TestLoadOrLearnNoProfileNoData(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("LoadProfile", mock.Anything, "site-1").Return(nil, storage.ErrProfileNotFound)

	l := &Learner{days: 14, baseQuantile: 0.10, solarQuantile: 0.90}
	l.Bind(&stubFetcher{err: assert.AnError}, db, "site-1")

	_, err := l.LoadOrLearn(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	l := &Learner{days: 30, baseQuantile: 0.10, solarQuantile: 0.90}
	assert.NoError(t, l.Validate())

	l.days = 3
	assert.Error(t, l.Validate())

	l.days = 30
	l.baseQuantile = 1.5
	assert.Error(t, l.Validate())
}
