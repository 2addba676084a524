package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/TheCacophonyProject/co2-monitor/samplelog"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
)

const testInterval = time.Minute

func newTestQuerier(t *testing.T, now time.Time) (*Querier, *samplestore.Store, *samplelog.Log) {
	store := samplestore.New(12*time.Hour, testInterval)
	slog, err := samplelog.New(t.TempDir())
	require.NoError(t, err)
	q := New(store, slog, testInterval)
	q.now = func() time.Time { return now }
	return q, store, slog
}

func makeSample(ts time.Time, ppm float64) sample.Sample {
	return sample.Sample{
		Timestamp:   ts,
		CO2:         ppm / 1e6,
		Temperature: 21.0,
		Humidity:    45.0,
	}
}

func TestRecentRangeServedFromStore(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	q, store, _ := newTestQuerier(t, now)

	for i := 10; i > 0; i-- {
		store.Publish(makeSample(now.Add(-time.Duration(i)*time.Minute), 450))
	}

	// Nothing was appended to the log, so results can only come from
	// the rolling store.
	points := q.Query(now.Add(-time.Hour), now)
	require.Len(t, points, 10)
	assert.True(t, points[0].Timestamp.Equal(now.Add(-10*time.Minute)))
}

func TestFirstPointOfRecentRangeNeverFlagged(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	q, store, _ := newTestQuerier(t, now)

	store.Publish(makeSample(now.Add(-30*time.Minute), 450))
	// 20 minutes of silence puts a break flag on this publish.
	store.Publish(makeSample(now.Add(-10*time.Minute), 460))
	store.Publish(makeSample(now.Add(-9*time.Minute), 470))

	// Querying from the flagged sample onward: the break happened
	// before the range, so the caller must not see it.
	points := q.Query(now.Add(-10*time.Minute), now)
	require.Len(t, points, 2)
	assert.False(t, points[0].Gap)
	assert.False(t, points[1].Gap)

	// A break inside the range is still reported.
	points = q.Query(now.Add(-time.Hour), now)
	require.Len(t, points, 3)
	assert.False(t, points[0].Gap)
	assert.True(t, points[1].Gap)
}

func TestColdRangeServedFromLog(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	q, _, slog := newTestQuerier(t, now)

	old := now.Add(-48 * time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, slog.Append(makeSample(old.Add(time.Duration(i)*time.Minute), 450)))
	}

	points := q.Query(old, old.Add(time.Hour))
	require.Len(t, points, 5)
	assert.True(t, points[0].Timestamp.Equal(old))
}

func TestMergePrefersStoreOverLog(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	q, store, slog := newTestQuerier(t, now)

	// Older samples only on disk.
	old := now.Add(-48 * time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, slog.Append(makeSample(old.Add(time.Duration(i)*time.Minute), 400)))
	}

	// Recent samples both on disk and in memory, the in-memory copy has
	// a newer tail that never reached the log.
	recent := now.Add(-10 * time.Minute)
	for i := 0; i < 5; i++ {
		s := makeSample(recent.Add(time.Duration(i)*time.Minute), 500)
		store.Publish(s)
		if i < 3 {
			require.NoError(t, slog.Append(s))
		}
	}

	points := q.Query(old, now)
	require.Len(t, points, 8)

	// Strictly ordered, no duplicates, and the store's unlogged tail is
	// included.
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].Timestamp.After(points[i-1].Timestamp))
	}
	assert.True(t, points[len(points)-1].Timestamp.Equal(recent.Add(4*time.Minute)))
}

func TestGapMarkersAcrossMissingDay(t *testing.T) {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.Local)
	q, _, slog := newTestQuerier(t, now)

	day1 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	day3 := time.Date(2024, 3, 12, 12, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		require.NoError(t, slog.Append(makeSample(day1.Add(time.Duration(i)*time.Minute), 450)))
		require.NoError(t, slog.Append(makeSample(day3.Add(time.Duration(i)*time.Minute), 450)))
	}

	points := q.Query(day1, day3.Add(time.Hour))
	require.Len(t, points, 6)
	for i, p := range points {
		// The only break is where the missing day starts.
		assert.Equal(t, i == 3, p.Gap, "point %d", i)
	}
}

func TestInvalidQuery(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	q, store, _ := newTestQuerier(t, now)
	store.Publish(makeSample(now.Add(-time.Minute), 450))

	assert.Nil(t, q.Query(now, now))
	assert.Nil(t, q.Query(now, now.Add(-time.Hour)))
}

func TestAvailableRangeMergesHotAndCold(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	q, store, slog := newTestQuerier(t, now)

	_, _, ok := q.AvailableRange()
	assert.False(t, ok)

	// Store only.
	store.Publish(makeSample(now.Add(-time.Minute), 450))
	earliest, latest, ok := q.AvailableRange()
	require.True(t, ok)
	assert.True(t, earliest.Equal(now.Add(-time.Minute)))
	assert.True(t, latest.Equal(now.Add(-time.Minute)))

	// An older partition widens the range.
	old := now.Add(-72 * time.Hour)
	require.NoError(t, slog.Append(makeSample(old, 450)))
	earliest, _, ok = q.AvailableRange()
	require.True(t, ok)
	assert.True(t, earliest.Before(now.Add(-48*time.Hour)))
}
