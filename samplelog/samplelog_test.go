package samplelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/co2-monitor/sample"
)

func newTestLog(t *testing.T) *Log {
	l, err := New(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestAppendQueryRoundTrip(t *testing.T) {
	l := newTestLog(t)
	s := sample.Sample{
		Timestamp:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		CO2:         0.000450,
		Temperature: 21.5,
		Humidity:    45.0,
	}
	require.NoError(t, l.Append(s))

	got, err := l.Collect(
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(s.Timestamp))
	assert.Equal(t, s.CO2, got[0].CO2)
	assert.Equal(t, s.Temperature, got[0].Temperature)
	assert.Equal(t, s.Humidity, got[0].Humidity)
}

func TestPartitionFileLayout(t *testing.T) {
	l := newTestLog(t)
	s := sample.Sample{
		Timestamp:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local),
		CO2:         0.000450,
		Temperature: 21.5,
		Humidity:    45.0,
	}
	require.NoError(t, l.Append(s))
	require.NoError(t, l.Append(sample.Sample{
		Timestamp: s.Timestamp.Add(time.Minute),
		CO2:       0.000460, Temperature: 21.6, Humidity: 45.1,
	}))

	path := filepath.Join(l.Dir(), "2024-01-01.csv")
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, sample.Header, lines[0])
	assert.Equal(t, sample.FormatRecord(s), lines[1])
}

func TestQuerySpansDays(t *testing.T) {
	l := newTestLog(t)
	base := time.Date(2024, 3, 10, 23, 50, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(sample.Sample{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
		}))
	}

	// Two partition files, one per day the samples straddle.
	entries, err := os.ReadDir(l.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	got, err := l.Collect(base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestQuerySkipsMissingPartitions(t *testing.T) {
	l := newTestLog(t)
	// Only the middle day of a three day range has data.
	middle := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(sample.Sample{
			Timestamp: middle.Add(time.Duration(i) * time.Minute),
			CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
		}))
	}

	got, err := l.Collect(
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.Local),
		time.Date(2024, 3, 13, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestQueryBounds(t *testing.T) {
	l := newTestLog(t)
	base := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Append(sample.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
		}))
	}

	// Start is inclusive, end is exclusive.
	got, err := l.Collect(base.Add(2*time.Minute), base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Minute)))
	assert.True(t, got[2].Timestamp.Equal(base.Add(4*time.Minute)))
}

func TestInvalidRange(t *testing.T) {
	l := newTestLog(t)
	base := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	require.NoError(t, l.Append(sample.Sample{
		Timestamp: base,
		CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
	}))

	got, err := l.Collect(base.Add(time.Hour), base)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = l.Collect(base, base)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryToleratesTornTail(t *testing.T) {
	l := newTestLog(t)
	base := time.Date(2024, 3, 11, 12, 0, 0, 0, time.Local)
	require.NoError(t, l.Append(sample.Sample{
		Timestamp: base,
		CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
	}))

	// Simulate a write interrupted by power loss.
	path := filepath.Join(l.Dir(), base.Format("2006-01-02")+".csv")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = file.WriteString("2024-03-11T12:01:00Z, 0.0")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	got, err := l.Collect(base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(base))
}

func TestAvailableRange(t *testing.T) {
	l := newTestLog(t)

	_, _, ok := l.AvailableRange()
	assert.False(t, ok)

	require.NoError(t, l.Append(sample.Sample{
		Timestamp: time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local),
		CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
	}))
	require.NoError(t, l.Append(sample.Sample{
		Timestamp: time.Date(2024, 3, 12, 12, 0, 0, 0, time.Local),
		CO2:       0.000450, Temperature: 21.0, Humidity: 45.0,
	}))

	earliest, latest, ok := l.AvailableRange()
	require.True(t, ok)
	assert.True(t, earliest.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.Local)))
	assert.True(t, latest.Equal(time.Date(2024, 3, 13, 0, 0, 0, 0, time.Local)))
}
