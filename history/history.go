/*
co2-monitor - Continuous CO2/temperature/humidity monitoring.
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package history answers arbitrary time range queries by merging the
// in-memory rolling store (hot) with the daily log files (cold).
package history

import (
	"time"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/TheCacophonyProject/co2-monitor/samplelog"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// Querier serves [start, end) range queries. When the whole range sits
// inside the rolling window and ends near now it is answered from
// memory; otherwise the log files are streamed and the rolling store
// wins for any overlapping suffix, since it may hold samples that never
// made it to disk.
type Querier struct {
	store    *samplestore.Store
	slog     *samplelog.Log
	interval time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

func New(store *samplestore.Store, slog *samplelog.Log, interval time.Duration) *Querier {
	return &Querier{
		store:    store,
		slog:     slog,
		interval: interval,
		now:      time.Now,
	}
}

// Query returns the ordered samples in [start, end) with gap markers.
// An invalid or fully out-of-range request yields an empty result, not
// an error.
func (q *Querier) Query(start, end time.Time) []sample.Point {
	if !start.Before(end) {
		return nil
	}

	now := q.now()
	windowStart := now.Add(-q.store.Window())
	slack := sample.GapThreshold(q.interval)
	if !start.Before(windowStart) && end.After(now.Add(-slack)) {
		points := q.store.Range(start, end)
		if len(points) > 0 {
			// A break relative to a sample outside the range is not
			// observable; the first returned point is never flagged.
			points[0].Gap = false
		}
		return points
	}

	cold, err := q.slog.Collect(start, end)
	if err != nil {
		log.Errorf("history query over log files failed: %v", err)
	}

	// Reconcile the tail with the rolling store so the freshest samples
	// are never duplicated and never missing.
	hot := q.store.Snapshot()
	if len(hot) > 0 && end.After(hot[0].Timestamp) {
		cutover := hot[0].Timestamp
		trimmed := cold[:0]
		for _, s := range cold {
			if s.Timestamp.Before(cutover) {
				trimmed = append(trimmed, s)
			}
		}
		cold = trimmed
		for _, p := range hot {
			if p.Timestamp.Before(start) || !p.Timestamp.Before(end) {
				continue
			}
			cold = append(cold, p.Sample)
		}
	}

	return sample.MarkGaps(cold, q.interval)
}

// AvailableRange reports the earliest and latest instants any query
// could return data for, bounding range pickers in the UI.
func (q *Querier) AvailableRange() (earliest, latest time.Time, ok bool) {
	earliest, latest, ok = q.slog.AvailableRange()
	if hotEarliest, hotOK := q.store.Earliest(); hotOK {
		if !ok || hotEarliest.Timestamp.Before(earliest) {
			earliest = hotEarliest.Timestamp
		}
		hotLatest, _ := q.store.Latest()
		if !ok || hotLatest.Timestamp.After(latest) {
			latest = hotLatest.Timestamp
		}
		ok = true
	}
	return earliest, latest, ok
}
