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

// Package samplestore keeps the recent samples in memory: a bounded,
// time-windowed sequence with one writer (the acquisition loop) and any
// number of snapshot readers.
package samplestore

import (
	"sync"
	"time"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

const DefaultWindow = 12 * time.Hour

// Store holds samples from the last window of time. The lock is held
// only for the append/evict step and for the copy a snapshot makes,
// never for the full time a reader uses the data, so the writer is not
// blocked by slow consumers.
type Store struct {
	mu       sync.RWMutex
	window   time.Duration
	interval time.Duration
	points   []sample.Point
}

// New creates an empty store. window bounds how far back samples are
// kept, interval is the measurement cadence used for gap detection.
func New(window, interval time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:   window,
		interval: interval,
	}
}

// Window returns the store's retention duration.
func (st *Store) Window() time.Duration {
	return st.window
}

// Publish inserts a new sample and evicts entries that have fallen out
// of the window. Samples must arrive in timestamp order; anything older
// than the newest entry is dropped so snapshots stay monotonic.
func (st *Store) Publish(s sample.Sample) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if n := len(st.points); n > 0 {
		last := st.points[n-1].Timestamp
		if s.Timestamp.Before(last) {
			log.Warnf("dropping out of order sample %s (newest is %s)",
				s.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
			return
		}
	}

	p := sample.Point{Sample: s}
	if n := len(st.points); n > 0 {
		if s.Timestamp.Sub(st.points[n-1].Timestamp) > sample.GapThreshold(st.interval) {
			p.Gap = true
		}
	}
	st.points = append(st.points, p)

	cutoff := s.Timestamp.Add(-st.window)
	evict := 0
	for evict < len(st.points) && st.points[evict].Timestamp.Before(cutoff) {
		evict++
	}
	if evict > 0 {
		st.points = st.points[evict:]
	}
}

// Snapshot returns a point-in-time copy of the window. The returned
// slice is owned by the caller and never mutated by later publishes.
func (st *Store) Snapshot() []sample.Point {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.points) == 0 {
		return nil
	}
	points := make([]sample.Point, len(st.points))
	copy(points, st.points)
	return points
}

// Range returns a copy of the points with start <= timestamp < end.
func (st *Store) Range(start, end time.Time) []sample.Point {
	st.mu.RLock()
	defer st.mu.RUnlock()

	lo := 0
	for lo < len(st.points) && st.points[lo].Timestamp.Before(start) {
		lo++
	}
	hi := lo
	for hi < len(st.points) && st.points[hi].Timestamp.Before(end) {
		hi++
	}
	if lo == hi {
		return nil
	}
	points := make([]sample.Point, hi-lo)
	copy(points, st.points[lo:hi])
	return points
}

// Latest returns the most recent sample, if any.
func (st *Store) Latest() (sample.Sample, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.points) == 0 {
		return sample.Sample{}, false
	}
	return st.points[len(st.points)-1].Sample, true
}

// Earliest returns the oldest retained sample, if any.
func (st *Store) Earliest() (sample.Sample, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.points) == 0 {
		return sample.Sample{}, false
	}
	return st.points[0].Sample, true
}
