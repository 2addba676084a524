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

// Package samplelog persists samples to append-only daily CSV files and
// serves range queries over them. One file per local calendar day, named
// by date, each starting with a fixed header. Only the acquisition loop
// writes; queries open just the files whose date falls inside the
// requested range and skip to the first in-range record before streaming,
// so multi-day histories are never loaded whole.
package samplelog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

const partitionExt = ".csv"

const dateLayout = "2006-01-02"

// Log is an append-only store of samples partitioned by calendar day.
type Log struct {
	dir string

	// Serializes appends. Queries read committed lines only and take no
	// lock, a record is visible to them only after it is fully flushed.
	mu sync.Mutex
}

// New opens (creating if needed) a sample log rooted at dir.
func New(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the directory holding the daily files.
func (l *Log) Dir() string {
	return l.dir
}

func (l *Log) partitionPath(day time.Time) string {
	return filepath.Join(l.dir, day.Format(dateLayout)+partitionExt)
}

// Append writes one sample to the partition for its local calendar date,
// creating the file with a header if it does not exist yet. The record is
// synced to disk before Append returns so readers never see a torn line.
func (l *Log) Append(s sample.Sample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.partitionPath(s.Timestamp.Local())
	_, statErr := os.Stat(path)
	newPartition := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	line := sample.FormatRecord(s) + "\n"
	if newPartition {
		line = sample.Header + "\n" + line
	}
	if _, err := file.WriteString(line); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// QueryRange streams all samples with start <= timestamp < end, in order,
// to fn. Missing partitions are treated as empty. An invalid range yields
// no samples and no error. Returning an error from fn stops the scan.
func (l *Log) QueryRange(start, end time.Time, fn func(sample.Sample) error) error {
	if !start.Before(end) {
		return nil
	}

	day := startOfDay(start.Local())
	lastDay := startOfDay(end.Local())
	for !day.After(lastDay) {
		done, err := l.scanPartition(day, start, end, fn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		day = day.AddDate(0, 0, 1)
	}
	return nil
}

// Collect is QueryRange with the results gathered into a slice.
func (l *Log) Collect(start, end time.Time) ([]sample.Sample, error) {
	var samples []sample.Sample
	err := l.QueryRange(start, end, func(s sample.Sample) error {
		samples = append(samples, s)
		return nil
	})
	return samples, err
}

// scanPartition streams the in-range records of one day's file. Returns
// done=true once a record at or past end is seen, as records within a
// partition are ordered.
func (l *Log) scanPartition(day, start, end time.Time, fn func(sample.Sample) error) (bool, error) {
	file, err := os.Open(l.partitionPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			// A torn tail line from an interrupted write is not fatal.
			log.Debugf("skipping unreadable record in %s: %v", l.partitionPath(day), err)
			continue
		}
		if len(record) > 0 && strings.Contains(record[0], "timestamp") {
			continue
		}
		s, err := sample.ParseRecord(record)
		if err != nil {
			log.Debugf("skipping bad record in %s: %v", l.partitionPath(day), err)
			continue
		}
		if s.Timestamp.Before(start) {
			continue
		}
		if !s.Timestamp.Before(end) {
			return true, nil
		}
		if err := fn(s); err != nil {
			return false, err
		}
	}
}

// AvailableRange reports the time span covered by the existing
// partitions, derived from their file names. ok is false when there are
// no partitions at all.
func (l *Log) AvailableRange() (earliest, latest time.Time, ok bool) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	var days []time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, partitionExt) {
			continue
		}
		day, err := time.ParseInLocation(dateLayout, strings.TrimSuffix(name, partitionExt), time.Local)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return time.Time{}, time.Time{}, false
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days[0], days[len(days)-1].AddDate(0, 0, 1), true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
