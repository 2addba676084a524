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

// Package acquisition runs the sampling loop: the single authority that
// reads the sensor on a fixed cadence and publishes real samples into
// the rolling store and the daily log.
package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/TheCacophonyProject/co2-monitor/calibration"
	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/TheCacophonyProject/co2-monitor/samplelog"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
	"github.com/TheCacophonyProject/co2-monitor/sensor"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

const (
	DefaultInterval         = 60 * time.Second
	DefaultReadTimeout      = 10 * time.Second
	DefaultFailureThreshold = 5
	// Samples discarded after startup and after each calibration, while
	// the sensor cell is still settling.
	DefaultWarmupSamples = 3
)

// Loop reads the sensor once per interval and fans real samples out to
// the store and the log. Exactly one Loop runs per process.
type Loop struct {
	Interval         time.Duration
	ReadTimeout      time.Duration
	FailureThreshold int
	WarmupSamples    int

	// Controller pauses sampling while a calibration sequence is
	// active. May be nil (sampling never pauses).
	Controller *calibration.Controller

	// OnPublish, if set, is called after each real sample is published.
	OnPublish func(sample.Sample)

	port  sensor.Port
	store *samplestore.Store
	slog  *samplelog.Log

	mu          sync.Mutex
	warmup      int
	consecutive int
	degraded    bool
}

func New(port sensor.Port, store *samplestore.Store, slog *samplelog.Log) *Loop {
	return &Loop{
		Interval:         DefaultInterval,
		ReadTimeout:      DefaultReadTimeout,
		FailureThreshold: DefaultFailureThreshold,
		WarmupSamples:    DefaultWarmupSamples,
		port:             port,
		store:            store,
		slog:             slog,
	}
}

// ResetWarmup restarts the warmup discard counter. Called at startup and
// by the calibration controller after a forced calibration.
func (l *Loop) ResetWarmup() {
	l.mu.Lock()
	l.warmup = l.WarmupSamples
	l.mu.Unlock()
	log.Infof("discarding next %d samples as warmup", l.WarmupSamples)
}

// Degraded reports whether the sensor has failed too many reads in a
// row. Readers use this to distinguish "no data" from "stale data".
func (l *Loop) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// Run ticks until stop is closed. The ticker schedules from the last
// tick, not from the end of processing, so a slow read does not skew the
// cadence over time.
func (l *Loop) Run(stop <-chan struct{}) {
	l.ResetWarmup()
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.tick(time.Now())
		}
	}
}

func (l *Loop) tick(now time.Time) {
	if l.Controller != nil {
		if state := l.Controller.State(); state != calibration.Idle && state != calibration.Cooldown {
			log.Debugf("skipping read, calibration is %s", state)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.ReadTimeout)
	s, err := l.port.Read(ctx)
	cancel()
	if err != nil {
		l.readFailed(err)
		return
	}
	l.readSucceeded()

	s.Timestamp = now

	if l.provisional() {
		log.Debugf("discarding provisional warmup sample: %s", s)
		return
	}

	l.store.Publish(s)
	if l.OnPublish != nil {
		l.OnPublish(s)
	}

	// Durability loss is acceptable, losing the live view is not: a
	// failed append never aborts the in-memory publish.
	if err := l.slog.Append(s); err != nil {
		log.Errorf("failed to persist sample: %v", err)
	}
}

// provisional consumes one warmup slot if any remain. When the last slot
// is consumed during a calibration cooldown the controller is told the
// warmup is over.
func (l *Loop) provisional() bool {
	l.mu.Lock()
	if l.warmup == 0 {
		l.mu.Unlock()
		return false
	}
	l.warmup--
	finished := l.warmup == 0
	l.mu.Unlock()

	if finished && l.Controller != nil && l.Controller.State() == calibration.Cooldown {
		l.Controller.WarmupComplete()
	}
	return true
}

func (l *Loop) readFailed(readErr error) {
	l.mu.Lock()
	l.consecutive++
	hitThreshold := l.consecutive == l.FailureThreshold
	if hitThreshold {
		l.degraded = true
	}
	consecutive := l.consecutive
	l.mu.Unlock()

	log.Warnf("sensor read failed (%d in a row): %v", consecutive, readErr)
	if hitThreshold {
		log.Errorf("sensor degraded after %d consecutive read failures", consecutive)
		err := eventclient.AddEvent(eventclient.Event{
			Timestamp: time.Now(),
			Type:      "co2SensorDegraded",
			Details: map[string]interface{}{
				"consecutiveFailures": consecutive,
				"error":               readErr.Error(),
			},
		})
		if err != nil {
			log.Errorf("error sending degraded sensor event: %v", err)
		}
	}
}

func (l *Loop) readSucceeded() {
	l.mu.Lock()
	wasDegraded := l.degraded
	l.consecutive = 0
	l.degraded = false
	l.mu.Unlock()

	if wasDegraded {
		log.Info("sensor recovered")
	}
}
