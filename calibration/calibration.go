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

// Package calibration runs the forced-reference calibration sequence.
// Requests from the button monitor and from remote callers funnel into a
// single-consumer queue so only one sequence can be active at a time;
// a request while one is running is a no-op, not queued.
package calibration

import (
	"context"
	"sync"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// ReferencePPM is the fresh air CO2 concentration the sensor is forced
// to during calibration. Both the SCD30 FRC command and the MH-Z19
// zero-point calibration assume outdoor air.
const ReferencePPM = 400

const (
	DefaultStabilizePeriod = 2 * time.Minute
	DefaultCommitTimeout   = 10 * time.Second
)

// State of the calibration sequence.
type State int

const (
	// Idle: no calibration in progress, sampling runs normally.
	Idle State = iota
	// Requested: a trigger has fired, the sequence is about to start.
	Requested
	// Stabilizing: sampling is paused while the sensor settles in
	// reference conditions.
	Stabilizing
	// Committing: the forced-reference command is being sent.
	Committing
	// Cooldown: the command is done, waiting for warmup samples to be
	// discarded before resuming normal publishing.
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Stabilizing:
		return "stabilizing"
	case Committing:
		return "committing"
	case Cooldown:
		return "cooldown"
	}
	return "unknown"
}

// Source identifies what triggered a calibration.
type Source string

const (
	SourceButton Source = "button"
	SourceRemote Source = "remote"
	SourceNone   Source = ""
)

// Port is the slice of the sensor interface the controller needs.
type Port interface {
	ForceCalibrate(ctx context.Context, referencePPM int) error
}

// Status is the externally visible calibration state.
type Status struct {
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	RequestedAt time.Time `json:"requestedAt,omitempty"`
	Source      Source    `json:"source,omitempty"`
}

// Controller owns the calibration state machine. Only its Run loop
// mutates the state; everything else reads it through Status.
type Controller struct {
	StabilizePeriod time.Duration
	CommitTimeout   time.Duration

	port        Port
	resetWarmup func()

	mu          sync.RWMutex
	state       State
	requestedAt time.Time
	source      Source

	requests   chan struct{}
	warmupDone chan struct{}
}

// New creates an idle controller. resetWarmup is called once the
// forced-reference command has been issued (or given up on), before the
// controller enters Cooldown.
func New(port Port, resetWarmup func()) *Controller {
	return &Controller{
		StabilizePeriod: DefaultStabilizePeriod,
		CommitTimeout:   DefaultCommitTimeout,
		port:            port,
		resetWarmup:     resetWarmup,
		state:           Idle,
		requests:        make(chan struct{}, 1),
		warmupDone:      make(chan struct{}, 1),
	}
}

// Request asks for a calibration sequence. Returns true if the request
// was accepted. Requests while a sequence is active are ignored.
func (c *Controller) Request(src Source) bool {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		log.Infof("calibration request from %s ignored, already %s", src, c.State())
		return false
	}
	c.state = Requested
	c.requestedAt = time.Now()
	c.source = src
	c.mu.Unlock()

	log.Infof("calibration requested by %s", src)
	c.requests <- struct{}{}
	return true
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the current state with its request metadata.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:       c.state,
		StateName:   c.state.String(),
		RequestedAt: c.requestedAt,
		Source:      c.source,
	}
}

// WarmupComplete signals that post-calibration warmup samples have all
// been discarded. Ignored unless the controller is in Cooldown.
func (c *Controller) WarmupComplete() {
	select {
	case c.warmupDone <- struct{}{}:
	default:
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	log.Infof("calibration state: %s", s)
}

// Run processes calibration requests until stop is closed. A sensor
// failure during the sequence is logged and reported but the state
// machine still advances, a wedged calibration would otherwise halt
// data collection for good.
func (c *Controller) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-c.requests:
		}
		c.runSequence(stop)
	}
}

func (c *Controller) runSequence(stop <-chan struct{}) {
	c.setState(Stabilizing)
	select {
	case <-stop:
		return
	case <-time.After(c.StabilizePeriod):
	}

	c.setState(Committing)
	ctx, cancel := context.WithTimeout(context.Background(), c.CommitTimeout)
	err := c.port.ForceCalibrate(ctx, ReferencePPM)
	cancel()
	if err != nil {
		log.Errorf("forced calibration to %d ppm failed: %v", ReferencePPM, err)
	} else {
		log.Infof("forced calibration to %d ppm acknowledged", ReferencePPM)
	}
	c.reportResult(err)

	// Discard any stale warmup signal before arming the wait.
	select {
	case <-c.warmupDone:
	default:
	}
	if c.resetWarmup != nil {
		c.resetWarmup()
	}
	c.setState(Cooldown)

	select {
	case <-stop:
		return
	case <-c.warmupDone:
	}
	c.setState(Idle)
}

func (c *Controller) reportResult(calErr error) {
	details := map[string]interface{}{
		"referencePPM": ReferencePPM,
		"source":       string(c.sourceLocked()),
	}
	eventType := "co2Calibration"
	if calErr != nil {
		eventType = "co2CalibrationFailed"
		details["error"] = calErr.Error()
	}
	err := eventclient.AddEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		log.Errorf("error sending calibration event: %v", err)
	}
}

func (c *Controller) sourceLocked() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}
