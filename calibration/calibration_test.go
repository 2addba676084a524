package calibration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (p *fakePort) ForceCalibrate(ctx context.Context, referencePPM int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, referencePPM)
	return p.err
}

func (p *fakePort) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestController(port *fakePort, resetWarmup func()) *Controller {
	ctrl := New(port, resetWarmup)
	ctrl.StabilizePeriod = 10 * time.Millisecond
	ctrl.CommitTimeout = time.Second
	return ctrl
}

func waitForState(t *testing.T, ctrl *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctrl.State() == want
	}, 2*time.Second, time.Millisecond, "controller never reached %s", want)
}

func TestSequenceProgression(t *testing.T) {
	port := &fakePort{}
	resets := 0
	ctrl := newTestController(port, func() { resets++ })

	stop := make(chan struct{})
	defer close(stop)
	go ctrl.Run(stop)

	assert.Equal(t, Idle, ctrl.State())
	require.True(t, ctrl.Request(SourceButton))

	waitForState(t, ctrl, Cooldown)
	port.mu.Lock()
	require.Len(t, port.calls, 1)
	assert.Equal(t, ReferencePPM, port.calls[0])
	port.mu.Unlock()
	assert.Equal(t, 1, resets)

	ctrl.WarmupComplete()
	waitForState(t, ctrl, Idle)

	status := ctrl.Status()
	assert.Equal(t, "idle", status.StateName)
	assert.Equal(t, SourceButton, status.Source)
	assert.False(t, status.RequestedAt.IsZero())
}

func TestConcurrentRequestsRunOneSequence(t *testing.T) {
	port := &fakePort{}
	ctrl := newTestController(port, func() {})

	stop := make(chan struct{})
	defer close(stop)
	go ctrl.Run(stop)

	assert.True(t, ctrl.Request(SourceButton))
	// The first request has already left Idle, so the second loses.
	assert.False(t, ctrl.Request(SourceRemote))

	waitForState(t, ctrl, Cooldown)
	ctrl.WarmupComplete()
	waitForState(t, ctrl, Idle)

	assert.Equal(t, 1, port.callCount())
}

func TestPortFailureStillAdvances(t *testing.T) {
	port := &fakePort{err: errors.New("sensor not responding")}
	resets := 0
	ctrl := newTestController(port, func() { resets++ })

	stop := make(chan struct{})
	defer close(stop)
	go ctrl.Run(stop)

	require.True(t, ctrl.Request(SourceRemote))
	waitForState(t, ctrl, Cooldown)
	assert.Equal(t, 1, resets)

	ctrl.WarmupComplete()
	waitForState(t, ctrl, Idle)

	// A second request works once the failed sequence has finished.
	assert.True(t, ctrl.Request(SourceRemote))
}

func TestStaleWarmupSignalDiscarded(t *testing.T) {
	port := &fakePort{}
	ctrl := newTestController(port, func() {})

	stop := make(chan struct{})
	defer close(stop)
	go ctrl.Run(stop)

	// A signal from before the sequence must not end the cooldown.
	ctrl.WarmupComplete()
	require.True(t, ctrl.Request(SourceButton))

	waitForState(t, ctrl, Cooldown)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Cooldown, ctrl.State())

	ctrl.WarmupComplete()
	waitForState(t, ctrl, Idle)
}
