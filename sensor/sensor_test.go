package sensor

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimReadsStayInRange(t *testing.T) {
	sim := NewSim()
	for i := 0; i < 100; i++ {
		s, err := sim.Read(context.Background())
		require.NoError(t, err)
		ppm := s.PPM()
		assert.GreaterOrEqual(t, ppm, 400.0)
		assert.LessOrEqual(t, ppm, 2000.0)
		assert.Zero(t, s.Timestamp)
	}
}

func TestSimForceCalibrate(t *testing.T) {
	sim := NewSim()
	require.NoError(t, sim.ForceCalibrate(context.Background(), 400))
	s, err := sim.Read(context.Background())
	require.NoError(t, err)
	// One random walk step away from the reference at most.
	assert.InDelta(t, 400, s.PPM(), 31)
}

func TestSimHonoursContext(t *testing.T) {
	sim := NewSim()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Read(ctx)
	assert.Error(t, err)
}

func TestOpenUnknownSensor(t *testing.T) {
	_, err := Open("bogus", "")
	assert.Error(t, err)
}

func TestSCD30MeasurementDecode(t *testing.T) {
	// A full CRC-stripped read-measurement payload: three float32
	// values, two big-endian words each.
	raw := make([]byte, 12)
	binary.BigEndian.PutUint32(raw[0:4], math.Float32bits(450.0))
	binary.BigEndian.PutUint32(raw[4:8], math.Float32bits(21.5))
	binary.BigEndian.PutUint32(raw[8:12], math.Float32bits(45.0))

	co2PPM, temp, humidity := scd30Measurement(raw)
	assert.InDelta(t, 450.0, co2PPM, 0.001)
	assert.InDelta(t, 21.5, temp, 0.001)
	assert.InDelta(t, 45.0, humidity, 0.001)
}

func TestSCD30ForceCalibrateHonoursContext(t *testing.T) {
	s := &SCD30{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.ForceCalibrate(ctx, 400))
}

func TestMHZ19Checksum(t *testing.T) {
	// Worked example from the Winsen datasheet: a read response
	// reporting 2120 ppm.
	frame := []byte{0xFF, 0x86, 0x08, 0x48, 0x44, 0x00, 0x00, 0x00, 0x00}
	assert.Equal(t, byte(0xE6), mhz19Checksum(frame))
}

func TestMHZ19RejectsNonStandardReference(t *testing.T) {
	m := &MHZ19{}
	err := m.ForceCalibrate(context.Background(), 600)
	assert.Error(t, err)
}
