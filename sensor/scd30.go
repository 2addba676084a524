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

package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	scd30Address = 0x61

	scd30CmdStartMeasure = 0x0010
	scd30CmdStopMeasure  = 0x0104
	scd30CmdInterval     = 0x4600
	scd30CmdDataReady    = 0x0202
	scd30CmdReadMeasure  = 0x0300
	scd30CmdForceRecal   = 0x5204

	scd30ReadyPollInterval = 200 * time.Millisecond
)

// SCD30 frame checksum, one CRC byte per 16 bit word.
var scd30CRCTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// SCD30 drives a Sensirion SCD30 over i2c. The sensor measures CO2,
// temperature and humidity in continuous mode; Read polls the
// data-ready register and fetches the next measurement.
type SCD30 struct {
	bus i2c.BusCloser
	dev *i2c.Dev
}

// NewSCD30 opens the default i2c bus and starts continuous measurement.
func NewSCD30() (*SCD30, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, err
	}
	s := &SCD30{
		bus: bus,
		dev: &i2c.Dev{Bus: bus, Addr: scd30Address},
	}
	// Ambient pressure compensation disabled (argument 0).
	if err := s.writeCommand(scd30CmdStartMeasure, 0); err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to start SCD30 continuous measurement: %v", err)
	}
	log.Info("SCD30 continuous measurement started")
	return s, nil
}

func (s *SCD30) Read(ctx context.Context) (sample.Sample, error) {
	for {
		ready, err := s.dataReady()
		if err != nil {
			return sample.Sample{}, err
		}
		if ready {
			break
		}
		select {
		case <-ctx.Done():
			return sample.Sample{}, fmt.Errorf("timed out waiting for SCD30 measurement: %v", ctx.Err())
		case <-time.After(scd30ReadyPollInterval):
		}
	}

	raw, err := s.readWords(scd30CmdReadMeasure, 6)
	if err != nil {
		return sample.Sample{}, err
	}
	co2PPM, temp, humidity := scd30Measurement(raw)

	if co2PPM <= 0 || math.IsNaN(co2PPM) {
		return sample.Sample{}, fmt.Errorf("SCD30 returned implausible CO2 reading %.1f ppm", co2PPM)
	}
	return sample.Sample{
		CO2:         co2PPM / 1e6,
		Temperature: temp,
		Humidity:    humidity,
	}, nil
}

// ForceCalibrate sends the forced recalibration command with the given
// reference concentration. The sensor applies it to its next readings.
// ctx only bounds the wait before the command is issued; periph's Tx is
// not cancellable, so a hung bus transaction outlives the deadline.
func (s *SCD30) ForceCalibrate(ctx context.Context, referencePPM int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if referencePPM < 400 || referencePPM > 2000 {
		return fmt.Errorf("SCD30 FRC reference %d ppm out of range (400-2000)", referencePPM)
	}
	return s.writeCommand(scd30CmdForceRecal, uint16(referencePPM))
}

func (s *SCD30) Close() error {
	if err := s.writeCommand(scd30CmdStopMeasure); err != nil {
		log.Debugf("failed to stop SCD30 measurement: %v", err)
	}
	return s.bus.Close()
}

func (s *SCD30) dataReady() (bool, error) {
	words, err := s.readWords(scd30CmdDataReady, 1)
	if err != nil {
		return false, err
	}
	return binary.BigEndian.Uint16(words) == 1, nil
}

// writeCommand sends a command word plus optional arguments, each
// argument followed by its CRC byte.
func (s *SCD30) writeCommand(cmd uint16, args ...uint16) error {
	frame := []byte{byte(cmd >> 8), byte(cmd & 0xFF)}
	for _, arg := range args {
		word := []byte{byte(arg >> 8), byte(arg & 0xFF)}
		frame = append(frame, word[0], word[1], crc8.Checksum(word, scd30CRCTable))
	}
	return s.dev.Tx(frame, nil)
}

// readWords issues a command then reads n 16 bit words, verifying the
// CRC byte that follows each word on the wire.
func (s *SCD30) readWords(cmd uint16, n int) ([]byte, error) {
	if err := s.dev.Tx([]byte{byte(cmd >> 8), byte(cmd & 0xFF)}, nil); err != nil {
		return nil, err
	}
	// The SCD30 needs a short pause between command and read.
	time.Sleep(3 * time.Millisecond)

	raw := make([]byte, n*3)
	if err := s.dev.Tx(nil, raw); err != nil {
		return nil, err
	}

	words := make([]byte, 0, n*2)
	for i := 0; i < len(raw); i += 3 {
		if crc := crc8.Checksum(raw[i:i+2], scd30CRCTable); crc != raw[i+2] {
			return nil, errBadCRC
		}
		words = append(words, raw[i], raw[i+1])
	}
	return words, nil
}

var errBadCRC = errors.New("bad crc")

// scd30Measurement decodes a CRC-stripped measurement payload: three
// big-endian float32 values of two words each.
func scd30Measurement(raw []byte) (co2PPM, temp, humidity float64) {
	return wordsToFloat(raw[0:4]), wordsToFloat(raw[4:8]), wordsToFloat(raw[8:12])
}

func wordsToFloat(words []byte) float64 {
	bits := binary.BigEndian.Uint32(words)
	return float64(math.Float32frombits(bits))
}
