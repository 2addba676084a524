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
	"fmt"
	"time"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/tarm/serial"
)

const (
	mhz19Baud = 9600

	mhz19CmdRead     = 0x86
	mhz19CmdZeroCal  = 0x87
	mhz19TempOffset  = 40
	mhz19FrameLength = 9
)

// MHZ19 drives a Winsen MH-Z19B over UART. The sensor reports CO2 and a
// coarse internal temperature; it has no humidity channel, so humidity
// is always zero in its samples.
type MHZ19 struct {
	port *serial.Port
}

func NewMHZ19(device string) (*MHZ19, error) {
	if device == "" {
		device = "/dev/serial0"
	}
	c := &serial.Config{Name: device, Baud: mhz19Baud, ReadTimeout: time.Second * 5}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, err
	}
	log.Infof("MH-Z19 opened on %s", device)
	return &MHZ19{port: port}, nil
}

func (m *MHZ19) Read(ctx context.Context) (sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return sample.Sample{}, err
	}
	resp, err := m.transact(mhz19CmdRead, 0, 0)
	if err != nil {
		return sample.Sample{}, err
	}
	co2PPM := float64(int(resp[2])<<8 | int(resp[3]))
	temp := float64(int(resp[4]) - mhz19TempOffset)
	if co2PPM <= 0 {
		return sample.Sample{}, fmt.Errorf("MH-Z19 returned implausible CO2 reading %.0f ppm", co2PPM)
	}
	return sample.Sample{
		CO2:         co2PPM / 1e6,
		Temperature: temp,
	}, nil
}

// ForceCalibrate triggers the zero-point calibration. The MH-Z19 always
// assumes the sensor is sitting in outdoor air, so only a 400 ppm
// reference is accepted.
func (m *MHZ19) ForceCalibrate(ctx context.Context, referencePPM int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if referencePPM != 400 {
		return fmt.Errorf("MH-Z19 only supports a 400 ppm reference, got %d", referencePPM)
	}
	// The zero-point command is not acknowledged by the sensor.
	return m.send(mhz19CmdZeroCal, 0, 0)
}

func (m *MHZ19) Close() error {
	return m.port.Close()
}

func (m *MHZ19) send(cmd, argHigh, argLow byte) error {
	frame := []byte{0xFF, 0x01, cmd, argHigh, argLow, 0x00, 0x00, 0x00, 0x00}
	frame[8] = mhz19Checksum(frame)
	n, err := m.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("wrote %d bytes, expected %d", n, len(frame))
	}
	return nil
}

func (m *MHZ19) transact(cmd, argHigh, argLow byte) ([]byte, error) {
	if err := m.send(cmd, argHigh, argLow); err != nil {
		return nil, err
	}

	buf := make([]byte, mhz19FrameLength)
	read := 0
	for read < mhz19FrameLength {
		n, err := m.port.Read(buf[read:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("short read from MH-Z19, got %d of %d bytes", read, mhz19FrameLength)
		}
		read += n
	}
	if buf[0] != 0xFF || buf[1] != cmd {
		return nil, fmt.Errorf("unexpected MH-Z19 response header % X", buf[:2])
	}
	if sum := mhz19Checksum(buf); sum != buf[8] {
		return nil, errBadCRC
	}
	return buf, nil
}

// mhz19Checksum covers bytes 1..7 of a frame.
func mhz19Checksum(frame []byte) byte {
	var sum byte
	for _, b := range frame[1:8] {
		sum += b
	}
	return 0xFF - sum + 1
}
