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

// Package sensor talks to the CO2 sensor hardware. The acquisition loop
// only sees the Port interface; the concrete drivers here cover the
// SCD30 (i2c), the MH-Z19B (UART) and a simulated sensor for running
// without hardware.
package sensor

import (
	"context"
	"fmt"

	"github.com/TheCacophonyProject/co2-monitor/sample"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// Port is one CO2 sensor. Read blocks until a measurement is available
// or ctx expires; the returned sample carries no timestamp, the
// acquisition loop stamps it. ForceCalibrate issues the sensor's
// forced-reference calibration command.
type Port interface {
	Read(ctx context.Context) (sample.Sample, error)
	ForceCalibrate(ctx context.Context, referencePPM int) error
	Close() error
}

// Open returns the driver selected by name: "scd30", "mhz19" or "sim".
// serialPort is only used by the MH-Z19 driver.
func Open(name, serialPort string) (Port, error) {
	switch name {
	case "scd30":
		return NewSCD30()
	case "mhz19":
		return NewMHZ19(serialPort)
	case "sim":
		log.Info("using simulated CO2 sensor")
		return NewSim(), nil
	}
	return nil, fmt.Errorf("unknown sensor type %q", name)
}
