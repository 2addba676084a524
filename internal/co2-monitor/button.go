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

package co2monitor

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/TheCacophonyProject/co2-monitor/calibration"
)

const (
	// Holding the button for this long requests a calibration. Short
	// presses are ignored so a knock can't trigger one.
	buttonHoldDuration = 3 * time.Second

	buttonPollInterval = 50 * time.Millisecond
)

// monitorButton watches the calibration button (active low, pulled up)
// and emits a single calibration request per held press.
func monitorButton(pinName string, ctrl *calibration.Controller, stop <-chan struct{}) error {
	if _, err := host.Init(); err != nil {
		return err
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return fmt.Errorf("failed to find GPIO pin '%s'", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return err
	}
	log.Infof("watching calibration button on %s", pinName)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if !pin.WaitForEdge(time.Second) {
			continue
		}
		if pin.Read() != gpio.Low {
			continue
		}

		pressedAt := time.Now()
		requested := false
		for pin.Read() == gpio.Low {
			if !requested && time.Since(pressedAt) >= buttonHoldDuration {
				ctrl.Request(calibration.SourceButton)
				requested = true
			}
			time.Sleep(buttonPollInterval)
		}
		if !requested {
			log.Debugf("button press of %s too short, ignoring", time.Since(pressedAt).Truncate(time.Millisecond))
		}
	}
}
