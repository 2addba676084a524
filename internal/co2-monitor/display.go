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
	"image"
	"image/color"
	"image/draw"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/TheCacophonyProject/co2-monitor/acquisition"
	"github.com/TheCacophonyProject/co2-monitor/calibration"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
)

// Display panel geometry, matches the 2.13" e-ink module in landscape.
const (
	displayWidth  = 250
	displayHeight = 122
	displayMargin = 10
	lineHeight    = 18
)

// Panel is the opaque display device. The e-ink driver lives outside
// this daemon; without one the rendered text is logged instead.
type Panel interface {
	Draw(img image.Image) error
}

// displayLoop refreshes the panel whenever the rendered content
// changes. The refresh rate is deliberately low, e-ink panels wear with
// every update.
func displayLoop(panel Panel, store *samplestore.Store, ctrl *calibration.Controller, loop *acquisition.Loop, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		lines := displayLines(store, ctrl, loop, time.Now())
		text := strings.Join(lines, " | ")
		if text == last {
			continue
		}
		last = text

		if panel == nil {
			log.Info("display: ", text)
			continue
		}
		if err := panel.Draw(renderFrame(lines)); err != nil {
			log.Errorf("display update failed: %v", err)
		}
	}
}

func displayLines(store *samplestore.Store, ctrl *calibration.Controller, loop *acquisition.Loop, now time.Time) []string {
	lines := []string{
		now.Format("15:04 Mon 2 Jan"),
	}

	if latest, ok := store.Latest(); ok {
		lines = append(lines,
			fmt.Sprintf("CO2: %.0f ppm", latest.PPM()),
			fmt.Sprintf("%.1fC  %.0f%%RH", latest.Temperature, latest.Humidity))
	} else {
		lines = append(lines, "CO2: ---", "waiting for data")
	}

	if state := ctrl.State(); state != calibration.Idle {
		lines = append(lines, "calibrating: "+state.String())
	} else if loop.Degraded() {
		lines = append(lines, "SENSOR FAULT")
	}
	return lines
}

// renderFrame draws the status lines into a 1-bit friendly image the
// panel can display directly.
func renderFrame(lines []string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, displayWidth, displayHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(displayMargin, displayMargin+lineHeight*(i+1))
		drawer.DrawString(line)
	}
	return img
}
