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

// Package sample holds the sensor reading value type shared by the
// acquisition, storage and query layers, and the CSV record format used
// by the daily log files.
package sample

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header is the first line of every daily log file.
const Header = "timestamp, co2_ratio, temperature_C, humidity_pct"

// Sample is a single sensor reading. CO2 is a dimensionless fraction
// (450 ppm = 0.000450). Samples are never mutated after creation.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	CO2         float64   `json:"co2"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

// PPM returns the CO2 concentration in parts per million.
func (s Sample) PPM() float64 {
	return s.CO2 * 1e6
}

func (s Sample) String() string {
	return fmt.Sprintf("%s CO2: %.0f ppm, Temp: %.2f, Humidity: %.2f",
		s.Timestamp.Format(time.RFC3339), s.PPM(), s.Temperature, s.Humidity)
}

// Point is a sample as exposed to consumers. Gap is set when the time
// separation from the previous real sample exceeded the gap threshold,
// so renderers draw a break instead of a connecting line.
type Point struct {
	Sample
	Gap bool `json:"gap,omitempty"`
}

// GapThreshold is the separation beyond which two consecutive samples
// are treated as discontinuous.
func GapThreshold(interval time.Duration) time.Duration {
	return 2 * interval
}

// MarkGaps converts an ordered run of samples into points, flagging each
// sample whose distance from its predecessor exceeds twice the
// measurement interval.
func MarkGaps(samples []Sample, interval time.Duration) []Point {
	if len(samples) == 0 {
		return nil
	}
	threshold := GapThreshold(interval)
	points := make([]Point, 0, len(samples))
	for i, s := range samples {
		p := Point{Sample: s}
		if i > 0 && s.Timestamp.Sub(samples[i-1].Timestamp) > threshold {
			p.Gap = true
		}
		points = append(points, p)
	}
	return points
}

// FormatRecord renders a sample as one log file line (without newline).
// The layout is part of the on-disk contract, plain decimal text only.
func FormatRecord(s Sample) string {
	return fmt.Sprintf("%s, %.6f, %.2f, %.2f",
		s.Timestamp.UTC().Format(time.RFC3339), s.CO2, s.Temperature, s.Humidity)
}

// ParseRecord parses the fields of one log file line.
func ParseRecord(fields []string) (Sample, error) {
	if len(fields) != 4 {
		return Sample{}, fmt.Errorf("record has %d fields, expected 4", len(fields))
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[0]))
	if err != nil {
		return Sample{}, fmt.Errorf("bad timestamp %q: %v", fields[0], err)
	}
	co2, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("bad co2 value %q: %v", fields[1], err)
	}
	temp, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("bad temperature value %q: %v", fields[2], err)
	}
	hum, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("bad humidity value %q: %v", fields[3], err)
	}
	return Sample{Timestamp: ts, CO2: co2, Temperature: temp, Humidity: hum}, nil
}
