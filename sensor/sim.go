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
	"math/rand"
	"sync"

	"github.com/TheCacophonyProject/co2-monitor/sample"
)

// Sim fakes a CO2 sensor for running on machines without hardware. CO2
// random-walks inside a realistic indoor range; a forced calibration
// snaps it back to the reference value.
type Sim struct {
	mu  sync.Mutex
	ppm float64
}

func NewSim() *Sim {
	return &Sim{ppm: 400 + rand.Float64()*400}
}

func (s *Sim) Read(ctx context.Context) (sample.Sample, error) {
	if err := ctx.Err(); err != nil {
		return sample.Sample{}, err
	}
	s.mu.Lock()
	s.ppm += (rand.Float64() - 0.5) * 60
	if s.ppm < 400 {
		s.ppm = 400
	}
	if s.ppm > 2000 {
		s.ppm = 2000
	}
	ppm := s.ppm
	s.mu.Unlock()

	return sample.Sample{
		CO2:         ppm / 1e6,
		Temperature: 19 + rand.Float64()*4,
		Humidity:    40 + rand.Float64()*15,
	}, nil
}

func (s *Sim) ForceCalibrate(ctx context.Context, referencePPM int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ppm = float64(referencePPM)
	s.mu.Unlock()
	return nil
}

func (s *Sim) Close() error {
	return nil
}
