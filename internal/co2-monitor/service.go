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
	"errors"
	"time"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/TheCacophonyProject/co2-monitor/acquisition"
	"github.com/TheCacophonyProject/co2-monitor/calibration"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
)

const (
	dbusName = "org.cacophony.CO2Monitor"
	dbusPath = "/org/cacophony/CO2Monitor"
)

type service struct {
	ctrl  *calibration.Controller
	store *samplestore.Store
	loop  *acquisition.Loop
}

func startService(ctrl *calibration.Controller, store *samplestore.Store, loop *acquisition.Loop) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		ctrl:  ctrl,
		store: store,
		loop:  loop,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// RequestCalibration asks for a forced-reference calibration. Returns
// false when a calibration sequence is already running.
func (s service) RequestCalibration() (bool, *dbus.Error) {
	return s.ctrl.Request(calibration.SourceRemote), nil
}

// CalibrationState returns the current state name and when the active
// sequence was requested (zero time string when idle).
func (s service) CalibrationState() (string, string, *dbus.Error) {
	status := s.ctrl.Status()
	requestedAt := ""
	if !status.RequestedAt.IsZero() {
		requestedAt = status.RequestedAt.Format(time.RFC3339)
	}
	return status.StateName, requestedAt, nil
}

// LatestReading returns the most recent sample as a string, or an empty
// string when no data has been collected yet.
func (s service) LatestReading() (string, *dbus.Error) {
	latest, ok := s.store.Latest()
	if !ok {
		return "", nil
	}
	return latest.String(), nil
}

// Degraded reports whether the sensor is failing repeatedly.
func (s service) Degraded() (bool, *dbus.Error) {
	return s.loop.Degraded(), nil
}
