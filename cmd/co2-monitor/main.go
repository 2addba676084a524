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

package main

import (
	"os"

	"github.com/sirupsen/logrus"

	co2monitor "github.com/TheCacophonyProject/co2-monitor/internal/co2-monitor"
)

var version = "<not set>"

func main() {
	if err := co2monitor.Run(os.Args[1:], version); err != nil {
		logrus.Fatal(err)
	}
}
