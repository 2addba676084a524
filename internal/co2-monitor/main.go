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

// Package co2monitor wires the CO2 meter daemon together: sensor,
// acquisition loop, rolling store, daily log, calibration controller,
// dbus service, HTTP API, button monitor and display loop.
package co2monitor

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"github.com/TheCacophonyProject/co2-monitor/acquisition"
	"github.com/TheCacophonyProject/co2-monitor/calibration"
	"github.com/TheCacophonyProject/co2-monitor/history"
	"github.com/TheCacophonyProject/co2-monitor/samplelog"
	"github.com/TheCacophonyProject/co2-monitor/samplestore"
	"github.com/TheCacophonyProject/co2-monitor/sensor"
)

var version = "No version provided"

var log = logrus.StandardLogger()

type Args struct {
	ConfigDir string `arg:"-c,--config" help:"configuration folder"`
	Sensor    string `arg:"--sensor" help:"sensor type override (scd30, mhz19, sim)"`
	LogLevel  string `arg:"-l,--log-level" help:"set the logging level (debug, info, warn, error)"`
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	ConfigDir: goconfig.DefaultConfigDir,
	LogLevel:  "info",
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

type logFormatter struct{}

func (f *logFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	logrus.SetFormatter(new(logFormatter))
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	conf, err := ParseConfig(args.ConfigDir)
	if err != nil {
		log.Warnf("Could not load config, using defaults: %v", err)
		conf = DefaultConfig()
	}
	if args.Sensor != "" {
		conf.Sensor = args.Sensor
	}

	port, err := sensor.Open(conf.Sensor, conf.SerialPort)
	if err != nil {
		return err
	}
	defer port.Close()

	slog, err := samplelog.New(conf.LogDir)
	if err != nil {
		return err
	}

	interval := time.Duration(conf.SampleIntervalSeconds) * time.Second
	store := samplestore.New(time.Duration(conf.WindowHours)*time.Hour, interval)

	loop := acquisition.New(port, store, slog)
	loop.Interval = interval
	loop.FailureThreshold = conf.FailureThreshold
	loop.WarmupSamples = conf.WarmupSamples

	ctrl := calibration.New(port, loop.ResetWarmup)
	loop.Controller = ctrl

	querier := history.New(store, slog, interval)

	stop := make(chan struct{})

	if err := startService(ctrl, store, loop); err != nil {
		// The daemon is still useful without dbus (dev machines).
		log.Warnf("Could not start dbus service: %v", err)
	}

	if conf.ButtonPin != "" && conf.Sensor != "sim" {
		go func() {
			if err := monitorButton(conf.ButtonPin, ctrl, stop); err != nil {
				log.Errorf("Button monitor stopped: %v", err)
			}
		}()
	}

	api := newAPIServer(store, querier, ctrl, loop, conf.StaticDir)
	loop.OnPublish = api.hub.broadcast
	go func() {
		if err := api.listen(conf.HTTPAddr); err != nil {
			log.Errorf("API server stopped: %v", err)
		}
	}()

	go displayLoop(nil, store, ctrl, loop, time.Duration(conf.DisplaySeconds)*time.Second, stop)

	go ctrl.Run(stop)
	go loop.Run(stop)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Received %s, shutting down", sig)
	close(stop)
	return nil
}
