package co2monitor

import (
	goconfig "github.com/TheCacophonyProject/go-config"
)

const configKey = "co2-monitor"

// Config is the co2-monitor section of the device config file.
type Config struct {
	Sensor                string `mapstructure:"sensor"`
	SerialPort            string `mapstructure:"serial-port"`
	LogDir                string `mapstructure:"log-dir"`
	SampleIntervalSeconds int    `mapstructure:"sample-interval-seconds"`
	WindowHours           int    `mapstructure:"window-hours"`
	FailureThreshold      int    `mapstructure:"failure-threshold"`
	WarmupSamples         int    `mapstructure:"warmup-samples"`
	ButtonPin             string `mapstructure:"button-pin"`
	HTTPAddr              string `mapstructure:"http-addr"`
	StaticDir             string `mapstructure:"static-dir"`
	DisplaySeconds        int    `mapstructure:"display-seconds"`
}

func DefaultConfig() Config {
	return Config{
		Sensor:                "scd30",
		SerialPort:            "/dev/serial0",
		LogDir:                "/var/log/co2-monitor",
		SampleIntervalSeconds: 60,
		WindowHours:           12,
		FailureThreshold:      5,
		WarmupSamples:         3,
		ButtonPin:             "GPIO26",
		HTTPAddr:              ":8080",
		StaticDir:             "/usr/share/co2-monitor/web",
		DisplaySeconds:        60,
	}
}

func ParseConfig(configDir string) (Config, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return Config{}, err
	}
	c := DefaultConfig()
	if err := conf.Unmarshal(configKey, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
