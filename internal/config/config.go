// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads wheelstat configuration from defaults, an optional
// YAML file, WHEELSTAT_* environment variables and bound command flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LinkConfig selects and tunes the transport to the wheel
type LinkConfig struct {
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
	QueueDepth  int    `mapstructure:"queueDepth"`
	// IdleTimeout drops a link that stays silent this long; 0 disables
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
}

// PollerConfig controls the request timer
type PollerConfig struct {
	InitialDelay       time.Duration `mapstructure:"initialDelay"`
	Interval           time.Duration `mapstructure:"interval"`
	PowerOffAckTimeout time.Duration `mapstructure:"powerOffAckTimeout"`
}

// LumberjackConfig is the rotating log file configuration
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig is the log level and output configuration
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	Stdout bool             `mapstructure:"stdout"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// HTTPConfig is the API server configuration
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// SettingsConfig locates the persisted settings file
type SettingsConfig struct {
	File string `mapstructure:"file"`
}

// CaptureConfig locates the traffic capture file
type CaptureConfig struct {
	File string `mapstructure:"file"`
}

// Config is the top-level configuration
type Config struct {
	Link     LinkConfig     `mapstructure:"link"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Settings SettingsConfig `mapstructure:"settings"`
	Capture  CaptureConfig  `mapstructure:"capture"`
}

// flagKeys maps command flag names to configuration keys
var flagKeys = map[string]string{
	"port":          "link.port",
	"baud":          "link.baud",
	"url":           "link.url",
	"username":      "link.username",
	"no-ssl-verify": "link.noSSLVerify",
	"log-level":     "logging.level",
	"log-file":      "logging.file.filename",
	"http-addr":     "http.addr",
	"settings-file": "settings.file",
	"capture":       "capture.file",
}

// Load reads configuration. An empty path falls back to the WHEELSTAT_CONFIG
// environment variable, then to wheelstat.yaml in the working directory or
// $HOME/.config/wheelstat. A missing file is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WHEELSTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/wheelstat")
		v.SetConfigName("wheelstat")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Keys without a default still need one to be visible to env overrides
	v.SetDefault("link.port", "")
	v.SetDefault("link.url", "")
	v.SetDefault("link.username", "")
	v.SetDefault("link.noSSLVerify", false)
	v.SetDefault("link.baud", 115200)
	v.SetDefault("link.queueDepth", 4)
	v.SetDefault("link.idleTimeout", "5s")

	v.SetDefault("poller.initialDelay", "100ms")
	v.SetDefault("poller.interval", "25ms")
	v.SetDefault("poller.powerOffAckTimeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.stdout", true)
	v.SetDefault("logging.file.maxSize", 20)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.file.filename", "")
	v.SetDefault("settings.file", "")
	v.SetDefault("capture.file", "")
}
