package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the subset of connection-and-queue tuning recognized as a
// file/environment option. Nothing else lives here — callers in need of
// something pkg/control.Config also exposes but this table doesn't
// (ProtocolLogger, per-call SendOptions defaults, ...) set those fields
// directly on the Config struct they hand to pkg/control.
type Config struct {
	ConnectTimeout       time.Duration
	ReadIdleTimeout      time.Duration
	CommandTimeout       time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts int
	WriteQueueSize       int
	SubscriberQueueSize  int
}

// Defaults returns the baseline value for each recognized option.
func Defaults() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		ReadIdleTimeout:      30 * time.Second,
		CommandTimeout:       10 * time.Second,
		ReconnectBase:        500 * time.Millisecond,
		ReconnectCap:         10 * time.Second,
		ReconnectMaxAttempts: 0,
		WriteQueueSize:       256,
		SubscriberQueueSize:  64,
	}
}

// yamlConfig mirrors the option table's own naming so a config file
// reads the same names the environment variables and docs use.
type yamlConfig struct {
	ConnectTimeout  *string `yaml:"connect_timeout"`
	ReadIdleTimeout *string `yaml:"read_idle_timeout"`
	CommandTimeout  *string `yaml:"command_timeout"`
	Reconnect       struct {
		Base        *string `yaml:"base"`
		Cap         *string `yaml:"cap"`
		MaxAttempts *int    `yaml:"max_attempts"`
	} `yaml:"reconnect"`
	WriteQueueSize      *int `yaml:"write_queue_size"`
	SubscriberQueueSize *int `yaml:"subscriber_queue_size"`
}

// FromEnv starts from Defaults and overlays any of the SCOPINATOR_*
// environment variables that are set.
func FromEnv() (Config, error) {
	cfg := Defaults()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a YAML file at path, overlays it on Defaults, then
// overlays any set SCOPINATOR_* environment variables on top of that —
// precedence is file < env. A caller wanting the final word sets fields
// on the returned Config directly before passing it on; that always
// wins because it happens last.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := applyYAML(&cfg, &yc); err != nil {
		return Config{}, fmt.Errorf("apply config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAML(cfg *Config, yc *yamlConfig) error {
	var err error
	if yc.ConnectTimeout != nil {
		if cfg.ConnectTimeout, err = time.ParseDuration(*yc.ConnectTimeout); err != nil {
			return fmt.Errorf("connect_timeout: %w", err)
		}
	}
	if yc.ReadIdleTimeout != nil {
		if cfg.ReadIdleTimeout, err = time.ParseDuration(*yc.ReadIdleTimeout); err != nil {
			return fmt.Errorf("read_idle_timeout: %w", err)
		}
	}
	if yc.CommandTimeout != nil {
		if cfg.CommandTimeout, err = time.ParseDuration(*yc.CommandTimeout); err != nil {
			return fmt.Errorf("command_timeout: %w", err)
		}
	}
	if yc.Reconnect.Base != nil {
		if cfg.ReconnectBase, err = time.ParseDuration(*yc.Reconnect.Base); err != nil {
			return fmt.Errorf("reconnect.base: %w", err)
		}
	}
	if yc.Reconnect.Cap != nil {
		if cfg.ReconnectCap, err = time.ParseDuration(*yc.Reconnect.Cap); err != nil {
			return fmt.Errorf("reconnect.cap: %w", err)
		}
	}
	if yc.Reconnect.MaxAttempts != nil {
		cfg.ReconnectMaxAttempts = *yc.Reconnect.MaxAttempts
	}
	if yc.WriteQueueSize != nil {
		cfg.WriteQueueSize = *yc.WriteQueueSize
	}
	if yc.SubscriberQueueSize != nil {
		cfg.SubscriberQueueSize = *yc.SubscriberQueueSize
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	if cfg.ConnectTimeout, err = envDuration("SCOPINATOR_CONNECT_TIMEOUT", cfg.ConnectTimeout); err != nil {
		return err
	}
	if cfg.ReadIdleTimeout, err = envDuration("SCOPINATOR_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout); err != nil {
		return err
	}
	if cfg.CommandTimeout, err = envDuration("SCOPINATOR_COMMAND_TIMEOUT", cfg.CommandTimeout); err != nil {
		return err
	}
	if cfg.ReconnectBase, err = envDuration("SCOPINATOR_RECONNECT_BASE", cfg.ReconnectBase); err != nil {
		return err
	}
	if cfg.ReconnectCap, err = envDuration("SCOPINATOR_RECONNECT_CAP", cfg.ReconnectCap); err != nil {
		return err
	}
	if cfg.ReconnectMaxAttempts, err = envInt("SCOPINATOR_RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts); err != nil {
		return err
	}
	if cfg.WriteQueueSize, err = envInt("SCOPINATOR_WRITE_QUEUE_SIZE", cfg.WriteQueueSize); err != nil {
		return err
	}
	if cfg.SubscriberQueueSize, err = envInt("SCOPINATOR_SUBSCRIBER_QUEUE_SIZE", cfg.SubscriberQueueSize); err != nil {
		return err
	}
	return nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func envInt(name string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
