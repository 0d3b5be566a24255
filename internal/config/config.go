package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds tool defaults. Command-line flags override them.
type Settings struct {
	Printer  PrinterConfig  `yaml:"printer"`
	Poll     PollConfig     `yaml:"poll"`
	Exporter ExporterConfig `yaml:"exporter"`
}

type PrinterConfig struct {
	Host           string `yaml:"host"`
	SNMPPort       int    `yaml:"snmp_port"`
	RawPort        int    `yaml:"raw_port"`
	QueryTimeoutMs int    `yaml:"query_timeout_ms"`
	DialTimeoutMs  int    `yaml:"dial_timeout_ms"`
}

// PollConfig bounds the busy and idle waits after a command.
type PollConfig struct {
	BusyIntervalMs int `yaml:"busy_interval_ms"`
	BusyAttempts   int `yaml:"busy_attempts"`
	IdleIntervalMs int `yaml:"idle_interval_ms"`
	IdleAttempts   int `yaml:"idle_attempts"`
}

type ExporterConfig struct {
	ListenAddress string `yaml:"listen_address"`
	TelemetryPath string `yaml:"telemetry_path"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Printer: PrinterConfig{
			SNMPPort:       161,
			RawPort:        9100,
			QueryTimeoutMs: 60000,
			DialTimeoutMs:  5000,
		},
		Poll: PollConfig{
			BusyIntervalMs: 1000,
			BusyAttempts:   120,
			IdleIntervalMs: 5000,
			IdleAttempts:   360,
		},
		Exporter: ExporterConfig{
			ListenAddress: ":9624",
			TelemetryPath: "/metrics",
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields the defaults; a file that does not parse or validate is an error.
func Load(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(&s); err != nil {
		return s, fmt.Errorf("config %s: %w", path, err)
	}
	return s, nil
}

// Validate checks settings without changing them.
func Validate(s *Settings) error {
	ports := []struct {
		name string
		v    int
	}{
		{"printer.snmp_port", s.Printer.SNMPPort},
		{"printer.raw_port", s.Printer.RawPort},
	}
	for _, p := range ports {
		if p.v < 1 || p.v > 65535 {
			return fmt.Errorf("%s: %d out of range", p.name, p.v)
		}
	}

	positive := []struct {
		name string
		v    int
	}{
		{"printer.query_timeout_ms", s.Printer.QueryTimeoutMs},
		{"printer.dial_timeout_ms", s.Printer.DialTimeoutMs},
		{"poll.busy_interval_ms", s.Poll.BusyIntervalMs},
		{"poll.busy_attempts", s.Poll.BusyAttempts},
		{"poll.idle_interval_ms", s.Poll.IdleIntervalMs},
		{"poll.idle_attempts", s.Poll.IdleAttempts},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.v)
		}
	}

	if s.Exporter.TelemetryPath != "" && s.Exporter.TelemetryPath[0] != '/' {
		return fmt.Errorf("exporter.telemetry_path %q must start with /", s.Exporter.TelemetryPath)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c PrinterConfig) QueryTimeout() time.Duration { return ms(c.QueryTimeoutMs) }
func (c PrinterConfig) DialTimeout() time.Duration  { return ms(c.DialTimeoutMs) }
func (c PollConfig) BusyInterval() time.Duration    { return ms(c.BusyIntervalMs) }
func (c PollConfig) IdleInterval() time.Duration    { return ms(c.IdleIntervalMs) }
