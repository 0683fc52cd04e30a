// Package config loads instrumentation settings and wires them into an instrumentz.System.
//
// Settings come from YAML or JSON, either a file (format chosen by extension)
// or raw bytes such as a mounted ConfigMap:
//
//	service_name: checkout
//	strict: true
//	log_level: debug
//	propagators: [tracecontext, baggage, fields]
//	fields:
//	  - header: x-request-id
//	    key: request-id
//	collector:
//	  enabled: true
//	  buffer_size: 1000
//	handlers:
//	  workers: 4
//	  queue_size: 256
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format is a configuration encoding.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Propagator names accepted in Settings.Propagators.
const (
	PropagatorTraceContext = "tracecontext"
	PropagatorBaggage      = "baggage"
	PropagatorFields       = "fields"
)

const defaultBufferSize = 1000

// Errors returned while loading or applying settings.
var (
	ErrEmptyPath         = errors.New("config: empty config path")
	ErrUnsupportedFormat = errors.New("config: unsupported config format")
	ErrLoadFailed        = errors.New("config: failed to load config")
	ErrParseFailed       = errors.New("config: failed to parse config")
	ErrUnmarshalFailed   = errors.New("config: failed to unmarshal config")
	ErrUnknownPropagator = errors.New("config: unknown propagator")
	ErrUnknownKey        = errors.New("config: unknown baggage key")
	ErrInvalid           = errors.New("config: invalid settings")
)

// Settings describes how a process instruments itself.
type Settings struct {
	ServiceName string            `koanf:"service_name"`
	Strict      bool              `koanf:"strict"`
	LogLevel    string            `koanf:"log_level"`
	Propagators []string          `koanf:"propagators"`
	Fields      []FieldSettings   `koanf:"fields"`
	Collector   CollectorSettings `koanf:"collector"`
	Handlers    HandlerSettings   `koanf:"handlers"`
}

// FieldSettings maps a header to a string baggage key for the fields propagator.
type FieldSettings struct {
	Header string `koanf:"header"`
	Key    string `koanf:"key"`
}

// CollectorSettings configures the span collector.
type CollectorSettings struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
}

// HandlerSettings configures the async span handler worker pool.
// Zero workers leaves the pool disabled.
type HandlerSettings struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

// Load reads settings from path. The format follows the file extension.
func Load(path string) (Settings, error) {
	if path == "" {
		return Settings{}, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return Settings{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return Parse(data, format)
}

// Parse decodes settings from data. Empty data yields the defaults.
func Parse(data []byte, format Format) (Settings, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Settings{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Settings{}, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}

	var s Settings
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	s.applyDefaults()
	return s, s.Validate()
}

func (s *Settings) applyDefaults() {
	if len(s.Propagators) == 0 {
		s.Propagators = []string{PropagatorTraceContext, PropagatorBaggage}
	}
	if s.Collector.Enabled && s.Collector.BufferSize == 0 {
		s.Collector.BufferSize = defaultBufferSize
	}
	if s.Handlers.Workers > 0 && s.Handlers.QueueSize == 0 {
		s.Handlers.QueueSize = s.Handlers.Workers * 64
	}
}

// Validate checks the settings without building anything.
func (s Settings) Validate() error {
	for _, name := range s.Propagators {
		switch strings.ToLower(name) {
		case PropagatorTraceContext, PropagatorBaggage, PropagatorFields:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownPropagator, name)
		}
	}
	for i, f := range s.Fields {
		if f.Header == "" || f.Key == "" {
			return fmt.Errorf("%w: fields[%d] needs header and key", ErrInvalid, i)
		}
	}
	if s.Collector.BufferSize < 0 {
		return fmt.Errorf("%w: collector.buffer_size must not be negative", ErrInvalid)
	}
	if s.Handlers.Workers < 0 || s.Handlers.QueueSize < 0 {
		return fmt.Errorf("%w: handlers must not be negative", ErrInvalid)
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return level, nil
}
