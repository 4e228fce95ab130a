package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type decodeFunc func(data []byte, out *map[string]any) error

// Decoders are picked by file extension. Device trees and engine settings
// ship as YAML in practice; JSON stays supported for generated configs.
var decoders = map[string]decodeFunc{
	".yaml": decodeYAML,
	".yml":  decodeYAML,
	".json": decodeJSON,
}

func decodeYAML(data []byte, out *map[string]any) error { return yaml.Unmarshal(data, out) }
func decodeJSON(data []byte, out *map[string]any) error { return json.Unmarshal(data, out) }

// FromFile loads a configuration file, picking the decoder from the file
// extension.
func FromFile(path string) (Config, error) {
	decode, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return Config{}, fmt.Errorf("no decoder for config file %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return parse(data, decode)
}

// FromYAML parses a YAML document into a Config.
func FromYAML(data []byte) (Config, error) {
	return parse(data, decodeYAML)
}

// FromJSON parses a JSON document into a Config.
func FromJSON(data []byte) (Config, error) {
	return parse(data, decodeJSON)
}

func parse(data []byte, decode decodeFunc) (Config, error) {
	var m map[string]any
	if err := decode(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return New(m), nil
}

// EngineOptions holds the tunable settings of a transaction client.
type EngineOptions struct {
	// HistoryCapacity is the in-memory diagnostic ring size.
	HistoryCapacity int

	// PollInterval is the sleep between poll-entry read attempts.
	PollInterval time.Duration

	// ResponseBudgetBytes bounds the total bytes of outstanding response
	// buffers per client. Zero means unlimited.
	ResponseBudgetBytes int64

	// HistoryPath, when non-empty, persists history to a SQLite database
	// at this path in addition to the in-memory ring.
	HistoryPath string
}

// Engine decodes the "engine" section of a Config into EngineOptions,
// applying defaults for missing keys.
func Engine(cfg Config) EngineOptions {
	sec := cfg.Section("engine")
	return EngineOptions{
		HistoryCapacity:     sec.Int("history_capacity", 32),
		PollInterval:        sec.Duration("poll_interval", time.Millisecond),
		ResponseBudgetBytes: sec.Int64("response_budget_bytes", 0),
		HistoryPath:         sec.String("history_path", ""),
	}
}

// LoadEngine reads a configuration file and decodes its engine section.
func LoadEngine(path string) (EngineOptions, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return EngineOptions{}, err
	}
	return Engine(cfg), nil
}
