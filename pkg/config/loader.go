package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader reads a JSON config file through koanf.
type Loader struct {
	koanf *koanf.Koanf
	path  string
}

func NewLoader(path string) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return &Loader{
		koanf: koanf.New("."),
		path:  path,
	}, nil
}

// Load reads, env-expands, unmarshals, defaults, and validates the config.
func (l *Loader) Load() (*Config, error) {
	if err := l.koanf.Load(file.Provider(l.path), json.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.path, err)
	}

	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) expandEnvVarsInKoanf() error {
	expanded := expandEnvVarsInData(l.koanf.Raw())

	expandedMap, ok := expanded.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	newKoanf := koanf.New(".")
	if err := newKoanf.Load(confmap.Provider(expandedMap, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}
	l.koanf = newKoanf
	return nil
}

// LoadConfig is the one-shot convenience wrapper around NewLoader + Load.
func LoadConfig(path string) (*Config, error) {
	loader, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}

// Default returns a config suitable for tests and local experimentation:
// in-memory stores everywhere, no external providers.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.AGFS.Backend = "memory"
	cfg.Storage.VectorDB.Backend = "local"
	cfg.Storage.Queue.Backend = "memory"
	cfg.SetDefaults()
	return cfg
}
