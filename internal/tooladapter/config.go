package tooladapter

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const defaultHTTPTimeout = 30 * time.Second

// Auth types
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
	AuthBasic  = "basic"
)

// AuthConfig selects how credentials from the secrets map are attached
type AuthConfig struct {
	Type       string `mapstructure:"type"`
	HeaderName string `mapstructure:"headerName"`
	Prefix     string `mapstructure:"prefix"`
}

// ManifestField is one human-authored field description, turned into JSON Schema
type ManifestField struct {
	Name        string         `mapstructure:"name"`
	Type        string         `mapstructure:"type"`
	Required    bool           `mapstructure:"required"`
	Description string         `mapstructure:"description"`
	Enum        []any          `mapstructure:"enum"`
	Items       *ManifestField `mapstructure:"items"`
}

// Config describes one tool. Fields irrelevant to the chosen Type are ignored.
type Config struct {
	Type        Type              `mapstructure:"type"`
	EndpointURL string            `mapstructure:"endpointUrl"`
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	Code        string            `mapstructure:"code"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Headers     map[string]string `mapstructure:"headers"`
	SecretRefs  []string          `mapstructure:"secretRefs"`
	TimeoutMs   int               `mapstructure:"timeoutMs"`

	AllowedTools []string `mapstructure:"allowedTools"`

	InputSchema    map[string]any  `mapstructure:"inputSchema"`
	OutputSchema   map[string]any  `mapstructure:"outputSchema"`
	InputManifest  []ManifestField `mapstructure:"inputManifest"`
	OutputManifest []ManifestField `mapstructure:"outputManifest"`

	ResultPath           string  `mapstructure:"resultPath"`
	MaxRequestsPerSecond float64 `mapstructure:"maxRequestsPerSecond"`
}

// Timeout returns the configured timeout or def when unset
func (c Config) Timeout(def time.Duration) time.Duration {
	if c.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ConfigFromMap decodes a loosely typed map, as found in JSON or YAML documents
func ConfigFromMap(m map[string]any) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Type != "" {
		t, err := ParseType(string(cfg.Type))
		if err != nil {
			return Config{}, err
		}
		cfg.Type = t
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML tool config
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read tool config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Config{}, fmt.Errorf("failed to parse tool config %s: %w", path, err)
	}
	return ConfigFromMap(m)
}

// checkSecretRefs verifies every referenced secret is present
func checkSecretRefs(cfg Config, secrets map[string]string) error {
	for _, ref := range cfg.SecretRefs {
		if _, ok := secrets[ref]; !ok {
			return fmt.Errorf("%w: missing secret %s", ErrInvalidConfig, ref)
		}
	}
	return nil
}
