package common

import (
	"errors"
	"fmt"
	"os"

	"github.com/flashbots/kanon/api/httpserver"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/services"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration shared by the kanon binaries.
type Config struct {
	Protocol *protocol.Config             `yaml:"protocol"`
	HTTP     *httpserver.HTTPServerConfig `yaml:"http"`

	// Postgres selects the postgres store. Messages and parameters are
	// kept in memory when it is nil.
	Postgres *services.PostgresConfig `yaml:"postgres"`

	Attestation AttestationConfig `yaml:"attestation"`
	Log         LogConfig         `yaml:"log"`

	// ProfilePath is where the client profile id is kept.
	ProfilePath string `yaml:"profile_path"`

	// ACTEngine names the ACT implementation. Only "mock" is built in.
	ACTEngine string `yaml:"act_engine"`
}

// AttestationConfig selects how sign requests are attested.
type AttestationConfig struct {
	UseTDX       bool   `yaml:"use_tdx"`
	TDXRemoteURL string `yaml:"tdx_remote_url"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Debug  bool   `yaml:"debug"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Protocol:    protocol.DefaultConfig(),
		HTTP:        httpserver.DefaultHTTPServerConfig(),
		ProfilePath: "kanon-profile",
		ACTEngine:   ACTEngineMock,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// An empty section in the file leaves the pointer nil.
	if cfg.Protocol == nil {
		cfg.Protocol = protocol.DefaultConfig()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpserver.DefaultHTTPServerConfig()
	}
	return cfg, nil
}

// Validate checks the parts of the configuration the client needs.
func (c *Config) Validate() error {
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if c.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr is required")
	}
	if c.ProfilePath == "" {
		return errors.New("profile_path is required")
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := NewACTEngine(c.ACTEngine); err != nil {
		return err
	}
	return nil
}
