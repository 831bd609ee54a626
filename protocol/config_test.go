package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.ServerParamsURL = "https://sign.example.com/v1/serverParams"
	cfg.RegisterClientURL = "https://sign.example.com/v1/registerClient"
	cfg.GetTokensURL = "https://sign.example.com/v1/getTokens"
	cfg.JoinURL = "https://relay.example.com/join"
	cfg.KeyConfigURL = "https://relay.example.com/ohttp-keys"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	require.Error(t, DefaultConfig().Validate())
	require.NoError(t, validTestConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch size", func(c *Config) { c.MessagesPerBatch = 0 }},
		{"concurrency", func(c *Config) { c.MaxConcurrentBatches = -1 }},
		{"percentage", func(c *Config) { c.ImmediateJoinPercentage = 101 }},
		{"interval", func(c *Config) { c.BackgroundInterval = 0 }},
		{"join url", func(c *Config) { c.JoinURL = "" }},
		{"key config", func(c *Config) { c.KeyConfigURL = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSetBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetBaseURL("http://localhost:9090/")
	require.NoError(t, cfg.Validate())

	require.Equal(t, "http://localhost:9090/v1/serverParams", cfg.ServerParamsURL)
	require.Equal(t, "http://localhost:9090/v1/registerClient", cfg.RegisterClientURL)
	require.Equal(t, "http://localhost:9090/v1/getTokens", cfg.GetTokensURL)
	require.Equal(t, "http://localhost:9090"+JoinEndpointPath, cfg.JoinURL)
	require.Equal(t, "http://localhost:9090"+KeyConfigPath, cfg.KeyConfigURL)
}
