package protocol

import (
	"errors"
	"fmt"
	"time"
)

// DefaultJoinAuthority is the authority join requests are addressed to
// inside the Binary HTTP envelope.
const DefaultJoinAuthority = "kanonymity-query.googleapis.com"

// Config controls sign/join processing.
type Config struct {
	// MessagesPerBatch is the number of messages covered by one tokens request.
	MessagesPerBatch int `yaml:"messages_per_batch" json:"messages_per_batch"`

	// MaxConcurrentBatches bounds how many batches are signed at once.
	MaxConcurrentBatches int `yaml:"max_concurrent_batches" json:"max_concurrent_batches"`

	// MaxConcurrentJoins bounds the join calls in flight per batch.
	MaxConcurrentJoins int `yaml:"max_concurrent_joins" json:"max_concurrent_joins"`

	// ImmediateJoinPercentage is the chance, in percent, that new messages
	// are processed right away instead of by the background worker.
	ImmediateJoinPercentage int `yaml:"immediate_join_percentage" json:"immediate_join_percentage"`

	// BackgroundBatchLimit is how many stored messages one background run picks up.
	BackgroundBatchLimit int `yaml:"background_batch_limit" json:"background_batch_limit"`

	// BackgroundInterval is the period of the background worker.
	BackgroundInterval time.Duration `yaml:"background_interval" json:"background_interval,string"`

	// RetryFailedMessages lets the background worker pick up FAILED messages
	// once no NOT_PROCESSED ones are left.
	RetryFailedMessages bool `yaml:"retry_failed_messages" json:"retry_failed_messages"`

	ServerParamsURL   string `yaml:"server_params_url" json:"server_params_url"`
	RegisterClientURL string `yaml:"register_client_url" json:"register_client_url"`
	GetTokensURL      string `yaml:"get_tokens_url" json:"get_tokens_url"`
	JoinURL           string `yaml:"join_url" json:"join_url"`

	// KeyConfigURL serves the gateway's OHTTP key configuration. It is only
	// used when KeyConfigHex is empty.
	KeyConfigURL string `yaml:"key_config_url" json:"key_config_url"`
	KeyConfigHex string `yaml:"key_config_hex" json:"key_config_hex"`

	// KeyConfigCacheTTL is how long a fetched key configuration is reused.
	KeyConfigCacheTTL time.Duration `yaml:"key_config_cache_ttl" json:"key_config_cache_ttl,string"`

	JoinAuthority string `yaml:"join_authority" json:"join_authority"`

	// HTTPTimeout applies to every outgoing request.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout,string"`
}

// DefaultConfig returns a configuration with every tunable set. Endpoint
// URLs are left empty.
func DefaultConfig() *Config {
	return &Config{
		MessagesPerBatch:        32,
		MaxConcurrentBatches:    4,
		MaxConcurrentJoins:      8,
		ImmediateJoinPercentage: 0,
		BackgroundBatchLimit:    256,
		BackgroundInterval:      time.Hour,
		RetryFailedMessages:     true,
		KeyConfigCacheTTL:       24 * time.Hour,
		JoinAuthority:           DefaultJoinAuthority,
		HTTPTimeout:             30 * time.Second,
	}
}

// Validate checks that the configuration can drive a client.
func (c *Config) Validate() error {
	if c.MessagesPerBatch <= 0 {
		return errors.New("messages_per_batch must be positive")
	}
	if c.MaxConcurrentBatches <= 0 {
		return errors.New("max_concurrent_batches must be positive")
	}
	if c.MaxConcurrentJoins <= 0 {
		return errors.New("max_concurrent_joins must be positive")
	}
	if c.ImmediateJoinPercentage < 0 || c.ImmediateJoinPercentage > 100 {
		return fmt.Errorf("immediate_join_percentage %d out of range [0, 100]", c.ImmediateJoinPercentage)
	}
	if c.BackgroundBatchLimit <= 0 {
		return errors.New("background_batch_limit must be positive")
	}
	if c.BackgroundInterval <= 0 {
		return errors.New("background_interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("http_timeout must be positive")
	}
	if c.JoinAuthority == "" {
		return errors.New("join_authority is required")
	}

	for name, url := range map[string]string{
		"server_params_url":   c.ServerParamsURL,
		"register_client_url": c.RegisterClientURL,
		"get_tokens_url":      c.GetTokensURL,
		"join_url":            c.JoinURL,
	} {
		if url == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.KeyConfigHex == "" && c.KeyConfigURL == "" {
		return errors.New("one of key_config_hex or key_config_url is required")
	}
	return nil
}
