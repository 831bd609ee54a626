package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/flashbots/kanon/protocol"
)

// TestConfigOption customizes NewTestConfig.
type TestConfigOption func(*protocol.Config)

// WithMessagesPerBatch sets the batch size.
func WithMessagesPerBatch(n int) TestConfigOption {
	return func(c *protocol.Config) {
		c.MessagesPerBatch = n
	}
}

// WithMaxConcurrentBatches sets the batch parallelism.
func WithMaxConcurrentBatches(n int) TestConfigOption {
	return func(c *protocol.Config) {
		c.MaxConcurrentBatches = n
	}
}

// WithImmediateJoinPercentage sets the immediate processing chance.
func WithImmediateJoinPercentage(p int) TestConfigOption {
	return func(c *protocol.Config) {
		c.ImmediateJoinPercentage = p
	}
}

// WithBackgroundBatchLimit sets how many messages a worker run picks up.
func WithBackgroundBatchLimit(n int) TestConfigOption {
	return func(c *protocol.Config) {
		c.BackgroundBatchLimit = n
	}
}

// WithRetryFailedMessages toggles retrying FAILED messages.
func WithRetryFailedMessages(retry bool) TestConfigOption {
	return func(c *protocol.Config) {
		c.RetryFailedMessages = retry
	}
}

// WithBaseURL points every endpoint at the fake servers under baseURL.
func WithBaseURL(baseURL string) TestConfigOption {
	return func(c *protocol.Config) {
		c.SetBaseURL(baseURL)
	}
}

// NewTestConfig returns a valid configuration with small batches and
// placeholder endpoints.
func NewTestConfig(options ...TestConfigOption) *protocol.Config {
	config := protocol.DefaultConfig()
	config.MessagesPerBatch = 2
	config.MaxConcurrentBatches = 2
	config.MaxConcurrentJoins = 2
	config.BackgroundBatchLimit = 16
	config.BackgroundInterval = time.Minute
	config.HTTPTimeout = 5 * time.Second
	WithBaseURL("http://kanon.invalid")(config)

	for _, opt := range options {
		opt(config)
	}
	return config
}

// GenerateTestMessages returns n unsaved messages with distinct hash sets.
// Every two consecutive messages share an ad selection id.
func GenerateTestMessages(n int) []*protocol.Message {
	msgs := make([]*protocol.Message, n)
	for i := range msgs {
		msgs[i] = &protocol.Message{
			AdSelectionID: uint64(100 + i/2),
			HashSet:       fmt.Sprintf("hash-%03d", i),
		}
	}
	return msgs
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
