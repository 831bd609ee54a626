// Package common provides shared utilities for the kanon commands.
//
// This package contains helper functions used by the client and the
// development server to reduce code duplication:
//
//   - YAML configuration loading with defaults
//   - Logger construction
//   - Attestation provider and key configuration source factories
//   - Message and parameter store selection
package common

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/act"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/services"
	"github.com/flashbots/kanon/tdx"
)

// Store is what the client needs from its persistence layer.
type Store interface {
	protocol.MessageStore
	protocol.ParameterStore
}

// ACTEngineMock selects act.MockEngine.
const ACTEngineMock = "mock"

// NewACTEngine returns the ACT engine registered under name. The mock
// engine's tokens are only accepted by servers running the same mock, such
// as kanon-devserver; a deployment against a real sign server must link an
// act.Engine over the real ACT library.
func NewACTEngine(name string) (act.Engine, error) {
	switch name {
	case "", ACTEngineMock:
		return act.NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown act_engine %q, only %q is built in", name, ACTEngineMock)
	}
}

// NewAttestationProvider creates a TEE provider based on configuration flags.
// Returns TDXProvider or RemoteDCAPProvider when useTDX is true,
// otherwise returns DummyProvider for testing.
func NewAttestationProvider(useTDX bool, remoteTDXURL string) tdx.AttestationProvider {
	if useTDX {
		if remoteTDXURL != "" {
			return &tdx.RemoteDCAPProvider{URL: remoteTDXURL, Timeout: 30 * time.Second}
		}
		return &tdx.TDXProvider{}
	}
	return &tdx.DummyProvider{}
}

// NewAttestationVerifier returns the verifier matching the providers
// NewAttestationProvider creates, or nil when verification is skipped. When
// measurements is set the attested registers must also match one of its
// builds.
func NewAttestationVerifier(useTDX, skip bool, measurements services.MeasurementSource) tdx.Verifier {
	if skip {
		return nil
	}
	var v tdx.Verifier = &tdx.DummyProvider{}
	if useTDX {
		v = &tdx.TDXProvider{}
	}
	if measurements != nil {
		v = &services.MeasuredVerifier{Verifier: v, Source: measurements}
	}
	return v
}

// NewMeasurementSource creates a measurement source from a URL.
// Returns nil if measurementsURL is empty, indicating no measurement
// verification should be performed.
func NewMeasurementSource(measurementsURL string) services.MeasurementSource {
	if measurementsURL != "" {
		return services.NewRemoteMeasurementSource(measurementsURL, nil)
	}
	return nil
}

// NewKeyConfigSource uses the hex key configuration when one is configured
// and fetches it from KeyConfigURL otherwise.
func NewKeyConfigSource(config *protocol.Config, clk clock.Clock) (services.KeyConfigSource, error) {
	if config.KeyConfigHex != "" {
		source, err := services.NewStaticKeyConfigSourceFromHex(config.KeyConfigHex)
		if err != nil {
			return nil, fmt.Errorf("key_config_hex: %w", err)
		}
		return source, nil
	}
	return services.NewRemoteKeyConfigSource(config.KeyConfigURL, config.KeyConfigCacheTTL, clk), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewStore opens the postgres store when configured and an in-memory store
// otherwise. The returned closer releases the store.
func NewStore(pg *services.PostgresConfig, clk clock.Clock) (Store, io.Closer, error) {
	if pg == nil {
		return services.NewInMemoryStore(clk), nopCloser{}, nil
	}
	store, err := services.NewPostgresStore(pg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening postgres store: %w", err)
	}
	return store, store, nil
}

// ParseLogLevel maps a level name to its slog level. An empty name is info.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates the process logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.Debug}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
