package common

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/act"
	"github.com/flashbots/kanon/crypto"
	"github.com/flashbots/kanon/services"
	"github.com/flashbots/kanon/tdx"
	"github.com/stretchr/testify/require"
)

const testConfig = `
profile_path: /tmp/kanon-profile
protocol:
  messages_per_batch: 8
  background_interval: 10m
  server_params_url: http://sign/params
  register_client_url: http://sign/register
  get_tokens_url: http://sign/tokens
  join_url: http://relay/join
  key_config_url: http://relay/keys
http:
  listen_addr: ":8083"
attestation:
  use_tdx: true
  tdx_remote_url: http://quotes
log:
  format: json
  level: debug
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8, cfg.Protocol.MessagesPerBatch)
	require.Equal(t, 10*time.Minute, cfg.Protocol.BackgroundInterval)
	require.Equal(t, "http://relay/join", cfg.Protocol.JoinURL)
	require.Equal(t, ":8083", cfg.HTTP.ListenAddr)
	require.Nil(t, cfg.Postgres)
	require.True(t, cfg.Attestation.UseTDX)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, ACTEngineMock, cfg.ACTEngine)

	// Fields the file leaves out keep their defaults.
	require.Equal(t, 4, cfg.Protocol.MaxConcurrentBatches)
	require.Equal(t, 30*time.Second, cfg.HTTP.GracefulShutdownDuration)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protocol: [1, 2"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestDefaultConfigNeedsEndpoints(t *testing.T) {
	require.Error(t, DefaultConfig().Validate())
}

func TestNewACTEngine(t *testing.T) {
	engine, err := NewACTEngine(ACTEngineMock)
	require.NoError(t, err)
	require.IsType(t, &act.MockEngine{}, engine)

	_, err = NewACTEngine("bbs")
	require.ErrorContains(t, err, "only \"mock\" is built in")

	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig+"act_engine: bbs\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "act_engine")
}

func TestNewAttestationProvider(t *testing.T) {
	require.IsType(t, &tdx.DummyProvider{}, NewAttestationProvider(false, "http://quotes"))
	require.IsType(t, &tdx.TDXProvider{}, NewAttestationProvider(true, ""))
	require.IsType(t, &tdx.RemoteDCAPProvider{}, NewAttestationProvider(true, "http://quotes"))

	require.Nil(t, NewAttestationVerifier(true, true, nil))
	require.IsType(t, &tdx.DummyProvider{}, NewAttestationVerifier(false, false, nil))
	require.IsType(t, &services.MeasuredVerifier{}, NewAttestationVerifier(false, false, services.DemoMeasurementSource()))

	require.Nil(t, NewMeasurementSource(""))
	require.IsType(t, &services.RemoteMeasurementSource{}, NewMeasurementSource("http://measurements"))
}

func TestNewKeyConfigSource(t *testing.T) {
	gw, err := crypto.NewGateway(3)
	require.NoError(t, err)

	cfg := DefaultConfig().Protocol
	cfg.KeyConfigHex = hex.EncodeToString(gw.KeyConfig().Marshal())
	source, err := NewKeyConfigSource(cfg, clock.NewMock())
	require.NoError(t, err)
	kc, err := source.KeyConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(3), kc.KeyID)

	cfg.KeyConfigHex = "zz"
	_, err = NewKeyConfigSource(cfg, clock.NewMock())
	require.Error(t, err)

	cfg.KeyConfigHex = ""
	cfg.KeyConfigURL = "http://relay/keys"
	source, err = NewKeyConfigSource(cfg, clock.NewMock())
	require.NoError(t, err)
	require.IsType(t, &services.RemoteKeyConfigSource{}, source)
}

func TestNewStoreInMemory(t *testing.T) {
	store, closer, err := NewStore(nil, clock.NewMock())
	require.NoError(t, err)
	require.IsType(t, &services.InMemoryStore{}, store)
	require.NoError(t, closer.Close())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(LogConfig{Format: "json", Level: "warn"}, &buf)
	require.NoError(t, err)
	log.Info("dropped")
	log.Warn("kept", "k", 1)
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), `"msg":"kept"`)

	_, err = NewLogger(LogConfig{Format: "xml"}, &buf)
	require.Error(t, err)
	_, err = ParseLogLevel("loud")
	require.Error(t, err)
}
