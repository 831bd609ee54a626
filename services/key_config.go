package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/crypto"
	"github.com/flashbots/kanon/protocol"
)

// KeyConfigSource provides the OHTTP gateway key configuration join
// requests are encrypted to.
type KeyConfigSource interface {
	KeyConfig(ctx context.Context) (*crypto.KeyConfig, error)
}

// StaticKeyConfigSource serves a fixed key configuration.
type StaticKeyConfigSource struct {
	Config *crypto.KeyConfig
}

// NewStaticKeyConfigSource creates a source returning cfg.
func NewStaticKeyConfigSource(cfg *crypto.KeyConfig) *StaticKeyConfigSource {
	return &StaticKeyConfigSource{Config: cfg}
}

// NewStaticKeyConfigSourceFromHex parses a hex encoded key configuration.
func NewStaticKeyConfigSourceFromHex(s string) (*StaticKeyConfigSource, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding key config hex: %w", err)
	}
	cfg, err := crypto.ParseKeyConfig(raw)
	if err != nil {
		return nil, err
	}
	return NewStaticKeyConfigSource(cfg), nil
}

func (s *StaticKeyConfigSource) KeyConfig(context.Context) (*crypto.KeyConfig, error) {
	return s.Config, nil
}

// RemoteKeyConfigSource fetches the key configuration from a URL and caches
// it for TTL. A body served as application/ohttp-keys is parsed as a key
// config list, anything else as a single key config.
type RemoteKeyConfigSource struct {
	URL        string
	TTL        time.Duration
	HTTPClient *http.Client

	clock clock.Clock

	mu           sync.Mutex
	cacheTimeout time.Time
	cached       *crypto.KeyConfig
}

// NewRemoteKeyConfigSource creates a source that fetches from url.
func NewRemoteKeyConfigSource(url string, ttl time.Duration, clk clock.Clock) *RemoteKeyConfigSource {
	if clk == nil {
		clk = clock.New()
	}
	return &RemoteKeyConfigSource{
		URL:        url,
		TTL:        ttl,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		clock:      clk,
	}
}

func (r *RemoteKeyConfigSource) KeyConfig(ctx context.Context) (*crypto.KeyConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.clock.Now().Before(r.cacheTimeout) {
		return r.cached, nil
	}

	cfg, err := r.fetchKeyConfig(ctx)
	if err != nil {
		return nil, err
	}

	r.cached = cfg
	r.cacheTimeout = r.clock.Now().Add(r.TTL)
	return cfg, nil
}

func (r *RemoteKeyConfigSource) fetchKeyConfig(ctx context.Context) (*crypto.KeyConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching key config: %v", protocol.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading key config: %v", protocol.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key config returned %d: %s", protocol.ErrNetwork, resp.StatusCode, truncate(body, 256))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == protocol.ContentTypeOHTTPKeys {
		return crypto.ParseKeyConfigs(body)
	}
	return crypto.ParseKeyConfig(body)
}
