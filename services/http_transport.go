package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flashbots/kanon/protocol"
)

const maxResponseSize = 4 << 20

// HTTPTransport implements protocol.SignTransport and protocol.JoinTransport
// over HTTPS. Responses of all endpoints are base64 encoded.
type HTTPTransport struct {
	config     *protocol.Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewHTTPTransport creates a transport for the endpoints in config.
func NewHTTPTransport(config *protocol.Config, log *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		log:        log,
	}
}

type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// FetchServerParameters GETs the issuing server's current public parameters.
func (t *HTTPTransport) FetchServerParameters(ctx context.Context) (*protocol.GetServerPublicParamsResponse, error) {
	resp := &protocol.GetServerPublicParamsResponse{}
	if err := t.call(ctx, http.MethodGet, t.config.ServerParamsURL, nil, resp); err != nil {
		return nil, fmt.Errorf("fetching server parameters: %w", err)
	}
	return resp, nil
}

// RegisterClient POSTs freshly generated client parameters.
func (t *HTTPTransport) RegisterClient(ctx context.Context, req *protocol.RegisterClientRequest) (*protocol.RegisterClientResponse, error) {
	resp := &protocol.RegisterClientResponse{}
	if err := t.call(ctx, http.MethodPost, t.config.RegisterClientURL, req, resp); err != nil {
		return nil, fmt.Errorf("registering client: %w", err)
	}
	return resp, nil
}

// GetTokens POSTs a tokens request for one batch.
func (t *HTTPTransport) GetTokens(ctx context.Context, req *protocol.GetTokensRequest) (*protocol.GetTokensResponse, error) {
	resp := &protocol.GetTokensResponse{}
	if err := t.call(ctx, http.MethodPost, t.config.GetTokensURL, req, resp); err != nil {
		return nil, fmt.Errorf("getting tokens: %w", err)
	}
	return resp, nil
}

func (t *HTTPTransport) call(ctx context.Context, method, url string, req, resp wireMessage) error {
	var body []byte
	if req != nil {
		encoded, err := req.Marshal()
		if err != nil {
			return err
		}
		body = encoded
	}

	respBody, err := t.do(ctx, method, url, protocol.ContentTypeProtobuf, body)
	if err != nil {
		return err
	}

	decoded, err := decodeBase64(respBody)
	if err != nil {
		return fmt.Errorf("%w: response body: %v", protocol.ErrCryptoFormat, err)
	}
	return resp.Unmarshal(decoded)
}

// Join POSTs an encapsulated join request and returns the encapsulated
// response.
func (t *HTTPTransport) Join(ctx context.Context, encapsulatedRequest []byte) ([]byte, error) {
	respBody, err := t.do(ctx, http.MethodPost, t.config.JoinURL, protocol.ContentTypeOHTTPRequest, encapsulatedRequest)
	if err != nil {
		return nil, fmt.Errorf("joining: %w", err)
	}

	decoded, err := decodeBase64(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: join response body: %v", protocol.ErrDecode, err)
	}
	return decoded, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, url, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", protocol.ErrNetwork, method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", protocol.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		t.log.Debug("unexpected response status", "method", method, "url", url, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", protocol.ErrNetwork, method, url, resp.StatusCode, truncate(respBody, 256))
	}
	return respBody, nil
}

func decodeBase64(body []byte) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
