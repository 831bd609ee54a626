package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/flashbots/kanon/bhttp"
	"github.com/flashbots/kanon/crypto"
	"github.com/flashbots/kanon/protocol"
	"github.com/go-chi/chi/v5"
)

// JoinedRequest is a join request as seen by the target behind the gateway.
type JoinedRequest struct {
	Authority string
	Path      string
	HashSet   string
	Header    bhttp.Fields
	Body      protocol.JoinRequestBody
}

// JoinGateway decrypts join requests, answers them as the join target and
// encrypts the answer. It implements protocol.JoinTransport in process and
// serves the join and key config endpoints over HTTP.
type JoinGateway struct {
	gateway *crypto.Gateway

	mu        sync.Mutex
	statusFor func(hashSet string) int
	requests  []JoinedRequest
}

// NewJoinGateway creates a gateway with a fresh key answering 200 to every
// well-formed join.
func NewJoinGateway(keyID uint8) (*JoinGateway, error) {
	g, err := crypto.NewGateway(keyID)
	if err != nil {
		return nil, err
	}
	return &JoinGateway{gateway: g}, nil
}

// KeyConfig returns the key configuration clients encrypt to.
func (g *JoinGateway) KeyConfig() *crypto.KeyConfig {
	return g.gateway.KeyConfig()
}

// SetStatusFor makes the target answer with f(hashSet) instead of 200.
func (g *JoinGateway) SetStatusFor(f func(hashSet string) int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusFor = f
}

// Requests returns the join requests received so far.
func (g *JoinGateway) Requests() []JoinedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]JoinedRequest{}, g.requests...)
}

// Join handles one encapsulated request and returns the encapsulated response.
func (g *JoinGateway) Join(_ context.Context, encapsulatedRequest []byte) ([]byte, error) {
	plaintext, serverCtx, err := g.gateway.DecapsulateRequest(encapsulatedRequest)
	if err != nil {
		return nil, err
	}

	status := http.StatusBadRequest
	req, err := bhttp.ParseRequest(plaintext)
	if err == nil {
		status = g.answer(req)
	}

	resp := &bhttp.Response{
		StatusCode: status,
		Header:     bhttp.Fields{{Name: bhttp.HeaderContentType, Value: protocol.ContentTypeJSON}},
		Content:    []byte("{}"),
	}
	encoded, err := resp.Marshal()
	if err != nil {
		return nil, err
	}
	return serverCtx.EncapsulateResponse(encoded)
}

func (g *JoinGateway) answer(req *bhttp.Request) int {
	if req.Method != http.MethodPost || !strings.HasPrefix(req.Path, "/v2/") || !strings.HasSuffix(req.Path, ":join") {
		return http.StatusNotFound
	}
	hashSet := strings.TrimSuffix(strings.TrimPrefix(req.Path, "/v2/"), ":join")

	var body protocol.JoinRequestBody
	if err := json.Unmarshal(req.Content, &body); err != nil || len(body.ACT.TokenV0.BBSignature) == 0 {
		return http.StatusBadRequest
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, JoinedRequest{
		Authority: req.Authority,
		Path:      req.Path,
		HashSet:   hashSet,
		Header:    req.Header,
		Body:      body,
	})
	if g.statusFor != nil {
		return g.statusFor(hashSet)
	}
	return http.StatusOK
}

// RegisterRoutes serves the join relay and the key configuration.
func (g *JoinGateway) RegisterRoutes(r chi.Router) {
	r.Post(protocol.JoinEndpointPath, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := g.Join(r.Context(), body)
		if err != nil {
			http.Error(w, fmt.Sprintf("gateway: %v", err), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", protocol.ContentTypeOHTTPResponse)
		w.Write([]byte(base64.StdEncoding.EncodeToString(resp)))
	})
	r.Get(protocol.KeyConfigPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", protocol.ContentTypeOHTTPKeys)
		w.Write(crypto.MarshalKeyConfigs(g.KeyConfig()))
	})
}
