package testutil

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/act"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/tdx"
	"github.com/go-chi/chi/v5"
)

// ErrUnknownClientParams is returned for tokens requests naming client
// parameters the server never registered.
var ErrUnknownClientParams = errors.New("unknown client parameters version")

// SignServer is an issuing server for the mock ACT scheme. It implements
// protocol.SignTransport in process and serves the same operations over
// HTTP through RegisterRoutes.
type SignServer struct {
	clock          clock.Clock
	publicParams   []byte
	version        string
	signValidity   time.Duration
	joinValidity   time.Duration
	clientValidity time.Duration
	verifier       tdx.Verifier

	mu             sync.Mutex
	registered     map[string][]byte
	nextClient     int
	fetchCalls     int
	registerCalls  int
	getTokensCalls int
}

// SignServerOption configures a SignServer.
type SignServerOption func(*SignServer)

// WithServerPublicParams sets the server public parameters and version.
func WithServerPublicParams(params []byte, version string) SignServerOption {
	return func(s *SignServer) {
		s.publicParams = params
		s.version = version
	}
}

// WithSignValidity sets how long published server parameters sign tokens.
func WithSignValidity(d time.Duration) SignServerOption {
	return func(s *SignServer) {
		s.signValidity = d
	}
}

// WithClientValidity sets the expiry of registered client parameters.
func WithClientValidity(d time.Duration) SignServerOption {
	return func(s *SignServer) {
		s.clientValidity = d
	}
}

// WithAttestationVerifier makes the server check request metadata
// attestations.
func WithAttestationVerifier(v tdx.Verifier) SignServerOption {
	return func(s *SignServer) {
		s.verifier = v
	}
}

// NewSignServer creates a server reading time from clk.
func NewSignServer(clk clock.Clock, opts ...SignServerOption) *SignServer {
	if clk == nil {
		clk = clock.New()
	}
	s := &SignServer{
		clock:          clk,
		publicParams:   []byte("mock-server-public-params"),
		version:        "server-v1",
		signValidity:   24 * time.Hour,
		joinValidity:   48 * time.Hour,
		clientValidity: 7 * 24 * time.Hour,
		registered:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublicParams returns the server public parameters.
func (s *SignServer) PublicParams() []byte {
	return s.publicParams
}

// Calls returns how often each operation was invoked.
func (s *SignServer) Calls() (fetch, register, getTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls, s.registerCalls, s.getTokensCalls
}

func (s *SignServer) FetchServerParameters(context.Context) (*protocol.GetServerPublicParamsResponse, error) {
	s.mu.Lock()
	s.fetchCalls++
	s.mu.Unlock()

	now := s.clock.Now()
	return &protocol.GetServerPublicParamsResponse{
		ServerPublicParams:  s.publicParams,
		ServerParamsVersion: s.version,
		CreationTimestamp:   now,
		JoinExpiryTimestamp: now.Add(s.joinValidity),
		SignExpiryTimestamp: now.Add(s.signValidity),
	}, nil
}

func (s *SignServer) RegisterClient(_ context.Context, req *protocol.RegisterClientRequest) (*protocol.RegisterClientResponse, error) {
	if req.ServerParamsVersion != s.version {
		return nil, fmt.Errorf("unknown server parameters version %q", req.ServerParamsVersion)
	}
	if len(req.ClientPublicParams) == 0 {
		return nil, errors.New("empty client public parameters")
	}
	if err := s.verify(req.RequestMetadata, req.ClientPublicParams); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerCalls++
	s.nextClient++
	version := fmt.Sprintf("client-v%d", s.nextClient)
	s.registered[version] = req.ClientPublicParams

	return &protocol.RegisterClientResponse{
		ClientParamsVersion: version,
		ClientParamsExpiry:  s.clock.Now().Add(s.clientValidity),
	}, nil
}

func (s *SignServer) GetTokens(_ context.Context, req *protocol.GetTokensRequest) (*protocol.GetTokensResponse, error) {
	s.mu.Lock()
	s.getTokensCalls++
	_, known := s.registered[req.ClientParamsVersion]
	s.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClientParams, req.ClientParamsVersion)
	}
	if err := s.verify(req.RequestMetadata, req.TokensRequest); err != nil {
		return nil, err
	}

	issued, err := act.MockIssueTokens(req.TokensRequest, s.publicParams)
	if err != nil {
		return nil, err
	}
	return &protocol.GetTokensResponse{TokensResponse: issued}, nil
}

func (s *SignServer) verify(md *protocol.RequestMetadata, payload []byte) error {
	if md == nil || md.AuthType != protocol.AuthTypeAttestation || md.ClientID == "" {
		return errors.New("missing attestation request metadata")
	}
	if s.verifier == nil {
		return nil
	}
	if _, err := s.verifier.Verify(md.Attestation, tdx.ReportData(md.ClientID, payload)); err != nil {
		return fmt.Errorf("attestation rejected: %w", err)
	}
	return nil
}

// RegisterRoutes serves the three sign endpoints. Bodies are protobuf and
// responses base64 encoded protobuf.
func (s *SignServer) RegisterRoutes(r chi.Router) {
	r.Get(protocol.ServerParamsPath, func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.FetchServerParameters(r.Context())
		writeProto(w, resp, err)
	})
	r.Post(protocol.RegisterClientPath, func(w http.ResponseWriter, r *http.Request) {
		req := &protocol.RegisterClientRequest{}
		if !readProto(w, r, req) {
			return
		}
		resp, err := s.RegisterClient(r.Context(), req)
		writeProto(w, resp, err)
	})
	r.Post(protocol.GetTokensPath, func(w http.ResponseWriter, r *http.Request) {
		req := &protocol.GetTokensRequest{}
		if !readProto(w, r, req) {
			return
		}
		resp, err := s.GetTokens(r.Context(), req)
		writeProto(w, resp, err)
	})
}

type protoMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

func readProto(w http.ResponseWriter, r *http.Request, msg protoMessage) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := msg.Unmarshal(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeProto(w http.ResponseWriter, msg protoMessage, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	encoded, err := msg.Marshal()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(base64.StdEncoding.EncodeToString(encoded)))
}
