package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/testutil"
	"github.com/go-chi/chi/v5"
)

// DevServer exposes what the development server has seen, for inspecting a
// client run.
type DevServer struct {
	signer *testutil.SignServer
	joiner *testutil.JoinGateway
}

// NewDevServer creates the inspection API over signer and joiner.
func NewDevServer(signer *testutil.SignServer, joiner *testutil.JoinGateway) *DevServer {
	return &DevServer{signer: signer, joiner: joiner}
}

// ConfigResponse tells a client how to reach this server.
type ConfigResponse struct {
	KeyConfigHex string            `json:"key_config_hex"`
	Paths        map[string]string `json:"paths"`
}

// CallsResponse counts the sign calls served so far.
type CallsResponse struct {
	ServerParams   int `json:"server_params"`
	RegisterClient int `json:"register_client"`
	GetTokens      int `json:"get_tokens"`
	Joins          int `json:"joins"`
}

// JoinSummary is one join request as seen behind the gateway.
type JoinSummary struct {
	HashSet   string `json:"hash_set"`
	Authority string `json:"authority"`
	Nonce     string `json:"nonce"`
}

// RegisterRoutes registers the inspection API.
func (d *DevServer) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", d.handleConfig)
		r.Get("/calls", d.handleCalls)
		r.Get("/joins", d.handleJoins)
	})
}

// KeyConfigHex returns the gateway key configuration clients can be started with.
func (d *DevServer) KeyConfigHex() string {
	return hex.EncodeToString(d.joiner.KeyConfig().Marshal())
}

func (d *DevServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &ConfigResponse{
		KeyConfigHex: d.KeyConfigHex(),
		Paths: map[string]string{
			"server_params":   protocol.ServerParamsPath,
			"register_client": protocol.RegisterClientPath,
			"get_tokens":      protocol.GetTokensPath,
			"join":            protocol.JoinEndpointPath,
			"key_config":      protocol.KeyConfigPath,
		},
	})
}

func (d *DevServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	fetch, register, getTokens := d.signer.Calls()
	writeJSON(w, http.StatusOK, &CallsResponse{
		ServerParams:   fetch,
		RegisterClient: register,
		GetTokens:      getTokens,
		Joins:          len(d.joiner.Requests()),
	})
}

func (d *DevServer) handleJoins(w http.ResponseWriter, r *http.Request) {
	requests := d.joiner.Requests()
	joins := make([]JoinSummary, 0, len(requests))
	for _, req := range requests {
		joins = append(joins, JoinSummary{
			HashSet:   req.HashSet,
			Authority: req.Authority,
			Nonce:     hex.EncodeToString(req.Body.ACT.NonceBytes),
		})
	}
	writeJSON(w, http.StatusOK, joins)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
