package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/crypto"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestDevServer(t *testing.T) (*DevServer, *testutil.SignServer, http.Handler) {
	signer := testutil.NewSignServer(clock.NewMock())
	joiner, err := testutil.NewJoinGateway(9)
	require.NoError(t, err)

	d := NewDevServer(signer, joiner)
	r := chi.NewRouter()
	d.RegisterRoutes(r)
	return d, signer, r
}

func TestConfigEndpoint(t *testing.T) {
	d, _, h := newTestDevServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConfigResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, d.KeyConfigHex(), resp.KeyConfigHex)
	require.Equal(t, protocol.JoinEndpointPath, resp.Paths["join"])

	raw, err := hex.DecodeString(resp.KeyConfigHex)
	require.NoError(t, err)
	kc, err := crypto.ParseKeyConfig(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(9), kc.KeyID)
}

func TestCallsAndJoinsEndpoints(t *testing.T) {
	_, signer, h := newTestDevServer(t)

	_, err := signer.FetchServerParameters(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var calls CallsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&calls))
	require.Equal(t, CallsResponse{ServerParams: 1}, calls)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/joins", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}
