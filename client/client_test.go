package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/act"
	"github.com/flashbots/kanon/bhttp"
	"github.com/flashbots/kanon/metrics"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/services"
	"github.com/flashbots/kanon/testutil"
	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	config  *protocol.Config
	clock   *clock.Mock
	store   *services.InMemoryStore
	engine  *act.MockEngine
	sign    *testutil.SignServer
	gateway *testutil.JoinGateway
	join    *protocol.MockJoinTransport
	profile uuid.UUID
	metrics *metrics.Collectors
	caller  *Caller
}

func setupTestCaller(t *testing.T, options ...testutil.TestConfigOption) *testEnv {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	gateway, err := testutil.NewJoinGateway(1)
	require.NoError(t, err)

	env := &testEnv{
		config:  testutil.NewTestConfig(options...),
		clock:   clk,
		store:   services.NewInMemoryStore(clk),
		engine:  act.NewMockEngine(),
		sign:    testutil.NewSignServer(clk),
		gateway: gateway,
		profile: uuid.New(),
		metrics: metrics.NewCollectors("test", nil),
	}
	env.join = &protocol.MockJoinTransport{JoinFunc: gateway.Join}

	log := testutil.DiscardLogger()
	env.caller, err = NewCaller(env.config, Dependencies{
		Engine:     env.engine,
		Messages:   env.store,
		Parameters: env.store,
		Sign:       env.sign,
		Join:       env.join,
		Oblivious:  services.NewObliviousEncryptor(services.NewStaticKeyConfigSource(gateway.KeyConfig()), log),
		Profile:    &services.StaticProfileIDSource{ID: env.profile},
		Clock:      clk,
		Metrics:    env.metrics,
		Log:        log,
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) statuses(t *testing.T) map[string]protocol.MessageStatus {
	t.Helper()
	result := make(map[string]protocol.MessageStatus)
	for _, m := range env.store.Messages() {
		result[m.HashSet] = m.Status
	}
	return result
}

func TestNewCallerValidates(t *testing.T) {
	_, err := NewCaller(nil, Dependencies{})
	require.Error(t, err)

	_, err = NewCaller(testutil.NewTestConfig(), Dependencies{})
	require.Error(t, err)

	bad := testutil.NewTestConfig(testutil.WithMessagesPerBatch(0))
	_, err = NewCaller(bad, Dependencies{})
	require.Error(t, err)
}

func TestSplitBatches(t *testing.T) {
	msgs := testutil.GenerateTestMessages(5)
	batches := splitBatches(msgs, 2)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
	assert.Same(t, msgs[0], batches[0][0])
	assert.Same(t, msgs[3], batches[1][1])
	assert.Same(t, msgs[4], batches[2][0])

	assert.Len(t, splitBatches(msgs, 8), 1)
}

func TestSignAndJoinMessages_AllJoined(t *testing.T) {
	env := setupTestCaller(t)
	msgs := testutil.GenerateTestMessages(3)

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), msgs))

	for hash, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusJoined, status, hash)
	}
	for _, m := range env.store.Messages() {
		require.NotNil(t, m.CorrespondingClientParamsExpiry)
		assert.True(t, m.CorrespondingClientParamsExpiry.After(env.clock.Now()))
	}

	fetch, register, getTokens := env.sign.Calls()
	assert.Equal(t, 1, fetch)
	assert.Equal(t, 1, register)
	assert.Equal(t, 2, getTokens)
	assert.Equal(t, 3, env.join.Calls())

	assert.Equal(t, 3.0, promtestutil.ToFloat64(env.metrics.MessageTransitions.WithLabelValues(string(protocol.StatusJoined))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(env.metrics.Bootstraps.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestSignAndJoinMessages_JoinRequestShape(t *testing.T) {
	env := setupTestCaller(t)
	msgs := testutil.GenerateTestMessages(1)

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), msgs))

	joined := env.gateway.Requests()
	require.Len(t, joined, 1)
	req := joined[0]
	assert.Equal(t, protocol.DefaultJoinAuthority, req.Authority)
	assert.Equal(t, "/v2/hash-000:join", req.Path)
	assert.NotEmpty(t, req.Body.ACT.NonceBytes)
	assert.NotEmpty(t, req.Body.ACT.TokenV0.BBSignature)

	date, ok := req.Header.Get(bhttp.HeaderDate)
	require.True(t, ok)
	assert.Equal(t, env.clock.Now().Format(http.TimeFormat), date)
	_, ok = req.Header.Get(bhttp.HeaderContentLength)
	assert.True(t, ok)
}

func TestSignAndJoinMessages_OneTokensRequestPerBatch(t *testing.T) {
	env := setupTestCaller(t, testutil.WithMessagesPerBatch(4))

	var recovered []int
	env.engine.RecoverTokensFunc = func(messages []string, request *act.TokensRequest, response []byte, params *act.Parameters) (*act.TokensSet, error) {
		set, err := act.MockRecoverTokens(messages, request, response, params)
		if err == nil {
			recovered = append(recovered, len(set.Tokens))
		}
		return set, err
	}
	env.config.MaxConcurrentBatches = 1

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(4)))

	_, _, getTokens := env.sign.Calls()
	assert.Equal(t, 1, getTokens)
	assert.Equal(t, []int{4}, recovered)
}

// Five messages with a batch size of two make three batches. A
// verification error in the second batch only fails that batch.
func TestSignAndJoinMessages_BatchFailureIsIsolated(t *testing.T) {
	env := setupTestCaller(t)
	msgs := testutil.GenerateTestMessages(5)

	env.engine.VerifyTokensResponseFunc = func(messages []string, request *act.TokensRequest, response []byte, params *act.Parameters) (bool, error) {
		if messages[0] == "hash-002" {
			return false, act.ErrCryptoFormat
		}
		return act.MockVerifyTokensResponse(messages, request, response, params)
	}

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), msgs))

	assert.Equal(t, map[string]protocol.MessageStatus{
		"hash-000": protocol.StatusJoined,
		"hash-001": protocol.StatusJoined,
		"hash-002": protocol.StatusFailed,
		"hash-003": protocol.StatusFailed,
		"hash-004": protocol.StatusJoined,
	}, env.statuses(t))

	_, _, getTokens := env.sign.Calls()
	assert.Equal(t, 3, getTokens)
	assert.Equal(t, 3, env.join.Calls())
}

func TestSignAndJoinMessages_VerifyFalseSkipsJoin(t *testing.T) {
	env := setupTestCaller(t)
	env.engine.VerifyTokensResponseFunc = func([]string, *act.TokensRequest, []byte, *act.Parameters) (bool, error) {
		return false, nil
	}

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(3)))

	for hash, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusFailed, status, hash)
	}
	assert.Equal(t, 0, env.join.Calls())
	assert.Equal(t, 2.0, promtestutil.ToFloat64(env.metrics.SignBatches.WithLabelValues(metrics.OutcomeFailure)))
}

func TestSignAndJoinMessages_RecoveryFailureAfterSigned(t *testing.T) {
	env := setupTestCaller(t, testutil.WithMessagesPerBatch(3))
	env.engine.RecoverTokensFunc = func([]string, *act.TokensRequest, []byte, *act.Parameters) (*act.TokensSet, error) {
		return nil, act.ErrCryptoFormat
	}

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(3)))

	for _, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusFailed, status)
	}
	assert.Equal(t, 3.0, promtestutil.ToFloat64(env.metrics.MessageTransitions.WithLabelValues(string(protocol.StatusSigned))))
	assert.Equal(t, 0, env.join.Calls())
}

func TestSignAndJoinMessages_SignNetworkFailure(t *testing.T) {
	env := setupTestCaller(t)
	sign := &protocol.MockSignTransport{
		FetchServerParametersFunc: env.sign.FetchServerParameters,
		RegisterClientFunc:        env.sign.RegisterClient,
		GetTokensFunc: func(context.Context, *protocol.GetTokensRequest) (*protocol.GetTokensResponse, error) {
			return nil, protocol.ErrNetwork
		},
	}
	env.caller.sign = sign

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(2)))

	for _, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusFailed, status)
	}
	assert.Equal(t, 0, env.join.Calls())
}

func TestSignAndJoinMessages_JoinStatus(t *testing.T) {
	env := setupTestCaller(t)
	env.gateway.SetStatusFor(func(hashSet string) int {
		switch hashSet {
		case "hash-001":
			return http.StatusNotFound
		case "hash-002":
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(4)))

	assert.Equal(t, map[string]protocol.MessageStatus{
		"hash-000": protocol.StatusJoined,
		"hash-001": protocol.StatusFailed,
		"hash-002": protocol.StatusFailed,
		"hash-003": protocol.StatusJoined,
	}, env.statuses(t))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(env.metrics.Joins.WithLabelValues(metrics.OutcomeRejected)))
}

func TestSignAndJoinMessages_JoinTransportAndDecodeFailures(t *testing.T) {
	env := setupTestCaller(t, testutil.WithMessagesPerBatch(3))
	env.join.JoinFunc = func(ctx context.Context, enc []byte) ([]byte, error) {
		switch env.join.Calls() % 3 {
		case 1:
			return nil, protocol.ErrNetwork
		case 2:
			return []byte("garbage"), nil
		}
		return env.gateway.Join(ctx, enc)
	}
	env.config.MaxConcurrentJoins = 1

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(3)))

	assert.Equal(t, map[string]protocol.MessageStatus{
		"hash-000": protocol.StatusFailed,
		"hash-001": protocol.StatusFailed,
		"hash-002": protocol.StatusJoined,
	}, env.statuses(t))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(env.metrics.Joins.WithLabelValues(metrics.OutcomeFailure)))
}

func TestSignAndJoinMessages_BootstrapFailure(t *testing.T) {
	env := setupTestCaller(t)
	env.caller.sign = &protocol.MockSignTransport{
		FetchServerParametersFunc: func(context.Context) (*protocol.GetServerPublicParamsResponse, error) {
			return nil, protocol.ErrNetwork
		},
	}

	err := env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(3))
	require.ErrorIs(t, err, protocol.ErrNetwork)

	for _, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusNotProcessed, status)
	}
	client, server := env.store.ParameterCounts()
	assert.Zero(t, client)
	assert.Zero(t, server)
	assert.Equal(t, 0, env.join.Calls())
}

func TestSignAndJoinMessages_ReusesActiveParameters(t *testing.T) {
	env := setupTestCaller(t)
	ctx := context.Background()

	require.NoError(t, env.caller.SignAndJoinMessages(ctx, testutil.GenerateTestMessages(1)))
	require.NoError(t, env.caller.SignAndJoinMessages(ctx, []*protocol.Message{{AdSelectionID: 9, HashSet: "other"}}))

	fetch, register, _ := env.sign.Calls()
	assert.Equal(t, 1, fetch)
	assert.Equal(t, 1, register)

	// Past the sign expiry the parameters are replaced.
	env.clock.Add(25 * time.Hour)
	require.NoError(t, env.caller.SignAndJoinMessages(ctx, []*protocol.Message{{AdSelectionID: 10, HashSet: "third"}}))

	fetch, register, _ = env.sign.Calls()
	assert.Equal(t, 2, fetch)
	assert.Equal(t, 2, register)

	client, server := env.store.ParameterCounts()
	assert.Equal(t, 1, client)
	assert.Equal(t, 1, server)

	active, err := env.store.ActiveClientParameters(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "client-v2", active.Version)
	assert.Equal(t, env.profile, active.ClientID)
}

func TestSignAndJoinMessages_RebootstrapsForOtherProfile(t *testing.T) {
	env := setupTestCaller(t)
	ctx := context.Background()

	require.NoError(t, env.store.ReplaceParameters(ctx,
		&protocol.ClientParameters{ClientID: uuid.New(), Version: "stale", PrivateParams: []byte{1}, PublicParams: []byte{2}, Expiry: env.clock.Now().Add(time.Hour)},
		&protocol.ServerParameters{Version: "server-v1", PublicParams: env.sign.PublicParams(), SignExpiry: env.clock.Now().Add(time.Hour)},
	))

	require.NoError(t, env.caller.SignAndJoinMessages(ctx, testutil.GenerateTestMessages(1)))

	_, register, _ := env.sign.Calls()
	assert.Equal(t, 1, register)
	active, err := env.store.ActiveClientParameters(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, env.profile, active.ClientID)
}

func TestSignAndJoinMessages_AttestationMetadata(t *testing.T) {
	env := setupTestCaller(t)
	sign := &protocol.MockSignTransport{
		FetchServerParametersFunc: env.sign.FetchServerParameters,
		RegisterClientFunc:        env.sign.RegisterClient,
		GetTokensFunc:             env.sign.GetTokens,
	}
	env.caller.sign = sign

	require.NoError(t, env.caller.SignAndJoinMessages(context.Background(), testutil.GenerateTestMessages(1)))

	requests := sign.GetTokensRequests()
	require.Len(t, requests, 1)
	md := requests[0].RequestMetadata
	require.NotNil(t, md)
	assert.Equal(t, protocol.AuthTypeAttestation, md.AuthType)
	assert.Equal(t, env.profile.String(), md.ClientID)
	assert.Len(t, md.Attestation, 64)
	assert.Equal(t, "client-v1", requests[0].ClientParamsVersion)
}

func TestSignAndJoinMessages_StatusOnlyMovesForward(t *testing.T) {
	env := setupTestCaller(t)
	ctx := context.Background()
	env.gateway.SetStatusFor(func(string) int { return http.StatusNotFound })

	msgs := testutil.GenerateTestMessages(2)
	require.NoError(t, env.caller.SignAndJoinMessages(ctx, msgs))
	for _, m := range msgs {
		assert.Equal(t, protocol.StatusFailed, m.Status)
	}

	// A later cycle retries FAILED messages from the top.
	env.gateway.SetStatusFor(nil)
	require.NoError(t, env.caller.SignAndJoinMessages(ctx, msgs))
	for _, m := range msgs {
		assert.Equal(t, protocol.StatusJoined, m.Status)
	}

	// JOINED messages never go back to SIGNED.
	env.engine.VerifyTokensResponseFunc = func([]string, *act.TokensRequest, []byte, *act.Parameters) (bool, error) {
		return false, nil
	}
	require.NoError(t, env.caller.SignAndJoinMessages(ctx, msgs))
	for hash, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusJoined, status, hash)
	}
}

func TestSignAndJoinMessages_CancelledBeforeStart(t *testing.T) {
	env := setupTestCaller(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.caller.SignAndJoinMessages(ctx, testutil.GenerateTestMessages(2))
	require.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, env.store.Messages())
}

func TestSignAndJoinMessages_CancelStopsNewBatches(t *testing.T) {
	env := setupTestCaller(t, testutil.WithMaxConcurrentBatches(1))
	ctx, cancel := context.WithCancel(context.Background())

	env.engine.GenerateTokensRequestFunc = func(messages []string, params *act.Parameters) (*act.TokensRequest, error) {
		cancel()
		return act.MockGenerateTokensRequest(messages, params)
	}

	require.NoError(t, env.caller.SignAndJoinMessages(ctx, testutil.GenerateTestMessages(6)))

	_, _, getTokens := env.sign.Calls()
	assert.Less(t, getTokens, 3)
	assert.GreaterOrEqual(t, getTokens, 1)

	statuses := env.statuses(t)
	assert.Equal(t, protocol.StatusJoined, statuses["hash-000"])
	assert.Equal(t, protocol.StatusJoined, statuses["hash-001"])
	assert.Equal(t, protocol.StatusNotProcessed, statuses["hash-005"])
}
