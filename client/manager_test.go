package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/protocol"
	"github.com/flashbots/kanon/services"
	"github.com/flashbots/kanon/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCaller struct {
	mu      sync.Mutex
	calls   [][]*protocol.Message
	ctxErrs []error
	err     error
}

func (r *recordingCaller) SignAndJoinMessages(ctx context.Context, msgs []*protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msgs)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func (r *recordingCaller) Calls() [][]*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]*protocol.Message{}, r.calls...)
}

func setupTestManager(t *testing.T, options ...testutil.TestConfigOption) (*Manager, *recordingCaller, *services.InMemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := services.NewInMemoryStore(clk)
	caller := &recordingCaller{}
	m := NewManager(testutil.NewTestConfig(options...), caller, store, clk, testutil.DiscardLogger())
	return m, caller, store, clk
}

func hashes(msgs []*protocol.Message) []string {
	result := make([]string, len(msgs))
	for i, m := range msgs {
		result[i] = m.HashSet
	}
	return result
}

func TestProcessNewMessages_Filtering(t *testing.T) {
	m, _, store, clk := setupTestManager(t)
	ctx := context.Background()

	past := clk.Now().Add(-time.Minute)
	future := clk.Now().Add(time.Hour)
	existing := []*protocol.Message{
		{HashSet: "joined-valid", Status: protocol.StatusJoined, CorrespondingClientParamsExpiry: &future},
		{HashSet: "joined-expired", Status: protocol.StatusJoined, CorrespondingClientParamsExpiry: &past},
		{HashSet: "signed-expired", Status: protocol.StatusSigned, CorrespondingClientParamsExpiry: &past},
		{HashSet: "signed-valid", Status: protocol.StatusSigned, CorrespondingClientParamsExpiry: &future},
		{HashSet: "pending", Status: protocol.StatusNotProcessed},
		{HashSet: "failed", Status: protocol.StatusFailed},
	}
	require.NoError(t, store.InsertNew(ctx, existing))

	incoming := []*protocol.Message{
		{AdSelectionID: 1, HashSet: "joined-valid"},
		{AdSelectionID: 1, HashSet: "joined-expired"},
		{AdSelectionID: 1, HashSet: "signed-expired"},
		{AdSelectionID: 2, HashSet: "signed-valid"},
		{AdSelectionID: 2, HashSet: "pending"},
		{AdSelectionID: 2, HashSet: "failed"},
		{AdSelectionID: 3, HashSet: "brand-new"},
		{AdSelectionID: 4, HashSet: "brand-new"},
	}

	accepted, err := m.ProcessNewMessages(ctx, incoming)
	require.NoError(t, err)
	assert.Equal(t, []string{"joined-expired", "signed-expired", "brand-new"}, hashes(accepted))

	for _, msg := range accepted {
		require.NotNil(t, msg.ID)
		assert.Equal(t, protocol.StatusNotProcessed, msg.Status)
	}
	assert.Equal(t, uint64(3), accepted[2].AdSelectionID)

	pending, err := store.FetchNWithStatus(ctx, 100, protocol.StatusNotProcessed)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

func TestProcessNewMessages_ImmediateDispatch(t *testing.T) {
	m, caller, _, _ := setupTestManager(t, testutil.WithImmediateJoinPercentage(30))
	ctx := context.Background()

	m.randIntN = func(int) int { return 29 }
	accepted, err := m.ProcessNewMessages(ctx, testutil.GenerateTestMessages(2))
	require.NoError(t, err)
	m.Wait()
	require.Len(t, caller.Calls(), 1)
	assert.Equal(t, hashes(accepted), hashes(caller.Calls()[0]))

	m.randIntN = func(int) int { return 30 }
	_, err = m.ProcessNewMessages(ctx, []*protocol.Message{{HashSet: "later"}})
	require.NoError(t, err)
	m.Wait()
	assert.Len(t, caller.Calls(), 1)
}

// The immediate cycle belongs to the client, not to the request that
// delivered the messages.
func TestProcessNewMessages_ImmediateOutlivesRequest(t *testing.T) {
	m, caller, _, _ := setupTestManager(t, testutil.WithImmediateJoinPercentage(100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	accepted, err := m.ProcessNewMessages(ctx, testutil.GenerateTestMessages(2))
	require.NoError(t, err)
	require.Len(t, accepted, 2)

	m.Wait()
	require.Len(t, caller.Calls(), 1)
	caller.mu.Lock()
	defer caller.mu.Unlock()
	assert.NoError(t, caller.ctxErrs[0])
}

func TestProcessNewMessages_NothingEligible(t *testing.T) {
	m, caller, _, _ := setupTestManager(t, testutil.WithImmediateJoinPercentage(100))
	ctx := context.Background()

	_, err := m.ProcessNewMessages(ctx, []*protocol.Message{{HashSet: "a"}})
	require.NoError(t, err)

	accepted, err := m.ProcessNewMessages(ctx, []*protocol.Message{{HashSet: "a"}})
	require.NoError(t, err)
	m.Wait()
	assert.Empty(t, accepted)
	assert.Len(t, caller.Calls(), 1)
}

func TestProcessNewMessages_CallerError(t *testing.T) {
	m, caller, _, _ := setupTestManager(t, testutil.WithImmediateJoinPercentage(100))
	caller.err = errors.New("bootstrap failed")

	accepted, err := m.ProcessNewMessages(context.Background(), testutil.GenerateTestMessages(1))
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	m.Wait()
	assert.Len(t, caller.Calls(), 1)
}

// A FAILED record keeps its hash set out of the intake; the worker retries
// the record itself.
func TestProcessNewMessages_FailedIsRetriedNotReadmitted(t *testing.T) {
	m, caller, store, _ := setupTestManager(t, testutil.WithImmediateJoinPercentage(100))
	ctx := context.Background()

	require.NoError(t, store.InsertNew(ctx, []*protocol.Message{{HashSet: "h", Status: protocol.StatusFailed}}))

	accepted, err := m.ProcessNewMessages(ctx, []*protocol.Message{{AdSelectionID: 7, HashSet: "h"}})
	require.NoError(t, err)
	m.Wait()
	assert.Empty(t, accepted)
	assert.Empty(t, caller.Calls())
	assert.Len(t, store.Messages(), 1)

	n, err := m.ProcessMessagesFromDatabase(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, caller.Calls(), 1)
	assert.Equal(t, []string{"h"}, hashes(caller.Calls()[0]))
}

func TestProcessMessagesFromDatabase(t *testing.T) {
	m, caller, store, clk := setupTestManager(t)
	ctx := context.Background()

	for i, status := range []protocol.MessageStatus{
		protocol.StatusNotProcessed,
		protocol.StatusFailed,
		protocol.StatusNotProcessed,
		protocol.StatusJoined,
		protocol.StatusNotProcessed,
	} {
		clk.Add(time.Second)
		msg := testutil.GenerateTestMessages(i + 1)[i]
		msg.Status = status
		require.NoError(t, store.InsertNew(ctx, []*protocol.Message{msg}))
	}

	n, err := m.ProcessMessagesFromDatabase(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"hash-004", "hash-002"}, hashes(caller.Calls()[0]))

	n, err = m.ProcessMessagesFromDatabase(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"hash-004", "hash-002", "hash-000", "hash-001"}, hashes(caller.Calls()[1]))
}

func TestProcessMessagesFromDatabase_NoRetry(t *testing.T) {
	m, caller, store, _ := setupTestManager(t, testutil.WithRetryFailedMessages(false))
	ctx := context.Background()

	require.NoError(t, store.InsertNew(ctx, []*protocol.Message{{HashSet: "f", Status: protocol.StatusFailed}}))

	n, err := m.ProcessMessagesFromDatabase(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, caller.Calls())

	n, err = m.ProcessMessagesFromDatabase(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// A message whose hash was joined with still valid parameters is not
// reprocessed by the full pipeline.
func TestManagerWithCaller_JoinedHashIsDropped(t *testing.T) {
	env := setupTestCaller(t)
	ctx := context.Background()
	m := NewManager(env.config, env.caller, env.store, env.clock, testutil.DiscardLogger())
	m.randIntN = func(int) int { return 0 }
	env.config.ImmediateJoinPercentage = 100

	accepted, err := m.ProcessNewMessages(ctx, testutil.GenerateTestMessages(3))
	require.NoError(t, err)
	require.Len(t, accepted, 3)
	m.Wait()
	for _, status := range env.statuses(t) {
		assert.Equal(t, protocol.StatusJoined, status)
	}

	accepted, err = m.ProcessNewMessages(ctx, testutil.GenerateTestMessages(3))
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, env.store.Messages(), 3)

	// Once the client parameters expire the membership is proven again.
	env.clock.Add(8 * 24 * time.Hour)
	accepted, err = m.ProcessNewMessages(ctx, testutil.GenerateTestMessages(1))
	require.NoError(t, err)
	m.Wait()
	assert.Len(t, accepted, 1)
	assert.Len(t, env.store.Messages(), 4)
}
