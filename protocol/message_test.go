package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		allowed  bool
	}{
		{StatusNotProcessed, StatusSigned, true},
		{StatusNotProcessed, StatusFailed, true},
		{StatusNotProcessed, StatusJoined, false},
		{StatusSigned, StatusJoined, true},
		{StatusSigned, StatusFailed, true},
		{StatusSigned, StatusNotProcessed, false},
		{StatusJoined, StatusFailed, false},
		{StatusJoined, StatusJoined, true},
		{StatusFailed, StatusSigned, true},
		{StatusFailed, StatusNotProcessed, false},
	}

	for _, tc := range tests {
		require.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNeedsProcessing(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.False(t, (&Message{Status: StatusNotProcessed}).NeedsProcessing(now))
	require.False(t, (&Message{Status: StatusFailed}).NeedsProcessing(now))
	require.False(t, (&Message{Status: StatusJoined, CorrespondingClientParamsExpiry: &future}).NeedsProcessing(now))
	require.True(t, (&Message{Status: StatusJoined, CorrespondingClientParamsExpiry: &past}).NeedsProcessing(now))
	require.True(t, (&Message{Status: StatusSigned, CorrespondingClientParamsExpiry: &now}).NeedsProcessing(now))
	require.False(t, (&Message{Status: StatusJoined}).NeedsProcessing(now))
}

func TestParametersActive(t *testing.T) {
	now := time.Now()

	client := &ClientParameters{Expiry: now.Add(time.Hour)}
	require.True(t, client.Active(now))
	require.False(t, client.Active(now.Add(time.Hour)))

	server := &ServerParameters{JoinExpiry: now.Add(2 * time.Hour), SignExpiry: now.Add(-time.Second)}
	require.False(t, server.Active(now))
}
