package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFileProfileIDSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "profile-id")
	ctx := context.Background()

	id, err := NewFileProfileIDSource(path).ProfileID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	again, err := NewFileProfileIDSource(path).ProfileID(ctx)
	require.NoError(t, err)
	require.Equal(t, id, again)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err = NewFileProfileIDSource(path).ProfileID(ctx)
	require.Error(t, err)
}

func TestStaticProfileIDSource(t *testing.T) {
	id := uuid.New()
	got, err := (&StaticProfileIDSource{ID: id}).ProfileID(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, got)
}
