package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RecordAndRecent(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.Record(ctx, Entry{
		Command: "test", Args: []string{"a", "b"}, Source: "alice", Permission: 1000,
		Outcome: OutcomeOK, Duration: 12 * time.Millisecond, CreatedAt: base,
	}))
	require.NoError(t, s.Record(ctx, Entry{
		Command: "test", Args: nil, Source: "bob", Permission: 0,
		Outcome: "no_permission", Error: "denied", CreatedAt: base.Add(time.Second),
	}))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "bob", got[0].Source)
	assert.Equal(t, "no_permission", got[0].Outcome)
	assert.Equal(t, "denied", got[0].Error)
	assert.NotEmpty(t, got[0].ID)

	assert.Equal(t, "alice", got[1].Source)
	assert.Equal(t, []string{"a", "b"}, got[1].Args)
	assert.Equal(t, 12*time.Millisecond, got[1].Duration)
	assert.True(t, got[1].CreatedAt.Equal(base))
}

func TestStore_RecentLimit(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{Command: "c", Outcome: OutcomeOK}))
	}
	got, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStore_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Entry{Command: "x", Outcome: OutcomeOK}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Command)
	assert.Equal(t, path, s.Path())
}
