package hidelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHideIsPerUser(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Hide("alice", "m1"))
	assert.True(t, s.IsHidden("alice", "m1"))
	assert.False(t, s.IsHidden("bob", "m1"), "hide must not leak to another viewer")
}

func TestHideSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Hide("alice", "m1"))
	require.NoError(t, s.Hide("alice", "m2"))
	require.NoError(t, s.Unhide("alice", "m2"))

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.True(t, reopened.IsHidden("alice", "m1"))
	assert.False(t, reopened.IsHidden("alice", "m2"))
}

func TestUnhideUnknownIsNoop(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Unhide("alice", "missing"))
}
