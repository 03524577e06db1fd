package collections

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayoutDefaultsRoot(t *testing.T) {
	l := NewLayout("")
	assert.Equal(t, DefaultRoot, l.Root)
	assert.Equal(t, filepath.Join(DefaultRoot, "indexes"), l.Indexes())
}

func TestEnsureCreatesDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "mementos")
	l := NewLayout(root)
	require.NoError(t, l.Ensure())

	for _, dir := range []string{l.Indexes(), l.Archive(), l.Screenshots()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.Equal(t, filepath.Join(root, "indexes", "captures.db"), l.IndexDB())
}

func TestEnsureIsIdempotent(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "mementos"))
	require.NoError(t, l.Ensure())

	// A marker file must survive a second Ensure.
	marker := filepath.Join(l.Archive(), "existing.gz")
	require.NoError(t, os.WriteFile(marker, []byte("payload"), 0o600))
	require.NoError(t, l.Ensure())

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}
