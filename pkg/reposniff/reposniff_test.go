package reposniff

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeClone(t *testing.T, populate func(dest string)) {
	t.Helper()
	orig := cloneFunc
	cloneFunc = func(_ context.Context, _, dest string) error {
		require.NoError(t, os.MkdirAll(dest, 0o755))
		populate(dest)
		return nil
	}
	t.Cleanup(func() { cloneFunc = orig })
}

func TestSniffDetectsGoModule(t *testing.T) {
	withFakeClone(t, func(dest string) {
		require.NoError(t, os.WriteFile(filepath.Join(dest, "go.mod"), []byte("module x\n"), 0o644))
	})
	res, err := Sniff(context.Background(), "https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "go", res.Purpose)
	assert.Contains(t, res.SetupCommands, "go build ./...")
}

func TestSniffPrefersHigherPriorityMarker(t *testing.T) {
	withFakeClone(t, func(dest string) {
		require.NoError(t, os.WriteFile(filepath.Join(dest, "Cargo.toml"), []byte(""), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "package.json"), []byte("{}"), 0o644))
	})
	res, err := Sniff(context.Background(), "https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "rust", res.Purpose)
}

func TestSniffAppendsMakeWhenMakefilePresent(t *testing.T) {
	withFakeClone(t, func(dest string) {
		require.NoError(t, os.WriteFile(filepath.Join(dest, "package.json"), []byte("{}"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "Makefile"), []byte(""), 0o644))
	})
	res, err := Sniff(context.Background(), "https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, []string{"npm install", "make"}, res.SetupCommands)
}

func TestSniffFallsBackToGeneral(t *testing.T) {
	withFakeClone(t, func(dest string) {})
	res, err := Sniff(context.Background(), "https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "general", res.Purpose)
}

func TestSniffCloneFailureFallsBackToGeneral(t *testing.T) {
	orig := cloneFunc
	cloneFunc = func(context.Context, string, string) error { return assert.AnError }
	defer func() { cloneFunc = orig }()

	res, err := Sniff(context.Background(), "https://example.com/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "general", res.Purpose)
}
