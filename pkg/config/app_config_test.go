package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ubuntu:24.04", cfg.DefaultImage)
	assert.Equal(t, 2048, cfg.Security.PidsLimit)
	assert.Contains(t, cfg.RequireApprovalFor, "destroy_all")
	assert.True(t, cfg.AutoCleanupOnSessionEnd)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load([]byte("defaultImage: python:3.12\nmaxContainersPerSession: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, "python:3.12", cfg.DefaultImage)
	assert.Equal(t, 3, cfg.MaxContainersPerSession)
	// untouched keys keep their defaults
	assert.Equal(t, 2048, cfg.Security.PidsLimit)
}

func TestLoadFileMissingReturnsDefault(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DefaultImage, cfg.DefaultImage)
}
