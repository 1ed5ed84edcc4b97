package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknownPurpose(t *testing.T) {
	_, err := Resolve("cobol", Request{})
	assert.Error(t, err)
	assert.IsType(t, &ErrUnknownPurpose{}, err)
}

func TestResolveDefaultsOnly(t *testing.T) {
	p, err := Resolve("python", Request{})
	require.NoError(t, err)
	assert.Equal(t, "python:3.12-slim", p.BaseImage)
	assert.True(t, p.ForwardGit)
	assert.True(t, p.ForwardGH)
	assert.False(t, p.ForwardSSH)
}

func TestResolveExplicitFalseOverridesProfileTrue(t *testing.T) {
	no := false
	p, err := Resolve("python", Request{ForwardGit: &no})
	require.NoError(t, err)
	assert.False(t, p.ForwardGit, "explicit false must win over the profile default of true")
}

func TestResolveAppendsExtraSetupAndPackages(t *testing.T) {
	p, err := Resolve("general", Request{AptPackages: []string{"jq"}, SetupCommands: []string{"echo hi"}})
	require.NoError(t, err)
	assert.Contains(t, p.AptPackages, "git")
	assert.Contains(t, p.AptPackages, "jq")

	require.NotEmpty(t, p.SetupCommands)
	assert.Contains(t, p.SetupCommands[0], "apt-get install")
	assert.Equal(t, []string{"echo hi"}, p.SetupCommands[p.ProfileCommandCount:])
}

func TestExtraSetupCommandsExcludesProfileBaseline(t *testing.T) {
	p, err := Resolve("python", Request{SetupCommands: []string{"echo extra"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo extra"}, p.ExtraSetupCommands())
}

func TestDigestExcludesExplicitSetupCommands(t *testing.T) {
	base, err := Resolve("python", Request{})
	require.NoError(t, err)
	withExtra, err := Resolve("python", Request{SetupCommands: []string{"echo one-off"}})
	require.NoError(t, err)

	d1, err := Digest(base)
	require.NoError(t, err)
	d2, err := Digest(withExtra)
	require.NoError(t, err)
	assert.Equal(t, d1, d2, "caller-supplied setup commands must not change the cache digest")
}

func TestResolveExplicitBaseImageOverride(t *testing.T) {
	img := "python:3.11-slim"
	p, err := Resolve("python", Request{BaseImage: &img})
	require.NoError(t, err)
	assert.Equal(t, img, p.BaseImage)
}

func TestDigestStableForSameProfile(t *testing.T) {
	p, err := Resolve("node", Request{})
	require.NoError(t, err)
	d1, err := Digest(p)
	require.NoError(t, err)
	d2, err := Digest(p)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 8)
}

func TestDigestDiffersAcrossProfiles(t *testing.T) {
	p1, _ := Resolve("node", Request{})
	p2, _ := Resolve("rust", Request{})
	d1, _ := Digest(p1)
	d2, _ := Digest(p2)
	assert.NotEqual(t, d1, d2)
}
