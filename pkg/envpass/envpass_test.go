package envpass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hostEnv = []string{
	"PATH=/usr/bin",
	"HOME=/home/dev",
	"ANTHROPIC_API_KEY=secret",
	"MY_VAR=hello",
	"SSH_AUTH_SOCK=/tmp/sock",
}

func TestResolveModeNone(t *testing.T) {
	resolved, err := Resolve(hostEnv, ModeNone, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestResolveModeAllExcludesNeverPassthrough(t *testing.T) {
	resolved, err := Resolve(hostEnv, ModeAll, nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, resolved, "PATH")
	assert.NotContains(t, resolved, "SSH_AUTH_SOCK")
	assert.Equal(t, "secret", resolved["ANTHROPIC_API_KEY"])
	assert.Equal(t, "hello", resolved["MY_VAR"])
}

func TestResolveModeAutoMatchesPattern(t *testing.T) {
	resolved, err := Resolve(hostEnv, ModeAuto, nil, []string{"*_API_KEY"})
	require.NoError(t, err)
	assert.Equal(t, "secret", resolved["ANTHROPIC_API_KEY"])
	assert.NotContains(t, resolved, "MY_VAR")
}

func TestResolveModeListOnlyExplicit(t *testing.T) {
	resolved, err := Resolve(hostEnv, ModeList, []string{"MY_VAR"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MY_VAR": "hello"}, resolved)
}

func TestResolveExplicitListExcludesNeverPassthrough(t *testing.T) {
	resolved, err := Resolve(hostEnv, ModeNone, []string{"SSH_AUTH_SOCK"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, resolved, "SSH_AUTH_SOCK")
}

func TestResolveInvalidMode(t *testing.T) {
	_, err := Resolve(hostEnv, Mode("bogus"), nil, nil)
	assert.Error(t, err)
}

func TestKeysSorted(t *testing.T) {
	keys := Keys(map[string]string{"Z": "1", "A": "2"})
	assert.Equal(t, []string{"A", "Z"}, keys)
}
