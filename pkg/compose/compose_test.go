package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "myproj_default", NetworkName("myproj"))
}

func TestNewFileRoundTrip(t *testing.T) {
	f, err := NewFile("services:\n  app:\n    image: ubuntu\n")
	require.NoError(t, err)
	defer f.Close()

	assert.FileExists(t, f.Path)
}

func TestNewFileCloseRemoves(t *testing.T) {
	f, err := NewFile("services: {}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.NoFileExists(t, f.Path)
}

func TestResolveBinaryOverride(t *testing.T) {
	ResetForTest()
	bin := resolveBinary("docker compose")
	assert.Equal(t, []string{"docker", "compose"}, bin)
}

func TestResolveBinaryCascade(t *testing.T) {
	ResetForTest()
	orig := probeFunc
	defer func() { probeFunc = orig }()

	probeFunc = func(argv ...string) bool {
		return argv[0] == "docker-compose"
	}
	bin := resolveBinary("")
	assert.Equal(t, []string{"docker-compose"}, bin)
}
