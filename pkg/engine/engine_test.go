package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestRunSuccess(t *testing.T) {
	ResetForTest()
	e := New(testLog())
	if !e.Available() {
		t.Skip("no container engine on PATH in this environment")
	}
	res, err := e.Run(context.Background(), 5*time.Second, "--version")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunNotFound(t *testing.T) {
	ResetForTest()
	detectOnce.Do(func() {
		detectedName, detectedPath = NoneFound, ""
	})
	e := &Engine{Log: testLog(), name: NoneFound}
	_, err := e.Run(context.Background(), time.Second, "ps")
	assert.Error(t, err)
	assert.IsType(t, &NotFoundError{}, err)
}

func TestRunTimeout(t *testing.T) {
	e := &Engine{Log: testLog(), name: Docker, path: "sleep"}
	res, err := e.Run(context.Background(), 10*time.Millisecond, "1")
	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")
}
