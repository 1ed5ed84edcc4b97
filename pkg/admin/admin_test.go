package admin

import (
	"context"
	"testing"
	"time"

	"github.com/amp-tools/container-tool/pkg/compose"
	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/imagecache"
	"github.com/amp-tools/container-tool/pkg/safety"
	"github.com/amp-tools/container-tool/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	responses map[string]engine.Result
}

func (f *fakeEngine) Run(_ context.Context, _ time.Duration, args ...string) (engine.Result, error) {
	key := args[0]
	if res, ok := f.responses[key]; ok {
		return res, nil
	}
	return engine.Result{ExitCode: 0}, nil
}

func testOps(t *testing.T, fe *fakeEngine) *Ops {
	t.Helper()
	return &Ops{
		Engine:  fe,
		Store:   store.New(t.TempDir()),
		Cache:   imagecache.New(fe),
		Compose: compose.New(""),
		Safety:  safety.New(nil, nil),
	}
}

func TestListParsesNames(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{
		"ps": {ExitCode: 0, Stdout: "a\nb\nc\n"},
	}}
	names, err := testOps(t, fe).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestDestroyIsIdempotent(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{}}
	ops := testOps(t, fe)
	require.NoError(t, ops.Store.Save(store.Metadata{Name: "c1"}))
	ops.Safety.RegisterContainer("c1")

	require.NoError(t, ops.Destroy(context.Background(), "c1"))
	assert.False(t, ops.Safety.IsSessionContainer("c1"))

	_, err := ops.Store.Load("c1")
	assert.Error(t, err)

	require.NoError(t, ops.Destroy(context.Background(), "c1"))
}

func TestDestroyAllRequiresConfirm(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{}}
	ops := testOps(t, fe)
	err := ops.DestroyAll(context.Background(), false)
	assert.Error(t, err)
}

func TestDestroyAllTearsDownEverything(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{}}
	ops := testOps(t, fe)
	require.NoError(t, ops.Store.Save(store.Metadata{Name: "a"}))
	require.NoError(t, ops.Store.Save(store.Metadata{Name: "b"}))

	require.NoError(t, ops.DestroyAll(context.Background(), true))
	names, err := ops.Store.ListAll()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCacheClear(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{"rmi": {ExitCode: 0}}}
	ops := testOps(t, fe)
	assert.NoError(t, ops.CacheClear(context.Background(), "python"))
}

func TestSnapshotAndRestore(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{"commit": {ExitCode: 0}}}
	ops := testOps(t, fe)
	require.NoError(t, ops.Snapshot(context.Background(), "c1", "c1-snap:latest"))

	called := false
	restoreFn := func(ctx context.Context, image, name string) error {
		called = true
		assert.Equal(t, "c1-snap:latest", image)
		return nil
	}
	require.NoError(t, ops.Restore(context.Background(), restoreFn, "c1-snap:latest", "c2"))
	assert.True(t, called)
}

func TestCreateAndDestroyNetwork(t *testing.T) {
	fe := &fakeEngine{responses: map[string]engine.Result{
		"network": {ExitCode: 0},
	}}
	ops := testOps(t, fe)
	require.NoError(t, ops.CreateNetwork(context.Background(), "net1"))
	require.NoError(t, ops.DestroyNetwork(context.Background(), "net1"))
}
