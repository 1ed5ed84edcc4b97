package pipeline

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/amp-tools/container-tool/pkg/compose"
	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/envpass"
	"github.com/amp-tools/container-tool/pkg/imagecache"
	"github.com/amp-tools/container-tool/pkg/labels"
	"github.com/amp-tools/container-tool/pkg/profile"
	"github.com/amp-tools/container-tool/pkg/provision"
	"github.com/amp-tools/container-tool/pkg/safety"
	"github.com/amp-tools/container-tool/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	runningAfter int
	calls        int
	execArgs     [][]string
	runArgs      [][]string
	cacheDigest  string // when set, "image inspect" reports this as the cached digest
}

func (f *fakeEngine) Run(_ context.Context, _ time.Duration, args ...string) (engine.Result, error) {
	f.calls++
	if len(args) > 0 && args[0] == "inspect" {
		f.runningAfter--
		if f.runningAfter <= 0 {
			return engine.Result{ExitCode: 0, Stdout: "true\n"}, nil
		}
		return engine.Result{ExitCode: 0, Stdout: "false\n"}, nil
	}
	if len(args) > 1 && args[0] == "image" && args[1] == "inspect" {
		if f.cacheDigest == "" {
			return engine.Result{ExitCode: 1}, nil
		}
		return engine.Result{ExitCode: 0, Stdout: f.cacheDigest + "\n"}, nil
	}
	if len(args) > 0 && args[0] == "exec" {
		f.execArgs = append(f.execArgs, args)
	}
	if len(args) > 0 && args[0] == "run" {
		f.runArgs = append(f.runArgs, args)
	}
	return engine.Result{ExitCode: 0}, nil
}

func testDeps(t *testing.T, fe *fakeEngine) Deps {
	t.Helper()
	return Deps{
		Engine:    fe,
		Store:     store.New(t.TempDir()),
		Cache:     imagecache.New(fe),
		Provision: provision.New(fe, logrus.NewEntry(logrus.New())),
		Compose:   compose.New(""),
		Safety:    safety.New(nil, nil),
		Config:    AutoConfig{},
		Log:       logrus.NewEntry(logrus.New()),
	}
}

func TestCreateDirectContainerSucceeds(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)

	res, err := Create(context.Background(), d, Request{
		Name:    "test1",
		Purpose: "general",
		EnvMode: envpass.ModeNone,
	})
	require.NoError(t, err)
	assert.Equal(t, "test1", res.ContainerName)

	names, err := d.Store.ListAll()
	require.NoError(t, err)
	assert.Contains(t, names, "test1")
	assert.True(t, d.Safety.IsSessionContainer("test1"))
}

func TestCreateRequiresPurposeOrRepo(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)
	_, err := Create(context.Background(), d, Request{})
	assert.Error(t, err)
}

func TestCreateNeedsApprovalForGPU(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)
	d.Safety = safety.New([]string{"gpu_access"}, nil)

	_, err := Create(context.Background(), d, Request{
		Name:      "test2",
		Purpose:   "general",
		GPUAccess: true,
		EnvMode:   envpass.ModeNone,
	})
	require.Error(t, err)
	assert.IsType(t, &NeedsApproval{}, err)
}

func TestCreateAllowsGPUWhenApproved(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)
	d.Safety = safety.New([]string{"gpu_access"}, nil)
	yes := true

	res, err := Create(context.Background(), d, Request{
		Name:      "test3",
		Purpose:   "general",
		GPUAccess: true,
		EnvMode:   envpass.ModeNone,
		Approvals: map[safety.Concern]*bool{safety.ConcernGPUAccess: &yes},
	})
	require.NoError(t, err)
	assert.Equal(t, "test3", res.ContainerName)
}

func TestCreateThreadsIdentityAndSetupCommandsIntoProvisioning(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)
	d.Config = AutoConfig{DefaultDotfilesRepo: "https://example.com/dotfiles.git"}

	res, err := Create(context.Background(), d, Request{
		Name:         "test4",
		Purpose:      "amplifier",
		EnvMode:      envpass.ModeNone,
		GitUserName:  "Ada Lovelace",
		GitUserEmail: "ada@example.com",
		Repos:        []provision.RepoSpec{{URL: "https://example.com/repo.git"}},
		ProfileOverride: profile.Request{
			SetupCommands: []string{"echo caller-extra"},
		},
	})
	require.NoError(t, err)
	assert.False(t, res.UsedCache)
	require.False(t, res.ProvisionReport.Failed())

	var sawExtra bool
	for _, args := range fe.execArgs {
		if strings.Contains(strings.Join(args, " "), "echo caller-extra") {
			sawExtra = true
		}
	}
	assert.True(t, sawExtra, "caller-supplied setup command must reach the container via exec")
}

func TestCreateCacheHitSkipsProfileBaselineSetupCommands(t *testing.T) {
	prof, err := profile.Resolve("amplifier", profile.Request{SetupCommands: []string{"echo caller-extra-2"}})
	require.NoError(t, err)
	digest, err := profile.Digest(prof)
	require.NoError(t, err)

	fe := &fakeEngine{runningAfter: 1, cacheDigest: digest}
	d := testDeps(t, fe)

	res, err := Create(context.Background(), d, Request{
		Name:    "test5",
		Purpose: "amplifier",
		EnvMode: envpass.ModeNone,
		ProfileOverride: profile.Request{
			SetupCommands: []string{"echo caller-extra-2"},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.UsedCache)
	require.False(t, res.ProvisionReport.Failed())

	var sawAptGet, sawExtra bool
	for _, args := range fe.execArgs {
		joined := strings.Join(args, " ")
		if strings.Contains(joined, "apt-get") {
			sawAptGet = true
		}
		if strings.Contains(joined, "echo caller-extra-2") {
			sawExtra = true
		}
	}
	assert.False(t, sawAptGet, "cache hit must not re-run the profile's apt-get install")
	assert.True(t, sawExtra, "cache hit must still run the caller's extra setup command")
}

var shortIDNamePattern = regexp.MustCompile(`^amp-python-[0-9a-f]{6}$`)

func TestCreateGeneratesNameMatchingPurposePattern(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)

	res, err := Create(context.Background(), d, Request{
		Purpose: "python",
		EnvMode: envpass.ModeNone,
	})
	require.NoError(t, err)
	assert.Regexp(t, shortIDNamePattern, res.ContainerName)
}

func TestCreateAppliesHardeningFlagsAndManagedLabel(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)
	d.Config = AutoConfig{DefaultMemoryLimit: "2g", DefaultCPULimit: "2"}

	_, err := Create(context.Background(), d, Request{
		Name:    "test6",
		Purpose: "general",
		EnvMode: envpass.ModeNone,
	})
	require.NoError(t, err)
	require.Len(t, fe.runArgs, 1)

	joined := strings.Join(fe.runArgs[0], " ")
	assert.Contains(t, joined, "--security-opt no-new-privileges")
	assert.Contains(t, joined, "--memory 2g")
	assert.Contains(t, joined, "--cpus 2")
	assert.Contains(t, joined, "-w /workspace")
	assert.Contains(t, joined, "--label "+labels.Managed+"=true")
	assert.Contains(t, joined, "--label "+labels.Bundle+"="+labels.BundleValue)
	assert.Contains(t, joined, "--label "+labels.Purpose+"=general")

	md, err := d.Store.Load("test6")
	require.NoError(t, err)
	assert.Equal(t, "true", md.Labels[labels.Managed])
}

func TestCreateThreadsEnvPassthroughIntoRunArgs(t *testing.T) {
	t.Setenv("AMP_TEST_PASSTHROUGH", "hello")
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)

	_, err := Create(context.Background(), d, Request{
		Name:            "test7",
		Purpose:         "general",
		EnvMode:         envpass.ModeList,
		ExplicitEnvList: []string{"AMP_TEST_PASSTHROUGH"},
	})
	require.NoError(t, err)
	require.Len(t, fe.runArgs, 1)
	assert.Contains(t, strings.Join(fe.runArgs[0], " "), "-e AMP_TEST_PASSTHROUGH=hello")
}

func TestCreateComposeMutexRequiresProject(t *testing.T) {
	fe := &fakeEngine{runningAfter: 1}
	d := testDeps(t, fe)
	_, err := Create(context.Background(), d, Request{
		Purpose:        "general",
		ComposeContent: "services: {}\n",
	})
	assert.Error(t, err)
}
