package provision

import (
	"context"
	"testing"
	"time"

	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeRunner struct {
	fail map[string]bool
	runs [][]string
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, args ...string) (engine.Result, error) {
	f.runs = append(f.runs, args)
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	if f.fail[key] {
		return engine.Result{ExitCode: 1, Stderr: "boom"}, nil
	}
	return engine.Result{ExitCode: 0}, nil
}

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func stepStatus(r Report, name string) (StepStatus, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s.Status, true
		}
	}
	return "", false
}

func namesOf(r Report) []string {
	names := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

// E2E scenario 1: a create with nothing forwarded still reports every
// core step, in order, with a skipped status.
func TestProvisionAlwaysEmitsCoreStepsInOrder(t *testing.T) {
	fr := &fakeRunner{fail: map[string]bool{}}
	p := New(fr, testLog())
	report := p.Provision(context.Background(), Request{ContainerName: "c1"})

	wantOrder := []string{"env_passthrough", "forward_git", "forward_gh", "forward_ssh", "dotfiles", "user_ownership"}
	assert.Equal(t, wantOrder, namesOf(report))
	for _, name := range wantOrder[:len(wantOrder)-1] {
		status, ok := stepStatus(report, name)
		assert.True(t, ok, name)
		assert.Equal(t, StepSkipped, status, name)
	}
}

func TestProvisionGitSteps(t *testing.T) {
	fr := &fakeRunner{fail: map[string]bool{}}
	p := New(fr, testLog())
	report := p.Provision(context.Background(), Request{
		ContainerName: "c1",
		ForwardGit:    true,
		GitUserName:   "Ada",
		GitUserEmail:  "ada@example.com",
	})
	assert.False(t, report.Failed())
	status, ok := stepStatus(report, "forward_git")
	assert.True(t, ok)
	assert.NotEqual(t, StepFailed, status)
}

func TestProvisionReposAggregatesFailures(t *testing.T) {
	fr := &fakeRunner{fail: map[string]bool{"exec": true}}
	p := New(fr, testLog())
	report := p.Provision(context.Background(), Request{
		ContainerName: "c1",
		Repos: []RepoSpec{
			{URL: "https://example.com/a.git"},
			{URL: "https://example.com/b.git"},
		},
	})
	assert.True(t, report.Failed())
	status, ok := stepStatus(report, "repos")
	assert.True(t, ok)
	assert.Equal(t, StepFailed, status)
}

func TestProvisionReposWithInstallCommand(t *testing.T) {
	fr := &fakeRunner{fail: map[string]bool{}}
	p := New(fr, testLog())
	report := p.Provision(context.Background(), Request{
		ContainerName: "c1",
		Repos: []RepoSpec{
			{URL: "https://example.com/a.git", Path: "/workspace/a", Install: "make setup"},
		},
	})
	assert.False(t, report.Failed())
	status, ok := stepStatus(report, "repos")
	assert.True(t, ok)
	assert.Equal(t, StepSuccess, status)

	var sawClone, sawInstall bool
	for _, args := range fr.runs {
		joined := ""
		for _, a := range args {
			joined += a + " "
		}
		if joined == "exec c1 git clone --depth 1 https://example.com/a.git /workspace/a " {
			sawClone = true
		}
		if joined == "exec c1 sh -c cd '/workspace/a' && make setup " {
			sawInstall = true
		}
	}
	assert.True(t, sawClone)
	assert.True(t, sawInstall)
}

func TestProvisionUserOwnership(t *testing.T) {
	fr := &fakeRunner{fail: map[string]bool{}}
	p := New(fr, testLog())
	report := p.Provision(context.Background(), Request{
		ContainerName: "c1",
		Username:      "dev",
		UID:           1000,
		GID:           1000,
	})
	assert.False(t, report.Failed())
	assert.GreaterOrEqual(t, len(fr.runs), 3)

	var sawOverride int
	for _, args := range fr.runs {
		if len(args) > 1 && (args[2] == "groupadd" || args[2] == "useradd") {
			for _, a := range args {
				if a == "-o" {
					sawOverride++
				}
			}
		}
	}
	assert.Equal(t, 2, sawOverride, "both groupadd and useradd must pass -o")
}

func TestProvisionConfigFilesWritesInlineContent(t *testing.T) {
	fr := &fakeRunner{fail: map[string]bool{}}
	p := New(fr, testLog())
	report := p.Provision(context.Background(), Request{
		ContainerName: "c1",
		ConfigFiles: map[string]string{
			"/etc/amplifier/config.toml": "key = \"value\"\n",
		},
	})
	assert.False(t, report.Failed())
	status, ok := stepStatus(report, "config_files")
	assert.True(t, ok)
	assert.Equal(t, StepSuccess, status)
}

func TestRepoDirNameStripsGitSuffix(t *testing.T) {
	assert.Equal(t, "repo", repoDirName("https://example.com/repo.git"))
	assert.Equal(t, "repo", repoDirName("https://example.com/repo"))
}
