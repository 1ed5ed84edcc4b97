// Package pipeline is the Creation Pipeline (spec §4.I): it wires the
// Runtime Adapter, Profile Resolver, Image Cache, Repo-Purpose Detector,
// Env Passthrough, Provisioner, Compose Manager, Metadata Store, and
// Safety Gate together into the single ordered `create` operation.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amp-tools/container-tool/pkg/compose"
	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/envpass"
	"github.com/amp-tools/container-tool/pkg/imagecache"
	"github.com/amp-tools/container-tool/pkg/labels"
	"github.com/amp-tools/container-tool/pkg/profile"
	"github.com/amp-tools/container-tool/pkg/provision"
	"github.com/amp-tools/container-tool/pkg/reposniff"
	"github.com/amp-tools/container-tool/pkg/safety"
	"github.com/amp-tools/container-tool/pkg/store"
	"github.com/amp-tools/container-tool/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	createTimeout = 60 * time.Second
	startTimeout  = 30 * time.Second
	pollInterval  = 500 * time.Millisecond
	pollTimeout   = 20 * time.Second

	defaultWorkdir = "/workspace"
)

// PortSpec is one `-p host:container` mapping requested by a create call.
type PortSpec struct {
	Host      string
	Container string
}

// Request is everything a `create` call can specify.
type Request struct {
	Name            string // optional; generated with a random suffix when empty
	Purpose         string
	ProfileOverride profile.Request

	ComposeContent string // mutually exclusive with a direct container create
	ComposeProject string

	RepoURL string // drives Repo-Purpose Detector when Purpose is empty

	EnvMode         envpass.Mode
	ExplicitEnvList []string

	GPUAccess     bool
	HostNetwork   bool
	SSHForwarding bool
	MountSources  []string // host paths to bind-mount, for sensitive-mount checks

	Workdir  string // defaults to /workspace
	MountCWD bool   // bind-mount the host's cwd at Workdir
	Ports    []PortSpec

	Persistent  bool
	Labels      map[string]string
	MemoryLimit string // overrides AutoConfig's default, e.g. "2g"
	CPULimit    string // overrides AutoConfig's default, e.g. "2"

	Approvals map[safety.Concern]*bool // caller-resolved approvals, if any

	GitUserName   string
	GitUserEmail  string
	DotfilesRepo  string // overrides config's default dotfiles repo when set
	DotfilesFiles map[string]string
	Repos         []provision.RepoSpec
	ConfigFiles   map[string]string // container path -> inline content

	Username string
	UID, GID int
}

// Result is what a successful `create` reports back.
type Result struct {
	ContainerName   string
	Image           string
	Purpose         string
	ProfileDigest   string
	UsedCache       bool
	NetworkName     string
	Workdir         string
	ProvisionReport provision.Report
}

// Deps bundles every collaborator the pipeline orchestrates.
type Deps struct {
	Engine    engine.Runner
	Store     *store.Store
	Cache     *imagecache.Cache
	Provision *provision.Provisioner
	Compose   *compose.Manager
	Safety    *safety.Gate
	Config    AutoConfig
	Log       *logrus.Entry
}

// AutoConfig is the subset of configuration the pipeline needs for env
// passthrough auto-mode, mount policy and hardening defaults.
type AutoConfig struct {
	AutoEnvPatterns     []string
	DefaultDotfilesRepo string
	DefaultMemoryLimit  string
	DefaultCPULimit     string
}

// NeedsApproval is returned when a requested concern requires approval
// the caller hasn't supplied yet (spec §4.L's ask_user outcome). It is
// not a hard failure: the caller is expected to re-issue the create with
// Approvals populated.
type NeedsApproval struct {
	Concern safety.Concern
}

func (e *NeedsApproval) Error() string {
	return fmt.Sprintf("approval required for %s", e.Concern)
}

// Create runs the full pipeline. Any failure after the container starts
// triggers a best-effort rollback (stop/remove + compose down + metadata
// delete) so a partially provisioned container is never left behind
// silently.
func Create(ctx context.Context, d Deps, req Request) (Result, error) {
	if req.Purpose == "" && req.RepoURL == "" {
		return Result{}, fmt.Errorf("purpose or repo_url is required")
	}
	if req.ComposeContent != "" && req.ComposeProject == "" {
		return Result{}, fmt.Errorf("compose_project is required when compose_content is set")
	}

	for concern, required := range map[safety.Concern]bool{
		safety.ConcernGPUAccess:         req.GPUAccess,
		safety.ConcernHostNetwork:       req.HostNetwork,
		safety.ConcernSSHForwarding:     req.SSHForwarding,
		safety.ConcernAllEnvPassthrough: req.EnvMode == envpass.ModeAll,
	} {
		if !required {
			continue
		}
		if outcome := d.Safety.Evaluate(concern, req.Approvals[concern]); outcome != safety.OutcomeAllow {
			if outcome == safety.OutcomeAskUser {
				return Result{}, &NeedsApproval{Concern: concern}
			}
			return Result{}, fmt.Errorf("denied: %s", concern)
		}
	}
	for _, src := range req.MountSources {
		if d.Safety.IsSensitiveMount(src) {
			outcome := d.Safety.Evaluate(safety.ConcernSensitiveMounts, req.Approvals[safety.ConcernSensitiveMounts])
			if outcome == safety.OutcomeAskUser {
				return Result{}, &NeedsApproval{Concern: safety.ConcernSensitiveMounts}
			}
			if outcome == safety.OutcomeDeny {
				return Result{}, fmt.Errorf("denied: sensitive_mounts")
			}
			break
		}
	}

	purpose := req.Purpose
	var setupCommands []string
	if purpose == "" {
		sniffed, err := sniffRepo(ctx, req.RepoURL)
		if err != nil {
			return Result{}, err
		}
		purpose = sniffed.Purpose
		setupCommands = sniffed.SetupCommands
	}

	prof, err := profile.Resolve(purpose, mergeSetup(req.ProfileOverride, setupCommands))
	if err != nil {
		return Result{}, err
	}

	digest, err := profile.Digest(prof)
	if err != nil {
		return Result{}, err
	}

	env, err := envpass.Resolve(os.Environ(), req.EnvMode, req.ExplicitEnvList, d.Config.AutoEnvPatterns)
	if err != nil {
		return Result{}, err
	}

	// §4.I step 5: workdir defaults to /workspace; if mount_cwd is asked
	// for but the host's cwd can't be resolved, no mount can actually
	// land at /workspace, so fall back to /root rather than leaving a
	// phantom workdir with nothing mounted there.
	cwd, cwdErr := os.Getwd()
	workdir := req.Workdir
	if workdir == "" {
		workdir = defaultWorkdir
	}
	mountCWD := req.MountCWD && cwdErr == nil
	if req.MountCWD && cwdErr != nil && workdir == defaultWorkdir {
		workdir = "/root"
	}

	forwardSSH := prof.ForwardSSH || req.SSHForwarding
	sshDir, sshDirOK := "", false
	if forwardSSH {
		sshDir, sshDirOK = provision.HostSSHDir()
	}

	forwardGH := prof.ForwardGH
	var ghToken string
	var ghTokenOK bool
	if forwardGH {
		ghToken, ghTokenOK = provision.HostGHToken(ctx)
	}
	if ghTokenOK {
		env["GH_TOKEN"] = ghToken
		env["GITHUB_TOKEN"] = ghToken
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("amp-%s-%s", purpose, shortID())
	}

	image := prof.BaseImage
	usedCache := false
	if cachedDigest, found, err := d.Cache.Lookup(ctx, purpose); err == nil && found && cachedDigest == digest {
		image = "amplifier-cache:" + purpose
		usedCache = true
	}

	result := Result{ContainerName: name, Image: image, Purpose: purpose, ProfileDigest: digest, UsedCache: usedCache, Workdir: workdir}

	createdAt := time.Now().UTC()

	var composeFile *compose.File
	var networkName string
	if req.ComposeContent != "" {
		composeFile, err = compose.NewFile(req.ComposeContent)
		if err != nil {
			return Result{}, err
		}
		defer composeFile.Close()

		if _, err := d.Compose.Up(ctx, composeFile.Path, req.ComposeProject); err != nil {
			return Result{}, fmt.Errorf("compose up: %w", err)
		}
		networkName = compose.NetworkName(req.ComposeProject)
	} else {
		runReq := containerRunRequest{
			name:       name,
			image:      image,
			prof:       prof,
			req:        req,
			env:        env,
			workdir:    workdir,
			mountCWD:   mountCWD,
			cwd:        cwd,
			forwardSSH: forwardSSH && sshDirOK,
			sshDir:     sshDir,
			createdAt:  createdAt,
		}
		if err := runContainer(ctx, d, runReq); err != nil {
			return Result{}, fmt.Errorf("create container: %w", err)
		}
	}
	result.NetworkName = networkName

	rollback := func() {
		if composeFile != nil {
			_, _ = d.Compose.Down(ctx, composeFile.Path, req.ComposeProject)
		} else {
			_, _ = d.Engine.Run(ctx, startTimeout, "rm", "-f", name)
		}
		_ = d.Store.Remove(name)
	}

	if err := waitRunning(ctx, d.Engine, name); err != nil {
		rollback()
		return Result{}, fmt.Errorf("container did not reach running state: %w", err)
	}

	dotfilesRepo := req.DotfilesRepo
	if prof.ForwardDotfiles && dotfilesRepo == "" {
		dotfilesRepo = d.Config.DefaultDotfilesRepo
	}

	// A cache hit already baked in the apt-get install and the profile's
	// own setup commands; only the caller's extras still need to run
	// (spec §4.D: "no apt-get/install command from the purpose" on a
	// cache hit).
	provisionSetup := prof.SetupCommands
	if usedCache {
		provisionSetup = prof.ExtraSetupCommands()
	}

	provReport := d.Provision.Provision(ctx, provision.Request{
		ContainerName:    name,
		EnvKeys:          envpass.Keys(env),
		ForwardGit:       prof.ForwardGit,
		GitUserName:      req.GitUserName,
		GitUserEmail:     req.GitUserEmail,
		ForwardGH:        forwardGH,
		GHTokenAvailable: ghTokenOK,
		ForwardSSH:       forwardSSH,
		SSHStagingPath:   provision.DefaultSSHStagingPath,
		ForwardDotfiles:  prof.ForwardDotfiles && (dotfilesRepo != "" || len(req.DotfilesFiles) > 0),
		DotfilesRepo:     dotfilesRepo,
		DotfilesFiles:    req.DotfilesFiles,
		Repos:            req.Repos,
		ConfigFiles:      req.ConfigFiles,
		SetupCommands:    provisionSetup,
		Purpose:          purpose,
		Username:         req.Username,
		UID:              req.UID,
		GID:              req.GID,
	})
	result.ProvisionReport = provReport
	if provReport.Failed() {
		rollback()
		return Result{}, fmt.Errorf("provisioning failed")
	}

	if !usedCache {
		_ = d.Cache.Commit(ctx, name, purpose, digest)
	}

	md := store.Metadata{
		Name:               name,
		Purpose:            purpose,
		Image:              image,
		ProfileDigest:      digest,
		CreatedAt:          createdAt,
		WorkDir:            workdir,
		EnvPassthroughMode: string(req.EnvMode),
		PassedEnvKeys:      envpass.Keys(env),
		Mounts:             req.MountSources,
		Labels:             containerLabels(req, prof.Name, createdAt),
		NetworkName:        networkName,
		ComposeProject:     req.ComposeProject,
		GPUAccess:          req.GPUAccess,
		HostNetwork:        req.HostNetwork,
		SSHForwarding:      forwardSSH,
	}
	if err := d.Store.Save(md); err != nil {
		rollback()
		return Result{}, fmt.Errorf("save metadata: %w", err)
	}

	d.Safety.RegisterContainer(name)
	return result, nil
}

// containerRunRequest bundles everything runContainer needs to assemble
// the `run -d` args, computed once in Create so the hardening/labeling
// logic stays in one place.
type containerRunRequest struct {
	name       string
	image      string
	prof       profile.Profile
	req        Request
	env        map[string]string
	workdir    string
	mountCWD   bool
	cwd        string
	forwardSSH bool
	sshDir     string
	createdAt  time.Time
}

// containerLabels is the full label set spec §4.I step 6/§8 require on
// every managed container: the fixed amplifier.* labels plus any
// caller-supplied ones.
func containerLabels(req Request, purpose string, createdAt time.Time) map[string]string {
	set := map[string]string{
		labels.Managed:    "true",
		labels.Bundle:     labels.BundleValue,
		labels.Created:    createdAt.Format(time.RFC3339),
		labels.Persistent: strconv.FormatBool(req.Persistent),
		labels.Purpose:    purpose,
	}
	for k, v := range req.Labels {
		set[k] = v
	}
	return set
}

// runContainer assembles and runs the `docker/podman run -d` invocation
// with every piece of §4.I step 6 hardening and labeling: no-new-
// privileges, memory/CPU/pids limits, workdir, mounts (host cwd, caller
// mounts, read-only ssh staging), ports, environment (passthrough +
// explicit + any GH token vars), and the full amplifier.* label set.
func runContainer(ctx context.Context, d Deps, r containerRunRequest) error {
	args := []string{"run", "-d", "--name", r.name, "--security-opt", "no-new-privileges"}

	memoryLimit := r.req.MemoryLimit
	if memoryLimit == "" {
		memoryLimit = d.Config.DefaultMemoryLimit
	}
	if memoryLimit != "" {
		args = append(args, "--memory", memoryLimit)
	}

	cpuLimit := r.req.CPULimit
	if cpuLimit == "" {
		cpuLimit = d.Config.DefaultCPULimit
	}
	if cpuLimit != "" {
		args = append(args, "--cpus", cpuLimit)
	}

	args = append(args, "--pids-limit", fmt.Sprintf("%d", r.prof.PidsLimit))
	args = append(args, "-w", r.workdir)

	if r.req.HostNetwork {
		args = append(args, "--network", "host")
	}
	if r.req.GPUAccess {
		args = append(args, "--gpus", "all")
	}

	if r.mountCWD && r.cwd != "" {
		args = append(args, "-v", r.cwd+":"+r.workdir)
	}
	for _, src := range r.req.MountSources {
		args = append(args, "-v", src+":"+src)
	}
	if r.forwardSSH {
		args = append(args, "-v", r.sshDir+":"+provision.DefaultSSHStagingPath+":ro")
	}

	for _, port := range r.req.Ports {
		args = append(args, "-p", port.Host+":"+port.Container)
	}

	for k, v := range r.env {
		args = append(args, "-e", k+"="+v)
	}

	for k, v := range containerLabels(r.req, r.prof.Name, r.createdAt) {
		args = append(args, "--label", k+"="+v)
	}

	args = append(args, r.image, "sh", "-c", "while true; do sleep 3600; done")

	res, err := d.Engine.Run(ctx, createTimeout, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s: %s", strings.Join(args, " "), res.Stderr)
	}
	return nil
}

func waitRunning(ctx context.Context, e engine.Runner, name string) error {
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		res, err := e.Run(ctx, 5*time.Second, "inspect", "-f", "{{.State.Running}}", name)
		if err == nil && res.ExitCode == 0 && trimBool(res.Stdout) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("timed out waiting for %s to start", name)
}

func trimBool(s string) bool {
	return len(s) > 0 && (s[0] == 't' || s[0] == 'T')
}

func shortID() string {
	id, err := utils.RandomHex(6)
	if err != nil {
		return "000000"
	}
	return id
}

func mergeSetup(req profile.Request, extra []string) profile.Request {
	req.SetupCommands = append(append([]string{}, req.SetupCommands...), extra...)
	return req
}

// sniffRepo is a seam so tests can stub repo sniffing without a real git
// clone; defaults to the real reposniff.Sniff.
var sniffRepo = func(ctx context.Context, repoURL string) (sniffResult, error) {
	if repoURL == "" {
		return sniffResult{Purpose: "general"}, nil
	}
	res, err := reposniff.Sniff(ctx, repoURL)
	return sniffResult{Purpose: res.Purpose, SetupCommands: res.SetupCommands}, err
}

type sniffResult struct {
	Purpose       string
	SetupCommands []string
}
