// Package provision is the Provisioner (spec §4.G). Once a container has
// been created, it stages identity and credentials from the host into it:
// git config, gh auth, ssh forwarding, dotfiles, extra repos, arbitrary
// config files, and (for the amplifier purpose) the amplifier settings
// files, then, when a username is given, creates a matching non-root user
// and hands /workspace to it. Later execs are not switched to that user:
// execsurface.Exec runs commands without --user.
package provision

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/utils"
	"github.com/hashicorp/go-multierror"
	"github.com/mgutz/str"
	"github.com/sirupsen/logrus"
)

const (
	cpTimeout           = 15 * time.Second
	execTimeout         = 30 * time.Second
	cloneTimeout        = 120 * time.Second
	setupCommandTimeout = 300 * time.Second

	// DefaultSSHStagingPath is where the host's ~/.ssh is bind-mounted
	// read-only at container-creation time when ssh forwarding is
	// requested (spec §4.G/§4.I step 6).
	DefaultSSHStagingPath = "/tmp/.host-ssh"
)

// RepoSpec is one entry of the create request's repos list (spec §4.G):
// clone url, an optional destination path (defaults to
// /workspace/<basename of url>), and an optional install command run
// inside the cloned directory afterward.
type RepoSpec struct {
	URL     string
	Path    string
	Install string
}

// Request describes what to stage into a freshly created container.
type Request struct {
	ContainerName string

	// EnvKeys is the set of env var names already injected at container
	// creation time (passthrough + explicit + any GH token vars), so the
	// env_passthrough step can report what actually reached the container.
	EnvKeys []string

	ForwardGit   bool
	GitUserName  string
	GitUserEmail string

	ForwardGH        bool
	GHTokenAvailable bool // a GH_TOKEN/GITHUB_TOKEN env var was set at creation time

	ForwardSSH     bool
	SSHStagingPath string // where the host ~/.ssh was bind-mounted read-only; "" if not mounted

	ForwardDotfiles bool
	DotfilesRepo    string
	DotfilesFiles   map[string]string // relative-to-home path -> inline content

	Repos       []RepoSpec
	ConfigFiles map[string]string // container path -> inline content

	SetupCommands []string // profile-resolved setup commands, shell-style strings
	Purpose       string

	Username string
	UID      int
	GID      int
}

// StepStatus is the outcome of one provisioning step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
	StepPartial StepStatus = "partial"
)

// Step records the outcome of one provisioning step.
type Step struct {
	Name   string
	Status StepStatus
	Detail string
	Err    error
}

// Report is the full outcome of a Provision call, steps in execution
// order.
type Report struct {
	Steps []Step
}

// Failed reports whether any step in the report hard-failed. Skipped and
// partial steps don't trigger pipeline rollback on their own.
func (r Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// Provisioner stages host identity/credentials into containers via the
// Runtime Adapter's engine binary (docker/podman cp and exec).
type Provisioner struct {
	runner engine.Runner
	log    *logrus.Entry
}

func New(runner engine.Runner, log *logrus.Entry) *Provisioner {
	return &Provisioner{runner: runner, log: log}
}

type stepFunc func(ctx context.Context, req Request) (StepStatus, string, error)

// Provision runs every step in spec order, always recording one Step per
// name regardless of whether the corresponding forward flag was set, so
// the report reflects the full provisioning surface (spec §8, E2E
// scenario 1: env_passthrough, forward_git, forward_gh, forward_ssh,
// dotfiles always appear, skipped when not requested).
func (p *Provisioner) Provision(ctx context.Context, req Request) Report {
	var report Report

	record := func(name string, fn stepFunc) {
		status, detail, err := fn(ctx, req)
		if err != nil {
			p.log.Warnf("provision step %s %s: %v", name, status, err)
		}
		report.Steps = append(report.Steps, Step{Name: name, Status: status, Detail: detail, Err: err})
	}

	record("env_passthrough", p.provisionEnvPassthrough)
	record("forward_git", p.provisionGit)
	record("forward_gh", p.provisionGH)
	record("forward_ssh", p.provisionSSH)
	record("dotfiles", p.provisionDotfiles)

	if len(req.Repos) > 0 {
		record("repos", p.provisionRepos)
	}
	if len(req.ConfigFiles) > 0 {
		record("config_files", p.provisionConfigFiles)
	}
	if req.Purpose == "amplifier" {
		record("amplifier_settings", p.provisionAmplifierSettings)
	}
	if len(req.SetupCommands) > 0 {
		record("setup_commands", p.provisionSetupCommands)
	}

	record("user_ownership", p.provisionUserOwnership)

	return report
}

func (p *Provisioner) exec(ctx context.Context, name string, args ...string) error {
	full := append([]string{"exec", name}, args...)
	res, err := p.runner.Run(ctx, execTimeout, full...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exec in %s failed: %s", name, res.Stderr)
	}
	return nil
}

func (p *Provisioner) cp(ctx context.Context, src, dst string) error {
	res, err := p.runner.Run(ctx, cpTimeout, "cp", src, dst)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cp %s %s failed: %s", src, dst, res.Stderr)
	}
	return nil
}

// targetHome resolves the home directory provisioning should write into,
// falling back to /root if the container's own $HOME can't be read.
func (p *Provisioner) targetHome(ctx context.Context, name string) string {
	res, err := p.runner.Run(ctx, execTimeout, "exec", name, "sh", "-c", "echo $HOME")
	if err == nil && res.ExitCode == 0 {
		if home := strings.TrimSpace(res.Stdout); home != "" {
			return home
		}
	}
	return "/root"
}

// writeHeredoc writes content to targetPath inside the container via a
// quoted here-doc (so the content is never shell-expanded, matching
// spec §9's shell-injection-avoidance guidance), creating parent
// directories first.
func (p *Provisioner) writeHeredoc(ctx context.Context, name, targetPath, content string, appendMode bool) error {
	sentinel, err := utils.RandomHex(16)
	if err != nil {
		sentinel = "AMPEOF"
	}
	sentinel = "AMP_EOF_" + sentinel
	redirect := ">"
	if appendMode {
		redirect = ">>"
	}
	script := fmt.Sprintf("mkdir -p %s && cat <<'%s' %s %s\n%s\n%s\n",
		utils.ShellQuote(filepath.Dir(targetPath)), sentinel, redirect, utils.ShellQuote(targetPath), content, sentinel)
	return p.exec(ctx, name, "sh", "-c", script)
}

// HostGHToken reads `gh auth token` on the host, returning ("", false)
// when gh isn't installed or isn't authenticated.
func HostGHToken(ctx context.Context) (string, bool) {
	out, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", false
	}
	return token, true
}

// HostSSHDir returns the host's ~/.ssh directory if it exists.
func HostSSHDir() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	dir := filepath.Join(home, ".ssh")
	if _, err := os.Stat(dir); err != nil {
		return "", false
	}
	return dir, true
}

func (p *Provisioner) provisionEnvPassthrough(_ context.Context, req Request) (StepStatus, string, error) {
	if len(req.EnvKeys) == 0 {
		return StepSkipped, "no environment variables passed through", nil
	}
	return StepSuccess, fmt.Sprintf("%d variable(s) passed through", len(req.EnvKeys)), nil
}

// provisionGit projects the host's effective git configuration (safe
// subset, [include]/[includeIf] chains resolved) into the container's
// ~/.gitconfig, and carries over ~/.gitconfig.local and ~/.ssh/known_hosts
// verbatim when present.
func (p *Provisioner) provisionGit(ctx context.Context, req Request) (StepStatus, string, error) {
	if !req.ForwardGit {
		return StepSkipped, "forward_git not requested", nil
	}

	home := p.targetHome(ctx, req.ContainerName)
	var partial bool

	projection, ok := hostGitConfigProjection()
	if ok {
		if err := p.writeHeredoc(ctx, req.ContainerName, home+"/.gitconfig", projection, true); err != nil {
			return StepFailed, "failed writing projected .gitconfig", err
		}
	}

	if req.GitUserName != "" {
		if err := p.exec(ctx, req.ContainerName, "git", "config", "--global", "user.name", req.GitUserName); err != nil {
			partial = true
		}
	}
	if req.GitUserEmail != "" {
		if err := p.exec(ctx, req.ContainerName, "git", "config", "--global", "user.email", req.GitUserEmail); err != nil {
			partial = true
		}
	}

	hostHome, err := os.UserHomeDir()
	copiedExtra := 0
	if err == nil {
		for _, rel := range []string{".gitconfig.local", ".ssh/known_hosts"} {
			src := filepath.Join(hostHome, rel)
			if _, statErr := os.Stat(src); statErr != nil {
				continue
			}
			dst := home + "/" + rel
			if mkErr := p.exec(ctx, req.ContainerName, "mkdir", "-p", filepath.Dir(dst)); mkErr != nil {
				partial = true
				continue
			}
			if cpErr := p.cp(ctx, src, req.ContainerName+":"+dst); cpErr != nil {
				partial = true
				continue
			}
			copiedExtra++
		}
	}

	if !ok && req.GitUserName == "" && req.GitUserEmail == "" && copiedExtra == 0 {
		return StepSkipped, "no git configuration found on host", nil
	}
	if partial {
		return StepPartial, "git configuration forwarded with some failures", nil
	}
	return StepSuccess, "host git configuration projected into container", nil
}

// provisionGH verifies the GH_TOKEN env var set at container creation
// time (Fix: token injection happens before the container starts, see
// pipeline.Create) is actually visible, then authenticates the gh CLI
// inside the container if it's present. The token is never written onto
// a command line; it only ever flows through the environment or a pipe.
func (p *Provisioner) provisionGH(ctx context.Context, req Request) (StepStatus, string, error) {
	if !req.ForwardGH {
		return StepSkipped, "forward_gh not requested", nil
	}
	if !req.GHTokenAvailable {
		return StepSkipped, "no gh auth token available on host", nil
	}

	visible, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", `test -n "$GH_TOKEN"`)
	if err != nil {
		return StepFailed, "failed verifying GH_TOKEN visibility", err
	}
	if visible.ExitCode != 0 {
		return StepFailed, "GH_TOKEN not visible inside container", fmt.Errorf("GH_TOKEN missing in container environment")
	}

	ghPresent, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", "command -v gh")
	if err != nil || ghPresent.ExitCode != 0 {
		return StepSuccess, "GH_TOKEN forwarded via environment (gh CLI not present)", nil
	}

	login, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", "printenv GH_TOKEN | gh auth login --with-token")
	if err != nil || login.ExitCode != 0 {
		return StepPartial, "GH_TOKEN forwarded but gh auth login failed", err
	}
	return StepSuccess, "GH_TOKEN forwarded and gh CLI authenticated", nil
}

// provisionSSH copies the ssh material bind-mounted read-only at
// req.SSHStagingPath into the target home's ~/.ssh, applying permission
// discipline: the directory 0700, private keys 0600, public
// keys/known_hosts/config 0644. Any outcome that would leave a private
// key world-readable is reported failed.
func (p *Provisioner) provisionSSH(ctx context.Context, req Request) (StepStatus, string, error) {
	if !req.ForwardSSH {
		return StepSkipped, "forward_ssh not requested", nil
	}
	staging := req.SSHStagingPath
	if staging == "" {
		staging = DefaultSSHStagingPath
	}

	check, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", "test -d "+utils.ShellQuote(staging))
	if err != nil {
		return StepFailed, "failed checking ssh staging mount", err
	}
	if check.ExitCode != 0 {
		return StepSkipped, "no ssh staging mount present", nil
	}

	home := p.targetHome(ctx, req.ContainerName)
	sshDir := home + "/.ssh"

	if err := p.exec(ctx, req.ContainerName, "mkdir", "-p", sshDir); err != nil {
		return StepFailed, "failed creating .ssh", err
	}
	if err := p.exec(ctx, req.ContainerName, "chmod", "700", sshDir); err != nil {
		return StepFailed, "failed setting .ssh permissions", err
	}

	copyScript := fmt.Sprintf("cp -a %s/. %s/", utils.ShellQuote(staging), utils.ShellQuote(sshDir))
	if err := p.exec(ctx, req.ContainerName, "sh", "-c", copyScript); err != nil {
		return StepFailed, "failed copying ssh material", err
	}

	permScript := fmt.Sprintf(`find %s -mindepth 1 -maxdepth 1 -type f | while read -r f; do
  case "$(basename "$f")" in
    *.pub|known_hosts|config) chmod 644 "$f" ;;
    *) chmod 600 "$f" ;;
  esac
done`, utils.ShellQuote(sshDir))
	if err := p.exec(ctx, req.ContainerName, "sh", "-c", permScript); err != nil {
		return StepFailed, "failed applying ssh permission discipline", err
	}

	verifyScript := fmt.Sprintf(`find %s -maxdepth 1 -type f ! -name '*.pub' ! -name known_hosts ! -name config -perm -004`, utils.ShellQuote(sshDir))
	verify, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", verifyScript)
	if err == nil && strings.TrimSpace(verify.Stdout) != "" {
		return StepFailed, "a private key was left world-readable", fmt.Errorf("world-readable ssh key detected under %s", sshDir)
	}

	return StepSuccess, "ssh material staged with permission discipline", nil
}

var commonDotfiles = []string{".bashrc", ".zshrc", ".gitconfig", ".vimrc", ".tmux.conf"}

// provisionDotfiles clones req.DotfilesRepo and runs the first install
// script it finds (install.sh, setup.sh, bootstrap.sh, script/setup),
// falling back to `make` if there's a Makefile, and finally to symlinking
// common dotfiles into home. When no repo is given but DotfilesFiles
// is set, those are written inline instead.
func (p *Provisioner) provisionDotfiles(ctx context.Context, req Request) (StepStatus, string, error) {
	if !req.ForwardDotfiles {
		return StepSkipped, "dotfiles not requested", nil
	}

	home := p.targetHome(ctx, req.ContainerName)

	if req.DotfilesRepo != "" {
		dest := home + "/.dotfiles"
		if err := p.exec(ctx, req.ContainerName, "git", "clone", "--depth", "1", req.DotfilesRepo, dest); err != nil {
			return StepFailed, "failed cloning dotfiles repo", err
		}

		for _, script := range []string{"install.sh", "setup.sh", "bootstrap.sh", "script/setup"} {
			path := dest + "/" + script
			check, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", "test -x "+utils.ShellQuote(path))
			if err == nil && check.ExitCode == 0 {
				if err := p.exec(ctx, req.ContainerName, "sh", "-c", utils.ShellQuote(path)); err != nil {
					return StepPartial, "dotfiles cloned but " + script + " failed", err
				}
				return StepSuccess, "dotfiles cloned and " + script + " run", nil
			}
		}

		makefile := dest + "/Makefile"
		check, err := p.runner.Run(ctx, execTimeout, "exec", req.ContainerName, "sh", "-c", "test -f "+utils.ShellQuote(makefile))
		if err == nil && check.ExitCode == 0 {
			if err := p.exec(ctx, req.ContainerName, "sh", "-c", "cd "+utils.ShellQuote(dest)+" && make"); err != nil {
				return StepPartial, "dotfiles cloned but make failed", err
			}
			return StepSuccess, "dotfiles cloned and make run", nil
		}

		return p.symlinkCommonDotfiles(ctx, req.ContainerName, dest, home)
	}

	if len(req.DotfilesFiles) > 0 {
		var result *multierror.Error
		for rel, content := range req.DotfilesFiles {
			target := home + "/" + rel
			if err := p.writeHeredoc(ctx, req.ContainerName, target, content, false); err != nil {
				result = multierror.Append(result, fmt.Errorf("write %s: %w", rel, err))
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			return StepPartial, "some inline dotfiles failed to write", err
		}
		return StepSuccess, fmt.Sprintf("wrote %d inline dotfile(s)", len(req.DotfilesFiles)), nil
	}

	return StepSkipped, "no dotfiles source configured", nil
}

func (p *Provisioner) symlinkCommonDotfiles(ctx context.Context, name, dest, home string) (StepStatus, string, error) {
	linked := 0
	for _, f := range commonDotfiles {
		src := dest + "/" + f
		check, err := p.runner.Run(ctx, execTimeout, "exec", name, "sh", "-c", "test -f "+utils.ShellQuote(src))
		if err != nil || check.ExitCode != 0 {
			continue
		}
		if err := p.exec(ctx, name, "ln", "-sf", src, home+"/"+f); err == nil {
			linked++
		}
	}
	if linked == 0 {
		return StepPartial, "dotfiles cloned but no install script or recognised files found", nil
	}
	return StepSuccess, fmt.Sprintf("dotfiles cloned and %d common file(s) symlinked", linked), nil
}

// provisionRepos clones each requested repo inside the container,
// running its install command if one is given, aggregating per-repo
// failures with go-multierror so one broken repo doesn't hide the status
// of the others.
func (p *Provisioner) provisionRepos(ctx context.Context, req Request) (StepStatus, string, error) {
	var result *multierror.Error
	succeeded := 0
	for _, repo := range req.Repos {
		dest := repo.Path
		if dest == "" {
			dest = "/workspace/" + repoDirName(repo.URL)
		}
		if err := p.exec(ctx, req.ContainerName, "git", "clone", "--depth", "1", repo.URL, dest); err != nil {
			result = multierror.Append(result, fmt.Errorf("clone %s: %w", repo.URL, err))
			continue
		}
		if repo.Install != "" {
			script := "cd " + utils.ShellQuote(dest) + " && " + repo.Install
			if err := p.exec(ctx, req.ContainerName, "sh", "-c", script); err != nil {
				result = multierror.Append(result, fmt.Errorf("install for %s: %w", repo.URL, err))
				continue
			}
		}
		succeeded++
	}
	return statusFor(succeeded, len(req.Repos), result)
}

func repoDirName(repoURL string) string {
	base := filepath.Base(repoURL)
	for _, suffix := range []string{".git"} {
		if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
			base = base[:len(base)-len(suffix)]
		}
	}
	return base
}

// provisionConfigFiles writes each {container path: inline content}
// entry via a quoted here-doc, creating parent directories as needed, so
// values are never shell-expanded regardless of content.
func (p *Provisioner) provisionConfigFiles(ctx context.Context, req Request) (StepStatus, string, error) {
	var result *multierror.Error
	succeeded := 0
	for containerPath, content := range req.ConfigFiles {
		if err := p.writeHeredoc(ctx, req.ContainerName, containerPath, content, false); err != nil {
			result = multierror.Append(result, fmt.Errorf("write %s: %w", containerPath, err))
			continue
		}
		succeeded++
	}
	return statusFor(succeeded, len(req.ConfigFiles), result)
}

func (p *Provisioner) provisionAmplifierSettings(ctx context.Context, req Request) (StepStatus, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return StepFailed, "failed resolving host home", err
	}
	srcDir := filepath.Join(home, ".amplifier")
	names := []string{"settings.yaml", "settings.local.yaml"}

	var present []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(srcDir, name)); err == nil {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		return StepSkipped, "no amplifier settings files present on host", nil
	}

	targetHome := p.targetHome(ctx, req.ContainerName)
	if err := p.exec(ctx, req.ContainerName, "mkdir", "-p", targetHome+"/.amplifier"); err != nil {
		return StepFailed, "failed creating .amplifier", err
	}

	var result *multierror.Error
	copied := 0
	for _, name := range present {
		src := filepath.Join(srcDir, name)
		if err := p.cp(ctx, src, req.ContainerName+":"+targetHome+"/.amplifier/"+name); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		copied++
	}
	return statusFor(copied, len(present), result)
}

// provisionSetupCommands runs each profile-resolved setup command inside
// the container through `sh -c`, so `&&` chains such as the profile's
// apt-get line work. Commands that str.ToArgv splits into no words are
// skipped. Per-command failures are aggregated so one broken setup step
// doesn't hide the others.
func (p *Provisioner) provisionSetupCommands(ctx context.Context, req Request) (StepStatus, string, error) {
	var result *multierror.Error
	succeeded, total := 0, 0
	for _, command := range req.SetupCommands {
		if len(str.ToArgv(command)) == 0 {
			continue
		}
		total++
		full := []string{"exec", req.ContainerName, "sh", "-c", command}
		res, err := p.runner.Run(ctx, setupCommandTimeout, full...)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("setup command %q: %w", command, err))
			continue
		}
		if res.ExitCode != 0 {
			result = multierror.Append(result, fmt.Errorf("setup command %q: exit %d: %s", command, res.ExitCode, res.Stderr))
			continue
		}
		succeeded++
	}
	return statusFor(succeeded, total, result)
}

// provisionUserOwnership implements the two-phase user model (spec §4.G):
// the container is created without --user as root, and here we add a
// matching group/user so subsequent exec calls can run with --user
// uid:gid instead of root. -o lets groupadd/useradd reuse a uid:gid that
// already exists in the base image so re-creation against the same host
// user stays idempotent.
func (p *Provisioner) provisionUserOwnership(ctx context.Context, req Request) (StepStatus, string, error) {
	if req.Username == "" {
		return StepSkipped, "no host uid:gid mapping requested", nil
	}
	if err := p.exec(ctx, req.ContainerName, "groupadd", "-o", "-g", itoa(req.GID), req.Username); err != nil {
		return StepFailed, "failed creating group", err
	}
	if err := p.exec(ctx, req.ContainerName, "useradd", "-o", "-u", itoa(req.UID), "-g", itoa(req.GID), "-m", req.Username); err != nil {
		return StepFailed, "failed creating user", err
	}
	if err := p.exec(ctx, req.ContainerName, "chown", "-R", req.Username+":"+req.Username, "/workspace"); err != nil {
		return StepFailed, "failed fixing workspace ownership", err
	}
	return StepSuccess, fmt.Sprintf("mapped %s to %d:%d", req.Username, req.UID, req.GID), nil
}

// statusFor turns a succeeded/total count plus an aggregated error into a
// step status: no items is skipped, all succeeded is success, none
// succeeded is failed, and a mix is partial.
func statusFor(succeeded, total int, errs *multierror.Error) (StepStatus, string, error) {
	err := errs.ErrorOrNil()
	switch {
	case total == 0:
		return StepSkipped, "nothing to do", nil
	case succeeded == total:
		return StepSuccess, fmt.Sprintf("%d/%d succeeded", succeeded, total), nil
	case succeeded == 0:
		return StepFailed, fmt.Sprintf("0/%d succeeded", total), err
	default:
		return StepPartial, fmt.Sprintf("%d/%d succeeded", succeeded, total), err
	}
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
