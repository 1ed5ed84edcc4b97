package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amp-tools/container-tool/pkg/envpass"
	"github.com/amp-tools/container-tool/pkg/execsurface"
	"github.com/amp-tools/container-tool/pkg/pipeline"
	"github.com/amp-tools/container-tool/pkg/preflight"
	"github.com/amp-tools/container-tool/pkg/profile"
	"github.com/amp-tools/container-tool/pkg/provision"
	"github.com/amp-tools/container-tool/pkg/safety"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Server exposes Core as a single MCP tool over stdio.
type Server struct {
	mcpServer *server.MCPServer
	core      *Core
}

// NewServer builds the MCP server and registers the single "containers"
// tool, one object argument with a required "operation" string and an
// optional "params_json" string holding JSON-encoded parameters, decoded
// per-operation inside the handler (spec.md §6's tool operation surface).
func NewServer(core *Core) *Server {
	s := &Server{core: core}

	s.mcpServer = server.NewMCPServer("amp-containers", "0.1.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	tool := mcp.NewTool("containers",
		mcp.WithDescription("Create, operate on, and tear down isolated container environments"),
		mcp.WithString("operation", mcp.Description("One of: preflight, create, destroy, destroy_all, list, status, exec, exec_interactive_hint, exec_background, exec_poll, exec_cancel, wait_healthy, copy_in, copy_out, snapshot, restore, create_network, destroy_network, cache_clear"), mcp.Required()),
		mcp.WithString("params_json", mcp.Description("Operation-specific parameters, JSON-encoded")),
	)

	s.mcpServer.AddTools(server.ServerTool{Tool: tool, Handler: s.handle})
	return s
}

// ServeStdio runs the server over stdin/stdout until the client
// disconnects, following the teacher's one-process-per-agent-session
// model.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op := req.GetString("operation", "")
	if op == "" {
		return errorResult(fmt.Errorf("operation is required")), nil
	}

	var params map[string]interface{}
	if raw := req.GetString("params_json", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return errorResult(fmt.Errorf("invalid params_json: %w", err)), nil
		}
	}

	handler, ok := operations[op]
	if !ok {
		return errorResult(fmt.Errorf("unknown operation %q", op)), nil
	}

	result, err := handler(ctx, s.core, params)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result), nil
}

type operationFunc func(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error)

var operations = map[string]operationFunc{
	"preflight":             opPreflight,
	"create":                opCreate,
	"destroy":               opDestroy,
	"destroy_all":           opDestroyAll,
	"list":                  opList,
	"status":                opStatus,
	"exec":                  opExec,
	"exec_interactive_hint": opExecInteractiveHint,
	"exec_background":       opExecBackground,
	"exec_poll":             opExecPoll,
	"exec_cancel":           opExecCancel,
	"wait_healthy":          opWaitHealthy,
	"copy_in":               opCopyIn,
	"copy_out":              opCopyOut,
	"snapshot":              opSnapshot,
	"restore":               opRestore,
	"create_network":        opCreateNetwork,
	"destroy_network":       opDestroyNetwork,
	"cache_clear":           opCacheClear,
}

// decode re-marshals the loosely-typed params map into dst, giving each
// operation a concrete Go request shape without a bespoke parser per op.
func decode(params map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// textResult builds a CallToolResult carrying a single text content block,
// grounded on Scoutflo-kubernetes-mcp-server's NewTextResult helper.
func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: isError,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return textResult(fmt.Sprintf(`{"error":%q}`, err.Error()), true)
}

func successResult(v interface{}) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return textResult(string(data), false)
}

// --- operation implementations -------------------------------------------------

func opPreflight(ctx context.Context, core *Core, _ map[string]interface{}) (interface{}, error) {
	return preflight.Run(ctx, core.Engine, "", core.Config.MetadataDir), nil
}

// repoParam is the wire shape of one entry in "repos": a git URL plus
// where to clone it and what (if anything) to run after cloning.
type repoParam struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Install string `json:"install"`
}

// portParam is one "-p host:container" mapping requested over the wire.
type portParam struct {
	Host      string `json:"host"`
	Container string `json:"container"`
}

type createParams struct {
	Name            string            `json:"name"`
	Purpose         string            `json:"purpose"`
	RepoURL         string            `json:"repo_url"`
	BaseImage       *string           `json:"base_image"`
	ForwardGit      *bool             `json:"forward_git"`
	ForwardGH       *bool             `json:"forward_gh"`
	ForwardSSH      *bool             `json:"forward_ssh"`
	ForwardDotfiles *bool             `json:"forward_dotfiles"`
	ComposeContent  string            `json:"compose_content"`
	ComposeProject  string            `json:"compose_project"`
	EnvMode         string            `json:"env_mode"`
	ExplicitEnvList []string          `json:"explicit_env_list"`
	GPUAccess       bool              `json:"gpu_access"`
	HostNetwork     bool              `json:"host_network"`
	SSHForwarding   bool              `json:"ssh_forwarding"`
	MountSources    []string          `json:"mount_sources"`
	Workdir         string            `json:"workdir"`
	MountCWD        bool              `json:"mount_cwd"`
	Ports           []portParam       `json:"ports"`
	Persistent      bool              `json:"persistent"`
	Labels          map[string]string `json:"labels"`
	MemoryLimit     string            `json:"memory_limit"`
	CPULimit        string            `json:"cpu_limit"`
	Approvals       map[string]bool   `json:"approvals"`
	GitUserName     string            `json:"git_user_name"`
	GitUserEmail    string            `json:"git_user_email"`
	DotfilesRepo    string            `json:"dotfiles_repo"`
	DotfilesFiles   map[string]string `json:"dotfiles_files"`
	Repos           []repoParam       `json:"repos"`
	// ConfigFiles maps a container path to the literal content written
	// there, not a host path to copy from (spec §4.G).
	ConfigFiles map[string]string `json:"config_files"`
	Username    string            `json:"username"`
	UID         int               `json:"uid"`
	GID         int               `json:"gid"`
}

func opCreate(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p createParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	mode := envpass.Mode(p.EnvMode)
	if mode == "" {
		mode = envpass.ModeAuto
	}

	approvals := make(map[safety.Concern]*bool, len(p.Approvals))
	for k, v := range p.Approvals {
		val := v
		approvals[safety.Concern(k)] = &val
	}

	repos := make([]provision.RepoSpec, 0, len(p.Repos))
	for _, r := range p.Repos {
		repos = append(repos, provision.RepoSpec{URL: r.URL, Path: r.Path, Install: r.Install})
	}

	ports := make([]pipeline.PortSpec, 0, len(p.Ports))
	for _, port := range p.Ports {
		ports = append(ports, pipeline.PortSpec{Host: port.Host, Container: port.Container})
	}

	req := pipeline.Request{
		Name:    p.Name,
		Purpose: p.Purpose,
		RepoURL: p.RepoURL,
		ProfileOverride: profile.Request{
			BaseImage:       p.BaseImage,
			ForwardGit:      p.ForwardGit,
			ForwardGH:       p.ForwardGH,
			ForwardSSH:      p.ForwardSSH,
			ForwardDotfiles: p.ForwardDotfiles,
		},
		ComposeContent:  p.ComposeContent,
		ComposeProject:  p.ComposeProject,
		EnvMode:         mode,
		ExplicitEnvList: p.ExplicitEnvList,
		GPUAccess:       p.GPUAccess,
		HostNetwork:     p.HostNetwork,
		SSHForwarding:   p.SSHForwarding,
		MountSources:    p.MountSources,
		Workdir:         p.Workdir,
		MountCWD:        p.MountCWD,
		Ports:           ports,
		Persistent:      p.Persistent,
		Labels:          p.Labels,
		MemoryLimit:     p.MemoryLimit,
		CPULimit:        p.CPULimit,
		Approvals:       approvals,
		GitUserName:     p.GitUserName,
		GitUserEmail:    p.GitUserEmail,
		DotfilesRepo:    p.DotfilesRepo,
		DotfilesFiles:   p.DotfilesFiles,
		Repos:           repos,
		ConfigFiles:     p.ConfigFiles,
		Username:        p.Username,
		UID:             p.UID,
		GID:             p.GID,
	}

	return pipeline.Create(ctx, core.pipelineDeps(), req)
}

type nameParams struct {
	Name string `json:"name"`
}

func opDestroy(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p nameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.Destroy(ctx, p.Name); err != nil {
		return nil, err
	}
	return map[string]string{"status": "destroyed"}, nil
}

func opDestroyAll(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p struct {
		Confirm bool `json:"confirm"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.DestroyAll(ctx, p.Confirm); err != nil {
		return nil, err
	}
	return map[string]string{"status": "destroyed_all"}, nil
}

func opList(ctx context.Context, core *Core, _ map[string]interface{}) (interface{}, error) {
	names, err := core.Admin.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]string{"containers": names}, nil
}

func opStatus(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p nameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	md, state, err := core.Admin.Status(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"metadata": md, "state": state}, nil
}

type execParams struct {
	Container string   `json:"container"`
	Command   []string `json:"command"`
	Workdir   string   `json:"workdir"`
}

func opExec(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p execParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	res, err := execsurface.Exec(ctx, core.Engine, p.Container, p.Command, p.Workdir)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func opExecInteractiveHint(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p execParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	hint, err := execsurface.InteractiveHint(ctx, core.Engine, p.Container, p.Workdir)
	if err != nil {
		return nil, err
	}
	return map[string]string{"hint": hint}, nil
}

type execBackgroundParams struct {
	Container string `json:"container"`
	Command   string `json:"command"`
	Workdir   string `json:"workdir"`
}

func opExecBackground(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p execBackgroundParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	job, err := execsurface.Background(ctx, core.Engine, p.Container, p.Command, p.Workdir)
	if err != nil {
		return nil, err
	}
	return job, nil
}

type jobParams struct {
	Container string `json:"container"`
	JobID     string `json:"job_id"`
}

func opExecPoll(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p jobParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	status, err := execsurface.Poll(ctx, core.Engine, execsurface.Job{Container: p.Container, ID: p.JobID})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func opExecCancel(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p jobParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := execsurface.Cancel(ctx, core.Engine, execsurface.Job{Container: p.Container, ID: p.JobID}); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cancelled"}, nil
}

func opWaitHealthy(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p struct {
		Container     string   `json:"container"`
		HealthCommand []string `json:"health_command"`
		Retries       int      `json:"retries"`
		IntervalMS    int      `json:"interval_ms"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Retries <= 0 {
		p.Retries = 10
	}
	if p.IntervalMS <= 0 {
		p.IntervalMS = 1000
	}
	interval := msToDuration(p.IntervalMS)
	if err := execsurface.WaitHealthy(ctx, core.Engine, p.Container, p.HealthCommand, p.Retries, interval); err != nil {
		return nil, err
	}
	return map[string]string{"status": "healthy"}, nil
}

type copyParams struct {
	Container     string `json:"container"`
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
}

func opCopyIn(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p copyParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.CopyIn(ctx, p.Container, p.HostPath, p.ContainerPath); err != nil {
		return nil, err
	}
	return map[string]string{"status": "copied"}, nil
}

func opCopyOut(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p copyParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.CopyOut(ctx, p.Container, p.ContainerPath, p.HostPath); err != nil {
		return nil, err
	}
	return map[string]string{"status": "copied"}, nil
}

func opSnapshot(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p struct {
		Container string `json:"container"`
		Tag       string `json:"tag"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.Snapshot(ctx, p.Container, p.Tag); err != nil {
		return nil, err
	}
	return map[string]string{"status": "snapshotted"}, nil
}

func opRestore(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p struct {
		Image string `json:"image"`
		Name  string `json:"name"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	restoreFn := func(ctx context.Context, image, name string) error {
		img := image
		_, err := pipeline.Create(ctx, core.pipelineDeps(), pipeline.Request{
			Name:            name,
			Purpose:         "clean",
			ProfileOverride: profile.Request{BaseImage: &img},
			EnvMode:         envpass.ModeNone,
		})
		return err
	}

	if err := core.Admin.Restore(ctx, restoreFn, p.Image, p.Name); err != nil {
		return nil, err
	}
	return map[string]string{"status": "restored"}, nil
}

func opCreateNetwork(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p nameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.CreateNetwork(ctx, p.Name); err != nil {
		return nil, err
	}
	return map[string]string{"status": "created"}, nil
}

func opDestroyNetwork(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p nameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.DestroyNetwork(ctx, p.Name); err != nil {
		return nil, err
	}
	return map[string]string{"status": "destroyed"}, nil
}

func opCacheClear(ctx context.Context, core *Core, params map[string]interface{}) (interface{}, error) {
	var p struct {
		Purpose string `json:"purpose"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := core.Admin.CacheClear(ctx, p.Purpose); err != nil {
		return nil, err
	}
	return map[string]string{"status": "cleared"}, nil
}
