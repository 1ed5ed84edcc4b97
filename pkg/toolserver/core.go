// Package toolserver wires every component (A-L) into a Core and exposes
// it as a single MCP tool named "containers", dispatching on an
// "operation" field, grounded on Scoutflo-kubernetes-mcp-server's
// server.ServerTool/mcp.NewTool construction.
package toolserver

import (
	"path/filepath"

	"github.com/amp-tools/container-tool/pkg/admin"
	"github.com/amp-tools/container-tool/pkg/compose"
	"github.com/amp-tools/container-tool/pkg/config"
	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/imagecache"
	"github.com/amp-tools/container-tool/pkg/pipeline"
	"github.com/amp-tools/container-tool/pkg/provision"
	"github.com/amp-tools/container-tool/pkg/safety"
	"github.com/amp-tools/container-tool/pkg/store"
	"github.com/sirupsen/logrus"
)

// Core bundles every wired component the containers tool dispatches to.
type Core struct {
	Config  config.Config
	Log     *logrus.Entry
	Engine  *engine.Engine
	Store   *store.Store
	Cache   *imagecache.Cache
	Prov    *provision.Provisioner
	Compose *compose.Manager
	Safety  *safety.Gate
	Admin   *admin.Ops
}

// NewCore constructs every component from cfg and wires them together,
// the way the teacher's NewAppConfig feeds into NewDockerCommand/
// NewOSCommand.
func NewCore(cfg config.Config, log *logrus.Entry) *Core {
	eng := engine.New(log)
	st := store.New(filepath.Join(cfg.MetadataDir, "containers"))
	cache := imagecache.New(eng)
	prov := provision.New(eng, log)
	comp := compose.New("")
	gate := safety.New(cfg.RequireApprovalFor, cfg.SensitiveMountPrefixes)

	return &Core{
		Config:  cfg,
		Log:     log,
		Engine:  eng,
		Store:   st,
		Cache:   cache,
		Prov:    prov,
		Compose: comp,
		Safety:  gate,
		Admin: &admin.Ops{
			Engine:  eng,
			Store:   st,
			Cache:   cache,
			Compose: comp,
			Safety:  gate,
		},
	}
}

// pipelineDeps adapts Core into the pipeline package's Deps shape.
func (c *Core) pipelineDeps() pipeline.Deps {
	return pipeline.Deps{
		Engine:    c.Engine,
		Store:     c.Store,
		Cache:     c.Cache,
		Provision: c.Prov,
		Compose:   c.Compose,
		Safety:    c.Safety,
		Config: pipeline.AutoConfig{
			AutoEnvPatterns:     c.Config.AutoPassthrough.EnvPatterns,
			DefaultDotfilesRepo: c.Config.Dotfiles.Repo,
			DefaultMemoryLimit:  c.Config.Security.MemoryLimit,
			DefaultCPULimit:     c.Config.Security.CPULimit,
		},
		Log: c.Log,
	}
}
