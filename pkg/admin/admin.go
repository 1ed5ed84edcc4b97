// Package admin is Lifecycle & Admin Ops (spec §4.K): listing, status,
// destroy/destroy_all, copy in/out, snapshot/restore, network
// create/destroy, and cache_clear.
package admin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amp-tools/container-tool/pkg/compose"
	"github.com/amp-tools/container-tool/pkg/engine"
	"github.com/amp-tools/container-tool/pkg/imagecache"
	"github.com/amp-tools/container-tool/pkg/labels"
	"github.com/amp-tools/container-tool/pkg/safety"
	"github.com/amp-tools/container-tool/pkg/store"
	"github.com/amp-tools/container-tool/pkg/utils"
)

const (
	defaultTimeout = 15 * time.Second
	copyTimeout    = 60 * time.Second
	commitTimeout  = 60 * time.Second
	destroyTimeout = 20 * time.Second
)

// Ops bundles the collaborators admin operations need.
type Ops struct {
	Engine  engine.Runner
	Store   *store.Store
	Cache   *imagecache.Cache
	Compose *compose.Manager
	Safety  *safety.Gate
}

// List returns every container this tool created, filtered to the
// managed-container label.
func (o *Ops) List(ctx context.Context) ([]string, error) {
	res, err := o.Engine.Run(ctx, defaultTimeout, "ps", "-a", "--filter", "label="+labels.ManagedFilter, "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("list containers: %s", res.Stderr)
	}
	return utils.SplitLines(res.Stdout), nil
}

// Status returns the stored metadata plus the engine's live state for
// name.
func (o *Ops) Status(ctx context.Context, name string) (store.Metadata, string, error) {
	md, err := o.Store.Load(name)
	if err != nil {
		return store.Metadata{}, "", err
	}
	res, err := o.Engine.Run(ctx, defaultTimeout, "inspect", "-f", "{{.State.Status}}", name)
	if err != nil {
		return md, "", err
	}
	if res.ExitCode != 0 {
		return md, "unknown", nil
	}
	return md, strings.TrimSpace(res.Stdout), nil
}

// Destroy stops and removes a container, tears down its compose project
// if it has one, and deletes its metadata. Stop/kill and remove are
// idempotent: destroying an already-gone container is not an error.
func (o *Ops) Destroy(ctx context.Context, name string) error {
	md, err := o.Store.Load(name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if md.ComposeProject != "" {
		f, err := compose.NewFile("services: {}\n")
		if err == nil {
			defer f.Close()
			_, _ = o.Compose.Down(ctx, f.Path, md.ComposeProject)
		}
	} else {
		_, _ = o.Engine.Run(ctx, destroyTimeout, "stop", name)
		_, _ = o.Engine.Run(ctx, destroyTimeout, "rm", "-f", name)
	}

	if err := o.Store.Remove(name); err != nil {
		return err
	}
	o.Safety.ForgetContainer(name)
	return nil
}

// DestroyAll tears down every tracked container. It requires confirm to
// be true, since this is the gate's destroy_all concern and the caller
// is expected to have already resolved approval before calling this.
func (o *Ops) DestroyAll(ctx context.Context, confirm bool) error {
	if !confirm {
		return fmt.Errorf("destroy_all requires confirm=true")
	}
	names, err := o.Store.ListAll()
	if err != nil {
		return err
	}
	var firstErr error
	for _, name := range names {
		if err := o.Destroy(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CopyIn copies hostPath into container at containerPath. hostPath is
// realpath-resolved first, so when it is a symlink the engine copies the
// file or directory the link points to.
func (o *Ops) CopyIn(ctx context.Context, container, hostPath, containerPath string) error {
	resolved, err := filepath.EvalSymlinks(hostPath)
	if err != nil {
		return err
	}
	res, err := o.Engine.Run(ctx, copyTimeout, "cp", resolved, container+":"+containerPath)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("copy_in failed: %s", res.Stderr)
	}
	return nil
}

// CopyOut copies containerPath out of container to hostPath.
func (o *Ops) CopyOut(ctx context.Context, container, containerPath, hostPath string) error {
	res, err := o.Engine.Run(ctx, copyTimeout, "cp", container+":"+containerPath, hostPath)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("copy_out failed: %s", res.Stderr)
	}
	return nil
}

// Snapshot commits container's current state to a named, tagged image.
func (o *Ops) Snapshot(ctx context.Context, container, tag string) error {
	res, err := o.Engine.Run(ctx, commitTimeout, "commit", container, tag)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("snapshot failed: %s", res.Stderr)
	}
	return nil
}

// RestoreFunc is injected by the entrypoint so Restore can redirect
// through the Creation Pipeline's Create (avoiding an import cycle
// between admin and pipeline).
type RestoreFunc func(ctx context.Context, image, name string) error

// Restore re-creates a container from a previously snapshotted image via
// restoreFn, since restore is specified as redirecting through create.
func (o *Ops) Restore(ctx context.Context, restoreFn RestoreFunc, image, name string) error {
	return restoreFn(ctx, image, name)
}

// CreateNetwork creates a named bridge network.
func (o *Ops) CreateNetwork(ctx context.Context, name string) error {
	res, err := o.Engine.Run(ctx, defaultTimeout, "network", "create", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("create_network failed: %s", res.Stderr)
	}
	return nil
}

// DestroyNetwork removes a named network.
func (o *Ops) DestroyNetwork(ctx context.Context, name string) error {
	res, err := o.Engine.Run(ctx, defaultTimeout, "network", "rm", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("destroy_network failed: %s", res.Stderr)
	}
	return nil
}

// CacheClear clears the cached image for purpose.
func (o *Ops) CacheClear(ctx context.Context, purpose string) error {
	return o.Cache.Clear(ctx, purpose)
}

