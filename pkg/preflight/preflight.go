// Package preflight is the Preflight Diagnostics component spec.md §1/§5
// names alongside the Runtime Adapter: a structured capability check run
// before `create` is attempted. Its five probes run concurrently via
// errgroup, since spec §5 says "a preflight need not serialise its five
// probes, though a linear implementation is acceptable" — we take the
// concurrent option, grounded on the errgroup usage pulled in by the
// example pack's own Prometheus/metrics stack.
package preflight

import (
	"context"

	"github.com/amp-tools/container-tool/pkg/compose"
	"github.com/amp-tools/container-tool/pkg/engine"
	"golang.org/x/sync/errgroup"
)

// Probe is one capability check's outcome.
type Probe struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Guidance string `json:"guidance,omitempty"`
}

// Report is the full preflight result: PreconditionFailed (spec §7) is
// signalled by Blocking being true, since a missing engine or unreachable
// daemon must block `create`.
type Report struct {
	Probes   []Probe `json:"probes"`
	Blocking bool    `json:"blocking"`
}

// Run executes all five probes concurrently against eng and composeBin
// (the configured compose binary override, if any) and metadataDir (the
// Metadata Store base directory, checked for writability).
func Run(ctx context.Context, eng *engine.Engine, composeBin, metadataDir string) Report {
	results := make([]Probe, 5)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results[0] = engineFoundProbe(eng)
		return nil
	})
	g.Go(func() error {
		results[1] = daemonRunningProbe(gctx, eng)
		return nil
	})
	g.Go(func() error {
		results[2] = userPermissionsProbe(gctx, eng)
		return nil
	})
	g.Go(func() error {
		results[3] = composeAvailableProbe(composeBin)
		return nil
	})
	g.Go(func() error {
		results[4] = metadataDirWritableProbe(metadataDir)
		return nil
	})

	_ = g.Wait() // each probe function is infallible; errors never propagate

	report := Report{Probes: results}
	report.Blocking = !results[0].OK || !results[1].OK || !results[2].OK
	return report
}

func engineFoundProbe(eng *engine.Engine) Probe {
	if eng.Available() {
		return Probe{Name: "engine_found", OK: true}
	}
	return Probe{
		Name:     "engine_found",
		OK:       false,
		Guidance: "no container engine found: install podman or docker",
	}
}

func daemonRunningProbe(ctx context.Context, eng *engine.Engine) Probe {
	if !eng.Available() {
		return Probe{Name: "daemon_running", OK: false, Guidance: "skipped: no engine found"}
	}
	ok, msg := eng.IsDaemonRunning(ctx)
	if ok {
		return Probe{Name: "daemon_running", OK: true}
	}
	return Probe{Name: "daemon_running", OK: false, Guidance: "daemon unreachable: " + msg}
}

func userPermissionsProbe(ctx context.Context, eng *engine.Engine) Probe {
	if !eng.Available() {
		return Probe{Name: "user_has_permissions", OK: false, Guidance: "skipped: no engine found"}
	}
	ok, msg := eng.UserHasPermissions(ctx)
	if ok {
		return Probe{Name: "user_has_permissions", OK: true}
	}
	return Probe{Name: "user_has_permissions", OK: false, Guidance: "insufficient permissions: " + msg}
}

func composeAvailableProbe(override string) Probe {
	if compose.Probe(override) {
		return Probe{Name: "compose_available", OK: true}
	}
	return Probe{
		Name:     "compose_available",
		OK:       false,
		Guidance: "no compose binary found: install podman-compose or docker compose",
	}
}

func metadataDirWritableProbe(dir string) Probe {
	if writableDir(dir) {
		return Probe{Name: "metadata_dir_writable", OK: true}
	}
	return Probe{
		Name:     "metadata_dir_writable",
		OK:       false,
		Guidance: "metadata directory is not writable: " + dir,
	}
}
