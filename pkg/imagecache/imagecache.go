// Package imagecache is the Image Cache (spec §4.D). It looks up and
// commits `amplifier-cache:<purpose>` images tagged with a
// `amplifier.cache.version` label carrying the profile digest, so a
// `create` can start from the cached image and skip the profile's own
// setup commands when nothing about the profile changed. The other
// provisioning steps still run on a cache hit.
package imagecache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amp-tools/container-tool/pkg/engine"
)

const (
	inspectTimeout = 10 * time.Second
	commitTimeout  = 60 * time.Second

	labelKey = "amplifier.cache.version"
)

// Cache wraps a Runner to provide cache lookup/commit for purpose images.
type Cache struct {
	runner engine.Runner
}

func New(runner engine.Runner) *Cache {
	return &Cache{runner: runner}
}

func tag(purpose string) string {
	return "amplifier-cache:" + purpose
}

// Lookup returns the cached image's digest label, or ("", false) if no
// cached image exists for purpose.
func (c *Cache) Lookup(ctx context.Context, purpose string) (digest string, found bool, err error) {
	res, err := c.runner.Run(ctx, inspectTimeout, "image", "inspect", tag(purpose),
		"--format", fmt.Sprintf("{{index .Config.Labels %q}}", labelKey))
	if err != nil {
		return "", false, err
	}
	if res.ExitCode != 0 {
		// "no such image" and similar are not an error, just a cache miss.
		return "", false, nil
	}
	digest = strings.TrimSpace(res.Stdout)
	if digest == "" || digest == "<no value>" {
		return "", false, nil
	}
	return digest, true, nil
}

// Commit tags containerID's current state as the cache image for purpose,
// stamped with digest so a future Lookup can tell whether it's still
// fresh.
func (c *Cache) Commit(ctx context.Context, containerID, purpose, digest string) error {
	res, err := c.runner.Run(ctx, commitTimeout, "commit",
		"--change", fmt.Sprintf("LABEL %s=%s", labelKey, digest),
		containerID, tag(purpose))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("commit cache image for %s: %s", purpose, res.Stderr)
	}
	return nil
}

// Clear removes the cached image for purpose, ignoring a not-found error
// since that just means there was nothing to clear.
func (c *Cache) Clear(ctx context.Context, purpose string) error {
	res, err := c.runner.Run(ctx, commitTimeout, "rmi", "-f", tag(purpose))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(strings.ToLower(res.Stderr), "no such image") {
		return fmt.Errorf("clear cache image for %s: %s", purpose, res.Stderr)
	}
	return nil
}
