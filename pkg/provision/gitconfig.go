package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

const maxIncludeDepth = 10

// excludedGitSections are dropped from the projected config: credential
// helpers and http/safe settings are host-specific or security sensitive,
// and include/includeIf have already been resolved by the time we project.
var excludedGitSections = map[string]bool{
	"credential": true,
	"include":    true,
	"includeif":  true,
	"http":       true,
	"safe":       true,
}

// hostGitConfigProjection reads the host's effective git configuration,
// following [include]/[includeIf] chains, and renders the safe subset as
// a gitconfig fragment ready to append into the container's ~/.gitconfig.
// ok is false when the host has no git configuration to forward at all.
func hostGitConfigProjection() (projection string, ok bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}

	var path string
	for _, candidate := range []string{
		filepath.Join(home, ".gitconfig"),
		filepath.Join(home, ".config", "git", "config"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return "", false
	}

	merged, err := loadGitConfigChain(path, 0)
	if err != nil {
		return "", false
	}

	projection = projectSafeSubset(merged)
	return projection, projection != ""
}

// loadGitConfigChain loads path and recursively merges in every
// [include]/[includeIf] target it names. includeIf conditions (onbranch,
// gitdir, ...) are not evaluated; every includeIf target is followed
// unconditionally, which over-includes relative to real git but keeps
// the safe-subset projection a superset rather than silently dropping
// configuration a stricter evaluation would have kept.
func loadGitConfigChain(path string, depth int) (*ini.File, error) {
	if depth > maxIncludeDepth {
		return ini.Empty(), nil
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, path)
	if err != nil {
		return nil, err
	}

	merged := ini.Empty()
	mergeSections(merged, cfg)

	for _, sec := range cfg.Sections() {
		base, _, _ := splitSectionName(sec.Name())
		if !strings.EqualFold(base, "include") && !strings.EqualFold(base, "includeif") {
			continue
		}
		key := sec.Key("path")
		if key == nil || key.String() == "" {
			continue
		}
		incPath := key.String()
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(filepath.Dir(path), incPath)
		}
		if _, err := os.Stat(incPath); err != nil {
			continue
		}
		incCfg, err := loadGitConfigChain(incPath, depth+1)
		if err != nil {
			continue
		}
		mergeSections(merged, incCfg)
	}

	return merged, nil
}

func mergeSections(dst, src *ini.File) {
	for _, sec := range src.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		dstSec, err := dst.NewSection(sec.Name())
		if err != nil {
			continue
		}
		for _, key := range sec.Keys() {
			dstSec.NewKey(key.Name(), key.Value())
		}
	}
}

// projectSafeSubset renders every section of cfg that isn't excluded as a
// gitconfig fragment, two-component keys as `[section]` / `subkey = value`
// and three-component keys as `[section "middle"]` / `subkey = value`.
func projectSafeSubset(cfg *ini.File) string {
	var b strings.Builder
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection || len(sec.Keys()) == 0 {
			continue
		}
		base, sub, hasSub := splitSectionName(sec.Name())
		if excludedGitSections[strings.ToLower(base)] {
			continue
		}
		if hasSub {
			fmt.Fprintf(&b, "[%s %q]\n", base, sub)
		} else {
			fmt.Fprintf(&b, "[%s]\n", base)
		}
		for _, key := range sec.Keys() {
			fmt.Fprintf(&b, "\t%s = %s\n", key.Name(), escapeGitValue(key.Value()))
		}
	}
	return b.String()
}

// splitSectionName splits an ini.v1 section name like `branch "main"` into
// its base (`branch`) and subsection (`main`), reporting whether a
// subsection was present.
func splitSectionName(name string) (base, sub string, hasSub bool) {
	idx := strings.IndexByte(name, ' ')
	if idx < 0 {
		return name, "", false
	}
	base = name[:idx]
	sub = strings.Trim(strings.TrimSpace(name[idx+1:]), `"`)
	return base, sub, true
}

// escapeGitValue double-quotes and backslash-escapes a value containing a
// backslash or double quote; other values are written as-is.
func escapeGitValue(v string) string {
	if !strings.ContainsAny(v, `\"`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
