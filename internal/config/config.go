// Package config models the configuration variables the cooker consumes,
// plus the KDL-backed session config file they are loaded from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// LayerConfig is one entry of BBFILE_COLLECTIONS: a named layer plus its
// declared metadata.
type LayerConfig struct {
	Name             string
	Pattern          string   // BBFILE_PATTERN_<name>
	ExplicitPriority *int     // BBFILE_PRIORITY_<name>, nil if unset
	Depends          []string // LAYERDEPENDS_<name>, "name[:version]"
	Version          string   // LAYERVERSION_<name>
}

// Config is the full set of variables the cooker reads, one field per
// configuration variable so the mapping from name to field is traceable
// from the config file.
type Config struct {
	TopDir  string // TOPDIR
	BBPath  []string
	BBFiles []string
	BBMask  string

	BBFileCollections []string // enabled layer names, in order
	Layers            []LayerConfig

	PreferredProviders map[string]string // providee -> provider pn
	AssumeProvided     []string

	NumParseThreads         int // BB_NUMBER_PARSE_THREADS, 0 = NumCPU
	NiceLevel               int // BB_NICE_LEVEL
	VerboseLogs             bool
	DanglingAppendsWarnOnly bool

	DefaultTask string // default task for a bare target name

	BuildName  string
	BuildStart time.Time
}

// Default returns a Config with the defaults assumed absent any
// configuration: no layers, do_build as the default task, and a worker
// count derived from NumCPU.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		TopDir:          cwd,
		DefaultTask:     "build",
		NumParseThreads: runtime.NumCPU(),
		BuildName:       time.Now().Format("200601021504"),
		BuildStart:      time.Now(),
	}
}

// Validate checks the invariants the config must hold before the cooker
// can proceed past Initial: every BBFILE_PATTERN_<L> must be present, and
// BBFILE_COLLECTIONS must not be empty when layers are configured.
// Problems are collected, not raised one at a time.
func (c *Config) Validate() []string {
	var problems []string
	for _, l := range c.Layers {
		if l.Pattern == "" {
			problems = append(problems, fmt.Sprintf("layer %q: missing BBFILE_PATTERN_%s", l.Name, l.Name))
		}
	}
	if len(c.BBFileCollections) == 0 && len(c.Layers) > 0 {
		problems = append(problems, "BBFILE_COLLECTIONS is empty but layers are configured")
	}
	return problems
}

// LockPath returns the advisory lock file path for this TOPDIR, used by
// internal/cookerfsm to enforce one cooker per build directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.TopDir, "bitbake.lock")
}

// BBPathDirs returns the configured search paths, splitting the
// colon-separated BBPATH the way the original shell-derived variable is
// split.
func BBPathDirs(bbpath string) []string {
	if bbpath == "" {
		return nil
	}
	parts := strings.Split(bbpath, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
