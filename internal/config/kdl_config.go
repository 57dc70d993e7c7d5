package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// SessionFileName is the cooker's session config file, looked up under
// the build root.
const SessionFileName = "cooker.kdl"

// Load reads <root>/cooker.kdl if present and overlays it onto a default
// Config; absence of the file is not an error.
func Load(root string) (*Config, error) {
	cfg := Default()
	if root != "" {
		absRoot, err := filepath.Abs(root)
		if err == nil {
			cfg.TopDir = absRoot
		}
	}

	path := filepath.Join(cfg.TopDir, SessionFileName)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := parseKDL(string(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func parseKDL(content string, cfg *Config) error {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return err
	}

	layersByName := map[string]*LayerConfig{}
	layerOrder := []string{}
	layerFor := func(name string) *LayerConfig {
		if l, ok := layersByName[name]; ok {
			return l
		}
		l := &LayerConfig{Name: name}
		layersByName[name] = l
		layerOrder = append(layerOrder, name)
		return l
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "topdir":
			if s, ok := firstStringArg(n); ok {
				cfg.TopDir = s
			}
		case "bbpath":
			cfg.BBPath = append(cfg.BBPath, collectStringArgs(n)...)
		case "bbfiles":
			cfg.BBFiles = append(cfg.BBFiles, collectStringArgs(n)...)
		case "bbmask":
			if s, ok := firstStringArg(n); ok {
				cfg.BBMask = s
			}
		case "default_task":
			if s, ok := firstStringArg(n); ok {
				cfg.DefaultTask = s
			}
		case "num_parse_threads":
			if v, ok := firstIntArg(n); ok {
				cfg.NumParseThreads = v
			}
		case "nice_level":
			if v, ok := firstIntArg(n); ok {
				cfg.NiceLevel = v
			}
		case "verbose_logs":
			if b, ok := firstBoolArg(n); ok {
				cfg.VerboseLogs = b
			}
		case "dangling_appends_warn_only":
			if b, ok := firstBoolArg(n); ok {
				cfg.DanglingAppendsWarnOnly = b
			}
		case "assume_provided":
			cfg.AssumeProvided = append(cfg.AssumeProvided, collectStringArgs(n)...)
		case "preferred_providers":
			if cfg.PreferredProviders == nil {
				cfg.PreferredProviders = map[string]string{}
			}
			for _, cn := range n.Children {
				if providee, ok := firstStringArg(cn); ok {
					cfg.PreferredProviders[nodeName(cn)] = providee
				}
			}
		case "layer":
			name, ok := firstStringArg(n)
			if !ok {
				continue
			}
			cfg.BBFileCollections = append(cfg.BBFileCollections, name)
			l := layerFor(name)
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "pattern":
					if s, ok := firstStringArg(cn); ok {
						l.Pattern = s
					}
				case "priority":
					if v, ok := firstIntArg(cn); ok {
						p := v
						l.ExplicitPriority = &p
					}
				case "version":
					if s, ok := firstStringArg(cn); ok {
						l.Version = s
					}
				case "depends":
					l.Depends = append(l.Depends, collectStringArgs(cn)...)
				}
			}
		}
	}

	for _, name := range layerOrder {
		cfg.Layers = append(cfg.Layers, *layersByName[name])
	}
	return nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if iv, err := strconv.Atoi(v); err == nil {
			return iv, true
		}
	}
	return 0, false
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}
