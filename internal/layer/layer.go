// Package layer resolves the declared layer dependency graph into a
// priority per layer and a compiled filename-pattern matcher per layer.
package layer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/standardbeagle/cooker/internal/config"
)

// Resolved is one compiled, prioritized layer entry.
type Resolved struct {
	Name     string
	Pattern  string
	Regex    *regexp.Regexp
	Priority int
}

// Resolve computes priorities for every layer in cfg.Layers, honoring
// explicit priorities and inheriting max(deps)+1 otherwise, with
// the explicit-priority floor as the base for root layers. Dependency
// cycles are fatal; the error names the full cycle path.
func Resolve(cfg *config.Config) ([]Resolved, error) {
	byName := make(map[string]config.LayerConfig, len(cfg.Layers))
	for _, l := range cfg.Layers {
		byName[l.Name] = l
	}

	var problems []string
	for _, l := range cfg.Layers {
		if l.Pattern == "" {
			problems = append(problems, fmt.Sprintf("missing BBFILE_PATTERN_%s", l.Name))
		}
		for _, dep := range l.Depends {
			name, version := splitDepVersion(dep)
			depLayer, ok := byName[name]
			if !ok {
				problems = append(problems, fmt.Sprintf("layer %q depends on unknown layer %q", l.Name, name))
				continue
			}
			if version == "" {
				continue
			}
			depVer, err := strconv.Atoi(version)
			if err != nil {
				problems = append(problems, fmt.Sprintf("invalid version value in LAYERDEPENDS_%s: %q", l.Name, dep))
				continue
			}
			if depLayer.Version == "" {
				problems = append(problems, fmt.Sprintf("layer %q depends on version %d of layer %q, which exists in your configuration but does not specify a version", l.Name, depVer, name))
				continue
			}
			layerVer, err := strconv.Atoi(depLayer.Version)
			if err != nil {
				problems = append(problems, fmt.Sprintf("invalid value for LAYERVERSION_%s: %q", name, depLayer.Version))
				continue
			}
			if layerVer != depVer {
				problems = append(problems, fmt.Sprintf("layer %q depends on version %d of layer %q, but version %d is enabled in your configuration", l.Name, depVer, name, layerVer))
			}
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("layer configuration errors: %s", strings.Join(problems, "; "))
	}

	// minPriority is the floor for layers that declare no priority of
	// their own: the minimum of every explicitly declared
	// BBFILE_PRIORITY_<L>, or 0 if none are set.
	minPriority := 0
	haveExplicit := false
	for _, l := range cfg.Layers {
		if l.ExplicitPriority != nil && (!haveExplicit || *l.ExplicitPriority < minPriority) {
			minPriority = *l.ExplicitPriority
			haveExplicit = true
		}
	}

	priorities := make(map[string]int, len(cfg.Layers))
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(cfg.Layers))
	var path []string

	var visit func(name string) (int, error)
	visit = func(name string) (int, error) {
		if p, ok := priorities[name]; ok {
			return p, nil
		}
		switch color[name] {
		case gray:
			cycle := append(append([]string{}, path...), name)
			return 0, fmt.Errorf("cycle detected in LAYERDEPENDS: %s", strings.Join(cycle, " -> "))
		case black:
			return priorities[name], nil
		}
		color[name] = gray
		path = append(path, name)
		defer func() { path = path[:len(path)-1] }()

		l := byName[name]
		if l.ExplicitPriority != nil {
			priorities[name] = *l.ExplicitPriority
			color[name] = black
			return priorities[name], nil
		}
		maxDepPrio := minPriority
		for _, dep := range l.Depends {
			depName, _ := splitDepVersion(dep)
			p, err := visit(depName)
			if err != nil {
				return 0, err
			}
			if p > maxDepPrio {
				maxDepPrio = p
			}
		}
		priorities[name] = maxDepPrio + 1
		color[name] = black
		return priorities[name], nil
	}

	for _, l := range cfg.Layers {
		if _, err := visit(l.Name); err != nil {
			return nil, err
		}
	}

	out := make([]Resolved, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		re, err := regexp.Compile(l.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid BBFILE_PATTERN_%s %q: %w", l.Name, l.Pattern, err)
		}
		out = append(out, Resolved{Name: l.Name, Pattern: l.Pattern, Regex: re, Priority: priorities[l.Name]})
	}

	// Sort by (priority desc, name) so downstream consumers get a
	// deterministic ordering regardless of input layer order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func splitDepVersion(dep string) (name, version string) {
	if idx := strings.Index(dep, ":"); idx >= 0 {
		return dep[:idx], dep[idx+1:]
	}
	return dep, ""
}

// PriorityFor returns the priority of the first layer whose pattern
// matches filename, or 0 if none match. Resolve returns layers ordered
// by descending priority, so "first match" and "highest-priority match"
// coincide: a file matched by two layers' patterns resolves to the
// higher of the two priorities.
func PriorityFor(layers []Resolved, filename string) (priority int, matched *Resolved) {
	for i := range layers {
		if layers[i].Regex.MatchString(filename) {
			return layers[i].Priority, &layers[i]
		}
	}
	return 0, nil
}
