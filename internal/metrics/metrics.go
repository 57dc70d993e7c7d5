// Package metrics exposes the parser pool's counters via
// prometheus/client_golang: one counter per outcome kind, registered
// once and incremented from the hot path.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ParseMetrics counts parse outcomes by kind.
type ParseMetrics struct {
	Cached  prometheus.Counter
	Parsed  prometheus.Counter
	Skipped prometheus.Counter
	Masked  prometheus.Counter
	Errors  prometheus.Counter
}

// NewParseMetrics builds and registers a ParseMetrics against reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func NewParseMetrics(reg prometheus.Registerer) *ParseMetrics {
	m := &ParseMetrics{
		Cached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooker", Subsystem: "parser", Name: "cached_total",
			Help: "Recipes served from the on-disk parse cache.",
		}),
		Parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooker", Subsystem: "parser", Name: "parsed_total",
			Help: "Recipes parsed fresh.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooker", Subsystem: "parser", Name: "skipped_total",
			Help: "Recipes whose RecipeInfo reported skipped=true.",
		}),
		Masked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooker", Subsystem: "parser", Name: "masked_total",
			Help: "Recipe files excluded by BBMASK before parsing.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cooker", Subsystem: "parser", Name: "errors_total",
			Help: "Parse attempts that produced a ParseFailure.",
		}),
	}
	reg.MustRegister(m.Cached, m.Parsed, m.Skipped, m.Masked, m.Errors)
	return m
}
