package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_memory_bytes",
		Help: "Current system memory usage",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_goroutines",
		Help: "Number of goroutines",
	})

	// Extraction metrics
	ExtractionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_errors_total",
			Help: "Total number of extraction errors",
		},
		[]string{"op", "transient"},
	)

	// Graph metrics
	GraphEntityCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graph_entities_total",
			Help: "Total number of entities in the graph",
		},
		[]string{"entity_type"},
	)

	GraphFactCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graph_facts_total",
			Help: "Total number of facts in the graph",
		},
		[]string{"relation"},
	)

	EntityMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entity_merges_total",
		Help: "Number of entity pairs merged after resolution",
	})
)

// UpdateSystemMetrics updates system-level metrics
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
