// Package metrics defines Prometheus metrics for topograph.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topograph_load_rows_total",
			Help: "Rows processed by the loader by outcome",
		},
		[]string{"mode", "outcome"},
	)

	ElementsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topograph_elements_upserted_total",
			Help: "Elements created or updated by element type",
		},
		[]string{"element_type", "op"},
	)

	ElementsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topograph_elements_deleted_total",
			Help: "Elements deleted by element type",
		},
		[]string{"element_type"},
	)

	PlanetSlides = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topograph_planet_slides_total",
			Help: "Planet assignments by resulting status",
		},
		[]string{"status"},
	)

	PlanetsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "topograph_planets_removed_total",
			Help: "Planets deleted after losing their last member",
		},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topograph_batch_duration_seconds",
			Help:    "Load batch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	ExportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "topograph_export_duration_seconds",
			Help:    "Export pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExportLineages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topograph_export_lineages",
			Help: "Lineages emitted by the last export pass",
		},
	)

	SchemaVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topograph_schema_version",
			Help: "Version of the published schema snapshot",
		},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topograph_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		RowsTotal, ElementsUpserted, ElementsDeleted,
		PlanetSlides, PlanetsRemoved,
		BatchDuration, ExportDuration, ExportLineages,
		SchemaVersion, ErrorsTotal,
	)
}
