package extractor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snow_rows_extracted_total",
		Help: "Total rows written to output tables",
	}, []string{"table"})

	columnsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snow_columns",
		Help: "Column counts of the last run by kind (output, pruned, retained)",
	}, []string{"table", "kind"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snow_run_duration_seconds",
		Help:    "Duration of extraction runs by outcome",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"outcome"})
)
