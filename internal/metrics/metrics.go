package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

var (
	EngineOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weightage",
		Name:      "engine_operations_total",
		Help:      "Weight engine operations by outcome.",
	}, []string{"operation", "outcome"})

	StaleSelections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "weightage",
		Name:      "stale_selections",
		Help:      "Selections whose referenced SLO was not found on the last sweep.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "weightage",
		Name:      "sweep_duration_seconds",
		Help:      "Time taken by one stale reference sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Outcome labels an engine result for EngineOperations.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, weighting.ErrInvalidWeight):
		return "invalid_weight"
	case errors.Is(err, weighting.ErrIndexOutOfRange):
		return "index_out_of_range"
	case errors.Is(err, weighting.ErrDuplicateSelection):
		return "duplicate"
	default:
		return "error"
	}
}

func ObserveEngine(operation string, err error) {
	EngineOperations.WithLabelValues(operation, Outcome(err)).Inc()
}
