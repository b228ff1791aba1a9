package password

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authority_password_op_duration_seconds",
		Help:    "Duration of bcrypt operations by kind.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"})

	poolInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "authority_password_pool_in_flight",
		Help: "bcrypt operations currently holding a worker slot.",
	})
)
