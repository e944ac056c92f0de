package schedule

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slotplanner_runs_total",
		Help: "Planning runs by outcome.",
	}, []string{"outcome"})
	partsPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slotplanner_parts_placed_total",
		Help: "Task parts placed into slots.",
	})
	rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slotplanner_rejections_total",
		Help: "Tasks or task remainders that could not be placed, by reason.",
	}, []string{"reason"})
)

func init() { prometheus.MustRegister(runsTotal, partsPlaced, rejections) }
