// Package metrics holds gateway-level Prometheus collectors.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Number of requests rejected by rate limiting.",
	},
	[]string{"route"},
)

func init() { prometheus.MustRegister(RateLimitRejectionsTotal) }

// RejectedOn returns a rate limiter callback counting rejections for route.
func RejectedOn(route string) func(*gin.Context) {
	return func(*gin.Context) {
		RateLimitRejectionsTotal.WithLabelValues(route).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
