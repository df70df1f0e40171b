package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the link state reported by /ready
type Status struct {
	Backend     string `json:"backend"`
	Mode        string `json:"mode"`
	Initialized bool   `json:"initialized"`
}

// StatusFunc returns a snapshot of the link state. It is called from HTTP
// handler goroutines.
type StatusFunc func() Status

// NewRouter serves /metrics from gatherer plus /health and /ready
func NewRouter(path string, gatherer prometheus.Gatherer, status StatusFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())

	if path == "" {
		path = "/metrics"
	}
	r.GET(path, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		s := status()
		code := http.StatusOK
		if !s.Initialized {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":  s.Initialized,
			"status": s,
		})
	})

	return r
}
