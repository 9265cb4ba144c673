package executor

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studycore/internal/observability"
	"studycore/internal/rpc"
)

// Router builds the executor's HTTP surface. The metrics recorder is optional;
// when it is a Prometheus recorder its registry is served on /metrics.
func Router(svc *Service, metrics observability.MetricsRecorder) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connected": svc.Connected()})
	})
	if prom, ok := metrics.(*observability.PrometheusMetricsRecorder); ok {
		r.GET("/metrics", gin.WrapH(prom.Handler()))
	}

	api := r.Group("/api/v1")
	api.POST("/suggest", func(c *gin.Context) {
		var req rpc.SuggestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, svc.Suggest(c.Request.Context(), req))
	})
	api.POST("/earlystop", func(c *gin.Context) {
		var req rpc.EarlyStopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, svc.EarlyStop(c.Request.Context(), req))
	})
	api.POST("/connect", func(c *gin.Context) {
		var req rpc.ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Endpoint == "" {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "endpoint required"})
			return
		}
		svc.Connect(rpc.NewStudyManagerClient(req.Endpoint))
		c.JSON(http.StatusOK, gin.H{})
	})
	return r
}
