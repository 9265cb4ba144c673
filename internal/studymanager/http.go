package studymanager

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"studycore/internal/adapters/exports"
	"studycore/internal/observability"
	"studycore/internal/rpc"
	"studycore/pkg/domain"
)

// maxWorkers middleware bounds concurrent request handling. Requests beyond
// the bound queue on the semaphore; clients see latency, not errors.
func maxWorkers(n int) gin.HandlerFunc {
	sem := make(chan struct{}, n)
	return func(c *gin.Context) {
		sem <- struct{}{}
		defer func() { <-sem }()
		c.Next()
	}
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsAlreadyExists(err):
		return http.StatusConflict
	case domain.IsInvalidState(err):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), rpc.ErrorBody{Error: err.Error()})
}

// RouterConfig carries the optional collaborators of the HTTP surface.
type RouterConfig struct {
	// Workers bounds concurrent request handling; zero keeps the default.
	Workers int
	// Metrics, when a Prometheus recorder, is served on /metrics.
	Metrics observability.MetricsRecorder
	// Exports enables the study archive endpoints when set.
	Exports *exports.Worker
}

const defaultWorkers = 30

// Router builds the study manager's HTTP surface.
func Router(svc *Service, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connected": svc.Connected()})
	})
	if prom, ok := cfg.Metrics.(*observability.PrometheusMetricsRecorder); ok {
		r.GET("/metrics", gin.WrapH(prom.Handler()))
	}

	api := r.Group("/api/v1", maxWorkers(workers))

	api.POST("/connect", func(c *gin.Context) {
		var req rpc.ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Endpoint == "" {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "endpoint required"})
			return
		}
		svc.Connect(rpc.NewExecutorClient(req.Endpoint))
		c.JSON(http.StatusOK, gin.H{})
	})

	api.POST("/studies", func(c *gin.Context) {
		var study domain.Study
		if err := c.ShouldBindJSON(&study); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		created, err := svc.CreateStudy(c.Request.Context(), study)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	})
	api.GET("/studies", func(c *gin.Context) {
		owner := c.Query("owner")
		if owner == "" {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "owner query parameter required"})
			return
		}
		studies, err := svc.ListStudies(c.Request.Context(), owner)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"studies": studies})
	})
	api.GET("/studies/:owner/:study", func(c *gin.Context) {
		study, err := svc.GetStudy(c.Request.Context(), c.Param("owner"), c.Param("study"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, study)
	})
	api.DELETE("/studies/:owner/:study", func(c *gin.Context) {
		if err := svc.DeleteStudy(c.Request.Context(), c.Param("owner"), c.Param("study")); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})

	api.POST("/studies/:owner/:study/trials", func(c *gin.Context) {
		var trial domain.Trial
		if err := c.ShouldBindJSON(&trial); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		created, err := svc.CreateTrial(c.Request.Context(), c.Param("owner"), c.Param("study"), trial)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	})
	api.GET("/studies/:owner/:study/trials", func(c *gin.Context) {
		trials, err := svc.ListTrials(c.Request.Context(), c.Param("owner"), c.Param("study"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, rpc.TrialListResponse{Trials: trials})
	})
	api.GET("/studies/:owner/:study/trials/:trial", func(c *gin.Context) {
		trialID, err := strconv.ParseInt(c.Param("trial"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "invalid trial id"})
			return
		}
		trial, err := svc.GetTrial(c.Request.Context(), c.Param("owner"), c.Param("study"), trialID)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, trial)
	})
	api.POST("/studies/:owner/:study/trials/:trial/measurements", func(c *gin.Context) {
		trialID, err := strconv.ParseInt(c.Param("trial"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "invalid trial id"})
			return
		}
		var m domain.Measurement
		if err := c.ShouldBindJSON(&m); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		trial, err := svc.AddMeasurement(c.Request.Context(), c.Param("owner"), c.Param("study"), trialID, m)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, trial)
	})
	api.POST("/studies/:owner/:study/trials/:trial/complete", func(c *gin.Context) {
		trialID, err := strconv.ParseInt(c.Param("trial"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "invalid trial id"})
			return
		}
		var body struct {
			FinalMeasurement *domain.Measurement `json:"final_measurement"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		trial, err := svc.CompleteTrial(c.Request.Context(), c.Param("owner"), c.Param("study"), trialID, body.FinalMeasurement)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, trial)
	})
	api.POST("/studies/:owner/:study/trials/:trial/earlystopping", func(c *gin.Context) {
		trialID, err := strconv.ParseInt(c.Param("trial"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: "invalid trial id"})
			return
		}
		op, err := svc.CheckTrialEarlyStoppingState(c.Request.Context(), c.Param("owner"), c.Param("study"), trialID)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	})

	api.POST("/studies/:owner/:study/suggest", func(c *gin.Context) {
		var body struct {
			ClientID string `json:"client_id"`
			Count    int    `json:"count"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		op, err := svc.SuggestTrials(c.Request.Context(), c.Param("owner"), c.Param("study"), body.ClientID, body.Count)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	})
	api.GET("/suggestOperations/*name", func(c *gin.Context) {
		op, err := svc.GetSuggestOperation(c.Request.Context(), strings.TrimPrefix(c.Param("name"), "/"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	})
	api.GET("/earlyStoppingOperations/*name", func(c *gin.Context) {
		op, err := svc.GetEarlyStoppingOperation(c.Request.Context(), strings.TrimPrefix(c.Param("name"), "/"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	})

	api.POST("/studies/:owner/:study/metadata", func(c *gin.Context) {
		var body struct {
			StudyEntries []domain.KeyValue      `json:"study_entries"`
			TrialEntries []domain.TrialMetadata `json:"trial_entries"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
			return
		}
		if err := svc.UpdateMetadata(c.Request.Context(), c.Param("owner"), c.Param("study"), body.StudyEntries, body.TrialEntries); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})

	if cfg.Exports != nil {
		api.POST("/studies/:owner/:study/exports", func(c *gin.Context) {
			var body struct {
				Formats []exports.Format `json:"formats"`
			}
			if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
				c.JSON(http.StatusBadRequest, rpc.ErrorBody{Error: err.Error()})
				return
			}
			record, err := cfg.Exports.Enqueue(c.Request.Context(), exports.Input{
				Owner:   c.Param("owner"),
				StudyID: c.Param("study"),
				Formats: body.Formats,
			})
			if err != nil {
				abortWith(c, err)
				return
			}
			c.JSON(http.StatusAccepted, record)
		})
		api.GET("/exports/:id", func(c *gin.Context) {
			record, ok := cfg.Exports.Get(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, rpc.ErrorBody{Error: "export not found"})
				return
			}
			c.JSON(http.StatusOK, record)
		})
	}

	return r
}
