package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/ingest"
	"mail-archiver-go/internal/repository"
)

const healthTimeout = 3 * time.Second

// Ingester accepts raw inbound emails
type Ingester interface {
	Handle(ctx context.Context, raw []byte) (*ingest.Result, error)
}

// SweepScheduler controls the recovery sweep
type SweepScheduler interface {
	Start() error
	Stop() error
	RunOnce(ctx context.Context) (int, error)
	IsRunning() bool
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Pinger reports whether a backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	ingester     Ingester
	ledger       repository.Ledger
	scheduler    SweepScheduler
	queue        Pinger
	metrics      http.Handler
	health       healthcheck.Handler
	maxBodyBytes int64
}

// NewHandlers creates new HTTP handlers. A nil metrics handler serves the
// default Prometheus registry.
func NewHandlers(ingester Ingester, ledger repository.Ledger, scheduler SweepScheduler, queue Pinger, metrics http.Handler, maxBodyBytes int64) *Handlers {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	h := &Handlers{
		ingester:     ingester,
		ledger:       ledger,
		scheduler:    scheduler,
		queue:        queue,
		metrics:      metrics,
		health:       healthcheck.NewHandler(),
		maxBodyBytes: maxBodyBytes,
	}
	h.addChecks()
	return h
}

func (h *Handlers) addChecks() {
	h.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	h.health.AddReadinessCheck("database", pingCheck(h.ledger))
	h.health.AddReadinessCheck("queue", pingCheck(h.queue))
}

func pingCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		defer cancel()
		return p.Ping(ctx)
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/live", gin.WrapF(h.health.LiveEndpoint))
	router.GET("/ready", gin.WrapF(h.health.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(h.metrics))

	router.POST(WebhookPath, h.InboundWebhook)

	api := router.Group("/api/v1")
	{
		api.GET("/emails", h.GetEmails)
		api.GET("/emails/*id", h.GetEmail)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Queue:     "ok",
		Scheduler: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.ledger.Ping(ctx); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if err := h.queue.Ping(ctx); err != nil {
		response.Status = "error"
		response.Queue = "error"
		logrus.Errorf("Queue health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Scheduler["status"] = "running"
		response.Scheduler["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
	} else {
		response.Scheduler["status"] = "stopped"
	}
	if last := h.scheduler.GetLastRun(); !last.IsZero() {
		response.Scheduler["last_run"] = last.Format(time.RFC3339)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}
