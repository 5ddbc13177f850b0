// Package httpapi exposes the custody service over HTTP/JSON using gin.
package httpapi

import (
	"expvar"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"herbtrace/internal/core"
)

// ServiceName labels the server spans.
const ServiceName = "herbtrace"

// Options configures NewRouter. Service is required; everything else is
// optional.
type Options struct {
	Service     *core.Service
	Logger      core.Logger
	CORSOrigins []string
	// Gatherer backs GET /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	// Expvar mounts GET /debug/vars.
	Expvar bool
	// TracerProvider enables server spans; nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	var otelOpts []otelgin.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(opts.TracerProvider))
	}
	r.Use(otelgin.Middleware(ServiceName, otelOpts...))
	r.Use(RequestID())
	r.Use(RequestLogger(opts.Logger))
	if len(opts.CORSOrigins) > 0 {
		r.Use(CORS(opts.CORSOrigins))
	}

	h := &handler{svc: opts.Service}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if opts.Expvar {
		r.GET("/debug/vars", gin.WrapH(expvar.Handler()))
	}

	api := r.Group("/api/v1")
	{
		batches := api.Group("/batches")
		batches.POST("", h.createBatch)
		batches.GET("", h.listBatches)
		batches.GET("/:id", h.getBatch)
		batches.POST("/:id/events", h.submitTransition)
		batches.GET("/:id/ledger", h.getLedger)
		batches.GET("/:id/timeline", h.getTimeline)
		batches.POST("/:id/token", h.issueToken)
		batches.POST("/:id/exports", h.exportLedger)
		batches.GET("/:id/exports", h.listExports)

		api.GET("/verify/:token", h.verifyToken)
		api.GET("/plugins", h.listPlugins)
	}
	return r
}
