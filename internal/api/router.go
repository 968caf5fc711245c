// Package api exposes the lead engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/dispatch"
	"github.com/sells-group/lead-engine/internal/importer"
	"github.com/sells-group/lead-engine/internal/ingest"
	"github.com/sells-group/lead-engine/internal/match"
	"github.com/sells-group/lead-engine/internal/merge"
	"github.com/sells-group/lead-engine/internal/store"
)

// Handlers holds the services the routes call.
type Handlers struct {
	Store      store.Store
	Ingest     *ingest.Service
	Resolver   *match.Resolver
	Merger     *merge.Consolidator
	Importer   *importer.Importer
	Dispatcher *dispatch.Dispatcher
	Scoring    config.ScoringConfig
	Gatherer   prometheus.Gatherer
}

// NewRouter builds the HTTP routes.
func NewRouter(h *Handlers, srv config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := srv.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerActorID, headerActorRole},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	gatherer := h.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/signals", h.ingestSignal)
			r.Post("/resolve", h.resolve)

			r.Get("/leads", h.listLeads)
			r.Get("/leads/{id}", h.getLead)
			r.Get("/leads/{id}/events", h.listEvents)
			r.Post("/leads/{id}/investments", h.recordInvestment)

			r.Get("/duplicates", h.duplicates)
			r.Post("/merges", h.merge)

			r.Post("/imports/check", h.importCheck)
			r.Post("/imports", h.importRows)

			r.Post("/batches", h.createBatch)
			r.Post("/batches/{id}/sent", h.markBatchSent)
		})

		r.Get("/destinations", h.listDestinations)
		r.Post("/destinations", h.upsertDestination)
		r.Get("/deliveries", h.listDeliveries)
		r.Post("/deliveries/{id}/replay", h.replayDelivery)
	})

	return r
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
