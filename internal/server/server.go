package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/pipeline-approval-relay/internal/engine"
	"github.com/xela07ax/pipeline-approval-relay/internal/infra/auth"
	"github.com/xela07ax/pipeline-approval-relay/internal/server/handler"
)

// Server is the HTTP trigger of the relay (local runs, chat-ops webhooks).
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	validator     auth.TokenValidator
	requiredScope string
	gatherer      prometheus.Gatherer

	approvalHandler *handler.ApprovalHandler // /v1/approvals
	freezeHandler   *handler.FreezeHandler   // /v1/freezes, nil without Redis
}

func New(
	logger *zap.Logger,
	validator auth.TokenValidator,
	requiredScope string,
	gatherer prometheus.Gatherer,
	approvalH *handler.ApprovalHandler,
	freezeH *handler.FreezeHandler,
) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		logger:          logger.Named("http"),
		validator:       validator,
		requiredScope:   requiredScope,
		gatherer:        gatherer,
		approvalHandler: approvalH,
		freezeHandler:   freezeH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// public
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// RS256 bearer token with the approval scope
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.requiredScope, s.logger))

		r.Post("/v1/approvals", s.approvalHandler.Decide)
		if s.freezeHandler != nil {
			r.Mount("/v1/freezes", s.freezeHandler.Routes())
		}
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
