package ipc

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps an HTTP server with engine-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Routes(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: srv}
}

// Routes builds the API mux.
func Routes(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Guard pipeline.
	mux.HandleFunc("GET /api/v1/guards", h.Guards)
	mux.HandleFunc("POST /api/v1/validate", h.Validate)

	// Policy guard.
	mux.HandleFunc("POST /api/v1/operations/check", h.CheckOperation)
	mux.HandleFunc("POST /api/v1/operations/log", h.LogOperation)
	mux.HandleFunc("POST /api/v1/violations", h.ReportViolation)
	mux.HandleFunc("GET /api/v1/cycles/{operationID}", h.GetCycle)
	mux.HandleFunc("POST /api/v1/cycles/{operationID}/steps", h.RecordStep)
	mux.HandleFunc("POST /api/v1/cycles/{operationID}/complete", h.CompleteCycle)
	mux.HandleFunc("POST /api/v1/cycles/{operationID}/compliance", h.Compliance)

	// Phase engine.
	mux.HandleFunc("POST /api/v1/workflows", h.InitTask)
	mux.HandleFunc("GET /api/v1/workflows", h.ListTasks)
	mux.HandleFunc("GET /api/v1/workflows/{taskID}", h.GetTask)
	mux.HandleFunc("POST /api/v1/workflows/{taskID}/transition", h.Transition)
	mux.HandleFunc("POST /api/v1/workflows/{taskID}/archive", h.Archive)
	mux.HandleFunc("POST /api/v1/workflows/{taskID}/artifacts", h.AddArtifact)
	mux.HandleFunc("GET /api/v1/workflows/{taskID}/artifacts", h.ListArtifacts)
	mux.HandleFunc("GET /api/v1/workflows/{taskID}/report", h.Report)
	mux.HandleFunc("GET /api/v1/workflows/{taskID}/visualize", h.Visualize)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}

	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return accessLog(logger, corsMiddleware(h.AllowedOrigins, mux))
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// corsMiddleware admits browser requests only from the allowed origins.
// Requests without an Origin header (CLI tools, agents) pass through;
// requests from any other origin are refused before reaching a handler.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !set[origin] {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
