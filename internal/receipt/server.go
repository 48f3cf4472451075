package receipt

import (
	"log/slog"
	"net/http"
)

// ServerConfig holds the collaborators of the HTTP layer
type ServerConfig struct {
	// Verifier authenticates bearer tokens on every /api route
	Verifier TokenVerifier

	RateLimit RateLimit

	// MetricsHandler is served on GET /metrics when set
	MetricsHandler http.Handler
}

// Server handles HTTP requests for receipts
type Server struct {
	service  *Service
	verifier TokenVerifier
	limiter  *ipRateLimiter
	metrics  http.Handler
	mux      *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, cfg ServerConfig) *Server {
	return NewServerWithMux(service, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, cfg ServerConfig, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		verifier: cfg.Verifier,
		metrics:  cfg.MetricsHandler,
		mux:      mux,
	}
	if cfg.RateLimit.PerSecond > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimit)
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects clients that exceed their token bucket
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.limiter.clientIP(r)
		if !s.limiter.allow(ip) {
			slog.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "too many requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the bearer token into an Identity on the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || s.verifier == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="autobank"`)
			writeError(w, r, ErrUnauthenticated)
			return
		}
		id, err := s.verifier.Verify(token)
		if err != nil {
			slog.Info("Rejected token", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="autobank", error="invalid_token"`)
			writeError(w, r, ErrUnauthenticated)
			return
		}
		next(w, r.WithContext(withIdentity(r.Context(), id)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/auth/user", s.requireAuth(s.handleCurrentUser))
	s.mux.HandleFunc("GET /api/committees", s.requireAuth(s.handleListCommittees))

	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleCreateReceipt))

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns the mux wrapped in the CORS and rate limit middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.rateLimitMiddleware(s.mux))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
