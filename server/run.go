// Copyright 2025 SQL Studio Contributors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server wires the HTTP surface of the query service: routing,
// authentication, rate limiting, body caps, CORS, metrics, and graceful
// shutdown. All dependencies are injected through New so the handlers are
// testable against fakes.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sqlstudio/backend/config"
	"sqlstudio/backend/dbpool"
	"sqlstudio/backend/query"
	"sqlstudio/backend/shared/logger"
)

// maxBodyBytes caps request bodies at 10MB
const maxBodyBytes = 10 << 20

// Server is the HTTP front end of the query service
type Server struct {
	cfg      *config.Config
	executor QueryExecutor
	pools    ConnectionPools
	limiter  RateLimiter
	auth     AuthProvider
	log      *logger.Logger

	ready atomic.Bool
}

// New constructs a server from its dependencies. Passing nil for limiter or
// auth selects the in-memory limiter and no-op auth respectively.
func New(cfg *config.Config, executor QueryExecutor, pools ConnectionPools, limiter RateLimiter, auth AuthProvider, lg *logger.Logger) *Server {
	if limiter == nil {
		limiter = NewMemoryRateLimiter(rateLimitMax, rateLimitWindow)
	}
	if auth == nil {
		auth = NoopAuth{}
	}
	if lg == nil {
		lg = logger.New("http-server")
	}
	return &Server{
		cfg:      cfg,
		executor: executor,
		pools:    pools,
		limiter:  limiter,
		auth:     auth,
		log:      lg,
	}
}

// BuildFromConfig assembles the standard production wiring: pooled
// connections, the query executor, Redis rate limiting when REDIS_URL is
// set, and JWT auth when a secret is configured.
func BuildFromConfig(cfg *config.Config) *Server {
	pools := dbpool.NewManager()
	executor := query.NewExecutor(pools, logger.New("query-executor"), cfg.MaxQueryTimeout, cfg.MaxResultRows)

	var limiter RateLimiter
	if cfg.RedisURL != "" {
		rl, err := NewRedisRateLimiter(cfg.RedisURL, rateLimitMax, rateLimitWindow)
		if err != nil {
			log.Printf("⚠️  Redis rate limiter unavailable, falling back to in-memory: %v", err)
		} else {
			log.Printf("✅ Redis connected: %s", cfg.RedisURL)
			limiter = rl
		}
	}

	var auth AuthProvider
	if cfg.JWTSecret != "" {
		auth = NewJWTAuth(cfg.JWTSecret)
	}

	return New(cfg, executor, pools, limiter, auth, logger.New("http-server"))
}

// Router builds the full route table with middleware applied
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.bodyLimitMiddleware, s.rateLimitMiddleware, s.authMiddleware, s.metricsMiddleware)

	api.HandleFunc("/connection/test", s.handleConnectionTest).Methods("POST")
	api.HandleFunc("/connection/schema", s.handleConnectionSchema).Methods("POST")
	api.HandleFunc("/query/execute", s.handleQueryExecute).Methods("POST")
	api.HandleFunc("/query/cancel", s.handleQueryCancel).Methods("POST")
	api.HandleFunc("/query/validate", s.handleQueryValidate).Methods("POST")
	api.HandleFunc("/pool/stats", s.handlePoolStats).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return corsHandler.Handler(r)
}

// Run starts the server and blocks until SIGINT/SIGTERM, then drains
// in-flight requests and tears down every pool
func (s *Server) Run() error {
	addr := net.JoinHostPort("", s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute, // long-running queries stream through here
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 SQL Studio backend starting on port %s", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Routes are registered before ListenAndServe, so the service is ready
	// as soon as the listener is up
	s.ready.Store(true)
	log.Println("✅ All routes registered - service ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		log.Printf("Received %v, shutting down", sig)
	}

	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	s.pools.CloseAll()
	log.Println("Shutdown complete")
	return nil
}

// handleHealth reports liveness plus readiness state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]interface{}{
		"status":  status,
		"service": "sqlstudio-backend",
		"version": "1.0.0",
	}})
}

// SetReady overrides readiness state; exposed for tests
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// bodyLimitMiddleware caps request bodies so oversized payloads fail fast
func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces the per-IP sliding window on API routes
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			// Limiter errors fail open
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			rateLimitedTotal.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware rejects requests the auth provider does not accept
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request counts and latency per route
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientIP extracts the originating client address, preferring the
// X-Forwarded-For header set by the load balancer
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First address in the list is the original client
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
