// File: internal/infra/web/server.go
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-image-gen/internal/usecase"
)

// Server exposes the vendor webhook, the staged-image proxy the vendor
// fetches inputs from, and a small JWT-guarded admin API.
type Server struct {
	reconciler usecase.ReconcileUseCase
	generator  usecase.GenerationUseCase
	userUC     usecase.UserUseCase
	statsUC    usecase.StatsUseCase
	auth       *AuthManager
	adminToken string
	stagingDir string
	log        *zerolog.Logger
}

func NewServer(
	reconciler usecase.ReconcileUseCase,
	generator usecase.GenerationUseCase,
	userUC usecase.UserUseCase,
	statsUC usecase.StatsUseCase,
	auth *AuthManager,
	adminToken string,
	stagingDir string,
	log *zerolog.Logger,
) *Server {
	return &Server{
		reconciler: reconciler,
		generator:  generator,
		userUC:     userUC,
		statsUC:    statsUC,
		auth:       auth,
		adminToken: adminToken,
		stagingDir: stagingDir,
		log:        log,
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhook/kie", s.handleKieWebhook)
	r.Post("/webhook/freepik", s.handleFreepikWebhook)
	r.Get("/proxy/image/{filename}", s.handleProxyImage)

	r.Post("/api/v1/login", s.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/api/v1/stats", s.handleStats)
		r.Post("/api/v1/users", s.handleRegisterUser)
		r.Post("/api/v1/users/topup", s.handleTopUp)
		r.Post("/api/v1/generate", s.handleGenerate)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProxyImage serves staged input files to the vendor. Filenames are
// generated server-side; anything with a path separator is an attack.
func (s *Server) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	path := filepath.Join(s.stagingDir, name)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

// handleLogin swaps the configured admin token for a short-lived JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if s.adminToken == "" || body.Token != s.adminToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	signed, err := s.auth.Mint()
	if err != nil {
		s.log.Error().Err(err).Msg("jwt mint failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.statsUC.Collect(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stats collection failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Run serves the router until ctx is cancelled, then drains for up to 10s.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
