package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// Server es la API de consulta de solo lectura sobre el store del keeper,
// más el endpoint de métricas. No participa en la ejecución.
type Server struct {
	store ports.Storage
	venue ports.VenueClient
	// stableCoin es el ancla USD para valorar trades en /api/yields.
	stableCoin string
	addr       string
}

// New crea el servidor de la API.
func New(addr string, store ports.Storage, venue ports.VenueClient, stableCoin string) *Server {
	return &Server{store: store, venue: venue, stableCoin: stableCoin, addr: addr}
}

// Router monta todas las rutas.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", s.handlePlans)
		r.Get("/trades", s.handleTrades)
		r.Get("/yields", s.handleYields)
		r.Get("/pairs", s.handlePairs)
	})
	return r
}

// Serve arranca el servidor y lo apaga limpiamente al cancelar el contexto.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	slog.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing 'user' address")
		return
	}

	plans, err := s.store.PlansByOwner(r.Context(), user)
	if err != nil {
		slog.Error("plans query failed", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing 'user' address")
		return
	}

	trades, err := s.store.TradesByOwner(r.Context(), user)
	if err != nil {
		slog.Error("trades query failed", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.venue.AllPairs(r.Context())
	if err != nil {
		slog.Error("pairs query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pairs":       pairs,
		"totalPairs":  len(pairs),
		"lastUpdated": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
