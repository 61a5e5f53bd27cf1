// Package httpapi is the operator surface: a small JSON API for steering
// the monitor and inspecting its caches.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"igmonitor/pkg/config"
	"igmonitor/pkg/health"
	"igmonitor/pkg/logger"
	"igmonitor/pkg/monitor"
)

// Server serves the operator API.
type Server struct {
	mon        *monitor.Monitor
	supervisor *health.Supervisor
	cfg        *config.Config
	log        logger.Logger
	httpServer *http.Server
}

// New builds the server with its routes mounted.
func New(cfg *config.Config, mon *monitor.Monitor, supervisor *health.Supervisor, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Server{mon: mon, supervisor: supervisor, cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/cache-status", s.handleCacheStatus)
	r.Get("/storage-status", s.handleStorageStatus)

	r.Post("/target", s.handleSetTarget)
	r.Post("/start", s.handleStart)
	r.Post("/stop", s.handleStop)
	r.Post("/trigger", s.handleTrigger)
	r.Post("/cache/validate", s.handleCacheValidate)
	r.Post("/cache/reload", s.handleCacheReload)
	r.Post("/clear", s.handleClearAll)
	r.Post("/clear/{target}", s.handleClear)

	s.httpServer = &http.Server{
		Addr:              cfg.Health.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("operator API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the API gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"supervisor": s.supervisor.Status(),
		"scheduler":  s.mon.Scheduler().Status(),
		"circuit":    s.mon.CircuitStatus(),
	}
	code := http.StatusOK
	if err := s.mon.Store().Ping(r.Context()); err != nil {
		status["store"] = "unreachable: " + err.Error()
		code = http.StatusServiceUnavailable
	} else {
		status["store"] = "ok"
	}
	writeJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Stats())
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	targets, err := s.mon.Store().CacheTargets(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	perTarget := make(map[string]interface{}, len(targets))
	total := 0
	for _, target := range targets {
		entries, err := s.mon.Store().CacheEntries(ctx, target)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		shortcodes := make([]string, len(entries))
		for i, e := range entries {
			shortcodes[i] = e.Shortcode
		}
		perTarget[target] = map[string]interface{}{
			"entries":    len(entries),
			"shortcodes": shortcodes,
		}
		total += len(entries)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"targets":       perTarget,
		"total_entries": total,
	})
}

func (s *Server) handleStorageStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size, err := s.mon.Store().SizeBytes(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := map[string]interface{}{
		"size_bytes": size,
		"size_mb":    float64(size) / (1024 * 1024),
		"limit_mb":   s.cfg.Retention.MaxStorageMB,
	}
	if last, err := s.mon.Store().LastCleanup(ctx); err == nil && last != nil {
		status["last_cleanup"] = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target is required"})
		return
	}
	s.mon.SetTarget(body.Target)
	writeJSON(w, http.StatusOK, map[string]string{"target": body.Target})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Start(context.WithoutCancel(r.Context())); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mon.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "1" || r.URL.Query().Get("force") == "true"
	if !s.mon.Trigger(force) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scheduler not in a triggerable state"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "triggered", "force": force})
}

func (s *Server) handleCacheValidate(w http.ResponseWriter, r *http.Request) {
	reloaded, orphaned, err := s.mon.Store().Reconcile(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": reloaded,
		"orphaned": orphaned,
	})
}

func (s *Server) handleCacheReload(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Store().InvalidateAndReload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	targets, err := s.mon.Store().CacheTargets(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	entries, records := 0, 0
	for _, target := range targets {
		e, p, err := s.mon.ClearTarget(ctx, target)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		entries += e
		records += p
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"targets_cleared": len(targets),
		"cache_entries":   entries,
		"processed_posts": records,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	entries, records, err := s.mon.ClearTarget(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"target":          target,
		"cache_entries":   entries,
		"processed_posts": records,
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
