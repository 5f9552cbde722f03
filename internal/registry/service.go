package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"operator/internal/dispatcher"
	"operator/internal/logging"
)

// Service serves the dispatcher HTTP endpoints over a Registry.
type Service struct {
	registry *Registry
	logger   logging.Logger
}

func NewService(reg *Registry, logger logging.Logger) *Service {
	if reg == nil {
		reg = New()
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{registry: reg, logger: logger}
}

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+dispatcher.RegisterPath, s.handleRegister)
	mux.HandleFunc("POST "+dispatcher.HeartbeatPath, s.handleHeartbeat)
	mux.HandleFunc("GET /api/v1/workers", s.handleWorkers)
	mux.HandleFunc("GET /api/v1/workers/{id}", s.handleWorkerByID)
	return mux
}

// RunCleanup periodically drops stale workers until stop is closed.
func (s *Service) RunCleanup(interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := s.registry.CleanupStale(maxAge); removed > 0 {
				s.logger.Infof("Cleaned up %d stale workers", removed)
			}
		}
	}
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var info dispatcher.WorkerInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.registry.Register(info); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Infof("Worker registered node_id=%s outer_url=%s models=%v", info.NodeID, info.OuterURL, info.AIModels)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var info dispatcher.WorkerInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.registry.Heartbeat(info); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnknownWorker) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	s.logger.Debugf("Heartbeat node_id=%s", info.NodeID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.registry.List(r.URL.Query().Get("model"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"total":   len(workers),
	})
}

func (s *Service) handleWorkerByID(w http.ResponseWriter, r *http.Request) {
	worker, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
