package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type runRequest struct {
	Days int `json:"days"`
}

// handleTriggerRun starts a run in the background and answers immediately.
// The Redis lock is the real arbiter against concurrent runs; the check here
// only gives the caller an honest 409 instead of a doomed 202.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Days < 0 {
		s.respondWithError(w, http.StatusBadRequest, "days must not be negative")
		return
	}

	active, err := s.registry.RunActive(r.Context())
	if err != nil {
		s.logger.Error("could not check run state", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not check run state")
		return
	}
	if active {
		s.respondWithError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	// The run outlives this request; the wait group lets shutdown drain it
	// instead of killing it mid-transaction.
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.runner.Run(context.Background(), req.Days)
	}()

	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "run accepted"})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last, err := s.registry.LastRun(r.Context())
	if err != nil {
		s.logger.Error("could not load last run", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not load last run")
		return
	}
	if last == nil {
		s.respondWithError(w, http.StatusNotFound, "no runs recorded yet")
		return
	}
	s.respondWithJSON(w, http.StatusOK, last)
}

func (s *Server) handleRecordLookup(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	row, err := s.records.FetchFirst(r.Context(), externalID)
	if err != nil {
		s.logger.Error("record lookup failed",
			zap.String("external_id", externalID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "could not look up record")
		return
	}
	if row == nil {
		s.respondWithError(w, http.StatusNotFound, "no record for id "+externalID)
		return
	}
	s.respondWithJSON(w, http.StatusOK, row)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.postgres.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redis.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" || healthStatus["redis"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
