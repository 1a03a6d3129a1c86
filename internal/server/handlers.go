package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/userstate"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req engine.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, r, apierr.Invalid("invalid json"))
		return
	}

	resp, err := s.svc.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.svc.Reset(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    userID,
		"status":    "reset",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	stats, err := s.svc.Statistics(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":     userID,
		"statistics": stats,
		"timestamp":  time.Now(),
	})
}

func (s *Server) handleEmotionHistory(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", userstate.DefaultHistoryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.EmotionHistory(r.Context(), chi.URLParam(r, "userID"), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(out))
}

func (s *Server) handleStageTrajectory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", userstate.DefaultTrajectoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.StageTrajectory(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(out))
}

func (s *Server) handleInteractionSummary(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", userstate.DefaultInteractionLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.InteractionSummary(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(out))
}

func (s *Server) handleStageAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.StageAnalysis(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a.RecentStages = list(a.RecentStages)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Overview(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o.Emotions = list(o.Emotions)
	o.Trajectory = list(o.Trajectory)
	o.Interactions = list(o.Interactions)
	if o.Analysis != nil {
		o.Analysis.RecentStages = list(o.Analysis.RecentStages)
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}
