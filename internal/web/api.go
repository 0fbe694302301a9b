package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mtzanidakis/sminos/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agent directory
	mux.HandleFunc("GET /api/agents", s.listAgents)

	// Swarms
	mux.HandleFunc("GET /api/swarms", s.listSwarms)
	mux.HandleFunc("POST /api/swarms", s.createSwarm)
	mux.HandleFunc("GET /api/swarms/{id}", s.getSwarm)
	mux.HandleFunc("DELETE /api/swarms/{id}", s.dissolveSwarm)
	mux.HandleFunc("GET /api/swarms/{id}/health", s.getSwarmHealth)
	mux.HandleFunc("GET /api/swarms/{id}/health/history", s.getSwarmHealthHistory)
	mux.HandleFunc("POST /api/swarms/{id}/handoff", s.handoff)
	mux.HandleFunc("POST /api/swarms/{id}/results", s.addResult)
	mux.HandleFunc("POST /api/swarms/{id}/messages", s.recordMessage)
	mux.HandleFunc("PUT /api/swarms/{id}/status", s.updateSwarmStatus)
	mux.HandleFunc("PUT /api/swarms/{id}/subtasks/{subtaskId}", s.updateSubTask)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.directory.List(r.URL.Query().Get("user"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []swarm.SwarmCapableAgent{}
	}
	jsonResponse(w, agents)
}

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.orch.GetActiveSessionsForUser(r.URL.Query().Get("user"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*swarm.SwarmSession{}
	}
	jsonResponse(w, sessions)
}

func (s *Server) createSwarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string            `json:"user_id"`
		Task   swarm.ComplexTask `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Task.Description == "" {
		jsonError(w, "task description is required", http.StatusBadRequest)
		return
	}

	session, err := s.orch.FormSwarm(r.Context(), body.Task, body.UserID)
	if errors.Is(err, swarm.ErrNoSuitableAgents) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, session)
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	session, err := s.orch.GetSession(r.PathValue("id"))
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, session)
}

func (s *Server) dissolveSwarm(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.orch.DissolveSwarm(r.Context(), r.PathValue("id"))
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"status": "dissolved", "metrics": metrics})
}

func (s *Server) getSwarmHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.MonitorSwarmHealth(r.PathValue("id"))
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, report)
}

func (s *Server) getSwarmHealthHistory(w http.ResponseWriter, r *http.Request) {
	history := s.orch.HealthHistory(r.PathValue("id"))
	if history == nil {
		history = []swarm.SwarmHealthReport{}
	}
	jsonResponse(w, history)
}

func (s *Server) handoff(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FromAgentID string          `json:"from_agent_id"`
		ToAgentID   string          `json:"to_agent_id"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.FromAgentID == "" || body.ToAgentID == "" {
		jsonError(w, "from_agent_id and to_agent_id are required", http.StatusBadRequest)
		return
	}

	msg, err := s.orch.CoordinateAgentHandoff(r.Context(), r.PathValue("id"), body.FromAgentID, body.ToAgentID, body.Payload)
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, msg)
}

func (s *Server) addResult(w http.ResponseWriter, r *http.Request) {
	var result swarm.SwarmResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.orch.AddResult(r.PathValue("id"), result)
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) recordMessage(w http.ResponseWriter, r *http.Request) {
	var msg swarm.AgentMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.orch.RecordMessage(r.PathValue("id"), msg)
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) updateSwarmStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status swarm.SessionStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.orch.UpdateSessionStatus(r.PathValue("id"), body.Status)
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, swarm.ErrSessionTerminal) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) updateSubTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status swarm.SubTaskStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.orch.UpdateSubTask(r.PathValue("id"), r.PathValue("subtaskId"), body.Status)
	if errors.Is(err, swarm.ErrSessionNotFound) {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.bus != nil {
		status["nats_clients"] = s.bus.NumClients()
	}
	jsonResponse(w, status)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
