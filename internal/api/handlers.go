// Package api provides HTTP handlers for SafeHarbor endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/SafeHarbor-Care/SafeHarbor/internal/models"
)

// deadLetterListLimit bounds the dead-letter inspection endpoint.
const deadLetterListLimit = 200

// inputHandler handles POST /v1/input: the coordinator entry point.
func (s *Server) inputHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.inputHandler: processing input request", "path", r.URL.Path)

	var req models.SubmitInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.inputHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.inputHandler: validation failed", "error", err, "subjectID", req.SubjectID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	decision, err := s.coord.HandleInput(r.Context(), req.SubjectID, req.Source, req.Text)
	if err != nil {
		slog.Error("Server.inputHandler: decision failed", "error", err, "subjectID", req.SubjectID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to assess input"))
		return
	}

	slog.Info("Server.inputHandler: input assessed", "subjectID", req.SubjectID, "riskLevel", decision.RiskLevel, "escalationNeeded", decision.EscalationNeeded)
	writeJSONResponse(w, http.StatusOK, models.Success(decision))
}

// moodHandler handles POST /v1/subjects/{id}/mood.
func (s *Server) moodHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	subjectID := r.PathValue("id")
	slog.Debug("Server.moodHandler: processing mood sample", "subjectID", subjectID)

	var req models.MoodSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.moodHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	update, err := s.coord.RecordMood(r.Context(), subjectID, req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidMoodScore) || errors.Is(err, models.ErrEmptySubjectID) {
			slog.Warn("Server.moodHandler: validation failed", "error", err, "subjectID", subjectID)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.moodHandler: failed to record mood sample", "error", err, "subjectID", subjectID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record mood sample"))
		return
	}

	slog.Info("Server.moodHandler: mood sample recorded", "subjectID", subjectID, "score", update.Score)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Mood sample recorded", update))
}

// getCaseHandler handles GET /v1/cases/{id}.
func (s *Server) getCaseHandler(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	slog.Debug("Server.getCaseHandler: fetching case", "caseID", caseID)

	c, err := s.st.GetCase(caseID)
	if err != nil {
		slog.Error("Server.getCaseHandler: failed to fetch case", "error", err, "caseID", caseID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch case"))
		return
	}
	if c == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Case not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(c))
}

// resolveCaseHandler handles POST /v1/cases/{id}/resolve.
func (s *Server) resolveCaseHandler(w http.ResponseWriter, r *http.Request) {
	s.closeCaseHandler(w, r, false)
}

// cancelCaseHandler handles POST /v1/cases/{id}/cancel. Cancellation is an
// operator override and requires auditable notes.
func (s *Server) cancelCaseHandler(w http.ResponseWriter, r *http.Request) {
	s.closeCaseHandler(w, r, true)
}

func (s *Server) closeCaseHandler(w http.ResponseWriter, r *http.Request, cancel bool) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	caseID := r.PathValue("id")
	action := "resolve"
	if cancel {
		action = "cancel"
	}
	slog.Debug("Server.closeCaseHandler: processing case action", "caseID", caseID, "action", action)

	var req models.CaseActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.closeCaseHandler: failed to decode JSON", "error", err, "caseID", caseID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(cancel); err != nil {
		slog.Warn("Server.closeCaseHandler: validation failed", "error", err, "caseID", caseID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	var c *models.EscalationCase
	var err error
	if cancel {
		c, err = s.engine.Cancel(r.Context(), caseID, req.Notes)
	} else {
		c, err = s.engine.Resolve(r.Context(), caseID, req.Notes)
	}
	if err != nil {
		switch {
		case errors.Is(err, models.ErrCaseNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Case not found"))
		case errors.Is(err, models.ErrCaseTerminal), errors.Is(err, models.ErrInvalidCaseTransition):
			writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		default:
			slog.Error("Server.closeCaseHandler: case action failed", "error", err, "caseID", caseID, "action", action)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update case"))
		}
		return
	}

	slog.Info("Server.closeCaseHandler: case closed", "caseID", caseID, "action", action, "state", c.State)
	writeJSONResponse(w, http.StatusOK, models.Success(c))
}

// subjectCaseHandler handles GET /v1/subjects/{id}/case.
func (s *Server) subjectCaseHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")
	slog.Debug("Server.subjectCaseHandler: fetching active case", "subjectID", subjectID)

	c, err := s.st.GetActiveCase(subjectID)
	if err != nil {
		slog.Error("Server.subjectCaseHandler: failed to fetch active case", "error", err, "subjectID", subjectID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch case"))
		return
	}
	if c == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active case for subject"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(c))
}

// assessmentsHandler handles GET /v1/subjects/{id}/assessments?window=24h.
func (s *Server) assessmentsHandler(w http.ResponseWriter, r *http.Request) {
	subjectID := r.PathValue("id")

	window := DefaultAssessmentWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			slog.Warn("Server.assessmentsHandler: invalid window", "window", raw, "subjectID", subjectID)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid window duration"))
			return
		}
		window = parsed
	}

	assessments, err := s.st.ListAssessments(subjectID, time.Now().Add(-window), 0)
	if err != nil {
		slog.Error("Server.assessmentsHandler: failed to fetch assessments", "error", err, "subjectID", subjectID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch assessments"))
		return
	}

	slog.Debug("Server.assessmentsHandler: assessments fetched", "subjectID", subjectID, "count", len(assessments), "window", window)
	writeJSONResponse(w, http.StatusOK, models.Success(assessments))
}

// resourcesHandler handles GET /v1/resources with an optional level filter.
func (s *Server) resourcesHandler(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("level"); raw != "" {
		level := models.RiskLevel(raw)
		if !models.IsValidRiskLevel(level) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid risk level"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(s.taxonomy.ResourcesFor(level)))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.taxonomy.Resources()))
}

// riskFactorsHandler handles GET /v1/riskfactors.
func (s *Server) riskFactorsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"version": s.taxonomy.Version(),
		"factors": s.taxonomy.Factors(),
	}))
}

// listAgentsHandler handles GET /v1/agents.
func (s *Server) listAgentsHandler(w http.ResponseWriter, r *http.Request) {
	descriptors := s.registry.List()
	slog.Debug("Server.listAgentsHandler: agents listed", "count", len(descriptors))
	writeJSONResponse(w, http.StatusOK, models.Success(descriptors))
}

// registerAgentHandler handles POST /v1/agents/register for out-of-process
// agents. Registration alone does not make an agent routable; routing also
// needs an attached handler, so external agents show as registered until
// their transport attaches.
func (s *Server) registerAgentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var req models.RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.registerAgentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.registerAgentHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	d, err := s.registry.Register(req.AgentID, req.Capabilities)
	if err != nil {
		slog.Error("Server.registerAgentHandler: registration failed", "error", err, "agentID", req.AgentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to register agent"))
		return
	}

	slog.Info("Server.registerAgentHandler: agent registered", "agentID", d.AgentID, "capabilities", d.Capabilities)
	writeJSONResponse(w, http.StatusCreated, models.Success(d))
}

// agentHeartbeatHandler handles POST /v1/agents/{id}/heartbeat.
func (s *Server) agentHeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	if err := s.registry.Heartbeat(agentID); err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Agent not registered"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Heartbeat recorded", nil))
}

// deregisterAgentHandler handles DELETE /v1/agents/{id}.
func (s *Server) deregisterAgentHandler(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	if err := s.registry.Deregister(agentID); err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Agent not registered"))
		return
	}
	slog.Info("Server.deregisterAgentHandler: agent deregistered", "agentID", agentID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Agent deregistered", nil))
}

// deadLettersHandler handles GET /v1/deadletters.
func (s *Server) deadLettersHandler(w http.ResponseWriter, r *http.Request) {
	letters, err := s.st.ListDeadLetters(deadLetterListLimit)
	if err != nil {
		slog.Error("Server.deadLettersHandler: failed to fetch dead letters", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch dead letters"))
		return
	}
	slog.Debug("Server.deadLettersHandler: dead letters fetched", "count", len(letters))
	writeJSONResponse(w, http.StatusOK, models.Success(letters))
}

// healthHandler provides a liveness endpoint for monitoring and load
// balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":           "healthy",
		"taxonomy_version": s.taxonomy.Version(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	// A store that cannot answer reads means decisions are running blind.
	if _, err := s.st.ListActiveCases(); err != nil {
		slog.Warn("Server.healthHandler: store check failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "store unavailable"
		writeJSONResponse(w, http.StatusServiceUnavailable, healthData)
		return
	}

	writeJSONResponse(w, http.StatusOK, healthData)
}
