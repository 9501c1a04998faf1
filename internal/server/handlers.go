package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ward-ops/ward/internal/domain/chat"
	"github.com/ward-ops/ward/internal/domain/policy"
	ward "github.com/ward-ops/ward/sdk"
)

// Tool execution outcomes, used for metrics labels and result mapping.
const (
	outcomeSuccess         = "success"
	outcomePolicyViolation = "policy_violation"
	outcomeError           = "error"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePolicyStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	if snap.Grant.Active {
		s.metrics.GrantActive.Set(1)
	} else {
		s.metrics.GrantActive.Set(0)
	}
	writeJSON(w, http.StatusOK, toWirePolicyStatus(snap))
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.SetMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, ward.SetModeResponse{
		Success:      true,
		NewMode:      snap.CurrentMode,
		AllowedTools: snap.AllowedTools,
	})
}

func (s *Server) handleGrantTemporary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DurationSeconds float64 `json:"duration_seconds"`
		Reason          string  `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	expiry, err := s.engine.GrantTemporary(duration, req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.metrics.GrantActive.Set(1)

	writeJSON(w, http.StatusOK, ward.GrantResponse{
		Success:    true,
		ExpiryTime: expiry,
		Mode:       policy.GrantedMode,
	})
}

func (s *Server) handleExtendTemporary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdditionalSeconds float64 `json:"additional_seconds"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	expiry, err := s.engine.ExtendTemporary(time.Duration(req.AdditionalSeconds * float64(time.Second)))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, policy.ErrNoGrant) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ward.GrantResponse{
		Success:    true,
		ExpiryTime: expiry,
		Mode:       policy.GrantedMode,
	})
}

func (s *Server) handleRevokeTemporary(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RevokeTemporary(); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, policy.ErrNoGrant) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	s.metrics.GrantActive.Set(0)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSetIncidentScope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AffectedServices []string `json:"affected_services"`
		IncidentType     string   `json:"incident_type"`
		Reason           string   `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.SetScope(req.AffectedServices, req.IncidentType, req.Reason); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleClearIncidentScope(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearScope()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleInfrastructureStatus(w http.ResponseWriter, r *http.Request) {
	st := s.cloud.Status()
	recent, err := s.cloud.RecentActions(r.Context(), 10)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("action log read failed", "error", err)
		// Health is still reportable without history.
	}

	actions := make([]ward.ActionRecord, 0, len(recent))
	for _, entry := range recent {
		actions = append(actions, ward.ActionRecord{
			Timestamp: entry.Timestamp,
			Action:    entry.Action,
			Details:   entry.Details,
		})
	}
	writeJSON(w, http.StatusOK, ward.InfrastructureStatus{
		Services:      st.Services,
		FleetSize:     st.FleetSize,
		MaxFleetSize:  st.MaxFleet,
		RecentActions: actions,
	})
}

func (s *Server) handleSimulateIncident(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	status := r.URL.Query().Get("status")
	if service == "" || status == "" {
		writeError(w, http.StatusBadRequest, "service and status query parameters are required")
		return
	}
	if err := s.cloud.SetHealth(r.Context(), service, status); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleToolCatalog(w http.ResponseWriter, r *http.Request) {
	defs := s.catalog.Definitions()
	tools := make([]ward.Tool, 0, len(defs))
	for _, def := range defs {
		params := make(map[string]ward.ParamSpec, len(def.Params))
		for name, p := range def.Params {
			params[name] = ward.ParamSpec{
				Type:        p.Type,
				Description: p.Description,
				Required:    p.Required,
				Default:     p.Default,
			}
		}
		tools = append(tools, ward.Tool{
			Name:        def.Name,
			Description: def.Description,
			Category:    def.Category,
			Parameters:  params,
		})
	}

	quick := make([]ward.QuickAction, 0, len(s.catalog.QuickActions()))
	for _, qa := range s.catalog.QuickActions() {
		quick = append(quick, ward.QuickAction{
			Label:     qa.Label,
			ToolName:  qa.Tool,
			Arguments: qa.Args,
		})
	}
	writeJSON(w, http.StatusOK, ward.ToolCatalog{Tools: tools, QuickActions: quick})
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req ward.ExecuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.ExecutionMode {
	case "":
		req.ExecutionMode = ward.ModeReal
	case ward.ModeReal, ward.ModeShadow:
	default:
		writeError(w, http.StatusBadRequest, "execution_mode must be REAL or SHADOW")
		return
	}

	result := s.execute(r.Context(), req.ToolName, req.Arguments, req.ExecutionMode == ward.ModeShadow)
	writeJSON(w, http.StatusOK, toWireToolResult(result))
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "message and session_id are required")
		return
	}

	snap, err := s.chats.Send(req.SessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrSessionBusy):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, chat.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.metrics.ChatTurns.Inc()
	writeJSON(w, http.StatusOK, toWireChatSnapshot(snap))
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	snap := s.chats.Messages(r.PathValue("session"))
	writeJSON(w, http.StatusOK, toWireChatSnapshot(snap))
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	s.chats.Clear(r.PathValue("session"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// execResult is the internal tri-state execution outcome.
type execResult struct {
	outcome       string
	payload       any
	blockedReason string
	errText       string
}

// execute runs the full chain for one tool call: catalog check, policy
// validation, then execution (real or shadow). Policy checks run before
// shadow dispatch, so shadow mode never reveals what a blocked call would
// have done.
func (s *Server) execute(ctx context.Context, toolName string, args map[string]any, shadow bool) execResult {
	mode := "REAL"
	if shadow {
		mode = "SHADOW"
	}
	ctx, finish := s.observe.StartExecution(ctx, toolName, mode)

	result := s.executeChain(ctx, toolName, args, shadow)
	finish(result.outcome)
	s.metrics.ToolExecutions.WithLabelValues(toolName, mode, result.outcome).Inc()

	logger := LoggerFromContext(ctx)
	switch result.outcome {
	case outcomePolicyViolation:
		logger.Info("tool blocked by policy", "tool", toolName, "mode", mode, "reason", result.blockedReason)
	case outcomeSuccess:
		logger.Info("tool executed", "tool", toolName, "mode", mode)
	default:
		logger.Warn("tool execution failed", "tool", toolName, "error", result.errText)
	}
	return result
}

func (s *Server) executeChain(ctx context.Context, toolName string, args map[string]any, shadow bool) execResult {
	if _, ok := s.catalog.Lookup(toolName); !ok {
		return execResult{outcome: outcomeError, errText: "unknown tool \"" + toolName + "\""}
	}

	violation, err := s.engine.Validate(toolName, args)
	if err != nil {
		return execResult{outcome: outcomeError, errText: err.Error()}
	}
	if violation != nil {
		s.metrics.PolicyEvaluations.WithLabelValues("deny").Inc()
		return execResult{outcome: outcomePolicyViolation, blockedReason: violation.Reason}
	}
	s.metrics.PolicyEvaluations.WithLabelValues("allow").Inc()

	payload, err := s.executor.Execute(ctx, toolName, args, shadow)
	if err != nil {
		return execResult{outcome: outcomeError, errText: err.Error()}
	}
	return execResult{outcome: outcomeSuccess, payload: payload}
}

func toWireToolResult(result execResult) ward.ToolResult {
	switch result.outcome {
	case outcomeSuccess:
		raw, err := json.Marshal(result.payload)
		if err != nil {
			return ward.ToolResult{Error: "failed to encode result: " + err.Error()}
		}
		return ward.ToolResult{Success: true, Result: raw}
	case outcomePolicyViolation:
		return ward.ToolResult{PolicyViolation: true, BlockedReason: result.blockedReason}
	default:
		return ward.ToolResult{Error: result.errText}
	}
}

func toWirePolicyStatus(snap policy.Status) ward.PolicyStatus {
	modes := make(map[string]ward.ModeInfo, len(snap.Modes))
	for name, mode := range snap.Modes {
		modes[name] = ward.ModeInfo{
			Description:  mode.Description,
			AllowedTools: mode.AllowedTools,
			BlockedTools: mode.BlockedTools,
		}
	}

	status := ward.PolicyStatus{
		CurrentMode:  snap.CurrentMode,
		AllowedTools: snap.AllowedTools,
		BlockedTools: snap.BlockedTools,
		Modes:        modes,
		GlobalRules:  ward.GlobalRules{AlwaysBlocked: snap.GlobalRules.AlwaysBlocked},
	}
	if snap.Grant.Active {
		expiry := snap.Grant.Expiry
		status.Grant = ward.GrantStatus{
			Active:           true,
			ExpiryTime:       &expiry,
			RemainingSeconds: snap.Grant.Remaining.Seconds(),
			BaseMode:         snap.Grant.BaseMode,
		}
	}
	if snap.Scope != nil {
		status.Scope = &ward.IncidentScope{
			AffectedServices: snap.Scope.AffectedServices,
			IncidentType:     snap.Scope.IncidentType,
			Reason:           snap.Scope.Reason,
			DeclaredAt:       snap.Scope.DeclaredAt,
		}
	}
	return status
}

func toWireChatSnapshot(snap chat.Snapshot) ward.ChatSnapshot {
	messages := make([]ward.ChatMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		steps := make([]ward.ChatStep, 0, len(m.Steps))
		for _, st := range m.Steps {
			steps = append(steps, ward.ChatStep{
				Thought:     st.Thought,
				Action:      st.Action,
				Observation: st.Observation,
			})
		}
		messages = append(messages, ward.ChatMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			ToolUsed:  m.ToolUsed,
			Blocked:   m.Blocked,
			Steps:     steps,
		})
	}
	return ward.ChatSnapshot{
		SessionID:    snap.SessionID,
		Messages:     messages,
		IsProcessing: snap.IsProcessing,
	}
}

const maxBodyBytes = 1 << 20

// decodeJSON reads and decodes the request body, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
