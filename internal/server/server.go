// Package server exposes the backend HTTP API: policy status and control,
// infrastructure status, tool execution, and the chat transcript.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ward-ops/ward/internal/domain/auth"
	"github.com/ward-ops/ward/internal/domain/chat"
	"github.com/ward-ops/ward/internal/domain/infra"
	"github.com/ward-ops/ward/internal/domain/policy"
	"github.com/ward-ops/ward/internal/domain/tool"
	"github.com/ward-ops/ward/internal/observe"
)

// Server wires the domain components behind the HTTP API.
type Server struct {
	logger   *slog.Logger
	engine   *policy.Engine
	cloud    *infra.Cloud
	catalog  *tool.Catalog
	executor *tool.Executor
	chats    *chat.Store
	verifier *auth.Verifier
	observe  *observe.Provider
	metrics  *Metrics
	registry *prometheus.Registry
}

// Options carries the server's dependencies.
type Options struct {
	Logger   *slog.Logger
	Engine   *policy.Engine
	Cloud    *infra.Cloud
	Catalog  *tool.Catalog
	Executor *tool.Executor
	Chats    *chat.Store
	Verifier *auth.Verifier
	Observe  *observe.Provider

	// Registry receives the server's metrics. Nil creates a private one.
	Registry *prometheus.Registry
}

// New assembles the server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier(nil)
	}
	obs := opts.Observe
	if obs == nil {
		obs, _ = observe.New(context.Background(), "dev", false, logger)
	}

	return &Server{
		logger:   logger.With("component", "server"),
		engine:   opts.Engine,
		cloud:    opts.Cloud,
		catalog:  opts.Catalog,
		executor: opts.Executor,
		chats:    opts.Chats,
		verifier: verifier,
		observe:  obs,
		metrics:  NewMetrics(registry),
		registry: registry,
	}
}

// Handler builds the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /policy/status", s.handlePolicyStatus)
	mux.HandleFunc("POST /policy/set-mode", s.handleSetMode)
	mux.HandleFunc("POST /policy/grant-temporary", s.handleGrantTemporary)
	mux.HandleFunc("POST /policy/extend-temporary", s.handleExtendTemporary)
	mux.HandleFunc("POST /policy/revoke-temporary", s.handleRevokeTemporary)
	mux.HandleFunc("POST /policy/set-incident-scope", s.handleSetIncidentScope)
	mux.HandleFunc("POST /policy/clear-incident-scope", s.handleClearIncidentScope)

	mux.HandleFunc("GET /infrastructure/status", s.handleInfrastructureStatus)
	mux.HandleFunc("POST /infrastructure/simulate-incident", s.handleSimulateIncident)

	mux.HandleFunc("GET /tools/catalog", s.handleToolCatalog)
	mux.HandleFunc("POST /tools/execute", s.handleExecuteTool)

	mux.HandleFunc("POST /chat/send", s.handleChatSend)
	mux.HandleFunc("GET /chat/messages/{session}", s.handleChatMessages)
	mux.HandleFunc("DELETE /chat/messages/{session}", s.handleChatClear)

	var handler http.Handler = mux
	handler = AuthMiddleware(s.verifier, s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	return handler
}

// SetChats installs the conversation store. The store's responder needs
// ChatRunner, which needs the server, so assembly happens in two steps:
// build the server, then the store, then call SetChats before Handler.
func (s *Server) SetChats(chats *chat.Store) {
	s.chats = chats
}

// ChatRunner returns the tool runner the chat responder uses: every agent
// tool call goes through the same policy chain as a direct execution.
func (s *Server) ChatRunner() chat.ToolRunner {
	return &policyRunner{s: s}
}

// policyRunner adapts the engine and executor to the chat responder.
type policyRunner struct {
	s *Server
}

func (r *policyRunner) Run(ctx context.Context, toolName string, args map[string]any) chat.RunResult {
	result := r.s.execute(ctx, toolName, args, false)
	return chat.RunResult{
		Success:         result.outcome == outcomeSuccess,
		PolicyViolation: result.outcome == outcomePolicyViolation,
		BlockedReason:   result.blockedReason,
		Err:             result.errText,
		Payload:         result.payload,
	}
}
