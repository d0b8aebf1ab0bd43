package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nousos/nous/internal/agent"
	"github.com/nousos/nous/internal/auth"
	"github.com/nousos/nous/internal/domain"
	"github.com/nousos/nous/internal/ratelimit"
	"github.com/nousos/nous/internal/version"
	"github.com/nousos/nous/internal/vfs"
)

const coreAgentPath = "/api/core-agent"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc(coreAgentPath, s.handleCoreAgent)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.Handle("GET /api/auth/me", s.protect(s.handleMe))

	mux.Handle("GET /api/vfs", s.protect(s.handleVFSRead))
	mux.Handle("PUT /api/vfs", s.protect(s.handleVFSWrite))
	mux.Handle("DELETE /api/vfs", s.protect(s.handleVFSDelete))
	mux.Handle("GET /api/vfs/list", s.protect(s.handleVFSList))
	mux.Handle("GET /api/vfs/exists", s.protect(s.handleVFSExists))

	mux.Handle("GET /api/chat/messages", s.protect(s.handleChatHistory))
	mux.Handle("POST /api/chat/messages", s.protect(s.handleChatSend))
	mux.Handle("DELETE /api/chat/messages", s.protect(s.handleChatClear))
	mux.Handle("GET /api/chat/context", s.protect(s.handleChatGetContext))
	mux.Handle("PUT /api/chat/context", s.protect(s.handleChatSetContext))
	mux.Handle("GET /api/chat/search", s.protect(s.handleChatSearch))

	mux.HandleFunc("GET /api/domains", s.handleDomains)
	mux.HandleFunc("GET /api/domains/{id}", s.handleDomain)
	mux.HandleFunc("GET /api/domains/{id}/subdomains", s.handleSubdomains)
	mux.HandleFunc("GET /api/domains/{id}/subdomains/{sid}", s.handleSubdomain)
	mux.HandleFunc("GET /api/domains/{id}/subdomains/{sid}/agents/{aid}", s.handleAgent)
	mux.HandleFunc("GET /api/marketplace", s.handleMarketplace)
	mux.HandleFunc("GET /api/marketplace/{id}", s.handleMarketplaceAgent)
	mux.HandleFunc("GET /api/templates", s.handleTemplates)
	mux.HandleFunc("GET /api/templates/{id}", s.handleTemplate)
	mux.Handle("GET /api/dashboard", s.protect(s.handleDashboard))

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.metrics.Handler())
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// protect requires a session token and applies the API rate limit.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "Service unavailable", "authentication is not configured")
		})
	}
	return s.auth.Middleware(apiLimitMiddleware(h, s.limiter))
}

func userID(r *http.Request) string {
	c, _ := auth.ClaimsFrom(r.Context())
	return c.UserID
}

// --- functions ---

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Message:   "NOUS OS Functions are running",
		Timestamp: time.Now().UTC().Format(agent.TimestampLayout),
		Version:   version.APIVersion,
	})
}

// handleCoreAgent answers from any origin; it sets its own CORS headers.
func (s *Server) handleCoreAgent(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Msg("core agent panicked")
			writeError(w, http.StatusInternalServerError, "Internal server error", fmt.Sprint(rec))
		}
	}()

	var body struct {
		Query any `json:"query"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Query is required"})
		return
	}
	query, ok := body.Query.(string)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Query is required"})
		return
	}

	reply, err := s.core.Answer(r.Context(), query)
	switch {
	case errors.Is(err, agent.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Query is required"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}

// --- auth ---

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "authentication is not configured")
		return
	}
	var c credentials
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sess, err := s.auth.Signup(r.Context(), c.Name, c.Email, c.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "authentication is not configured")
		return
	}
	ip := ratelimit.ClientIP(r.RemoteAddr)
	if s.limiter != nil {
		if res := s.limiter.Peek(ratelimit.ScopeAuthFailures, ip); !res.Allowed {
			writeRateLimited(w, res.RetryAfter, "too many failed sign-in attempts")
			return
		}
	}

	var c credentials
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sess, err := s.auth.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) && s.limiter != nil {
			s.limiter.Record(ratelimit.ScopeAuthFailures, ip)
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "authentication is not configured")
		return
	}
	token, ok := auth.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
		return
	}
	if err := s.auth.Logout(r.Context(), token); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	u, err := s.auth.User(r.Context(), claims)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "expiresAt": claims.ExpiresAt})
}

// --- vfs ---

func (s *Server) mount(w http.ResponseWriter, r *http.Request) (vfs.VFS, bool) {
	if s.vfs == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "vfs is not configured")
		return nil, false
	}
	v, err := s.vfs.Mount(userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	return v, true
}

func (s *Server) handleVFSRead(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mount(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	val, err := v.Read(r.Context(), path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "value": val})
}

func (s *Server) handleVFSWrite(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mount(w, r)
	if !ok {
		return
	}
	var data any
	if err := decodeJSON(w, r, &data); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := v.Write(r.Context(), r.URL.Query().Get("path"), data); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVFSDelete(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mount(w, r)
	if !ok {
		return
	}
	if err := v.Delete(r.Context(), r.URL.Query().Get("path")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVFSList(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mount(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	ids, err := v.List(r.Context(), path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "ids": ids})
}

func (s *Server) handleVFSExists(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mount(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	exists, err := v.Exists(r.Context(), path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "exists": exists})
}

// --- chat ---

type chatSendParams struct {
	Content  string                  `json:"content"`
	Metadata *domain.MessageMetadata `json:"metadata,omitempty"`
}

type chatContextParams struct {
	Context *string `json:"context"`
}

func (s *Server) chatReady(w http.ResponseWriter) bool {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "chat is not configured")
		return false
	}
	return true
}

func (s *Server) chatState(r *http.Request, uid string) (map[string]any, error) {
	msgs, err := s.chat.Messages(r.Context(), uid)
	if err != nil {
		return nil, err
	}
	chatContext, err := s.chat.Context(r.Context(), uid)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messages": msgs,
		"context":  chatContext,
		"typing":   s.chat.Typing(uid),
	}, nil
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if !s.chatReady(w) {
		return
	}
	state, err := s.chatState(r, userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if !s.chatReady(w) {
		return
	}
	var p chatSendParams
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ex, err := s.chat.Send(r.Context(), userID(r), p.Content, p.Metadata)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	if !s.chatReady(w) {
		return
	}
	msgs, err := s.chat.Clear(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleChatGetContext(w http.ResponseWriter, r *http.Request) {
	if !s.chatReady(w) {
		return
	}
	c, err := s.chat.Context(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": c})
}

func (s *Server) handleChatSetContext(w http.ResponseWriter, r *http.Request) {
	if !s.chatReady(w) {
		return
	}
	var p chatContextParams
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if p.Context == nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "context is required")
		return
	}
	uid := userID(r)
	if err := s.chat.SetContext(r.Context(), uid, *p.Context); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	c, err := s.chat.Context(r.Context(), uid)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": c})
}

func (s *Server) handleChatSearch(w http.ResponseWriter, r *http.Request) {
	if !s.chatReady(w) {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	msgs, err := s.chat.Search(r.Context(), userID(r), q.Get("q"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// --- catalog ---

func (s *Server) catalogReady(w http.ResponseWriter) bool {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "catalog is not loaded")
		return false
	}
	return true
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": s.catalog.Domains()})
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	id := r.PathValue("id")
	d, err := s.catalog.Domain(id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	subs, err := s.catalog.Subdomains(id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":     d,
		"subdomains": subs,
		"templates":  s.catalog.Templates(id),
	})
}

func (s *Server) handleSubdomains(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	subs, err := s.catalog.Subdomains(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subdomains": subs})
}

func (s *Server) handleSubdomain(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	sub, err := s.catalog.Subdomain(r.PathValue("id"), r.PathValue("sid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	names := make([]string, 0, len(sub.Agents))
	outputs := make(map[string]domain.AgentOutput)
	for _, a := range sub.Agents {
		names = append(names, a.Name)
		if out, err := s.catalog.AgentOutput(a.ID); err == nil {
			outputs[a.ID] = out
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subdomain": sub,
		"values":    s.catalog.VariableValues(sub.VariableConfigs),
		"outputs":   outputs,
		"logs":      s.catalog.AgentLogs(names...),
		"tasks":     s.catalog.AgentTasks(names...),
	})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	a, err := s.catalog.Agent(r.PathValue("id"), r.PathValue("sid"), r.PathValue("aid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := map[string]any{
		"agent": a,
		"logs":  s.catalog.AgentLogs(a.Name),
		"tasks": s.catalog.AgentTasks(a.Name),
	}
	if out, err := s.catalog.AgentOutput(a.ID); err == nil {
		resp["output"] = out
	}
	if listing, err := s.catalog.MarketplaceAgent(a.ID); err == nil {
		resp["listing"] = listing
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	q := r.URL.Query()
	agents := s.catalog.Marketplace(q.Get("category"))
	if term := strings.ToLower(strings.TrimSpace(q.Get("q"))); term != "" {
		filtered := agents[:0]
		for _, a := range agents {
			if matchesListing(a, term) {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":      agents,
		"categories":  s.catalog.Categories(),
		"suggestions": s.catalog.SearchSuggestions(),
	})
}

func matchesListing(a domain.MarketplaceAgent, term string) bool {
	if strings.Contains(strings.ToLower(a.Name), term) ||
		strings.Contains(strings.ToLower(a.Description), term) {
		return true
	}
	for _, tag := range a.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

func (s *Server) handleMarketplaceAgent(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	a, err := s.catalog.MarketplaceAgent(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.catalog.Templates(r.URL.Query().Get("domain"))})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	t, err := s.catalog.Template(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDashboard serves the mock dashboard addressed to the signed-in user.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.catalogReady(w) {
		return
	}
	claims, _ := auth.ClaimsFrom(r.Context())
	d := s.catalog.Dashboard()
	d.User = map[string]any{"id": claims.UserID, "name": claims.Name, "email": claims.Email}
	writeJSON(w, http.StatusOK, d)
}
