package gateway

import (
	"fmt"
	"time"

	"github.com/nousos/nous/internal/ratelimit"
	"github.com/nousos/nous/internal/vfs"
)

func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)

	if s.chat != nil {
		s.Handle(MethodChatSend, s.rpcChatSend)
		s.Handle(MethodChatHistory, s.rpcChatHistory)
		s.Handle(MethodChatClear, s.rpcChatClear)
		s.Handle(MethodChatContext, s.rpcChatContext)
	}

	if s.vfs != nil {
		s.Handle(MethodVFSRead, s.rpcVFSRead)
		s.Handle(MethodVFSWrite, s.rpcVFSWrite)
		s.Handle(MethodVFSList, s.rpcVFSList)
		s.Handle(MethodVFSDelete, s.rpcVFSDelete)
		s.Handle(MethodVFSExists, s.rpcVFSExists)
	}
}

func (s *Server) rpcHealth(rc *RequestContext) {
	uptime := time.Duration(0)
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}
	rc.Respond(map[string]any{
		"status":   "ok",
		"version":  s.version,
		"clients":  s.clients.Count(),
		"users":    s.clients.Users(),
		"uptimeMs": uptime.Milliseconds(),
	})
}

// --- chat ---

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, "invalid params: "+err.Error())
		return
	}
	ex, err := s.chat.Send(rc.Ctx, rc.UserID(), p.Content, p.Metadata)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(ex)
}

func (s *Server) rpcChatHistory(rc *RequestContext) {
	msgs, err := s.chat.Messages(rc.Ctx, rc.UserID())
	if err != nil {
		rc.Fail(err)
		return
	}
	chatContext, err := s.chat.Context(rc.Ctx, rc.UserID())
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{
		"messages": msgs,
		"context":  chatContext,
		"typing":   s.chat.Typing(rc.UserID()),
	})
}

func (s *Server) rpcChatClear(rc *RequestContext) {
	msgs, err := s.chat.Clear(rc.Ctx, rc.UserID())
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"messages": msgs})
}

// rpcChatContext sets the context when one is given and returns the
// current value either way.
func (s *Server) rpcChatContext(rc *RequestContext) {
	var p chatContextParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, "invalid params: "+err.Error())
		return
	}
	if p.Context != nil {
		if err := s.chat.SetContext(rc.Ctx, rc.UserID(), *p.Context); err != nil {
			rc.Fail(err)
			return
		}
	}
	c, err := s.chat.Context(rc.Ctx, rc.UserID())
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]string{"context": c})
}

// --- vfs ---

type vfsParams struct {
	Path string `json:"path"`
	Data any    `json:"data,omitempty"`
}

// vfsCall decodes the params and mounts the caller's VFS.
func (s *Server) vfsCall(rc *RequestContext) (vfs.VFS, vfsParams, bool) {
	var p vfsParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, "invalid params: "+err.Error())
		return nil, p, false
	}
	if p.Path == "" {
		rc.RespondError(CodeInvalidParams, "path is required")
		return nil, p, false
	}
	v, err := s.vfs.Mount(rc.UserID())
	if err != nil {
		rc.Fail(err)
		return nil, p, false
	}
	return v, p, true
}

func (s *Server) rpcVFSRead(rc *RequestContext) {
	v, p, ok := s.vfsCall(rc)
	if !ok {
		return
	}
	val, err := v.Read(rc.Ctx, p.Path)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"path": p.Path, "value": val})
}

func (s *Server) rpcVFSWrite(rc *RequestContext) {
	v, p, ok := s.vfsCall(rc)
	if !ok {
		return
	}
	// A missing or null data clears a field, as PUT /api/vfs does.
	if err := v.Write(rc.Ctx, p.Path, p.Data); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"path": p.Path})
}

func (s *Server) rpcVFSList(rc *RequestContext) {
	v, p, ok := s.vfsCall(rc)
	if !ok {
		return
	}
	ids, err := v.List(rc.Ctx, p.Path)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"path": p.Path, "ids": ids})
}

func (s *Server) rpcVFSDelete(rc *RequestContext) {
	v, p, ok := s.vfsCall(rc)
	if !ok {
		return
	}
	if err := v.Delete(rc.Ctx, p.Path); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"path": p.Path})
}

func (s *Server) rpcVFSExists(rc *RequestContext) {
	v, p, ok := s.vfsCall(rc)
	if !ok {
		return
	}
	exists, err := v.Exists(rc.Ctx, p.Path)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"path": p.Path, "exists": exists})
}

// rateLimited applies the per-user API limit to an RPC call.
func (s *Server) rateLimited(rc *RequestContext) bool {
	if s.limiter == nil || rc.Frame.Method == MethodHealth {
		return false
	}
	res := s.limiter.Allow(ratelimit.ScopeAPI, rc.UserID())
	if res.Allowed {
		return false
	}
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("API rate limit exceeded, retry in %ds", retryAfterSeconds(res.RetryAfter)),
		Retryable:  true,
		RetryAfter: int(res.RetryAfter.Milliseconds()),
	})
	return true
}
