package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nousos/nous/internal/auth"
	"github.com/nousos/nous/internal/catalog"
	"github.com/nousos/nous/internal/chat"
	"github.com/nousos/nous/internal/store"
	"github.com/nousos/nous/internal/vfs"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid JSON body")

// apiError is the JSON error body of every REST endpoint.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, apiError{Error: msg, Message: detail})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, detail string) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
	writeError(w, http.StatusTooManyRequests, "Too many requests", detail)
}

// classify maps a service error onto an HTTP status and an RPC code.
func classify(err error) (int, string) {
	var limit *chat.LimitError
	switch {
	case errors.As(err, &limit):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, errBadBody),
		errors.Is(err, vfs.ErrInvalidPath),
		errors.Is(err, vfs.ErrInvalidData),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrTooLong),
		errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidParams
	case errors.Is(err, vfs.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrRevoked),
		errors.Is(err, vfs.ErrNoUser):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, vfs.ErrNotImplemented):
		return http.StatusNotImplemented, CodeNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeServiceError writes err as a JSON error response. Internal errors
// are logged and their text is not exposed.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := classify(err)
	var limit *chat.LimitError
	switch {
	case errors.As(err, &limit):
		writeRateLimited(w, limit.RetryAfter, err.Error())
	case status == http.StatusInternalServerError:
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "Internal server error", "")
	default:
		writeError(w, status, http.StatusText(status), err.Error())
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadBody)
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// UserID returns the id of the user the connection is bound to.
func (rc *RequestContext) UserID() string { return rc.Client.UserID() }

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail maps a service error onto an error response.
func (rc *RequestContext) Fail(err error) {
	status, code := classify(err)
	shape := ErrorShape{Code: code, Message: err.Error()}
	var limit *chat.LimitError
	if errors.As(err, &limit) {
		shape.Retryable = true
		shape.RetryAfter = int(limit.RetryAfter.Milliseconds())
	}
	if status == http.StatusInternalServerError {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("rpc failed")
		shape.Message = "internal error"
	}
	rc.Client.RespondError(rc.Frame.ID, shape)
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
