// Package agent holds the CORE agent behind /api/core-agent and the
// assistant responder used by chat.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/nousos/nous/internal/logging"
)

// ErrEmptyQuery is returned when the CORE agent receives no query.
var ErrEmptyQuery = errors.New("query is required")

// TimestampLayout is the UTC millisecond layout used in agent replies.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// CoreReply is the body of a successful CORE agent call.
type CoreReply struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// Core answers CORE agent queries. It echoes the query back.
type Core struct {
	now func() time.Time
	log *logging.Logger
}

// NewCore creates the CORE agent.
func NewCore(log *logging.Logger) *Core {
	return &Core{now: time.Now, log: log.Sub("agent.core")}
}

// Answer processes one query.
func (c *Core) Answer(ctx context.Context, query string) (CoreReply, error) {
	if err := ctx.Err(); err != nil {
		return CoreReply{}, err
	}
	if query == "" {
		return CoreReply{}, ErrEmptyQuery
	}

	c.log.Debug().Int("len", len(query)).Msg("core agent query")
	return CoreReply{
		Response:  "Echo: " + query,
		Timestamp: c.now().UTC().Format(TimestampLayout),
		Status:    "success",
	}, nil
}
