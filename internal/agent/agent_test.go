package agent

import (
	"context"
	"testing"
	"time"

	"github.com/nousos/nous/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestCoreAnswer(t *testing.T) {
	c := NewCore(silentLog())
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 123456789, time.FixedZone("BRT", -3*3600)) }

	reply, err := c.Answer(context.Background(), "how much did I spend?")
	require.NoError(t, err)
	assert.Equal(t, "Echo: how much did I spend?", reply.Response)
	assert.Equal(t, "2024-03-01T12:30:00.123Z", reply.Timestamp)
	assert.Equal(t, "success", reply.Status)
}

func TestCoreAnswer_Empty(t *testing.T) {
	c := NewCore(silentLog())
	_, err := c.Answer(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	reply, err := c.Answer(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, "Echo:   ", reply.Response)
}

func TestCoreAnswer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCore(silentLog()).Answer(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCannedResponder(t *testing.T) {
	tests := []struct {
		name     string
		pick     int
		context  string
		want     string
		wantMeta bool
	}{
		{"generic first", 0, "", "I can help you with that! Let me find the information.", false},
		{"generic second", 1, "", "Great question! Here's what I know...", false},
		{"generic third", 2, "", "Let me analyze your data and get back to you.", false},
		{"context first", 0, "financial/cashflow", "Let me check your financial/cashflow data...", true},
		{"context second", 1, "health", "I found some interesting patterns in your health.", true},
		{"context third", 2, "financial", "Based on your financial data, here's what I found...", true},
		{"out of range picks first", 7, "", "I can help you with that! Let me find the information.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCannedResponderWithPicker(func(int) int { return tt.pick })
			reply, err := r.Respond(context.Background(), Request{Content: "hi", Context: tt.context})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Content)
			if tt.wantMeta {
				require.NotNil(t, reply.Metadata)
				assert.Equal(t, "navigate", reply.Metadata.Action)
				assert.Equal(t, "/domains/"+tt.context, reply.Metadata.Target)
			} else {
				assert.Nil(t, reply.Metadata)
			}
		})
	}
}

func TestCannedResponder_Random(t *testing.T) {
	r := NewCannedResponder()
	for range 20 {
		reply, err := r.Respond(context.Background(), Request{Content: "hi"})
		require.NoError(t, err)
		assert.Contains(t, genericReplies, reply.Content)
	}
}

func TestCannedResponder_PickerSeesCandidateCount(t *testing.T) {
	var seen int
	r := NewCannedResponderWithPicker(func(n int) int { seen = n; return 0 })
	_, err := r.Respond(context.Background(), Request{Context: "health"})
	require.NoError(t, err)
	assert.Equal(t, len(contextReplies), seen)
}
