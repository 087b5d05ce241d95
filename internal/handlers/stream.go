package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/remsh/internal/sshexec"
)

// streamRateLimit is the maximum number of output messages per second
// per WebSocket connection. Output is never dropped; a skipped tick just
// coalesces into the next, larger message.
const streamRateLimit = 20

// streamRateBurst is the token bucket burst size.
const streamRateBurst = 20

const streamPollInterval = 100 * time.Millisecond

type streamOutput struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type streamStatus struct {
	Type         string         `json:"type"`
	Status       sshexec.Status `json:"status"`
	ExitCode     *int           `json:"exit_code,omitempty"`
	Truncated    bool           `json:"truncated"`
	CompletedVia string         `json:"completed_via,omitempty"`
}

// tokenBucket implements a simple token bucket rate limiter for stream messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}

// StreamCommandOutput follows a command's output over a WebSocket. The
// connection first receives everything captured so far, then incremental
// output messages, and finally a status message when the record reaches
// a terminal state.
// GET /api/commands/{id}/stream
func StreamCommandOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := Eng.Status(id); err != nil {
		writeErr(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[handlers] stream accept for %s: %v", id, err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	limiter := newTokenBucket(streamRateBurst, streamRateLimit)
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	send := func(v interface{}) bool {
		msg, err := json.Marshal(v)
		if err != nil {
			return false
		}
		return conn.Write(ctx, websocket.MessageText, msg) == nil
	}

	offset := 0
	for {
		snap, err := Eng.Status(id)
		if err != nil {
			conn.Close(4404, "command evicted")
			return
		}

		if len(snap.Output) > offset && limiter.allow() {
			if !send(streamOutput{Type: "output", Data: snap.Output[offset:]}) {
				return
			}
			offset = len(snap.Output)
		}

		if snap.Status.Terminal() {
			// Flush any remainder held back by the rate limiter.
			if len(snap.Output) > offset {
				if !send(streamOutput{Type: "output", Data: snap.Output[offset:]}) {
					return
				}
			}
			send(streamStatus{
				Type:         "status",
				Status:       snap.Status,
				ExitCode:     snap.ExitCode,
				Truncated:    snap.Truncated,
				CompletedVia: snap.CompletedVia,
			})
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
