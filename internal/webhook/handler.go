// Package webhook receives signed call-lifecycle events from the voice
// platform. The vendor delivers at least once, so handlers must be
// idempotent downstream; this layer only verifies, decodes, and dispatches.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"voicebridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Signature"

// Event types the platform delivers.
const (
	EventCallStarted  = "call_started"
	EventCallEnded    = "call_ended"
	EventCallAnalyzed = "call_analyzed"
)

// CallPayload is the call object attached to every event.
type CallPayload struct {
	CallID          string          `json:"call_id"`
	AgentID         string          `json:"agent_id"`
	From            string          `json:"from_number"`
	To              string          `json:"to_number"`
	Status          string          `json:"call_status"`
	DurationSeconds int             `json:"duration_seconds"`
	Analysis        json.RawMessage `json:"call_analysis,omitempty"`
}

// InboundEvent is the decoded webhook body.
type InboundEvent struct {
	Event string      `json:"event"`
	Call  CallPayload `json:"call"`
}

// Recorder persists webhook events. Failures are logged, never surfaced to
// the vendor: a verified delivery is always acknowledged so the platform
// does not retry forever against a broken database.
type Recorder interface {
	RecordCallEvent(ctx context.Context, event InboundEvent) error
}

// Handler verifies and dispatches inbound webhook deliveries.
type Handler struct {
	Secret   string
	Recorder Recorder

	// MaxBodyBytes bounds the request body read; 0 means 1 MiB.
	MaxBodyBytes int64
}

func (h Handler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !VerifySignature(body, c.GetHeader(signatureHeader), h.Secret) {
		log.Warn("webhook signature mismatch", "remote", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var ev InboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	switch ev.Event {
	case EventCallStarted, EventCallEnded, EventCallAnalyzed:
		if h.Recorder != nil {
			if err := h.Recorder.RecordCallEvent(c.Request.Context(), ev); err != nil {
				// Acknowledge anyway; delivery is at-least-once.
				log.Error("webhook persistence failed", "event", ev.Event, "call_id", ev.Call.CallID, "err", err)
			}
		}
	default:
		log.Warn("unknown webhook event acknowledged", "event", ev.Event)
	}

	c.Status(http.StatusNoContent)
}

// VerifySignature checks an HMAC-SHA256 hex signature over the raw body.
// Constant-time comparison; an empty secret rejects everything.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}
