package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voicebridge/internal/agent"
	"voicebridge/internal/auth"
	"voicebridge/internal/dialer"
	"voicebridge/internal/presence"
	"voicebridge/internal/rbac"
	"voicebridge/internal/session"
	"voicebridge/internal/transcript"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth        *auth.Manager
	Coordinator *session.Coordinator
	Dialer      *dialer.Service
	Agents      agent.Registry
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation lives upstream (SSO proxy); this endpoint
// trusts the caller's identity assertion and only vets the role.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Live call sessions ---

type startSessionRequest struct {
	AgentID  string            `json:"agent_id"`
	VoiceID  string            `json:"voice_id"`
	Language string            `json:"language"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h Handlers) StartSession(c *gin.Context) {
	if h.Coordinator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	sessionID, err := h.Coordinator.Start(c.Request.Context(), userID, session.Config{
		AgentID:  req.AgentID,
		VoiceID:  req.VoiceID,
		Language: req.Language,
		Metadata: req.Metadata,
	})
	if err != nil {
		var cfgErr *session.ConfigurationError
		var connErr *session.ConnectionError
		switch {
		case errors.As(err, &cfgErr):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
		case errors.Is(err, session.ErrSessionBusy):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a session is already live"})
		case errors.As(err, &connErr):
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": connErr.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session start failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session_id": sessionID, "state": h.Coordinator.State()})
}

// StopSession ends the live session. Stopping with nothing live is a no-op,
// not an error.
func (h Handlers) StopSession(c *gin.Context) {
	if h.Coordinator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}
	if err := h.Coordinator.Stop(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session stop failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.Coordinator.State()})
}

type transcriptResponse struct {
	SessionID string             `json:"session_id,omitempty"`
	State     session.State      `json:"state"`
	Error     string             `json:"error,omitempty"`
	Entries   []transcript.Entry `json:"entries"`
	Current   *transcript.Turn   `json:"current_turn,omitempty"`
	Presence  presence.Signal    `json:"presence"`
}

func (h Handlers) SessionTranscript(c *gin.Context) {
	if h.Coordinator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return
	}

	resp := transcriptResponse{
		SessionID: h.Coordinator.SessionID(),
		State:     h.Coordinator.State(),
		Entries:   h.Coordinator.Transcript(),
	}
	if resp.Entries == nil {
		resp.Entries = []transcript.Entry{}
	}
	if err := h.Coordinator.Err(); err != nil {
		resp.Error = err.Error()
	}
	if turn, ok := h.Coordinator.CurrentTurn(); ok {
		resp.Current = &turn
	}
	resp.Presence = presence.Project(resp.Current, h.Coordinator.CaptureLevel())

	c.JSON(http.StatusOK, resp)
}

// --- Outbound dialing ---

type startDialRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h Handlers) StartDial(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	var req startDialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	rec, err := h.Dialer.StartCall(c.Request.Context(), req.From, req.To)
	if err != nil {
		var dialErr *dialer.DialError
		if errors.As(err, &dialErr) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": dialErr.Message})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "dial failed"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) EndDial(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	rec, err := h.Dialer.EndCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		var dialErr *dialer.DialError
		if errors.As(err, &dialErr) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": dialErr.Message})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "end failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) DialStatus(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	callID := c.Param("call_id")

	snap, err := h.Dialer.PollStatus(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, dialer.ErrCallGone) {
			c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "call no longer exists"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "status lookup failed"})
		return
	}

	out := gin.H{"snapshot": snap}
	if rec, ok := h.Dialer.Get(callID); ok {
		out["record"] = rec
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DialSummary(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": h.Dialer.Overview(),
		"calls":   h.Dialer.List(),
	})
}

func (h Handlers) ListNumbers(c *gin.Context) {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return
	}
	nums, err := h.Dialer.ListNumbers(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "number inventory unavailable"})
		return
	}
	if nums == nil {
		nums = []dialer.Number{}
	}
	c.JSON(http.StatusOK, gin.H{"numbers": nums})
}

// --- Agent registry passthrough ---

func (h Handlers) ListAgents(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	defs, err := h.Agents.List(c.Request.Context())
	if err != nil {
		abortRegistryError(c, err)
		return
	}
	if defs == nil {
		defs = []agent.Definition{}
	}
	c.JSON(http.StatusOK, gin.H{"agents": defs})
}

func (h Handlers) CreateAgent(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	var def agent.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.Agents.Create(c.Request.Context(), def)
	if err != nil {
		abortRegistryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h Handlers) GetAgent(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	def, err := h.Agents.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		abortRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h Handlers) UpdateAgent(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	var def agent.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, err := h.Agents.Update(c.Request.Context(), c.Param("agent_id"), def)
	if err != nil {
		abortRegistryError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h Handlers) DeleteAgent(c *gin.Context) {
	if h.Agents == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agents not configured"})
		return
	}
	if err := h.Agents.Delete(c.Request.Context(), c.Param("agent_id")); err != nil {
		abortRegistryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func abortRegistryError(c *gin.Context, err error) {
	if errors.Is(err, agent.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	var remote *agent.RemoteError
	if errors.As(err, &remote) && remote.Status >= 400 && remote.Status < 500 {
		c.AbortWithStatusJSON(remote.Status, gin.H{"error": remote.Message})
		return
	}
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "agent registry unavailable"})
}
