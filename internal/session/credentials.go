package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Credential is the short-lived grant returned by the platform's
// session-creation endpoint. AccessToken authenticates the channel dial.
type Credential struct {
	SessionID   string
	AccessToken string
}

// CredentialProvider acquires a session credential. Implemented by
// CredentialClient in production and by fakes in tests.
type CredentialProvider interface {
	CreateSession(ctx context.Context, agentID string, metadata map[string]string) (Credential, error)
}

// CredentialClient talks to the voice platform's REST session endpoint.
type CredentialClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewCredentialClient(baseURL, apiKey string) *CredentialClient {
	return &CredentialClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type createSessionRequest struct {
	AgentID  string            `json:"agent_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createSessionResponse struct {
	SessionID        string `json:"session_id"`
	AccessCredential string `json:"access_credential"`
	Status           string `json:"status"`
}

func (c *CredentialClient) CreateSession(ctx context.Context, agentID string, metadata map[string]string) (Credential, error) {
	body, err := json.Marshal(createSessionRequest{AgentID: agentID, Metadata: metadata})
	if err != nil {
		return Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Credential{}, &ConnectionError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Credential{}, &ConnectionError{Status: resp.StatusCode, Message: string(msg)}
	}

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("session: create decode: %w", err)
	}
	if out.SessionID == "" || out.AccessCredential == "" {
		return Credential{}, &ConnectionError{Status: resp.StatusCode, Message: "incomplete session grant"}
	}
	return Credential{SessionID: out.SessionID, AccessToken: out.AccessCredential}, nil
}
