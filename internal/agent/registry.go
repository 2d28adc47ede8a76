// Package agent wraps the voice platform's agent-configuration API. The
// platform is the source of truth; this service is a passthrough that keeps
// vendor request shapes out of handlers.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Definition is one conversational agent configuration.
type Definition struct {
	ID       string `json:"agent_id"`
	Name     string `json:"name"`
	VoiceID  string `json:"voice_id"`
	Language string `json:"language"`
	Prompt   string `json:"prompt,omitempty"`
}

// RemoteError carries the platform's HTTP status for a failed registry call.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("agent: registry request failed (status %d): %s", e.Status, e.Message)
}

var ErrNotFound = errors.New("agent: not found")

// Registry is the agent-configuration boundary.
type Registry interface {
	Create(ctx context.Context, def Definition) (Definition, error)
	List(ctx context.Context) ([]Definition, error)
	Get(ctx context.Context, id string) (Definition, error)
	Update(ctx context.Context, id string, def Definition) (Definition, error)
	Delete(ctx context.Context, id string) error
}

// Client implements Registry against the platform's REST API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Create(ctx context.Context, def Definition) (Definition, error) {
	return c.writeRequest(ctx, http.MethodPost, "/agents", def)
}

func (c *Client) List(ctx context.Context) ([]Definition, error) {
	resp, err := c.do(ctx, http.MethodGet, "/agents", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out []Definition
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("agent: list decode: %w", err)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (Definition, error) {
	resp, err := c.do(ctx, http.MethodGet, "/agents/"+id, nil)
	if err != nil {
		return Definition{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Definition{}, err
	}
	return decodeDefinition(resp.Body)
}

func (c *Client) Update(ctx context.Context, id string, def Definition) (Definition, error) {
	return c.writeRequest(ctx, http.MethodPatch, "/agents/"+id, def)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/agents/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) writeRequest(ctx context.Context, method, path string, def Definition) (Definition, error) {
	body, err := json.Marshal(def)
	if err != nil {
		return Definition{}, err
	}
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return Definition{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Definition{}, err
	}
	return decodeDefinition(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.httpc.Do(req)
}

func decodeDefinition(r io.Reader) (Definition, error) {
	var out Definition
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return Definition{}, fmt.Errorf("agent: decode: %w", err)
	}
	return out, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &RemoteError{Status: resp.StatusCode, Message: string(msg)}
}
