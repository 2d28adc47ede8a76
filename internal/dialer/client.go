package dialer

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

// DialError reports an outbound call that could not be initiated or
// controlled. Status carries the remote HTTP status when one exists.
type DialError struct {
	Status  int
	Message string
}

func (e *DialError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("dialer: %s (status %d)", e.Message, e.Status)
	}
	return "dialer: " + e.Message
}

// ErrCallGone marks a call the remote platform no longer knows about.
// EndCall treats it as best-effort success.
var ErrCallGone = errors.New("dialer: call no longer exists remotely")

// API is the telephony platform boundary. Implemented by Client in
// production and by fakes in tests.
type API interface {
	Dial(ctx context.Context, from, to string) (string, error)
	End(ctx context.Context, callID string) error
	Status(ctx context.Context, callID string) (StatusSnapshot, error)
	ListNumbers(ctx context.Context) ([]Number, error)
}

// Client talks to the telephony platform's REST API.
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

func (c *Client) Dial(ctx context.Context, from, to string) (string, error) {
	body, err := json.Marshal(map[string]string{"from": from, "to": to})
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPost, "/calls", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", remoteDialError(resp)
	}
	var out struct {
		CallID string `json:"call_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("dialer: dial decode: %w", err)
	}
	if out.CallID == "" {
		return "", &DialError{Status: resp.StatusCode, Message: "dial response missing call_id"}
	}
	return out.CallID, nil
}

func (c *Client) End(ctx context.Context, callID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/calls/"+callID+"/end", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrCallGone
	default:
		return remoteDialError(resp)
	}
}

func (c *Client) Status(ctx context.Context, callID string) (StatusSnapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/calls/"+callID, nil)
	if err != nil {
		return StatusSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusSnapshot{}, remoteDialError(resp)
	}
	var out StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusSnapshot{}, fmt.Errorf("dialer: status decode: %w", err)
	}
	if out.CallID == "" {
		out.CallID = callID
	}
	return out, nil
}

func (c *Client) ListNumbers(ctx context.Context) ([]Number, error) {
	resp, err := c.do(ctx, http.MethodGet, "/numbers", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteDialError(resp)
	}
	var out struct {
		Numbers []Number `json:"numbers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("dialer: numbers decode: %w", err)
	}
	return out.Numbers, nil
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

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &DialError{Message: err.Error()}
	}
	return resp, nil
}

func remoteDialError(resp *http.Response) *DialError {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DialError{Status: resp.StatusCode, Message: string(msg)}
}
