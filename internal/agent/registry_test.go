package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientCreateAndGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/agents":
			var def Definition
			if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
				t.Fatalf("decode: %v", err)
			}
			def.ID = "agent-1"
			_ = json.NewEncoder(w).Encode(def)
		case r.Method == http.MethodGet && r.URL.Path == "/agents/agent-1":
			_ = json.NewEncoder(w).Encode(Definition{ID: "agent-1", Name: "support", VoiceID: "v1", Language: "en-US"})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")

	created, err := c.Create(context.Background(), Definition{Name: "support", VoiceID: "v1", Language: "en-US"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "agent-1" || created.Name != "support" {
		t.Fatalf("unexpected created: %+v", created)
	}

	got, err := c.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VoiceID != "v1" {
		t.Fatalf("unexpected get: %+v", got)
	}
}

func TestClientNotFoundAndRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1")

	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var remote *RemoteError
	if _, err := c.List(context.Background()); !errors.As(err, &remote) || remote.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 RemoteError, got %v", err)
	}
}
