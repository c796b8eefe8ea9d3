package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendPostsBlockingRequest(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer app-test" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"hi","conversation_id":"new1","message_id":"m1"}`))
	}))
	defer server.Close()

	client := NewClient(WithURL(server.URL))
	reply, err := client.Send(context.Background(), "app-test", Request{Query: "hello", User: "yui"})
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if reply.Answer != "hi" || reply.ConversationID != "new1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if got["query"] != "hello" || got["user"] != "yui" || got["response_mode"] != "blocking" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if cid, ok := got["conversation_id"]; !ok || cid != "" {
		t.Fatalf("expected empty conversation_id in payload, got %v", got["conversation_id"])
	}
	if inputs, ok := got["inputs"].(map[string]any); !ok || len(inputs) != 0 {
		t.Fatalf("expected empty inputs object, got %v", got["inputs"])
	}
}

func TestSendNon2xxReturnsEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"not_found","message":"Conversation Not Exists."}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(WithURL(server.URL)).Send(context.Background(), "app-test", Request{Query: "x", ConversationID: "gone"})
	var endpointErr *EndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected EndpointError, got %v", err)
	}
	if endpointErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", endpointErr.StatusCode)
	}
	if endpointErr.Body == "" {
		t.Fatal("expected response body to be captured")
	}
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(WithURL(server.URL), WithTimeout(50*time.Millisecond))
	_, err := client.Send(context.Background(), "app-test", Request{Query: "x"})
	var endpointErr *EndpointError
	if !errors.As(err, &endpointErr) {
		t.Fatalf("expected EndpointError, got %v", err)
	}
	if endpointErr.StatusCode != 0 || endpointErr.Err == nil {
		t.Fatalf("expected transport error, got %+v", endpointErr)
	}
}

func TestSendRequiresAPIKey(t *testing.T) {
	_, err := NewClient().Send(context.Background(), " ", Request{Query: "x"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSendUndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	_, err := NewClient(WithURL(server.URL)).Send(context.Background(), "app-test", Request{Query: "x"})
	var endpointErr *EndpointError
	if !errors.As(err, &endpointErr) || endpointErr.Err == nil {
		t.Fatalf("expected decode EndpointError, got %v", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "status 200") || !strings.Contains(msg, "decode chat response") {
		t.Fatalf("error should carry the status and the decode cause, got %q", msg)
	}
}
