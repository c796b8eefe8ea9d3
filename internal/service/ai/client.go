package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// DefaultChatURL is the hosted chat-messages endpoint.
const DefaultChatURL = "https://api.dify.ai/v1/chat-messages"

// DefaultTimeout bounds a single blocking chat call.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of a failed response body is kept for display.
const maxErrorBody = 2048

// ErrMissingAPIKey is returned when Send is called without a bearer credential.
var ErrMissingAPIKey = errors.New("api key is required")

// Request is one user message forwarded to the endpoint.
type Request struct {
	Query          string
	User           string
	ConversationID string
}

// Reply is the endpoint's answer. ConversationID may be empty if the
// endpoint did not assign one.
type Reply struct {
	Answer         string
	ConversationID string
}

// EndpointError describes a failed call: transport failure, timeout,
// non-2xx status or an undecodable body.
type EndpointError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *EndpointError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("endpoint returned status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("endpoint returned status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("endpoint returned status %d", e.StatusCode)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "endpoint request failed"
	}
}

func (e *EndpointError) Unwrap() error { return e.Err }

type chatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id"`
	ResponseMode   string         `json:"response_mode"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

// Client calls the hosted chat endpoint in blocking mode.
type Client struct {
	url        string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithURL overrides the endpoint URL.
func WithURL(url string) Option {
	return func(c *Client) {
		if strings.TrimSpace(url) != "" {
			c.url = url
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient builds a Client with a 60 second timeout unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		url:        DefaultChatURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts one message with the persona's bearer credential. Failures are
// returned as *EndpointError and are never retried here.
func (c *Client) Send(ctx context.Context, apiKey string, req Request) (Reply, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Reply{}, &EndpointError{Err: ErrMissingAPIKey}
	}

	payload, err := json.Marshal(chatRequest{
		Inputs:         map[string]any{},
		Query:          req.Query,
		User:           req.User,
		ConversationID: req.ConversationID,
		ResponseMode:   "blocking",
	})
	if err != nil {
		return Reply{}, &EndpointError{Err: fmt.Errorf("encode chat request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, &EndpointError{Err: fmt.Errorf("build chat request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, &EndpointError{Err: fmt.Errorf("send chat request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reply{}, &EndpointError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Reply{}, &EndpointError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode chat response: %w", err)}
	}

	log.Printf("[ai] chat reply conversation=%s length=%d elapsed=%s",
		decoded.ConversationID, len(decoded.Answer), time.Since(start).Round(time.Millisecond))

	return Reply{Answer: decoded.Answer, ConversationID: decoded.ConversationID}, nil
}
