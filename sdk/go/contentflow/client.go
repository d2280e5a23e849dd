package contentflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout bounds the non-streaming calls of clients created without
// a custom http.Client. Streaming calls rely on the request context instead.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ContentFlow API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	userID      string
}

// Request is the payload of a submitted request.
type Request struct {
	Query       string            `json:"query"`
	SessionID   string            `json:"sessionId,omitempty"`
	ProjectID   string            `json:"projectId,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// ToolSpec describes one tool of the server catalog.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// HistoryItem is one processed query stored in a session.
type HistoryItem struct {
	Query      string    `json:"query"`
	IntentType string    `json:"intentType"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the short-term memory the server keeps across requests.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId,omitempty"`
	ProjectID string        `json:"projectId,omitempty"`
	History   []HistoryItem `json:"history"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("contentflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ContentFlow API. When httpClient is
// nil a client without a global timeout is used so streams are not cut short.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every call.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SetUserID sets the X-User-ID header used when the server runs without auth.
func (c *Client) SetUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

// Submit posts a request and returns the event stream. The caller must Close
// the stream; cancelling ctx also ends it.
func (c *Client) Submit(ctx context.Context, submission Request) (*Stream, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/requests", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if submission.ProjectID != "" {
		req.Header.Set("X-Project-ID", submission.ProjectID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return newStream(resp.Body), nil
}

// Run submits a request and collects every event until the stream ends.
func (c *Client) Run(ctx context.Context, submission Request) (*Result, error) {
	stream, err := c.Submit(ctx, submission)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return Collect(stream)
}

// Tools lists the server tool catalog.
func (c *Client) Tools(ctx context.Context) ([]ToolSpec, error) {
	var payload struct {
		Tools []ToolSpec `json:"tools"`
	}
	if err := c.get(ctx, "/api/v1/tools", &payload); err != nil {
		return nil, err
	}
	return payload.Tools, nil
}

// Session fetches a session by identifier.
func (c *Client) Session(ctx context.Context, id string) (*Session, error) {
	var sc Session
	if err := c.get(ctx, "/api/v1/sessions/"+url.PathEscape(id), &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultHTTPTimeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token, user := c.accessToken, c.userID
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	return req, nil
}

func readError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
}
