package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketchat/internal/models"
)

// API is the REST surface the widget engine needs from the chat server.
// Tests substitute an in-memory fake.
type API interface {
	Messages(ctx context.Context, viewerID, partnerID string) (*models.History, error)
	Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, viewerID, partnerID string) error
}

// RESTClient talks to the chat server's HTTP API with a bearer token.
type RESTClient struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewRESTClient builds a client for the given server base URL, for example
// "https://api.example.com". Requests time out after ten seconds so a stalled
// server never wedges the widget.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RESTClient) Messages(ctx context.Context, viewerID, partnerID string) (*models.History, error) {
	q := url.Values{}
	q.Set("userA", viewerID)
	q.Set("userB", partnerID)
	var history models.History
	if err := c.do(ctx, http.MethodGet, "/api/chat/messages", q, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

func (c *RESTClient) Conversations(ctx context.Context, viewerID string) ([]models.Conversation, error) {
	q := url.Values{}
	q.Set("userId", viewerID)
	var convs []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", q, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *RESTClient) DeleteConversation(ctx context.Context, viewerID, partnerID string) error {
	q := url.Values{}
	q.Set("partnerId", partnerID)
	return c.do(ctx, http.MethodDelete, "/api/chat/conversations", q, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat api %s %s: status %d: %s", method, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chat api %s %s: decode response: %w", method, path, err)
	}
	return nil
}
