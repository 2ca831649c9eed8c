// Package syncapi is the REST client for the catch-up sync and history
// endpoints. It only fetches; applying the results is the reconciliation
// engine's job, through the same path live events take.
package syncapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prohands/chatsync/internal/transport"
)

// SyncResult is the server's response to a catch-up request: everything that
// happened since the checkpoint.
type SyncResult struct {
	Messages      []transport.MessageEvent `json:"messages"`
	StatusUpdates []transport.StatusUpdate `json:"statusUpdates"`
}

// HistoryPage is one page of a conversation's message history.
type HistoryPage struct {
	Messages []transport.MessageEvent `json:"messages"`
	Page     int                      `json:"page"`
	HasMore  bool                     `json:"hasMore"`
}

// MediaGrant is an upload target plus credentials for attaching media.
// Opaque to the sync core; it is handed to whoever performs the upload.
type MediaGrant struct {
	UploadURL string            `json:"uploadUrl"`
	MediaURL  string            `json:"mediaUrl"`
	Fields    map[string]string `json:"fields"`
	ExpiresAt int64             `json:"expiresAt"`
}

// Client calls the ProHands REST API. Failures are returned to the caller;
// there is no retry loop, the next explicit sync trigger retries.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a REST client with a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Sync fetches all messages and status updates since the checkpoint. A zero
// checkpoint requests from the epoch, i.e. everything the server retains.
func (c *Client) Sync(ctx context.Context, since time.Time) (*SyncResult, error) {
	u := fmt.Sprintf("%s/sync?since=%s", c.baseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	var result SyncResult
	if err := c.getJSON(ctx, u, &result); err != nil {
		return nil, fmt.Errorf("sync since %s: %w", since.UTC().Format(time.RFC3339), err)
	}
	return &result, nil
}

// History fetches one page of a conversation's messages, newest pages first.
func (c *Client) History(ctx context.Context, chatID string, page, size int) (*HistoryPage, error) {
	if size <= 0 {
		size = 50
	}
	u := fmt.Sprintf("%s/history/%s?page=%s&size=%s",
		c.baseURL, url.PathEscape(chatID), strconv.Itoa(page), strconv.Itoa(size))
	var result HistoryPage
	if err := c.getJSON(ctx, u, &result); err != nil {
		return nil, fmt.Errorf("history %s page %d: %w", chatID, page, err)
	}
	return &result, nil
}

// SignMedia requests an upload grant for a media attachment.
func (c *Client) SignMedia(ctx context.Context, contentType string) (*MediaGrant, error) {
	body := fmt.Sprintf(`{"contentType":%q}`, contentType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/media/sign", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sign media: unexpected status %d", resp.StatusCode)
	}
	var grant MediaGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("sign media: decode: %w", err)
	}
	return &grant, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
