package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Share is the server's description of a created share.
type Share struct {
	Slug        string     `json:"slug"`
	IsBulk      bool       `json:"isBulk"`
	FileCount   int        `json:"fileCount"`
	TotalSize   int64      `json:"totalSize"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	HasPassword bool       `json:"hasPassword"`
	URL         string     `json:"url"`
}

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a snowshare server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client. A nil httpClient uses one without a timeout,
// since uploads may run for a long time.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

// Upload streams the payload to POST /api/upload.
func (c *Client) Upload(ctx context.Context, p *Payload) (*Share, error) {
	body, contentType := p.Open()
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeAPIError(resp)
	}

	var result struct {
		Share Share `json:"share"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &result.Share, nil
}

// Delete removes a share the token's user owns.
func (c *Client) Delete(ctx context.Context, slug string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/shares/"+slug, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return decodeAPIError(resp)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) != nil {
		body.Error = ""
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
