package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Graph API error codes that mean Meta is throttling us.
const (
	codeTooManyCalls     = 4
	codeUserRequestLimit = 17
	codePageRequestLimit = 32
	codeCustomRateLimit  = 613
)

// APIError is a structured error from the Graph API.
type APIError struct {
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// RateLimited reports whether Meta rejected the call for throttling reasons.
func (e *APIError) RateLimited() bool {
	switch e.Code {
	case codeTooManyCalls, codeUserRequestLimit, codePageRequestLimit, codeCustomRateLimit:
		return true
	}
	return false
}

// Client talks to the Meta Graph API on behalf of a connected account.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SendMessage sends a direct message from the account to a recipient.
func (c *Client) SendMessage(ctx context.Context, accessToken, recipientID, text string) error {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	return c.post(ctx, "/me/messages", accessToken, body, nil)
}

// ReplyToComment posts a reply under a comment.
func (c *Client) ReplyToComment(ctx context.Context, accessToken, commentID, text string) error {
	body := map[string]any{"message": text}
	return c.post(ctx, "/"+commentID+"/replies", accessToken, body, nil)
}

// UserProfile is the subset of profile fields automations use.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// GetUserProfile fetches the public profile of an Instagram user.
func (c *Client) GetUserProfile(ctx context.Context, accessToken, userID string) (UserProfile, error) {
	var out UserProfile
	err := c.get(ctx, "/"+userID, accessToken, url.Values{"fields": {"id,username,name"}}, &out)
	return out, err
}

// RefreshToken exchanges a long-lived token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context, accessToken string) (string, time.Duration, error) {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	q := url.Values{"grant_type": {"ig_refresh_token"}}
	if err := c.get(ctx, "/refresh_access_token", accessToken, q, &out); err != nil {
		return "", 0, err
	}
	return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
}

func (c *Client) get(ctx context.Context, path, accessToken string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("access_token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("instagram: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path, accessToken string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("instagram: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?access_token="+url.QueryEscape(accessToken), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("instagram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("instagram: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("instagram: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var wrapper struct {
			Error APIError `json:"error"`
		}
		if jerr := json.Unmarshal(raw, &wrapper); jerr == nil && wrapper.Error.Code != 0 {
			return &wrapper.Error
		}
		return fmt.Errorf("instagram: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("instagram: decode response: %w", err)
	}
	return nil
}

// IsRateLimited reports whether err is a Graph API throttling error.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}
