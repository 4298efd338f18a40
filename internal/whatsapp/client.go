package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	maxCaptionLen  = 1000
	sendTimeout    = 30 * time.Second
)

// ErrLocalURL marks a media URL the messaging backend cannot fetch (relative,
// non-http or loopback-scoped). No remote call is attempted for these.
var ErrLocalURL = errors.New("media URL is not publicly reachable")

// ErrNotConfigured is returned when Twilio credentials are absent.
var ErrNotConfigured = errors.New("twilio not configured")

// Client pushes text and media messages through the Twilio Messages API.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
	// Delay before the single retry after a rate-limit response.
	retryDelay time.Duration
}

func NewClient(accountSID, authToken, fromNumber string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: sendTimeout},
		retryDelay: 5 * time.Second,
	}
}

// Enabled reports whether delivery credentials are configured.
func (c *Client) Enabled() bool {
	return c.accountSID != "" && c.authToken != "" && c.fromNumber != ""
}

// IsPublicURL reports whether the messaging backend's fetch infrastructure
// can reach raw: absolute http(s) with a non-loopback host.
func IsPublicURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "", "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return false
	}
	return true
}

// SendMedia delivers a media URL with an optional caption. The caption is
// truncated to the backend's limit; a rate-limit response gets exactly one
// retry after a bounded delay.
func (c *Client) SendMedia(ctx context.Context, to, mediaURL, caption string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	if !IsPublicURL(mediaURL) {
		return "", fmt.Errorf("%w: %s", ErrLocalURL, mediaURL)
	}
	if len(caption) > maxCaptionLen {
		caption = caption[:maxCaptionLen]
	}
	form := url.Values{}
	form.Set("From", normalizeAddress(c.fromNumber))
	form.Set("To", normalizeAddress(to))
	form.Set("MediaUrl", mediaURL)
	if caption != "" {
		form.Set("Body", caption)
	}
	return c.send(ctx, form)
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	if len(body) > maxCaptionLen {
		body = body[:maxCaptionLen]
	}
	form := url.Values{}
	form.Set("From", normalizeAddress(c.fromNumber))
	form.Set("To", normalizeAddress(to))
	form.Set("Body", body)
	return c.send(ctx, form)
}

func (c *Client) send(ctx context.Context, form url.Values) (string, error) {
	sid, status, err := c.post(ctx, form)
	if status == http.StatusTooManyRequests {
		log.Printf("twilio rate limited, retrying once in %s", c.retryDelay)
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		sid, _, err = c.post(ctx, form)
	}
	return sid, err
}

func (c *Client) post(ctx context.Context, form url.Values) (string, int, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(resp.Body)
		return "", resp.StatusCode, fmt.Errorf("twilio status %d: %s", resp.StatusCode, excerpt(string(bb)))
	}
	var out struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode twilio response: %w", err)
	}
	return out.SID, resp.StatusCode, nil
}

// normalizeAddress ensures a whatsapp:+<digits> address.
func normalizeAddress(number string) string {
	n := strings.TrimPrefix(strings.TrimSpace(number), "whatsapp:")
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	return "whatsapp:" + n
}

func excerpt(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
