package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultAPIBase    = "https://api.telegram.org"
	requestTimeout    = 30 * time.Second
	defaultRetryAfter = 30 * time.Second
	retryMargin       = 1 * time.Second
)

// Client delivers formatted messages to a single fixed Telegram chat via the
// Bot API. A rate-limited response is retried exactly once after waiting the
// announced retry-after plus a small margin; any other failure is final.
type Client struct {
	httpClient *http.Client
	apiBase    string
	token      string
	chatID     string
	userAgent  string
}

func NewClient(httpClient *http.Client, token, chatID, userAgent string) *Client {
	return &Client{
		httpClient: httpClient,
		apiBase:    defaultAPIBase,
		token:      token,
		chatID:     chatID,
		userAgent:  userAgent,
	}
}

// WithAPIBase overrides the Bot API base URL, e.g. for a local stub.
func (c *Client) WithAPIBase(base string) *Client {
	c.apiBase = base
	return c
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts an HTML-formatted message. It blocks through at most one
// rate-limit backoff; the context cancels the wait.
func (c *Client) Send(ctx context.Context, text string) error {
	retryAfter, err := c.sendOnce(ctx, text)
	if err == nil {
		return nil
	}
	if retryAfter == 0 {
		return err
	}

	slog.Warn("Telegram rate limit encountered", "retry_after", retryAfter.String())

	select {
	case <-time.After(retryAfter + retryMargin):
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := c.sendOnce(ctx, text); err != nil {
		return fmt.Errorf("failed after rate-limit retry: %w", err)
	}
	return nil
}

// sendOnce performs a single sendMessage call. A non-zero retryAfter marks
// the error as a rate limit the caller may retry.
func (c *Client) sendOnce(ctx context.Context, text string) (retryAfter time.Duration, err error) {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: false,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode message: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(timeoutCtx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return 0, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = defaultRetryAfter
		var parsed sendMessageResponse
		if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(parsed.Parameters.RetryAfter) * time.Second
		}
		return retryAfter, fmt.Errorf("rate limited, retry after %s", retryAfter)
	}

	return 0, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, string(body))
}
