package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookClient posts each delivery as JSON to a single HTTP endpoint.
type WebhookClient struct {
	url    string
	client *http.Client
}

func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type webhookRequest struct {
	ChatID  int64  `json:"chatId"`
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Media   string `json:"media,omitempty"`
	Caption string `json:"caption,omitempty"`
}

func (c *WebhookClient) SendText(ctx context.Context, recipient int64, body string) error {
	return c.post(ctx, webhookRequest{ChatID: recipient, Type: "text", Text: body})
}

func (c *WebhookClient) SendImage(ctx context.Context, recipient int64, ref, caption string) error {
	return c.post(ctx, webhookRequest{ChatID: recipient, Type: "image", Media: ref, Caption: caption})
}

func (c *WebhookClient) SendDocument(ctx context.Context, recipient int64, ref, caption string) error {
	return c.post(ctx, webhookRequest{ChatID: recipient, Type: "document", Media: ref, Caption: caption})
}

func (c *WebhookClient) SendVideo(ctx context.Context, recipient int64, ref, caption string) error {
	return c.post(ctx, webhookRequest{ChatID: recipient, Type: "video", Media: ref, Caption: caption})
}

func (c *WebhookClient) post(ctx context.Context, payload webhookRequest) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return classified(Invalid, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return classified(Invalid, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classified(Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return classified(Unreachable, err)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return classified(Transient, err)
	default:
		return classified(Invalid, err)
	}
}
