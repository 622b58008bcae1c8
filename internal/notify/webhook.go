package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookDispatcher POSTs each notification to a gateway endpoint.
type WebhookDispatcher struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookDispatcher(url, secret string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookDispatcher{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: timeout},
	}
}

type webhookBody struct {
	Type      string  `json:"type"`
	Recipient string  `json:"recipient"`
	Text      string  `json:"text"`
	Payload   Payload `json:"payload"`
}

func (d *WebhookDispatcher) Send(ctx context.Context, messageType string, payload Payload) error {
	data, err := json.Marshal(webhookBody{
		Type:      messageType,
		Recipient: payload.Address(),
		Text:      payload.Text(),
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shiftdrop-Message-Type", messageType)
	if strings.TrimSpace(d.Secret) != "" {
		req.Header.Set("X-Shiftdrop-Secret", d.Secret)
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
