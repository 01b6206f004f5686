package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sowflow/sowflow/modules/sow/domain/events"
)

type SlackOptions struct {
	WebhookURL string
	Channel    string
	Timeout    time.Duration
	Client     *http.Client
}

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	url     string
	channel string
	client  *http.Client
}

func NewSlackNotifier(opts SlackOptions) (*SlackNotifier, error) {
	if opts.WebhookURL == "" {
		return nil, errors.New("slack notifier: webhook url is required")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &SlackNotifier{url: opts.WebhookURL, channel: opts.Channel, client: client}, nil
}

type slackPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

func (n *SlackNotifier) Notify(ctx context.Context, ev *events.WorkflowEventV1) error {
	body, err := json.Marshal(slackPayload{Channel: n.channel, Text: Message(ev)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack notifier: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack notifier: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
