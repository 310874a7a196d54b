package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Channel delivers rendered alert content over one notification medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, userID, content string) error
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	UserID  string      `json:"user_id"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to an HTTP endpoint, e.g. a push
// gateway.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(name, url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if name == "" {
		return nil, errors.New("webhook channel: empty name")
	}
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Name implements Channel.
func (w *WebhookChannel) Name() string {
	if w == nil {
		return ""
	}
	return w.name
}

// Send posts the content as a JSON payload.
func (w *WebhookChannel) Send(ctx context.Context, userID, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	payload := webhookPayload{
		MsgType: "text",
		UserID:  userID,
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogChannel writes notifications to the process log. It backs the
// local-system medium and never fails.
type LogChannel struct {
	logger *log.Logger
}

// NewLogChannel constructs a log channel.
func NewLogChannel(logger *log.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Name implements Channel.
func (l *LogChannel) Name() string { return "local-system" }

// Send implements Channel.
func (l *LogChannel) Send(_ context.Context, userID, content string) error {
	if l == nil || l.logger == nil {
		return errors.New("log channel: nil logger")
	}
	l.logger.Printf("notice user=%s %s", userID, content)
	return nil
}

// Notice is an in-app banner waiting to be fetched by a client.
type Notice struct {
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// InAppChannel keeps recent notices per user for in-app banner display.
type InAppChannel struct {
	mu      sync.Mutex
	notices map[string][]Notice
	keep    int
	clock   Clock
}

// NewInAppChannel constructs an in-app banner channel keeping at most
// keep notices per user.
func NewInAppChannel(keep int, clock Clock) *InAppChannel {
	if keep <= 0 {
		keep = 20
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &InAppChannel{notices: make(map[string][]Notice), keep: keep, clock: clock}
}

// Name implements Channel.
func (c *InAppChannel) Name() string { return "in-app" }

// Send implements Channel.
func (c *InAppChannel) Send(_ context.Context, userID, content string) error {
	if c == nil {
		return errors.New("in-app channel: nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := append(c.notices[userID], Notice{
		UserID:    userID,
		Content:   content,
		CreatedAt: c.clock.Now().UTC(),
	})
	if len(list) > c.keep {
		list = list[len(list)-c.keep:]
	}
	c.notices[userID] = list
	return nil
}

// Drain returns and clears the pending notices for a user.
func (c *InAppChannel) Drain(userID string) []Notice {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.notices[userID]
	delete(c.notices, userID)
	return list
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
