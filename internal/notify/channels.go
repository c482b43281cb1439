package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"

	"panel-backup/internal/logging"
)

// Sender abstracts shoutrrr so channels can be tested without real services
type Sender interface {
	Send(url, message string) error
}

// ShoutrrrSender dispatches through the shoutrrr library
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// ShoutrrrChannel sends the plain-text body to one shoutrrr service URL
// (telegram://, slack://, discord://, smtp:// and the rest).
type ShoutrrrChannel struct {
	url    string
	sender Sender
}

func NewShoutrrrChannel(url string, sender Sender) *ShoutrrrChannel {
	return &ShoutrrrChannel{url: url, sender: sender}
}

func (c *ShoutrrrChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sender.Send(c.url, msg.Body()); err != nil {
		return fmt.Errorf("%s: %w", logging.RedactURL(c.url), err)
	}
	return nil
}

func (c *ShoutrrrChannel) Type() string {
	if i := strings.Index(c.url, "://"); i > 0 {
		return "shoutrrr:" + c.url[:i]
	}
	return "shoutrrr"
}

// WebhookConfig for generic JSON webhooks
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Method  string            `mapstructure:"method" yaml:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// WebhookChannel posts the message as JSON
type WebhookChannel struct {
	config WebhookConfig
	client *http.Client
}

func NewWebhookChannel(config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{config: config, client: &http.Client{Timeout: timeout}}
}

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := c.config.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Type() string {
	return "webhook"
}

// FileConfig for the JSON-lines channel
type FileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// FileChannel appends one JSON object per message
type FileChannel struct {
	config FileConfig
	mu     sync.Mutex
}

func NewFileChannel(config FileConfig) *FileChannel {
	return &FileChannel{config: config}
}

func (c *FileChannel) Send(ctx context.Context, msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.config.Path), 0700); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}
	f, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

func (c *FileChannel) Type() string {
	return "file"
}
