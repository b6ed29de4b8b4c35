// Package notify sends run summaries to Telegram.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxItemsPerMessage = 20
	maxMessageChars    = 4000
	requestTimeout     = 10 * time.Second
)

// Notifier posts messages to a Telegram chat. A zero-config notifier is
// disabled and drops everything silently.
type Notifier struct {
	BotToken string
	ChatID   string
	BaseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewNotifier builds a Telegram notifier. baseURL is overridable for tests
// and defaults to the public Bot API.
func NewNotifier(botToken, chatID, baseURL string, logger *slog.Logger) *Notifier {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  baseURL,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
	}
}

// Enabled reports whether credentials are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.BotToken != "" && n.ChatID != ""
}

// Send posts one message. Errors are logged and returned but callers
// generally treat notification failures as non-fatal.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.BaseURL, n.BotToken)
	params := url.Values{}
	params.Set("chat_id", n.ChatID)
	params.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("Telegram send failed", "error", err)
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("Telegram send rejected", "status", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// SendItemized posts a header plus a list of lines, split into messages of
// at most 20 items and 4000 characters each so long runs never hit the
// Bot API length limit.
func (n *Notifier) SendItemized(ctx context.Context, header string, items []string) error {
	if !n.Enabled() {
		return nil
	}
	if len(items) == 0 {
		return n.Send(ctx, header)
	}
	for start := 0; start < len(items); {
		end := start + maxItemsPerMessage
		if end > len(items) {
			end = len(items)
		}
		// Shrink the bucket until it fits the char budget.
		for end > start+1 && messageLen(header, items[start:end]) > maxMessageChars {
			end--
		}
		if err := n.Send(ctx, buildMessage(header, items[start:end])); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func buildMessage(header string, items []string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, item := range items {
		b.WriteString("\n")
		b.WriteString(item)
	}
	return b.String()
}

func messageLen(header string, items []string) int {
	total := len(header)
	for _, item := range items {
		total += 1 + len(item)
	}
	return total
}
