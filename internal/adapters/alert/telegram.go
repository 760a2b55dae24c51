package alert

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

// DefaultTelegramURL is the Bot API base.
const DefaultTelegramURL = "https://api.telegram.org"

// TelegramOption configures a Telegram alerter.
type TelegramOption func(*Telegram)

// WithBaseURL points the alerter at another Bot API host.
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			t.baseURL = u
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) {
		if c != nil {
			t.client = c
		}
	}
}

// Telegram posts the alert message to one chat.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegram returns ErrDisabled when token or chatID is empty.
func NewTelegram(token, chatID string, opts ...TelegramOption) (*Telegram, error) {
	token, chatID = strings.TrimSpace(token), strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		return nil, ErrDisabled
	}
	t := &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: DefaultTelegramURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements Alerter.
func (t *Telegram) Name() string { return "telegram" }

// Close implements Alerter.
func (t *Telegram) Close() error { return nil }

type sendMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Alerter.
func (t *Telegram) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(sendMessage{ChatID: t.chatID, Text: a.Message})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		return fmt.Errorf("%w: telegram request failed", ErrDelivery)
	}
	defer resp.Body.Close()

	var reply apiReply
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &reply)
	if resp.StatusCode >= http.StatusMultipleChoices || !reply.OK {
		return fmt.Errorf("%w: %w", ErrDelivery, &APIError{Status: resp.StatusCode, Description: reply.Description})
	}
	return nil
}
