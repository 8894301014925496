package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Telegram sends messages through the Bot API. With an image reference it
// uses sendPhoto with the text as caption, otherwise sendMessage.
type Telegram struct {
	token  string
	chatID string
	base   string
	client *http.Client
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		base:   "https://api.telegram.org",
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	method := "sendMessage"
	payload := map[string]any{
		"chat_id":    t.chatID,
		"parse_mode": "HTML",
	}
	if msg.PhotoURL != "" {
		method = "sendPhoto"
		payload["photo"] = msg.PhotoURL
		payload["caption"] = msg.Text
	} else {
		payload["text"] = msg.Text
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("telegram %s: status %d: %w", method, resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("telegram %s: %s", method, result.Description)
	}
	return nil
}

// LogSender discards messages; it stands in for Telegram when the bot is
// not configured (offline/dev runs).
type LogSender struct{}

func (LogSender) Send(context.Context, Message) error { return nil }
