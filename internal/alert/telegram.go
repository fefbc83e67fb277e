package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	httpx "rebuybot/pkg/http"
)

const telegramAPI = "https://api.telegram.org"

type TelegramChannel struct {
	chatID string
	client *httpx.Client
}

// NewTelegramChannel sends through the Bot API. The token is part of the base
// URL so it never shows up in request paths recorded by tracing.
func NewTelegramChannel(botToken, chatID string, opts ...httpx.Option) *TelegramChannel {
	return newTelegramChannel(telegramAPI, botToken, chatID, opts...)
}

func newTelegramChannel(apiURL, botToken, chatID string, opts ...httpx.Option) *TelegramChannel {
	return &TelegramChannel{
		chatID: chatID,
		client: httpx.NewClient(apiURL+"/bot"+botToken, 5*time.Second, nil, opts...),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert Payload) error {
	icon := "ℹ️"
	switch alert.Level {
	case Warning:
		icon = "⚠️"
	case Error:
		icon = "❌"
	case Critical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s] %s*\n\n%s", icon, alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		b.WriteString("\n")
		for _, k := range alert.sortedKeys() {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       b.String(),
		"parse_mode": "Markdown",
	}

	if _, err := t.client.Post(ctx, "/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram api: %w", err)
	}
	return nil
}
