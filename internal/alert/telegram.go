package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/opensqt/gridbot/internal/core"
	resilienthttp "github.com/opensqt/gridbot/pkg/http"
)

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *resilienthttp.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   resilienthttp.NewClient(fmt.Sprintf("https://api.telegram.org/bot%s", botToken), 5*time.Second, nil),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert core.Alert) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch alert.Level {
	case core.AlertWarning:
		icon = "⚠️"
	case core.AlertError:
		icon = "❌"
	case core.AlertCritical:
		icon = "🚨"
	}

	text := fmt.Sprintf("%s *[%s] %s*\n\n%s", icon, alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		text += "\n"
		for k, v := range alert.Fields {
			text += fmt.Sprintf("\n- *%s*: %s", k, v)
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	if _, err := t.client.Post(ctx, "/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram api failed: %w", err)
	}

	return nil
}
