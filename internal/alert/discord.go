package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/opensqt/gridbot/internal/core"
	resilienthttp "github.com/opensqt/gridbot/pkg/http"
)

// DiscordChannel delivers alerts via a Discord incoming webhook.
type DiscordChannel struct {
	webhookURL string
	client     *resilienthttp.Client
}

// NewDiscordChannel builds a Discord delivery channel.
func NewDiscordChannel(webhookURL string) *DiscordChannel {
	return &DiscordChannel{
		webhookURL: webhookURL,
		client:     resilienthttp.NewClient(webhookURL, 5*time.Second, nil),
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Send(ctx context.Context, a core.Alert) error {
	if d.webhookURL == "" {
		return nil
	}

	color := 0x36a64f // green
	switch a.Level {
	case core.AlertWarning:
		color = 0xffcc00
	case core.AlertError:
		color = 0xff0000
	case core.AlertCritical:
		color = 0x8b0000
	}

	fields := make([]map[string]interface{}, 0, len(a.Fields))
	for k, v := range a.Fields {
		fields = append(fields, map[string]interface{}{
			"name":   k,
			"value":  v,
			"inline": true,
		})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("[%s] %s", a.Level, a.Title),
				"description": a.Message,
				"color":       color,
				"fields":      fields,
				"timestamp":   a.Timestamp.UTC().Format(time.RFC3339),
				"footer":      map[string]string{"text": "gridbot"},
			},
		},
	}

	if _, err := d.client.Post(ctx, "", payload); err != nil {
		return fmt.Errorf("discord webhook failed: %w", err)
	}

	return nil
}
