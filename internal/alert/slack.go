package alert

import (
	"context"
	"fmt"
	"time"

	httpx "rebuybot/pkg/http"
)

type SlackChannel struct {
	client *httpx.Client
}

// NewSlackChannel posts to an incoming-webhook URL
func NewSlackChannel(webhookURL string, opts ...httpx.Option) *SlackChannel {
	return &SlackChannel{client: httpx.NewClient(webhookURL, 5*time.Second, nil, opts...)}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert Payload) error {
	color := "#36a64f"
	switch alert.Level {
	case Warning:
		color = "#ffcc00"
	case Error:
		color = "#ff0000"
	case Critical:
		color = "#8b0000"
	}

	fields := make([]map[string]interface{}, 0, len(alert.Fields))
	for _, k := range alert.sortedKeys() {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": alert.Fields[k],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "rebuybot",
			},
		},
	}

	if _, err := s.client.Post(ctx, "", payload); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
