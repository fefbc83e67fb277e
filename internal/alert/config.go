package alert

import (
	"strings"

	"rebuybot/internal/config"
	"rebuybot/internal/core"
)

// NewFromConfig builds a manager with every channel whose credentials are set
func NewFromConfig(cfg config.AlertConfig, logger core.ILogger) *Manager {
	m := NewManager(logger)
	if cfg.MinLevel != "" {
		m.SetMinLevel(Level(strings.ToUpper(cfg.MinLevel)))
	}
	if url := cfg.SlackWebhookURL.Reveal(); url != "" {
		m.AddChannel(NewSlackChannel(url))
	}
	if token := cfg.TelegramBotToken.Reveal(); token != "" && cfg.TelegramChatID != "" {
		m.AddChannel(NewTelegramChannel(token, cfg.TelegramChatID))
	}
	return m
}
