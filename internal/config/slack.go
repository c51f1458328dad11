package config

import (
	"fmt"
	"strings"
)

// validateSlackConfig checks the settings the Slack source and the sync command rely on
func validateSlackConfig(config *Config) error {
	if err := RequireSlackToken(config); err != nil {
		return err
	}
	// Rate limits per minute
	if config.SlackRatePerMinute <= 0 {
		config.SlackRatePerMinute = 50
	}
	if config.SlackMaxRetries < 1 {
		config.SlackMaxRetries = 1
	}
	if config.SlackMaxRetries > 10 {
		config.SlackMaxRetries = 10
	}
	return nil
}

// RequireSlackToken fails unless a bot token is configured.
func RequireSlackToken(config *Config) error {
	token := strings.TrimSpace(config.SlackBotToken)
	if token == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if !strings.HasPrefix(token, "xoxb-") && !strings.HasPrefix(token, "xoxp-") {
		return fmt.Errorf("SLACK_BOT_TOKEN must be a bot (xoxb-) or user (xoxp-) token")
	}
	return nil
}
