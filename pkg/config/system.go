package config

// SlackConfig holds resolved Slack notification configuration for the
// urgent UI-request notifier. Disabled unless a channel is configured
// and the token env var is set at runtime.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string // Env var name containing the bot token (default: "SLACK_BOT_TOKEN")
	Channel  string
}
