package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	viper.SetDefault("mode", "poll")
	viper.SetDefault("bot.api_base", "")

	viper.SetDefault("webhook.listen", ":8443")
	viper.SetDefault("webhook.path", "/telegram/webhook")

	viper.SetDefault("store.backend", "file")
	viper.SetDefault("file_state_dir", "~/.telegram-chat-bot")

	viper.SetDefault("poll_timeout", 30*time.Second)
	viper.SetDefault("request_timeout", 30*time.Second)
	viper.SetDefault("max_concurrency", 3)
	viper.SetDefault("rate_limit_per_second", 25.0)

	viper.SetDefault("verification.max_attempts", 0)

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)
}
