package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/Vico-7/Telegram-chat-bot/internal/botrt"
	"github.com/Vico-7/Telegram-chat-bot/internal/logutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			opts := botrt.Options{
				BotToken: viper.GetString("bot.token"),
				OwnerID:  viper.GetInt64("bot.owner_id"),
				APIBase:  viper.GetString("bot.api_base"),

				Mode:          viper.GetString("mode"),
				WebhookURL:    viper.GetString("webhook.url"),
				WebhookListen: viper.GetString("webhook.listen"),
				WebhookPath:   viper.GetString("webhook.path"),
				WebhookSecret: viper.GetString("webhook.secret"),

				StoreBackend: viper.GetString("store.backend"),
				StateDir:     viper.GetString("file_state_dir"),
				PebbleDir:    viper.GetString("store.pebble_dir"),

				PollTimeout:       viper.GetDuration("poll_timeout"),
				RequestTimeout:    viper.GetDuration("request_timeout"),
				MaxConcurrency:    viper.GetInt("max_concurrency"),
				RequestsPerSecond: viper.GetFloat64("rate_limit_per_second"),

				MetricsListen: viper.GetString("metrics.listen"),

				VerifyMaxAttempts: viper.GetInt("verification.max_attempts"),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return botrt.Run(ctx, logger, opts)
		},
	}

	cmd.Flags().String("bot-token", "", "Telegram bot token.")
	cmd.Flags().Int64("bot-owner-id", 0, "Telegram user id of the bot owner.")
	cmd.Flags().String("bot-api-base", "", "Override the Bot API base URL.")
	cmd.Flags().String("mode", "poll", "Update delivery mode: poll|webhook.")
	cmd.Flags().String("webhook-url", "", "Public HTTPS URL Telegram should deliver updates to.")
	cmd.Flags().String("webhook-listen", ":8443", "Local address the webhook server listens on.")
	cmd.Flags().String("webhook-path", "/telegram/webhook", "Path the webhook server serves.")
	cmd.Flags().String("webhook-secret", "", "Webhook secret token (generated when empty).")
	cmd.Flags().String("store-backend", "file", "State backend: file|pebble.")
	cmd.Flags().String("state-dir", "", "Directory for file-backed state.")
	cmd.Flags().String("pebble-dir", "", "Directory for the pebble database.")
	cmd.Flags().Duration("poll-timeout", 0, "Long-poll timeout for getUpdates.")
	cmd.Flags().Duration("request-timeout", 0, "Per-update handling timeout.")
	cmd.Flags().Int("max-concurrency", 0, "Max updates handled in parallel across users.")
	cmd.Flags().Float64("rate-limit-per-second", 0, "Outbound Bot API requests per second.")
	cmd.Flags().String("metrics-listen", "", "Address for the /metrics endpoint (disabled when empty).")
	cmd.Flags().Int("verify-max-attempts", 0, "Wrong answers before auto-block (0 = unlimited).")

	_ = viper.BindPFlag("bot.token", cmd.Flags().Lookup("bot-token"))
	_ = viper.BindPFlag("bot.owner_id", cmd.Flags().Lookup("bot-owner-id"))
	_ = viper.BindPFlag("bot.api_base", cmd.Flags().Lookup("bot-api-base"))
	_ = viper.BindPFlag("mode", cmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("webhook.url", cmd.Flags().Lookup("webhook-url"))
	_ = viper.BindPFlag("webhook.listen", cmd.Flags().Lookup("webhook-listen"))
	_ = viper.BindPFlag("webhook.path", cmd.Flags().Lookup("webhook-path"))
	_ = viper.BindPFlag("webhook.secret", cmd.Flags().Lookup("webhook-secret"))
	_ = viper.BindPFlag("store.backend", cmd.Flags().Lookup("store-backend"))
	_ = viper.BindPFlag("file_state_dir", cmd.Flags().Lookup("state-dir"))
	_ = viper.BindPFlag("store.pebble_dir", cmd.Flags().Lookup("pebble-dir"))
	_ = viper.BindPFlag("poll_timeout", cmd.Flags().Lookup("poll-timeout"))
	_ = viper.BindPFlag("request_timeout", cmd.Flags().Lookup("request-timeout"))
	_ = viper.BindPFlag("max_concurrency", cmd.Flags().Lookup("max-concurrency"))
	_ = viper.BindPFlag("rate_limit_per_second", cmd.Flags().Lookup("rate-limit-per-second"))
	_ = viper.BindPFlag("metrics.listen", cmd.Flags().Lookup("metrics-listen"))
	_ = viper.BindPFlag("verification.max_attempts", cmd.Flags().Lookup("verify-max-attempts"))

	return cmd
}
