package botrt

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"

	StoreBackendFile   = "file"
	StoreBackendPebble = "pebble"
)

// Options configures a bot run. Zero values fall back to sane
// defaults in normalizeOptions.
type Options struct {
	BotToken string
	OwnerID  int64
	APIBase  string

	Mode          string
	WebhookURL    string
	WebhookListen string
	WebhookPath   string
	WebhookSecret string

	StoreBackend string
	StateDir     string
	PebbleDir    string

	PollTimeout       time.Duration
	RequestTimeout    time.Duration
	MaxConcurrency    int
	RequestsPerSecond float64

	MetricsListen string

	VerifyMaxAttempts int
	VerifySeed        int64
}

func normalizeOptions(opts Options) (Options, error) {
	opts.BotToken = strings.TrimSpace(opts.BotToken)
	if opts.BotToken == "" {
		return opts, fmt.Errorf("bot token is required")
	}
	if opts.OwnerID == 0 {
		return opts, fmt.Errorf("owner id is required")
	}

	opts.Mode = strings.ToLower(strings.TrimSpace(opts.Mode))
	switch opts.Mode {
	case "":
		opts.Mode = ModePoll
	case ModePoll, ModeWebhook:
	default:
		return opts, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	if opts.Mode == ModeWebhook {
		opts.WebhookURL = strings.TrimSpace(opts.WebhookURL)
		if opts.WebhookURL == "" {
			return opts, fmt.Errorf("webhook url is required in webhook mode")
		}
		if strings.TrimSpace(opts.WebhookListen) == "" {
			opts.WebhookListen = ":8443"
		}
		if strings.TrimSpace(opts.WebhookPath) == "" {
			opts.WebhookPath = "/telegram/webhook"
		}
		if strings.TrimSpace(opts.WebhookSecret) == "" {
			opts.WebhookSecret = uuid.NewString()
		}
	}

	opts.StoreBackend = strings.ToLower(strings.TrimSpace(opts.StoreBackend))
	switch opts.StoreBackend {
	case "":
		opts.StoreBackend = StoreBackendFile
	case StoreBackendFile, StoreBackendPebble:
	default:
		return opts, fmt.Errorf("unknown store backend %q", opts.StoreBackend)
	}

	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	if opts.VerifyMaxAttempts < 0 {
		opts.VerifyMaxAttempts = 0
	}
	if opts.VerifySeed == 0 {
		opts.VerifySeed = time.Now().UnixNano()
	}
	return opts, nil
}
