package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/KafClaw/roadmap/internal/bus"
)

// SlackConfig configures the Slack relay.
type SlackConfig struct {
	Token   string
	Channel string
	// APIBase overrides the Slack Web API endpoint, mainly for tests.
	APIBase string
	// MinSeverity filters note signals; "" means warning.
	MinSeverity string
	HTTPClient  *http.Client
}

// SlackSink posts notes at or above a minimum severity, and resume
// candidates, to one channel.
type SlackSink struct {
	api     *slack.Client
	channel string
	min     int
	log     *slog.Logger
}

// NewSlackSink builds a sink using a bot token.
func NewSlackSink(cfg SlackConfig, logger *slog.Logger) (*SlackSink, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("slack relay: token is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, fmt.Errorf("slack relay: channel is required")
	}
	min := strings.TrimSpace(cfg.MinSeverity)
	if min == "" {
		min = "warning"
	}
	rank, ok := severityRank[min]
	if !ok {
		return nil, fmt.Errorf("slack relay: unknown severity %q", min)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	opts := []slack.Option{slack.OptionHTTPClient(client)}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackSink{
		api:     slack.New(token, opts...),
		channel: channel,
		min:     rank,
		log:     logger,
	}, nil
}

var severityRank = map[string]int{"info": 0, "warning": 1, "error": 2}

// Wants reports whether the sink posts sig.
func (s *SlackSink) Wants(sig *bus.Signal) bool {
	switch sig.Kind {
	case bus.KindResumeCandidate:
		return true
	case bus.KindNote:
		return severityRank[sig.Severity] >= s.min
	}
	return false
}

// Handle posts sig when the sink wants it. Its signature matches bus.Subscribe.
func (s *SlackSink) Handle(ctx context.Context, sig *bus.Signal) {
	if !s.Wants(sig) {
		return
	}
	if err := s.Post(ctx, sig); err != nil {
		s.log.Warn("slack relay failed", "kind", sig.Kind, "error", err)
	}
}

// Post sends sig to the channel regardless of filtering.
func (s *SlackSink) Post(ctx context.Context, sig *bus.Signal) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(formatSignal(sig), false))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func formatSignal(sig *bus.Signal) string {
	var b strings.Builder
	switch sig.Severity {
	case "error":
		b.WriteString(":red_circle: ")
	case "warning":
		b.WriteString(":warning: ")
	}
	if sig.Kind == bus.KindResumeCandidate {
		b.WriteString(":leftwards_arrow_with_hook: ")
	}
	b.WriteString(sig.Content)
	if sig.RefKind != "" {
		fmt.Fprintf(&b, " (%s %s)", sig.RefKind, sig.RefID)
	}
	return b.String()
}
