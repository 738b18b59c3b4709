package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/bus"
	"github.com/KafClaw/roadmap/internal/config"
	"github.com/KafClaw/roadmap/internal/hierarchy"
	"github.com/KafClaw/roadmap/internal/reconcile"
	"github.com/KafClaw/roadmap/internal/relay"
	"github.com/KafClaw/roadmap/internal/store"
)

// app is everything one command invocation needs.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *store.Store
	bus    *bus.SignalBus
	svc    *hierarchy.Service
	engine *reconcile.Engine
	kafka  *relay.KafkaSink
}

// openApp loads config, opens the store and wires the bus and relays.
// Callers must defer a.close.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(dbPath) != "" {
		cfg.Store.Path = dbPath
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	st, err := store.Open(store.Options{
		Path:           cfg.Store.Path,
		Driver:         cfg.Store.Driver,
		BusyTimeout:    cfg.Store.BusyTimeout,
		MaxBusyRetries: cfg.Store.MaxBusyRetries,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   cfg,
		log:   logger,
		store: st,
		bus:   bus.New(256),
	}
	if err := a.wireRelays(); err != nil {
		_ = st.Close()
		return nil, err
	}
	a.svc = hierarchy.New(st, hierarchy.Options{
		Publisher:    a.bus,
		Logger:       logger,
		HistoryLimit: cfg.Focus.HistoryLimit,
	})
	a.engine = reconcile.New(st, a.bus, logger)
	if !jsonOut {
		a.bus.Subscribe(bus.KindNextStep, hintPrinter(cmd.OutOrStdout(), "next"))
		a.bus.Subscribe(bus.KindResumeCandidate, hintPrinter(cmd.OutOrStdout(), "resume"))
	}
	return a, nil
}

func (a *app) wireRelays() error {
	if k := a.cfg.Relay.Kafka; k.Enabled {
		sink, err := relay.NewKafkaSink(relay.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic, Source: "roadmap"}, a.log)
		if err != nil {
			return err
		}
		a.kafka = sink
		a.bus.Subscribe(bus.KindAll, sink.Handle)
		a.log.Debug("kafka relay enabled", "topic", k.Topic, "brokers", len(k.Brokers))
	}
	if s := a.cfg.Relay.Slack; s.Enabled {
		sink, err := relay.NewSlackSink(relay.SlackConfig{
			Token:       s.BotToken,
			Channel:     s.Channel,
			APIBase:     s.APIBase,
			MinSeverity: s.MinSeverity,
		}, a.log)
		if err != nil {
			return err
		}
		a.bus.Subscribe(bus.KindAll, sink.Handle)
		a.log.Debug("slack relay enabled", "channel", s.Channel)
	}
	return nil
}

// close delivers pending signals, then releases the relays and the store.
func (a *app) close(ctx context.Context) {
	if n := a.bus.Drain(ctx); n > 0 {
		a.log.Debug("signals delivered", "count", n)
	}
	if d := a.bus.Dropped(); d > 0 {
		a.log.Warn("signals dropped", "count", d)
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn("kafka relay close failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", "error", err)
	}
}

// withApp opens the app, runs fn and always closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func hintPrinter(w io.Writer, label string) func(context.Context, *bus.Signal) {
	return func(_ context.Context, sig *bus.Signal) {
		fmt.Fprintf(w, "%s %s (%s %s)\n", hintStyle(label+":"), sig.Content, sig.RefKind, sig.RefID)
	}
}
