package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"streamping/internal/discord"
	"streamping/internal/reconcile"
	"streamping/internal/registry"
	"streamping/internal/relay"
	"streamping/internal/scheduler"
	"streamping/internal/store"
	"streamping/internal/twitch"
	"streamping/internal/util"
	"streamping/internal/webhook"

	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for streamping state data
	DefaultStateDir = "/var/lib/streamping"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "streamping.db"
	// DefaultListenAddr is the default webhook listen address
	DefaultListenAddr = ":8080"
	// DefaultTemplate is the message template new subscriptions start with
	DefaultTemplate = "$role $link just went live!"
	// DefaultReconcileSchedule runs the reconciliation loop once a day
	DefaultReconcileSchedule = "@every 24h"
	// ShutdownTimeout bounds the graceful HTTP shutdown
	ShutdownTimeout = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("streamping failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("streamping exited successfully")
}

// Config holds environment configuration
type Config struct {
	TwitchClientID     string
	TwitchClientSecret string
	DiscordToken       string
	CallbackURL        string
	ListenAddr         string
	DatabaseURL        string
	StateDir           string
	DefaultTemplate    string
	ReconcileSchedule  string
}

// Flags holds command line flag values
type Flags struct {
	twitchClientID     *string
	twitchClientSecret *string
	discordToken       *string
	callbackURL        *string
	listenAddr         *string
	dbDSN              *string
	defaultTemplate    *string
	reconcileSchedule  *string
}

// initializeLogger sets up structured logging; debug level is opt-in.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("STREAMPING_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		DiscordToken:       os.Getenv("DISCORD_TOKEN"),
		CallbackURL:        os.Getenv("CALLBACK_URL"),
		ListenAddr:         util.EnvOrDefault("LISTEN_ADDR", DefaultListenAddr),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           util.EnvOrDefault("STREAMPING_STATE_DIR", DefaultStateDir),
		DefaultTemplate:    util.EnvOrDefault("DEFAULT_LIVE_MESSAGE", DefaultTemplate),
		ReconcileSchedule:  util.EnvOrDefault("RECONCILE_SCHEDULE", DefaultReconcileSchedule),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TWITCH_CLIENT_ID_SET", config.TwitchClientID != "",
		"TWITCH_CLIENT_SECRET_SET", config.TwitchClientSecret != "",
		"DISCORD_TOKEN_SET", config.DiscordToken != "",
		"CALLBACK_URL", config.CallbackURL,
		"LISTEN_ADDR", config.ListenAddr,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"RECONCILE_SCHEDULE", config.ReconcileSchedule)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		twitchClientID:     flag.String("twitch-client-id", config.TwitchClientID, "Twitch application client id (overrides $TWITCH_CLIENT_ID)"),
		twitchClientSecret: flag.String("twitch-client-secret", config.TwitchClientSecret, "Twitch application client secret (overrides $TWITCH_CLIENT_SECRET)"),
		discordToken:       flag.String("discord-token", config.DiscordToken, "Discord bot token (overrides $DISCORD_TOKEN)"),
		callbackURL:        flag.String("callback-url", config.CallbackURL, "public HTTPS URL Twitch posts callbacks to (overrides $CALLBACK_URL)"),
		listenAddr:         flag.String("listen-addr", config.ListenAddr, "webhook listen address (overrides $LISTEN_ADDR)"),
		dbDSN:              flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		defaultTemplate:    flag.String("default-message", config.DefaultTemplate, "default live message template (overrides $DEFAULT_LIVE_MESSAGE)"),
		reconcileSchedule:  flag.String("reconcile-schedule", config.ReconcileSchedule, "cron schedule for reconciliation (overrides $RECONCILE_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"twitchClientIDSet", *flags.twitchClientID != "",
		"discordTokenSet", *flags.discordToken != "",
		"callbackURL", *flags.callbackURL,
		"listenAddr", *flags.listenAddr,
		"dbDSN_set", *flags.dbDSN != "",
		"reconcileSchedule", *flags.reconcileSchedule)

	return flags
}

// openStore selects the storage backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

func run(flags Flags) error {
	if *flags.twitchClientID == "" || *flags.twitchClientSecret == "" {
		return fmt.Errorf("twitch credentials not set (TWITCH_CLIENT_ID / TWITCH_CLIENT_SECRET)")
	}
	if *flags.discordToken == "" {
		return fmt.Errorf("discord bot token not set (DISCORD_TOKEN)")
	}
	if *flags.callbackURL == "" {
		return fmt.Errorf("callback URL not set (CALLBACK_URL)")
	}

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg := registry.New()

	tw, err := twitch.NewClient(
		twitch.WithCredentials(*flags.twitchClientID, *flags.twitchClientSecret),
		twitch.WithTokenSource(reg),
	)
	if err != nil {
		return fmt.Errorf("failed to create twitch client: %w", err)
	}

	loop := reconcile.New(tw, st, reg, *flags.callbackURL)

	bot, err := discord.New(*flags.discordToken, st, tw,
		discord.WithDefaultTemplate(*flags.defaultTemplate),
		discord.WithReconcileKick(loop.Kick),
	)
	if err != nil {
		return fmt.Errorf("failed to create discord bot: %w", err)
	}

	hook := webhook.NewServer(st, reg, relay.New(st, tw, bot))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Open(); err != nil {
		return err
	}
	defer bot.Close()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.reconcileSchedule, loop.Kick); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", *flags.reconcileSchedule, err)
	}
	go loop.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/webhook", hook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":                "healthy",
			"pending_subscriptions": reg.PendingCount(),
			"timestamp":             time.Now().UTC().Format(time.RFC3339),
		})
	})

	srv := &http.Server{Addr: *flags.listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	slog.Info("streamping listening", "addr", *flags.listenAddr, "callback_url", *flags.callbackURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
