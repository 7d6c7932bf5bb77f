package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zapatende/zapatende/internal/api"
	"github.com/zapatende/zapatende/internal/bot"
	"github.com/zapatende/zapatende/internal/cache"
	"github.com/zapatende/zapatende/internal/conversation"
	"github.com/zapatende/zapatende/internal/genai"
	"github.com/zapatende/zapatende/internal/messaging"
	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/prompt"
	"github.com/zapatende/zapatende/internal/scheduler"
	"github.com/zapatende/zapatende/internal/store"
	"github.com/zapatende/zapatende/internal/twiliowhatsapp"
	"github.com/zapatende/zapatende/internal/util"
	"github.com/zapatende/zapatende/internal/whatsapp"
)

const (
	// DefaultIdleSweepCron runs the idle-conversation sweep every 10 minutes.
	DefaultIdleSweepCron = "*/10 * * * *"
)

func main() {
	initializeLogger()

	if err := godotenv.Load(); err != nil {
		slog.Debug("main: no .env file loaded", "error", err)
	}

	var (
		dbDSN       = flag.String("db-dsn", os.Getenv("DATABASE_DSN"), "database DSN (PostgreSQL URL or SQLite path; empty for in-memory)")
		apiAddr     = flag.String("api-addr", util.GetEnvDefault("API_ADDR", api.DefaultAddr), "API listen address")
		backend     = flag.String("messaging-backend", util.GetEnvDefault("MESSAGING_BACKEND", "cloudapi"), "messaging backend: cloudapi, whatsmeow, or twilio")
		qrOutput    = flag.String("qr-output", os.Getenv("WHATSAPP_QR_OUTPUT"), "file to write the whatsmeow login QR code to")
		numericCode = flag.Bool("numeric-code", util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false), "use a numeric whatsmeow login code instead of a QR code")
	)
	flag.Parse()

	st, err := buildStore(*dbDSN)
	if err != nil {
		slog.Error("main: failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	llm, err := genai.NewClient(
		genai.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
		genai.WithModel(util.GetEnvDefault("OPENAI_MODEL", string(genai.DefaultModel))),
	)
	if err != nil {
		slog.Error("main: failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	respCache := buildCache(ctx)
	if respCache != nil {
		defer respCache.Close()
	}

	summaryEnabled := util.ParseBoolEnv("SUMMARY_ENABLED", true)
	mgr := conversation.NewManager(st, conversation.Config{
		HistoryLimit:       util.ParseIntEnv("HISTORY_LIMIT", conversation.DefaultHistoryLimit),
		HistoryTokenBudget: util.ParseIntEnv("HISTORY_TOKEN_BUDGET", 0),
		SummaryEnabled:     summaryEnabled,
	})
	builder := prompt.NewBuilder(prompt.Config{SystemPrompt: os.Getenv("SYSTEM_PROMPT")})

	messenger, err := buildMessenger(*backend, *qrOutput, *numericCode)
	if err != nil {
		slog.Error("main: failed to initialize messaging backend", "backend", *backend, "error", err)
		os.Exit(1)
	}

	orch := bot.NewOrchestrator(mgr, llm, builder, messenger, st, respCache, bot.Config{
		SummaryEnabled: summaryEnabled,
		IdleCloseAfter: util.ParseDurationEnv("IDLE_CLOSE_AFTER", bot.DefaultIdleCloseAfter),
	})

	// The whatsmeow backend pushes events directly instead of via webhook.
	if ws, ok := messenger.(*messaging.WhatsmeowService); ok {
		ws.OnInbound(func(msg models.InboundMessage) {
			if err := orch.ProcessInboundMessage(ctx, msg); err != nil {
				slog.Error("main: inbound processing failed", "providerMessageID", msg.ProviderMessageID, "error", err)
			}
		})
		ws.OnReceipt(func(update models.StatusUpdate) {
			// Read receipts race message creation; unknown ids are a soft miss.
			if update.Status == models.MessageStatusRead {
				if _, err := orch.ProcessReadReceipt(update.ProviderMessageID, update.Timestamp); err != nil {
					slog.Warn("main: read receipt failed", "providerMessageID", update.ProviderMessageID, "error", err)
				}
				return
			}
			if err := orch.ProcessMessageStatusUpdate(update); err != nil {
				slog.Warn("main: status update failed", "providerMessageID", update.ProviderMessageID, "error", err)
			}
		})
	}
	if err := messenger.Start(ctx); err != nil {
		slog.Error("main: failed to start messaging backend", "error", err)
		os.Exit(1)
	}
	defer messenger.Stop()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweepCron := util.GetEnvDefault("IDLE_SWEEP_CRON", DefaultIdleSweepCron)
	if err := sched.AddJob(sweepCron, func() {
		if _, err := orch.CloseIdleConversations(); err != nil {
			slog.Error("main: idle sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("main: failed to schedule idle sweep", "cron", sweepCron, "error", err)
		os.Exit(1)
	}

	server := api.NewServer(orch, mgr, st,
		api.WithAddr(*apiAddr),
		api.WithVerifyToken(os.Getenv("WEBHOOK_VERIFY_TOKEN")),
	)
	if err := server.Run(ctx); err != nil {
		slog.Error("main: API server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("main: ZapAtende exited")
}

// initializeLogger sets up structured logging. LOG_LEVEL=debug enables debug
// output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.GetEnvDefault("LOG_LEVEL", "info") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// buildStore selects the storage backend from the DSN: PostgreSQL URLs and
// key/value DSNs, SQLite paths, or in-memory when unset.
func buildStore(dsn string) (store.Store, error) {
	if dsn == "" {
		slog.Warn("main: DATABASE_DSN not set, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildCache connects to Redis when REDIS_ADDR is set, otherwise uses the
// in-process cache.
func buildCache(ctx context.Context) cache.ResponseCache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return cache.NewMemoryCache()
	}
	redisCache, err := cache.NewRedisCache(ctx, addr, os.Getenv("REDIS_PASSWORD"), util.ParseIntEnv("REDIS_DB", 0))
	if err != nil {
		slog.Warn("main: Redis unavailable, falling back to in-process cache", "addr", addr, "error", err)
		return cache.NewMemoryCache()
	}
	slog.Info("main: response cache backed by Redis", "addr", addr)
	return redisCache
}

// buildMessenger constructs the configured messaging backend.
func buildMessenger(backend, qrOutput string, numericCode bool) (messaging.Service, error) {
	switch backend {
	case "whatsmeow":
		opts := []whatsapp.Option{whatsapp.WithDBDSN(os.Getenv("WHATSAPP_DB_DSN"))}
		if qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(qrOutput))
		}
		if numericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsmeowService(waClient), nil
	case "twilio":
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(twClient), nil
	default:
		return messaging.NewCloudAPIService(
			messaging.WithCloudAPIToken(os.Getenv("WHATSAPP_TOKEN")),
			messaging.WithCloudAPIPhoneNumberID(os.Getenv("WHATSAPP_PHONE_NUMBER_ID")),
		)
	}
}
