// Package main contains the entrypoint for the Prisma Telegram bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/mcards/prismabot/internal/bot"
	"github.com/mcards/prismabot/internal/bot/handlers"
	"github.com/mcards/prismabot/internal/bot/tasks"
	"github.com/mcards/prismabot/internal/catalog"
	"github.com/mcards/prismabot/internal/config"
	"github.com/mcards/prismabot/internal/database"
	"github.com/mcards/prismabot/internal/database/redisstore"
	"github.com/mcards/prismabot/internal/dialog"
	"github.com/mcards/prismabot/internal/gemini"
	"github.com/mcards/prismabot/internal/logger"
	"github.com/mcards/prismabot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes every component, runs the bot until ctx is cancelled and
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	store, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		log.Error("Failed to open store", "driver", cfg.Database.Driver, "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}()

	cat, err := catalog.Load(cfg.Dialog.CatalogPath)
	if err != nil {
		log.Error("Failed to load question catalog", "path", cfg.Dialog.CatalogPath, "error", err)
		return 1
	}
	log.Info("Question catalog loaded", "cards", cat.Len(), "questions", cat.TotalQuestions())

	engine := dialog.NewEngine(store, cat,
		dialog.WithLogger(log),
		dialog.WithMessages(cfg.Dialog.Messages),
		dialog.WithStoreTimeout(cfg.Dialog.StoreTimeout),
		dialog.WithCache(cfg.Dialog.CacheEnabled),
		dialog.WithReplyWords(cfg.Dialog.ConfirmWords, cfg.Dialog.RedoWords),
		dialog.WithStage(cfg.Dialog.Stage),
	)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	hDeps := handlers.HandlerDeps{
		Logger:       log,
		Config:       cfg,
		Store:        store,
		Engine:       engine,
		GeminiClient: gemClient,
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewMessageHandler(hDeps)),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	// Handlers read the bot identity from the config at runtime.
	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}
	if err := telegram.SetCommands(ctx, tg, log, handlers.BotCommands(cmdHandlers)); err != nil {
		log.Warn("Failed to publish command menu", "error", err)
	}

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Engine: engine,
		Sender: tg,
		Config: cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, store, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// openStore connects the storage backend selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (database.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := database.NewDB(database.DriverSQLite, cfg.Path)
		if err != nil {
			return nil, err
		}
		return database.NewStore(db, log), nil
	case config.DriverPostgres:
		db, err := database.NewDB(database.DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return database.NewStore(db, log), nil
	case config.DriverRedis:
		return redisstore.New(ctx, cfg.RedisURL, cfg.RedisPrefix, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
