package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatkeeper/internal/auth"
	"chatkeeper/internal/config"
	"chatkeeper/internal/history"
	"chatkeeper/internal/llm"
	"chatkeeper/internal/scheduler"
	"chatkeeper/internal/storage"
	"chatkeeper/internal/telegram"
	"chatkeeper/internal/tenant"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	conn := storage.Open(cfg.DatabasePath, cfg.Debug)
	defer func() {
		if err := conn.Shutdown(); err != nil {
			log.Printf("storage shutdown: %v", err)
		}
	}()

	blobs := storage.NewChunkedStore(conn)
	backups := storage.NewBackupManager(conn, cfg.BackupInterval, cfg.BackupRetention)
	registry := tenant.NewRegistry(blobs, backups, cfg.Debug)

	prompts := history.NewCache(registry, history.Options{
		MaxMessages:           cfg.MaxPromptMessages + 3, // configured turns plus the seed messages
		MaxTokens:             cfg.MaxPromptTokens,
		SystemPrompt:          cfg.InitPrompt,
		HumanName:             cfg.HumanName,
		BotName:               cfg.BotName,
		HumanGreet:            cfg.HumanInitPrompt,
		BotGreet:              cfg.BotInitPrompt,
		OverwriteSystemPrompt: cfg.AllowSystemPromptOverwrite,
		ImageExpiryAfter:      cfg.ImageExpiryMessages,
		Debug:                 cfg.Debug,
	})

	var allowRepo auth.Repository
	if cfg.AllowlistFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.AllowlistFilePath)
		if err != nil {
			log.Printf("failed to init allowlist repo: %v", err)
		} else {
			allowRepo = repo
		}
	}
	authSvc, err := auth.NewWithRepo(allowRepo, cfg.AllowedUsers)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}

	llmClient, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider))
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}

	var recorder storage.Recorder
	if cfg.InteractionLogPath != "" {
		rec, err := storage.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			log.Printf("failed to init interaction log: %v", err)
		} else {
			recorder = rec
		}
	}

	bot, err := telegram.New(
		cfg.TelegramBotToken,
		authSvc,
		llmClient,
		registry,
		prompts,
		recorder,
		cfg.MessageParseMode,
		cfg.BotName,
		cfg.BotTone,
		cfg.EnableForgetShortcut,
		cfg.Debug,
	)
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}

	sched := scheduler.New()
	sched.SetBackupFunction(backups.CheckAndBackup)
	if err := sched.Start(); err != nil {
		log.Printf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("bot started with provider %s", cfg.LLMProvider)
	bot.Start(ctx)
}
