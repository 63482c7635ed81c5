package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	Debug            bool    `env:"APP_DEBUG" envDefault:"false"`
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN,required"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	MessageParseMode string  `env:"MESSAGE_PARSE_MODE" envDefault:"Markdown"`

	// Persona and seed prompts
	BotName         string `env:"BOT_NAME" envDefault:"AI"`
	BotTone         string `env:"BOT_TONE"`
	HumanName       string `env:"HUMAN_NAME"`
	InitPrompt      string `env:"INIT_PROMPT"`
	HumanInitPrompt string `env:"HUMAN_INIT_PROMPT"`
	BotInitPrompt   string `env:"BOT_INIT_PROMPT"`

	// History budgets: MaxPromptMessages counts conversational turns on top
	// of the three seed messages.
	MaxPromptMessages          int  `env:"MAX_PROMPT_MESSAGES" envDefault:"4"`
	MaxPromptTokens            int  `env:"MAX_PROMPT_TOKENS" envDefault:"256"`
	AllowSystemPromptOverwrite bool `env:"ALLOW_SYSTEM_PROMPT_OVERWRITE" envDefault:"true"`
	ImageExpiryMessages        int  `env:"IMAGE_EXPIRY_MESSAGES" envDefault:"4"`
	EnableForgetShortcut       bool `env:"ENABLE_FORGET_SHORTCUT" envDefault:"false"`

	// Storage
	DatabasePath       string        `env:"DATABASE_PATH" envDefault:"data/chatkeeper.db"`
	BackupInterval     time.Duration `env:"BACKUP_INTERVAL" envDefault:"24h"`
	BackupRetention    time.Duration `env:"BACKUP_RETENTION" envDefault:"168h"`
	AllowlistFilePath  string        `env:"ALLOWLIST_FILE_PATH" envDefault:"data/allowlist.json"`
	InteractionLogPath string        `env:"INTERACTION_LOG_PATH"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string      `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai"`
	GeminiModel      string      `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
