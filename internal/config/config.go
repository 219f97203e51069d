// Package config provides configuration loading, validation, and defaults
// for the Prisma bot. Values come from a YAML file, PRISMA_* environment
// variables and the built-in defaults, in that order of precedence.
package config

import (
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/mcards/prismabot/internal/dialog"
)

// Config is the root configuration for all components of the bot.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Dialog    DialogConfig    `mapstructure:"dialog"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig selects the log level and handler.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the bot credentials. BotInfo is filled at runtime
// from getMe and is never read from the file.
type TelegramConfig struct {
	Token       string       `mapstructure:"token" validate:"required"`
	AdminUserID int64        `mapstructure:"admin_user_id" validate:"required,gt=0"`
	BotInfo     *models.User `mapstructure:"-"`
}

// GeminiConfig configures the free-form chat fallback.
type GeminiConfig struct {
	APIKey            string   `mapstructure:"api_key" validate:"required"`
	ModelName         string   `mapstructure:"model_name" validate:"required"`
	Temperature       float32  `mapstructure:"temperature" validate:"min=0,max=2"`
	SystemInstruction string   `mapstructure:"system_instruction" validate:"required"`
	MaxRetries        int      `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int      `mapstructure:"retry_delay_seconds" validate:"min=0,max=60"`
	FallbackReplies   []string `mapstructure:"fallback_replies" validate:"min=1,dive,required"`
	// BreakerFailures consecutive failures open the circuit for
	// BreakerCooldown. Zero disables the breaker.
	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=0"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" validate:"min=0"`
}

// Storage backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// DatabaseConfig selects the dialog and history store.
type DatabaseConfig struct {
	Driver             string        `mapstructure:"driver" validate:"oneof=sqlite postgres redis"`
	Path               string        `mapstructure:"path" validate:"required_if=Driver sqlite"`
	DSN                string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	RedisURL           string        `mapstructure:"redis_url" validate:"required_if=Driver redis"`
	RedisPrefix        string        `mapstructure:"redis_prefix"`
	MaxHistoryMessages int           `mapstructure:"max_history_messages" validate:"min=0,max=500"`
	HistoryRetention   time.Duration `mapstructure:"history_retention" validate:"min=0"`
}

// DialogConfig tunes the guided dialog engine.
type DialogConfig struct {
	CatalogPath  string          `mapstructure:"catalog_path"`
	Stage        string          `mapstructure:"stage" validate:"required"`
	StoreTimeout time.Duration   `mapstructure:"store_timeout" validate:"min=100ms,max=1m"`
	CacheEnabled bool            `mapstructure:"cache_enabled"`
	ConfirmWords []string        `mapstructure:"confirm_words" validate:"min=1,dive,required"`
	RedoWords    []string        `mapstructure:"redo_words" validate:"min=1,dive,required"`
	NudgeAfter   time.Duration   `mapstructure:"nudge_after" validate:"min=0"`
	Messages     dialog.Messages `mapstructure:"messages"`
}

// TaskConfig describes one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// SchedulerConfig maps registered task names to their schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// MessagesConfig holds the texts of the command handlers. "@botname" in
// Welcome and Help is replaced with the bot username.
type MessagesConfig struct {
	Welcome         string `mapstructure:"welcome" validate:"required"`
	Help            string `mapstructure:"help" validate:"required"`
	GeneralError    string `mapstructure:"general_error" validate:"required"`
	Unauthorized    string `mapstructure:"unauthorized" validate:"required"`
	NotInProject    string `mapstructure:"not_in_project" validate:"required"`
	DialogStarted   string `mapstructure:"dialog_started" validate:"required"`
	DialogRestarted string `mapstructure:"dialog_restarted" validate:"required"`
	ProgressHeader  string `mapstructure:"progress_header" validate:"required"`
	ProgressIdle    string `mapstructure:"progress_idle" validate:"required"`
	LinkUsage       string `mapstructure:"link_usage" validate:"required"`
	ProjectLinked   string `mapstructure:"project_linked" validate:"required"`
	CallbackExpired string `mapstructure:"callback_expired" validate:"required"`
}

// IsAdmin reports whether userID is the configured administrator.
func (c *Config) IsAdmin(userID int64) bool {
	return userID != 0 && userID == c.Telegram.AdminUserID
}
