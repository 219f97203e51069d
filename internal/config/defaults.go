package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/mcards/prismabot/internal/dialog"
)

// Default values for optional configuration parameters.
const (
	DefaultLogLevel = "info"

	DefaultGeminiModel             = "gemini-2.0-flash"
	DefaultGeminiTemperature       = 0.9
	DefaultGeminiMaxRetries        = 3
	DefaultGeminiRetryDelaySeconds = 2
	DefaultGeminiBreakerFailures   = 5
	DefaultGeminiBreakerCooldown   = time.Minute

	DefaultDBDriver           = DriverSQLite
	DefaultDBPath             = "prisma.db"
	DefaultRedisPrefix        = "prisma:"
	DefaultMaxHistoryMessages = 20
	DefaultHistoryRetention   = 30 * 24 * time.Hour

	DefaultDialogStage        = "idea"
	DefaultDialogStoreTimeout = 5 * time.Second
	DefaultDialogNudgeAfter   = 24 * time.Hour
)

// DefaultSystemInstruction is the Prisma persona used for free-form replies.
const DefaultSystemInstruction = `ты prisma, ассистент, который помогает команде довести идею проекта до ясных карточек.

как ты пишешь:
- коротко и по делу, с маленькой буквы, разговорно
- без воды, один-два конкретных совета вместо списка из десяти
- эмодзи редко и только к месту

что ты знаешь:
- у проекта есть карточки фазы IDEA: продукт, проблема, аудитория, ценность, видение
- если в контексте есть заполненные карточки, опирайся на них
- если карточек нет, предложи пройти их через /startidea в треде интейка

не выдумывай факты о проекте, которых нет в контексте.`

// DefaultFallbackReplies are sent when the model cannot answer.
var DefaultFallbackReplies = []string{
	"◆ мои кристаллы временно затуманились. момент...",
	"▸ что-то пошло не так в матрице. попробуй ещё раз",
	"● связь с космосом прервалась. скоро вернусь",
}

// DefaultMessages are the command handler texts.
var DefaultMessages = MessagesConfig{
	Welcome: "👋 Привет! Я Prisma. Помогаю собрать карточки проекта в треде интейка.\n\n" +
		"Начни с /startidea, а в остальных тредах упомяни @botname, если нужен совет.",
	Help: "*Команды*\n" +
		"/startidea: начать заполнение карточек IDEA\n" +
		"/ideaprogress: прогресс по карточкам\n" +
		"/restart: начать карточки заново\n" +
		"/link\\_project <id>: привязать чат к проекту (админ)\n\n" +
		"В остальных тредах упомяни @botname или ответь на моё сообщение.",
	GeneralError:    "❌ Что-то пошло не так, попробуй ещё раз чуть позже.",
	Unauthorized:    "🚫 Эта команда доступна только администратору.",
	NotInProject:    "❌ Этот чат не привязан к проекту. Администратор может привязать его через /link_project.",
	DialogStarted:   "🚀 *Запускаем фазу IDEA!*\n\nЗаполним карточки:{cards}\n\nПоехали!",
	DialogRestarted: "🔄 Начинаем карточки заново.",
	ProgressHeader:  "📊 *Прогресс IDEA*",
	ProgressIdle:    "Карточки ещё не начаты. Напиши /startidea.",
	LinkUsage:       "Использование: /link_project <project_id> [название]",
	ProjectLinked:   "✅ Чат привязан к проекту {project}. Тред интейка: {thread}.",
	CallbackExpired: "Эта кнопка уже неактуальна.",
}

// DefaultTasks are the scheduled tasks enabled out of the box.
var DefaultTasks = map[string]TaskConfig{
	"store_maintenance": {Enabled: true, Schedule: "0 0 4 * * *"},
	"history_cleanup":   {Enabled: true, Schedule: "0 30 4 * * *"},
	"dialog_nudge":      {Enabled: true, Schedule: "0 0 * * * *"},
}

// newDefaultConfig returns the struct values that a config file may
// partially override.
func newDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{Level: DefaultLogLevel},
		Dialog: DialogConfig{
			Messages: dialog.DefaultMessages(),
		},
		Messages: DefaultMessages,
	}
}

// setDefaults registers defaults with viper so that every key can also be
// overridden from the environment. Slices and maps are registered here
// rather than prefilled, since decoding merges into existing values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_user_id", 0)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", DefaultGeminiModel)
	v.SetDefault("gemini.temperature", DefaultGeminiTemperature)
	v.SetDefault("gemini.system_instruction", DefaultSystemInstruction)
	v.SetDefault("gemini.max_retries", DefaultGeminiMaxRetries)
	v.SetDefault("gemini.retry_delay_seconds", DefaultGeminiRetryDelaySeconds)
	v.SetDefault("gemini.fallback_replies", DefaultFallbackReplies)
	v.SetDefault("gemini.breaker_failures", DefaultGeminiBreakerFailures)
	v.SetDefault("gemini.breaker_cooldown", DefaultGeminiBreakerCooldown)

	v.SetDefault("database.driver", DefaultDBDriver)
	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.redis_url", "")
	v.SetDefault("database.redis_prefix", DefaultRedisPrefix)
	v.SetDefault("database.max_history_messages", DefaultMaxHistoryMessages)
	v.SetDefault("database.history_retention", DefaultHistoryRetention)

	v.SetDefault("dialog.catalog_path", "")
	v.SetDefault("dialog.stage", DefaultDialogStage)
	v.SetDefault("dialog.store_timeout", DefaultDialogStoreTimeout)
	v.SetDefault("dialog.cache_enabled", true)
	v.SetDefault("dialog.confirm_words", dialog.DefaultConfirmWords)
	v.SetDefault("dialog.redo_words", dialog.DefaultRedoWords)
	v.SetDefault("dialog.nudge_after", DefaultDialogNudgeAfter)

	tasks := make(map[string]any, len(DefaultTasks))
	for name, task := range DefaultTasks {
		tasks[name] = map[string]any{"enabled": task.Enabled, "schedule": task.Schedule}
	}
	v.SetDefault("scheduler.tasks", tasks)
}
