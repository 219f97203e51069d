package dialog

// Messages holds every user-facing text the engine produces.
type Messages struct {
	Greeting         string `mapstructure:"greeting"` // {name} is replaced with the user name
	AskCustom        string `mapstructure:"ask_custom"`
	CardReady        string `mapstructure:"card_ready"` // {emoji} and {title} of the card
	ConfirmPrompt    string `mapstructure:"confirm_prompt"`
	ConfirmHint      string `mapstructure:"confirm_hint"`
	CardSaved        string `mapstructure:"card_saved"`
	PhaseCompleted   string `mapstructure:"phase_completed"`
	AlreadyComplete  string `mapstructure:"already_complete"`
	RedoStarted      string `mapstructure:"redo_started"`
	NothingToConfirm string `mapstructure:"nothing_to_confirm"`
	Reminder         string `mapstructure:"reminder"`
	ConfirmButton    string `mapstructure:"confirm_button"`
	RedoButton       string `mapstructure:"redo_button"`

	StartFailed      string `mapstructure:"start_failed"`
	DialogNotFound   string `mapstructure:"dialog_not_found"`
	ProjectNotFound  string `mapstructure:"project_not_found"`
	QuestionNotFound string `mapstructure:"question_not_found"`
	MalformedState   string `mapstructure:"malformed_state"`
	GenericError     string `mapstructure:"generic_error"`
}

// DefaultMessages returns the built-in texts.
func DefaultMessages() Messages {
	return Messages{
		Greeting:         "Привет, {name}! Давай заполним карточки для твоего проекта.",
		AskCustom:        "Напиши свой вариант:",
		CardReady:        "{emoji} *Карточка {title} готова!*",
		ConfirmPrompt:    "Фиксируем?",
		ConfirmHint:      "Напиши 'да' чтобы зафиксировать карту, или 'нет' чтобы переделать.",
		CardSaved:        "✅ Карточка сохранена!",
		PhaseCompleted:   "🎉 *Поздравляю!* Фаза IDEA завершена!\n\nВсе карточки заполнены. Теперь можно переходить к фазе Research.",
		AlreadyComplete:  "🎉 Фаза IDEA завершена! Все карточки заполнены.",
		RedoStarted:      "🔄 Начинаем карточку заново.",
		NothingToConfirm: "Карточка ещё не заполнена. Продолжаем:",
		Reminder:         "⏰ Мы остановились здесь:",
		ConfirmButton:    "✅ Фиксируем",
		RedoButton:       "🔄 Переделать",

		StartFailed:      "❌ Ошибка при запуске. Попробуй позже.",
		DialogNotFound:   "Диалог не найден. Начни заново с /startidea",
		ProjectNotFound:  "❌ Проект не найден. Сначала создай воркспейс через веб-приложение.",
		QuestionNotFound: "Ошибка: вопрос не найден",
		MalformedState:   "Что-то пошло не так. Попробуй /restart",
		GenericError:     "❌ Что-то пошло не так, попробуй ещё раз чуть позже.",
	}
}

// DefaultConfirmWords are the text replies accepted as confirmation.
var DefaultConfirmWords = []string{"да", "yes", "ок", "ok", "фиксируем", "подтверждаю"}

// DefaultRedoWords are the text replies accepted as a redo request.
var DefaultRedoWords = []string{"нет", "no", "переделать", "заново"}
