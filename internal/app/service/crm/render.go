package crm

import (
	"fmt"
	"time"

	"github.com/stepun/botoracle/internal/models"
	"github.com/stepun/botoracle/pkg/types"
)

// Template renders one task type for one user. ok=false means there is
// nothing worth sending.
type Template func(u *models.User, payload map[string]any) (text string, ok bool)

// Renderer holds the outreach templates keyed by task type.
type Renderer struct {
	templates map[types.CrmTaskType]Template
}

func NewRenderer() *Renderer {
	return &Renderer{templates: defaultTemplates()}
}

// Render returns false for task types without a template.
func (r *Renderer) Render(task *models.CrmTask, u *models.User) (string, bool) {
	tpl, ok := r.templates[task.Type]
	if !ok {
		return "", false
	}
	return tpl(u, task.Payload)
}

// address picks the greeting by the user's stated gender and age.
func address(u *models.User) string {
	young := u.Age != nil && *u.Age < 25
	switch {
	case u.Gender != nil && *u.Gender == types.GenderFemale && young:
		return "Дорогая"
	case u.Gender != nil && *u.Gender == types.GenderFemale:
		return "Уважаемая"
	case u.Gender != nil && *u.Gender == types.GenderMale && young:
		return "Дорогой"
	case u.Gender != nil && *u.Gender == types.GenderMale:
		return "Уважаемый"
	}
	return "Дорогой друг"
}

func name(u *models.User) string {
	if u.Username != nil && *u.Username != "" {
		return " " + *u.Username
	}
	return ""
}

func defaultTemplates() map[types.CrmTaskType]Template {
	return map[types.CrmTaskType]Template{
		types.CrmTaskTypeThanks: func(u *models.User, _ map[string]any) (string, bool) {
			return fmt.Sprintf("%s%s, спасибо за доверие. Оракул рад, что ты пришёл с вопросом. Возвращайся, когда захочешь узнать больше.", address(u), name(u)), true
		},
		types.CrmTaskTypeReengage: func(u *models.User, _ map[string]any) (string, bool) {
			return fmt.Sprintf("%s%s, давно тебя не было. Звёзды сменили расположение, и у Оракула есть что тебе сказать. Задай свой вопрос.", address(u), name(u)), true
		},
		types.CrmTaskTypeDailyPrompt: func(u *models.User, _ map[string]any) (string, bool) {
			return fmt.Sprintf("%s%s, новый день открывает новые пути. О чём спросишь Оракула сегодня?", address(u), name(u)), true
		},
		types.CrmTaskTypeSubExpiring: func(u *models.User, payload map[string]any) (string, bool) {
			when := "скоро"
			if endsAt, ok := payloadTime(payload, "ends_at"); ok {
				when = "в " + endsAt.Format("15:04 02.01")
			}
			return fmt.Sprintf("%s%s, твоя подписка закончится %s (UTC). Продли её, чтобы не прерывать разговор с Оракулом.", address(u), name(u), when), true
		},
		types.CrmTaskTypeSubExpired: func(u *models.User, _ map[string]any) (string, bool) {
			return fmt.Sprintf("%s%s, твоя подписка закончилась. Оракул ждёт тебя: оформи новую, и ответы снова будут рядом.", address(u), name(u)), true
		},
		types.CrmTaskTypeFreeExhausted: func(u *models.User, _ map[string]any) (string, bool) {
			if u.FreeQuestionsLeft > 0 {
				return "", false
			}
			return fmt.Sprintf("%s%s, бесплатные вопросы закончились, но путь не окончен. Попробуй подписку на сутки и спроси о главном.", address(u), name(u)), true
		},
	}
}

// payloadTime reads an instant from a JSON payload, where it is stored as
// an RFC 3339 string.
func payloadTime(payload map[string]any, key string) (time.Time, bool) {
	switch v := payload[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}
