package quota

import (
	"fmt"

	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/types"
)

// Tier is the closed set of usage tiers. It is chosen once per interaction
// and carries everything that differs between them as data.
type Tier struct {
	Source types.QuestionSource
	// Limit is the per-day cap for subscription usage and the lifetime grant
	// for free usage.
	Limit int
	// Wrap decorates a generated answer for this tier.
	Wrap func(answer string, remaining int) string
}

func (t Tier) IsSubscription() bool {
	return t.Source == types.QuestionSourceSubscription
}

func (t Tier) String() string {
	return string(t.Source)
}

func FreeTier(cfg *config.Config) Tier {
	return Tier{
		Source: types.QuestionSourceFree,
		Limit:  cfg.Quota.FreeQuestions,
		Wrap: func(answer string, remaining int) string {
			if remaining > 0 {
				return fmt.Sprintf("%s\n\nБесплатных вопросов осталось: %d", answer, remaining)
			}
			return answer + "\n\nБесплатные вопросы закончились. Оформите подписку, чтобы продолжить."
		},
	}
}

func SubscriptionTier(cfg *config.Config) Tier {
	return Tier{
		Source: types.QuestionSourceSubscription,
		Limit:  cfg.Quota.SubscriptionDailyLimit,
		Wrap: func(answer string, remaining int) string {
			if remaining <= 2 {
				return fmt.Sprintf("%s\n\nСегодня осталось вопросов: %d", answer, remaining)
			}
			return answer
		},
	}
}
