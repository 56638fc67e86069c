package models

import (
	"time"

	"github.com/stepun/botoracle/pkg/types"
)

// QuestionLog is one answered question. LogDate is the calendar day in the
// service timezone, formatted 2006-01-02.
type QuestionLog struct {
	ID           string               `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       int64                `gorm:"column:user_id;not null;index:idx_question_log_user_source_date,priority:1" json:"user_id"`
	Source       types.QuestionSource `gorm:"column:source;type:varchar(8);not null;index:idx_question_log_user_source_date,priority:2" json:"source"`
	LogDate      string               `gorm:"column:log_date;type:varchar(10);not null;index:idx_question_log_user_source_date,priority:3" json:"log_date"`
	QuestionText string               `gorm:"column:question_text;type:text" json:"question_text"`
	AnswerText   string               `gorm:"column:answer_text;type:text" json:"answer_text"`
	TokensUsed   int                  `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	CreatedAt    time.Time            `json:"created_at"`
}

func (QuestionLog) TableName() string {
	return "question_log"
}
