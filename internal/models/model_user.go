package models

import (
	"time"

	"github.com/stepun/botoracle/pkg/types"
)

// User is created on first contact and never deleted. Undeliverable users
// are soft-blocked.
type User struct {
	ID       int64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TgUserID int64         `gorm:"column:tg_user_id;not null;uniqueIndex" json:"tg_user_id"`
	Username *string       `gorm:"column:username;type:varchar(128)" json:"username"`
	Age      *int          `gorm:"column:age" json:"age"`
	Gender   *types.Gender `gorm:"column:gender;type:varchar(16)" json:"gender"`
	// FreeQuestionsLeft only changes through a conditional decrement.
	FreeQuestionsLeft int        `gorm:"column:free_questions_left;not null;default:0;check:chk_users_free_questions,free_questions_left >= 0" json:"free_questions_left"`
	IsBlocked         bool       `gorm:"column:is_blocked;not null;default:false;index" json:"is_blocked"`
	BlockedAt         *time.Time `gorm:"column:blocked_at" json:"blocked_at"`
	FirstSeenAt       time.Time  `gorm:"column:first_seen_at;not null" json:"first_seen_at"`
	LastSeenAt        *time.Time `gorm:"column:last_seen_at;index" json:"last_seen_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// ChatID is the delivery address. Telegram private chats share the user id.
func (u *User) ChatID() int64 {
	return u.TgUserID
}
