// Package delivery defines the outbound message transport used by the CRM
// dispatcher.
package delivery

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrRecipientUnreachable reports that the recipient blocked the bot or no
// longer exists. Senders wrap it; callers test with errors.Is.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

type Recipient struct {
	UserID int64
	ChatID int64
}

// Sender delivers one rendered message. A nil error means delivered.
type Sender interface {
	Send(ctx context.Context, to Recipient, text string) error
}

// LogSender only logs messages. It is used when no bot token is configured.
type LogSender struct {
	Log *zap.SugaredLogger
}

func (s *LogSender) Send(ctx context.Context, to Recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Log.Infow("delivery_log_only", "user_id", to.UserID, "chat_id", to.ChatID, "text", text)
	return nil
}
