package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stepun/botoracle/internal/platform/delivery"
	"github.com/stepun/botoracle/pkg/apperr"
	"github.com/stepun/botoracle/pkg/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.NewTestConfig()
	cfg.Telegram.APIBaseURL = srv.URL
	cfg.Telegram.BotToken = "123:abc"
	return New(cfg, zap.NewNop().Sugar(), srv.Client())
}

func TestSendDelivered(t *testing.T) {
	var got sendMessageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	require.NoError(t, c.Send(context.Background(), delivery.Recipient{UserID: 1, ChatID: 777}, "hi"))
	assert.Equal(t, int64(777), got.ChatID)
	assert.Equal(t, "hi", got.Text)
}

func TestSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unreachable bool
	}{
		{name: "blocked", status: 403, body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, unreachable: true},
		{name: "chat not found", status: 400, body: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, unreachable: true},
		{name: "rate limited", status: 429, body: `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`},
		{name: "bad markup", status: 400, body: `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`},
		{name: "garbage", status: 502, body: `<html>bad gateway</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			err := c.Send(context.Background(), delivery.Recipient{ChatID: 1}, "x")
			require.Error(t, err)
			assert.Equal(t, tt.unreachable, errors.Is(err, delivery.ErrRecipientUnreachable))
			assert.Equal(t, !tt.unreachable, apperr.TransientDelivery.Has(err))
		})
	}
}

func TestSendHonoursDeadline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, delivery.Recipient{ChatID: 1}, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, delivery.ErrRecipientUnreachable))
}

func TestNewSenderWithoutToken(t *testing.T) {
	cfg := config.NewTestConfig()
	s := NewSender(cfg, zap.NewNop().Sugar())
	_, ok := s.(*delivery.LogSender)
	require.True(t, ok)
	require.NoError(t, s.Send(context.Background(), delivery.Recipient{ChatID: 1}, "x"))
}
