package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/supportbot/internal/logger"
	"github.com/memohai/supportbot/internal/support"
)

type staticSource struct {
	items []support.ForwardedMessage
	err   error
}

func (s staticSource) ListUnanswered(context.Context) ([]support.ForwardedMessage, error) {
	return s.items, s.err
}

type recordingSender struct {
	sent []tgbotapi.MessageConfig
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.sent = append(r.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: 1}, nil
}

func TestRunOnce(t *testing.T) {
	sender := &recordingSender{}
	source := staticSource{items: []support.ForwardedMessage{
		{ID: "a", SupportChatMessageID: 10},
		{ID: "b", SupportChatMessageID: 11},
	}}
	svc, err := NewService(logger.Nop(), source, sender, -100, "")
	require.NoError(t, err)

	n, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(-100), sender.sent[0].ChatID)
	assert.Equal(t, "2 unanswered messages", sender.sent[0].Text)
	assert.Equal(t, 10, sender.sent[0].ReplyToMessageID)
}

func TestRunOnceNothingPending(t *testing.T) {
	sender := &recordingSender{}
	svc, err := NewService(logger.Nop(), staticSource{}, sender, -100, "")
	require.NoError(t, err)

	n, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sender.sent)
}

func TestRunOnceSourceError(t *testing.T) {
	svc, err := NewService(logger.Nop(), staticSource{err: errors.New("db down")}, &recordingSender{}, -100, "")
	require.NoError(t, err)
	_, err = svc.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestText(t *testing.T) {
	assert.Equal(t, "1 unanswered message", Text(1))
	assert.Equal(t, "5 unanswered messages", Text(5))
}

func TestSchedule(t *testing.T) {
	_, err := NewService(logger.Nop(), staticSource{}, &recordingSender{}, -100, "not a cron")
	assert.Error(t, err)

	svc, err := NewService(logger.Nop(), staticSource{}, &recordingSender{}, -100, "@every 1h")
	require.NoError(t, err)
	assert.True(t, svc.Enabled())
	svc.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))

	disabled, err := NewService(logger.Nop(), staticSource{}, &recordingSender{}, -100, "")
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())
	disabled.Start()
	require.NoError(t, disabled.Stop(ctx))
}
