// Package digest periodically reminds operators about unanswered messages.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"

	"github.com/memohai/supportbot/internal/support"
)

// Source lists messages still waiting for an operator.
type Source interface {
	ListUnanswered(ctx context.Context) ([]support.ForwardedMessage, error)
}

// Sender posts into the support chat.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Service struct {
	cron          *cron.Cron
	source        Source
	sender        Sender
	supportChatID int64
	pattern       string
	logger        *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewService validates the cron pattern. An empty pattern yields a service that never fires.
func NewService(log *slog.Logger, source Source, sender Sender, supportChatID int64, pattern string) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	pattern = strings.TrimSpace(pattern)
	s := &Service{
		cron:          cron.New(cron.WithParser(parser)),
		source:        source,
		sender:        sender,
		supportChatID: supportChatID,
		pattern:       pattern,
		logger:        log.With(slog.String("service", "digest")),
	}
	if pattern == "" {
		return s, nil
	}
	if _, err := s.cron.AddFunc(pattern, s.run); err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", pattern, err)
	}
	return s, nil
}

// Enabled reports whether a schedule is configured.
func (s *Service) Enabled() bool {
	return s.pattern != ""
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Enabled() || s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("digest scheduled", slog.String("schedule", s.pattern))
}

// Stop halts the scheduler and waits for a running digest, or until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error("digest failed", slog.Any("error", err))
	}
}

// RunOnce posts the digest when something is unanswered and returns the count.
// The digest replies to the oldest unanswered message so operators can jump to it.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	items, err := s.source.ListUnanswered(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	msg := tgbotapi.NewMessage(s.supportChatID, Text(len(items)))
	msg.ReplyToMessageID = items[0].SupportChatMessageID
	msg.AllowSendingWithoutReply = true
	if _, err := s.sender.Send(msg); err != nil {
		return 0, fmt.Errorf("send digest: %w", err)
	}
	s.logger.Info("digest sent", slog.Int("unanswered", len(items)))
	return len(items), nil
}

func Text(count int) string {
	if count == 1 {
		return "1 unanswered message"
	}
	return fmt.Sprintf("%d unanswered messages", count)
}
