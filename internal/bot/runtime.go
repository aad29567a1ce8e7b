package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/logger"
)

// Poller is the long-polling side of *tgbotapi.BotAPI.
type Poller interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes a single update.
type Handler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// Runtime feeds polled updates to the handler one at a time.
type Runtime struct {
	poller      Poller
	handler     Handler
	pollTimeout int
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

func NewRuntime(log *slog.Logger, poller Poller, handler Handler, pollTimeout int) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{
		poller:      poller,
		handler:     handler,
		pollTimeout: pollTimeout,
		logger:      log.With(slog.String("component", "runtime")),
	}
}

// NewBotAPI connects to Telegram and routes library logs through slog.
func NewBotAPI(log *slog.Logger, cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := tgbotapi.SetLogger(&slogBotLogger{log: log.With(slog.String("component", "tgbotapi"))}); err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	api.Debug = cfg.Debug
	log.Info("telegram bot authorized", slog.String("username", api.Self.UserName))
	return api, nil
}

// Start begins polling in the background.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.Run(runCtx)
	}()
}

// Stop ends polling and waits for the in-flight update, or until ctx expires.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until ctx is canceled or the update channel closes.
func (r *Runtime) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = r.pollTimeout
	updates := r.poller.GetUpdatesChan(updateConfig)
	r.logger.Info("polling started")

	for {
		select {
		case <-ctx.Done():
			r.poller.StopReceivingUpdates()
			r.logger.Info("polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				r.logger.Info("updates channel closed")
				return
			}
			r.dispatch(ctx, update)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, update tgbotapi.Update) {
	ctx = logger.WithContext(ctx, r.logger.With(slog.Int("update_id", update.UpdateID)))
	if from := update.SentFrom(); from != nil {
		ctx = logger.WithUser(ctx, from.ID)
	}
	log := logger.FromContext(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("update handler panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := r.handler.HandleUpdate(ctx, update); err != nil {
		log.Error("handle update failed", slog.Any("error", err))
	}
}

// slogBotLogger adapts slog.Logger to tgbotapi.BotLogger.
type slogBotLogger struct {
	log *slog.Logger
}

func (s *slogBotLogger) Println(v ...any) {
	s.log.Warn(fmt.Sprint(v...))
}

func (s *slogBotLogger) Printf(format string, v ...any) {
	s.log.Warn(fmt.Sprintf(format, v...))
}
