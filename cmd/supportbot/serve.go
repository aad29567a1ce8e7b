package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/supportbot/internal/bot"
	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/digest"
	"github.com/memohai/supportbot/internal/directory"
	"github.com/memohai/supportbot/internal/handlers"
	"github.com/memohai/supportbot/internal/logger"
	"github.com/memohai/supportbot/internal/server"
	"github.com/memohai/supportbot/internal/store"
	"github.com/memohai/supportbot/internal/support"
	"github.com/memohai/supportbot/internal/version"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := validateServeConfig(cfg); err != nil {
				return err
			}
			app := newApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func validateServeConfig(cfg config.Config) error {
	cfg.Telegram.BotToken = strings.TrimSpace(cfg.Telegram.BotToken)
	return cfg.Validate()
}

func newApp(cfg config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideStore,
			provideDirectory,
			support.NewService,

			provideBotAPI,
			provideRouter,
			provideRuntime,
			provideDigest,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewSupportHandler),
			provideServer,
		),
		fx.Invoke(
			startRuntime,
			startDigest,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (store.Store, error) {
	st, err := openStore(context.Background(), log, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("record store opened", slog.String("driver", cfg.Storage.Driver))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := st.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}
			return nil
		},
	})
	return st, nil
}

func provideDirectory(log *slog.Logger, cfg config.Config) (directory.Lookup, error) {
	return directory.New(log, cfg.Directory)
}

func provideBotAPI(log *slog.Logger, cfg config.Config) (*tgbotapi.BotAPI, error) {
	return bot.NewBotAPI(log, cfg.Telegram)
}

func provideRouter(log *slog.Logger, api *tgbotapi.BotAPI, svc *support.Service, cfg config.Config) *bot.Router {
	return bot.NewRouter(log, api, svc, cfg.Telegram.SupportChatID)
}

func provideRuntime(log *slog.Logger, api *tgbotapi.BotAPI, router *bot.Router, cfg config.Config) *bot.Runtime {
	return bot.NewRuntime(log, api, router, cfg.Telegram.PollTimeout)
}

func provideDigest(log *slog.Logger, svc *support.Service, api *tgbotapi.BotAPI, cfg config.Config) (*digest.Service, error) {
	return digest.NewService(log, svc, api, cfg.Telegram.SupportChatID, cfg.Digest.Schedule)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Server.AdminToken, params.ServerHandlers...)
}

func startRuntime(lc fx.Lifecycle, runtime *bot.Runtime) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runtime.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return runtime.Stop(ctx)
		},
	})
}

func startDigest(lc fx.Lifecycle, svc *digest.Service, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if !svc.Enabled() {
				log.Info("unanswered digest disabled")
				return nil
			}
			svc.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	log.Info("starting supportbot", slog.String("version", version.GetInfo()))
	if strings.TrimSpace(cfg.Server.AdminToken) == "" {
		log.Warn("server.admin_token is empty, /api is disabled")
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
