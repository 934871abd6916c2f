package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/codexrelay/codexrelay/internal/chatlog"
	"github.com/codexrelay/codexrelay/internal/codex"
	"github.com/codexrelay/codexrelay/internal/config"
	"github.com/codexrelay/codexrelay/internal/gateway"
	"github.com/codexrelay/codexrelay/internal/logger"
	"github.com/codexrelay/codexrelay/internal/sandbox"
	"github.com/codexrelay/codexrelay/internal/server"
	"github.com/codexrelay/codexrelay/internal/session"
	"github.com/codexrelay/codexrelay/internal/telegram"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideWorkdir,
			provideAuthorizer,
			chatlog.NewStore,
			session.NewStore,
			provideSandboxManager,
			provideInvoker,
			provideAdapter,
			provideGateway,
			provideServer,
		),
		fx.Invoke(
			startPoller,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		return config.Config{}, errors.New("telegram bot token is not configured")
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// workdir is the directory codex runs in; sandbox aliases live beneath it.
type workdir string

func provideWorkdir(cfg config.Config) (workdir, error) {
	dir := cfg.Codex.Workdir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve workdir: %w", err)
		}
		dir = cwd
	}
	return workdir(dir), nil
}

func provideAuthorizer(cfg config.Config, log *slog.Logger) *gateway.Authorizer {
	auth, unresolved := gateway.NewAuthorizer(cfg.Telegram.AllowedEntries)
	for _, entry := range unresolved {
		log.Warn("unresolved allow-list entry", slog.String("entry", entry))
	}
	if auth.Empty() {
		log.Warn("allow-list is empty, every request will be denied")
	}
	return auth
}

func provideSandboxManager(log *slog.Logger, cfg config.Config, dir workdir) *sandbox.Manager {
	return sandbox.NewManager(log, cfg.Sandbox.Root, string(dir), cfg.Sandbox.LinkDirname)
}

func provideInvoker(log *slog.Logger, cfg config.Config) *codex.Invoker {
	return codex.NewInvoker(log, codex.Config{
		Binary: cfg.Codex.Binary,
		Model:  cfg.Codex.Model,
	})
}

func provideAdapter(log *slog.Logger, cfg config.Config) (*telegram.Adapter, error) {
	return telegram.NewAdapter(log, cfg.Telegram.BotToken, cfg.Telegram.PollTimeoutSeconds)
}

func provideGateway(
	log *slog.Logger,
	cfg config.Config,
	adapter *telegram.Adapter,
	invoker *codex.Invoker,
	logs *chatlog.Store,
	sessions *session.Store,
	sandboxes *sandbox.Manager,
	auth *gateway.Authorizer,
	dir workdir,
) *gateway.Gateway {
	return gateway.New(log, adapter, adapter, invoker,
		logs, sessions, sandboxes, auth,
		string(dir), cfg.Codex.Model,
		gateway.Limits{
			PlainMessageLength:    cfg.Limits.PlainMessageLength,
			MarkdownMessageLength: cfg.Limits.MarkdownMessageLength,
			MaxUploadBytes:        cfg.Limits.MaxUploadBytes,
			MaxExtractFiles:       cfg.Limits.MaxExtractFiles,
		})
}

func provideServer(log *slog.Logger, cfg config.Config, gw *gateway.Gateway) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, gw)
}

func startPoller(lc fx.Lifecycle, log *slog.Logger, adapter *telegram.Adapter, gw *gateway.Gateway, shutdowner fx.Shutdowner) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			adapter.SetHandler(gw)
			go func() {
				defer close(done)
				if err := adapter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("poller stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			case <-time.After(5 * time.Second):
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("http server stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
