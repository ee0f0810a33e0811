package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-cz/devslog"
	"golang.org/x/sync/errgroup"

	"helpdesk/internal/api"
	"helpdesk/internal/attachments"
	"helpdesk/internal/auth"
	"helpdesk/internal/backend"
	"helpdesk/internal/commands"
	"helpdesk/internal/config"
	"helpdesk/internal/console"
	"helpdesk/internal/http"
	"helpdesk/internal/notify"
	"helpdesk/internal/storage"
	"helpdesk/internal/ws"
)

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "dev" {
		return slog.New(devslog.NewHandler(os.Stdout, &devslog.Options{HandlerOptions: opts}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("helpdesk", flag.ContinueOnError)
	login := flags.Bool("login", false, "Log in to the chat backend and store the token")
	logout := flags.Bool("logout", false, "Forget the stored token")
	email := flags.String("email", "", "Operator email used with -login")
	password := flags.String("password", "", "Operator password used with -login (defaults to HELPDESK_PASSWORD)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	rest := backend.New(cfg.APIURL, "", nil)
	authService := auth.NewAuthService(bbStorage, rest, logger)

	switch {
	case *login:
		if *password == "" {
			*password = os.Getenv("HELPDESK_PASSWORD")
		}
		return commands.Login(ctx, authService, *email, *password)
	case *logout:
		return commands.Logout(authService)
	}

	return serve(ctx, cfg, logger, bbStorage, rest, authService)
}

func serve(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	bbStorage *storage.BboltStorage,
	rest *backend.Client,
	authService *auth.AuthService,
) error {
	creds, credsErr := authService.Credentials()
	if credsErr != nil && !errors.Is(credsErr, auth.ErrNoToken) {
		return credsErr
	}
	rest = rest.WithToken(creds.Token)

	pushConfig := notify.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubscriber,
	}
	if err := notify.EnsureVAPIDKeys(&pushConfig, bbStorage); err != nil {
		return err
	}
	push := notify.NewWebPush(ctx, pushConfig, bbStorage, logger)
	logger.Info("notification permission", "permission", push.RequestPermission(ctx))

	loader, err := attachments.NewLoader(cfg.UploadsPath, cfg.MaxAttachmentSize, logger)
	if err != nil {
		return err
	}

	client := ws.NewClient(ws.ClientConfig{
		URL:               cfg.SocketURL,
		Token:             creds.Token,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		AckTimeout:        cfg.AckTimeout,
	}, logger)

	con := console.New(console.Config{
		HistoryLimit: cfg.HistoryLimit,
		AgentName:    creds.Admin.DisplayName(),
	}, client, push, logger)

	hub := ws.NewHub()
	con.OnChange(hub.Broadcast)
	client.OnState(con.SetConnected)

	apiHandlers := api.New(api.Deps{
		Console:       con,
		Notifier:      push,
		Subscriptions: bbStorage,
		Rooms:         rest,
		Attachments:   loader,
		Auth:          authService,
		Logger:        logger,
	})
	live := ws.NewServer(hub, con.Snapshot, logger)
	dashboard := http.NewDashboardServer(http.NewMux(apiHandlers, live, authService), cfg.DashboardAddr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	if credsErr == nil {
		// A dead backend connection leaves the dashboard up in read-only mode.
		g.Go(func() error {
			if err := client.Open(gCtx); err != nil {
				logger.Error("chat server unreachable", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			for ev := range client.Events() {
				con.Apply(gCtx, ev)
			}
			return nil
		})
	} else {
		logger.Warn("not logged in, backend connection disabled", "hint", "run helpdesk -login")
	}

	g.Go(func() error {
		return dashboard.Start()
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client.Close()
		if err := dashboard.Shutdown(shutdownCtx); err != nil {
			logger.Error("dashboard shutdown error", "error", err)
		}
		con.Wait()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
