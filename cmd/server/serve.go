package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/todoapi/pkg/auth"
	"github.com/rhuss/todoapi/pkg/auth/apikey"
	"github.com/rhuss/todoapi/pkg/auth/jwt"
	"github.com/rhuss/todoapi/pkg/auth/signin"
	"github.com/rhuss/todoapi/pkg/config"
	"github.com/rhuss/todoapi/pkg/debug"
	transporthttp "github.com/rhuss/todoapi/pkg/transport/http"
	"github.com/rhuss/todoapi/pkg/users"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			logger := debug.Init(cfg.Observability.Logging.Debug, cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
			debug.Log("config", "configuration loaded",
				"port", cfg.Server.Port,
				"storage", cfg.Storage.Type,
				"metrics", cfg.Observability.Metrics.Enabled,
				"users", len(cfg.Auth.Users),
				"debug_categories", debug.Categories(),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.run(ctx)
		},
	}
}

// app is a fully wired service: store, sign-in flow and HTTP server.
type app struct {
	store           backend
	signin          *signin.Service
	server          *transporthttp.Server
	requestLimiter  *auth.InProcessLimiter
	janitorInterval time.Duration
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, cfg, logger, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, store backend) (*app, error) {
	seed := make([]users.Credentials, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		seed = append(seed, users.Credentials{Username: u.Username, Password: u.Password})
	}
	if err := users.Seed(ctx, store, seed); err != nil {
		return nil, fmt.Errorf("seeding users: %w", err)
	}

	jwtCfg := jwt.Config{
		Secret: []byte(cfg.Auth.SecretKey),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	}
	minter, err := jwt.NewMinter(jwtCfg)
	if err != nil {
		return nil, fmt.Errorf("creating token minter: %w", err)
	}

	svc, err := signin.NewService(store, store, store, minter,
		signin.WithNonceTTL(cfg.Auth.NonceTTL),
		signin.WithLimiter(auth.NewInProcessLimiter(cfg.Auth.RateLimit.SignInPerMinute)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sign-in service: %w", err)
	}

	keys := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys = append(keys, apikey.RawKeyEntry{Key: k.Key, Subject: k.Subject})
	}
	chain := &auth.AuthChain{
		Authenticators: []auth.Authenticator{
			jwt.NewAuthenticator(jwtCfg, store),
			apikey.New(keys),
		},
		DefaultDecision: auth.No,
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}
	bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
	if metricsPath != "" {
		bypass = append(bypass, metricsPath)
	}

	limiter := auth.NewInProcessLimiter(cfg.Auth.RateLimit.RequestsPerMinute)

	server := transporthttp.NewServer(store, svc,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithLogger(logger),
		transporthttp.WithMiddleware(auth.Middleware(chain, limiter, bypass)),
	)

	slog.Info("auth configured",
		"issuer", cfg.Auth.Issuer,
		"token_ttl", cfg.Auth.TokenTTL,
		"nonce_ttl", cfg.Auth.NonceTTL,
		"api_keys", len(keys),
	)

	return &app{
		store:           store,
		signin:          svc,
		server:          server,
		requestLimiter:  limiter,
		janitorInterval: cfg.Auth.JanitorInterval,
	}, nil
}

// run serves HTTP and purges expired records until ctx is cancelled or
// one of them fails.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		return a.signin.RunJanitor(ctx, a.janitorInterval)
	})
	g.Go(func() error {
		sweepLoop(ctx, a.requestLimiter, a.janitorInterval)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// sweepLoop drops idle request-limiter counters every interval.
func sweepLoop(ctx context.Context, l *auth.InProcessLimiter, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				debug.Log("auth", "swept idle rate limit counters", "count", n)
			}
		}
	}
}
