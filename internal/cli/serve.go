package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nousos/nous/internal/agent"
	"github.com/nousos/nous/internal/auth"
	"github.com/nousos/nous/internal/catalog"
	"github.com/nousos/nous/internal/chat"
	"github.com/nousos/nous/internal/gateway"
	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/metrics"
	"github.com/nousos/nous/internal/ratelimit"
	"github.com/nousos/nous/internal/store"
	"github.com/nousos/nous/internal/vfs"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the NOUS server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}
			if err := ensureJWTSecret(&cfg); err != nil {
				return err
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hookMgr := hooks.NewManager(log)

			be, err := openBackend(ctx, cfg, hookMgr)
			if err != nil {
				return err
			}
			defer be.Close()
			log.Info().Str("storage", be.desc).Msg("storage ready")

			if cfg.VFS.Audit {
				vfs.NewAuditTrail(be.docs, log).Register(hookMgr)
			}

			authSvc, err := be.authService(cfg, hookMgr)
			if err != nil {
				return err
			}
			if authSvc.Mode() == auth.ModeMock {
				log.Warn().Msg("auth mode is mock, any credentials sign in")
			}

			limiter := ratelimit.New(ratelimit.RulesFromConfig(cfg.Limits))
			chatSvc := chat.New(store.NewChatStore(be.db), agent.NewCannedResponder(), chat.Options{
				Greeting:   cfg.Chat.Greeting,
				ReplyDelay: time.Duration(cfg.Chat.ReplyDelayMs) * time.Millisecond,
				Limiter:    limiter,
				Hooks:      hookMgr,
			}, log)

			cat, err := catalog.Default()
			if err != nil {
				return fmt.Errorf("loading catalog: %w", err)
			}

			opts := []gateway.ServerOption{
				gateway.WithAuth(authSvc),
				gateway.WithChat(chatSvc),
				gateway.WithVFS(be.mounter),
				gateway.WithCatalog(cat),
				gateway.WithLimiter(limiter),
				gateway.WithHooks(hookMgr),
			}
			if cfg.Metrics.Enabled {
				m := metrics.New()
				m.ObserveHooks(hookMgr)
				opts = append(opts, gateway.WithMetrics(m))
			}

			srv := gateway.New(cfg, log, opts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			g.Go(func() error {
				pruneRevoked(gctx, store.NewTokenStore(be.db))
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// pruneRevoked drops expired revocations until ctx is done.
func pruneRevoked(ctx context.Context, tokens *store.TokenStore) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := tokens.Prune(ctx, now)
			if err != nil {
				log.Warn().Err(err).Msg("pruning revoked tokens failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("tokens", n).Msg("pruned expired revocations")
			}
		}
	}
}
