package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"disputedesk/config"
	"disputedesk/db"
	"disputedesk/identity"
	"disputedesk/notify"
	"disputedesk/observability"
	"disputedesk/scheduler"
	"disputedesk/storage"
	"disputedesk/ticket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "disputedesk",
		Short:         "Dispute resolution ticket engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newScanCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and the notification dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, config.LoadConfig())
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.serve(ctx)
		},
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one scheduler cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), config.LoadConfig())
			if err != nil {
				return err
			}
			defer rt.close()

			dctx, cancel := context.WithCancel(cmd.Context())
			done := make(chan struct{})
			go func() {
				_ = rt.dispatcher.Run(dctx)
				close(done)
			}()

			res := rt.scheduler.ScanOnce(cmd.Context())
			cancel()
			<-done

			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d escalated=%d closed=%d skipped=%d failed=%d\n",
				res.Scanned, res.Escalated, res.Closed, res.Skipped, res.Failed)
			if res.ListFailure {
				return errors.New("scan: could not list active tickets")
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		admin  bool
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadConfig()
			token, err := identity.NewIssuer(cfg.JWTSecret).WithTTL(ttl).Issue(userID, admin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id carried by the token")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	cmd.Flags().DurationVar(&ttl, "ttl", identity.DefaultTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// runtime holds the wired components shared by the serve and scan commands.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	service    *ticket.Service
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
	issuer     *identity.Issuer
	closers    []func()
}

func bootstrap(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := observability.NewLogger(cfg.Environment, cfg.LogLevel)
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	var store ticket.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database pool: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		store = ticket.NewPGStore(pool)
		logger.Info("using postgres ticket store")
	} else {
		store = ticket.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, tickets are kept in memory")
	}

	var attachments ticket.AttachmentStore = ticket.RejectingAttachments{}
	if cfg.CloudinaryEnabled() {
		cld, err := storage.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("bootstrap attachments: %w", err)
		}
		attachments = cld
	} else {
		logger.Warn("cloudinary not configured, attachments will be dropped")
	}

	var sink notify.Sink = notify.LogSink{Logger: logger.Named("notify")}
	if cfg.RedisURL != "" {
		client := notify.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		sink = notify.NewRedisSink(client)
	}
	rt.dispatcher = notify.NewDispatcher(sink, cfg.NotifyBuffer, logger.Named("notify"))

	rt.service = ticket.NewService(store, attachments, rt.dispatcher, logger.Named("ticket")).
		WithMaxAttempts(cfg.MaxActAttempts).
		WithUploadTimeout(cfg.UploadTimeout)

	rt.scheduler = scheduler.New(rt.service, logger.Named("scheduler")).
		WithInterval(cfg.ScanInterval).
		WithConcurrency(cfg.ScanConcurrency).
		WithMetrics(scheduler.NewMetrics(rt.registry))

	rt.issuer = identity.NewIssuer(cfg.JWTSecret)
	return rt, nil
}

func (rt *runtime) serve(ctx context.Context) error {
	if rt.cfg.JWTSecret == "" {
		return identity.ErrMissingSecret
	}
	app := NewServer(rt.service, rt.issuer, rt.logger.Named("http"), rt.registry).App()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("http server listening", zap.String("port", rt.cfg.Port))
		return app.Listen(":" + rt.cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(rt.scheduler.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(rt.dispatcher.Run(gctx))
	})

	err := g.Wait()
	rt.logger.Info("shutdown complete", zap.Int64("dropped_notifications", rt.dispatcher.Dropped()))
	return err
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
