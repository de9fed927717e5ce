package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"brokerflow/api/internal/app"
	"brokerflow/api/internal/auth"
	"brokerflow/api/internal/blob"
	"brokerflow/api/internal/config"
	"brokerflow/api/internal/email"
	"brokerflow/api/internal/export"
	"brokerflow/api/internal/llm"
	"brokerflow/api/internal/lock"
	"brokerflow/api/internal/logger"
	"brokerflow/api/internal/search"
	"brokerflow/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "brokerflow-api",
		Short:         "BrokerFlow API server and maintenance jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "retention",
			Short: "Delete data past each tenant's retention window",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runJob(cmd.Context(), func(ctx context.Context, svc *app.Service) (any, error) {
					return svc.RunRetention(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "reminders",
			Short: "Email assignees of open tasks due within three days",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runJob(cmd.Context(), func(ctx context.Context, svc *app.Service) (any, error) {
					return svc.SendTaskReminders(ctx)
				})
			},
		},
		newTokenCmd(),
	)
	return root
}

func newTokenCmd() *cobra.Command {
	var (
		userID   string
		tenantID string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if userID == "" || tenantID == "" {
				return errors.New("--user and --tenant are required")
			}
			token, err := auth.IssueToken([]byte(cfg.AuthSecret), auth.Claims{
				Sub:    userID,
				Tenant: tenantID,
				Role:   role,
				Exp:    time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (sub claim)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&role, "role", "agent", "agent or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// wiring holds everything a command needs. close releases it in reverse order.
type wiring struct {
	cfg     config.Config
	log     *logger.Logger
	db      *sql.DB
	service *app.Service
	search  *search.Service
	closers []func()
}

func (r *wiring) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func openDatabase(ctx context.Context) (config.Config, *logger.Logger, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Sync()
		return config.Config{}, nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		db.Close()
		log.Sync()
		return config.Config{}, nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return cfg, log, db, nil
}

func buildWiring(ctx context.Context) (*wiring, error) {
	cfg, log, db, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	rt := &wiring{cfg: cfg, log: log, db: db}
	rt.closers = append(rt.closers, log.Sync, func() { _ = db.Close() })

	dataStore := store.NewPostgresStore(db)

	provider, err := llm.New(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}

	blobs, err := blob.New(cfg)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("object storage: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		log.Warn("ensure bucket failed, uploads may fail", "bucket", cfg.S3Bucket, "error", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		rt.closers = append(rt.closers, meiliClient.Close)
	}
	rt.search = search.NewService(meiliClient, search.NewStoreFallback(dataStore), log)

	deps := app.Deps{
		Store:  dataStore,
		LLM:    provider,
		Blobs:  blobs,
		Search: rt.search,
		Logger: log,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = locker.Close() })
		deps.Locker = locker
		log.Info("extraction lock enabled")
	} else {
		log.Info("REDIS_URL not set, extractions run without a lock")
	}
	if mailer := email.NewService(email.ConfigFrom(cfg)); mailer.IsConfigured() {
		deps.Mailer = mailer
	}
	deps.Exporter = export.NewService(cfg.ChromePath)

	rt.service = app.New(cfg, deps)
	return rt, nil
}

func runMigrate(ctx context.Context) error {
	_, log, db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer db.Close()
	log.Info("migrations applied")
	return nil
}

func runJob(ctx context.Context, job func(context.Context, *app.Service) (any, error)) error {
	rt, err := buildWiring(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := job(ctx, rt.service)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func runServe(ctx context.Context) error {
	rt, err := buildWiring(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	log := rt.log

	go func() {
		if err := rt.service.ReindexSearch(context.Background(), rt.search.Reindex); err != nil {
			log.Warn("search reindex failed", "error", err)
		}
	}()

	httpServer := app.NewHTTPServer(rt.service, rt.cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      rt.cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("BrokerFlow API listening", "addr", rt.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	return nil
}
