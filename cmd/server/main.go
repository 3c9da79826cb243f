package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/handler"
	"coopcredit/internal/infrastructure/cache"
	"coopcredit/internal/infrastructure/database"
	"coopcredit/internal/infrastructure/logger"
	"coopcredit/internal/infrastructure/mq"
	"coopcredit/internal/job"
	"coopcredit/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	configPath string
	workerID   int64
)

var rootCmd = &cobra.Command{
	Use:           "coopcredit",
	Short:         "Cooperative member credit ledger and settlement engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE:  runServe,
}

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Run one penalty, overdue and interest pass, then exit",
	RunE:  runAccrue,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare cached balances with the ledger; exits 1 on drift",
	RunE:  runAudit,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().Int64Var(&workerID, "worker-id", 1, "snowflake worker id for reference numbers")
	rootCmd.AddCommand(serveCmd, accrueCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads config and opens the ledger store.
func bootstrap() (*config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.New(&cfg.Log)

	if err := idgen.Init(workerID); err != nil {
		return nil, nil, nil, err
	}

	db, err := database.Init(&cfg.Database, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go job.NewOutboxSender(db, publisher, cfg, log).Start(ctx)
	go job.NewAccrualJob(db, redisClient, cfg, log).Start(ctx)
	go job.NewBalanceAuditJob(db, cfg, log).Start(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.SetupRouter(db, redisClient, cfg, log),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// optionalRedis connects when Redis is reachable. One-shot commands still run
// without it, relying on the store's row locks.
func optionalRedis(cfg *config.Config, log *zap.Logger) *redis.Client {
	client, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		log.Warn("redis unavailable, using database locks only", zap.Error(err))
		return nil
	}
	return client
}

func runAccrue(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	redisClient := optionalRedis(cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	summary, err := job.NewAccrualJob(db, redisClient, cfg, log).RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "penalties=%d (%s) overdue=%d interest=%d (%s) failed=%d\n",
		summary.PenaltiesApplied, summary.PenaltyTotal,
		summary.MarkedOverdue,
		summary.InterestCharged, summary.InterestTotal,
		summary.Failed)
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	summary, err := job.NewBalanceAuditJob(db, cfg, log).RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, d := range summary.Drifts {
		fmt.Fprintf(out, "member=%d cached=%s ledger=%s outstanding=%s\n", d.MemberID, d.Cached, d.Ledger, d.Outstanding)
	}
	fmt.Fprintf(out, "checked=%d drifted=%d\n", summary.Checked, len(summary.Drifts))
	if len(summary.Drifts) > 0 {
		return fmt.Errorf("%d members drifted", len(summary.Drifts))
	}
	return nil
}
