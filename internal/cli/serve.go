package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/tenderwatch/internal/adapter/agentclient"
	"github.com/xiaot623/tenderwatch/internal/config"
	"github.com/xiaot623/tenderwatch/internal/hub"
	"github.com/xiaot623/tenderwatch/internal/logging"
	"github.com/xiaot623/tenderwatch/internal/registry"
	"github.com/xiaot623/tenderwatch/internal/repository"
	"github.com/xiaot623/tenderwatch/internal/service"
	transport "github.com/xiaot623/tenderwatch/internal/transport/http"
	"github.com/xiaot623/tenderwatch/policy"
)

const shutdownTimeout = 10 * time.Second

var (
	serveHTTPPort     int
	serveInternalPort int
	serveAgentsFile   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator and agent APIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("http-port") {
			cfg.HTTPPort = serveHTTPPort
		}
		if cmd.Flags().Changed("internal-port") {
			cfg.InternalPort = serveInternalPort
		}
		if cmd.Flags().Changed("agents-file") {
			cfg.AgentsFile = serveAgentsFile
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signalContext()
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveHTTPPort, "http-port", 0, "operator API port (overrides CONTROLPLANE_HTTP_PORT)")
	serveCmd.Flags().IntVar(&serveInternalPort, "internal-port", 0, "agent API port (overrides CONTROLPLANE_INTERNAL_PORT)")
	serveCmd.Flags().StringVar(&serveAgentsFile, "agents-file", "", "YAML agent registry, reloaded on change")
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting control plane",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("internal_port", cfg.InternalPort),
		zap.String("database", cfg.DatabaseURL),
		zap.Duration("verification_window", cfg.VerificationWindow))

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	policyContent := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
		policyContent = string(data)
	}
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	events := hub.NewHub(cfg.SubscriberBuffer, logger.Named("hub"))
	svc := service.New(db, agentclient.NewClient(cfg.AgentSignalTimeout), events, policyEngine, cfg, logger.Named("service"))
	defer svc.Close()

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	externalServer := transport.NewExternalServer(svc, cfg.DefaultOperatorRole, logger)
	internalServer := transport.NewInternalServer(svc, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listen(externalServer, cfg.HTTPPort, logger.With(zap.String("server", "operator")))
	})
	g.Go(func() error {
		return listen(internalServer, cfg.InternalPort, logger.With(zap.String("server", "agent")))
	})
	g.Go(func() error {
		events.Run(gctx, cfg.HeartbeatInterval)
		return nil
	})
	if cfg.AgentsFile != "" {
		watcher := registry.NewWatcher(cfg.AgentsFile, svc, logger.Named("registry"))
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// SSE streams end once the hub closes their subscriptions.
		events.Close()
		return errors.Join(
			externalServer.Shutdown(shutdownCtx),
			internalServer.Shutdown(shutdownCtx),
		)
	})

	err = g.Wait()
	logger.Info("servers stopped")
	return err
}

func listen(e *echo.Echo, port int, logger *zap.Logger) error {
	logger.Info("listening", zap.Int("port", port))
	if err := e.Start(":" + strconv.Itoa(port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on port %d failed: %w", port, err)
	}
	return nil
}
