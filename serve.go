package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/functions"
	"github.com/afsheen-enterprise/concierge/gemini"
	"github.com/afsheen-enterprise/concierge/observe"
	"github.com/afsheen-enterprise/concierge/server"
	"github.com/afsheen-enterprise/concierge/session"
	"github.com/afsheen-enterprise/concierge/voice"
)

const shutdownTimeout = 10 * time.Second

type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket and Twilio servers",
		Long: `serve starts the servers selected by SERVER_TYPE (websocket, twilio or
both) and runs until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observe.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	metrics := observe.DefaultMetrics()

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	concierge := buildAssistant(client, cfg, logger, metrics)

	sessionManager := session.NewManager(ctx, cfg, session.Deps{
		Assistant: concierge,
		Connector: liveConnector(client, cfg, logger),
		Catalog:   catalog,
		Logger:    logger,
		Metrics:   metrics,
	})
	go sessionManager.StartCleanupRoutine(ctx)

	var servers []httpServer
	switch cfg.ServerType {
	case config.ServerWebsocket:
		servers = append(servers, server.NewServerWebsocket(cfg, sessionManager, concierge, catalog, logger))
	case config.ServerTwilio:
		servers = append(servers, server.NewWebsocketTwilio(cfg, sessionManager, logger))
	case config.ServerBoth:
		servers = append(servers,
			server.NewServerWebsocket(cfg, sessionManager, concierge, catalog, logger),
			server.NewWebsocketTwilio(cfg, sessionManager, logger))
	default:
		return fmt.Errorf("unknown SERVER_TYPE: %s", cfg.ServerType)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("🛑 Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sessionManager.Shutdown(shutdownCtx)
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown error", "err", err)
			}
		}
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown error", "err", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}

// liveConnector opens one Gemini Live connection per voice session with the
// session's instruction and tools.
func liveConnector(client *genai.Client, cfg *config.Config, logger *slog.Logger) session.ConnectorFactory {
	return func(instruction string, tools *functions.Registry) voice.Connector {
		return gemini.NewLiveConnector(client, gemini.LiveConfig{
			Model:       cfg.LiveModel,
			Voice:       cfg.VoiceName,
			Instruction: instruction,
			Tools:       tools,
		}, logger)
	}
}
