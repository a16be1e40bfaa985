package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/afsheen-enterprise/concierge/assistant"
	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/gemini"
	"github.com/afsheen-enterprise/concierge/observe"
	"github.com/afsheen-enterprise/concierge/session"
)

var version = "dev"

// newAssistant builds the text assistant for the one-shot commands. Tests
// replace it.
var newAssistant = func(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) (session.Assistant, error) {
	client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	return buildAssistant(client, cfg, logger, metrics), nil
}

func buildAssistant(client *genai.Client, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics) *assistant.Service {
	return assistant.New(gemini.NewGenerator(client),
		assistant.WithModels(cfg.ConsultModel, cfg.MapModel),
		assistant.WithLogger(logger),
		assistant.WithMetrics(metrics),
	)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "concierge",
		Short:         "Afsheen Enterprise travel concierge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `concierge serves the Afsheen Enterprise travel assistant: live voice
sessions over WebSocket and Twilio, grounded travel consultations and map
searches that draw the places they mention.

Without a subcommand it runs the server.`,
		RunE: runServe,
	}
	root.AddCommand(newServeCmd(), newAskCmd(), newSearchCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}
