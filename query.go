package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/afsheen-enterprise/concierge/assistant"
	"github.com/afsheen-enterprise/concierge/config"
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/observe"
	"github.com/afsheen-enterprise/concierge/session"
)

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the concierge a travel question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concierge, err := oneShotAssistant(cmd)
			if err != nil {
				return err
			}
			text, err := concierge.Consult(cmd.Context(), strings.Join(args, " "))
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func newSearchCmd() *cobra.Command {
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the map for places",
		Long: `search asks the map model for places matching query and prints the
reply with every place it marked. --lat and --lng together bias the search
toward a position.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var origin *geo.LatLng
			latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
			switch {
			case latSet && lngSet:
				origin = &geo.LatLng{Lat: lat, Lng: lng}
			case latSet || lngSet:
				return errors.New("--lat and --lng must be given together")
			}

			concierge, err := oneShotAssistant(cmd)
			if err != nil {
				return err
			}
			result, err := concierge.SearchPlaces(cmd.Context(), strings.Join(args, " "), origin)
			printPlaces(cmd.OutOrStdout(), result)
			return err
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude to bias the search toward")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude to bias the search toward")
	return cmd
}

func oneShotAssistant(cmd *cobra.Command) (session.Assistant, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := observe.NewLogger(os.Stderr, cfg.LogLevel)
	return newAssistant(cmd.Context(), cfg, logger, observe.DefaultMetrics())
}

func printPlaces(w io.Writer, r assistant.PlaceResult) {
	fmt.Fprintln(w, strings.TrimSpace(r.DisplayText))
	if len(r.Points) > 0 {
		fmt.Fprintln(w)
		for _, p := range r.Points {
			fmt.Fprintf(w, "📍 %s (%.4f, %.4f)\n", p.Name, p.Lat, p.Lng)
		}
	}
	if len(r.MapLinks) > 0 {
		fmt.Fprintln(w)
		for _, l := range r.MapLinks {
			fmt.Fprintf(w, "%s\n  Naver: %s\n  Kakao: %s\n", l.Title, l.NaverURL, l.KakaoURL)
		}
	}
}
