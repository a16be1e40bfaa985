package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/observe"
)

const (
	DefaultConsultModel   = "gemini-3-pro-preview"
	DefaultMapModel       = "gemini-2.5-flash"
	DefaultThinkingBudget = 4000

	naverSearchURL = "https://map.naver.com/v5/search/"
	kakaoSearchURL = "https://map.kakao.com/link/search/"
)

// MapLink is a place reference with deep links into Korean map apps.
type MapLink struct {
	Title    string `json:"title"`
	URI      string `json:"uri"`
	NaverURL string `json:"naverUrl"`
	KakaoURL string `json:"kakaoUrl"`
}

// PlaceResult is the outcome of a map search.
type PlaceResult struct {
	// Text is the raw model reply, tags included.
	Text string `json:"text"`
	// DisplayText is Text with every location tag removed.
	DisplayText string      `json:"displayText"`
	Points      []geo.Point `json:"points"`
	MapLinks    []MapLink   `json:"mapLinks"`
}

// Service answers consultations and map searches.
type Service struct {
	model          Model
	consultModel   string
	mapModel       string
	thinkingBudget int32
	logger         *slog.Logger
	metrics        *observe.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithModels overrides the consultation and map model names. Empty values
// keep the defaults.
func WithModels(consult, maps string) Option {
	return func(s *Service) {
		if consult != "" {
			s.consultModel = consult
		}
		if maps != "" {
			s.mapModel = maps
		}
	}
}

// WithThinkingBudget sets the consultation thinking budget in tokens.
func WithThinkingBudget(tokens int32) Option {
	return func(s *Service) { s.thinkingBudget = tokens }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Service on model.
func New(model Model, opts ...Option) *Service {
	s := &Service{
		model:          model,
		consultModel:   DefaultConsultModel,
		mapModel:       DefaultMapModel,
		thinkingBudget: DefaultThinkingBudget,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Consult answers a free-form travel question with web grounding. The
// returned text is always displayable: on failure it is ConsultFallback and
// the error wraps ErrServiceUnavailable.
func (s *Service) Consult(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := s.model.Generate(ctx, Request{
		Model:          s.consultModel,
		System:         consultInstruction,
		Prompt:         prompt,
		Tools:          []Capability{WebSearch},
		ThinkingBudget: s.thinkingBudget,
	})
	if err != nil {
		s.record(ctx, "consult", "error", start)
		s.logger.Error("assistant: consult failed", "err", err)
		return ConsultFallback, fmt.Errorf("%w: consult: %w", ErrServiceUnavailable, err)
	}
	s.record(ctx, "consult", "ok", start)

	text := resp.Text
	if text == "" {
		text = EmptyAnswer
	}
	if refs := references(resp.WebLinks); refs != "" {
		text += "\n\n" + referencesHeader + "\n" + refs
	}
	return text, nil
}

// SearchPlaces looks up places for query, biased toward origin when given.
// On failure the result carries SearchFallback and no places, and the error
// wraps ErrServiceUnavailable.
func (s *Service) SearchPlaces(ctx context.Context, query string, origin *geo.LatLng) (PlaceResult, error) {
	start := time.Now()
	resp, err := s.model.Generate(ctx, Request{
		Model:  s.mapModel,
		System: mapInstruction,
		Prompt: searchPrompt(query),
		Tools:  []Capability{MapsSearch, WebSearch},
		Origin: origin,
	})
	if err != nil {
		s.record(ctx, "search", "error", start)
		s.logger.Error("assistant: map search failed", "query", query, "err", err)
		return PlaceResult{
			Text:        SearchFallback,
			DisplayText: SearchFallback,
			Points:      []geo.Point{},
			MapLinks:    []MapLink{},
		}, fmt.Errorf("%w: search: %w", ErrServiceUnavailable, err)
	}
	s.record(ctx, "search", "ok", start)

	points := geo.Parse(resp.Text)
	if points == nil {
		points = []geo.Point{}
	}
	s.metrics.SearchPoints.Add(ctx, int64(len(points)))

	links := make([]MapLink, 0, len(resp.MapLinks))
	for _, l := range resp.MapLinks {
		links = append(links, DeepLinks(l))
	}

	return PlaceResult{
		Text:        resp.Text,
		DisplayText: geo.Strip(resp.Text),
		Points:      points,
		MapLinks:    links,
	}, nil
}

func (s *Service) record(ctx context.Context, op, status string, start time.Time) {
	s.metrics.RecordAssistantRequest(ctx, op, status, time.Since(start).Seconds())
}

// DeepLinks adds Naver and Kakao search links for l's title.
func DeepLinks(l Link) MapLink {
	q := escapeComponent(l.Title)
	return MapLink{
		Title:    l.Title,
		URI:      l.URI,
		NaverURL: naverSearchURL + q,
		KakaoURL: kakaoSearchURL + q,
	}
}

// escapeComponent escapes s for use as a single URL path segment, with
// spaces as %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// references renders web links as a markdown list, each distinct line once.
func references(links []Link) string {
	seen := make(map[string]bool, len(links))
	var lines []string
	for _, l := range links {
		line := fmt.Sprintf("* [%s](%s)", l.Title, l.URI)
		if seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
