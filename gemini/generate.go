// Package gemini adapts google.golang.org/genai to the concierge: Live voice
// sessions for the voice package and grounded text generation for the
// assistant package.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/afsheen-enterprise/concierge/assistant"
)

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// Generator implements assistant.Model with Models.GenerateContent.
type Generator struct {
	client *genai.Client
}

// NewGenerator creates a Generator on client.
func NewGenerator(client *genai.Client) *Generator {
	return &Generator{client: client}
}

// Generate implements assistant.Model.
func (g *Generator) Generate(ctx context.Context, req assistant.Request) (assistant.Response, error) {
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), generateConfig(req))
	if err != nil {
		return assistant.Response{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	return responseFrom(resp), nil
}

func generateConfig(req assistant.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	for _, c := range req.Tools {
		switch c {
		case assistant.WebSearch:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case assistant.MapsSearch:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
		}
	}
	if req.Origin != nil {
		lat, lng := req.Origin.Lat, req.Origin.Lng
		cfg.ToolConfig = &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{Latitude: &lat, Longitude: &lng},
			},
		}
	}
	if req.ThinkingBudget > 0 {
		budget := req.ThinkingBudget
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	return cfg
}

// responseFrom extracts text and grounding links from the first candidate.
func responseFrom(resp *genai.GenerateContentResponse) assistant.Response {
	if resp == nil {
		return assistant.Response{}
	}
	out := assistant.Response{Text: resp.Text()}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].GroundingMetadata == nil {
		return out
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil {
			continue
		}
		if chunk.Web != nil {
			out.WebLinks = append(out.WebLinks, assistant.Link{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
		if chunk.Maps != nil {
			out.MapLinks = append(out.MapLinks, assistant.Link{Title: chunk.Maps.Title, URI: chunk.Maps.URI})
		}
	}
	return out
}
