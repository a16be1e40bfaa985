// Package assistant answers typed travel questions and map searches for the
// concierge. It owns prompts, fallbacks and link post-processing; the
// generative model itself is reached through the Model interface.
package assistant

import (
	"context"
	"errors"

	"github.com/afsheen-enterprise/concierge/geo"
)

// Capability is a grounding tool the model may use.
type Capability int

const (
	// WebSearch grounds answers in web search results.
	WebSearch Capability = iota
	// MapsSearch grounds answers in map place data.
	MapsSearch
)

// String implements fmt.Stringer.
func (c Capability) String() string {
	switch c {
	case WebSearch:
		return "web_search"
	case MapsSearch:
		return "maps_search"
	default:
		return "unknown"
	}
}

// Request is one generation call.
type Request struct {
	Model          string
	System         string
	Prompt         string
	Tools          []Capability
	Origin         *geo.LatLng
	ThinkingBudget int32
}

// Link is a grounding reference.
type Link struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Response is the model output with its grounding references split by kind.
type Response struct {
	Text     string
	WebLinks []Link
	MapLinks []Link
}

// Model generates grounded text.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ErrServiceUnavailable wraps every model failure. Callers still receive
// displayable fallback text alongside it.
var ErrServiceUnavailable = errors.New("assistant: service unavailable")
