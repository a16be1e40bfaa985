package functions

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

const (
	ConciergeServicesName = "GetConciergeServices"
	SearchMapName         = "SearchMap"
)

// ConciergeServicesDeclaration describes the company information tool.
func ConciergeServicesDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        ConciergeServicesName,
		Description: "Get the services offered by Afsheen Enterprise and how to reach the concierge team.",
	}
}

var services = `Afsheen Enterprise is a luxury travel concierge specialised in South Korea.
Services: curated itineraries for Seoul and the provinces, luxury hotel and resort
bookings, halal dining and prayer-room guidance, KTX/SRT, ferry and car rental
arrangements, medical and clinic referrals, and 24-hour safety assistance.
Guests can ask the concierge in English, Korean, Arabic, Bengali, Hindi, Urdu,
Russian, German, French, Vietnamese, Thai, Japanese or Indonesian.`

// ConciergeServices answers ConciergeServicesDeclaration.
func ConciergeServices(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"output": services}, nil
}

// SearchMapDeclaration describes the map search tool. Its handler is bound
// per client because results are drawn on that client's map.
func SearchMapDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        SearchMapName,
		Description: "Search for places in South Korea and show them on the guest's map. Use it whenever the guest asks where something is.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "What to look for, e.g. \"halal restaurants near Itaewon\".",
				},
			},
			Required: []string{"query"},
		},
	}
}

// ErrMissingQuery is returned when a SearchMap call has no usable query.
var ErrMissingQuery = errors.New("query is required")

// QueryArg extracts the query argument of a SearchMap call.
func QueryArg(args map[string]any) (string, error) {
	q, _ := args["query"].(string)
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrMissingQuery
	}
	return q, nil
}
