// Package mapsync keeps a map view in step with the places found in an
// assistant reply.
//
// Every non-empty result fully replaces the previously rendered markers; the
// marker showing the user's own location is managed separately and is never
// touched by a sync.
package mapsync

import (
	"log/slog"
	"sync"

	"github.com/afsheen-enterprise/concierge/geo"
)

const (
	// DefaultPadding is the margin, in pixels, kept around fitted points.
	DefaultPadding = 50

	// DefaultMaxZoom caps the zoom level after a fit so a single point does not
	// zoom in to street level.
	DefaultMaxZoom = 15
)

// MapView is the rendering side of a map. Implementations draw markers and
// move the viewport; they do not decide what to show.
type MapView interface {
	// ClearMarkers removes every search marker. The user marker stays.
	ClearMarkers()
	// AddMarker places a labelled marker at p.
	AddMarker(p geo.Point)
	// FitBounds moves the viewport so b is visible with padding pixels of
	// margin, zooming in no further than maxZoom.
	FitBounds(b geo.Bounds, padding, maxZoom int)
	// SetUserLocation places or moves the persistent user marker.
	SetUserLocation(c geo.LatLng)
}

// Syncer drives a MapView from parsed search results. It is safe for
// concurrent use; each Sync reaches the view as one uninterrupted sequence.
type Syncer struct {
	mu      sync.Mutex
	view    MapView
	padding int
	maxZoom int
	logger  *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithPadding overrides DefaultPadding.
func WithPadding(px int) Option {
	return func(s *Syncer) {
		if px >= 0 {
			s.padding = px
		}
	}
}

// WithMaxZoom overrides DefaultMaxZoom.
func WithMaxZoom(z int) Option {
	return func(s *Syncer) {
		if z > 0 {
			s.maxZoom = z
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Syncer for view.
func New(view MapView, opts ...Option) *Syncer {
	s := &Syncer{
		view:    view,
		padding: DefaultPadding,
		maxZoom: DefaultMaxZoom,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync replaces the rendered markers with points and fits the viewport
// around them. An empty slice leaves markers and viewport as they are, so a
// reply without places does not wipe the previous result.
func (s *Syncer) Sync(points []geo.Point) {
	bounds, ok := geo.BoundsOf(points)
	if !ok {
		s.logger.Debug("mapsync: no points, keeping current view")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.ClearMarkers()
	for _, p := range points {
		s.view.AddMarker(p)
	}
	s.view.FitBounds(bounds, s.padding, s.maxZoom)

	s.logger.Debug("mapsync: markers replaced", "count", len(points))
}

// Locate sets the user marker.
func (s *Syncer) Locate(c geo.LatLng) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.SetUserLocation(c)
}
