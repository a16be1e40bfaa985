package mapsync

import (
	"math"
	"slices"
	"sync"

	"github.com/afsheen-enterprise/concierge/geo"
)

const (
	tileSize = 256

	// mercator is undefined at the poles; latitudes are clamped to this.
	maxLatitude = 85.0511287798
)

// Size is a map canvas size in pixels.
type Size struct {
	Width  int
	Height int
}

// Viewport is the visible part of a map.
type Viewport struct {
	Center geo.LatLng `json:"center"`
	Zoom   float64    `json:"zoom"`
}

// Layer is an in-memory MapView. It keeps the marker set and computes the
// viewport a Web-Mercator slippy map of the given size would show, using
// the same fit rules as Leaflet's fitBounds with integer zoom snapping.
type Layer struct {
	size    Size
	minZoom float64
	maxZoom float64

	mu       sync.Mutex
	markers  []geo.Point
	user     *geo.LatLng
	viewport Viewport
}

// NewLayer creates a layer of size centred on start at zoom.
func NewLayer(size Size, start geo.LatLng, zoom float64) *Layer {
	return &Layer{
		size:     size,
		minZoom:  0,
		maxZoom:  19,
		viewport: Viewport{Center: start, Zoom: zoom},
	}
}

// ClearMarkers implements MapView.
func (l *Layer) ClearMarkers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markers = nil
}

// AddMarker implements MapView.
func (l *Layer) AddMarker(p geo.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markers = append(l.markers, p)
}

// SetUserLocation implements MapView.
func (l *Layer) SetUserLocation(c geo.LatLng) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user = &c
}

// FitBounds implements MapView.
func (l *Layer) FitBounds(b geo.Bounds, padding, maxZoom int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewport = l.fit(b, float64(padding), float64(maxZoom))
}

// Markers returns a copy of the search markers.
func (l *Layer) Markers() []geo.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.markers)
}

// UserLocation returns the user marker position, if set.
func (l *Layer) UserLocation() (geo.LatLng, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.user == nil {
		return geo.LatLng{}, false
	}
	return *l.user, true
}

// Viewport returns the current viewport.
func (l *Layer) Viewport() Viewport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewport
}

func (l *Layer) fit(b geo.Bounds, padding, maxZoom float64) Viewport {
	sw := project(geo.LatLng{Lat: b.South, Lng: b.West}, 0)
	ne := project(geo.LatLng{Lat: b.North, Lng: b.East}, 0)

	width := float64(l.size.Width) - 2*padding
	height := float64(l.size.Height) - 2*padding
	spanX := math.Abs(ne.x - sw.x)
	spanY := math.Abs(sw.y - ne.y)

	zoom := math.Inf(1)
	if width <= 0 || height <= 0 {
		zoom = l.minZoom
	} else if spanX > 0 || spanY > 0 {
		scale := math.Min(width/spanX, height/spanY)
		zoom = math.Floor(math.Log2(scale))
	}
	if maxZoom > 0 {
		zoom = math.Min(zoom, maxZoom)
	}
	zoom = math.Max(l.minZoom, math.Min(l.maxZoom, zoom))

	mid := point{x: (sw.x + ne.x) / 2, y: (sw.y + ne.y) / 2}
	return Viewport{Center: unproject(mid, 0), Zoom: zoom}
}

type point struct{ x, y float64 }

// project maps c to world pixel coordinates at zoom.
func project(c geo.LatLng, zoom float64) point {
	world := tileSize * math.Exp2(zoom)
	lat := math.Max(-maxLatitude, math.Min(maxLatitude, c.Lat))
	sin := math.Sin(lat * math.Pi / 180)
	return point{
		x: (c.Lng + 180) / 360 * world,
		y: (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * world,
	}
}

func unproject(p point, zoom float64) geo.LatLng {
	world := tileSize * math.Exp2(zoom)
	n := math.Pi - 2*math.Pi*p.y/world
	return geo.LatLng{
		Lat: 180 / math.Pi * math.Atan(math.Sinh(n)),
		Lng: p.x/world*360 - 180,
	}
}
