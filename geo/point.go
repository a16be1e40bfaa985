// Package geo extracts geographic annotations embedded in assistant text.
//
// The assistant is instructed to mark every place it mentions with a tag of
// the form
//
//	[LOC: Name | 37.5665, 126.9780]
//
// Parse returns the points in the order they appear, Strip removes the tags
// for display, and BoundsOf computes the region a map needs to show them.
package geo

import "math"

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point is a named location extracted from a tag.
type Point struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// LatLng returns the coordinate of p.
func (p Point) LatLng() LatLng {
	return LatLng{Lat: p.Lat, Lng: p.Lng}
}

// Bounds is an axis-aligned rectangle in degrees.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Center returns the midpoint of b.
func (b Bounds) Center() LatLng {
	return LatLng{Lat: (b.South + b.North) / 2, Lng: (b.West + b.East) / 2}
}

// Contains reports whether c lies inside b, edges included.
func (b Bounds) Contains(c LatLng) bool {
	return c.Lat >= b.South && c.Lat <= b.North && c.Lng >= b.West && c.Lng <= b.East
}

// BoundsOf returns the smallest rectangle covering points. The boolean is
// false when points is empty.
func BoundsOf(points []Point) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b := Bounds{
		South: math.Inf(1),
		West:  math.Inf(1),
		North: math.Inf(-1),
		East:  math.Inf(-1),
	}
	for _, p := range points {
		b.South = math.Min(b.South, p.Lat)
		b.North = math.Max(b.North, p.Lat)
		b.West = math.Min(b.West, p.Lng)
		b.East = math.Max(b.East, p.Lng)
	}
	return b, true
}
