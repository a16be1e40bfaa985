package session

import (
	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/mapsync"
	"github.com/afsheen-enterprise/concierge/messages"
)

// defaultMapSize is the canvas the server-side mirror fits against.
var defaultMapSize = mapsync.Size{Width: 800, Height: 600}

// RemoteMap is the mapsync.MapView of a connected client. Every command is
// applied to an in-memory layer first and then sent, so the client gets the
// viewport the server computed along with each fit.
type RemoteMap struct {
	id    string
	out   outbox
	layer *mapsync.Layer
}

func newRemoteMap(id string, out outbox, center geo.LatLng) *RemoteMap {
	return &RemoteMap{
		id:    id,
		out:   out,
		layer: mapsync.NewLayer(defaultMapSize, center, 12),
	}
}

func (m *RemoteMap) ClearMarkers() {
	m.layer.ClearMarkers()
	m.send(messages.MapPayload{Op: messages.MapClear})
}

func (m *RemoteMap) AddMarker(p geo.Point) {
	m.layer.AddMarker(p)
	m.send(messages.MapPayload{Op: messages.MapMarker, Point: &p})
}

func (m *RemoteMap) FitBounds(b geo.Bounds, padding, maxZoom int) {
	m.layer.FitBounds(b, padding, maxZoom)
	view := m.layer.Viewport()
	m.send(messages.MapPayload{
		Op:      messages.MapFit,
		Bounds:  &b,
		Padding: padding,
		MaxZoom: maxZoom,
		View:    &view,
	})
}

func (m *RemoteMap) SetUserLocation(c geo.LatLng) {
	m.layer.SetUserLocation(c)
	m.send(messages.MapPayload{Op: messages.MapUser, Location: &c})
}

// Layer returns the server-side mirror of the client map.
func (m *RemoteMap) Layer() *mapsync.Layer {
	return m.layer
}

func (m *RemoteMap) send(p messages.MapPayload) {
	m.out.queueMessage(messages.NewMapMessage(m.id, p))
}
