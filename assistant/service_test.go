package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/afsheen-enterprise/concierge/geo"
	"github.com/afsheen-enterprise/concierge/observe"
)

type stubModel struct {
	resp Response
	err  error
	reqs []Request
}

func (m *stubModel) Generate(_ context.Context, req Request) (Response, error) {
	m.reqs = append(m.reqs, req)
	return m.resp, m.err
}

func newService(t *testing.T, model Model, opts ...Option) *Service {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return New(model, append([]Option{WithMetrics(metrics)}, opts...)...)
}

func TestConsult_AppendsDistinctReferences(t *testing.T) {
	model := &stubModel{resp: Response{
		Text: "Take the KTX from Seoul Station.",
		WebLinks: []Link{
			{Title: "Korail", URI: "https://www.letskorail.com"},
			{Title: "Korail", URI: "https://www.letskorail.com"},
			{Title: "SRT", URI: "https://etk.srail.kr"},
		},
	}}
	s := newService(t, model)

	text, err := s.Consult(context.Background(), "How do I get to Busan?")
	require.NoError(t, err)
	assert.Equal(t, "Take the KTX from Seoul Station.\n\n### References & Official Sites:\n"+
		"* [Korail](https://www.letskorail.com)\n* [SRT](https://etk.srail.kr)", text)

	require.Len(t, model.reqs, 1)
	req := model.reqs[0]
	assert.Equal(t, DefaultConsultModel, req.Model)
	assert.Equal(t, []Capability{WebSearch}, req.Tools)
	assert.Equal(t, int32(DefaultThinkingBudget), req.ThinkingBudget)
	assert.Equal(t, "How do I get to Busan?", req.Prompt)
	assert.Contains(t, req.System, "Super-Brain")
	assert.Nil(t, req.Origin)
}

func TestConsult_EmptyTextUsesPlaceholder(t *testing.T) {
	s := newService(t, &stubModel{})
	text, err := s.Consult(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, EmptyAnswer, text)
}

func TestConsult_FailureFallsBack(t *testing.T) {
	s := newService(t, &stubModel{err: errors.New("quota exceeded")})
	text, err := s.Consult(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, ConsultFallback, text)
}

func TestSearchPlaces(t *testing.T) {
	model := &stubModel{resp: Response{
		Text: "Shilla Hotel [LOC: Shilla Hotel | 37.5558, 127.0051] is a luxury stay near [LOC: COEX | 37.5115, 127.0595].",
		MapLinks: []Link{
			{Title: "The Shilla Seoul", URI: "https://maps.google.com/?cid=1"},
		},
	}}
	s := newService(t, model, WithModels("", "maps-model"))
	origin := &geo.LatLng{Lat: 37.5665, Lng: 126.9780}

	res, err := s.SearchPlaces(context.Background(), "luxury hotels", origin)
	require.NoError(t, err)

	assert.Equal(t, "Shilla Hotel  is a luxury stay near .", res.DisplayText)
	assert.Equal(t, []geo.Point{
		{Name: "Shilla Hotel", Lat: 37.5558, Lng: 127.0051},
		{Name: "COEX", Lat: 37.5115, Lng: 127.0595},
	}, res.Points)
	assert.Equal(t, []MapLink{{
		Title:    "The Shilla Seoul",
		URI:      "https://maps.google.com/?cid=1",
		NaverURL: "https://map.naver.com/v5/search/The%20Shilla%20Seoul",
		KakaoURL: "https://map.kakao.com/link/search/The%20Shilla%20Seoul",
	}}, res.MapLinks)

	req := model.reqs[0]
	assert.Equal(t, "maps-model", req.Model)
	assert.Equal(t, []Capability{MapsSearch, WebSearch}, req.Tools)
	assert.Equal(t, origin, req.Origin)
	assert.Contains(t, req.Prompt, "Search for the following in South Korea: luxury hotels.")
}

func TestSearchPlaces_NoTags(t *testing.T) {
	s := newService(t, &stubModel{resp: Response{Text: "Nothing found."}})
	res, err := s.SearchPlaces(context.Background(), "unicorns", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Points)
	assert.NotNil(t, res.Points)
	assert.Equal(t, "Nothing found.", res.DisplayText)
}

func TestSearchPlaces_FailureFallsBack(t *testing.T) {
	s := newService(t, &stubModel{err: errors.New("timeout")})
	res, err := s.SearchPlaces(context.Background(), "clinics", nil)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, SearchFallback, res.Text)
	assert.Empty(t, res.Points)
	assert.Empty(t, res.MapLinks)
}

func TestDeepLinks_EscapesComponents(t *testing.T) {
	l := DeepLinks(Link{Title: "명동 Café & Bar/2"})
	assert.Equal(t, "https://map.naver.com/v5/search/%EB%AA%85%EB%8F%99%20Caf%C3%A9%20%26%20Bar%2F2", l.NaverURL)
	assert.Equal(t, "https://map.kakao.com/link/search/%EB%AA%85%EB%8F%99%20Caf%C3%A9%20%26%20Bar%2F2", l.KakaoURL)
}

func TestCapability_String(t *testing.T) {
	assert.Equal(t, "web_search", WebSearch.String())
	assert.Equal(t, "maps_search", MapsSearch.String())
	assert.Equal(t, "unknown", Capability(7).String())
}
