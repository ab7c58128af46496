package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

type handlerFunc func(req transport.Request, call int) (transport.Response, error)

// fakeSender routes requests by URL and counts calls per URL.
type fakeSender struct {
	mu     sync.Mutex
	routes map[string]handlerFunc
	calls  map[string]int
	sent   []transport.Request
}

func newFakeSender() *fakeSender {
	return &fakeSender{routes: map[string]handlerFunc{}, calls: map[string]int{}}
}

func (f *fakeSender) on(url string, h handlerFunc) *fakeSender {
	f.routes[url] = h
	return f
}

func (f *fakeSender) Send(_ context.Context, req transport.Request) (transport.Response, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	n := f.calls[req.URL]
	f.sent = append(f.sent, req)
	h := f.routes[req.URL]
	f.mu.Unlock()

	if h == nil {
		return transport.Response{}, &transport.TransportError{Provider: "fake", URL: req.URL, Err: errors.New("no route")}
	}
	return h(req, n)
}

func (f *fakeSender) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeSender) last(url string) transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].URL == url {
			return f.sent[i]
		}
	}
	return transport.Request{}
}

func respond(status int, body string) handlerFunc {
	return func(transport.Request, int) (transport.Response, error) {
		return transport.Response{StatusCode: status, Header: http.Header{}, Body: []byte(body)}, nil
	}
}

func newTestManager(name string) *auth.Manager {
	return auth.NewManager(name, auth.NewMemoryStore(16, time.Hour))
}

func testJob() models.Job {
	return models.Job{
		JobID:                  "job-1",
		ProviderID:             "provider-1",
		FrequentFlyerProgramID: "ffp-1",
		Params: models.SearchParams{
			ID:          "search-1",
			JourneyType: models.JourneyOneWay,
			CabinClass:  models.CabinEconomy,
			FromDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			FromAirport: "JFK",
			ToAirport:   "LHR",
			FromCity:    models.City{Code: "NYC", Name: "New York", CountryCode: "US"},
			ToCity:      models.City{Code: "LON", Name: "London", CountryCode: "GB"},
		},
	}
}

func encode(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestClassifyCabin(t *testing.T) {
	tests := []struct {
		label string
		want  models.CabinClass
	}{
		{"Premium Economy", models.CabinPremiumEconomy},
		{"ECONOMY PREMIUM", models.CabinPremiumEconomy},
		{"Economy Classic", models.CabinEconomy},
		{"Business Flex", models.CabinBusiness},
		{"First Suite", models.CabinFirst},
		{"Premium", models.CabinEconomy},
		{"Cabina Ejecutiva", models.CabinEconomy},
		{"", models.CabinEconomy},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCabin(tt.label))
		})
	}
}

func TestSplitFlightID(t *testing.T) {
	airline, number := SplitFlightID("AA1234")
	assert.Equal(t, "AA", airline)
	assert.Equal(t, "1234", number)

	airline, number = SplitFlightID("AV")
	assert.Equal(t, "AV", airline)
	assert.Empty(t, number)
}

func TestMinNonZero(t *testing.T) {
	assert.Equal(t, 3, MinNonZero(0, 7, 3, 0, 5))
	assert.Equal(t, 0, MinNonZero(0, 0))
	assert.Equal(t, 0, MinNonZero())
}

func TestFlightDigits(t *testing.T) {
	assert.Equal(t, "001", FlightDigits("QR 001"))
	assert.Equal(t, "701", FlightDigits("QR701"))
}

func TestResultJobResult(t *testing.T) {
	job := testJob()

	empty := resultOf(nil, false).JobResult(job)
	assert.True(t, empty.Success)
	assert.NotNil(t, empty.Data)
	assert.Empty(t, empty.Data)

	failed := invalid(true, errors.New("bad payload")).JobResult(job)
	assert.False(t, failed.Success)
	assert.True(t, failed.IsUTC)
	assert.Empty(t, failed.Data)

	ok := resultOf([]models.Itinerary{{Origin: "JFK", Destination: "LHR"}}, false)
	assert.Equal(t, ResultSuccess, ok.Kind)
	res := ok.JobResult(job)
	assert.True(t, res.Success)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, "ffp-1", res.FrequentFlyerProgramID)
	require.Len(t, res.Data, 1)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"segments":[]`)
	assert.Contains(t, string(raw), `"fareDetails":[]`)
}

func TestReadPayloadHTMLIsTransportError(t *testing.T) {
	_, err := readPayload("test", transport.Request{URL: "https://example.com"}, []byte("  <html>blocked</html>"), nil, nil)
	require.Error(t, err)
	assert.True(t, transport.IsTransport(err))
}

func TestReadPayloadDoubleEncoded(t *testing.T) {
	var out struct {
		A int `json:"a"`
	}
	_, err := readPayload("test", transport.Request{}, []byte(`"{\"a\":1}"`), nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, out.A)

	_, err = readPayload("test", transport.Request{}, []byte(`"{not json"`), nil, &out)
	require.Error(t, err)
	assert.False(t, transport.IsTransport(err))
}
