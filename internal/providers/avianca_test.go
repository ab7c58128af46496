package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const aviancaTokenPayload = `{"TokenGrantResponse": {
  "access_token": "tok-1", "expires_in": 3600, "refresh_expires_in": 7200,
  "refresh_token": "r", "token_type": "Bearer", "id_token": "i",
  "not-before-policy": 0, "session_state": "s", "scope": "openid", "cid": "c"
}}`

const aviancaPayload = `{"tripsList": [{
  "departingCityCode": "JFK",
  "arrivalCityCode": "LIM",
  "products": [
    {"id": 1, "cabinName": "Economy", "totalMiles": "40000", "soldOut": true, "detailByDiscount": "", "totalTaxesUsd": "20.50",
     "flights": [{"id": "AV20", "eqp": "320", "remainingSeats": 3}]},
    {"id": 2, "cabinName": "Economy", "totalMiles": "50000", "soldOut": false, "detailByDiscount": "", "totalTaxesUsd": "35.10",
     "flights": [{"id": "AV20", "eqp": "320", "remainingSeats": 4}, {"id": "AV245", "eqp": "788", "remainingSeats": 2}]}
  ],
  "flightsDetail": [
    {"id": "AV20", "departingCityCode": "JFK", "arrivalCityCode": "BOG", "departingDate": "2025-03-01", "departingTime": "08:15", "arrivalDate": "2025-03-01", "arrivalTime": "13:40"},
    {"id": "AV245", "departingCityCode": "BOG", "arrivalCityCode": "LIM", "departingDate": "2025-03-01", "departingTime": "16:00", "arrivalDate": "2025-03-01", "arrivalTime": "19:05"}
  ]
}]}`

func newAviancaTest(sender *fakeSender) *AviancaProvider {
	return NewAviancaProvider(sender, newTestManager("avianca"), AviancaConfig{AuthorizationCode: "code-1"})
}

func TestBuildAviancaSearchRequest(t *testing.T) {
	params := testJob().Params
	params.CabinClass = models.CabinBusiness
	req := BuildAviancaSearchRequest(params, "tok-1")

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Bearer tok-1", req.Header["authorization"])
	assert.Equal(t, "lifemiles", req.Header["realm"])
	assert.Contains(t, req.Body, `"od":{"orig":"JFK","dest":"LHR","departingCity":"New York","arrivalCity":"London","depDate":"2025-03-01","depTime":""}`)
	assert.Contains(t, req.Body, `"ccabin":"1"`)
	assert.Contains(t, req.Body, `"odAp":[{"org":"JFK","dest":"LHR","cabin":1}]`)
	assert.Contains(t, req.Body, `"codPromo":null`)
}

func TestAviancaCabinCodes(t *testing.T) {
	assert.Equal(t, 2, aviancaCabinCode(models.CabinEconomy))
	assert.Equal(t, 3, aviancaCabinCode(models.CabinPremiumEconomy))
	assert.Equal(t, 1, aviancaCabinCode(models.CabinBusiness))
	assert.Equal(t, 4, aviancaCabinCode(models.CabinFirst))
	assert.Equal(t, 2, aviancaCabinCode("Coach"))
}

func TestBuildAviancaTokenRequest(t *testing.T) {
	req := BuildAviancaTokenRequest("code-1")
	assert.Equal(t, aviancaTokenURL, req.URL)
	assert.JSONEq(t, `{"authorizationCode":"code-1","applicationID":"lm"}`, req.Body)
}

func TestAviancaSearch(t *testing.T) {
	sender := newFakeSender().
		on(aviancaTokenURL, respond(http.StatusOK, aviancaTokenPayload)).
		on(aviancaSearchURL, respond(http.StatusOK, aviancaPayload))
	p := newAviancaTest(sender)

	res, err := p.Search(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Kind)
	assert.False(t, res.IsUTC)
	require.Len(t, res.Itineraries, 1)

	it := res.Itineraries[0]
	assert.Equal(t, "JFK", it.Origin)
	assert.Equal(t, "LIM", it.Destination)

	require.Len(t, it.FareDetails, 1)
	f := it.FareDetails[0]
	assert.Equal(t, 50000.0, f.MilesAmount)
	assert.Equal(t, 50000.0, f.MilesOnlyAmount)
	assert.Equal(t, 2, f.SeatsRemaining)
	assert.InDelta(t, 35.10, f.TaxAmount, 0.0001)
	assert.Equal(t, "USD", f.TaxCurrency)
	assert.Equal(t, models.CabinEconomy, f.FareClass)

	require.Len(t, it.Segments, 2)
	assert.Equal(t, "AV", it.Segments[0].AirlineCode)
	assert.Equal(t, "20", it.Segments[0].FlightNumber)
	assert.Equal(t, "245", it.Segments[1].FlightNumber)
	assert.Equal(t, "788", it.Segments[1].AircraftCode)
	assert.Equal(t, "BOG", it.Segments[1].Origin)
	assert.Equal(t, time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC), it.Segments[1].Departure)

	assert.Equal(t, "Bearer tok-1", sender.last(aviancaSearchURL).Header["authorization"])
}

func TestAviancaReusesCachedToken(t *testing.T) {
	sender := newFakeSender().
		on(aviancaTokenURL, respond(http.StatusOK, aviancaTokenPayload)).
		on(aviancaSearchURL, respond(http.StatusOK, aviancaPayload))
	p := newAviancaTest(sender)

	for i := 0; i < 3; i++ {
		_, err := p.Search(context.Background(), testJob())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, sender.count(aviancaTokenURL))
	assert.Equal(t, 3, sender.count(aviancaSearchURL))
}

func TestAviancaReauthenticatesOnce(t *testing.T) {
	sender := newFakeSender().
		on(aviancaTokenURL, respond(http.StatusOK, aviancaTokenPayload)).
		on(aviancaSearchURL, func(req transport.Request, call int) (transport.Response, error) {
			if call == 1 {
				return transport.Response{StatusCode: http.StatusUnauthorized}, nil
			}
			return transport.Response{StatusCode: http.StatusOK, Body: []byte(aviancaPayload)}, nil
		})
	p := newAviancaTest(sender)

	res, err := p.Search(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, 2, sender.count(aviancaTokenURL))
	assert.Equal(t, 2, sender.count(aviancaSearchURL))
}

func TestAviancaTokenFailureIsFatal(t *testing.T) {
	sender := newFakeSender().
		on(aviancaTokenURL, respond(http.StatusBadRequest, `{"error":"invalid_grant"}`)).
		on(aviancaSearchURL, respond(http.StatusOK, aviancaPayload))

	_, err := newAviancaTest(sender).Search(context.Background(), testJob())
	require.Error(t, err)
	assert.Equal(t, 0, sender.count(aviancaSearchURL))
}

func TestAviancaMissingCode(t *testing.T) {
	p := NewAviancaProvider(newFakeSender(), newTestManager("avianca"), AviancaConfig{})
	_, err := p.Search(context.Background(), testJob())
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestAviancaEmptyTrips(t *testing.T) {
	p := newAviancaTest(nil)

	for _, body := range []string{`{"tripsList": []}`, `{}`} {
		res, err := p.extract(testJob(), transport.Request{}, []byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, ResultEmpty, res.Kind, body)
		jr := res.JobResult(testJob())
		assert.True(t, jr.Success)
		assert.Empty(t, jr.Data)
	}
}

func TestAviancaHTMLBody(t *testing.T) {
	_, err := newAviancaTest(nil).extract(testJob(), transport.Request{URL: aviancaSearchURL}, []byte("<html><body>Access Denied</body></html>"))
	require.Error(t, err)
	assert.True(t, transport.IsTransport(err))
}

func TestAviancaMalformed(t *testing.T) {
	p := newAviancaTest(nil)

	for _, body := range []string{`{"tripsList": {"a": 1}}`, `{"tripsList": [`} {
		res, err := p.extract(testJob(), transport.Request{}, []byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, ResultValidationFailure, res.Kind, body)
	}
}

func TestAviancaDiscountAnnotation(t *testing.T) {
	body := `{"tripsList": [{
	  "departingCityCode": "JFK", "arrivalCityCode": "BOG",
	  "products": [
	    {"id": 1, "cabinName": "Economy", "totalMiles": "10000", "soldOut": false, "flights": [{"id": "AV20", "remainingSeats": 1}]},
	    {"id": 2, "cabinName": "Economy", "totalMiles": "20000", "soldOut": false, "detailByDiscount": "PROMO", "flights": [{"id": "AV20", "remainingSeats": 1}]},
	    {"id": 3, "cabinName": "Business", "totalMiles": "30000", "detailByDiscount": "", "flights": [{"id": "AV20", "remainingSeats": 0}]}
	  ],
	  "flightsDetail": [{"id": "AV20", "departingCityCode": "JFK", "arrivalCityCode": "BOG", "departingDate": "2025-03-01", "departingTime": "08:15", "arrivalDate": "2025-03-01", "arrivalTime": "13:40"}]
	}]}`

	res, err := newAviancaTest(nil).extract(testJob(), transport.Request{}, []byte(body))
	require.NoError(t, err)
	require.Len(t, res.Itineraries, 1)

	fares := res.Itineraries[0].FareDetails
	require.Len(t, fares, 1)
	assert.Equal(t, 30000.0, fares[0].MilesAmount)
	assert.Equal(t, models.CabinBusiness, fares[0].FareClass)
	assert.Equal(t, 0, fares[0].SeatsRemaining)
}

// The discount field must be present and empty: a product the upstream did
// not annotate at all is not offered, even when it is not sold out.
func TestAviancaUnannotatedProductIsNotOffered(t *testing.T) {
	tests := []struct {
		name       string
		annotation string
		miles      []float64
	}{
		{"annotation absent", ``, []float64{}},
		{"annotation empty", `"detailByDiscount": "",`, []float64{50000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"tripsList": [{
			  "departingCityCode": "JFK", "arrivalCityCode": "BOG",
			  "products": [
			    {"id": 1, "cabinName": "Economy", "totalMiles": "40000", "soldOut": true, ` + tt.annotation + ` "flights": [{"id": "AV20", "remainingSeats": 3}]},
			    {"id": 2, "cabinName": "Economy", "totalMiles": "50000", "soldOut": false, ` + tt.annotation + ` "flights": [{"id": "AV20", "remainingSeats": 4}]}
			  ],
			  "flightsDetail": [{"id": "AV20", "departingCityCode": "JFK", "arrivalCityCode": "BOG", "departingDate": "2025-03-01", "departingTime": "08:15", "arrivalDate": "2025-03-01", "arrivalTime": "13:40"}]
			}]}`

			res, err := newAviancaTest(nil).extract(testJob(), transport.Request{}, []byte(body))
			require.NoError(t, err)
			require.Len(t, res.Itineraries, 1)

			miles := []float64{}
			for _, f := range res.Itineraries[0].FareDetails {
				miles = append(miles, f.MilesAmount)
			}
			assert.Equal(t, tt.miles, miles)
		})
	}
}

func TestAviancaMissingFlightDetailIsDropped(t *testing.T) {
	body := strings.Replace(aviancaPayload, `"id": "AV245", "departingCityCode"`, `"id": "AV999", "departingCityCode"`, 1)

	res, err := newAviancaTest(nil).extract(testJob(), transport.Request{}, []byte(body))
	require.NoError(t, err)
	require.Len(t, res.Itineraries, 1)
	require.Len(t, res.Itineraries[0].Segments, 1)
	assert.Equal(t, "20", res.Itineraries[0].Segments[0].FlightNumber)
	assert.Len(t, res.Itineraries[0].FareDetails, 1)
}

func TestAviancaLenientFallback(t *testing.T) {
	body := `{"tripsList": [{
	  "departingCityCode": "JFK",
	  "products": [
	    {"id": 7, "cabinName": "Premium Economy", "totalMiles": 61000, "soldOut": false, "detailByDiscount": "",
	     "flights": [{"id": "AV20", "remainingSeats": 5}, {"remainingSeats": 3}]}
	  ],
	  "flightsDetail": []
	}]}`

	p := newAviancaTest(nil)
	res, err := p.extract(testJob(), transport.Request{}, []byte(body))
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Kind)
	require.Len(t, res.Itineraries, 1)

	it := res.Itineraries[0]
	assert.Equal(t, "JFK", it.Origin)
	assert.Equal(t, "UNKNOWN", it.Destination)
	require.Len(t, it.Segments, 2)
	assert.Equal(t, "AV", it.Segments[0].AirlineCode)
	assert.Equal(t, "UNKNOWN", it.Segments[0].Origin)
	assert.Equal(t, "UNKNOWN", it.Segments[0].AircraftCode)
	assert.True(t, it.Segments[0].Departure.IsZero())
	assert.Equal(t, "XX", it.Segments[1].AirlineCode)
	assert.Equal(t, "000", it.Segments[1].FlightNumber)

	require.Len(t, it.FareDetails, 1)
	assert.Equal(t, 61000.0, it.FareDetails[0].MilesAmount)
	assert.Equal(t, 3, it.FareDetails[0].SeatsRemaining)
	assert.Equal(t, models.CabinPremiumEconomy, it.FareDetails[0].FareClass)

	again, err := p.extract(testJob(), transport.Request{}, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, encode(t, res.Itineraries), encode(t, again.Itineraries))
}

func TestAuthorizationCodeExpiry(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	code, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := AuthorizationCodeExpiry(code)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))

	_, err = AuthorizationCodeExpiry("not-a-jwt")
	assert.Error(t, err)
}

func TestAviancaRejectedTwice(t *testing.T) {
	sender := newFakeSender().
		on(aviancaTokenURL, respond(http.StatusOK, aviancaTokenPayload)).
		on(aviancaSearchURL, respond(http.StatusForbidden, `{}`))

	_, err := newAviancaTest(sender).Search(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrRejectedTwice)
	assert.Equal(t, 2, sender.count(aviancaSearchURL))
}
