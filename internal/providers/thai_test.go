package providers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/otp"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const thaiRegularPayload = `{
  "success": true, "moreFlights": false, "message": null,
  "flightList": [
    {"departureDate": "01/03/25", "departureTime": "10:40", "arrivalDate": "01/03/25", "arrivalTime": "17:05",
     "departure": "BKK", "arrival": "NRT", "mc": "TG", "flightNum": "642", "aircraftType": "359", "aircraftTypeDesc": "Airbus A350-900",
     "duration": "0625", "numOfStops": 0,
     "classList": [
       {"bookingClass": "X", "availability": "4", "miles": "35000", "classDesc": "Economy"},
       {"bookingClass": "I", "availability": "0", "miles": "80000", "classDesc": "Business"},
       {"bookingClass": "E", "availability": "2", "miles": "n/a", "classDesc": "Premium Economy"}
     ]},
    {"departureDate": "someday", "departureTime": "10:40", "arrivalDate": "01/03/25", "arrivalTime": "17:05",
     "departure": "BKK", "arrival": "NRT", "mc": "TG", "flightNum": "676", "aircraftType": "359", "aircraftTypeDesc": "Airbus A350-900",
     "duration": "0625", "numOfStops": 0, "classList": []}
  ]
}`

const thaiStarPayload = `{
  "success": true, "moreFlights": false, "message": null,
  "flightList": [{
    "departureDate": "010325", "departureTime": "0930", "arrivalDate": "010325", "arrivalTime": "2215",
    "departure": "JFK", "arrival": "LHR", "mcFlightNums": [{"mc": "UA", "flightNum": "14"}, {"mc": "LH", "flightNum": "900"}],
    "linenum": null, "numOfStops": 1, "duration": "0745",
    "flights": [
      {"departureDate": "010325", "departureTime": "0930", "arrivalDate": "010325", "arrivalTime": "1200",
       "departure": "JFK", "arrival": "EWR", "mc": "UA", "flightNum": "14", "aircraftType": "738", "aircraftTypeDesc": "Boeing 737-800",
       "numOfStops": 0, "duration": "0230",
       "classList": [{"bookingClass": "I", "availability": "2", "miles": null, "classDesc": "Business"}]},
      {"departureDate": "010325", "departureTime": "1800", "arrivalDate": "010325", "arrivalTime": "2215",
       "departure": "EWR", "arrival": "LHR", "mc": "LH", "flightNum": "900", "aircraftType": "744", "aircraftTypeDesc": "Boeing 747-400",
       "numOfStops": 0, "duration": "0415",
       "classList": [{"bookingClass": "I", "availability": "2", "miles": "90000", "classDesc": "Business"}]}
    ],
    "classList": [{"bookingClass": "I", "availability": "2", "miles": "90000", "classDesc": "Business"}]
  }]
}`

type staticCode string

func (c staticCode) Latest(context.Context) (string, error) {
	return string(c), nil
}

func thaiLoginRoutes(sender *fakeSender) *fakeSender {
	return sender.
		on(thaiLoginURL, func(transport.Request, int) (transport.Response, error) {
			h := http.Header{}
			h.Set("accesstoken", "at-1")
			return transport.Response{StatusCode: http.StatusOK, Header: h, Body: []byte(`{"otpRefKey": "ref-1"}`)}, nil
		}).
		on(thaiOTPURL, func(_ transport.Request, call int) (transport.Response, error) {
			h := http.Header{}
			h.Set("authorization", "sess-1")
			return transport.Response{StatusCode: http.StatusOK, Header: h, Body: []byte(`{}`)}, nil
		})
}

func thaiTestConfig() ThaiConfig {
	return ThaiConfig{
		Accounts:    []ThaiAccount{{MemberID: "NB12345", Password: "secret"}},
		OTPInterval: 10 * time.Millisecond,
		OTPTimeout:  100 * time.Millisecond,
	}
}

func newThaiTest(sender *fakeSender) *ThaiProvider {
	return NewThaiProvider(sender, newTestManager("thai"), staticCode("123456"), thaiTestConfig())
}

func TestBuildThaiRequests(t *testing.T) {
	login := BuildThaiLoginRequest(ThaiAccount{MemberID: "NB1", Password: "pw"})
	assert.JSONEq(t, `{"memberId": "NB1", "password": "pw"}`, login.Body)

	otpReq := BuildThaiOTPRequest("ref-1", "123456", "at-1")
	assert.Equal(t, "at-1", otpReq.Header["accesstoken"])
	assert.JSONEq(t, `{"otpRef": "ref-1", "otpKey": "123456"}`, otpReq.Body)

	regular := BuildThaiRegularRequest(testJob().Params, "sess-1")
	assert.Equal(t, "sess-1", regular.Header["authorization"])
	assert.JSONEq(t, `{"flightInfo": {"departure": "JFK", "arrival": "LHR", "departureDate": "010325"}, "tripType": "O"}`, regular.Body)

	star := BuildThaiStarRequest(testJob().Params, "sess-1", "Zone3-Zone1")
	assert.Equal(t, "website", star.Header["source"])
	assert.Equal(t, "same-site", star.Header["sec-fetch-site"])
	assert.JSONEq(t, `{"flightInfo": {"departure": "JFK", "arrival": "LHR", "departureDate": "010325"}, "zoneDirection": "Zone3-Zone1", "tripType": "O"}`, star.Body)
}

func TestThaiSearchCombinesFeeds(t *testing.T) {
	sender := thaiLoginRoutes(newFakeSender()).
		on(thaiRegularURL, respond(http.StatusOK, thaiRegularPayload)).
		on(thaiStarURL, respond(http.StatusOK, thaiStarPayload))

	res, err := newThaiTest(sender).Search(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Kind)
	assert.False(t, res.IsUTC)
	assert.Len(t, res.Original, 2)
	require.Len(t, res.Itineraries, 2)

	var regular, star models.Itinerary
	for _, it := range res.Itineraries {
		if it.Origin == "BKK" {
			regular = it
		} else {
			star = it
		}
	}

	require.Len(t, regular.Segments, 1)
	assert.Equal(t, "TG", regular.Segments[0].AirlineCode)
	assert.Equal(t, "642", regular.Segments[0].FlightNumber)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 40, 0, 0, time.UTC), regular.Segments[0].Departure)
	require.Len(t, regular.FareDetails, 2)
	assert.Equal(t, models.CabinEconomy, regular.FareDetails[0].FareClass)
	assert.Equal(t, 35000.0, regular.FareDetails[0].MilesAmount)
	assert.Equal(t, 4, regular.FareDetails[0].SeatsRemaining)
	assert.Equal(t, "X", regular.FareDetails[0].BrandName)
	assert.Equal(t, models.CabinPremiumEconomy, regular.FareDetails[1].FareClass)
	assert.Equal(t, 0.0, regular.FareDetails[1].MilesAmount)

	assert.Equal(t, "JFK", star.Origin)
	assert.Equal(t, "LHR", star.Destination)
	require.Len(t, star.Segments, 2)
	assert.Equal(t, "EWR", star.Segments[1].Origin)
	assert.Equal(t, time.Date(2025, 3, 1, 22, 15, 0, 0, time.UTC), star.Segments[1].Arrival)
	require.Len(t, star.FareDetails, 1)
	assert.Equal(t, models.CabinBusiness, star.FareDetails[0].FareClass)
	assert.Equal(t, 90000.0, star.FareDetails[0].MilesAmount)

	assert.Equal(t, 1, sender.count(thaiLoginURL))
	assert.Equal(t, "sess-1", sender.last(thaiStarURL).Header["authorization"])
	assert.Equal(t, "at-1", sender.last(thaiOTPURL).Header["accesstoken"])
	assert.Contains(t, sender.last(thaiOTPURL).Body, `"otpKey":"123456"`)
}

func TestThaiOneFeedDown(t *testing.T) {
	sender := thaiLoginRoutes(newFakeSender()).
		on(thaiRegularURL, respond(http.StatusInternalServerError, `oops`)).
		on(thaiStarURL, respond(http.StatusOK, thaiStarPayload))

	res, err := newThaiTest(sender).Search(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, ResultSuccess, res.Kind)
	require.Len(t, res.Itineraries, 1)
	assert.Equal(t, "JFK", res.Itineraries[0].Origin)
	assert.Len(t, res.Original, 1)
}

func TestThaiValidation(t *testing.T) {
	tests := []struct {
		name    string
		regular string
		star    string
		want    ResultKind
	}{
		{"regular unreadable", `{"flightList": "x"}`, thaiStarPayload, ResultSuccess},
		{"both unreadable", `{"flightList": "x"}`, `{"success": true}`, ResultValidationFailure},
		{"both empty", `{"flightList": []}`, `{"success": true, "moreFlights": false, "message": "no flights", "flightList": []}`, ResultEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := thaiLoginRoutes(newFakeSender()).
				on(thaiRegularURL, respond(http.StatusOK, tt.regular)).
				on(thaiStarURL, respond(http.StatusOK, tt.star))

			res, err := newThaiTest(sender).Search(context.Background(), testJob())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Kind)
		})
	}
}

func TestThaiBothFeedsDown(t *testing.T) {
	sender := thaiLoginRoutes(newFakeSender()).
		on(thaiRegularURL, respond(http.StatusBadGateway, ``)).
		on(thaiStarURL, respond(http.StatusBadGateway, ``))

	_, err := newThaiTest(sender).Search(context.Background(), testJob())
	require.Error(t, err)
	assert.True(t, transport.IsTransport(err))
}

func TestThaiExpiredSessionLogsInAgain(t *testing.T) {
	expired := func(_ transport.Request, call int) (transport.Response, error) {
		if call == 1 {
			return transport.Response{StatusCode: http.StatusUnauthorized}, nil
		}
		return transport.Response{StatusCode: http.StatusOK, Body: []byte(thaiStarPayload)}, nil
	}
	sender := thaiLoginRoutes(newFakeSender()).
		on(thaiRegularURL, func(_ transport.Request, call int) (transport.Response, error) {
			if call == 1 {
				return transport.Response{StatusCode: http.StatusUnauthorized}, nil
			}
			return transport.Response{StatusCode: http.StatusOK, Body: []byte(thaiRegularPayload)}, nil
		}).
		on(thaiStarURL, expired)

	res, err := newThaiTest(sender).Search(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, res.Kind)
	assert.Equal(t, 2, sender.count(thaiLoginURL))
}

func TestThaiSharesOneLogin(t *testing.T) {
	sender := thaiLoginRoutes(newFakeSender()).
		on(thaiRegularURL, respond(http.StatusOK, thaiRegularPayload)).
		on(thaiStarURL, respond(http.StatusOK, thaiStarPayload))

	// Two managers over one store and one lock stand in for two processes.
	store := auth.NewMemoryStore(16, time.Hour)
	lock := auth.NewMutexLock(auth.LockOptions{PollInterval: 5 * time.Millisecond, Timeout: 2 * time.Second})
	providers := []*ThaiProvider{
		NewThaiProvider(sender, auth.NewManager("thai", store, auth.WithLock(lock)), staticCode("123456"), thaiTestConfig()),
		NewThaiProvider(sender, auth.NewManager("thai", store, auth.WithLock(lock)), staticCode("123456"), thaiTestConfig()),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(p *ThaiProvider) {
			defer wg.Done()
			_, err := p.Search(context.Background(), testJob())
			errs <- err
		}(providers[i%2])
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, sender.count(thaiLoginURL))
	assert.Equal(t, 1, sender.count(thaiOTPURL))
}

func TestThaiLockTimeout(t *testing.T) {
	sender := thaiLoginRoutes(newFakeSender())
	lock := auth.NewMutexLock(auth.LockOptions{PollInterval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	manager := auth.NewManager("thai", auth.NewMemoryStore(16, time.Hour), auth.WithLock(lock))
	_, err = NewThaiProvider(sender, manager, staticCode("123456"), thaiTestConfig()).Search(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrLockTimeout)
	assert.Equal(t, 0, sender.count(thaiLoginURL))
}

func TestThaiOTPTimeout(t *testing.T) {
	sender := thaiLoginRoutes(newFakeSender())
	p := NewThaiProvider(sender, newTestManager("thai"), staticCode(""), thaiTestConfig())

	_, err := p.Search(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, otp.ErrOTPTimeout)
	assert.Equal(t, 0, sender.count(thaiOTPURL))
}

func TestThaiLoginWithoutSession(t *testing.T) {
	sender := newFakeSender().
		on(thaiLoginURL, respond(http.StatusOK, `{"otpRefKey": "ref-1"}`))

	_, err := newThaiTest(sender).Search(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, errLoginFailed)
}

func TestThaiRequiresAccounts(t *testing.T) {
	p := NewThaiProvider(newFakeSender(), newTestManager("thai"), staticCode("1"), ThaiConfig{})
	_, err := p.Search(context.Background(), testJob())
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}
