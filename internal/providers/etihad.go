package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/payload"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/timeparse"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const (
	etihadTokenURL  = "https://api-des.etihad.com/v1/security/oauth2/token/initialization"
	etihadSearchURL = "https://api-des.etihad.com/airlines/EY/v2/search/air-bounds?guestOfficeId=&language=en&useTest=false"
)

// Sent as is; the endpoint expects the fact JSON unescaped.
const etihadTokenForm = "client_id=TEAP1EPUAR97S1aWCpEkWe9L3VvhtBIK" +
	"&client_secret=j9sP1PK9cEJKbL1o" +
	`&fact={"keyValuePairs":[{"key":"flow","value":"AWARD"},{"key":"market","value":"US"},{"key":"originCity","value":"NYC"},{"key":"originCountry","value":"US"},{"key":"channel","value":"DESKTOP"}]}` +
	"&grant_type=client_credentials"

var etihadFareClasses = map[string]models.CabinClass{
	"eco":      models.CabinEconomy,
	"business": models.CabinBusiness,
	"first":    models.CabinFirst,
}

// Etihad reports Dubai bus connections under XNB.
var etihadLocationAliases = map[string]string{
	"XNB": "DXB",
}

var etihadRejectedTitles = map[string]bool{
	"Invalid access token": true,
	"Access token expired": true,
}

var etihadTokenSchema = schema.Object(
	schema.Required("access_token", schema.String()),
	schema.Required("expires_in", schema.Number()),
	schema.Required("guest_office_id", schema.String()),
)

var etihadErrorSchema = schema.Object(
	schema.Required("errors", schema.Array(schema.Object(
		schema.Required("code", schema.String()),
		schema.Required("title", schema.String()),
		schema.Required("detail", schema.String()),
	))),
)

var etihadEndpoint = schema.Object(
	schema.Required("locationCode", schema.String()),
	schema.Required("dateTime", schema.String()),
)

var etihadSchema = schema.Object(
	schema.Required("data", schema.Object(
		schema.Required("airBoundGroups", schema.Array(schema.Object(
			schema.Required("boundDetails", schema.Object(
				schema.Required("originLocationCode", schema.String()),
				schema.Required("destinationLocationCode", schema.String()),
				schema.Required("duration", schema.Number()),
				schema.Required("segments", schema.Array(schema.Object(
					schema.Required("flightId", schema.String()),
				))),
			)),
			schema.Required("airBounds", schema.Array(schema.Object(
				schema.Required("availabilityDetails", schema.Array(schema.Object(
					schema.Required("cabin", schema.String()),
					schema.Required("quota", schema.Number()),
				))),
				schema.Required("prices", schema.Object(
					schema.Required("unitPrices", schema.Array(schema.Object(
						schema.Required("travelerIds", schema.Array(schema.String())),
						schema.Required("prices", schema.Array(schema.Object(
							schema.Required("base", schema.Number()),
							schema.Required("total", schema.Number()),
							schema.Required("currencyCode", schema.String()),
							schema.Required("totalTaxes", schema.Number()),
						))),
						schema.Required("milesConversion", schema.Object(
							schema.Required("convertedMiles", schema.Object(
								schema.Required("base", schema.Number()),
								schema.Required("total", schema.Number()),
							)),
							schema.Required("remainingNonConverted", schema.Object(
								schema.Required("total", schema.Number()),
								schema.Required("currencyCode", schema.String()),
								schema.Required("totalTaxes", schema.Number()),
							)),
						)),
					))),
				)),
			))),
		))),
	)),
	schema.Required("dictionaries", schema.Object(
		schema.Required("flight", schema.Record(schema.Object(
			schema.Required("marketingAirlineCode", schema.String()),
			schema.Required("marketingFlightNumber", schema.String()),
			schema.Required("departure", etihadEndpoint),
			schema.Required("arrival", etihadEndpoint),
			schema.Required("aircraftCode", schema.String()),
			schema.Required("duration", schema.Number()),
		))),
		schema.Required("currency", schema.Record(schema.Object(
			schema.Required("name", schema.String()),
			schema.Required("decimalPlaces", schema.Number()),
		))),
	)),
)

type etihadTokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
}

type etihadErrorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

type etihadResponse struct {
	Data struct {
		AirBoundGroups []etihadBoundGroup `json:"airBoundGroups"`
	} `json:"data"`
	Dictionaries struct {
		Flight   map[string]etihadFlight `json:"flight"`
		Currency map[string]struct {
			Name string `json:"name"`
		} `json:"currency"`
	} `json:"dictionaries"`
}

type etihadBoundGroup struct {
	BoundDetails struct {
		Segments []struct {
			FlightID string `json:"flightId"`
		} `json:"segments"`
	} `json:"boundDetails"`
	AirBounds []etihadAirBound `json:"airBounds"`
}

type etihadAirBound struct {
	AvailabilityDetails []struct {
		Cabin string `json:"cabin"`
		Quota int    `json:"quota"`
	} `json:"availabilityDetails"`
	Prices struct {
		UnitPrices []struct {
			Prices []struct {
				TotalTaxes float64 `json:"totalTaxes"`
			} `json:"prices"`
			MilesConversion struct {
				ConvertedMiles struct {
					Base float64 `json:"base"`
				} `json:"convertedMiles"`
			} `json:"milesConversion"`
		} `json:"unitPrices"`
	} `json:"prices"`
}

type etihadEndpointInfo struct {
	LocationCode string `json:"locationCode"`
	DateTime     string `json:"dateTime"`
}

type etihadFlight struct {
	MarketingAirlineCode  string             `json:"marketingAirlineCode"`
	MarketingFlightNumber string             `json:"marketingFlightNumber"`
	Departure             etihadEndpointInfo `json:"departure"`
	Arrival               etihadEndpointInfo `json:"arrival"`
	AircraftCode          string             `json:"aircraftCode"`
}

// DeviceTokens is the set of browser captured x-d-token values Etihad
// accepts. Tokens that stop working are removed.
type DeviceTokens struct {
	mu     sync.Mutex
	tokens []string
	rnd    *rand.Rand
}

func NewDeviceTokens(tokens []string) *DeviceTokens {
	d := &DeviceTokens{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			d.tokens = append(d.tokens, t)
		}
	}
	return d
}

func (d *DeviceTokens) Sample() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.tokens) == 0 {
		return "", ErrNoDeviceToken
	}
	return d.tokens[d.rnd.Intn(len(d.tokens))], nil
}

func (d *DeviceTokens) Add(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.tokens {
		if t == token {
			return
		}
	}
	d.tokens = append(d.tokens, token)
}

func (d *DeviceTokens) Remove(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.tokens[:0]
	for _, t := range d.tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	d.tokens = kept
}

func (d *DeviceTokens) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

type EtihadProvider struct {
	sender  transport.Sender
	tokens  *auth.Manager
	devices *DeviceTokens
	now     func() time.Time
}

func NewEtihadProvider(sender transport.Sender, tokens *auth.Manager, devices *DeviceTokens) *EtihadProvider {
	return &EtihadProvider{sender: sender, tokens: tokens, devices: devices, now: time.Now}
}

func (p *EtihadProvider) Name() string {
	return "etihad"
}

func BuildEtihadTokenRequest(xdToken string) transport.Request {
	return transport.Request{
		Method: http.MethodPost,
		URL:    etihadTokenURL,
		Header: map[string]string{
			"accept-encoding": "gzip, deflate, br",
			"accept":          "application/json",
			"accept-language": "en-GB,en;q=0.5",
			"content-type":    "application/x-www-form-urlencoded",
			"x-d-token":       xdToken,
			"referer":         "https://digital.etihad.com/",
			"origin":          "https://digital.etihad.com/",
		},
		Body: etihadTokenForm,
	}
}

type etihadSearchBody struct {
	CommercialFareFamilies []string `json:"commercialFareFamilies"`
	Itineraries            []struct {
		OriginLocationCode      string `json:"originLocationCode"`
		DestinationLocationCode string `json:"destinationLocationCode"`
		DepartureDateTime       string `json:"departureDateTime"`
		IsRequestedBound        bool   `json:"isRequestedBound"`
	} `json:"itineraries"`
	Travelers []struct {
		PassengerTypeCode string `json:"passengerTypeCode"`
	} `json:"travelers"`
	SearchPreferences struct {
		ShowMilesPrice bool `json:"showMilesPrice"`
		ShowSoldOut    bool `json:"showSoldOut"`
	} `json:"searchPreferences"`
	CorporateCodes []string `json:"corporateCodes"`
}

// BuildEtihadSearchRequest builds the air-bounds call. clientRef is the
// ama-client-ref correlation value.
func BuildEtihadSearchRequest(params models.SearchParams, accessToken, xdToken, clientRef string) transport.Request {
	var body etihadSearchBody
	body.CommercialFareFamilies = []string{"ECONOMY", "BUSINESS", "FIRST"}
	body.Itineraries = make([]struct {
		OriginLocationCode      string `json:"originLocationCode"`
		DestinationLocationCode string `json:"destinationLocationCode"`
		DepartureDateTime       string `json:"departureDateTime"`
		IsRequestedBound        bool   `json:"isRequestedBound"`
	}, 1)
	body.Itineraries[0].OriginLocationCode = params.FromAirport
	body.Itineraries[0].DestinationLocationCode = params.ToAirport
	body.Itineraries[0].DepartureDateTime = params.DepartureDate("2006-01-02") + "T00:00:00.000"
	body.Itineraries[0].IsRequestedBound = true
	body.Travelers = make([]struct {
		PassengerTypeCode string `json:"passengerTypeCode"`
	}, 1)
	body.Travelers[0].PassengerTypeCode = "ADT"
	body.SearchPreferences.ShowMilesPrice = true
	body.CorporateCodes = []string{"264154"}

	return transport.Request{
		Method: http.MethodPost,
		URL:    etihadSearchURL,
		Header: map[string]string{
			"accept":          "application/json",
			"accept-language": "en-GB,en;q=0.9",
			"ama-client-ref":  clientRef,
			"origin":          "https://digital.etihad.com",
			"referer":         "https://digital.etihad.com/",
			"accept-encoding": "gzip, deflate, br",
			"content-type":    "application/json",
			"x-d-token":       xdToken,
			"authorization":   "Bearer " + accessToken,
		},
		Body: mustJSON(body),
	}
}

func (p *EtihadProvider) refresher(xdToken string) auth.Refresher {
	return func(ctx context.Context) (auth.Token, error) {
		slog.Info("refreshing etihad token", "provider", p.Name())

		req := BuildEtihadTokenRequest(xdToken)
		res, err := p.sender.Send(ctx, req)
		if err != nil {
			return auth.Token{}, err
		}
		if err := transport.ExpectOK(p.Name(), req, res); err != nil {
			return auth.Token{}, err
		}

		var tok etihadTokenResponse
		if _, err := readPayload(p.Name(), req, res.Body, etihadTokenSchema, &tok); err != nil {
			return auth.Token{}, fmt.Errorf("token response: %w", err)
		}
		return auth.Token{
			AccessToken: tok.AccessToken,
			ExpiresAt:   p.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		}, nil
	}
}

func (p *EtihadProvider) Search(ctx context.Context, job models.Job) (Result, error) {
	xdToken, err := p.devices.Sample()
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}

	var body []byte
	err = p.tokens.Do(ctx, auth.Key(xdToken), p.refresher(xdToken), func(ctx context.Context, tok auth.Token) error {
		req := BuildEtihadSearchRequest(job.Params, tok.AccessToken, xdToken, uuid.NewString()+":h")
		res, err := p.sender.Send(ctx, req)
		if err != nil {
			return err
		}

		tree, err := readPayload(p.Name(), req, res.Body, nil, nil)
		if err != nil && transport.IsTransport(err) {
			return err
		}
		if p.rejected(tree) || res.StatusCode == http.StatusUnauthorized {
			return auth.ErrRejected
		}
		if !res.OK() && (err != nil || etihadErrorSchema.Validate(tree) != nil) {
			return transport.ExpectOK(p.Name(), req, res)
		}
		body = res.Body
		return nil
	})
	if err != nil {
		if errors.Is(err, auth.ErrRejectedTwice) {
			p.devices.Remove(xdToken)
			slog.Warn("dropped device token", "provider", p.Name(), "job_id", job.JobID, "remaining", p.devices.Len())
		}
		return Result{}, NewProviderError(p.Name(), err)
	}

	return p.extract(job, body).withOriginal(body), nil
}

func (p *EtihadProvider) rejected(tree any) bool {
	var resp etihadErrorResponse
	if etihadErrorSchema.Validate(tree) != nil || payload.Recode(tree, &resp) != nil {
		return false
	}
	return len(resp.Errors) > 0 && etihadRejectedTitles[resp.Errors[0].Title]
}

func (p *EtihadProvider) extract(job models.Job, body []byte) Result {
	var resp etihadResponse
	tree, err := readPayload(p.Name(), transport.Request{URL: etihadSearchURL}, body, etihadSchema, &resp)
	if err != nil {
		if tree != nil && etihadErrorSchema.Validate(tree) == nil {
			slog.Error("no flights received", "provider", p.Name(), "job_id", job.JobID, "errors", payload.Path(tree, "errors"))
			return resultOf(nil, false)
		}
		slog.Error("failed to parse the payload", "provider", p.Name(), "job_id", job.JobID, "err", err)
		return invalid(false, err)
	}

	currency := ""
	if len(resp.Dictionaries.Currency) > 0 {
		codes := make([]string, 0, len(resp.Dictionaries.Currency))
		for code := range resp.Dictionaries.Currency {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		currency = codes[0]
	}

	itineraries := make([]models.Itinerary, 0, len(resp.Data.AirBoundGroups))
	for _, group := range resp.Data.AirBoundGroups {
		segments := make([]models.FlightSegment, 0, len(group.BoundDetails.Segments))
		for _, s := range group.BoundDetails.Segments {
			f, ok := resp.Dictionaries.Flight[s.FlightID]
			if !ok {
				slog.Warn("flight not in dictionary", "provider", p.Name(), "job_id", job.JobID, "flight_id", s.FlightID)
				continue
			}
			seg, err := etihadSegment(f)
			if err != nil {
				slog.Warn("skipping flight", "provider", p.Name(), "job_id", job.JobID, "flight_id", s.FlightID, "err", err)
				continue
			}
			segments = append(segments, seg)
		}

		it := models.Itinerary{
			Segments:    segments,
			FareDetails: make([]models.FareOption, 0, len(group.AirBounds)),
		}
		if len(segments) > 0 {
			it.Origin = segments[0].Origin
			it.Destination = segments[len(segments)-1].Destination
		}
		for _, bound := range group.AirBounds {
			it.FareDetails = append(it.FareDetails, etihadFare(bound, currency))
		}
		itineraries = append(itineraries, it)
	}
	return resultOf(itineraries, false)
}

func etihadSegment(f etihadFlight) (models.FlightSegment, error) {
	dep, err := timeparse.ParseTimeWithOffset(f.Departure.DateTime)
	if err != nil {
		return models.FlightSegment{}, err
	}
	arr, err := timeparse.ParseTimeWithOffset(f.Arrival.DateTime)
	if err != nil {
		return models.FlightSegment{}, err
	}
	return segment(legInfo{
		airline:     f.MarketingAirlineCode,
		flight:      f.MarketingFlightNumber,
		aircraft:    f.AircraftCode,
		origin:      etihadLocation(f.Departure.LocationCode),
		destination: etihadLocation(f.Arrival.LocationCode),
		departure:   dep,
		arrival:     arr,
	}), nil
}

func etihadLocation(code string) string {
	if alias, ok := etihadLocationAliases[code]; ok {
		return alias
	}
	return code
}

func etihadFare(bound etihadAirBound, currency string) models.FareOption {
	var miles, taxes float64
	if len(bound.Prices.UnitPrices) > 0 {
		unit := bound.Prices.UnitPrices[0]
		miles = unit.MilesConversion.ConvertedMiles.Base
		if len(unit.Prices) > 0 {
			taxes = unit.Prices[0].TotalTaxes / 100
		}
	}

	cabin, seats := "", 0
	if len(bound.AvailabilityDetails) > 0 {
		cabin = bound.AvailabilityDetails[0].Cabin
		seats = bound.AvailabilityDetails[0].Quota
	}
	return fare(lookupClass(etihadFareClasses, cabin), cabin, seats, taxes, currency, miles)
}
