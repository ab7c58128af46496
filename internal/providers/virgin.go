package providers

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/timeparse"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const (
	virginSearchURL         = "https://www.virginatlantic.com/flights/search/api/graphql"
	virginDefaultCookiesURL = "https://jsonblob.com/api/jsonBlob/1394272046229413888"

	// Virgin does not publish seat counts for award fares.
	virginSeatsRemaining = 10
)

//go:embed queries/search_offers.graphql
var virginSearchQuery string

type virginFareFamily struct {
	brand string
	class models.CabinClass
}

var virginFareFamilies = map[string]virginFareFamily{
	"AWARD-ECONOMY":                      {"eco", models.CabinEconomy},
	"AWARD-COMFORT-PLUS-PREMIUM-ECONOMY": {"premium eco", models.CabinPremiumEconomy},
	"AWARD-BUSINESS-FIRST":               {"bus", models.CabinBusiness},
}

var virginFlightNumber = regexp.MustCompile(`[A-Z]{1,3}(\d+)`)

var virginHeaders = map[string]string{
	"accept":             "*/*",
	"accept-language":    "en-US,en;q=0.9",
	"content-type":       "application/json",
	"origin":             "https://www.virginatlantic.com",
	"priority":           "u=1, i",
	"referer":            "https://www.virginatlantic.com/flights/search/slice?awardSearch=true&passengers=a1t0c0i0",
	"sec-ch-ua":          `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"sec-fetch-dest":     "empty",
	"sec-fetch-mode":     "cors",
	"sec-fetch-site":     "same-origin",
	"user-agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
}

var errInvalidCookies = errors.New("cookie payload is invalid")

var virginCookiesSchema = schema.Object(
	schema.Required("cookies", schema.Record(schema.String())),
)

var virginPlace = schema.Object(
	schema.Required("code", schema.String()),
	schema.Required("cityName", schema.String()),
	schema.Required("countryName", schema.String()),
	schema.Required("airportName", schema.String()),
)

var virginCarrier = schema.Object(
	schema.Required("code", schema.String()),
	schema.Required("name", schema.String()),
)

var virginSchema = schema.Object(
	schema.Required("data", schema.Object(
		schema.Required("searchOffers", schema.Object(
			schema.Required("result", schema.Object(
				schema.Required("slice", schema.Object(
					schema.Required("flightsAndFares", schema.Array(schema.Object(
						schema.Required("flight", schema.Object(
							schema.Required("segments", schema.Array(schema.Object(
								schema.Required("metal", schema.Array(schema.Object(
									schema.Required("family", schema.String()),
									schema.Required("name", schema.String()),
								))),
								schema.Required("airline", virginCarrier),
								schema.Required("flightNumber", schema.String()),
								schema.Required("operatingFlightNumber", schema.String()),
								schema.Required("operatingAirline", virginCarrier),
								schema.Required("origin", virginPlace),
								schema.Required("destination", virginPlace),
								schema.Required("duration", schema.String()),
								schema.Required("departure", schema.String()),
								schema.Required("arrival", schema.String()),
								schema.Required("stopCount", schema.Number()),
								schema.Required("connection", schema.String().Nullable()),
								schema.Required("bookingClass", schema.String().Nullable()),
								schema.Required("fareBasisCode", schema.String().Nullable()),
								schema.Required("dominantFareProduct", schema.String().Nullable()),
							))),
							schema.Required("duration", schema.String()),
							schema.Required("origin", virginPlace),
							schema.Required("destination", virginPlace),
							schema.Required("departure", schema.String()),
							schema.Required("arrival", schema.String()),
						)),
						schema.Required("fares", schema.Array(schema.Object(
							schema.Required("availability", schema.String().Nullable()),
							schema.Required("id", schema.String().Nullable()),
							schema.Required("fareId", schema.String().Nullable()),
							schema.Optional("content", schema.Any()),
							schema.Required("price", schema.Object(
								schema.Required("awardPoints", schema.String()),
								schema.Required("awardPointsDifference", schema.String().Nullable()),
								schema.Required("awardPointsDifferenceSign", schema.String().Nullable()),
								schema.Required("tax", schema.Number()),
								schema.Required("amountIncludingTax", schema.Number()),
								schema.Required("priceDifference", schema.String()),
								schema.Required("priceDifferenceSign", schema.String().Nullable()),
								schema.Required("amount", schema.Number()),
								schema.Required("currency", schema.String()),
							).Nullable()),
							schema.Required("fareSegments", schema.Array(schema.Object(
								schema.Required("cabinName", schema.String()),
								schema.Required("bookingClass", schema.String()),
								schema.Required("isDominantLeg", schema.Bool()),
								schema.Required("isSaverFare", schema.Bool()),
							)).Nullable()),
							schema.Required("available", schema.String().Nullable()),
							schema.Required("fareFamilyType", schema.String()),
							schema.Required("cabinSelected", schema.Bool()),
							schema.Required("isSaverFare", schema.Bool()),
							schema.Required("promoCodeApplied", schema.String().Nullable()),
						))),
					))),
				)),
			)),
		)),
	)),
)

type virginCookiesResponse struct {
	Cookies map[string]string `json:"cookies"`
}

type virginResponse struct {
	Data struct {
		SearchOffers struct {
			Result struct {
				Slice struct {
					FlightsAndFares []virginFlightAndFares `json:"flightsAndFares"`
				} `json:"slice"`
			} `json:"result"`
		} `json:"searchOffers"`
	} `json:"data"`
}

type virginFlightAndFares struct {
	Flight struct {
		Segments []virginSegment `json:"segments"`
	} `json:"flight"`
	Fares []virginFare `json:"fares"`
}

type virginSegment struct {
	Metal []struct {
		Family string `json:"family"`
	} `json:"metal"`
	Airline struct {
		Code string `json:"code"`
	} `json:"airline"`
	FlightNumber string `json:"flightNumber"`
	Origin       struct {
		Code string `json:"code"`
	} `json:"origin"`
	Destination struct {
		Code string `json:"code"`
	} `json:"destination"`
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
}

type virginFare struct {
	Availability *string `json:"availability"`
	Price        *struct {
		AwardPoints string  `json:"awardPoints"`
		Tax         float64 `json:"tax"`
		Currency    string  `json:"currency"`
	} `json:"price"`
	FareFamilyType string `json:"fareFamilyType"`
}

func (f virginFare) bookable() bool {
	soldOut := f.Availability != nil && *f.Availability == "SOLD_OUT"
	return !soldOut && f.Price != nil
}

type VirginConfig struct {
	CookiesURL string
}

type VirginProvider struct {
	sender transport.Sender
	cfg    VirginConfig
}

func NewVirginProvider(sender transport.Sender, cfg VirginConfig) *VirginProvider {
	if cfg.CookiesURL == "" {
		cfg.CookiesURL = virginDefaultCookiesURL
	}
	return &VirginProvider{sender: sender, cfg: cfg}
}

func (p *VirginProvider) Name() string {
	return "virgin"
}

func BuildVirginCookiesRequest(url string) transport.Request {
	return transport.Request{
		Method: http.MethodGet,
		URL:    url,
		Header: map[string]string{"accept": "application/json"},
	}
}

// CookieHeader renders cookies sorted by name.
func CookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}
	return strings.Join(pairs, "; ")
}

type virginSearchBody struct {
	Query     string `json:"query"`
	Variables struct {
		Request struct {
			Pos                 *string `json:"pos"`
			Parties             *string `json:"parties"`
			FlightSearchRequest struct {
				SearchOriginDestinations []virginOriginDestination `json:"searchOriginDestinations"`
				BundleOffer              bool                      `json:"bundleOffer"`
				AwardSearch              bool                      `json:"awardSearch"`
				CalendarSearch           bool                      `json:"calendarSearch"`
				FlexiDateSearch          bool                      `json:"flexiDateSearch"`
				NonStopOnly              bool                      `json:"nonStopOnly"`
				CurrentTripIndexID       string                    `json:"currentTripIndexId"`
				CheckInBaggageAllowance  bool                      `json:"checkInBaggageAllowance"`
				CarryOnBaggageAllowance  bool                      `json:"carryOnBaggageAllowance"`
				RefundableOnly           bool                      `json:"refundableOnly"`
			} `json:"flightSearchRequest"`
			CustomerDetails []virginCustomer `json:"customerDetails"`
		} `json:"request"`
	} `json:"variables"`
}

type virginOriginDestination struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departureDate"`
}

type virginCustomer struct {
	CustID string `json:"custId"`
	PTC    string `json:"ptc"`
}

func BuildVirginSearchRequest(params models.SearchParams, cookies map[string]string) transport.Request {
	var body virginSearchBody
	body.Query = strings.TrimRight(virginSearchQuery, "\n")
	search := &body.Variables.Request.FlightSearchRequest
	search.SearchOriginDestinations = []virginOriginDestination{{
		Origin:        params.FromAirport,
		Destination:   params.ToAirport,
		DepartureDate: params.DepartureDate("2006-01-02"),
	}}
	search.AwardSearch = true
	search.CurrentTripIndexID = "0"
	body.Variables.Request.CustomerDetails = []virginCustomer{{CustID: "ADT_0", PTC: "ADT"}}

	return transport.Request{
		Method: http.MethodPost,
		URL:    virginSearchURL,
		Header: withHeaders(virginHeaders, map[string]string{"cookie": CookieHeader(cookies)}),
		Body:   mustJSON(body),
	}
}

func (p *VirginProvider) cookies(ctx context.Context) (map[string]string, error) {
	req := BuildVirginCookiesRequest(p.cfg.CookiesURL)
	res, err := p.sender.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := transport.ExpectOK(p.Name(), req, res); err != nil {
		return nil, err
	}

	var out virginCookiesResponse
	if _, err := readPayload(p.Name(), req, res.Body, virginCookiesSchema, &out); err != nil {
		if transport.IsTransport(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errInvalidCookies, err)
	}
	return out.Cookies, nil
}

func (p *VirginProvider) Search(ctx context.Context, job models.Job) (Result, error) {
	slog.Info("fetching cookies", "provider", p.Name(), "job_id", job.JobID)
	cookies, err := p.cookies(ctx)
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}

	req := BuildVirginSearchRequest(job.Params, cookies)
	res, err := p.sender.Send(ctx, req)
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}
	if err := transport.ExpectStatus(p.Name(), req, res, http.StatusOK); err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}

	result, err := p.extract(job, req, res.Body)
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}
	return result.withOriginal(res.Body), nil
}

func (p *VirginProvider) extract(job models.Job, req transport.Request, body []byte) (Result, error) {
	var resp virginResponse
	if _, err := readPayload(p.Name(), req, body, virginSchema, &resp); err != nil {
		if transport.IsTransport(err) {
			return Result{}, err
		}
		slog.Error("failed to parse the payload", "provider", p.Name(), "job_id", job.JobID, "err", err)
		return invalid(true, err), nil
	}

	offers := resp.Data.SearchOffers.Result.Slice.FlightsAndFares
	itineraries := make([]models.Itinerary, 0, len(offers))
	for i, offer := range offers {
		segments, err := virginSegments(offer.Flight.Segments)
		if err != nil {
			slog.Warn("skipping offer", "provider", p.Name(), "job_id", job.JobID, "offer", i, "err", err)
			continue
		}

		fares := make([]models.FareOption, 0, len(offer.Fares))
		for _, f := range offer.Fares {
			if !f.bookable() {
				continue
			}
			fares = append(fares, p.fare(f))
		}

		itineraries = append(itineraries, models.Itinerary{
			Origin:      job.Params.FromAirport,
			Destination: job.Params.ToAirport,
			Segments:    segments,
			FareDetails: fares,
		})
	}
	return resultOf(itineraries, true), nil
}

func virginSegments(raw []virginSegment) ([]models.FlightSegment, error) {
	segments := make([]models.FlightSegment, 0, len(raw))
	for _, s := range raw {
		dep, err := timeparse.ParseTimeWithOffset(s.Departure)
		if err != nil {
			return nil, err
		}
		arr, err := timeparse.ParseTimeWithOffset(s.Arrival)
		if err != nil {
			return nil, err
		}

		aircraft := "Unknown"
		if len(s.Metal) > 0 && s.Metal[0].Family != "" {
			aircraft = s.Metal[0].Family
		}
		segments = append(segments, segment(legInfo{
			airline:     s.Airline.Code,
			flight:      VirginFlightNumber(s.FlightNumber),
			aircraft:    aircraft,
			origin:      s.Origin.Code,
			destination: s.Destination.Code,
			departure:   dep,
			arrival:     arr,
		}))
	}
	return segments, nil
}

// VirginFlightNumber strips a one to three letter carrier prefix. Values
// that do not match are returned unchanged.
func VirginFlightNumber(flightNumber string) string {
	if m := virginFlightNumber.FindStringSubmatch(flightNumber); m != nil {
		return m[1]
	}
	return flightNumber
}

func (p *VirginProvider) fare(f virginFare) models.FareOption {
	family, ok := virginFareFamilies[f.FareFamilyType]
	if !ok {
		family = virginFareFamily{"unknown", models.CabinEconomy}
	}

	miles, err := strconv.ParseFloat(f.Price.AwardPoints, 64)
	if err != nil {
		slog.Warn("award points are not numeric", "provider", p.Name(), "value", f.Price.AwardPoints)
		miles = 0
	}
	return fare(family.class, family.brand, virginSeatsRemaining, f.Price.Tax, f.Price.Currency, miles)
}
