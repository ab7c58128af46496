package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/timeparse"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const aadvantageSearchURL = "https://www.aa.com/booking/api/search/itinerary"

// AAdvantage reports 0 seats when it does not disclose the count.
const aadvantageUndisclosedSeats = 9

var aadvantageFareClasses = map[string]models.CabinClass{
	"COACH":           models.CabinEconomy,
	"PREMIUM_ECONOMY": models.CabinPremiumEconomy,
	"BUSINESS":        models.CabinBusiness,
	"FIRST":           models.CabinFirst,
}

var aadvantagePoint = schema.Object(
	schema.Required("code", schema.String()),
)

var aadvantageSchema = schema.Object(
	schema.Required("slices", schema.Array(schema.Object(
		schema.Required("durationInMinutes", schema.Number()),
		schema.Required("segments", schema.Array(schema.Object(
			schema.Required("flight", schema.Object(
				schema.Required("carrierCode", schema.String()),
				schema.Required("carrierName", schema.String()),
				schema.Required("flightNumber", schema.String()),
			)),
			schema.Required("legs", schema.Array(schema.Object(
				schema.Required("aircraft", schema.Object(
					schema.Required("code", schema.String()),
					schema.Required("name", schema.String()),
					schema.Required("shortName", schema.String()),
				)),
				schema.Required("arrivalDateTime", schema.String()),
				schema.Required("departureDateTime", schema.String()),
				schema.Required("destination", aadvantagePoint),
				schema.Required("durationInMinutes", schema.Number()),
				schema.Required("origin", aadvantagePoint),
				schema.Required("aircraftCode", schema.String()),
			))),
			schema.Required("origin", aadvantagePoint),
			schema.Required("destination", aadvantagePoint),
			schema.Required("departureDateTime", schema.String()),
			schema.Required("arrivalDateTime", schema.String()),
		))),
		schema.Required("pricingDetail", schema.Array(schema.Object(
			schema.Required("perPassengerAwardPoints", schema.Number()),
			schema.Required("perPassengerTaxesAndFees", schema.Object(
				schema.Required("amount", schema.Number()),
				schema.Required("currency", schema.String()),
			)),
			schema.Required("productType", schema.String()),
			schema.Required("seatsRemaining", schema.Number()),
			schema.Required("productAvailable", schema.Bool()),
		))),
		schema.Required("stops", schema.Number()),
		schema.Required("origin", aadvantagePoint),
		schema.Required("destination", aadvantagePoint),
		schema.Required("departureDateTime", schema.String()),
		schema.Required("arrivalDateTime", schema.String()),
	))),
)

type aadvantageResponse struct {
	Slices []aadvantageSlice `json:"slices"`
}

type aadvantageCode struct {
	Code string `json:"code"`
}

type aadvantageSlice struct {
	Segments      []aadvantageSegment `json:"segments"`
	PricingDetail []aadvantagePricing `json:"pricingDetail"`
	Origin        aadvantageCode      `json:"origin"`
	Destination   aadvantageCode      `json:"destination"`
}

type aadvantageSegment struct {
	Flight struct {
		CarrierCode  string `json:"carrierCode"`
		FlightNumber string `json:"flightNumber"`
	} `json:"flight"`
	Legs []struct {
		AircraftCode string `json:"aircraftCode"`
	} `json:"legs"`
	Origin            aadvantageCode `json:"origin"`
	Destination       aadvantageCode `json:"destination"`
	DepartureDateTime string         `json:"departureDateTime"`
	ArrivalDateTime   string         `json:"arrivalDateTime"`
}

type aadvantagePricing struct {
	PerPassengerAwardPoints  float64 `json:"perPassengerAwardPoints"`
	PerPassengerTaxesAndFees struct {
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
	} `json:"perPassengerTaxesAndFees"`
	ProductType    string `json:"productType"`
	SeatsRemaining int    `json:"seatsRemaining"`
}

// AAdvantageSession is browser captured material that lets the itinerary
// API accept requests. All fields are optional.
type AAdvantageSession struct {
	CID       string
	XSRFToken string
	Referer   string
}

type AAdvantageProvider struct {
	sender  transport.Sender
	session AAdvantageSession
}

func NewAAdvantageProvider(sender transport.Sender, session AAdvantageSession) *AAdvantageProvider {
	return &AAdvantageProvider{sender: sender, session: session}
}

func (p *AAdvantageProvider) Name() string {
	return "aadvantage"
}

type aadvantageRequestBody struct {
	Metadata struct {
		SelectedProducts []string `json:"selectedProducts"`
		TripType         string   `json:"tripType"`
		UDO              struct{} `json:"udo"`
	} `json:"metadata"`
	Passengers    []aadvantagePassenger `json:"passengers"`
	RequestHeader struct {
		ClientID string `json:"clientId"`
	} `json:"requestHeader"`
	Slices      []aadvantageRequestSlice `json:"slices"`
	TripOptions struct {
		CorporateBooking bool    `json:"corporateBooking"`
		FareType         string  `json:"fareType"`
		Locale           string  `json:"locale"`
		PointOfSale      *string `json:"pointOfSale"`
		SearchType       string  `json:"searchType"`
	} `json:"tripOptions"`
	LoyaltyInfo *struct{} `json:"loyaltyInfo"`
	Version     string    `json:"version"`
	QueryParams struct {
		SliceIndex  int    `json:"sliceIndex"`
		SessionID   string `json:"sessionId"`
		SolutionSet string `json:"solutionSet"`
		SolutionID  string `json:"solutionId"`
	} `json:"queryParams"`
}

type aadvantagePassenger struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type aadvantageRequestSlice struct {
	AllCarriers               bool   `json:"allCarriers"`
	Cabin                     string `json:"cabin"`
	DepartureDate             string `json:"departureDate"`
	Destination               string `json:"destination"`
	DestinationNearbyAirports bool   `json:"destinationNearbyAirports"`
	MaxStops                  *int   `json:"maxStops"`
	Origin                    string `json:"origin"`
	OriginNearbyAirports      bool   `json:"originNearbyAirports"`
}

// BuildAAdvantageRequest builds the one way award itinerary search.
func BuildAAdvantageRequest(params models.SearchParams, session AAdvantageSession) transport.Request {
	var body aadvantageRequestBody
	body.Metadata.SelectedProducts = []string{}
	body.Metadata.TripType = "OneWay"
	body.Passengers = []aadvantagePassenger{{Type: "adult", Count: 1}}
	body.RequestHeader.ClientID = "AAcom"
	body.Slices = []aadvantageRequestSlice{{
		AllCarriers:   true,
		DepartureDate: params.DepartureDate("2006-01-02"),
		Destination:   params.ToAirport,
		Origin:        params.FromAirport,
	}}
	body.TripOptions.FareType = "Lowest"
	body.TripOptions.Locale = "en_US"
	body.TripOptions.SearchType = "Award"

	referer := session.Referer
	if referer == "" {
		referer = "https://www.aa.com"
	}
	headers := map[string]string{
		"accept":          defaultJSONHeader,
		"accept-language": "en-GB,en;q=0.7",
		"cache-control":   "no-cache",
		"content-type":    "application/json",
		"origin":          "https://www.aa.com",
		"referer":         referer,
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "same-origin",
		"pragma":          "no-cache",
	}
	if session.CID != "" {
		headers["x-cid"] = session.CID
	}
	if session.XSRFToken != "" {
		headers["x-xsrf-token"] = session.XSRFToken
	}

	return transport.Request{
		Method: http.MethodPost,
		URL:    aadvantageSearchURL,
		Header: headers,
		Body:   mustJSON(body),
	}
}

func (p *AAdvantageProvider) Search(ctx context.Context, job models.Job) (Result, error) {
	req := BuildAAdvantageRequest(job.Params, p.session)

	res, err := p.sender.Send(ctx, req)
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}
	if err := transport.ExpectOK(p.Name(), req, res); err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}

	result, err := p.extract(req, res.Body)
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}
	return result.withOriginal(res.Body), nil
}

func (p *AAdvantageProvider) extract(req transport.Request, body []byte) (Result, error) {
	var resp aadvantageResponse
	if _, err := readPayload(p.Name(), req, body, aadvantageSchema, &resp); err != nil {
		if transport.IsTransport(err) {
			return Result{}, err
		}
		slog.Error("failed to parse the payload", "provider", p.Name(), "err", err)
		return invalid(false, err), nil
	}

	itineraries := make([]models.Itinerary, 0, len(resp.Slices))
	for i, s := range resp.Slices {
		it, err := p.normalize(s)
		if err != nil {
			slog.Warn("skipping slice", "provider", p.Name(), "slice", i, "err", err)
			continue
		}
		itineraries = append(itineraries, it)
	}
	return resultOf(itineraries, false), nil
}

func (p *AAdvantageProvider) normalize(s aadvantageSlice) (models.Itinerary, error) {
	segments := make([]models.FlightSegment, 0, len(s.Segments))
	for _, seg := range s.Segments {
		dep, err := timeparse.ParseTimeWithOffset(seg.DepartureDateTime)
		if err != nil {
			return models.Itinerary{}, fmt.Errorf("departureDateTime: %w", err)
		}
		arr, err := timeparse.ParseTimeWithOffset(seg.ArrivalDateTime)
		if err != nil {
			return models.Itinerary{}, fmt.Errorf("arrivalDateTime: %w", err)
		}

		aircraft := ""
		if len(seg.Legs) > 0 {
			aircraft = seg.Legs[0].AircraftCode
		}

		segments = append(segments, segment(legInfo{
			airline:     seg.Flight.CarrierCode,
			flight:      seg.Flight.FlightNumber,
			aircraft:    aircraft,
			origin:      seg.Origin.Code,
			destination: seg.Destination.Code,
			departure:   dep,
			arrival:     arr,
		}))
	}

	fares := make([]models.FareOption, 0, len(s.PricingDetail))
	for _, pd := range s.PricingDetail {
		if pd.PerPassengerAwardPoints <= 0 {
			continue
		}
		seats := pd.SeatsRemaining
		if seats == 0 {
			seats = aadvantageUndisclosedSeats
		}
		fares = append(fares, fare(
			lookupClass(aadvantageFareClasses, pd.ProductType),
			pd.ProductType,
			seats,
			pd.PerPassengerTaxesAndFees.Amount,
			pd.PerPassengerTaxesAndFees.Currency,
			pd.PerPassengerAwardPoints,
		))
	}

	return models.Itinerary{
		Origin:      s.Origin.Code,
		Destination: s.Destination.Code,
		Segments:    segments,
		FareDetails: fares,
	}, nil
}
