package providers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/timeparse"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const (
	qatarSearchURL = "https://www.qatarairways.com/dapi/public/bff/web/flight-search/award-flight-offers"
	qatarReferer   = "https://www.qatarairways.com/app/booking/redemption?widget=QR&searchType=F&addTaxToFare=Y&minPurTime=0&selLang=en&tripType=O&fromStation=BOM&toStation=DOH&bookingClass=E&adults=1&children=0&infants=0&ofw=0&teenager=0&flexibleDate=off&qmilesFlow=true&allowRedemption=Y&paymentMode=qmiles&redirectedFromRevenue=true"
)

var qatarFareClasses = map[string]models.CabinClass{
	"ECONOMY":  models.CabinEconomy,
	"BUSINESS": models.CabinBusiness,
	"FIRST":    models.CabinFirst,
}

var qatarAirport = schema.Object(
	schema.Required("iataCode", schema.String()),
)

var qatarSchema = schema.Object(
	schema.Required("flightOffers", schema.Array(schema.Object(
		schema.Required("origin", qatarAirport),
		schema.Required("destination", qatarAirport),
		schema.Required("segments", schema.Array(schema.Object(
			schema.Required("flightNumber", schema.String()),
			schema.Required("vehicle", schema.Object(
				schema.Required("code", schema.String()),
			)),
			schema.Required("departure", schema.Object(
				schema.Required("origin", qatarAirport),
				schema.Required("dateTime", schema.String()),
			)),
			schema.Required("arrival", schema.Object(
				schema.Required("destination", qatarAirport),
				schema.Required("dateTime", schema.String()),
			)),
			schema.Required("operatorLogo", schema.Object(
				schema.Required("operatorCode", schema.String()),
			)),
		))),
		schema.Required("fareOffers", schema.Array(schema.Object(
			schema.Required("availableSeats", schema.Number()),
			schema.Required("price", schema.Object(
				schema.Required("base", schema.Number()),
			)),
			schema.Optional("cabinType", schema.String()),
			schema.Optional("cabinOfferType", schema.String()),
		))),
	))),
)

type qatarCode struct {
	IATACode string `json:"iataCode"`
}

type qatarResponse struct {
	FlightOffers []qatarOffer `json:"flightOffers"`
}

type qatarOffer struct {
	Origin      qatarCode      `json:"origin"`
	Destination qatarCode      `json:"destination"`
	Segments    []qatarSegment `json:"segments"`
	FareOffers  []qatarFare    `json:"fareOffers"`
}

type qatarSegment struct {
	FlightNumber string `json:"flightNumber"`
	Vehicle      struct {
		Code string `json:"code"`
	} `json:"vehicle"`
	Departure struct {
		Origin   qatarCode `json:"origin"`
		DateTime string    `json:"dateTime"`
	} `json:"departure"`
	Arrival struct {
		Destination qatarCode `json:"destination"`
		DateTime    string    `json:"dateTime"`
	} `json:"arrival"`
	OperatorLogo struct {
		OperatorCode string `json:"operatorCode"`
	} `json:"operatorLogo"`
}

type qatarFare struct {
	AvailableSeats int `json:"availableSeats"`
	Price          struct {
		Base float64 `json:"base"`
	} `json:"price"`
	CabinType      string `json:"cabinType"`
	CabinOfferType string `json:"cabinOfferType"`
}

type QatarConfig struct {
	BearerToken string
	DeviceID    string
}

type QatarProvider struct {
	sender transport.Sender
	cfg    QatarConfig
}

func NewQatarProvider(sender transport.Sender, cfg QatarConfig) *QatarProvider {
	if cfg.DeviceID == "" {
		cfg.DeviceID = "JqXUVgV8dCaBJY13SyFVVoa2QGmFzRoE"
	}
	return &QatarProvider{sender: sender, cfg: cfg}
}

func (p *QatarProvider) Name() string {
	return "qatar"
}

type qatarSearchBody struct {
	Channel     string `json:"channel"`
	Itineraries []struct {
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		DepartureDate string `json:"departureDate"`
		IsRequested   bool   `json:"isRequested"`
	} `json:"itineraries"`
	CabinClass string `json:"cabinClass"`
	Passengers []struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	} `json:"passengers"`
	IncludeMixedCabin  string `json:"includeMixedCabin"`
	MultiSegmentOffers bool   `json:"multiSegmentOffers"`
}

func BuildQatarRequest(params models.SearchParams, cfg QatarConfig) transport.Request {
	var body qatarSearchBody
	body.Channel = "WEB_DESKTOP"
	body.Itineraries = append(body.Itineraries, struct {
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		DepartureDate string `json:"departureDate"`
		IsRequested   bool   `json:"isRequested"`
	}{params.FromAirport, params.ToAirport, params.DepartureDate("2006-01-02"), true})
	body.CabinClass = "ECONOMY"
	body.Passengers = append(body.Passengers, struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}{"ADT", 1})
	body.IncludeMixedCabin = "Yes"
	body.MultiSegmentOffers = true

	return transport.Request{
		Method: http.MethodPost,
		URL:    qatarSearchURL,
		Header: map[string]string{
			"accept":             defaultJSONHeader,
			"accept-language":    "en",
			"authorization":      "Bearer " + cfg.BearerToken,
			"content-type":       "application/json",
			"origin":             "https://www.qatarairways.com",
			"priority":           "u=1, i",
			"qr-lang":            "en",
			"referer":            qatarReferer,
			"request-id":         "|b9884718bb5f4cb1adbb974d9f8f2c6e.74611eec8c904382",
			"sec-ch-ua":          `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`,
			"sec-ch-ua-mobile":   "?0",
			"sec-ch-ua-platform": `"Windows"`,
			"sec-fetch-dest":     "empty",
			"sec-fetch-mode":     "cors",
			"sec-fetch-site":     "same-origin",
			"user-agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
			"x-assigneddeviceid": cfg.DeviceID,
		},
		Body: mustJSON(body),
	}
}

func (p *QatarProvider) Search(ctx context.Context, job models.Job) (Result, error) {
	if p.cfg.BearerToken == "" {
		return Result{}, NewProviderError(p.Name(), ErrMissingCredentials)
	}

	req := BuildQatarRequest(job.Params, p.cfg)
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

func (p *QatarProvider) extract(job models.Job, req transport.Request, body []byte) (Result, error) {
	var resp qatarResponse
	if _, err := readPayload(p.Name(), req, body, qatarSchema, &resp); err != nil {
		if transport.IsTransport(err) {
			return Result{}, err
		}
		slog.Error("failed to parse the payload", "provider", p.Name(), "job_id", job.JobID, "err", err)
		return invalid(false, err), nil
	}

	itineraries := make([]models.Itinerary, 0, len(resp.FlightOffers))
	for i, offer := range resp.FlightOffers {
		it, err := p.normalize(offer)
		if err != nil {
			slog.Warn("skipping offer", "provider", p.Name(), "job_id", job.JobID, "offer", i, "err", err)
			continue
		}
		itineraries = append(itineraries, it)
	}
	return resultOf(itineraries, false), nil
}

func (p *QatarProvider) normalize(offer qatarOffer) (models.Itinerary, error) {
	segments := make([]models.FlightSegment, 0, len(offer.Segments))
	for _, s := range offer.Segments {
		dep, err := timeparse.ParseTimeWithOffset(s.Departure.DateTime)
		if err != nil {
			return models.Itinerary{}, err
		}
		arr, err := timeparse.ParseTimeWithOffset(s.Arrival.DateTime)
		if err != nil {
			return models.Itinerary{}, err
		}
		segments = append(segments, segment(legInfo{
			airline:     s.OperatorLogo.OperatorCode,
			flight:      FlightDigits(s.FlightNumber),
			aircraft:    s.Vehicle.Code,
			origin:      s.Departure.Origin.IATACode,
			destination: s.Arrival.Destination.IATACode,
			departure:   dep,
			arrival:     arr,
		}))
	}

	fares := make([]models.FareOption, 0, len(offer.FareOffers))
	for _, f := range offer.FareOffers {
		cabin := f.CabinType
		if cabin == "" {
			cabin = f.CabinOfferType
		}
		if cabin == "" {
			slog.Warn("fare offer has no cabin type", "provider", p.Name())
			cabin = string(models.CabinEconomy)
		}
		fares = append(fares, fare(lookupClass(qatarFareClasses, cabin), cabin, f.AvailableSeats, 0, "USD", f.Price.Base))
	}

	return models.Itinerary{
		Origin:      offer.Origin.IATACode,
		Destination: offer.Destination.IATACode,
		Segments:    segments,
		FareDetails: fares,
	}, nil
}
