package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/payload"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/timeparse"
	"github.com/dharmasatrya/awardsearch/internal/transport"
	"github.com/dharmasatrya/awardsearch/pkg/amount"
)

const (
	aviancaTokenURL  = "https://oauth.lifemiles.com/authentication/token/refresh"
	aviancaSearchURL = "https://api.lifemiles.com/svc/air-redemption-find-flight-private"
	aviancaUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"
)

var aviancaCabinCodes = map[models.CabinClass]int{
	models.CabinEconomy:        2,
	models.CabinPremiumEconomy: 3,
	models.CabinBusiness:       1,
	models.CabinFirst:          4,
}

func aviancaCabinCode(c models.CabinClass) int {
	if code, ok := aviancaCabinCodes[c]; ok {
		return code
	}
	return 2
}

var aviancaTokenSchema = schema.Object(
	schema.Required("TokenGrantResponse", schema.Object(
		schema.Required("access_token", schema.String()),
		schema.Required("expires_in", schema.Number()),
		schema.Required("refresh_expires_in", schema.Number()),
		schema.Required("refresh_token", schema.String()),
		schema.Required("token_type", schema.String()),
		schema.Required("id_token", schema.String()),
		schema.Required("not-before-policy", schema.Number()),
		schema.Required("session_state", schema.String()),
		schema.Required("scope", schema.String()),
		schema.Required("cid", schema.String()),
	)),
)

var aviancaSchema = schema.Object(
	schema.Required("tripsList", schema.Array(schema.Object(
		schema.Required("departingCityCode", schema.String()),
		schema.Required("arrivalCityCode", schema.String()),
		schema.Optional("departingDate", schema.String()),
		schema.Optional("departingTime", schema.String()),
		schema.Optional("numberOfStops", schema.Number()),
		schema.Optional("products", schema.Array(schema.Object(
			schema.Required("id", schema.Number()),
			schema.Optional("cabinName", schema.String()),
			schema.Optional("cabinCode", schema.Number()),
			schema.Optional("totalMiles", schema.String()),
			schema.Optional("regularMiles", schema.String()),
			schema.Optional("soldOut", schema.Bool()),
			schema.Optional("notApplicable", schema.Bool()),
			schema.Optional("flights", schema.Array(schema.Object(
				schema.Required("id", schema.String()),
				schema.Optional("miles", schema.Number()),
				schema.Optional("eqp", schema.String()),
				schema.Optional("cabCode", schema.Number()),
				schema.Optional("class", schema.String()),
				schema.Optional("remainingSeats", schema.Number()),
				schema.Optional("fees", schema.Array(schema.Any())),
				schema.Optional("soldOut", schema.Bool()),
			))),
			schema.Optional("detailByDiscount", schema.String()),
			schema.Optional("totalTaxesUsd", schema.String()),
			schema.Optional("usdTaxValue", schema.String()),
			schema.Optional("productType", schema.String()),
		))),
		schema.Optional("flightsDetail", schema.Array(schema.Object(
			schema.Required("id", schema.String()),
			schema.Optional("departingCityCode", schema.String()),
			schema.Optional("arrivalCityCode", schema.String()),
			schema.Optional("departingDate", schema.String()),
			schema.Optional("arrivalDate", schema.String()),
			schema.Optional("departingTime", schema.String()),
			schema.Optional("arrivalTime", schema.String()),
			schema.Optional("marketingCompany", schema.String()),
			schema.Optional("flightNumber", schema.String()),
			schema.Optional("numberOfStops", schema.Number()),
		))),
		schema.Optional("alerts", schema.Array(schema.Object(
			schema.Optional("type", schema.String()),
			schema.Optional("message", schema.String()),
		))),
		schema.Optional("totalTaxesUsd", schema.String()),
	))),
	schema.Optional("firstClass", schema.Bool()),
)

type aviancaTokenResponse struct {
	TokenGrantResponse struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	} `json:"TokenGrantResponse"`
}

type aviancaResponse struct {
	TripsList []aviancaTrip `json:"tripsList"`
}

type aviancaTrip struct {
	DepartingCityCode string                `json:"departingCityCode"`
	ArrivalCityCode   string                `json:"arrivalCityCode"`
	Products          []aviancaProduct      `json:"products"`
	FlightsDetail     []aviancaFlightDetail `json:"flightsDetail"`
}

type aviancaProduct struct {
	ID               int             `json:"id"`
	CabinName        string          `json:"cabinName"`
	TotalMiles       string          `json:"totalMiles"`
	SoldOut          bool            `json:"soldOut"`
	DetailByDiscount *string         `json:"detailByDiscount"`
	TotalTaxesUsd    string          `json:"totalTaxesUsd"`
	Flights          []aviancaFlight `json:"flights"`
}

type aviancaFlight struct {
	ID             string `json:"id"`
	Eqp            string `json:"eqp"`
	RemainingSeats int    `json:"remainingSeats"`
}

type aviancaFlightDetail struct {
	ID                string `json:"id"`
	DepartingCityCode string `json:"departingCityCode"`
	ArrivalCityCode   string `json:"arrivalCityCode"`
	DepartingDate     string `json:"departingDate"`
	ArrivalDate       string `json:"arrivalDate"`
	DepartingTime     string `json:"departingTime"`
	ArrivalTime       string `json:"arrivalTime"`
}

// bookable is the product filter: not sold out and carrying an empty
// discount annotation. A product without the annotation does not qualify.
func (p aviancaProduct) bookable() bool {
	return !p.SoldOut && p.DetailByDiscount != nil && *p.DetailByDiscount == ""
}

type AviancaConfig struct {
	AuthorizationCode string
}

type AviancaProvider struct {
	sender transport.Sender
	tokens *auth.Manager
	cfg    AviancaConfig
	now    func() time.Time
}

func NewAviancaProvider(sender transport.Sender, tokens *auth.Manager, cfg AviancaConfig) *AviancaProvider {
	return &AviancaProvider{sender: sender, tokens: tokens, cfg: cfg, now: time.Now}
}

func (p *AviancaProvider) Name() string {
	return "avianca"
}

// AuthorizationCodeExpiry reads the exp claim of the long lived code. The
// signature is not checked; only the upstream can do that.
func AuthorizationCodeExpiry(code string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(code, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("authorization code has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

func BuildAviancaTokenRequest(authorizationCode string) transport.Request {
	body := struct {
		AuthorizationCode string `json:"authorizationCode"`
		ApplicationID     string `json:"applicationID"`
	}{authorizationCode, "lm"}

	return transport.Request{
		Method: http.MethodPost,
		URL:    aviancaTokenURL,
		Header: aviancaHeaders(nil),
		Body:   mustJSON(body),
	}
}

func aviancaHeaders(extra map[string]string) map[string]string {
	return withHeaders(map[string]string{
		"accept":          "application/json",
		"accept-language": "en-US,en;q=0.9",
		"content-type":    "application/json",
		"origin":          "https://www.lifemiles.com",
		"referer":         "https://www.lifemiles.com/",
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "same-site",
		"user-agent":      aviancaUserAgent,
	}, extra)
}

type aviancaSearchBody struct {
	Internationalization struct {
		Language string `json:"language"`
		Country  string `json:"country"`
		Currency string `json:"currency"`
	} `json:"internationalization"`
	Currencies []aviancaCurrency `json:"currencies"`
	Passengers int               `json:"passengers"`
	OD         struct {
		Orig          string `json:"orig"`
		Dest          string `json:"dest"`
		DepartingCity string `json:"departingCity"`
		ArrivalCity   string `json:"arrivalCity"`
		DepDate       string `json:"depDate"`
		DepTime       string `json:"depTime"`
	} `json:"od"`
	Filter                  bool              `json:"filter"`
	CodPromo                *string           `json:"codPromo"`
	IDCoti                  string            `json:"idCoti"`
	OfficeID                string            `json:"officeId"`
	FtNum                   string            `json:"ftNum"`
	Discounts               []string          `json:"discounts"`
	PromotionCodes          []string          `json:"promotionCodes"`
	Context                 string            `json:"context"`
	Channel                 string            `json:"channel"`
	CCabin                  string            `json:"ccabin"`
	Itinerary               string            `json:"itinerary"`
	ODNum                   int               `json:"odNum"`
	UsdTaxValue             string            `json:"usdTaxValue"`
	GetQuickSummary         bool              `json:"getQuickSummary"`
	ODs                     string            `json:"ods"`
	SearchType              string            `json:"searchType"`
	SearchTypePrioritized   string            `json:"searchTypePrioritized"`
	Sch                     map[string]string `json:"sch"`
	PosCountry              string            `json:"posCountry"`
	ODAp                    []aviancaODAp     `json:"odAp"`
	SuscriptionPaymentState string            `json:"suscriptionPaymentStatus"`
}

type aviancaCurrency struct {
	Currency string `json:"currency"`
	Decimal  int    `json:"decimal"`
	RateUsd  int    `json:"rateUsd"`
}

type aviancaODAp struct {
	Org   string `json:"org"`
	Dest  string `json:"dest"`
	Cabin int    `json:"cabin"`
}

var aviancaSch = map[string]string{
	"schHcfltrc":  "5P9uEE6mRzWI99HyWw+bdLVac7N5WeG14I6EQWB0kas=",
	"schLmidLtrc": "5P9uEE6mRzW1SxFy60BXagGA8RBVCkg2",
	"schPIR":      "5P9uEE6mRzV/3cUWLnwRMs/DUHY9LjvUiDSb8J201wc=",
	"schPcFlt":    "5P9uEE6mRzV7CQwbTfDHZQ==",
	"schTr":       "5P9uEE6mRzV7CQwbTfDHZQ==",
}

func BuildAviancaSearchRequest(params models.SearchParams, accessToken string) transport.Request {
	cabin := aviancaCabinCode(params.CabinClass)

	var body aviancaSearchBody
	body.Internationalization.Language = "en"
	body.Internationalization.Country = "us"
	body.Internationalization.Currency = "usd"
	body.Currencies = []aviancaCurrency{{Currency: "USD", Decimal: 2, RateUsd: 1}}
	body.Passengers = 1
	body.OD.Orig = params.FromAirport
	body.OD.Dest = params.ToAirport
	body.OD.DepartingCity = params.FromCity.Name
	body.OD.ArrivalCity = params.ToCity.Name
	body.OD.DepDate = params.DepartureDate("2006-01-02")
	body.IDCoti = "951144430946153141"
	body.Discounts = []string{}
	body.PromotionCodes = []string{}
	body.Context = "D"
	body.Channel = "COM"
	body.CCabin = strconv.Itoa(cabin)
	body.Itinerary = "OW"
	body.ODNum = 1
	body.UsdTaxValue = "0"
	body.SearchType = "SMR"
	body.SearchTypePrioritized = "SSA"
	body.Sch = aviancaSch
	body.PosCountry = "IN"
	body.ODAp = []aviancaODAp{{Org: params.FromAirport, Dest: params.ToAirport, Cabin: cabin}}

	return transport.Request{
		Method: http.MethodPost,
		URL:    aviancaSearchURL,
		Header: aviancaHeaders(map[string]string{
			"authorization": "Bearer " + accessToken,
			"realm":         "lifemiles",
		}),
		Body: mustJSON(body),
	}
}

func (p *AviancaProvider) refresh(ctx context.Context) (auth.Token, error) {
	req := BuildAviancaTokenRequest(p.cfg.AuthorizationCode)
	res, err := p.sender.Send(ctx, req)
	if err != nil {
		return auth.Token{}, err
	}
	if err := transport.ExpectOK(p.Name(), req, res); err != nil {
		return auth.Token{}, err
	}

	var tok aviancaTokenResponse
	if _, err := readPayload(p.Name(), req, res.Body, aviancaTokenSchema, &tok); err != nil {
		return auth.Token{}, fmt.Errorf("token response: %w", err)
	}
	return auth.Token{
		AccessToken: tok.TokenGrantResponse.AccessToken,
		ExpiresAt:   p.now().Add(time.Duration(tok.TokenGrantResponse.ExpiresIn) * time.Second),
	}, nil
}

func (p *AviancaProvider) Search(ctx context.Context, job models.Job) (Result, error) {
	if p.cfg.AuthorizationCode == "" {
		return Result{}, NewProviderError(p.Name(), ErrMissingCredentials)
	}

	var body []byte
	var searchReq transport.Request
	err := p.tokens.Do(ctx, auth.Key(p.cfg.AuthorizationCode), p.refresh, func(ctx context.Context, tok auth.Token) error {
		searchReq = BuildAviancaSearchRequest(job.Params, tok.AccessToken)
		res, err := p.sender.Send(ctx, searchReq)
		if err != nil {
			return err
		}
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			return auth.ErrRejected
		}
		if err := transport.ExpectOK(p.Name(), searchReq, res); err != nil {
			return err
		}
		body = res.Body
		return nil
	})
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}

	result, err := p.extract(job, searchReq, body)
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}
	return result.withOriginal(body), nil
}

func (p *AviancaProvider) extract(job models.Job, req transport.Request, body []byte) (Result, error) {
	tree, err := readPayload(p.Name(), req, body, nil, nil)
	if err != nil {
		if transport.IsTransport(err) {
			return Result{}, err
		}
		slog.Error("failed to decode the payload", "provider", p.Name(), "job_id", job.JobID, "err", err)
		return invalid(false, err), nil
	}

	trips, isList := payload.Path(tree, "tripsList").([]any)
	if (isList && len(trips) == 0) || payload.Path(tree, "tripsList") == nil {
		slog.Info("no trips found in response", "provider", p.Name(), "job_id", job.JobID)
		return resultOf(nil, false), nil
	}

	itineraries, err := p.strict(tree)
	if err == nil {
		return resultOf(itineraries, false), nil
	}
	slog.Warn("strict extraction failed, retrying leniently", "provider", p.Name(), "job_id", job.JobID, "err", err)

	itineraries, err = p.lenient(tree)
	if err != nil {
		slog.Error("lenient extraction failed", "provider", p.Name(), "job_id", job.JobID, "err", err)
		return invalid(false, err), nil
	}
	slog.Info("lenient extraction completed", "provider", p.Name(), "job_id", job.JobID, "count", len(itineraries))
	return resultOf(itineraries, false), nil
}

func (p *AviancaProvider) strict(tree any) ([]models.Itinerary, error) {
	if err := aviancaSchema.Validate(tree); err != nil {
		return nil, err
	}

	var resp aviancaResponse
	if err := payload.Recode(tree, &resp); err != nil {
		return nil, err
	}

	itineraries := make([]models.Itinerary, 0, len(resp.TripsList))
	for i, trip := range resp.TripsList {
		if trip.Products == nil {
			return nil, fmt.Errorf("tripsList[%d]: products missing", i)
		}

		var valid []aviancaProduct
		for _, prod := range trip.Products {
			if prod.bookable() {
				valid = append(valid, prod)
			}
		}

		segments, err := p.strictSegments(trip, valid)
		if err != nil {
			return nil, fmt.Errorf("tripsList[%d]: %w", i, err)
		}

		fares := make([]models.FareOption, 0, len(valid))
		for _, prod := range valid {
			seats := make([]int, 0, len(prod.Flights))
			for _, f := range prod.Flights {
				seats = append(seats, f.RemainingSeats)
			}
			fares = append(fares, aviancaFare(prod.CabinName, prod.TotalMiles, prod.TotalTaxesUsd, seats))
		}

		itineraries = append(itineraries, models.Itinerary{
			Origin:      trip.DepartingCityCode,
			Destination: trip.ArrivalCityCode,
			Segments:    segments,
			FareDetails: fares,
		})
	}
	return itineraries, nil
}

// strictSegments builds segments from the first bookable product only;
// later products contribute fares but not flights.
func (p *AviancaProvider) strictSegments(trip aviancaTrip, valid []aviancaProduct) ([]models.FlightSegment, error) {
	if len(valid) == 0 {
		return []models.FlightSegment{}, nil
	}
	if valid[0].Flights == nil {
		return nil, errors.New("first bookable product has no flights")
	}

	details := make(map[string]aviancaFlightDetail, len(trip.FlightsDetail))
	for _, d := range trip.FlightsDetail {
		if _, seen := details[d.ID]; !seen {
			details[d.ID] = d
		}
	}

	segments := make([]models.FlightSegment, 0, len(valid[0].Flights))
	for _, f := range valid[0].Flights {
		d, ok := details[f.ID]
		if !ok {
			slog.Warn("flight detail not found", "provider", p.Name(), "flight_id", f.ID)
			continue
		}

		dep, err := timeparse.CombineDateTime(d.DepartingDate, d.DepartingTime)
		if err != nil {
			return nil, fmt.Errorf("flight %s departure: %w", f.ID, err)
		}
		arr, err := timeparse.CombineDateTime(d.ArrivalDate, d.ArrivalTime)
		if err != nil {
			return nil, fmt.Errorf("flight %s arrival: %w", f.ID, err)
		}

		airline, number := SplitFlightID(f.ID)
		segments = append(segments, segment(legInfo{
			airline:     airline,
			flight:      number,
			aircraft:    f.Eqp,
			origin:      d.DepartingCityCode,
			destination: d.ArrivalCityCode,
			departure:   dep,
			arrival:     arr,
		}))
	}
	return segments, nil
}

func aviancaFare(cabinName, totalMiles, totalTaxesUsd string, seats []int) models.FareOption {
	return fare(
		ClassifyCabin(cabinName),
		cabinName,
		MinNonZero(seats...),
		amount.ParseFloat(totalTaxesUsd),
		"USD",
		float64(amount.ParseInt(totalMiles)),
	)
}

// lenient walks the raw tree and fills anything missing with sentinels.
func (p *AviancaProvider) lenient(tree any) ([]models.Itinerary, error) {
	tripsValue := payload.Path(tree, "tripsList")
	trips, ok := tripsValue.([]any)
	if !ok {
		return nil, fmt.Errorf("tripsList is %T, not a list", tripsValue)
	}

	itineraries := make([]models.Itinerary, 0, len(trips))
	for _, t := range trips {
		trip, ok := t.(map[string]any)
		if !ok {
			slog.Warn("skipping malformed trip", "provider", p.Name())
			continue
		}

		var valid []map[string]any
		for _, item := range payload.List(trip["products"]) {
			prod := payload.Obj(item)
			d, hasAnnotation := prod["detailByDiscount"].(string)
			if !payload.Bool(prod["soldOut"], false) && hasAnnotation && d == "" {
				valid = append(valid, prod)
			}
		}

		itineraries = append(itineraries, models.Itinerary{
			Origin:      payload.Str(trip["departingCityCode"], "UNKNOWN"),
			Destination: payload.Str(trip["arrivalCityCode"], "UNKNOWN"),
			Segments:    p.lenientSegments(trip, valid),
			FareDetails: lenientFares(valid),
		})
	}
	return itineraries, nil
}

func (p *AviancaProvider) lenientSegments(trip map[string]any, valid []map[string]any) []models.FlightSegment {
	if len(valid) == 0 {
		return []models.FlightSegment{}
	}

	details := make(map[string]map[string]any)
	for _, item := range payload.List(trip["flightsDetail"]) {
		d := payload.Obj(item)
		if id, ok := d["id"].(string); ok {
			if _, seen := details[id]; !seen {
				details[id] = d
			}
		}
	}

	flights := payload.List(valid[0]["flights"])
	segments := make([]models.FlightSegment, 0, len(flights))
	for _, item := range flights {
		f := payload.Obj(item)
		airline, number := "XX", "000"
		id, hasID := f["id"].(string)
		if hasID && id != "" {
			airline, number = SplitFlightID(id)
		}

		leg := legInfo{
			airline:     airline,
			flight:      number,
			aircraft:    payload.Str(f["eqp"], "UNKNOWN"),
			origin:      "UNKNOWN",
			destination: "UNKNOWN",
		}
		if d, ok := details[id]; ok && hasID {
			leg.origin = payload.Str(d["departingCityCode"], "UNKNOWN")
			leg.destination = payload.Str(d["arrivalCityCode"], "UNKNOWN")
			leg.departure, _ = timeparse.CombineDateTime(payload.Str(d["departingDate"], ""), payload.Str(d["departingTime"], ""))
			leg.arrival, _ = timeparse.CombineDateTime(payload.Str(d["arrivalDate"], ""), payload.Str(d["arrivalTime"], ""))
		}
		segments = append(segments, segment(leg))
	}
	return segments
}

func lenientFares(valid []map[string]any) []models.FareOption {
	fares := make([]models.FareOption, 0, len(valid))
	for _, prod := range valid {
		flights := payload.List(prod["flights"])
		seats := make([]int, 0, len(flights))
		for _, f := range flights {
			seats = append(seats, int(payload.Num(payload.Obj(f)["remainingSeats"], 0)))
		}
		fares = append(fares, aviancaFare(
			payload.Str(prod["cabinName"], ""),
			lenientString(prod["totalMiles"]),
			lenientString(prod["totalTaxesUsd"]),
			seats,
		))
	}
	return fares
}

// lenientString renders numbers too, since the loose path accepts them.
func lenientString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	return ""
}
