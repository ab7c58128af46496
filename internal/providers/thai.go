package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/otp"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/timeparse"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const (
	thaiLoginURL   = "https://osci.thaiairways.com/profile/login"
	thaiOTPURL     = "https://osci.thaiairways.com/profile/otp/submit"
	thaiRegularURL = "https://osci.thaiairways.com/airaward-flights/get-flight-info"
	thaiStarURL    = "https://osci.thaiairways.com/airaward-flights/star-get-flight-info"

	thaiRegularFeed = "regular"
	thaiStarFeed    = "star_alliance"
)

var thaiFareClasses = map[string]models.CabinClass{
	"X": models.CabinEconomy,
	"E": models.CabinPremiumEconomy,
	"I": models.CabinBusiness,
	"O": models.CabinFirst,
}

var thaiHeaders = map[string]string{
	"accept":          defaultJSONHeader,
	"accept-language": "en-GB,en;q=0.7",
	"cache-control":   "no-cache",
	"content-type":    "application/json",
	"origin":          "https://www.thaiairways.com",
	"referer":         "https://www.thaiairways.com/",
	"sec-fetch-dest":  "empty",
	"sec-fetch-mode":  "cors",
	"sec-fetch-site":  "same-origin",
	"pragma":          "no-cache",
}

var errLoginFailed = errors.New("login did not return a session")

var thaiLoginSchema = schema.Object(
	schema.Required("otpRefKey", schema.String()),
)

var thaiClass = schema.Object(
	schema.Required("bookingClass", schema.String()),
	schema.Required("availability", schema.String()),
	schema.Required("miles", schema.String()),
	schema.Required("classDesc", schema.String()),
)

var thaiSession = schema.Object(
	schema.Required("sessionId", schema.String()),
	schema.Required("sequenceNumber", schema.String()),
	schema.Required("transactionStatusCode", schema.String()),
	schema.Required("securityToken", schema.String()),
)

var thaiRegularSchema = schema.Object(
	schema.Optional("success", schema.Bool()),
	schema.Optional("moreFlights", schema.Bool()),
	schema.Optional("lowestMiles", schema.String()),
	schema.Optional("minimumMilesRequired", schema.Object(
		schema.Required("domesticMiles_O", schema.String()),
		schema.Required("domesticMiles_R", schema.String()),
		schema.Required("interMiles_O", schema.String()),
		schema.Required("interMiles_R", schema.String()),
	)),
	schema.Optional("session", thaiSession),
	schema.Optional("message", schema.String().Nullable()),
	schema.Required("flightList", schema.Array(schema.Object(
		schema.Required("departureDate", schema.String()),
		schema.Required("departureTime", schema.String()),
		schema.Required("arrivalDate", schema.String()),
		schema.Required("arrivalTime", schema.String()),
		schema.Required("departure", schema.String()),
		schema.Required("arrival", schema.String()),
		schema.Required("mc", schema.String()),
		schema.Required("flightNum", schema.String()),
		schema.Required("aircraftType", schema.String()),
		schema.Required("aircraftTypeDesc", schema.String()),
		schema.Required("duration", schema.String()),
		schema.Required("numOfStops", schema.Number()),
		schema.Optional("linenum", schema.Number()),
		schema.Optional("arrivalTerminal", schema.String()),
		schema.Optional("departureTerminal", schema.String()),
		schema.Required("classList", schema.Array(thaiClass)),
	))),
)

var thaiStarSchema = schema.Object(
	schema.Required("success", schema.Bool()),
	schema.Required("moreFlights", schema.Bool()),
	schema.Optional("lowestMiles", schema.String()),
	schema.Optional("minimumMilesRequired", schema.Object(
		schema.Required("soarMiles", schema.String()),
	)),
	schema.Required("flightList", schema.Array(schema.Object(
		schema.Required("departureDate", schema.String()),
		schema.Required("departureTime", schema.String()),
		schema.Required("arrivalDate", schema.String()),
		schema.Required("arrivalTime", schema.String()),
		schema.Required("departure", schema.String()),
		schema.Required("arrival", schema.String()),
		schema.Required("mcFlightNums", schema.Array(schema.Object(
			schema.Required("mc", schema.String()),
			schema.Required("flightNum", schema.String()),
		))),
		schema.Required("linenum", schema.Number().Nullable()),
		schema.Required("numOfStops", schema.Number()),
		schema.Required("duration", schema.String()),
		schema.Required("flights", schema.Array(schema.Object(
			schema.Required("departureDate", schema.String()),
			schema.Required("departureTime", schema.String()),
			schema.Required("arrivalDate", schema.String()),
			schema.Required("arrivalTime", schema.String()),
			schema.Required("departure", schema.String()),
			schema.Required("arrival", schema.String()),
			schema.Required("mc", schema.String()),
			schema.Required("flightNum", schema.String()),
			schema.Optional("linenum", schema.Number()),
			schema.Required("aircraftType", schema.String()),
			schema.Required("aircraftTypeDesc", schema.String()),
			schema.Optional("departureTerminal", schema.String()),
			schema.Optional("arrivalTerminal", schema.String()),
			schema.Required("numOfStops", schema.Number()),
			schema.Required("duration", schema.String()),
			schema.Required("classList", schema.Array(schema.Object(
				schema.Required("bookingClass", schema.String()),
				schema.Required("availability", schema.String()),
				schema.Required("miles", schema.String().Nullable()),
				schema.Required("classDesc", schema.String()),
			))),
		))),
		schema.Required("classList", schema.Array(thaiClass)),
	))),
	schema.Optional("session", thaiSession),
	schema.Required("message", schema.String().Nullable()),
)

type thaiLoginResponse struct {
	OTPRefKey string `json:"otpRefKey"`
}

type thaiClassRaw struct {
	BookingClass string `json:"bookingClass"`
	Availability string `json:"availability"`
	Miles        string `json:"miles"`
}

type thaiFlightRaw struct {
	DepartureDate string         `json:"departureDate"`
	DepartureTime string         `json:"departureTime"`
	ArrivalDate   string         `json:"arrivalDate"`
	ArrivalTime   string         `json:"arrivalTime"`
	Departure     string         `json:"departure"`
	Arrival       string         `json:"arrival"`
	MC            string         `json:"mc"`
	FlightNum     string         `json:"flightNum"`
	AircraftType  string         `json:"aircraftType"`
	ClassList     []thaiClassRaw `json:"classList"`
}

type thaiRegularResponse struct {
	FlightList []thaiFlightRaw `json:"flightList"`
}

type thaiStarResponse struct {
	FlightList []struct {
		Flights   []thaiFlightRaw `json:"flights"`
		ClassList []thaiClassRaw  `json:"classList"`
	} `json:"flightList"`
}

type ThaiAccount struct {
	MemberID string
	Password string
}

type ThaiConfig struct {
	Accounts      []ThaiAccount
	OTPDelay      time.Duration
	OTPInterval   time.Duration
	OTPTimeout    time.Duration
	SessionTTL    time.Duration
	ZoneDirection string
}

// ThaiProvider searches Royal Orchid Plus. Every search queries the regular
// and the Star Alliance award feeds with one shared login session.
type ThaiProvider struct {
	sender transport.Sender
	tokens *auth.Manager
	codes  otp.Source
	cfg    ThaiConfig
	now    func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewThaiProvider(sender transport.Sender, tokens *auth.Manager, codes otp.Source, cfg ThaiConfig) *ThaiProvider {
	if cfg.OTPInterval == 0 {
		cfg.OTPInterval = 500 * time.Millisecond
	}
	if cfg.OTPTimeout == 0 {
		cfg.OTPTimeout = 7 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.ZoneDirection == "" {
		cfg.ZoneDirection = "Zone3-Zone1"
	}
	return &ThaiProvider{
		sender: sender,
		tokens: tokens,
		codes:  codes,
		cfg:    cfg,
		now:    time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *ThaiProvider) Name() string {
	return "thai"
}

func BuildThaiLoginRequest(account ThaiAccount) transport.Request {
	body := struct {
		MemberID string `json:"memberId"`
		Password string `json:"password"`
	}{account.MemberID, account.Password}

	return transport.Request{
		Method: http.MethodPost,
		URL:    thaiLoginURL,
		Header: withHeaders(thaiHeaders, nil),
		Body:   mustJSON(body),
	}
}

func BuildThaiOTPRequest(otpRef, otpKey, accessToken string) transport.Request {
	body := struct {
		OTPRef string `json:"otpRef"`
		OTPKey string `json:"otpKey"`
	}{otpRef, otpKey}

	return transport.Request{
		Method: http.MethodPost,
		URL:    thaiOTPURL,
		Header: withHeaders(thaiHeaders, map[string]string{"accesstoken": accessToken}),
		Body:   mustJSON(body),
	}
}

type thaiFlightInfo struct {
	Departure     string `json:"departure"`
	Arrival       string `json:"arrival"`
	DepartureDate string `json:"departureDate"`
}

func thaiFlightInfoOf(params models.SearchParams) thaiFlightInfo {
	return thaiFlightInfo{
		Departure:     params.FromAirport,
		Arrival:       params.ToAirport,
		DepartureDate: params.DepartureDate("020106"),
	}
}

func BuildThaiRegularRequest(params models.SearchParams, session string) transport.Request {
	body := struct {
		FlightInfo thaiFlightInfo `json:"flightInfo"`
		TripType   string         `json:"tripType"`
	}{thaiFlightInfoOf(params), "O"}

	return transport.Request{
		Method: http.MethodPost,
		URL:    thaiRegularURL,
		Header: withHeaders(thaiHeaders, map[string]string{"authorization": session}),
		Body:   mustJSON(body),
	}
}

func BuildThaiStarRequest(params models.SearchParams, session, zoneDirection string) transport.Request {
	body := struct {
		FlightInfo    thaiFlightInfo `json:"flightInfo"`
		ZoneDirection string         `json:"zoneDirection"`
		TripType      string         `json:"tripType"`
	}{thaiFlightInfoOf(params), zoneDirection, "O"}

	return transport.Request{
		Method: http.MethodPost,
		URL:    thaiStarURL,
		Header: withHeaders(thaiHeaders, map[string]string{
			"authorization":                 session,
			"sec-fetch-site":                "same-site",
			"hostname":                      "https://www.thaiairways.com",
			"source":                        "website",
			"access-control-expose-headers": "accessToken",
			"user-agent":                    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		}),
		Body: mustJSON(body),
	}
}

func (p *ThaiProvider) account() ThaiAccount {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Accounts[p.rnd.Intn(len(p.cfg.Accounts))]
}

// login runs the member login, OTP and OTP submit handshake. The caller
// holds the login lock for its whole duration.
func (p *ThaiProvider) login(ctx context.Context) (auth.Token, error) {
	account := p.account()
	slog.Info("logging in", "provider", p.Name(), "member_id", account.MemberID)

	loginReq := BuildThaiLoginRequest(account)
	res, err := p.sender.Send(ctx, loginReq)
	if err != nil {
		return auth.Token{}, err
	}
	if err := transport.ExpectOK(p.Name(), loginReq, res); err != nil {
		return auth.Token{}, err
	}

	var login thaiLoginResponse
	if _, err := readPayload(p.Name(), loginReq, res.Body, thaiLoginSchema, &login); err != nil {
		return auth.Token{}, fmt.Errorf("login response: %w", err)
	}
	accessToken := res.Header.Get("accesstoken")
	if accessToken == "" {
		return auth.Token{}, fmt.Errorf("%w: no accesstoken header", errLoginFailed)
	}

	if p.cfg.OTPDelay > 0 {
		select {
		case <-ctx.Done():
			return auth.Token{}, ctx.Err()
		case <-time.After(p.cfg.OTPDelay):
		}
	}
	code, err := otp.Poll(ctx, p.codes, p.cfg.OTPInterval, p.cfg.OTPTimeout)
	if err != nil {
		return auth.Token{}, err
	}

	otpReq := BuildThaiOTPRequest(login.OTPRefKey, code, accessToken)
	res, err = p.sender.Send(ctx, otpReq)
	if err != nil {
		return auth.Token{}, err
	}
	if err := transport.ExpectOK(p.Name(), otpReq, res); err != nil {
		return auth.Token{}, err
	}

	session := res.Header.Get("authorization")
	if session == "" {
		return auth.Token{}, fmt.Errorf("%w: no authorization header", errLoginFailed)
	}
	slog.Info("login completed", "provider", p.Name(), "member_id", account.MemberID)
	return auth.Token{AccessToken: session, ExpiresAt: p.now().Add(p.cfg.SessionTTL)}, nil
}

type thaiFeedResponse struct {
	feed string
	req  transport.Request
	res  transport.Response
	err  error
}

func (f thaiFeedResponse) ok() bool {
	return f.err == nil && f.res.StatusCode == http.StatusOK
}

func (f thaiFeedResponse) rejected() bool {
	return f.err == nil && (f.res.StatusCode == http.StatusUnauthorized || f.res.StatusCode == http.StatusForbidden)
}

func (p *ThaiProvider) fetchFeeds(ctx context.Context, params models.SearchParams, session string) []thaiFeedResponse {
	feeds := []thaiFeedResponse{
		{feed: thaiRegularFeed, req: BuildThaiRegularRequest(params, session)},
		{feed: thaiStarFeed, req: BuildThaiStarRequest(params, session, p.cfg.ZoneDirection)},
	}

	var wg sync.WaitGroup
	for i := range feeds {
		wg.Add(1)
		go func(f *thaiFeedResponse) {
			defer wg.Done()
			f.res, f.err = p.sender.Send(ctx, f.req)
		}(&feeds[i])
	}
	wg.Wait()
	return feeds
}

func (p *ThaiProvider) Search(ctx context.Context, job models.Job) (Result, error) {
	if len(p.cfg.Accounts) == 0 {
		return Result{}, NewProviderError(p.Name(), ErrMissingCredentials)
	}

	var feeds []thaiFeedResponse
	err := p.tokens.Do(ctx, auth.Key(p.Name()), p.login, func(ctx context.Context, tok auth.Token) error {
		feeds = p.fetchFeeds(ctx, job.Params, tok.AccessToken)

		for _, f := range feeds {
			if f.ok() {
				return nil
			}
		}
		for _, f := range feeds {
			if f.rejected() {
				return auth.ErrRejected
			}
		}

		first := feeds[0]
		if first.err != nil {
			return fmt.Errorf("both award feeds failed: %w", first.err)
		}
		return fmt.Errorf("both award feeds failed: %w", transport.ExpectStatus(p.Name(), first.req, first.res, http.StatusOK))
	})
	if err != nil {
		return Result{}, NewProviderError(p.Name(), err)
	}

	return p.combine(job, feeds), nil
}

// combine merges the feeds that answered. The search is a validation failure
// only when no answering feed could be understood.
func (p *ThaiProvider) combine(job models.Job, feeds []thaiFeedResponse) Result {
	var (
		itineraries []models.Itinerary
		originals   [][]byte
		understood  bool
		lastErr     error
	)
	for _, f := range feeds {
		if !f.ok() {
			slog.Warn("award feed failed", "provider", p.Name(), "job_id", job.JobID, "feed", f.feed, "status", f.res.StatusCode, "err", f.err)
			continue
		}

		var its []models.Itinerary
		var err error
		switch f.feed {
		case thaiRegularFeed:
			its, err = p.extractRegular(f.req, f.res.Body)
		case thaiStarFeed:
			its, err = p.extractStar(job.Params, f.req, f.res.Body)
		}
		if err != nil {
			slog.Error("failed to parse the payload", "provider", p.Name(), "job_id", job.JobID, "feed", f.feed, "err", err)
			lastErr = err
			continue
		}
		understood = true
		itineraries = append(itineraries, its...)
		originals = append(originals, f.res.Body)
	}

	if !understood {
		return invalid(false, lastErr)
	}
	return resultOf(itineraries, false).withOriginal(originals...)
}

func (p *ThaiProvider) extractRegular(req transport.Request, body []byte) ([]models.Itinerary, error) {
	var resp thaiRegularResponse
	if _, err := readPayload(p.Name(), req, body, thaiRegularSchema, &resp); err != nil {
		return nil, err
	}

	itineraries := make([]models.Itinerary, 0, len(resp.FlightList))
	for _, f := range resp.FlightList {
		dep, err := timeparse.ParseDigitPairs(f.DepartureDate, f.DepartureTime)
		if err != nil {
			slog.Warn("skipping flight", "provider", p.Name(), "feed", thaiRegularFeed, "flight", f.FlightNum, "err", err)
			continue
		}
		arr, err := timeparse.ParseDigitPairs(f.ArrivalDate, f.ArrivalTime)
		if err != nil {
			slog.Warn("skipping flight", "provider", p.Name(), "feed", thaiRegularFeed, "flight", f.FlightNum, "err", err)
			continue
		}

		itineraries = append(itineraries, models.Itinerary{
			Origin:      f.Departure,
			Destination: f.Arrival,
			Segments: []models.FlightSegment{segment(legInfo{
				airline:     f.MC,
				flight:      f.FlightNum,
				aircraft:    f.AircraftType,
				origin:      f.Departure,
				destination: f.Arrival,
				departure:   dep,
				arrival:     arr,
			})},
			FareDetails: thaiFares(f.ClassList),
		})
	}
	return itineraries, nil
}

func (p *ThaiProvider) extractStar(params models.SearchParams, req transport.Request, body []byte) ([]models.Itinerary, error) {
	var resp thaiStarResponse
	if _, err := readPayload(p.Name(), req, body, thaiStarSchema, &resp); err != nil {
		return nil, err
	}

	itineraries := make([]models.Itinerary, 0, len(resp.FlightList))
	for i, it := range resp.FlightList {
		segments, err := thaiStarSegments(it.Flights)
		if err != nil {
			slog.Warn("skipping itinerary", "provider", p.Name(), "feed", thaiStarFeed, "itinerary", i, "err", err)
			continue
		}

		itineraries = append(itineraries, models.Itinerary{
			Origin:      params.FromAirport,
			Destination: params.ToAirport,
			Segments:    segments,
			FareDetails: thaiFares(it.ClassList),
		})
	}
	return itineraries, nil
}

func thaiStarSegments(flights []thaiFlightRaw) ([]models.FlightSegment, error) {
	segments := make([]models.FlightSegment, 0, len(flights))
	for _, f := range flights {
		dep, err := timeparse.ParseDDMMYY(f.DepartureDate, f.DepartureTime)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", f.MC, f.FlightNum, err)
		}
		arr, err := timeparse.ParseDDMMYY(f.ArrivalDate, f.ArrivalTime)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", f.MC, f.FlightNum, err)
		}
		segments = append(segments, segment(legInfo{
			airline:     f.MC,
			flight:      f.FlightNum,
			aircraft:    f.AircraftType,
			origin:      f.Departure,
			destination: f.Arrival,
			departure:   dep,
			arrival:     arr,
		}))
	}
	return segments, nil
}

// thaiFares keeps the classes that still have seats.
func thaiFares(classes []thaiClassRaw) []models.FareOption {
	fares := make([]models.FareOption, 0, len(classes))
	for _, c := range classes {
		seats, err := strconv.Atoi(c.Availability)
		if err != nil || seats <= 0 {
			continue
		}
		miles, err := strconv.ParseFloat(c.Miles, 64)
		if err != nil {
			miles = 0
		}
		fares = append(fares, fare(lookupClass(thaiFareClasses, c.BookingClass), c.BookingClass, seats, 0, "USD", miles))
	}
	return fares
}
