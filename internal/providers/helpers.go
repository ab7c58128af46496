package providers

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dharmasatrya/awardsearch/internal/models"
	"github.com/dharmasatrya/awardsearch/internal/payload"
	"github.com/dharmasatrya/awardsearch/internal/schema"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const defaultJSONHeader = "application/json, text/plain, */*"

// ClassifyCabin maps a free text cabin or brand label onto a fare class.
// Checks run in a fixed order so "Premium Economy" never lands in Economy.
func ClassifyCabin(label string) models.CabinClass {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "premium") && strings.Contains(l, "economy"):
		return models.CabinPremiumEconomy
	case strings.Contains(l, "economy"):
		return models.CabinEconomy
	case strings.Contains(l, "business"):
		return models.CabinBusiness
	case strings.Contains(l, "first"):
		return models.CabinFirst
	}
	return models.CabinEconomy
}

func lookupClass(table map[string]models.CabinClass, code string) models.CabinClass {
	if c, ok := table[code]; ok {
		return c
	}
	return models.CabinEconomy
}

// SplitFlightID splits "AA1234" into carrier "AA" and number "1234".
func SplitFlightID(id string) (airline, number string) {
	if len(id) <= 2 {
		return id, ""
	}
	return id[:2], id[2:]
}

var nonDigits = regexp.MustCompile(`\D`)

// FlightDigits keeps only the digits of a flight designator.
func FlightDigits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// MinNonZero returns the smallest positive value, or 0 when there is none.
func MinNonZero(values ...int) int {
	lowest := 0
	for _, v := range values {
		if v <= 0 {
			continue
		}
		if lowest == 0 || v < lowest {
			lowest = v
		}
	}
	return lowest
}

type legInfo struct {
	airline     string
	flight      string
	aircraft    string
	origin      string
	destination string
	departure   time.Time
	arrival     time.Time
}

// segment builds a leg with marketing fields collapsed onto the operating
// ones and no stop detail.
func segment(l legInfo) models.FlightSegment {
	return models.FlightSegment{
		AirlineCode:           l.airline,
		MarketingAirlineCode:  l.airline,
		FlightNumber:          l.flight,
		MarketingFlightNumber: l.flight,
		AircraftCode:          l.aircraft,
		Departure:             l.departure,
		Arrival:               l.arrival,
		Origin:                l.origin,
		Destination:           l.destination,
		NoOfStops:             0,
		Stops:                 []models.Stop{},
	}
}

func fare(class models.CabinClass, brand string, seats int, tax float64, currency string, miles float64) models.FareOption {
	return models.FareOption{
		FareClass:       class,
		BrandName:       brand,
		SeatsRemaining:  seats,
		TaxAmount:       tax,
		TaxCurrency:     currency,
		MilesAmount:     miles,
		MilesOnlyAmount: miles,
	}
}

func withHeaders(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// readPayload normalizes body, checks it against s and decodes it into out.
// An HTML body comes back as a transport error; every other error means the
// payload is not usable.
func readPayload(provider string, req transport.Request, body []byte, s *schema.Node, out any) (any, error) {
	tree, err := payload.Decode(body, nil)
	if errors.Is(err, payload.ErrHTMLBody) {
		return nil, &transport.TransportError{Provider: provider, URL: req.URL, Err: err}
	}
	if err != nil {
		return nil, err
	}

	if s != nil {
		if err := s.Validate(tree); err != nil {
			return tree, err
		}
	}
	if out != nil {
		if err := payload.Recode(tree, out); err != nil {
			return tree, err
		}
	}
	return tree, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
