package models

import "time"

type CabinClass string

const (
	CabinEconomy        CabinClass = "Economy"
	CabinPremiumEconomy CabinClass = "Premium Economy"
	CabinBusiness       CabinClass = "Business"
	CabinFirst          CabinClass = "First"
)

func (c CabinClass) Valid() bool {
	switch c {
	case CabinEconomy, CabinPremiumEconomy, CabinBusiness, CabinFirst:
		return true
	}
	return false
}

type Stop struct {
	Destination string `json:"destination"`
}

type FlightSegment struct {
	AirlineCode           string    `json:"airlineCode"`
	MarketingAirlineCode  string    `json:"marketingAirlineCode"`
	FlightNumber          string    `json:"flightNumber"`
	MarketingFlightNumber string    `json:"marketingFlightNumber"`
	AircraftCode          string    `json:"aircraftCode"`
	Departure             time.Time `json:"departure"`
	Arrival               time.Time `json:"arrival"`
	Origin                string    `json:"origin"`
	Destination           string    `json:"destination"`
	NoOfStops             int       `json:"noOfStops"`
	Stops                 []Stop    `json:"stops"`
}

type FareOption struct {
	FareClass       CabinClass `json:"fareClass"`
	BrandName       string     `json:"brandName"`
	SeatsRemaining  int        `json:"seatsRemaining"`
	TaxAmount       float64    `json:"taxAmount"`
	TaxCurrency     string     `json:"taxCurrency"`
	MilesAmount     float64    `json:"milesAmount"`
	MilesOnlyAmount float64    `json:"milesOnlyAmount"`
}

// Itinerary is one priced origin to destination path. Segments keep flight
// order; fare order carries no meaning.
type Itinerary struct {
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	Segments    []FlightSegment `json:"segments"`
	FareDetails []FareOption    `json:"fareDetails"`
}

type JobResult struct {
	JobID                  string      `json:"jobId"`
	FrequentFlyerProgramID string      `json:"frequentFlyerProgramId"`
	IsUTC                  bool        `json:"isUTC"`
	Success                bool        `json:"success"`
	Data                   []Itinerary `json:"data"`
}

// Normalize replaces nil slices so the record always encodes arrays.
func (r JobResult) Normalize() JobResult {
	if r.Data == nil {
		r.Data = []Itinerary{}
	}
	for i := range r.Data {
		it := &r.Data[i]
		if it.Segments == nil {
			it.Segments = []FlightSegment{}
		}
		if it.FareDetails == nil {
			it.FareDetails = []FareOption{}
		}
		for j := range it.Segments {
			if it.Segments[j].Stops == nil {
				it.Segments[j].Stops = []Stop{}
			}
		}
	}
	return r
}
