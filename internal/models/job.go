package models

import "time"

type JourneyType string

const (
	JourneyOneWay    JourneyType = "One Way"
	JourneyRoundTrip JourneyType = "Round Trip"
	JourneyMultiCity JourneyType = "Multi City"
)

type DestinationType string

const (
	DestinationAirport DestinationType = "Airport"
	DestinationCity    DestinationType = "City"
)

type JobStatus string

const (
	JobCreated    JobStatus = "Created"
	JobQueued     JobStatus = "Queued"
	JobInProgress JobStatus = "InProgress"
	JobCompleted  JobStatus = "Completed"
	JobFailed     JobStatus = "Failed"
	JobTimeout    JobStatus = "Timeout"
)

type Country struct {
	IsoCode2 string `json:"isoCode2"`
	Name     string `json:"name"`
	ID       string `json:"id"`
}

type CityDetails struct {
	Code    string  `json:"code"`
	Name    string  `json:"name"`
	Country Country `json:"country"`
}

type AirportRef struct {
	IataCode string `json:"iataCode"`
}

// SearchDetails is the searchParams object as it arrives on the job API.
type SearchDetails struct {
	ID                  string          `json:"id"`
	JourneyType         JourneyType     `json:"journeyType"`
	CabinClass          CabinClass      `json:"cabinClass"`
	FromDate            string          `json:"fromDate"`
	ToDate              *string         `json:"toDate"`
	FromDestinationType DestinationType `json:"fromDestinationType"`
	ToDestinationType   DestinationType `json:"toDestinationType"`
	FromAirport         AirportRef      `json:"fromAirport"`
	ToAirport           AirportRef      `json:"toAirport"`
	FromCity            CityDetails     `json:"fromCity"`
	ToCity              CityDetails     `json:"toCity"`
}

type ScheduleSearchJob struct {
	SearchParams           SearchDetails `json:"searchParams"`
	ProviderID             string        `json:"providerId"`
	FrequentFlyerProgramID string        `json:"frequentFlyerProgramId"`
	JobID                  string        `json:"jobId"`
	Debug                  bool          `json:"debug,omitempty"`
}

type City struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
}

// SearchParams is the flattened, validated input every request builder
// consumes. It is built once per job and never mutated.
type SearchParams struct {
	ID                  string
	JourneyType         JourneyType
	CabinClass          CabinClass
	FromDate            time.Time
	ToDate              *time.Time
	FromDestinationType DestinationType
	ToDestinationType   DestinationType
	FromAirport         string
	ToAirport           string
	FromCity            City
	ToCity              City
}

// Job is what the dispatcher hands to a provider.
type Job struct {
	JobID                  string
	ProviderID             string
	FrequentFlyerProgramID string
	Debug                  bool
	Params                 SearchParams
}

func (p SearchParams) DepartureDate(layout string) string {
	return p.FromDate.Format(layout)
}

func (j *ScheduleSearchJob) Validate() error {
	if j.JobID == "" {
		return ErrMissingJobID
	}
	if j.ProviderID == "" {
		return ErrMissingProviderID
	}
	if j.FrequentFlyerProgramID == "" {
		return ErrMissingProgramID
	}
	sp := j.SearchParams
	if sp.ID == "" {
		return ErrMissingSearchID
	}
	switch sp.JourneyType {
	case JourneyOneWay, JourneyRoundTrip, JourneyMultiCity:
	default:
		return ErrInvalidJourneyType
	}
	if !sp.CabinClass.Valid() {
		return ErrInvalidCabinClass
	}
	if _, err := parseJobDate(sp.FromDate); err != nil {
		return ErrInvalidFromDate
	}
	if sp.ToDate != nil {
		if _, err := parseJobDate(*sp.ToDate); err != nil {
			return ErrInvalidToDate
		}
	}
	if !sp.FromDestinationType.valid() || !sp.ToDestinationType.valid() {
		return ErrInvalidDestinationType
	}
	if sp.FromAirport.IataCode == "" {
		return ErrMissingOrigin
	}
	if sp.ToAirport.IataCode == "" {
		return ErrMissingDestination
	}
	return nil
}

// Format flattens the job; call Validate first.
func (j *ScheduleSearchJob) Format() Job {
	sp := j.SearchParams
	from, _ := parseJobDate(sp.FromDate)

	var to *time.Time
	if sp.ToDate != nil {
		if t, err := parseJobDate(*sp.ToDate); err == nil {
			to = &t
		}
	}

	return Job{
		JobID:                  j.JobID,
		ProviderID:             j.ProviderID,
		FrequentFlyerProgramID: j.FrequentFlyerProgramID,
		Debug:                  j.Debug,
		Params: SearchParams{
			ID:                  sp.ID,
			JourneyType:         sp.JourneyType,
			CabinClass:          sp.CabinClass,
			FromDate:            from,
			ToDate:              to,
			FromDestinationType: sp.FromDestinationType,
			ToDestinationType:   sp.ToDestinationType,
			FromAirport:         sp.FromAirport.IataCode,
			ToAirport:           sp.ToAirport.IataCode,
			FromCity:            sp.FromCity.flatten(),
			ToCity:              sp.ToCity.flatten(),
		},
	}
}

func (c CityDetails) flatten() City {
	return City{
		Code:        c.Code,
		Name:        c.Name,
		CountryCode: c.Country.IsoCode2,
		CountryName: c.Country.Name,
	}
}

func (d DestinationType) valid() bool {
	return d == DestinationAirport || d == DestinationCity
}

func parseJobDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidFromDate
}

type ValidationError string

func (e ValidationError) Error() string {
	return string(e)
}

const (
	ErrMissingJobID           ValidationError = "jobId is required"
	ErrMissingProviderID      ValidationError = "providerId is required"
	ErrMissingProgramID       ValidationError = "frequentFlyerProgramId is required"
	ErrMissingSearchID        ValidationError = "searchParams.id is required"
	ErrInvalidJourneyType     ValidationError = "searchParams.journeyType is invalid"
	ErrInvalidCabinClass      ValidationError = "searchParams.cabinClass is invalid"
	ErrInvalidFromDate        ValidationError = "searchParams.fromDate is invalid"
	ErrInvalidToDate          ValidationError = "searchParams.toDate is invalid"
	ErrInvalidDestinationType ValidationError = "searchParams destination type is invalid"
	ErrMissingOrigin          ValidationError = "searchParams.fromAirport.iataCode is required"
	ErrMissingDestination     ValidationError = "searchParams.toAirport.iataCode is required"
)
