// Package models defines data structures for the scraper.
package models

// Error kinds carried by RecordError.
const (
	KindInvalidInput     = "invalid_input"
	KindRateLimited      = "rate_limited"
	KindTransient        = "transient"
	KindProvider         = "provider_error"
	KindRetriesExhausted = "retries_exhausted"
)

// Record is one extraction result, successful or not.
type Record interface {
	// ID is the human-readable identifier listed in the run log.
	ID() string
	// Source is the URL the record was produced from.
	Source() string
	// Err is nil when the extraction fully succeeded.
	Err() *RecordError
}

// RecordError describes why an extraction did not fully succeed.
type RecordError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

func (e *RecordError) Error() string {
	return e.Kind + ": " + e.Message
}

// PolicyRecord holds the pet travel policy of one airline.
type PolicyRecord struct {
	SourceURL            string       `json:"source_url"`
	AirlineName          string       `json:"airline_name"`
	WebsiteLink          string       `json:"website_link"`
	PhoneNumber          string       `json:"phone_number"`
	PetsInCabin          string       `json:"pets_in_cabin"`
	PetsInCheckedBaggage string       `json:"pets_in_checked_baggage"`
	PetsInCargo          string       `json:"pets_in_cargo"`
	CarrierGuidelines    string       `json:"carrier_guidelines"`
	OtherRestrictions    string       `json:"other_restrictions"`
	Error                *RecordError `json:"error,omitempty"`
}

func (p *PolicyRecord) ID() string        { return p.AirlineName }
func (p *PolicyRecord) Source() string    { return p.SourceURL }
func (p *PolicyRecord) Err() *RecordError { return p.Error }

// AssetRecord holds the outcome of downloading one logo image.
type AssetRecord struct {
	SourceURL  string       `json:"source_url"`
	Label      string       `json:"label"`
	Filename   string       `json:"filename"`
	Downloaded bool         `json:"downloaded"`
	Error      *RecordError `json:"error,omitempty"`
}

func (a *AssetRecord) ID() string        { return a.Filename }
func (a *AssetRecord) Source() string    { return a.SourceURL }
func (a *AssetRecord) Err() *RecordError { return a.Error }
