package core

import "time"

// Registration is a period of registration with a general practice.
// A zero End means the registration is ongoing.
type Registration struct {
	Start          time.Time
	End            time.Time
	PracticeSTP    string
	PracticeRegion string
}

// Covers reports whether the registration is active on d.
func (r Registration) Covers(d time.Time) bool {
	if d.Before(r.Start) {
		return false
	}
	return r.End.IsZero() || !d.After(r.End)
}

// Address is a period of residence with area-level classifications.
type Address struct {
	Start      time.Time
	End        time.Time
	IMD        int // index of multiple deprivation rank; -1 when unknown
	RuralUrban int // rural-urban classification 1-8; 0 when unknown
}

// Covers reports whether the patient lived at the address on d.
func (a Address) Covers(d time.Time) bool {
	if d.Before(a.Start) {
		return false
	}
	return a.End.IsZero() || !d.After(a.End)
}

// Death records date and certified causes of death.
type Death struct {
	Date            time.Time
	UnderlyingCause string
	Causes          []string // every ICD-10 code on the certificate, underlying included
}

// Patient is the full record evaluated to produce one output row.
type Patient struct {
	ID            string
	Sex           string    // "M", "F", "I", "U" or empty
	DateOfBirth   time.Time // zero when unknown
	Death         *Death
	Registrations []Registration
	Addresses     []Address
	Events        []Event // ordered by date ascending
}

// RegistrationOn returns the registration active on d, preferring the
// most recently started one when several overlap.
func (p *Patient) RegistrationOn(d time.Time) (Registration, bool) {
	var best Registration
	found := false
	for _, r := range p.Registrations {
		if r.Covers(d) && (!found || r.Start.After(best.Start)) {
			best = r
			found = true
		}
	}
	return best, found
}

// AddressOn returns the address active on d, preferring the most recent.
func (p *Patient) AddressOn(d time.Time) (Address, bool) {
	var best Address
	found := false
	for _, a := range p.Addresses {
		if a.Covers(d) && (!found || a.Start.After(best.Start)) {
			best = a
			found = true
		}
	}
	return best, found
}
