package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Domain identifies which part of the clinical record an event comes from.
type Domain string

// Event domains.
const (
	DomainClinical    Domain = "clinical"
	DomainMedication  Domain = "medication"
	DomainAdmission   Domain = "admission"
	DomainTest        Domain = "test"
	DomainVaccination Domain = "vaccination"
	DomainTherapeutic Domain = "therapeutic"
)

// Domains lists every event domain in a stable order.
var Domains = []Domain{
	DomainClinical, DomainMedication, DomainAdmission,
	DomainTest, DomainVaccination, DomainTherapeutic,
}

// ParseDomain converts a configuration string to a Domain.
func ParseDomain(s string) (Domain, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, d := range Domains {
		if string(d) == norm {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown event domain %q", s)
}

// Event is one observed fact in a patient's history: a diagnosis,
// prescription, procedure, admission, test result or vaccination.
// Events are immutable once handed to the engine.
type Event struct {
	PatientID string
	Domain    Domain
	Code      string
	System    CodingSystem
	Date      time.Time

	// EndDate is the discharge date for admissions; zero otherwise.
	EndDate time.Time

	// NumericValue is the recorded value of a measurement, if any.
	NumericValue *float64
	// RawValue is the value as recorded, possibly prefixed by a comparator ("~45", ">=60").
	RawValue string

	// Admission attributes.
	AdmissionMethod string
	Classification  string
	Primary         bool

	// Test result attributes.
	Pathogen string
	Result   TestResult

	// Product is the therapeutic or vaccine product name.
	Product string
	// TargetDisease is the disease a vaccination protects against.
	TargetDisease string
	// Indication and RiskGroup record why a therapeutic was given.
	Indication string
	RiskGroup  string
}

// TestResult is the outcome of a laboratory test.
type TestResult string

// Test results. An empty result is unknown.
const (
	TestPositive TestResult = "positive"
	TestNegative TestResult = "negative"
)

// SortEvents orders events by date, keeping the recorded order for ties.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
}
