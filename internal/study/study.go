// Package study defines the study definition file: the codelists a study
// uses, its variables and their expectations, and the population filter.
//
// Definitions are YAML or JSON. Every combinator has its own typed block
// and unknown keys are rejected when the file is decoded, so a misspelled
// option fails the load instead of being ignored.
package study

// Definition is a decoded study definition.
type Definition struct {
	IndexDate           string          `koanf:"index_date"`
	DefaultExpectations *Expectations   `koanf:"default_expectations"`
	Codelists           []CodelistSpec  `koanf:"codelists"`
	Population          *PopulationSpec `koanf:"population"`
	Variables           []VariableSpec  `koanf:"variables"`

	// BaseDir is the directory codelist paths are resolved against.
	BaseDir string `koanf:"-"`
}

// CodelistSpec declares one codelist. Exactly one of File, Codes,
// Combine or Filter is set.
type CodelistSpec struct {
	Name           string      `koanf:"name"`
	System         string      `koanf:"system"`
	File           string      `koanf:"file"`
	Column         string      `koanf:"column"`
	CategoryColumn string      `koanf:"category_column"`
	Codes          []string    `koanf:"codes"`
	Combine        []string    `koanf:"combine"`
	Filter         *FilterSpec `koanf:"filter"`
}

// FilterSpec keeps the codes of an earlier codelist whose category is listed.
type FilterSpec struct {
	Codelist   string   `koanf:"codelist"`
	Categories []string `koanf:"categories"`
}

// PopulationSpec is the filter applied after all variables are evaluated.
type PopulationSpec struct {
	Satisfying string         `koanf:"satisfying"`
	Locals     []VariableSpec `koanf:"locals"`
}

// VariableSpec declares one variable. Exactly one combinator block is set.
type VariableSpec struct {
	Name         string         `koanf:"name"`
	Returning    string         `koanf:"returning"`
	DateFormat   string         `koanf:"date_format"` // YYYY-MM-DD (default), YYYY-MM or YYYY
	Expectations *Expectations  `koanf:"expectations"`
	Locals       []VariableSpec `koanf:"locals"`

	CodeMatch         *CodeMatchSpec      `koanf:"code_match"`
	AdmissionMatch    *AdmissionMatchSpec `koanf:"admission_match"`
	TestResult        *TestResultSpec     `koanf:"test_result"`
	Therapeutic       *TherapeuticSpec    `koanf:"therapeutic"`
	Vaccination       *VaccinationSpec    `koanf:"vaccination"`
	Satisfying        *string             `koanf:"satisfying"`
	BooleanExpr       *string             `koanf:"boolean_expr"`
	CategorisedAs     *CategorisedSpec    `koanf:"categorised_as"`
	ComparatorFrom    *string             `koanf:"comparator_from"`
	MinOf             []string            `koanf:"min_of"`
	MaxOf             []string            `koanf:"max_of"`
	AgeAsOf           *string             `koanf:"age_as_of"`
	Sex               *struct{}           `koanf:"sex"`
	RegisteredAsOf    *string             `koanf:"registered_as_of"`
	RegisteredBetween []string            `koanf:"registered_between"`
	PracticeAsOf      *string             `koanf:"practice_as_of"`
	AddressAsOf       *AddressSpec        `koanf:"address_as_of"`
	Died              *DiedSpec           `koanf:"died"`
	Deregistered      *WindowSpec         `koanf:"deregistered"`
}

// WindowSpec restricts matching to a date range. At most one of Between,
// OnOrBefore and OnOrAfter is set; none means any date.
type WindowSpec struct {
	Between    []string `koanf:"between"`
	OnOrBefore string   `koanf:"on_or_before"`
	OnOrAfter  string   `koanf:"on_or_after"`
}

// CodeMatchSpec matches coded events from one history domain.
type CodeMatchSpec struct {
	Codelist           string `koanf:"codelist"`
	Source             string `koanf:"source"` // clinical (default), medication, test, vaccination, therapeutic
	Find               string `koanf:"find"`   // first or last (default)
	IncludeDateOfMatch bool   `koanf:"include_date_of_match"`
	WindowSpec         `koanf:",squash"`
}

// AdmissionMatchSpec matches hospital admissions.
type AdmissionMatchSpec struct {
	Diagnoses              string   `koanf:"diagnoses"`
	PrimaryDiagnoses       string   `koanf:"primary_diagnoses"`
	Procedures             string   `koanf:"procedures"`
	AdmissionMethods       []string `koanf:"admission_methods"`
	PatientClassifications []string `koanf:"patient_classifications"`
	Find                   string   `koanf:"find"`
	IncludeDateOfMatch     bool     `koanf:"include_date_of_match"`
	WindowSpec             `koanf:",squash"`
}

// AnyResult matches positive and negative test results alike.
const AnyResult = "any"

// TestResultSpec matches laboratory test results. By default only the
// patient's earliest specimen for the pathogen is considered, whatever
// its result.
type TestResultSpec struct {
	Pathogen                       string `koanf:"pathogen"`
	Result                         string `koanf:"result"` // positive, negative or any (default)
	RestrictToEarliestSpecimenDate *bool  `koanf:"restrict_to_earliest_specimen_date"`
	Find                           string `koanf:"find"`
	IncludeDateOfMatch             bool   `koanf:"include_date_of_match"`
	WindowSpec                     `koanf:",squash"`
}

// EarliestSpecimenOnly reports whether matching is restricted to the
// earliest specimen.
func (t *TestResultSpec) EarliestSpecimenOnly() bool {
	return t.RestrictToEarliestSpecimenDate == nil || *t.RestrictToEarliestSpecimenDate
}

// TherapeuticSpec matches treatments by product name and indication.
// Empty lists match any.
type TherapeuticSpec struct {
	Therapeutics       []string `koanf:"therapeutics"`
	Indications        []string `koanf:"indications"`
	Find               string   `koanf:"find"`
	IncludeDateOfMatch bool     `koanf:"include_date_of_match"`
	WindowSpec         `koanf:",squash"`
}

// VaccinationSpec matches vaccination records by target disease or
// product name.
type VaccinationSpec struct {
	TargetDisease      string `koanf:"target_disease"`
	ProductName        string `koanf:"product_name"`
	Find               string `koanf:"find"`
	IncludeDateOfMatch bool   `koanf:"include_date_of_match"`
	WindowSpec         `koanf:",squash"`
}

// CategorisedSpec assigns the label of the first rule whose condition
// holds. A rule whose condition is DEFAULT, or the Default field, names
// the label used when no rule holds.
type CategorisedSpec struct {
	Categories []CategoryRule `koanf:"categories"`
	Default    string         `koanf:"default"`
}

// CategoryRule is one labelled condition.
type CategoryRule struct {
	Label string `koanf:"label"`
	When  string `koanf:"when"`
}

// DefaultCondition marks the fallback rule of a categorisation.
const DefaultCondition = "DEFAULT"

// AddressSpec reads the address active on a date.
type AddressSpec struct {
	Date           string `koanf:"date"`
	RoundToNearest int    `koanf:"round_to_nearest"`
}

// DiedSpec matches a death, optionally only with given certified causes.
type DiedSpec struct {
	Codes          string `koanf:"codes"`
	UnderlyingOnly bool   `koanf:"underlying_only"`
	WindowSpec     `koanf:",squash"`
}

// Expectations describe the distribution of a variable in synthetic data.
type Expectations struct {
	Incidence *float64             `koanf:"incidence"`
	Rate      string               `koanf:"rate"`
	Date      *DateExpectation     `koanf:"date"`
	Category  *CategoryExpectation `koanf:"category"`
	Int       *Distribution        `koanf:"int"`
	Float     *Distribution        `koanf:"float"`
}

// DateExpectation bounds synthetic dates. Either end may be a date expression.
type DateExpectation struct {
	Earliest string `koanf:"earliest"`
	Latest   string `koanf:"latest"`
}

// CategoryExpectation gives the probability of each label. The label
// "None" stands for a null value.
type CategoryExpectation struct {
	Ratios map[string]float64 `koanf:"ratios"`
}

// NullLabel is the ratio label standing for a null value.
const NullLabel = "None"

// Distribution is a numeric distribution.
type Distribution struct {
	Distribution string  `koanf:"distribution"` // normal or population_ages
	Mean         float64 `koanf:"mean"`
	Stddev       float64 `koanf:"stddev"`
}

// Rates.
const (
	RateUniform             = "uniform"
	RateUniversal           = "universal"
	RateExponentialIncrease = "exponential_increase"
)

// Distributions.
const (
	DistNormal         = "normal"
	DistPopulationAges = "population_ages"
)
