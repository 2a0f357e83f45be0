package engine

import (
	"math"
	"strconv"
	"time"

	"github.com/leapstack-labs/leapcohort/internal/codelist"
	"github.com/leapstack-labs/leapcohort/internal/comparator"
	"github.com/leapstack-labs/leapcohort/internal/expr"
	"github.com/leapstack-labs/leapcohort/internal/matcher"
	"github.com/leapstack-labs/leapcohort/internal/study"
	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Rule is a compiled combinator.
type Rule interface {
	eval(c *Context, n *Node) core.Value
}

// Find selects which match a match rule reports.
type Find int

// Find values. The zero value is FindLast.
const (
	FindLast Find = iota
	FindFirst
)

func findOf(s string) Find {
	if s == "first" {
		return FindFirst
	}
	return FindLast
}

func (f Find) pick(matches []matcher.Match) (matcher.Match, bool) {
	if f == FindFirst {
		return matcher.First(matches)
	}
	return matcher.Last(matches)
}

// noEvent is the value of a match rule when nothing matched or its window
// could not be resolved.
func noEvent(k core.Kind) core.Value {
	switch k {
	case core.KindBinary:
		return core.Bool(false)
	case core.KindCount:
		return core.Count(0)
	}
	return core.Null(k)
}

// CodeMatch matches coded events of one domain against a codelist.
type CodeMatch struct {
	List      *codelist.Codelist
	Domain    core.Domain
	Window    temporal.Window
	Find      Find
	Returning string
}

// Matches returns the events the rule matches for the patient in c.
func (r *CodeMatch) Matches(c *Context, n *Node) ([]matcher.Match, bool) {
	iv, ok := c.ResolveWindow(n, r.Window)
	if !ok {
		return nil, false
	}
	filters := []matcher.Filter{matcher.InDomain(r.Domain)}
	if r.Returning == study.ReturnNumericValue {
		filters = append(filters, matcher.WithValue())
	}
	return matcher.Find(c.patient.Events, r.List, iv, filters...), true
}

func (r *CodeMatch) eval(c *Context, n *Node) core.Value {
	matches, ok := r.Matches(c, n)
	if !ok || len(matches) == 0 {
		return noEvent(n.Kind)
	}
	m, _ := r.Find.pick(matches)
	c.setMatched(n, m.Index)

	switch r.Returning {
	case study.ReturnCount:
		return core.Count(int64(len(matches)))
	case study.ReturnDate:
		return core.DateValue(m.Event.Date)
	case study.ReturnCategory:
		if m.Category == "" {
			return core.Null(core.KindCategory)
		}
		return core.Category(m.Category)
	case study.ReturnCode:
		return core.Category(m.Event.Code)
	case study.ReturnNumericValue:
		if v := m.Event.NumericValue; v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
			return core.Numeric(*v)
		}
		if res := comparator.Parse(m.Event.RawValue); res.Numeric {
			return core.Numeric(res.Value)
		}
		return core.Null(core.KindNumeric)
	}
	return core.Bool(true)
}

// AdmissionMatch matches hospital admissions. An admission qualifies when
// any of its diagnoses is in Diagnoses, its primary diagnosis is in
// PrimaryDiagnoses, or any of its procedures is in Procedures. With no
// codelists every admission passing the method and classification
// filters qualifies.
type AdmissionMatch struct {
	Diagnoses        *codelist.Codelist
	PrimaryDiagnoses *codelist.Codelist
	Procedures       *codelist.Codelist
	Methods          []string
	Classifications  []string
	Window           temporal.Window
	Find             Find
	Returning        string
}

// admissionKey identifies one admission across its diagnosis and
// procedure events.
type admissionKey struct {
	admitted, discharged time.Time
	method, class        string
}

func keyOf(e *core.Event) admissionKey {
	return admissionKey{e.Date, e.EndDate, e.AdmissionMethod, e.Classification}
}

func (r *AdmissionMatch) qualifies(e *core.Event) bool {
	if r.Diagnoses == nil && r.PrimaryDiagnoses == nil && r.Procedures == nil {
		return true
	}
	if r.Diagnoses != nil && r.Diagnoses.Contains(e.System, e.Code) {
		return true
	}
	if r.PrimaryDiagnoses != nil && e.Primary && r.PrimaryDiagnoses.Contains(e.System, e.Code) {
		return true
	}
	return r.Procedures != nil && r.Procedures.Contains(e.System, e.Code)
}

// Matches returns one match per qualifying admission, ordered by
// admission date.
func (r *AdmissionMatch) Matches(c *Context, n *Node) ([]matcher.Match, bool) {
	iv, ok := c.ResolveWindow(n, r.Window)
	if !ok {
		return nil, false
	}
	filters := []matcher.Filter{matcher.InDomain(core.DomainAdmission)}
	if len(r.Methods) > 0 {
		filters = append(filters, matcher.AdmissionMethods(r.Methods...))
	}
	if len(r.Classifications) > 0 {
		filters = append(filters, matcher.Classifications(r.Classifications...))
	}

	seen := make(map[admissionKey]bool)
	var out []matcher.Match
	for _, m := range matcher.Filtered(c.patient.Events, iv, filters...) {
		k := keyOf(&m.Event)
		if seen[k] || !r.qualifies(&m.Event) {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out, true
}

func (r *AdmissionMatch) eval(c *Context, n *Node) core.Value {
	matches, ok := r.Matches(c, n)
	if !ok || len(matches) == 0 {
		return noEvent(n.Kind)
	}
	m, _ := r.Find.pick(matches)
	c.setMatched(n, m.Index)

	switch r.Returning {
	case study.ReturnCount:
		return core.Count(int64(len(matches)))
	case study.ReturnDateAdmitted:
		return core.DateValue(m.Event.Date)
	case study.ReturnDateDischarged:
		if m.Event.EndDate.IsZero() {
			return core.Null(core.KindDate)
		}
		return core.DateValue(m.Event.EndDate)
	case study.ReturnPrimaryDiagnosis:
		key := keyOf(&m.Event)
		for i := range c.patient.Events {
			e := &c.patient.Events[i]
			if e.Domain == core.DomainAdmission && e.Primary && keyOf(e) == key {
				return core.Category(e.Code)
			}
		}
		return core.Null(core.KindCategory)
	}
	return core.Bool(true)
}

// RecordMatch matches uncoded records (test results, therapeutics,
// vaccinations) by their attributes. Empty attributes match anything.
type RecordMatch struct {
	Domain        core.Domain
	Pathogen      string
	Result        core.TestResult
	Products      []string
	Indications   []string
	TargetDisease string
	// EarliestSpecimen restricts matching to the records dated on the
	// patient's first record for Pathogen, inside the window or not.
	EarliestSpecimen bool
	Window           temporal.Window
	Find             Find
	Returning        string
}

// Filters returns the attribute filters of r, without the domain.
func (r *RecordMatch) Filters() []matcher.Filter {
	var filters []matcher.Filter
	if r.Pathogen != "" {
		filters = append(filters, matcher.Pathogen(r.Pathogen))
	}
	if r.Result != "" {
		filters = append(filters, matcher.Result(r.Result))
	}
	if len(r.Products) > 0 {
		filters = append(filters, matcher.Products(r.Products...))
	}
	if len(r.Indications) > 0 {
		filters = append(filters, matcher.Indications(r.Indications...))
	}
	if r.TargetDisease != "" {
		filters = append(filters, matcher.TargetDisease(r.TargetDisease))
	}
	return filters
}

// Matches returns the records the rule matches for the patient in c.
func (r *RecordMatch) Matches(c *Context, n *Node) ([]matcher.Match, bool) {
	iv, ok := c.ResolveWindow(n, r.Window)
	if !ok {
		return nil, false
	}
	filters := append([]matcher.Filter{matcher.InDomain(r.Domain)}, r.Filters()...)
	if r.EarliestSpecimen {
		first, found := matcher.First(matcher.Filtered(c.patient.Events, temporal.Interval{},
			matcher.InDomain(r.Domain), matcher.Pathogen(r.Pathogen)))
		if !found {
			return nil, true
		}
		day := first.Event.Date
		filters = append(filters, func(e *core.Event) bool { return e.Date.Equal(day) })
	}
	return matcher.Filtered(c.patient.Events, iv, filters...), true
}

func (r *RecordMatch) eval(c *Context, n *Node) core.Value {
	matches, ok := r.Matches(c, n)
	if !ok || len(matches) == 0 {
		return noEvent(n.Kind)
	}
	m, _ := r.Find.pick(matches)
	c.setMatched(n, m.Index)

	category := func(s string) core.Value {
		if s == "" {
			return core.Null(core.KindCategory)
		}
		return core.Category(s)
	}
	switch r.Returning {
	case study.ReturnCount:
		return core.Count(int64(len(matches)))
	case study.ReturnDate:
		return core.DateValue(m.Event.Date)
	case study.ReturnRiskGroup:
		return category(m.Event.RiskGroup)
	case study.ReturnIndication:
		return category(m.Event.Indication)
	case study.ReturnTherapeutic, study.ReturnProductName:
		return category(m.Event.Product)
	}
	return core.Bool(true)
}

// DateOfMatch is the date of the event selected by another match rule.
type DateOfMatch struct {
	Source string
}

func (r *DateOfMatch) eval(c *Context, _ *Node) core.Value {
	i, ok := c.Matched(r.Source)
	if !ok {
		return core.Null(core.KindDate)
	}
	return core.DateValue(c.patient.Events[i].Date)
}

// Satisfying is a boolean expression over other variables.
type Satisfying struct {
	Expr *expr.Expr
}

func (r *Satisfying) eval(c *Context, n *Node) core.Value {
	return core.Bool(r.Expr.Holds(scoped{c, n}))
}

// CategoryRule is one labelled condition of a Categorise rule.
type CategoryRule struct {
	Label string
	When  *expr.Expr
}

// Categorise assigns the label of the first rule that holds, or Default.
type Categorise struct {
	Rules   []CategoryRule
	Default string
}

func (r *Categorise) eval(c *Context, n *Node) core.Value {
	l := scoped{c, n}
	for _, rule := range r.Rules {
		if rule.When.Holds(l) {
			return core.Category(rule.Label)
		}
	}
	return core.Category(r.Default)
}

// ComparatorFrom reports the operator recorded with the value selected by
// a numeric code_match, or null when there is none.
type ComparatorFrom struct {
	Source string
}

func (r *ComparatorFrom) eval(c *Context, _ *Node) core.Value {
	i, ok := c.Matched(r.Source)
	if !ok {
		return core.Null(core.KindCategory)
	}
	res := comparator.Parse(c.patient.Events[i].RawValue)
	if res.Op == comparator.OpNone {
		return core.Null(core.KindCategory)
	}
	return core.Category(string(res.Op))
}

// Extreme is min_of or max_of: the earliest or latest non-null date.
type Extreme struct {
	Sources []string
	Latest  bool
}

func (r *Extreme) eval(c *Context, _ *Node) core.Value {
	var best time.Time
	found := false
	for _, id := range r.Sources {
		v, ok := c.Value(id)
		if !ok || !v.Valid {
			continue
		}
		if !found || (r.Latest && v.Date.After(best)) || (!r.Latest && v.Date.Before(best)) {
			best = v.Date
			found = true
		}
	}
	if !found {
		return core.Null(core.KindDate)
	}
	return core.DateValue(best)
}

// AgeAsOf is the age in whole years on a date.
type AgeAsOf struct {
	Date temporal.DateExpr
}

func (r *AgeAsOf) eval(c *Context, n *Node) core.Value {
	on, ok := c.ResolveDate(n, r.Date)
	if !ok || c.patient.DateOfBirth.IsZero() || on.Before(c.patient.DateOfBirth) {
		return core.Null(core.KindNumeric)
	}
	return core.Numeric(float64(temporal.YearsBetween(c.patient.DateOfBirth, on)))
}

// Sex is the recorded sex.
type Sex struct{}

func (r *Sex) eval(c *Context, _ *Node) core.Value {
	if c.patient.Sex == "" {
		return core.Null(core.KindCategory)
	}
	return core.Category(c.patient.Sex)
}

// RegisteredAsOf is true when a registration covers the date.
type RegisteredAsOf struct {
	Date temporal.DateExpr
}

func (r *RegisteredAsOf) eval(c *Context, n *Node) core.Value {
	on, ok := c.ResolveDate(n, r.Date)
	if !ok {
		return core.Bool(false)
	}
	_, registered := c.patient.RegistrationOn(on)
	return core.Bool(registered)
}

// RegisteredBetween is true when one registration covers the whole period.
type RegisteredBetween struct {
	From, To temporal.DateExpr
}

func (r *RegisteredBetween) eval(c *Context, n *Node) core.Value {
	from, ok := c.ResolveDate(n, r.From)
	if !ok {
		return core.Bool(false)
	}
	to, ok := c.ResolveDate(n, r.To)
	if !ok {
		return core.Bool(false)
	}
	for _, reg := range c.patient.Registrations {
		if reg.Covers(from) && reg.Covers(to) {
			return core.Bool(true)
		}
	}
	return core.Bool(false)
}

// PracticeAsOf reads the registered practice's STP or region on a date.
type PracticeAsOf struct {
	Date      temporal.DateExpr
	Returning string
}

func (r *PracticeAsOf) eval(c *Context, n *Node) core.Value {
	on, ok := c.ResolveDate(n, r.Date)
	if !ok {
		return core.Null(core.KindCategory)
	}
	reg, ok := c.patient.RegistrationOn(on)
	if !ok {
		return core.Null(core.KindCategory)
	}
	s := reg.PracticeSTP
	if r.Returning == study.ReturnRegionName {
		s = reg.PracticeRegion
	}
	if s == "" {
		return core.Null(core.KindCategory)
	}
	return core.Category(s)
}

// AddressAsOf reads the area classifications of the address on a date.
type AddressAsOf struct {
	Date           temporal.DateExpr
	Returning      string
	RoundToNearest int
}

func (r *AddressAsOf) eval(c *Context, n *Node) core.Value {
	on, ok := c.ResolveDate(n, r.Date)
	if !ok {
		return core.Null(n.Kind)
	}
	addr, ok := c.patient.AddressOn(on)
	if !ok {
		return core.Null(n.Kind)
	}
	if r.Returning == study.ReturnRuralUrban {
		if addr.RuralUrban <= 0 {
			return core.Null(core.KindCategory)
		}
		return core.Category(strconv.Itoa(addr.RuralUrban))
	}
	if addr.IMD < 0 {
		return core.Null(core.KindNumeric)
	}
	imd := float64(addr.IMD)
	if r.RoundToNearest > 0 {
		step := float64(r.RoundToNearest)
		imd = math.Round(imd/step) * step
	}
	return core.Numeric(imd)
}

// Died matches a recorded death, optionally only with certified causes
// from Codes.
type Died struct {
	Codes          *codelist.Codelist
	UnderlyingOnly bool
	Window         temporal.Window
	Returning      string
}

// Matches reports whether the patient's death satisfies the rule.
func (r *Died) Matches(c *Context, n *Node) bool {
	d := c.patient.Death
	if d == nil {
		return false
	}
	iv, ok := c.ResolveWindow(n, r.Window)
	if !ok || !iv.Contains(d.Date) {
		return false
	}
	if r.Codes == nil {
		return true
	}
	if r.UnderlyingOnly {
		return r.Codes.Contains(core.SystemICD10, d.UnderlyingCause)
	}
	if r.Codes.Contains(core.SystemICD10, d.UnderlyingCause) {
		return true
	}
	for _, cause := range d.Causes {
		if r.Codes.Contains(core.SystemICD10, cause) {
			return true
		}
	}
	return false
}

func (r *Died) eval(c *Context, n *Node) core.Value {
	if !r.Matches(c, n) {
		return noEvent(n.Kind)
	}
	d := c.patient.Death
	switch r.Returning {
	case study.ReturnDateOfDeath:
		return core.DateValue(d.Date)
	case study.ReturnUnderlyingCause:
		if d.UnderlyingCause == "" {
			return core.Null(core.KindCategory)
		}
		return core.Category(d.UnderlyingCause)
	}
	return core.Bool(true)
}

// Deregistered is the end of the patient's last registration, when no
// registration is ongoing.
type Deregistered struct {
	Window    temporal.Window
	Returning string
}

func (r *Deregistered) eval(c *Context, n *Node) core.Value {
	regs := c.patient.Registrations
	if len(regs) == 0 {
		return noEvent(n.Kind)
	}
	var last time.Time
	for _, reg := range regs {
		if reg.End.IsZero() {
			return noEvent(n.Kind)
		}
		if reg.End.After(last) {
			last = reg.End
		}
	}
	iv, ok := c.ResolveWindow(n, r.Window)
	if !ok || !iv.Contains(last) {
		return noEvent(n.Kind)
	}
	if r.Returning == study.ReturnBinaryFlag {
		return core.Bool(true)
	}
	return core.DateValue(last)
}
