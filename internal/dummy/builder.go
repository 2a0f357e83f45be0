package dummy

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapcohort/internal/comparator"
	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/study"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Codes used when a rule names no codelist to draw from.
const (
	unspecifiedDiagnosis = "R69" // ICD-10 illness, unspecified
	unspecifiedDeath     = "R99" // ICD-10 other ill-defined causes of mortality
)

const (
	maxStayDays          = 14
	maxRegistrationYears = 20
	imdRanks             = 32844
	ruralUrbanClasses    = 8
)

var defaultSexRatios = map[string]float64{"F": 0.51, "M": 0.49}

var defaultRegions = []string{
	"North East", "North West", "Yorkshire and The Humber", "East Midlands",
	"West Midlands", "East", "London", "South East", "South West",
}

// builder assembles one patient. Events are appended and only sorted once
// the patient is complete, so the match indices kept by the context stay
// valid while later variables rewrite matched events.
type builder struct {
	plan  *engine.Plan
	rng   *rand.Rand
	p     *core.Patient
	c     *engine.Context
	steer map[string]bool
}

func (b *builder) build() *core.Patient {
	b.c = engine.NewContext(b.plan, b.p)
	b.steering()
	for _, n := range b.plan.Nodes() {
		b.synthesise(n)
		b.c.Eval(n)
	}
	core.SortEvents(b.p.Events)
	return b.p
}

// synthesise draws the source records n reads. Derived variables read
// nothing of their own.
func (b *builder) synthesise(n *engine.Node) {
	switch r := n.Rule.(type) {
	case *engine.CodeMatch:
		b.codeMatch(n, r)
	case *engine.AdmissionMatch:
		b.admission(n, r)
	case *engine.RecordMatch:
		b.record(n, r)
	case *engine.ComparatorFrom:
		b.comparator(n, r)
	case *engine.AgeAsOf:
		b.dateOfBirth(n, r)
	case *engine.Sex:
		b.sex(n)
	case *engine.RegisteredAsOf:
		b.registeredAsOf(n, r)
	case *engine.RegisteredBetween:
		b.registeredBetween(n, r)
	case *engine.PracticeAsOf:
		b.practice(n, r)
	case *engine.AddressAsOf:
		b.address(n, r)
	case *engine.Died:
		b.died(n, r)
	case *engine.Deregistered:
		b.deregistered(n, r)
	}
}

func (b *builder) codeMatch(n *engine.Node, r *engine.CodeMatch) {
	if r.List == nil || r.List.Len() == 0 || !b.present(n) {
		return
	}
	entry, ok := b.entry(n, r.List, r.Returning == study.ReturnCategory, r.Returning == study.ReturnCode)
	if !ok {
		return
	}
	lo, hi, ok := b.span(n, r.Window)
	if !ok {
		return
	}

	events := 1
	if r.Returning == study.ReturnCount {
		events = b.count(n)
	}
	for range events {
		e := core.Event{
			PatientID: b.p.ID,
			Domain:    r.Domain,
			Code:      entry.Code,
			System:    entry.System,
			Date:      b.date(n, lo, hi),
		}
		if r.Returning == study.ReturnNumericValue {
			v := b.value(n)
			e.NumericValue = &v
			e.RawValue = comparator.Format(comparator.OpNone, v)
		}
		b.p.Events = append(b.p.Events, e)
	}
}

func (b *builder) admission(n *engine.Node, r *engine.AdmissionMatch) {
	if !b.present(n) {
		return
	}
	lo, hi, ok := b.span(n, r.Window)
	if !ok {
		return
	}

	stays := 1
	if r.Returning == study.ReturnCount {
		stays = b.count(n)
	}
	for range stays {
		primary := core.CodedEntry{Code: unspecifiedDiagnosis, System: core.SystemICD10}
		switch {
		case r.Returning == study.ReturnPrimaryDiagnosis && len(ratiosOf(n)) > 0:
			code := label(b.rng, ratiosOf(n))
			if code == study.NullLabel {
				return
			}
			primary.Code = code
		case r.PrimaryDiagnoses != nil && r.PrimaryDiagnoses.Len() > 0:
			primary = pick(b.rng, r.PrimaryDiagnoses.Entries())
		case r.Diagnoses != nil && r.Diagnoses.Len() > 0:
			primary = pick(b.rng, r.Diagnoses.Entries())
		}

		admitted := b.date(n, lo, hi)
		base := core.Event{
			PatientID: b.p.ID,
			Domain:    core.DomainAdmission,
			Date:      admitted,
			EndDate:   admitted.AddDate(0, 0, b.rng.IntN(maxStayDays+1)),
		}
		if len(r.Methods) > 0 {
			base.AdmissionMethod = pick(b.rng, r.Methods)
		}
		if len(r.Classifications) > 0 {
			base.Classification = pick(b.rng, r.Classifications)
		}

		add := func(entry core.CodedEntry, isPrimary bool) {
			e := base
			e.Code, e.System, e.Primary = entry.Code, entry.System, isPrimary
			b.p.Events = append(b.p.Events, e)
		}
		add(primary, true)

		// Make sure the stay qualifies when the primary diagnosis alone
		// does not.
		qualified := r.Diagnoses == nil && r.PrimaryDiagnoses == nil && r.Procedures == nil
		qualified = qualified || (r.Diagnoses != nil && r.Diagnoses.Contains(primary.System, primary.Code))
		qualified = qualified || (r.PrimaryDiagnoses != nil && r.PrimaryDiagnoses.Contains(primary.System, primary.Code))
		if r.Procedures != nil && r.Procedures.Len() > 0 {
			add(pick(b.rng, r.Procedures.Entries()), false)
			qualified = true
		}
		if !qualified && r.Diagnoses != nil && r.Diagnoses.Len() > 0 {
			add(pick(b.rng, r.Diagnoses.Entries()), false)
		}
	}
}

// record draws uncoded records carrying the attributes r filters on.
// A category return value is drawn from n's ratios when it declares them.
func (b *builder) record(n *engine.Node, r *engine.RecordMatch) {
	if !b.present(n) {
		return
	}
	lo, hi, ok := b.span(n, r.Window)
	if !ok {
		return
	}

	events := 1
	if r.Returning == study.ReturnCount {
		events = b.count(n)
	}
	// Only the first specimen's day is matched, so every record shares it.
	var day time.Time
	if r.EarliestSpecimen {
		day = b.date(n, lo, hi)
	}
	for range events {
		e := core.Event{
			PatientID:     b.p.ID,
			Domain:        r.Domain,
			Date:          day,
			Pathogen:      r.Pathogen,
			Result:        r.Result,
			TargetDisease: r.TargetDisease,
		}
		if !r.EarliestSpecimen {
			e.Date = b.date(n, lo, hi)
		}
		if r.Domain == core.DomainTest && e.Result == "" {
			e.Result = pick(b.rng, []core.TestResult{core.TestPositive, core.TestNegative})
		}
		if len(r.Products) > 0 {
			e.Product = pick(b.rng, r.Products)
		}
		if len(r.Indications) > 0 {
			e.Indication = pick(b.rng, r.Indications)
		}

		if want, drawn := b.recordLabel(n); drawn {
			if want == study.NullLabel {
				return
			}
			switch r.Returning {
			case study.ReturnRiskGroup:
				e.RiskGroup = want
			case study.ReturnIndication:
				if len(r.Indications) == 0 || slices.ContainsFunc(r.Indications, foldEqual(want)) {
					e.Indication = want
				}
			case study.ReturnTherapeutic, study.ReturnProductName:
				if len(r.Products) == 0 || slices.ContainsFunc(r.Products, foldEqual(want)) {
					e.Product = want
				}
			}
		}
		b.p.Events = append(b.p.Events, e)
	}
}

// recordLabel draws a category for a record rule returning one.
func (b *builder) recordLabel(n *engine.Node) (string, bool) {
	switch n.Returning {
	case study.ReturnRiskGroup, study.ReturnIndication, study.ReturnTherapeutic, study.ReturnProductName:
	default:
		return "", false
	}
	ratios := ratiosOf(n)
	if len(ratios) == 0 {
		return "", false
	}
	return label(b.rng, ratios), true
}

func foldEqual(want string) func(string) bool {
	return func(s string) bool { return strings.EqualFold(s, want) }
}

// comparator rewrites the recorded value of the event matched by the
// source variable with an operator drawn from n's ratios.
func (b *builder) comparator(n *engine.Node, r *engine.ComparatorFrom) {
	ratios := ratiosOf(n)
	if len(ratios) == 0 {
		return
	}
	i, ok := b.c.Matched(r.Source)
	if !ok {
		return
	}
	op, ok := comparator.ParseOp(label(b.rng, ratios))
	if !ok {
		return
	}
	if e := &b.p.Events[i]; e.NumericValue != nil {
		e.RawValue = comparator.Format(op, *e.NumericValue)
	}
}

func (b *builder) dateOfBirth(n *engine.Node, r *engine.AgeAsOf) {
	if !b.p.DateOfBirth.IsZero() || !b.present(n) {
		return
	}
	on, ok := b.c.ResolveDate(n, r.Date)
	if !ok {
		on = b.plan.Dates().Index
	}
	b.p.DateOfBirth = on.AddDate(-b.age(n), 0, -b.rng.IntN(365))
}

func (b *builder) sex(n *engine.Node) {
	if b.p.Sex != "" || !b.present(n) {
		return
	}
	ratios := ratiosOf(n)
	if len(ratios) == 0 {
		ratios = defaultSexRatios
	}
	if s := label(b.rng, ratios); s != study.NullLabel {
		b.p.Sex = s
	}
}

// register adds an ongoing registration starting before from.
func (b *builder) register(from time.Time) *core.Registration {
	start := from.AddDate(-b.rng.IntN(maxRegistrationYears), 0, -b.rng.IntN(365))
	b.p.Registrations = append(b.p.Registrations, core.Registration{Start: start})
	return &b.p.Registrations[len(b.p.Registrations)-1]
}

// registrationOn returns the registration RegistrationOn would pick.
func (b *builder) registrationOn(on time.Time) *core.Registration {
	var best *core.Registration
	for i := range b.p.Registrations {
		r := &b.p.Registrations[i]
		if r.Covers(on) && (best == nil || r.Start.After(best.Start)) {
			best = r
		}
	}
	return best
}

func (b *builder) registeredAsOf(n *engine.Node, r *engine.RegisteredAsOf) {
	on, ok := b.c.ResolveDate(n, r.Date)
	if !ok || b.registrationOn(on) != nil || !b.present(n) {
		return
	}
	b.register(on)
}

func (b *builder) registeredBetween(n *engine.Node, r *engine.RegisteredBetween) {
	from, ok := b.c.ResolveDate(n, r.From)
	if !ok {
		return
	}
	to, ok := b.c.ResolveDate(n, r.To)
	if !ok {
		return
	}
	for _, reg := range b.p.Registrations {
		if reg.Covers(from) && reg.Covers(to) {
			return
		}
	}
	if b.present(n) {
		b.register(from)
	}
}

func (b *builder) practice(n *engine.Node, r *engine.PracticeAsOf) {
	on, ok := b.c.ResolveDate(n, r.Date)
	if !ok || !b.present(n) {
		return
	}
	reg := b.registrationOn(on)
	if reg == nil {
		reg = b.register(on)
	}

	var value string
	if ratios := ratiosOf(n); len(ratios) > 0 {
		if value = label(b.rng, ratios); value == study.NullLabel {
			return
		}
	}
	if r.Returning == study.ReturnRegionName {
		if reg.PracticeRegion == "" {
			if value == "" {
				value = pick(b.rng, defaultRegions)
			}
			reg.PracticeRegion = value
		}
		return
	}
	if reg.PracticeSTP == "" {
		if value == "" {
			value = "E540000" + strconv.Itoa(10+b.rng.IntN(40))
		}
		reg.PracticeSTP = value
	}
}

func (b *builder) address(n *engine.Node, r *engine.AddressAsOf) {
	on, ok := b.c.ResolveDate(n, r.Date)
	if !ok || !b.present(n) {
		return
	}
	var addr *core.Address
	for i := range b.p.Addresses {
		a := &b.p.Addresses[i]
		if a.Covers(on) && (addr == nil || a.Start.After(addr.Start)) {
			addr = a
		}
	}
	if addr == nil {
		start := on.AddDate(-b.rng.IntN(maxRegistrationYears), 0, -b.rng.IntN(365))
		b.p.Addresses = append(b.p.Addresses, core.Address{Start: start, IMD: -1})
		addr = &b.p.Addresses[len(b.p.Addresses)-1]
	}

	if r.Returning == study.ReturnRuralUrban {
		if addr.RuralUrban > 0 {
			return
		}
		if ratios := ratiosOf(n); len(ratios) > 0 {
			class, err := strconv.Atoi(label(b.rng, ratios))
			if err == nil && class > 0 {
				addr.RuralUrban = class
			}
			return
		}
		addr.RuralUrban = 1 + b.rng.IntN(ruralUrbanClasses)
		return
	}

	if addr.IMD >= 0 {
		return
	}
	e := n.Expectations
	switch {
	case e.Int != nil || e.Float != nil:
		addr.IMD = min(max(int(b.value(n)), 0), imdRanks)
	default:
		addr.IMD = 1 + b.rng.IntN(imdRanks)
	}
}

func (b *builder) died(n *engine.Node, r *engine.Died) {
	if b.p.Death != nil || !b.present(n) {
		return
	}
	lo, hi, ok := b.span(n, r.Window)
	if !ok {
		return
	}

	cause := unspecifiedDeath
	switch ratios := ratiosOf(n); {
	case r.Returning == study.ReturnUnderlyingCause && len(ratios) > 0:
		if cause = label(b.rng, ratios); cause == study.NullLabel {
			cause = ""
		}
	case r.Codes != nil && r.Codes.Len() > 0:
		cause = pick(b.rng, r.Codes.Entries()).Code
	}

	d := &core.Death{Date: b.date(n, lo, hi), UnderlyingCause: cause}
	if cause != "" {
		d.Causes = []string{cause}
	}
	b.p.Death = d
}

// deregistered ends every ongoing registration on a drawn date, adding a
// closed registration when there is none.
func (b *builder) deregistered(n *engine.Node, r *engine.Deregistered) {
	if !b.present(n) {
		return
	}
	lo, hi, ok := b.span(n, r.Window)
	if !ok {
		return
	}
	end := b.date(n, lo, hi)

	if len(b.p.Registrations) == 0 {
		reg := b.register(end)
		reg.End = end
		return
	}
	for i := range b.p.Registrations {
		reg := &b.p.Registrations[i]
		if reg.End.IsZero() {
			reg.End = end
			if reg.End.Before(reg.Start) {
				reg.End = reg.Start
			}
		}
	}
}
