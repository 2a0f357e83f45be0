package study

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// PopulationName is reserved for the population filter.
const PopulationName = "population"

// ratioTolerance is how far category ratios may sum from 1.
const ratioTolerance = 0.001

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the definition's structure: unique names, one
// combinator per variable, accepted returning values, well-formed windows
// and expectations. Name resolution across variables happens when the
// definition is compiled.
func (d *Definition) Validate() error {
	var errs []error

	codelists := make(map[string]bool)
	for i := range d.Codelists {
		cl := &d.Codelists[i]
		if err := cl.validate(codelists); err != nil {
			errs = append(errs, err)
		}
		codelists[cl.Name] = true
	}

	if d.DefaultExpectations != nil {
		if err := d.DefaultExpectations.validate(); err != nil {
			errs = append(errs, fmt.Errorf("default_expectations: %w", err))
		}
	}

	if len(d.Variables) == 0 {
		errs = append(errs, errors.New("no variables declared"))
	}

	seen := make(map[string]bool)
	for i := range d.Variables {
		v := &d.Variables[i]
		if v.Name == PopulationName {
			errs = append(errs, core.Definitionf(v.Name, "name is reserved for the population filter"))
		}
		if temporal.IsAnchor(v.Name) {
			errs = append(errs, core.Definitionf(v.Name, "name is reserved for a study date"))
		}
		if seen[v.Name] {
			errs = append(errs, core.Definitionf(v.Name, "declared more than once"))
		}
		seen[v.Name] = true
		errs = append(errs, v.validate(codelists, true)...)
	}

	// include_date_of_match adds a <name>_date column that must not clash
	for i := range d.Variables {
		v := &d.Variables[i]
		if v.IncludesDateOfMatch() && seen[v.Name+"_date"] {
			errs = append(errs, core.Definitionf(v.Name, "include_date_of_match would add %s_date, which is already declared", v.Name))
		}
	}

	if d.Population == nil || d.Population.Satisfying == "" {
		errs = append(errs, errors.New("population: satisfying expression is required"))
	} else {
		localSeen := make(map[string]bool)
		for i := range d.Population.Locals {
			l := &d.Population.Locals[i]
			if localSeen[l.Name] {
				errs = append(errs, core.Definitionf(PopulationName+"."+l.Name, "declared more than once"))
			}
			localSeen[l.Name] = true
			errs = append(errs, l.validate(codelists, false)...)
		}
	}

	return errors.Join(errs...)
}

// IncludesDateOfMatch reports whether the variable adds a <name>_date
// sibling column.
func (v *VariableSpec) IncludesDateOfMatch() bool {
	switch {
	case v.CodeMatch != nil:
		return v.CodeMatch.IncludeDateOfMatch
	case v.AdmissionMatch != nil:
		return v.AdmissionMatch.IncludeDateOfMatch
	case v.TestResult != nil:
		return v.TestResult.IncludeDateOfMatch
	case v.Therapeutic != nil:
		return v.Therapeutic.IncludeDateOfMatch
	case v.Vaccination != nil:
		return v.Vaccination.IncludeDateOfMatch
	}
	return false
}

func (v *VariableSpec) validate(codelists map[string]bool, global bool) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, core.Definitionf(v.Name, format, args...))
	}

	if !namePattern.MatchString(v.Name) {
		fail("invalid name: use letters, digits and underscores, not starting with a digit")
	}

	comb, err := v.Combinator()
	if err != nil {
		return append(errs, err)
	}
	if _, _, err := Resolve(v.Name, comb, v.Returning); err != nil {
		errs = append(errs, err)
	}

	needList := func(field, name string, required bool) {
		if name == "" {
			if required {
				fail("%s.%s is required", comb, field)
			}
			return
		}
		if !codelists[name] {
			fail("%s.%s: unknown codelist %q", comb, field, name)
		}
	}
	needDate := func(field, expr string) {
		if expr == "" {
			fail("%s: %s date is required", comb, field)
			return
		}
		if _, err := temporal.ParseDateExpr(expr); err != nil {
			fail("%s: %v", comb, err)
		}
	}

	switch comb {
	case CombCodeMatch:
		needList("codelist", v.CodeMatch.Codelist, true)
		if v.CodeMatch.Source != "" {
			d, err := core.ParseDomain(v.CodeMatch.Source)
			if err != nil {
				fail("code_match.source: %v", err)
			} else if d == core.DomainAdmission {
				fail("code_match.source: use admission_match for hospital admissions")
			}
		}
		if err := validateFind(v.CodeMatch.Find); err != nil {
			fail("code_match.find: %v", err)
		}
		if v.CodeMatch.IncludeDateOfMatch && !global {
			fail("include_date_of_match is only allowed on top-level variables")
		}
	case CombAdmissionMatch:
		a := v.AdmissionMatch
		needList("diagnoses", a.Diagnoses, false)
		needList("primary_diagnoses", a.PrimaryDiagnoses, false)
		needList("procedures", a.Procedures, false)
		if err := validateFind(a.Find); err != nil {
			fail("admission_match.find: %v", err)
		}
		if a.IncludeDateOfMatch && !global {
			fail("include_date_of_match is only allowed on top-level variables")
		}
	case CombTestResult:
		t := v.TestResult
		if t.Pathogen == "" {
			fail("test_result.pathogen is required")
		}
		switch core.TestResult(t.Result) {
		case "", AnyResult, core.TestPositive, core.TestNegative:
		default:
			fail("test_result.result: %q is not positive, negative or any", t.Result)
		}
		if err := validateFind(t.Find); err != nil {
			fail("test_result.find: %v", err)
		}
	case CombTherapeutic:
		if err := validateFind(v.Therapeutic.Find); err != nil {
			fail("therapeutic.find: %v", err)
		}
	case CombVaccination:
		if v.Vaccination.TargetDisease == "" && v.Vaccination.ProductName == "" {
			fail("vaccination needs target_disease or product_name")
		}
		if err := validateFind(v.Vaccination.Find); err != nil {
			fail("vaccination.find: %v", err)
		}
	case CombSatisfying:
		if v.Expression() == "" {
			fail("satisfying expression is empty")
		}
	case CombCategorisedAs:
		errs = append(errs, v.validateCategories()...)
	case CombComparatorFrom:
		if *v.ComparatorFrom == "" {
			fail("comparator_from needs a source variable")
		}
	case CombMinOf, CombMaxOf:
		refs := v.MinOf
		if comb == CombMaxOf {
			refs = v.MaxOf
		}
		if len(refs) == 0 {
			fail("%s needs at least one variable", comb)
		}
	case CombAgeAsOf:
		needDate("age_as_of", *v.AgeAsOf)
	case CombRegisteredAsOf:
		needDate("registered_as_of", *v.RegisteredAsOf)
	case CombRegisteredBetween:
		if len(v.RegisteredBetween) != 2 {
			fail("registered_between needs exactly two dates")
		} else {
			needDate("registered_between", v.RegisteredBetween[0])
			needDate("registered_between", v.RegisteredBetween[1])
		}
	case CombPracticeAsOf:
		needDate("practice_as_of", *v.PracticeAsOf)
	case CombAddressAsOf:
		needDate("address_as_of", v.AddressAsOf.Date)
		if v.AddressAsOf.RoundToNearest < 0 {
			fail("address_as_of.round_to_nearest must not be negative")
		}
	case CombDied:
		needList("codes", v.Died.Codes, false)
		if v.Died.UnderlyingOnly && v.Died.Codes == "" {
			fail("died.underlying_only needs codes")
		}
	}

	if !global && (comb == CombTestResult || comb == CombTherapeutic || comb == CombVaccination) && v.IncludesDateOfMatch() {
		fail("include_date_of_match is only allowed on top-level variables")
	}
	if v.DateFormat != "" {
		if _, err := core.ParseDateFormat(v.DateFormat); err != nil {
			fail("%v", err)
		} else if kind, _, err := Resolve(v.Name, comb, v.Returning); err == nil && kind != core.KindDate && !v.IncludesDateOfMatch() {
			fail("date_format needs a date variable or include_date_of_match")
		}
	}

	if w := v.Window(); w != nil {
		if err := w.validate(); err != nil {
			fail("%s: %v", comb, err)
		}
		for _, expr := range append(append([]string{}, w.Between...), w.OnOrBefore, w.OnOrAfter) {
			if expr == "" {
				continue
			}
			if _, err := temporal.ParseDateExpr(expr); err != nil {
				fail("%s: %v", comb, err)
			}
		}
	}

	if len(v.Locals) > 0 && comb != CombSatisfying && comb != CombCategorisedAs {
		fail("locals are only allowed on satisfying and categorised_as")
	}
	localSeen := make(map[string]bool)
	for i := range v.Locals {
		l := &v.Locals[i]
		if localSeen[l.Name] {
			fail("local %q declared more than once", l.Name)
		}
		localSeen[l.Name] = true
		if len(l.Locals) > 0 {
			fail("local %q: locals cannot declare their own locals", l.Name)
		}
		for _, err := range l.validate(codelists, false) {
			errs = append(errs, fmt.Errorf("variable %q: local: %w", v.Name, err))
		}
	}

	if v.Expectations != nil {
		if err := v.Expectations.validate(); err != nil {
			fail("expectations: %v", err)
		}
	}
	return errs
}

func validateFind(find string) error {
	switch find {
	case "", "first", "last":
		return nil
	}
	return fmt.Errorf("%q is not first or last", find)
}

func (v *VariableSpec) validateCategories() []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, core.Definitionf(v.Name, format, args...))
	}

	c := v.CategorisedAs
	defaults := 0
	if c.Default != "" {
		defaults++
	}
	labels := make(map[string]bool)
	for _, r := range c.Categories {
		if r.When == "" {
			fail("category %q has no condition", r.Label)
		}
		if r.When == DefaultCondition {
			defaults++
		}
		if labels[r.Label] {
			fail("category %q declared more than once", r.Label)
		}
		labels[r.Label] = true
	}
	switch {
	case defaults == 0:
		fail("categorised_as needs a default: a category with when: DEFAULT or the default field")
	case defaults > 1:
		fail("categorised_as has %d defaults; exactly one is allowed", defaults)
	}
	if len(c.Categories) == 0 {
		fail("categorised_as needs at least one category")
	}
	return errs
}

func (e *Expectations) validate() error {
	if e.Incidence != nil && (*e.Incidence < 0 || *e.Incidence > 1) {
		return fmt.Errorf("incidence %v is outside [0, 1]", *e.Incidence)
	}
	switch e.Rate {
	case "", RateUniform, RateUniversal, RateExponentialIncrease:
	default:
		return fmt.Errorf("unknown rate %q", e.Rate)
	}
	if e.Date != nil {
		for _, s := range []string{e.Date.Earliest, e.Date.Latest} {
			if s == "" {
				continue
			}
			if _, err := temporal.ParseDateExpr(s); err != nil {
				return fmt.Errorf("date: %w", err)
			}
		}
	}
	if e.Category != nil {
		sum := 0.0
		for label, r := range e.Category.Ratios {
			if r < 0 {
				return fmt.Errorf("category ratio for %q is negative", label)
			}
			sum += r
		}
		if math.Abs(sum-1) > ratioTolerance {
			return fmt.Errorf("category ratios sum to %.4f, not 1", sum)
		}
	}
	for name, dist := range map[string]*Distribution{"int": e.Int, "float": e.Float} {
		if dist == nil {
			continue
		}
		switch dist.Distribution {
		case DistNormal:
			if dist.Stddev < 0 {
				return fmt.Errorf("%s: stddev must not be negative", name)
			}
		case DistPopulationAges:
		default:
			return fmt.Errorf("%s: unknown distribution %q", name, dist.Distribution)
		}
	}
	return nil
}

func (cl *CodelistSpec) validate(earlier map[string]bool) error {
	fail := func(format string, args ...any) error {
		return &core.LoadError{Source: "codelist " + cl.Name, Err: fmt.Errorf(format, args...)}
	}
	if cl.Name == "" {
		return fail("name is required")
	}
	if earlier[cl.Name] {
		return fail("declared more than once")
	}

	sources := 0
	for _, set := range []bool{cl.File != "", cl.Codes != nil, cl.Combine != nil, cl.Filter != nil} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return fail("set exactly one of file, codes, combine and filter")
	}

	switch {
	case cl.File != "" || cl.Codes != nil:
		if _, err := core.ParseCodingSystem(cl.System); err != nil {
			return fail("%v", err)
		}
		if cl.File != "" && cl.Column == "" {
			return fail("column is required for a file codelist")
		}
		if cl.Codes != nil && len(cl.Codes) == 0 {
			return fail("codes is empty")
		}
	case cl.Combine != nil:
		if len(cl.Combine) == 0 {
			return fail("combine needs at least one codelist")
		}
		for _, name := range cl.Combine {
			if !earlier[name] {
				return fail("combine: unknown codelist %q (codelists must be declared before use)", name)
			}
		}
	case cl.Filter != nil:
		if !earlier[cl.Filter.Codelist] {
			return fail("filter: unknown codelist %q (codelists must be declared before use)", cl.Filter.Codelist)
		}
		if len(cl.Filter.Categories) == 0 {
			return fail("filter: categories is empty")
		}
	}
	return nil
}
