package study

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Combinator names a variable's rule type.
type Combinator string

// Combinators.
const (
	CombCodeMatch         Combinator = "code_match"
	CombAdmissionMatch    Combinator = "admission_match"
	CombTestResult        Combinator = "test_result"
	CombTherapeutic       Combinator = "therapeutic"
	CombVaccination       Combinator = "vaccination"
	CombSatisfying        Combinator = "satisfying"
	CombCategorisedAs     Combinator = "categorised_as"
	CombComparatorFrom    Combinator = "comparator_from"
	CombMinOf             Combinator = "min_of"
	CombMaxOf             Combinator = "max_of"
	CombAgeAsOf           Combinator = "age_as_of"
	CombSex               Combinator = "sex"
	CombRegisteredAsOf    Combinator = "registered_as_of"
	CombRegisteredBetween Combinator = "registered_between"
	CombPracticeAsOf      Combinator = "practice_as_of"
	CombAddressAsOf       Combinator = "address_as_of"
	CombDied              Combinator = "died"
	CombDeregistered      Combinator = "deregistered"
)

// Returning values.
const (
	ReturnBinaryFlag       = "binary_flag"
	ReturnDate             = "date"
	ReturnCategory         = "category"
	ReturnNumericValue     = "numeric_value"
	ReturnCount            = "number_of_matches_in_period"
	ReturnCode             = "code"
	ReturnDateAdmitted     = "date_admitted"
	ReturnDateDischarged   = "date_discharged"
	ReturnPrimaryDiagnosis = "primary_diagnosis"
	ReturnDateOfDeath      = "date_of_death"
	ReturnUnderlyingCause  = "underlying_cause_of_death"
	ReturnSTPCode          = "stp_code"
	ReturnRegionName       = "nuts1_region_name"
	ReturnIMD              = "index_of_multiple_deprivation"
	ReturnRuralUrban       = "rural_urban_classification"
	ReturnAge              = "age"
	ReturnSex              = "sex"
	ReturnDateDeregistered = "date_deregistered"
	ReturnRiskGroup        = "risk_group"
	ReturnTherapeutic      = "therapeutic"
	ReturnIndication       = "indication"
	ReturnProductName      = "product_name"
)

// returnings lists, per combinator, the accepted returning values. The
// first entry is the default.
var returnings = map[Combinator][]struct {
	name string
	kind core.Kind
}{
	CombCodeMatch: {
		{ReturnBinaryFlag, core.KindBinary},
		{ReturnDate, core.KindDate},
		{ReturnCategory, core.KindCategory},
		{ReturnCode, core.KindCategory},
		{ReturnNumericValue, core.KindNumeric},
		{ReturnCount, core.KindCount},
	},
	CombAdmissionMatch: {
		{ReturnBinaryFlag, core.KindBinary},
		{ReturnDateAdmitted, core.KindDate},
		{ReturnDateDischarged, core.KindDate},
		{ReturnPrimaryDiagnosis, core.KindCategory},
		{ReturnCount, core.KindCount},
	},
	CombTestResult: {
		{ReturnBinaryFlag, core.KindBinary},
		{ReturnDate, core.KindDate},
		{ReturnCount, core.KindCount},
	},
	CombTherapeutic: {
		{ReturnBinaryFlag, core.KindBinary},
		{ReturnDate, core.KindDate},
		{ReturnRiskGroup, core.KindCategory},
		{ReturnTherapeutic, core.KindCategory},
		{ReturnIndication, core.KindCategory},
		{ReturnCount, core.KindCount},
	},
	CombVaccination: {
		{ReturnBinaryFlag, core.KindBinary},
		{ReturnDate, core.KindDate},
		{ReturnProductName, core.KindCategory},
		{ReturnCount, core.KindCount},
	},
	CombSatisfying:        {{ReturnBinaryFlag, core.KindBinary}},
	CombCategorisedAs:     {{ReturnCategory, core.KindCategory}},
	CombComparatorFrom:    {{ReturnCategory, core.KindCategory}},
	CombMinOf:             {{ReturnDate, core.KindDate}},
	CombMaxOf:             {{ReturnDate, core.KindDate}},
	CombAgeAsOf:           {{ReturnAge, core.KindNumeric}},
	CombSex:               {{ReturnSex, core.KindCategory}},
	CombRegisteredAsOf:    {{ReturnBinaryFlag, core.KindBinary}},
	CombRegisteredBetween: {{ReturnBinaryFlag, core.KindBinary}},
	CombPracticeAsOf: {
		{ReturnSTPCode, core.KindCategory},
		{ReturnRegionName, core.KindCategory},
	},
	CombAddressAsOf: {
		{ReturnIMD, core.KindNumeric},
		{ReturnRuralUrban, core.KindCategory},
	},
	CombDied: {
		{ReturnBinaryFlag, core.KindBinary},
		{ReturnDateOfDeath, core.KindDate},
		{ReturnUnderlyingCause, core.KindCategory},
	},
	CombDeregistered: {
		{ReturnDateDeregistered, core.KindDate},
		{ReturnBinaryFlag, core.KindBinary},
	},
}

// Combinator returns the variable's single combinator. It fails when no
// combinator block, or more than one, is set.
func (v *VariableSpec) Combinator() (Combinator, error) {
	var set []Combinator
	add := func(ok bool, c Combinator) {
		if ok {
			set = append(set, c)
		}
	}
	add(v.CodeMatch != nil, CombCodeMatch)
	add(v.AdmissionMatch != nil, CombAdmissionMatch)
	add(v.TestResult != nil, CombTestResult)
	add(v.Therapeutic != nil, CombTherapeutic)
	add(v.Vaccination != nil, CombVaccination)
	add(v.Satisfying != nil || v.BooleanExpr != nil, CombSatisfying)
	add(v.CategorisedAs != nil, CombCategorisedAs)
	add(v.ComparatorFrom != nil, CombComparatorFrom)
	add(v.MinOf != nil, CombMinOf)
	add(v.MaxOf != nil, CombMaxOf)
	add(v.AgeAsOf != nil, CombAgeAsOf)
	add(v.Sex != nil, CombSex)
	add(v.RegisteredAsOf != nil, CombRegisteredAsOf)
	add(v.RegisteredBetween != nil, CombRegisteredBetween)
	add(v.PracticeAsOf != nil, CombPracticeAsOf)
	add(v.AddressAsOf != nil, CombAddressAsOf)
	add(v.Died != nil, CombDied)
	add(v.Deregistered != nil, CombDeregistered)

	if v.Satisfying != nil && v.BooleanExpr != nil {
		return "", core.Definitionf(v.Name, "satisfying and boolean_expr are the same combinator; set only one")
	}
	switch len(set) {
	case 0:
		return "", core.Definitionf(v.Name, "no combinator set")
	case 1:
		return set[0], nil
	default:
		names := make([]string, len(set))
		for i, c := range set {
			names[i] = string(c)
		}
		return "", core.Definitionf(v.Name, "more than one combinator set: %s", strings.Join(names, ", "))
	}
}

// Expression returns the satisfying expression, whichever spelling was used.
func (v *VariableSpec) Expression() string {
	if v.Satisfying != nil {
		return *v.Satisfying
	}
	if v.BooleanExpr != nil {
		return *v.BooleanExpr
	}
	return ""
}

// Resolve returns the variable's kind and its returning value with the
// default filled in.
func Resolve(name string, c Combinator, returning string) (core.Kind, string, error) {
	options, ok := returnings[c]
	if !ok {
		return 0, "", core.Definitionf(name, "unknown combinator %q", c)
	}
	if returning == "" {
		return options[0].kind, options[0].name, nil
	}
	var accepted []string
	for _, o := range options {
		if o.name == returning {
			return o.kind, o.name, nil
		}
		accepted = append(accepted, o.name)
	}
	return 0, "", core.Definitionf(name, "%s cannot return %q (accepted: %s)", c, returning, strings.Join(accepted, ", "))
}

// Window returns the window block of the combinators that have one.
func (v *VariableSpec) Window() *WindowSpec {
	switch {
	case v.CodeMatch != nil:
		return &v.CodeMatch.WindowSpec
	case v.AdmissionMatch != nil:
		return &v.AdmissionMatch.WindowSpec
	case v.TestResult != nil:
		return &v.TestResult.WindowSpec
	case v.Therapeutic != nil:
		return &v.Therapeutic.WindowSpec
	case v.Vaccination != nil:
		return &v.Vaccination.WindowSpec
	case v.Died != nil:
		return &v.Died.WindowSpec
	case v.Deregistered != nil:
		return v.Deregistered
	}
	return nil
}

// IsZero reports whether no bound is set.
func (w *WindowSpec) IsZero() bool {
	return w == nil || (len(w.Between) == 0 && w.OnOrBefore == "" && w.OnOrAfter == "")
}

func (w *WindowSpec) validate() error {
	n := 0
	if len(w.Between) > 0 {
		n++
		if len(w.Between) != 2 {
			return fmt.Errorf("between needs exactly two dates, got %d", len(w.Between))
		}
	}
	if w.OnOrBefore != "" {
		n++
	}
	if w.OnOrAfter != "" {
		n++
	}
	if n > 1 {
		return fmt.Errorf("set only one of between, on_or_before and on_or_after")
	}
	return nil
}
