package testutil

import (
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// PatientBuilder assembles a patient record for tests.
type PatientBuilder struct {
	p core.Patient
}

// NewPatient starts a patient with the given id.
func NewPatient(id string) *PatientBuilder {
	return &PatientBuilder{p: core.Patient{ID: id}}
}

// Sex sets the recorded sex.
func (b *PatientBuilder) Sex(s string) *PatientBuilder {
	b.p.Sex = s
	return b
}

// Born sets the date of birth.
func (b *PatientBuilder) Born(date string) *PatientBuilder {
	b.p.DateOfBirth = core.MustDate(date)
	return b
}

// Died records a death with its underlying cause and any further causes.
func (b *PatientBuilder) Died(date, underlying string, causes ...string) *PatientBuilder {
	b.p.Death = &core.Death{
		Date:            core.MustDate(date),
		UnderlyingCause: underlying,
		Causes:          append([]string{underlying}, causes...),
	}
	return b
}

// Registered adds a registration. An empty end means ongoing.
func (b *PatientBuilder) Registered(start, end, stp, region string) *PatientBuilder {
	r := core.Registration{Start: core.MustDate(start), PracticeSTP: stp, PracticeRegion: region}
	if end != "" {
		r.End = core.MustDate(end)
	}
	b.p.Registrations = append(b.p.Registrations, r)
	return b
}

// LivedAt adds an address. An empty end means current.
func (b *PatientBuilder) LivedAt(start, end string, imd, ruralUrban int) *PatientBuilder {
	a := core.Address{Start: core.MustDate(start), IMD: imd, RuralUrban: ruralUrban}
	if end != "" {
		a.End = core.MustDate(end)
	}
	b.p.Addresses = append(b.p.Addresses, a)
	return b
}

// Event adds a coded event in the clinical domain.
func (b *PatientBuilder) Event(date string, system core.CodingSystem, code string) *PatientBuilder {
	return b.EventIn(core.DomainClinical, date, system, code)
}

// EventIn adds a coded event in a domain.
func (b *PatientBuilder) EventIn(domain core.Domain, date string, system core.CodingSystem, code string) *PatientBuilder {
	b.p.Events = append(b.p.Events, core.Event{
		PatientID: b.p.ID,
		Domain:    domain,
		Code:      code,
		System:    system,
		Date:      core.MustDate(date),
	})
	return b
}

// Measured adds a test result with its recorded value text.
func (b *PatientBuilder) Measured(date string, system core.CodingSystem, code, raw string, value float64) *PatientBuilder {
	v := value
	b.p.Events = append(b.p.Events, core.Event{
		PatientID:    b.p.ID,
		Domain:       core.DomainTest,
		Code:         code,
		System:       system,
		Date:         core.MustDate(date),
		NumericValue: &v,
		RawValue:     raw,
	})
	return b
}

// Tested adds a laboratory test result for pathogen.
func (b *PatientBuilder) Tested(date, pathogen string, result core.TestResult) *PatientBuilder {
	b.p.Events = append(b.p.Events, core.Event{
		PatientID: b.p.ID,
		Domain:    core.DomainTest,
		Date:      core.MustDate(date),
		Pathogen:  pathogen,
		Result:    result,
	})
	return b
}

// Treated adds a therapeutic given for indication to a patient in
// riskGroup.
func (b *PatientBuilder) Treated(date, product, indication, riskGroup string) *PatientBuilder {
	b.p.Events = append(b.p.Events, core.Event{
		PatientID:  b.p.ID,
		Domain:     core.DomainTherapeutic,
		Date:       core.MustDate(date),
		Product:    product,
		Indication: indication,
		RiskGroup:  riskGroup,
	})
	return b
}

// Vaccinated adds a vaccination record.
func (b *PatientBuilder) Vaccinated(date, disease, product string) *PatientBuilder {
	b.p.Events = append(b.p.Events, core.Event{
		PatientID:     b.p.ID,
		Domain:        core.DomainVaccination,
		Date:          core.MustDate(date),
		TargetDisease: disease,
		Product:       product,
	})
	return b
}

// Admission is one hospital stay for PatientBuilder.Admitted.
type Admission struct {
	Admitted   string
	Discharged string
	Method     string
	Class      string
	Primary    string   // ICD-10 primary diagnosis
	Secondary  []string // further ICD-10 diagnoses
	Procedures []string // OPCS-4 codes
}

// Admitted adds one event per diagnosis and procedure of an admission.
func (b *PatientBuilder) Admitted(a Admission) *PatientBuilder {
	base := core.Event{
		PatientID:       b.p.ID,
		Domain:          core.DomainAdmission,
		Date:            core.MustDate(a.Admitted),
		AdmissionMethod: a.Method,
		Classification:  a.Class,
	}
	if a.Discharged != "" {
		base.EndDate = core.MustDate(a.Discharged)
	}
	add := func(system core.CodingSystem, code string, primary bool) {
		e := base
		e.System = system
		e.Code = code
		e.Primary = primary
		b.p.Events = append(b.p.Events, e)
	}
	if a.Primary != "" {
		add(core.SystemICD10, a.Primary, true)
	}
	for _, code := range a.Secondary {
		add(core.SystemICD10, code, false)
	}
	for _, code := range a.Procedures {
		add(core.SystemOPCS4, code, false)
	}
	return b
}

// Build returns the patient with its events sorted by date.
func (b *PatientBuilder) Build() *core.Patient {
	p := b.p
	p.Events = append([]core.Event(nil), b.p.Events...)
	core.SortEvents(p.Events)
	return &p
}
