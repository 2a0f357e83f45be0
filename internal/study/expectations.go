package study

// Merged returns e with every unset field taken from defaults. Either
// side may be nil.
func (e *Expectations) Merged(defaults *Expectations) Expectations {
	var out Expectations
	if defaults != nil {
		out = *defaults
	}
	if e == nil {
		return out
	}
	if e.Incidence != nil {
		out.Incidence = e.Incidence
	}
	if e.Rate != "" {
		out.Rate = e.Rate
	}
	if e.Date != nil {
		d := DateExpectation{}
		if out.Date != nil {
			d = *out.Date
		}
		if e.Date.Earliest != "" {
			d.Earliest = e.Date.Earliest
		}
		if e.Date.Latest != "" {
			d.Latest = e.Date.Latest
		}
		out.Date = &d
	}
	if e.Category != nil {
		out.Category = e.Category
	}
	if e.Int != nil {
		out.Int = e.Int
	}
	if e.Float != nil {
		out.Float = e.Float
	}
	return out
}

// IncidenceOr returns the incidence, or def when unset.
func (e Expectations) IncidenceOr(def float64) float64 {
	if e.Incidence == nil {
		return def
	}
	return *e.Incidence
}
