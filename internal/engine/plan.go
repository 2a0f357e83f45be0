package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapcohort/internal/codelist"
	"github.com/leapstack-labs/leapcohort/internal/dag"
	"github.com/leapstack-labs/leapcohort/internal/expr"
	"github.com/leapstack-labs/leapcohort/internal/study"
	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// PopulationID is the node ID of the population filter.
const PopulationID = study.PopulationName

// CombDateOfMatch is the combinator of an include_date_of_match sibling.
const CombDateOfMatch study.Combinator = "date_of_match"

// Node is one compiled variable: a global, an inline local, a
// date-of-match sibling or the population filter.
type Node struct {
	// ID is unique within the plan: "name" for globals, "parent.name"
	// for locals.
	ID     string
	Name   string
	Parent string // owning variable for locals, "" otherwise
	Kind   core.Kind
	// Returning is the resolved returning option, default filled in.
	Returning  string
	Combinator study.Combinator
	// Output is true for the columns of the output table.
	Output bool
	// Spec is the declaration, nil for date-of-match siblings and the
	// population filter.
	Spec *study.VariableSpec
	// Expectations are the node's own expectations merged over the
	// study defaults.
	Expectations study.Expectations
	// Rule evaluates the node. Type switch on it to inspect the
	// combinator's compiled options.
	Rule Rule
	// Deps are the IDs of the nodes this one reads.
	Deps []string
	// Layout is the time layout dates of this node are written with.
	Layout string

	slot  int
	scope map[string]string // visible name -> node ID
}

// Resolve returns the ID of the node that name refers to from n. Study
// anchors are not nodes and are not resolved.
func (n *Node) Resolve(name string) (string, bool) {
	id, ok := n.scope[name]
	return id, ok
}

// Plan is a compiled study: every node in evaluation order plus the
// registry and dates it was compiled against. A plan is immutable and
// shared by all workers.
type Plan struct {
	nodes    []*Node
	byID     map[string]*Node
	columns  []*Node
	graph    *dag.Graph[*Node]
	registry *codelist.Registry
	dates    study.Dates
}

// Nodes returns the nodes in evaluation order.
func (p *Plan) Nodes() []*Node {
	return p.nodes
}

// Node returns a node by ID.
func (p *Plan) Node(id string) (*Node, bool) {
	n, ok := p.byID[id]
	return n, ok
}

// Columns returns the output columns after patient_id, in declaration order.
func (p *Plan) Columns() []string {
	out := make([]string, len(p.columns))
	for i, n := range p.columns {
		out[i] = n.ID
	}
	return out
}

// Graph returns the dependency graph. Edges run from a dependency to
// the node that reads it.
func (p *Plan) Graph() *dag.Graph[*Node] {
	return p.graph
}

// Registry returns the codelists the plan was compiled against.
func (p *Plan) Registry() *codelist.Registry {
	return p.registry
}

// Dates returns the study dates, index date applied.
func (p *Plan) Dates() study.Dates {
	return p.dates
}

// compiler holds state while a definition is turned into a Plan.
type compiler struct {
	def      *study.Definition
	registry *codelist.Registry
	dates    study.Dates
	logger   *slog.Logger

	nodes  []*Node
	byID   map[string]*Node
	global map[string]string
	errs   []error
}

// Compile turns a validated definition into an evaluation plan. Every
// reference is resolved against its scope, operand kinds are checked and
// the dependency graph is sorted. Unresolved references are reported
// together; a cycle is reported as *core.CycleError.
func Compile(def *study.Definition, registry *codelist.Registry, dates study.Dates, logger *slog.Logger) (*Plan, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dates, err := dates.WithIndex(def.IndexDate)
	if err != nil {
		return nil, &core.LoadError{Source: "study definition", Err: err}
	}

	c := &compiler{
		def:      def,
		registry: registry,
		dates:    dates,
		logger:   logger,
		byID:     make(map[string]*Node),
		global:   make(map[string]string),
	}
	c.declare()
	if err := errors.Join(c.errs...); err != nil {
		return nil, err
	}

	// Scopes first: a node may read names declared after it.
	for _, n := range c.nodes {
		c.resolve(n)
	}
	if err := errors.Join(c.errs...); err != nil {
		return nil, err
	}
	for _, n := range c.nodes {
		c.build(n)
	}
	if err := errors.Join(c.errs...); err != nil {
		return nil, err
	}

	g := dag.New[*Node]()
	for _, n := range c.nodes {
		g.Add(n.ID, n)
	}
	for _, n := range c.nodes {
		for _, dep := range n.Deps {
			if err := g.Connect(dep, n.ID); err != nil {
				return nil, err
			}
		}
	}
	sorted, err := g.Sorted()
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		byID:     c.byID,
		graph:    g,
		registry: registry,
		dates:    dates,
	}
	for i, n := range sorted {
		n.slot = i
		plan.nodes = append(plan.nodes, n)
	}
	// Declaration order, not evaluation order, for the output columns.
	for _, n := range c.nodes {
		if n.Output {
			plan.columns = append(plan.columns, n)
		}
	}

	logger.Debug("study compiled", "nodes", len(plan.nodes), "columns", len(plan.columns), "edges", g.EdgeCount())
	return plan, nil
}

func (c *compiler) fail(err error) {
	c.errs = append(c.errs, err)
}

// declare creates every node and the scopes they resolve names in.
func (c *compiler) declare() {
	for i := range c.def.Variables {
		spec := &c.def.Variables[i]
		n := c.newNode(spec, "", true)
		if n == nil {
			continue
		}
		c.global[n.Name] = n.ID

		if spec.IncludesDateOfMatch() {
			sibling := &Node{
				ID:         n.ID + "_date",
				Name:       n.Name + "_date",
				Kind:       core.KindDate,
				Returning:  study.ReturnDate,
				Output:     true,
				Deps:       []string{n.ID},
				Rule:       &DateOfMatch{Source: n.ID},
				Combinator: CombDateOfMatch,
				Layout:     n.Layout,
			}
			c.add(sibling)
			c.global[sibling.Name] = sibling.ID
		}
	}

	for i := range c.def.Variables {
		spec := &c.def.Variables[i]
		c.declareLocals(spec.Name, spec.Locals)
	}

	if c.def.Population != nil {
		pop := &Node{
			ID:         PopulationID,
			Name:       PopulationID,
			Kind:       core.KindBinary,
			Returning:  study.ReturnBinaryFlag,
			Combinator: study.CombSatisfying,
			Spec: &study.VariableSpec{
				Name:       PopulationID,
				Satisfying: &c.def.Population.Satisfying,
				Locals:     c.def.Population.Locals,
			},
		}
		c.add(pop)
		c.declareLocals(PopulationID, c.def.Population.Locals)
	}
}

func (c *compiler) declareLocals(parent string, locals []study.VariableSpec) {
	for i := range locals {
		c.newNode(&locals[i], parent, false)
	}
}

func (c *compiler) newNode(spec *study.VariableSpec, parent string, output bool) *Node {
	comb, err := spec.Combinator()
	if err != nil {
		c.fail(err)
		return nil
	}
	kind, returning, err := study.Resolve(spec.Name, comb, spec.Returning)
	if err != nil {
		c.fail(err)
		return nil
	}
	id := spec.Name
	if parent != "" {
		id = parent + "." + spec.Name
	}
	layout, err := core.ParseDateFormat(spec.DateFormat)
	if err != nil {
		c.fail(core.Definitionf(id, "%v", err))
	}
	n := &Node{
		ID:           id,
		Name:         spec.Name,
		Parent:       parent,
		Kind:         kind,
		Returning:    returning,
		Combinator:   comb,
		Output:       output,
		Spec:         spec,
		Expectations: spec.Expectations.Merged(c.def.DefaultExpectations),
		Layout:       layout,
	}
	c.add(n)
	return n
}

func (c *compiler) add(n *Node) {
	if _, exists := c.byID[n.ID]; exists {
		c.fail(core.Definitionf(n.ID, "declared more than once"))
		return
	}
	c.byID[n.ID] = n
	c.nodes = append(c.nodes, n)
}

// resolve builds the node's scope. A global sees the other globals. A
// local sees the locals declared before it, then the globals. A parent
// with locals sees all of its own locals, then the globals.
func (c *compiler) resolve(n *Node) {
	if n.Spec == nil {
		return
	}
	n.scope = make(map[string]string, len(c.global))
	for name, id := range c.global {
		n.scope[name] = id
	}

	var locals []study.VariableSpec
	switch {
	case n.Parent != "":
		locals = c.localsOf(n.Parent)
		for _, l := range locals {
			if l.Name == n.Name {
				break
			}
			n.scope[l.Name] = n.Parent + "." + l.Name
		}
	default:
		locals = n.Spec.Locals
		for _, l := range locals {
			n.scope[l.Name] = n.ID + "." + l.Name
		}
		// The parent is evaluated after all of its locals.
		for _, l := range locals {
			n.Deps = appendUnique(n.Deps, n.ID+"."+l.Name)
		}
	}
}

func (c *compiler) localsOf(parent string) []study.VariableSpec {
	if parent == PopulationID {
		return c.def.Population.Locals
	}
	for i := range c.def.Variables {
		if c.def.Variables[i].Name == parent {
			return c.def.Variables[i].Locals
		}
	}
	return nil
}

// lookup resolves a name used by n to a node, or reports it.
func (c *compiler) lookup(n *Node, name string) (*Node, bool) {
	if id, ok := n.scope[name]; ok {
		dep := c.byID[id]
		if dep.ID == n.ID {
			c.fail(&core.CycleError{Cycle: []string{n.ID, n.ID}})
			return nil, false
		}
		n.Deps = appendUnique(n.Deps, dep.ID)
		return dep, true
	}
	if temporal.IsAnchor(name) {
		return nil, true
	}
	c.fail(&core.UnresolvedReferenceError{Variable: n.ID, Reference: name})
	return nil, false
}

// kindOf is the expr.KindOf for n's scope. Anchors are dates.
func (c *compiler) kindOf(n *Node) expr.KindOf {
	return func(name string) (core.Kind, bool) {
		if id, ok := n.scope[name]; ok {
			return c.byID[id].Kind, true
		}
		if temporal.IsAnchor(name) {
			return core.KindDate, true
		}
		return 0, false
	}
}

// dateExpr parses a date expression and resolves its reference, which
// must be an anchor or a date variable.
func (c *compiler) dateExpr(n *Node, s string) temporal.DateExpr {
	e, err := temporal.ParseDateExpr(s)
	if err != nil {
		c.fail(core.Definitionf(n.ID, "%v", err))
		return e
	}
	c.dateRef(n, e.Reference())
	return e
}

func (c *compiler) dateRef(n *Node, name string) {
	if name == "" {
		return
	}
	dep, ok := c.lookup(n, name)
	if ok && dep != nil && dep.Kind != core.KindDate {
		c.fail(core.Definitionf(n.ID, "%q is used as a date but is a %s", name, dep.Kind))
	}
}

func (c *compiler) window(n *Node, w *study.WindowSpec) temporal.Window {
	switch {
	case w.IsZero():
		return temporal.Window{}
	case len(w.Between) == 2:
		return temporal.Between(c.dateExpr(n, w.Between[0]), c.dateExpr(n, w.Between[1]))
	case w.OnOrBefore != "":
		return temporal.OnOrBefore(c.dateExpr(n, w.OnOrBefore))
	default:
		return temporal.OnOrAfter(c.dateExpr(n, w.OnOrAfter))
	}
}

func (c *compiler) codelist(n *Node, name string) *codelist.Codelist {
	if name == "" {
		return nil
	}
	list, ok := c.registry.Get(name)
	if !ok {
		c.fail(core.Definitionf(n.ID, "unknown codelist %q", name))
	}
	return list
}

func (c *compiler) expression(n *Node, src string) *expr.Expr {
	e, err := expr.Parse(src)
	if err != nil {
		c.fail(fmt.Errorf("variable %q: %w", n.ID, err))
		return nil
	}
	resolved := true
	for _, ref := range e.References() {
		if _, ok := c.lookup(n, ref); !ok {
			resolved = false
		}
	}
	if resolved {
		if err := e.Check(c.kindOf(n)); err != nil {
			c.fail(fmt.Errorf("variable %q: %w", n.ID, err))
		}
	}
	return e
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// build compiles the node's combinator into its Rule.
func (c *compiler) build(n *Node) {
	if n.Spec == nil {
		return
	}
	spec := n.Spec
	c.logger.Debug("compiling variable", "variable", n.ID, "combinator", n.Combinator, "returning", n.Returning)

	switch n.Combinator {
	case study.CombCodeMatch:
		cm := spec.CodeMatch
		list := c.codelist(n, cm.Codelist)
		domain := core.DomainClinical
		if cm.Source != "" {
			d, err := core.ParseDomain(cm.Source)
			if err != nil {
				c.fail(core.Definitionf(n.ID, "%v", err))
			}
			domain = d
		}
		if list != nil && n.Returning == study.ReturnCategory && !list.HasCategories() {
			c.fail(core.Definitionf(n.ID, "returning category needs a codelist with a category column; %q has none", cm.Codelist))
		}
		n.Rule = &CodeMatch{
			List:      list,
			Domain:    domain,
			Window:    c.window(n, &cm.WindowSpec),
			Find:      findOf(cm.Find),
			Returning: n.Returning,
		}

	case study.CombAdmissionMatch:
		am := spec.AdmissionMatch
		n.Rule = &AdmissionMatch{
			Diagnoses:        c.codelist(n, am.Diagnoses),
			PrimaryDiagnoses: c.codelist(n, am.PrimaryDiagnoses),
			Procedures:       c.codelist(n, am.Procedures),
			Methods:          am.AdmissionMethods,
			Classifications:  am.PatientClassifications,
			Window:           c.window(n, &am.WindowSpec),
			Find:             findOf(am.Find),
			Returning:        n.Returning,
		}

	case study.CombTestResult:
		t := spec.TestResult
		rule := &RecordMatch{
			Domain:           core.DomainTest,
			Pathogen:         t.Pathogen,
			EarliestSpecimen: t.EarliestSpecimenOnly(),
			Window:           c.window(n, &t.WindowSpec),
			Find:             findOf(t.Find),
			Returning:        n.Returning,
		}
		if r := core.TestResult(t.Result); r != study.AnyResult {
			rule.Result = r
		}
		n.Rule = rule

	case study.CombTherapeutic:
		t := spec.Therapeutic
		n.Rule = &RecordMatch{
			Domain:      core.DomainTherapeutic,
			Products:    t.Therapeutics,
			Indications: t.Indications,
			Window:      c.window(n, &t.WindowSpec),
			Find:        findOf(t.Find),
			Returning:   n.Returning,
		}

	case study.CombVaccination:
		v := spec.Vaccination
		rule := &RecordMatch{
			Domain:        core.DomainVaccination,
			TargetDisease: v.TargetDisease,
			Window:        c.window(n, &v.WindowSpec),
			Find:          findOf(v.Find),
			Returning:     n.Returning,
		}
		if v.ProductName != "" {
			rule.Products = []string{v.ProductName}
		}
		n.Rule = rule

	case study.CombSatisfying:
		n.Rule = &Satisfying{Expr: c.expression(n, spec.Expression())}

	case study.CombCategorisedAs:
		rule := &Categorise{Default: spec.CategorisedAs.Default}
		for _, r := range spec.CategorisedAs.Categories {
			if r.When == study.DefaultCondition {
				rule.Default = r.Label
				continue
			}
			rule.Rules = append(rule.Rules, CategoryRule{Label: r.Label, When: c.expression(n, r.When)})
		}
		n.Rule = rule

	case study.CombComparatorFrom:
		src, ok := c.lookup(n, *spec.ComparatorFrom)
		if ok && src == nil {
			c.fail(core.Definitionf(n.ID, "comparator_from needs a variable, not %q", *spec.ComparatorFrom))
		}
		if src != nil && (src.Combinator != study.CombCodeMatch || src.Returning != study.ReturnNumericValue) {
			c.fail(core.Definitionf(n.ID, "comparator_from source %q must be a code_match returning numeric_value", src.ID))
		}
		if src != nil {
			n.Rule = &ComparatorFrom{Source: src.ID}
		}

	case study.CombMinOf, study.CombMaxOf:
		names := spec.MinOf
		if n.Combinator == study.CombMaxOf {
			names = spec.MaxOf
		}
		var sources []string
		for _, name := range names {
			dep, ok := c.lookup(n, name)
			switch {
			case !ok:
			case dep == nil:
				c.fail(core.Definitionf(n.ID, "%s needs variables, not the anchor %q", n.Combinator, name))
			case dep.Kind != core.KindDate:
				c.fail(core.Definitionf(n.ID, "%s needs date variables; %q is a %s", n.Combinator, name, dep.Kind))
			default:
				sources = append(sources, dep.ID)
			}
		}
		n.Rule = &Extreme{Sources: sources, Latest: n.Combinator == study.CombMaxOf}

	case study.CombAgeAsOf:
		n.Rule = &AgeAsOf{Date: c.dateExpr(n, *spec.AgeAsOf)}

	case study.CombSex:
		n.Rule = &Sex{}

	case study.CombRegisteredAsOf:
		n.Rule = &RegisteredAsOf{Date: c.dateExpr(n, *spec.RegisteredAsOf)}

	case study.CombRegisteredBetween:
		n.Rule = &RegisteredBetween{
			From: c.dateExpr(n, spec.RegisteredBetween[0]),
			To:   c.dateExpr(n, spec.RegisteredBetween[1]),
		}

	case study.CombPracticeAsOf:
		n.Rule = &PracticeAsOf{Date: c.dateExpr(n, *spec.PracticeAsOf), Returning: n.Returning}

	case study.CombAddressAsOf:
		n.Rule = &AddressAsOf{
			Date:           c.dateExpr(n, spec.AddressAsOf.Date),
			Returning:      n.Returning,
			RoundToNearest: spec.AddressAsOf.RoundToNearest,
		}

	case study.CombDied:
		n.Rule = &Died{
			Codes:          c.codelist(n, spec.Died.Codes),
			UnderlyingOnly: spec.Died.UnderlyingOnly,
			Window:         c.window(n, &spec.Died.WindowSpec),
			Returning:      n.Returning,
		}

	case study.CombDeregistered:
		n.Rule = &Deregistered{Window: c.window(n, spec.Deregistered), Returning: n.Returning}

	default:
		c.fail(core.Definitionf(n.ID, "unsupported combinator %q", n.Combinator))
	}
}
