package study

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/leapstack-labs/leapcohort/internal/codelist"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// BuildRegistry loads every declared codelist in declaration order.
// File paths are resolved against the definition's BaseDir. Combined and
// filtered lists may only name codelists declared before them. Conflicting
// categories found while combining are logged, keeping the first.
func (d *Definition) BuildRegistry(logger *slog.Logger) (*codelist.Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := codelist.NewBuilder()

	for i := range d.Codelists {
		spec := &d.Codelists[i]
		list, err := d.buildCodelist(b, spec, logger)
		if err != nil {
			return nil, err
		}
		if err := b.Add(list); err != nil {
			return nil, &core.LoadError{Source: "codelist " + spec.Name, Err: err}
		}
		logger.Debug("codelist loaded", "name", spec.Name, "codes", list.Len(), "categories", list.HasCategories())
	}
	return b.Build(), nil
}

func (d *Definition) buildCodelist(b *codelist.Builder, spec *CodelistSpec, logger *slog.Logger) (*codelist.Codelist, error) {
	earlier := func(name string) (*codelist.Codelist, error) {
		c, ok := b.Get(name)
		if !ok {
			return nil, &core.LoadError{
				Source: "codelist " + spec.Name,
				Err:    fmt.Errorf("unknown codelist %q (codelists must be declared before use)", name),
			}
		}
		return c, nil
	}

	switch {
	case spec.File != "":
		system, err := core.ParseCodingSystem(spec.System)
		if err != nil {
			return nil, &core.LoadError{Source: "codelist " + spec.Name, Err: err}
		}
		path := spec.File
		if !filepath.IsAbs(path) && d.BaseDir != "" {
			path = filepath.Join(d.BaseDir, path)
		}
		return codelist.LoadFile(path, codelist.Source{
			Name:           spec.Name,
			System:         system,
			Column:         spec.Column,
			CategoryColumn: spec.CategoryColumn,
		})

	case spec.Codes != nil:
		system, err := core.ParseCodingSystem(spec.System)
		if err != nil {
			return nil, &core.LoadError{Source: "codelist " + spec.Name, Err: err}
		}
		return codelist.New(spec.Name, system, spec.Codes...)

	case spec.Combine != nil:
		lists := make([]*codelist.Codelist, 0, len(spec.Combine))
		for _, name := range spec.Combine {
			c, err := earlier(name)
			if err != nil {
				return nil, err
			}
			lists = append(lists, c)
		}
		combined, conflicts, err := codelist.Combine(spec.Name, lists...)
		if err != nil {
			return nil, err
		}
		for _, c := range conflicts {
			logger.Warn("conflicting category for code; keeping the first",
				"codelist", spec.Name,
				"code", c.Code,
				"system", c.System,
				"kept", c.Kept,
				"dropped", c.Dropped,
				"dropped_from", c.DroppedFrom,
			)
		}
		return combined, nil

	case spec.Filter != nil:
		source, err := earlier(spec.Filter.Codelist)
		if err != nil {
			return nil, err
		}
		return codelist.FilterByCategory(spec.Name, source, spec.Filter.Categories...)
	}
	return nil, &core.LoadError{Source: "codelist " + spec.Name, Err: fmt.Errorf("no source declared")}
}
