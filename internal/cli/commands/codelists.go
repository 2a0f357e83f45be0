package commands

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	"github.com/leapstack-labs/leapcohort/internal/study"
)

// NewCodelistsCommand creates the codelists command.
func NewCodelistsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "codelists",
		Short: "List the study's codelists",
		Long:  `Load every codelist the study declares, combined lists included, and show their coding systems, sizes and categories.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCodelists(cmd)
		},
	}
}

func runCodelists(cmd *cobra.Command) error {
	cc := NewCommandContext(cmd)

	def, err := study.Load(cc.Cfg.StudyFile)
	if err != nil {
		return err
	}
	registry, err := def.BuildRegistry(cc.Logger)
	if err != nil {
		return err
	}

	infos := make([]output.CodelistInfo, 0, registry.Len())
	for _, name := range registry.SortedNames() {
		list, _ := registry.Get(name)
		info := output.CodelistInfo{Name: name, Codes: list.Len(), Categories: list.Categories()}
		for _, sys := range list.Systems() {
			info.Systems = append(info.Systems, string(sys))
		}
		infos = append(infos, info)
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON, output.ModeYAML:
		return r.Data(infos)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Codelists"))
		r.Println("")
		for _, info := range infos {
			r.Printf("- **%s**: %d codes (%s)", info.Name, info.Codes, strings.Join(info.Systems, ", "))
			if len(info.Categories) > 0 {
				r.Printf(", categories %s", strings.Join(info.Categories, ", "))
			}
			r.Println("")
		}
		return nil
	}

	if len(infos) == 0 {
		r.Muted("No codelists declared")
		return nil
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Systems", "Codes", "Categories"})
	for _, info := range infos {
		t.AppendRow(table.Row{info.Name, strings.Join(info.Systems, ", "), strconv.Itoa(info.Codes), strings.Join(info.Categories, ", ")})
	}
	t.Render()
	return nil
}
