package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapcohort/internal/cli/output"
	"github.com/leapstack-labs/leapcohort/internal/engine"
)

// NewDAGCommand creates the dag command.
func NewDAGCommand() *cobra.Command {
	var selects []string

	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the variable dependency graph",
		Long: `Display the dependency graph of the study's variables.

Variables are grouped by level: every variable only reads variables of
earlier levels. Inline locals appear as parent.name, the population
filter as population.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format (agent-friendly)`,
		Example: `  # Show the graph
  leapcohort dag

  # Only what the age column needs
  leapcohort dag --select age

  # Output as JSON
  leapcohort dag --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDAG(cmd, selects)
		},
	}

	cmd.Flags().StringSliceVarP(&selects, "select", "s", nil, "Show only these variables and their dependencies")

	return cmd
}

func runDAG(cmd *cobra.Command, selects []string) error {
	cc := NewCommandContext(cmd)

	plan, err := cc.LoadPlan()
	if err != nil {
		return err
	}
	if plan, err = plan.Select(selects...); err != nil {
		return err
	}

	levels, err := plan.Graph().Levels()
	if err != nil {
		return fmt.Errorf("failed to get execution levels: %w", err)
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON, output.ModeYAML:
		return r.Data(dagOutput(plan, levels))
	case output.ModeMarkdown:
		dagMarkdown(r, plan, levels)
	default:
		dagText(r, plan, levels)
	}
	return nil
}

func dagNode(plan *engine.Plan, id string) output.DAGNode {
	n, _ := plan.Node(id)
	g := plan.Graph()
	return output.DAGNode{
		ID:         id,
		Kind:       n.Kind.String(),
		Combinator: string(n.Combinator),
		Returning:  n.Returning,
		Parent:     n.Parent,
		Output:     n.Output,
		DependsOn:  g.Parents(id),
		UsedBy:     g.Children(id),
	}
}

func dagOutput(plan *engine.Plan, levels [][]string) output.DAGOutput {
	out := output.DAGOutput{
		Levels:     make([]output.DAGLevel, 0, len(levels)),
		TotalNodes: plan.Graph().Len(),
		TotalEdges: plan.Graph().EdgeCount(),
	}
	for i, level := range levels {
		dl := output.DAGLevel{Level: i, Nodes: make([]output.DAGNode, 0, len(level))}
		for _, id := range level {
			dl.Nodes = append(dl.Nodes, dagNode(plan, id))
		}
		out.Levels = append(out.Levels, dl)
	}
	return out
}

func dagText(r *output.Renderer, plan *engine.Plan, levels [][]string) {
	styles := r.Styles()

	r.Header(1, "Variable Graph")

	for i, level := range levels {
		r.Println(styles.Header2.Render(fmt.Sprintf("Level %d:", i)))
		for _, id := range level {
			n := dagNode(plan, id)
			name := styles.Variable.Render(n.ID)
			if !n.Output {
				name = styles.Muted.Render(n.ID)
			}
			r.Printf("  %s %s\n", name, styles.Muted.Render(fmt.Sprintf("(%s, %s)", n.Combinator, n.Kind)))
			if len(n.DependsOn) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("depends on:"), strings.Join(n.DependsOn, ", "))
			}
			if len(n.UsedBy) > 0 {
				r.Printf("    %s %s\n", styles.Muted.Render("used by:"), strings.Join(n.UsedBy, ", "))
			}
		}
		r.Println("")
	}

	r.Muted(fmt.Sprintf("Total: %d variables, %d dependencies", plan.Graph().Len(), plan.Graph().EdgeCount()))
}

func dagMarkdown(r *output.Renderer, plan *engine.Plan, levels [][]string) {
	r.Println(output.FormatHeader(1, "Variable Graph"))
	r.Println("")

	for i, level := range levels {
		r.Println(output.FormatHeader(2, fmt.Sprintf("Level %d", i)))
		for _, id := range level {
			n := dagNode(plan, id)
			r.Printf("- `%s` (%s, %s)\n", n.ID, n.Combinator, n.Kind)
			if len(n.DependsOn) > 0 {
				r.Printf("  - depends on: %s\n", strings.Join(n.DependsOn, ", "))
			}
			if len(n.UsedBy) > 0 {
				r.Printf("  - used by: %s\n", strings.Join(n.UsedBy, ", "))
			}
		}
		r.Println("")
	}

	r.Println(output.FormatHeader(2, "Summary"))
	r.Println(output.FormatKeyValue("Total Variables", fmt.Sprintf("%d", plan.Graph().Len())))
	r.Println(output.FormatKeyValue("Total Dependencies", fmt.Sprintf("%d", plan.Graph().EdgeCount())))
}
