// Package output renders command results for terminals, pipes and
// scripts, and writes the cohort table.
//
// A Renderer picks its mode once: styled text on a terminal, markdown when
// piped, or JSON or YAML when asked for.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Mode is the rendering mode of command output.
type Mode string

// Output modes.
const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
	ModeYAML     Mode = "yaml"
)

// Modes lists the accepted --output values.
var Modes = []Mode{ModeAuto, ModeText, ModeMarkdown, ModeJSON, ModeYAML}

// Renderer writes command output in one mode.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	isTTY  bool
	styles *Styles
}

// NewRenderer returns a renderer writing results to out and diagnostics
// to errOut. Styling is applied only when out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	r := &Renderer{out: out, errOut: errOut, mode: mode, isTTY: IsTerminal(out)}
	if r.isTTY {
		r.styles = DefaultStyles()
	} else {
		r.styles = PlainStyles()
	}
	return r
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}

// EffectiveMode resolves ModeAuto: text on a terminal, markdown otherwise.
func (r *Renderer) EffectiveMode() Mode {
	switch r.mode {
	case ModeText, ModeMarkdown, ModeJSON, ModeYAML:
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// IsTTY reports whether results go to a terminal.
func (r *Renderer) IsTTY() bool {
	return r.isTTY
}

// Writer returns the result writer.
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// Styles returns the styles for the current output.
func (r *Renderer) Styles() *Styles {
	return r.styles
}

// Println writes a line of results.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted results.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a section heading.
func (r *Renderer) Header(level int, text string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatHeader(level, text))
		return
	}
	if level <= 1 {
		r.Println(r.styles.Header1.Render(text))
		return
	}
	r.Println(r.styles.Header2.Render(text))
}

// Success writes a confirmation line.
func (r *Renderer) Success(msg string) {
	r.Println(r.styles.Success.Render("✓ " + msg))
}

// Muted writes secondary information.
func (r *Renderer) Muted(msg string) {
	r.Println(r.styles.Muted.Render(msg))
}

// Warning writes a warning to the diagnostics writer.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("! "+msg))
}

// Error writes an error to the diagnostics writer.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("✗ "+msg))
}

// StatusLine writes an aligned "label: value" line.
func (r *Renderer) StatusLine(label, value string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println(FormatKeyValue(label, value))
		return
	}
	r.Printf("  %s %s\n", r.styles.Key.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// IsData reports whether results are written as a document (JSON or
// YAML) rather than for reading.
func (r *Renderer) IsData() bool {
	m := r.EffectiveMode()
	return m == ModeJSON || m == ModeYAML
}

// Data writes v as YAML in ModeYAML and as JSON otherwise. YAML keys and
// their order follow the JSON encoding.
func (r *Renderer) Data(v any) error {
	if r.EffectiveMode() != ModeYAML {
		return r.JSON(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = r.out.Write(buf.Bytes())
	return err
}

// blockStyle drops the flow and quoting styles the JSON source left on n.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
