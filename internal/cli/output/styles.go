package output

import "github.com/charmbracelet/lipgloss"

// Styles are the lipgloss styles used by text output.
type Styles struct {
	Header1  lipgloss.Style
	Header2  lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Key      lipgloss.Style
	Variable lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
}

// DefaultStyles returns the terminal styles.
func DefaultStyles() *Styles {
	return &Styles{
		Header1:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1),
		Header2:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Bold:     lipgloss.NewStyle().Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Key:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Variable: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Header1:  plain,
		Header2:  plain,
		Bold:     plain,
		Muted:    plain,
		Key:      plain,
		Variable: plain,
		Success:  plain,
		Warning:  plain,
		Error:    plain,
	}
}
