package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title  *color.Color
	Label  *color.Color
	URL    *color.Color
	Method *color.Color
	Value  *color.Color
	Good   *color.Color
	Warn   *color.Color
	Bad    *color.Color
	Dim    *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:  color.New(color.Bold),
		Label:  color.New(color.Bold),
		URL:    color.New(color.FgCyan),
		Method: color.New(color.FgBlue, color.Bold),
		Value:  color.New(color.FgCyan),
		Good:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Bad:    color.New(color.FgRed, color.Bold),
		Dim:    color.New(color.Faint),
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.URL, s.Method, s.Value, s.Good, s.Warn, s.Bad, s.Dim}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// forcedColorScheme returns a scheme that colors even when stdout is not a
// terminal.
func forcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

// rateColor picks a color for a failure ratio.
func (s *ColorScheme) rateColor(ratio float64) *color.Color {
	switch {
	case ratio > 0.05:
		return s.Bad
	case ratio > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}
