// Package style holds the colors and glyphs shared by the kiln renderers.
package style

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	Ember  = lipgloss.Color("#F97316")
	Ash    = lipgloss.Color("#667085")
	White  = lipgloss.Color("#FFFFFF")
	Green  = lipgloss.Color("#22A06B")
	Red    = lipgloss.Color("#D93025")
	Yellow = lipgloss.Color("#F59E0B")
)

// Glyphs.
const (
	Check   = "✓"
	Cross   = "✗"
	Cached  = "⚡"
	Warning = "!"
)

// Outcome returns the glyph of a finished request.
func Outcome(failed, cached bool) string {
	switch {
	case failed:
		return Cross
	case cached:
		return Cached
	default:
		return Check
	}
}
