// Package tui provides an interactive terminal renderer for builds.
package tui

import (
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"go.trai.ch/kiln/internal/ui/output"
)

// NewModel creates a new TUI model with default settings.
func NewModel(w io.Writer) *Model {
	if w == nil {
		w = os.Stderr
	}

	out := output.New(w, output.Detected)
	lipgloss.SetColorProfile(out.Profile)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = taskRunningStyle

	return &Model{
		SpanMap:    make(map[string]*RequestNode),
		TreeRoots:  make([]*RequestNode, 0),
		FlatList:   make([]*RequestNode, 0),
		Output:     out,
		FollowMode: true,
		spinner:    s,
	}
}
