// Package output builds the termenv outputs shared by the renderers and the logger.
package output

import (
	"io"
	"os"

	"github.com/muesli/termenv"
)

// Profile selects the color profile of an output when it is created.
type Profile func() termenv.Profile

// Detected follows the capabilities of the terminal. NO_COLOR disables color.
func Detected() termenv.Profile {
	if noColor() {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// ANSI uses the 16 base colors, which CI log viewers render. NO_COLOR disables color.
func ANSI() termenv.Profile {
	if noColor() {
		return termenv.Ascii
	}
	return termenv.ANSI
}

func noColor() bool {
	return os.Getenv("NO_COLOR") != ""
}

// New returns an output on w, or on stderr when w is nil. The output always counts as a
// terminal, so the profile alone decides styling.
func New(w io.Writer, profile Profile, opts ...termenv.OutputOption) *termenv.Output {
	if w == nil {
		w = os.Stderr
	}
	if profile == nil {
		profile = Detected
	}
	opts = append(opts, termenv.WithProfile(profile()), termenv.WithTTY(true))
	return termenv.NewOutput(w, opts...)
}
