// Package detector picks the renderer of a build from the flag and the terminal it runs in.
package detector

import (
	"os"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"golang.org/x/term"
)

// OutputMode represents the rendering mode for the application.
type OutputMode int

const (
	// ModeAuto automatically detects the appropriate mode.
	ModeAuto OutputMode = iota
	// ModeTUI forces the interactive TUI renderer.
	ModeTUI
	// ModeLinear forces the linear CI renderer.
	ModeLinear
)

func (m OutputMode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModeLinear:
		return "linear"
	default:
		return "auto"
	}
}

// ciVariables are set by CI services that do not set CI itself.
var ciVariables = []string{"GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL", "TEAMCITY_VERSION"}

// Environment is what mode detection looks at.
type Environment struct {
	// Terminal reports whether stdout is a terminal.
	Terminal bool
	Getenv   func(key string) string
}

// Current describes the environment of this process.
func Current() Environment {
	return Environment{
		Terminal: term.IsTerminal(int(os.Stdout.Fd())),
		Getenv:   os.Getenv,
	}
}

// Detect returns ModeTUI for an interactive terminal and ModeLinear otherwise.
func (e Environment) Detect() OutputMode {
	if !e.Terminal || e.Getenv("TERM") == "dumb" {
		return ModeLinear
	}
	if ci := strings.ToLower(e.Getenv("CI")); ci == "true" || ci == "1" {
		return ModeLinear
	}
	for _, key := range ciVariables {
		if e.Getenv(key) != "" {
			return ModeLinear
		}
	}
	return ModeTUI
}

// ParseMode parses an --output-mode value. "ci" is an alias of "linear".
func ParseMode(s string) (OutputMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ModeAuto, nil
	case "tui":
		return ModeTUI, nil
	case "linear", "ci":
		return ModeLinear, nil
	default:
		return ModeAuto, zerr.With(zerr.Wrap(domain.ErrConfigInvalid, "unknown output mode"), "mode", s)
	}
}

// Resolve applies the flag to the detected mode. An explicit mode wins.
func Resolve(env Environment, flag string) (OutputMode, error) {
	mode, err := ParseMode(flag)
	if err != nil {
		return ModeAuto, err
	}
	if mode == ModeAuto {
		return env.Detect(), nil
	}
	return mode, nil
}
