package output_test

import (
	"bytes"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"go.trai.ch/kiln/internal/ui/output"
)

func TestProfiles_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, termenv.Ascii, output.Detected())
	assert.Equal(t, termenv.Ascii, output.ANSI())

	t.Setenv("NO_COLOR", "")
	assert.Equal(t, termenv.ANSI, output.ANSI())
	p := output.Detected()
	assert.True(t, p >= termenv.TrueColor && p <= termenv.Ascii)
}

func TestNew(t *testing.T) {
	t.Setenv("NO_COLOR", "")

	tests := []struct {
		name    string
		profile output.Profile
		want    string
	}{
		{name: "ansi", profile: output.ANSI, want: "\x1b[31mfailed\x1b[0m"},
		{name: "ascii", profile: func() termenv.Profile { return termenv.Ascii }, want: "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			out := output.New(&buf, tt.profile)
			_, _ = out.WriteString(out.String("failed").Foreground(termenv.ANSIRed).String())
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	assert.NotNil(t, output.New(nil, nil))
}
