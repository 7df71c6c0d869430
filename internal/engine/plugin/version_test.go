package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/plugin"
)

func TestParseRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rng   string
		allow []string
		deny  []string
	}{
		{rng: "", allow: []string{"v0.1.0", "v9.9.9"}},
		{rng: "*", allow: []string{"v1.0.0"}},
		{rng: ">=v1.0.0 <v2.0.0", allow: []string{"v1.0.0", "v1.9.3"}, deny: []string{"v0.9.0", "v2.0.0"}},
		{rng: "^v1.2", allow: []string{"v1.2.0", "v1.7.1"}, deny: []string{"v1.1.9", "v2.0.0"}},
		{rng: "^v0.3.1", allow: []string{"v0.3.1", "v0.3.9"}, deny: []string{"v0.4.0"}},
		{rng: "~v1.2.3", allow: []string{"v1.2.3", "v1.2.8"}, deny: []string{"v1.3.0", "v1.2.2"}},
		{rng: "v1.0.0", allow: []string{"v1.0.0"}, deny: []string{"v1.0.1"}},
		{rng: ">v1.0.0 <=v1.1.0", allow: []string{"v1.0.1", "v1.1.0"}, deny: []string{"v1.0.0", "v1.1.1"}},
		{rng: ">=v1.0.0, <v1.5.0 || >=v3", allow: []string{"v1.4.9", "v3.1.0"}, deny: []string{"v1.5.0", "v2.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.rng, func(t *testing.T) {
			t.Parallel()

			r, err := plugin.ParseRange(tt.rng)
			require.NoError(t, err)
			for _, v := range tt.allow {
				assert.True(t, r.Allows(v), "%s should allow %s", tt.rng, v)
			}
			for _, v := range tt.deny {
				assert.False(t, r.Allows(v), "%s should deny %s", tt.rng, v)
			}
		})
	}
}

func TestParseRange_Invalid(t *testing.T) {
	t.Parallel()

	for _, rng := range []string{"^latest", ">=v1.0.0 <two", "v1.0.0 garbage!"} {
		_, err := plugin.ParseRange(rng)
		require.ErrorIs(t, err, domain.ErrInvalidVersionRange, rng)
	}
}

func TestRange_AllowsRejectsInvalidVersion(t *testing.T) {
	t.Parallel()

	for _, rng := range []string{"", ">=v1.0.0"} {
		r, err := plugin.ParseRange(rng)
		require.NoError(t, err)
		assert.False(t, r.Allows("1.0.0"), "versions need the v prefix")
		assert.False(t, r.Allows("latest"))
		assert.True(t, r.Allows("v1.0.0"))
	}
}
