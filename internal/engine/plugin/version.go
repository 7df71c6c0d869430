package plugin

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	gosemver "golang.org/x/mod/semver"
)

// EngineVersion is the version of the task API that workers expose to plugins.
const EngineVersion = "v1.0.0"

// Range is the set of engine versions a plugin works with.
type Range struct {
	raw         string
	constraints *semver.Constraints
}

// String returns the range as written.
func (r Range) String() string {
	return r.raw
}

// Allows reports whether version is inside the range. Versions use the Go form with a "v" prefix;
// anything else is never allowed.
func (r Range) Allows(version string) bool {
	if !gosemver.IsValid(version) {
		return false
	}
	if r.constraints == nil {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return r.constraints.Check(v)
}

// ParseRange parses a constraint such as ">=v1.0.0 <v2.0.0", "^v1.2" or "~v1.2.3". Comparators
// separated by spaces must all hold. An empty range or "*" allows every version.
func ParseRange(s string) (Range, error) {
	r := Range{raw: s}
	if strings.TrimSpace(s) == "" {
		return r, nil
	}
	c, err := semver.NewConstraint(s)
	if err != nil {
		return Range{}, zerr.With(zerr.Wrap(domain.ErrInvalidVersionRange, err.Error()), "range", s)
	}
	r.constraints = c
	return r, nil
}
