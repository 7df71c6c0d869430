package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NodeState is the validity state of a request node.
type NodeState uint8

const (
	// StateIncomplete is the state of a node that has never finished executing.
	StateIncomplete NodeState = iota
	// StateValid is the state of a node whose committed result may be reused.
	StateValid
	// StateInvalid is the state of a node one of whose invalidations has fired.
	StateInvalid
	// StateErrored is the state of a node whose last execution failed.
	StateErrored
)

// String returns the lower-case name of the state.
func (s NodeState) String() string {
	switch s {
	case StateIncomplete:
		return "incomplete"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// NewRequestKey derives a stable request key from a request type and its arguments.
// The key has the form "<type>:<xxhash of arguments>", so it stays readable in diagnostics.
func NewRequestKey(requestType string, args ...string) string {
	d := xxhash.New()
	_, _ = d.WriteString(requestType)
	for _, a := range args {
		// Length-prefix each argument so ("ab","c") and ("a","bc") differ.
		_, _ = fmt.Fprintf(d, "\x00%d:", len(a))
		_, _ = d.WriteString(a)
	}
	return fmt.Sprintf("%s:%016x", requestType, d.Sum64())
}

// RequestTypeOf returns the type prefix of a key built by NewRequestKey.
func RequestTypeOf(key string) string {
	typ, _, ok := strings.Cut(key, ":")
	if !ok {
		return key
	}
	return typ
}

// Diagnostic is an error attached to a request during a build.
type Diagnostic struct {
	// RequestKey is the key of the request that failed.
	RequestKey string
	// RequestType is the type of the request that failed.
	RequestType string
	// Err is the error raised by the request body.
	Err error
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s [%s]: %v", d.RequestType, d.RequestKey, d.Err)
}

// Unwrap exposes both the request execution sentinel and the underlying error to errors.Is.
func (d Diagnostic) Unwrap() []error {
	return []error{ErrRequestExecution, d.Err}
}

// Request types issued by the build pipeline. A request's display name starts with its type
// followed by a colon, except for the root build request.
const (
	RequestTypeBuild   = "build"
	RequestTypeTarget  = "target"
	RequestTypeFile    = "file"
	RequestTypeGlob    = "glob"
	RequestTypeResolve = "resolve"
)

// BookkeepingRequestTypes are the request types that only track inputs. Renderers hide them
// unless they fail.
var BookkeepingRequestTypes = []string{RequestTypeFile, RequestTypeGlob, RequestTypeResolve}

// IsBookkeeping reports whether a request display name belongs to a bookkeeping request.
func IsBookkeeping(name string) bool {
	typ, _, ok := strings.Cut(name, ":")
	return ok && slices.Contains(BookkeepingRequestTypes, typ)
}
