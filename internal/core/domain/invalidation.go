package domain

import "fmt"

// InvalidationKind identifies the trigger type of an invalidation edge.
type InvalidationKind uint8

const (
	// InvalidateOnFileChange fires when the content fingerprint of a path changes.
	InvalidateOnFileChange InvalidationKind = iota + 1
	// InvalidateOnFileCreate fires when a file matching a pattern is created.
	InvalidateOnFileCreate
	// InvalidateOnEnvChange fires when an environment variable changes value.
	InvalidateOnEnvChange
	// InvalidateOnOptionChange fires when a build option changes value.
	InvalidateOnOptionChange
	// InvalidateOnStartup fires once per process start.
	InvalidateOnStartup
	// InvalidateOnBuild fires on every build.
	InvalidateOnBuild
	// InvalidateBySubrequest marks a node invalidated because one of its subrequests was.
	InvalidateBySubrequest
)

// String returns the short name of the kind.
func (k InvalidationKind) String() string {
	switch k {
	case InvalidateOnFileChange:
		return "file-change"
	case InvalidateOnFileCreate:
		return "file-create"
	case InvalidateOnEnvChange:
		return "env-change"
	case InvalidateOnOptionChange:
		return "option-change"
	case InvalidateOnStartup:
		return "startup"
	case InvalidateOnBuild:
		return "build"
	case InvalidateBySubrequest:
		return "subrequest"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Invalidation is a typed trigger attached to a request node.
// Target holds the path, pattern, variable or option name; it is empty for startup and build triggers.
type Invalidation struct {
	Kind   InvalidationKind `msgpack:"k"`
	Target string           `msgpack:"t,omitempty"`
}

// String returns a description such as "file-change(src/a.js)".
func (i Invalidation) String() string {
	if i.Target == "" {
		return i.Kind.String()
	}
	return i.Kind.String() + "(" + i.Target + ")"
}

// InvalidationCause records why a node was invalidated when a batch of events was applied.
type InvalidationCause struct {
	// RequestKey is the invalidated node.
	RequestKey string
	// Trigger is the fired invalidation. For dependents it has kind InvalidateBySubrequest and
	// targets the subrequest that caused the propagation.
	Trigger Invalidation
}

// FileEventKind is the kind of a file system event fed to the invalidation engine.
type FileEventKind uint8

const (
	// FileUpdated reports that the content of an existing file may have changed.
	FileUpdated FileEventKind = iota
	// FileCreated reports that a new file appeared.
	FileCreated
	// FileDeleted reports that a file was removed or renamed away.
	FileDeleted
)

// String returns the short name of the event kind.
func (k FileEventKind) String() string {
	switch k {
	case FileUpdated:
		return "update"
	case FileCreated:
		return "create"
	case FileDeleted:
		return "delete"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// FileEvent is a single file system change.
type FileEvent struct {
	Kind FileEventKind
	Path string
}
