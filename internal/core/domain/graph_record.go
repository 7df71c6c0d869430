package domain

// FileNode is the last observed state of a file referenced by a file-change invalidation.
type FileNode struct {
	Path string `msgpack:"p"`
	// Fingerprint is the content hash of the file. It is empty when the file does not exist.
	Fingerprint string `msgpack:"f,omitempty"`
}

// Exists reports whether the file existed when it was last observed.
func (f FileNode) Exists() bool {
	return f.Fingerprint != ""
}

// NodeRecord is the persisted form of a request node.
type NodeRecord struct {
	Key           string         `msgpack:"k"`
	State         NodeState      `msgpack:"s"`
	ResultRef     string         `msgpack:"r,omitempty"`
	Diagnostic    string         `msgpack:"d,omitempty"`
	Invalidations []Invalidation `msgpack:"i,omitempty"`
	Subrequests   []string       `msgpack:"q,omitempty"`
}

// GraphSnapshot is a full image of a request graph.
type GraphSnapshot struct {
	// Seq is the sequence number of the last delta folded into the snapshot.
	Seq     uint64            `msgpack:"seq"`
	Nodes   []NodeRecord      `msgpack:"nodes"`
	Files   []FileNode        `msgpack:"files"`
	Env     map[string]string `msgpack:"env,omitempty"`
	Options map[string]string `msgpack:"opts,omitempty"`
}

// DeltaOp is the kind of mutation recorded in a graph delta.
type DeltaOp uint8

const (
	// DeltaPutNode replaces or inserts a node record.
	DeltaPutNode DeltaOp = iota + 1
	// DeltaDeleteNode removes a node.
	DeltaDeleteNode
	// DeltaPutFile replaces or inserts a file node.
	DeltaPutFile
	// DeltaDeleteFile removes a file node.
	DeltaDeleteFile
	// DeltaPutEnv records the value an environment variable had when it was observed.
	DeltaPutEnv
	// DeltaPutOption records the value a build option had when it was observed.
	DeltaPutOption
)

// GraphDelta is one incremental mutation of a request graph.
type GraphDelta struct {
	Seq   uint64      `msgpack:"seq"`
	Op    DeltaOp     `msgpack:"op"`
	Node  *NodeRecord `msgpack:"node,omitempty"`
	File  *FileNode   `msgpack:"file,omitempty"`
	Key   string      `msgpack:"key,omitempty"`
	Value string      `msgpack:"val,omitempty"`
}
