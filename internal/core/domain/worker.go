package domain

const (
	// EventFinished is the event a worker sends once per task, carrying its result or error.
	EventFinished = "finished"
	// EventCancel is the event the orchestrator sends to abandon a running task.
	EventCancel = "cancel"
	// EventProgress is an intermediate event reporting task progress.
	EventProgress = "progress"
	// EventLog is an intermediate event carrying task output.
	EventLog = "log"
	// EventReady is the event a worker sends once after start-up.
	EventReady = "ready"
)

// Message is the unit of the worker wire contract.
// The orchestrator sends a message whose Event is the task kind; the worker answers with any
// number of intermediate events and exactly one EventFinished.
type Message struct {
	Event  string `msgpack:"e"`
	TaskID uint64 `msgpack:"id,omitempty"`
	Epoch  uint64 `msgpack:"ep,omitempty"`
	Data   []byte `msgpack:"d,omitempty"`
	Error  string `msgpack:"err,omitempty"`
}

// WorkerTask is a unit of work handed to the worker pool.
type WorkerTask struct {
	// Key deduplicates identical tasks that are pending or running.
	Key string
	// Kind is the event name the worker dispatches on.
	Kind    string
	Payload []byte
	// Epoch is the build the task belongs to.
	Epoch uint64
}
