package tui

import "time"

// MsgBuildStart is sent when a build epoch begins. It clears the previous build's requests.
type MsgBuildStart struct {
	Epoch uint64
	Roots []string
}

// MsgRequestStart is sent when a request begins executing.
type MsgRequestStart struct {
	SpanID    string
	ParentID  string
	Name      string
	StartTime time.Time
}

// MsgRequestLog carries output of a request or of its worker tasks.
type MsgRequestLog struct {
	SpanID string
	Data   []byte
}

// MsgRequestComplete is sent when a request finishes.
type MsgRequestComplete struct {
	SpanID  string
	EndTime time.Time
	Err     error
	Cached  bool
}
