package model

import "time"

// NoStatus is reported for rows whose status property has no value.
const NoStatus = "No Status"

// Record is the normalized representation of one database row.
type Record struct {
	ID     string // page id assigned by the source
	Status string // resolved status property, NoStatus when empty
	Text   string // resolved text property, runs concatenated in order
}

// Change is a record observed entering the trigger status during one cycle.
type Change struct {
	Record
	Message    string    // rendered human readable message
	CycleID    string    // poll cycle that detected the transition
	DetectedAt time.Time // when the transition was detected
}

// Result is the outcome of a single publish call to one sink.
type Result struct {
	Sink     string
	RecordID string
	RemoteID string // id assigned by the remote service, if any
	Err      error
}

// OK reports whether the publish succeeded.
func (r Result) OK() bool { return r.Err == nil }
