package worker

import "strconv"

// State of a worker. A task moves Idle, Decoding, Validating, Computing,
// Encoding, Sending and back to Idle. Validation and compute failures skip
// straight to Encoding with a close.
type State int32

const (
	Idle State = iota
	Decoding
	Validating
	Computing
	Encoding
	Sending
	Terminated
)

var stateNames = [...]string{
	Idle:       "idle",
	Decoding:   "decoding",
	Validating: "validating",
	Computing:  "computing",
	Encoding:   "encoding",
	Sending:    "sending",
	Terminated: "terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}
