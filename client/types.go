package client

import "github.com/steve-o/hitsuji/omm"

// State follows one snapshot request from submission to End.
type State interface {
	SetSize(int)        // encoded request size
	OnReply(m *omm.Msg) // refresh or status received
	IoError(err error)  // connection failed before the reply
	Timeout()           // no reply within the timeout
	End()               // request finished, result goes to the report
}

type Reporter interface {
	Acquire(tag string) State
	Run() error
	Close() error
}
