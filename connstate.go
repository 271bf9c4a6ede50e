package of

import "fmt"

// connState is the per-connection handshake state of a controller-side
// connection, driven exclusively from the dispatch goroutine of the
// Controller that owns the connection.
type connState int

const (
	// StateConnected is the state of a freshly accepted or dialed
	// connection before any message has been exchanged.
	StateConnected connState = iota

	// StateHelloSent is set once the controller's own hello has been
	// written to the connection.
	StateHelloSent

	// StateHelloReceived is set once the peer's hello has been read
	// and the negotiated version accepted.
	StateHelloReceived

	// StateFeaturesRequested is set once the controller has sent a
	// features request and is waiting for the features reply.
	StateFeaturesRequested

	// StateReady is set once the features reply has been received;
	// the connection is now fully usable and application messages are
	// dispatched to the controller's Handler.
	StateReady

	// StateClosing is a terminal state entered on any protocol error
	// or on connection loss; no further transitions are possible.
	StateClosing
)

// String returns a human readable name of the state, used in log
// messages.
func (s connState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateHelloSent:
		return "hello-sent"
	case StateHelloReceived:
		return "hello-received"
	case StateFeaturesRequested:
		return "features-requested"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("connState(%d)", int(s))
}

// errInvalidTransition reports an attempt to move a connection between
// states the handshake automaton does not allow.
type errInvalidTransition struct {
	From, To connState
}

func (e *errInvalidTransition) Error() string {
	return fmt.Sprintf("of: invalid connection state transition: %s -> %s", e.From, e.To)
}

// transitions enumerates every state change the automaton of the
// handshake allows. A connection may always move to StateClosing,
// independent of this table.
var transitions = map[connState][]connState{
	StateConnected:         {StateHelloSent, StateHelloReceived},
	StateHelloSent:         {StateHelloReceived},
	StateHelloReceived:     {StateFeaturesRequested},
	StateFeaturesRequested: {StateReady},
	StateReady:             {},
	StateClosing:           {},
}

// transition validates and applies a state change to cur, returning an
// error if the automaton does not permit moving from cur to next.
func transition(cur *connState, next connState) error {
	if next == StateClosing {
		*cur = StateClosing
		return nil
	}

	for _, allowed := range transitions[*cur] {
		if allowed == next {
			*cur = next
			return nil
		}
	}

	return &errInvalidTransition{From: *cur, To: next}
}
