package mux

import (
	"strings"
	"time"
)

// State is a step in the life of one request.
type State uint8

const (
	StateReceived State = iota
	StateResolving
	StateResolved
	StateNotFound
	StateMethodNotAllowed
	StateRejected // redirect, coercion failure or overload
	StateDispatching
	StateHandlerSuccess
	StateHandlerFailure
	StateResponding
	StateDone
)

var stateNames = [...]string{
	StateReceived:         "Received",
	StateResolving:        "Resolving",
	StateResolved:         "Resolved",
	StateNotFound:         "NotFound",
	StateMethodNotAllowed: "MethodNotAllowed",
	StateRejected:         "Rejected",
	StateDispatching:      "Dispatching",
	StateHandlerSuccess:   "HandlerSuccess",
	StateHandlerFailure:   "HandlerFailure",
	StateResponding:       "Responding",
	StateDone:             "Done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Outcome describes one handled request. Observers receive it once the
// request reaches StateDone.
type Outcome struct {
	Method     string
	Path       string
	Pattern    string // empty when no route matched
	Status     int
	Err        error
	RequestID  string
	RemoteAddr string
	Start      time.Time
	Duration   time.Duration
	States     []State
}

func (o *Outcome) record(s State) { o.States = append(o.States, s) }

// Trace renders the states as "Received → Resolving → ...".
func (o *Outcome) Trace() string {
	names := make([]string, len(o.States))
	for i, s := range o.States {
		names[i] = s.String()
	}
	return strings.Join(names, " → ")
}

// Observer is notified of every request the Dispatcher handles,
// including ones that never reach a handler. Observe runs on the
// request's goroutine and should not block.
type Observer interface {
	Observe(o *Outcome)
}

type ObserverFunc func(o *Outcome)

func (f ObserverFunc) Observe(o *Outcome) { f(o) }
