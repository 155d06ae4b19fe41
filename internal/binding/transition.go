package binding

import (
	"fmt"

	"enginehost/internal/registry"
)

// State is the binding state of a channel.
type State int

const (
	Unbound State = iota
	Connecting
	Bound
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Connecting:
		return "connecting"
	case Bound:
		return "bound"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind enumerates the inputs of the state machine.
type EventKind int

const (
	// EventConnect is the controller's bind request.
	EventConnect EventKind = iota + 1
	// EventConnected is the host reporting a resolved worker.
	EventConnected
	// EventDisconnected is the host reporting that the worker went away.
	EventDisconnected
	// EventDisconnect is the controller's explicit teardown.
	EventDisconnect
	// EventTimeout fires when a pending bind exceeds the connect timeout.
	EventTimeout
	// EventRejected is a bind request the host refused synchronously.
	EventRejected
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventDisconnect:
		return "disconnect"
	case EventTimeout:
		return "timeout"
	case EventRejected:
		return "rejected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one input to Transition. Generation is ignored for EventConnect
// and EventDisconnect, which always address the current generation.
type Event struct {
	Kind       EventKind
	Generation uint64
	Worker     registry.Key
}

// EffectKind enumerates the side effects Transition asks for.
type EffectKind int

const (
	EffectIssueBind EffectKind = iota + 1
	EffectIssueUnbind
	EffectStoreRef
	EffectClearRef
	EffectReportTimeout
)

func (k EffectKind) String() string {
	switch k {
	case EffectIssueBind:
		return "issue_bind"
	case EffectIssueUnbind:
		return "issue_unbind"
	case EffectStoreRef:
		return "store_ref"
	case EffectClearRef:
		return "clear_ref"
	case EffectReportTimeout:
		return "report_timeout"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect is a side effect to apply after a transition.
type Effect struct {
	Kind       EffectKind
	Generation uint64
	Worker     registry.Key
}

// Snapshot is the complete state of a channel. Worker is set only while Bound.
type Snapshot struct {
	State      State
	Generation uint64
	Worker     registry.Key
}

// Transition computes the next snapshot and the effects to apply. Events
// that do not apply to the current snapshot (stale generation, duplicate
// callback, teardown while unbound) return the snapshot unchanged and no
// effects.
func Transition(s Snapshot, e Event) (Snapshot, []Effect) {
	switch e.Kind {
	case EventConnect:
		if s.State != Unbound {
			return s, nil
		}
		next := Snapshot{State: Connecting, Generation: s.Generation + 1}
		return next, []Effect{{Kind: EffectIssueBind, Generation: next.Generation}}

	case EventConnected:
		if s.State != Connecting || e.Generation != s.Generation || e.Worker == "" {
			return s, nil
		}
		next := Snapshot{State: Bound, Generation: s.Generation, Worker: e.Worker}
		return next, []Effect{{Kind: EffectStoreRef, Generation: s.Generation, Worker: e.Worker}}

	case EventDisconnected:
		if s.State == Unbound || e.Generation != s.Generation {
			return s, nil
		}
		next := Snapshot{State: Unbound, Generation: s.Generation}
		return next, []Effect{{Kind: EffectClearRef, Generation: s.Generation, Worker: s.Worker}}

	case EventDisconnect:
		switch s.State {
		case Bound:
			next := Snapshot{State: Unbound, Generation: s.Generation}
			return next, []Effect{
				{Kind: EffectClearRef, Generation: s.Generation, Worker: s.Worker},
				{Kind: EffectIssueUnbind, Generation: s.Generation},
			}
		case Connecting:
			next := Snapshot{State: Unbound, Generation: s.Generation}
			return next, []Effect{{Kind: EffectIssueUnbind, Generation: s.Generation}}
		default:
			return s, nil
		}

	case EventTimeout:
		if s.State != Connecting || e.Generation != s.Generation {
			return s, nil
		}
		next := Snapshot{State: Unbound, Generation: s.Generation}
		return next, []Effect{
			{Kind: EffectIssueUnbind, Generation: s.Generation},
			{Kind: EffectReportTimeout, Generation: s.Generation},
		}

	case EventRejected:
		if s.State != Connecting || e.Generation != s.Generation {
			return s, nil
		}
		return Snapshot{State: Unbound, Generation: s.Generation}, nil
	}
	return s, nil
}
