package binding_test

import (
	"reflect"
	"testing"

	"enginehost/internal/binding"
)

func TestTransition(t *testing.T) {
	unbound := binding.Snapshot{State: binding.Unbound, Generation: 3}
	connecting := binding.Snapshot{State: binding.Connecting, Generation: 3}
	bound := binding.Snapshot{State: binding.Bound, Generation: 3, Worker: "w1"}

	tests := []struct {
		name    string
		from    binding.Snapshot
		event   binding.Event
		want    binding.Snapshot
		effects []binding.Effect
	}{
		{
			name:    "connect opens a new generation",
			from:    unbound,
			event:   binding.Event{Kind: binding.EventConnect},
			want:    binding.Snapshot{State: binding.Connecting, Generation: 4},
			effects: []binding.Effect{{Kind: binding.EffectIssueBind, Generation: 4}},
		},
		{
			name:  "connect while connecting is a no-op",
			from:  connecting,
			event: binding.Event{Kind: binding.EventConnect},
			want:  connecting,
		},
		{
			name:  "connect while bound is a no-op",
			from:  bound,
			event: binding.Event{Kind: binding.EventConnect},
			want:  bound,
		},
		{
			name:    "connected stores the worker key",
			from:    connecting,
			event:   binding.Event{Kind: binding.EventConnected, Generation: 3, Worker: "w1"},
			want:    bound,
			effects: []binding.Effect{{Kind: binding.EffectStoreRef, Generation: 3, Worker: "w1"}},
		},
		{
			name:  "connected from an abandoned generation is discarded",
			from:  connecting,
			event: binding.Event{Kind: binding.EventConnected, Generation: 2, Worker: "w0"},
			want:  connecting,
		},
		{
			name:  "connected after teardown is discarded",
			from:  unbound,
			event: binding.Event{Kind: binding.EventConnected, Generation: 3, Worker: "w1"},
			want:  unbound,
		},
		{
			name:  "duplicate connected is discarded",
			from:  bound,
			event: binding.Event{Kind: binding.EventConnected, Generation: 3, Worker: "w2"},
			want:  bound,
		},
		{
			name:    "disconnected while bound clears the reference",
			from:    bound,
			event:   binding.Event{Kind: binding.EventDisconnected, Generation: 3},
			want:    unbound,
			effects: []binding.Effect{{Kind: binding.EffectClearRef, Generation: 3, Worker: "w1"}},
		},
		{
			name:    "disconnected before connected returns to unbound",
			from:    connecting,
			event:   binding.Event{Kind: binding.EventDisconnected, Generation: 3},
			want:    unbound,
			effects: []binding.Effect{{Kind: binding.EffectClearRef, Generation: 3}},
		},
		{
			name:  "disconnected for an old generation is discarded",
			from:  bound,
			event: binding.Event{Kind: binding.EventDisconnected, Generation: 1},
			want:  bound,
		},
		{
			name:  "disconnect while unbound has no effect",
			from:  unbound,
			event: binding.Event{Kind: binding.EventDisconnect},
			want:  unbound,
		},
		{
			name:  "disconnect while bound unbinds",
			from:  bound,
			event: binding.Event{Kind: binding.EventDisconnect},
			want:  unbound,
			effects: []binding.Effect{
				{Kind: binding.EffectClearRef, Generation: 3, Worker: "w1"},
				{Kind: binding.EffectIssueUnbind, Generation: 3},
			},
		},
		{
			name:    "disconnect while connecting abandons the bind",
			from:    connecting,
			event:   binding.Event{Kind: binding.EventDisconnect},
			want:    unbound,
			effects: []binding.Effect{{Kind: binding.EffectIssueUnbind, Generation: 3}},
		},
		{
			name:  "timeout gives up on the pending bind",
			from:  connecting,
			event: binding.Event{Kind: binding.EventTimeout, Generation: 3},
			want:  unbound,
			effects: []binding.Effect{
				{Kind: binding.EffectIssueUnbind, Generation: 3},
				{Kind: binding.EffectReportTimeout, Generation: 3},
			},
		},
		{
			name:  "timeout after bound is discarded",
			from:  bound,
			event: binding.Event{Kind: binding.EventTimeout, Generation: 3},
			want:  bound,
		},
		{
			name:  "rejected bind returns to unbound without unbinding",
			from:  connecting,
			event: binding.Event{Kind: binding.EventRejected, Generation: 3},
			want:  unbound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, effects := binding.Transition(tc.from, tc.event)
			if got != tc.want {
				t.Fatalf("snapshot: got %+v want %+v", got, tc.want)
			}
			if len(effects) == 0 && len(tc.effects) == 0 {
				return
			}
			if !reflect.DeepEqual(effects, tc.effects) {
				t.Fatalf("effects: got %+v want %+v", effects, tc.effects)
			}
		})
	}
}

func TestStateStrings(t *testing.T) {
	for state, want := range map[binding.State]string{
		binding.Unbound:    "unbound",
		binding.Connecting: "connecting",
		binding.Bound:      "bound",
	} {
		if state.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(state), state.String(), want)
		}
	}
}
