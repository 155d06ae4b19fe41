package engine_test

import (
	"errors"
	"testing"

	"enginehost/internal/engine"
	"enginehost/internal/logging"
)

func expectPrecondition(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected %s to panic", op)
		}
		var pe *engine.PreconditionError
		err, ok := r.(error)
		if !ok || !errors.As(err, &pe) {
			t.Fatalf("expected PreconditionError, got %#v", r)
		}
		if pe.Op != op {
			t.Fatalf("expected op %q, got %q", op, pe.Op)
		}
	}()
	fn()
}

func TestHandleConstructDestroyPairs(t *testing.T) {
	native := engine.NewLocal()
	h := engine.NewHandle(native, logging.NewNop())

	if err := h.Construct(); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if !h.Constructed() || native.Live() != 1 {
		t.Fatalf("expected one live instance, got %d", native.Live())
	}
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if h.Constructed() || native.Live() != 0 || native.Destroyed() != 1 {
		t.Fatalf("expected instance destroyed, live=%d destroyed=%d", native.Live(), native.Destroyed())
	}
}

func TestHandleRejectsInvalidPairings(t *testing.T) {
	tests := []struct {
		name string
		seq  []string
		op   string
	}{
		{name: "destroy without construct", seq: []string{"destroy"}, op: "destroy"},
		{name: "construct twice", seq: []string{"construct", "construct"}, op: "construct"},
		{name: "double destroy", seq: []string{"construct", "destroy", "destroy"}, op: "destroy"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := engine.NewHandle(engine.NewLocal(), nil)
			last := len(tc.seq) - 1
			for i, step := range tc.seq {
				call := h.Construct
				if step == "destroy" {
					call = h.Destroy
				}
				if i < last {
					if err := call(); err != nil {
						t.Fatalf("step %d (%s): %v", i, step, err)
					}
					continue
				}
				expectPrecondition(t, tc.op, func() { _ = call() })
			}
		})
	}
}

func TestHandleNewIntentWhenUnconstructedIsNoop(t *testing.T) {
	native := engine.NewLocal()
	h := engine.NewHandle(native, nil)

	delivered, err := h.NewIntent(engine.Intent{Action: "view", URI: "engine://session/1"})
	if err != nil || delivered {
		t.Fatalf("expected dropped intent, delivered=%v err=%v", delivered, err)
	}

	if err := h.Construct(); err != nil {
		t.Fatalf("Construct: %v", err)
	}
	delivered, err = h.NewIntent(engine.Intent{Action: "view", URI: "engine://session/2"})
	if err != nil || !delivered {
		t.Fatalf("expected delivered intent, delivered=%v err=%v", delivered, err)
	}
	if got := native.Intents(1); len(got) != 1 || got[0].URI != "engine://session/2" {
		t.Fatalf("unexpected intents %+v", got)
	}

	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if delivered, _ := h.NewIntent(engine.Intent{Action: "view"}); delivered {
		t.Fatal("expected intent after destroy to be dropped")
	}
}

type failingNative struct{ engine.Local }

func (*failingNative) ConstructNativeClass() (engine.Ref, error) {
	return 0, errors.New("no audio device")
}

func TestHandleConstructFailureLeavesHandleUnconstructed(t *testing.T) {
	h := engine.NewHandle(&failingNative{}, nil)
	if err := h.Construct(); err == nil {
		t.Fatal("expected construct error")
	}
	if h.Constructed() {
		t.Fatal("expected handle to remain unconstructed")
	}
	expectPrecondition(t, "destroy", func() { _ = h.Destroy() })
}
