package binding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"enginehost/internal/binding"
	"enginehost/internal/eventloop"
	"enginehost/internal/logging"
	"enginehost/internal/registry"
)

type fakeBinder struct {
	binds    []binding.Conn
	unbinds  []binding.Conn
	reject   error
	onUnbind func()
}

func (b *fakeBinder) BindWorker(conn binding.Conn) error {
	if b.reject != nil {
		return b.reject
	}
	b.binds = append(b.binds, conn)
	return nil
}

func (b *fakeBinder) UnbindWorker(conn binding.Conn) {
	b.unbinds = append(b.unbinds, conn)
	if b.onUnbind != nil {
		b.onUnbind()
	}
}

func (b *fakeBinder) last() binding.Conn {
	return b.binds[len(b.binds)-1]
}

func newQueuedChannel(binder binding.Binder, changes *[]binding.Change) (*binding.Channel, *eventloop.Queue) {
	queue := eventloop.NewQueue()
	ch := binding.NewChannel(binder, binding.Options{
		Poster: queue,
		Logger: logging.NewNop(),
		OnChange: func(c binding.Change) {
			if changes != nil {
				*changes = append(*changes, c)
			}
		},
	})
	return ch, queue
}

func TestChannelConnectIsAsynchronous(t *testing.T) {
	binder := &fakeBinder{}
	ch, queue := newQueuedChannel(binder, nil)

	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ch.State() != binding.Connecting {
		t.Fatalf("expected connecting, got %s", ch.State())
	}
	if _, ok := ch.Worker(); ok {
		t.Fatal("worker must not resolve before onConnected")
	}

	binder.last().Connected(registry.Key("w1"))
	if ch.State() != binding.Connecting {
		t.Fatal("callback must wait for the dispatch thread")
	}
	queue.Drain()

	key, ok := ch.Worker()
	if !ok || key != "w1" {
		t.Fatalf("expected bound to w1, got %q ok=%v", key, ok)
	}
}

func TestChannelDisconnectOnUnboundIsSilent(t *testing.T) {
	binder := &fakeBinder{}
	var changes []binding.Change
	ch, _ := newQueuedChannel(binder, &changes)

	ch.Disconnect()
	ch.Disconnect()

	if len(binder.unbinds) != 0 || len(changes) != 0 {
		t.Fatalf("expected no observable effect, unbinds=%d changes=%d", len(binder.unbinds), len(changes))
	}
}

func TestChannelDisconnectedBeforeConnectedDiscardsLateCallback(t *testing.T) {
	binder := &fakeBinder{}
	ch, queue := newQueuedChannel(binder, nil)

	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn := binder.last()
	conn.Disconnected()
	conn.Connected(registry.Key("stale"))
	queue.Drain()

	if ch.State() != binding.Unbound {
		t.Fatalf("expected unbound after race, got %s", ch.State())
	}
	if _, ok := ch.Worker(); ok {
		t.Fatal("stale worker reference must be discarded")
	}
}

func TestChannelAbandonedBindIgnoresLateConnected(t *testing.T) {
	binder := &fakeBinder{}
	ch, queue := newQueuedChannel(binder, nil)

	_ = ch.Connect()
	first := binder.last()
	ch.Disconnect()
	if len(binder.unbinds) != 1 || binder.unbinds[0] != first {
		t.Fatal("expected abandoned bind to be unbound")
	}

	_ = ch.Connect()
	second := binder.last()
	first.Connected(registry.Key("old"))
	queue.Drain()
	if ch.State() != binding.Connecting {
		t.Fatalf("late callback for abandoned attempt must be ignored, got %s", ch.State())
	}

	second.Connected(registry.Key("new"))
	queue.Drain()
	if key, _ := ch.Worker(); key != "new" {
		t.Fatalf("expected current attempt to bind, got %q", key)
	}
}

func TestChannelBoundDisconnectUnbindsOnce(t *testing.T) {
	binder := &fakeBinder{}
	var changes []binding.Change
	ch, queue := newQueuedChannel(binder, &changes)

	_ = ch.Connect()
	binder.last().Connected(registry.Key("w1"))
	queue.Drain()
	ch.Disconnect()
	ch.Disconnect()

	if len(binder.unbinds) != 1 {
		t.Fatalf("expected exactly one unbind, got %d", len(binder.unbinds))
	}
	want := []binding.State{binding.Connecting, binding.Bound, binding.Unbound}
	if len(changes) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), changes)
	}
	for i, c := range changes {
		if c.To != want[i] {
			t.Fatalf("transition %d: got %s want %s", i, c.To, want[i])
		}
	}
}

func TestChannelRejectedBindReturnsError(t *testing.T) {
	binder := &fakeBinder{reject: errors.New("no such service")}
	var changes []binding.Change
	ch, _ := newQueuedChannel(binder, &changes)

	if err := ch.Connect(); err == nil {
		t.Fatal("expected rejection error")
	}
	if ch.State() != binding.Unbound {
		t.Fatalf("expected unbound after rejection, got %s", ch.State())
	}
	if len(binder.unbinds) != 0 {
		t.Fatal("rejected bind must not be unbound")
	}
	if len(changes) != 2 || changes[1].Cause != binding.EventRejected || changes[1].Err == nil {
		t.Fatalf("expected connecting then rejected changes, got %+v", changes)
	}
	if _, err := ch.WaitBound(context.Background()); err == nil || errors.Is(err, binding.ErrNotConnected) {
		t.Fatalf("expected WaitBound to surface the rejection, got %v", err)
	}
}

func TestChannelConnectTimeout(t *testing.T) {
	unbound := make(chan struct{})
	binder := &fakeBinder{onUnbind: func() { close(unbound) }}
	timedOut := make(chan binding.Change, 1)
	ch := binding.NewChannel(binder, binding.Options{
		ConnectTimeout: 20 * time.Millisecond,
		Logger:         logging.NewNop(),
		OnChange: func(c binding.Change) {
			if c.Cause == binding.EventTimeout {
				timedOut <- c
			}
		},
	})

	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := ch.WaitBound(ctx); !errors.Is(err, binding.ErrBindTimeout) {
		t.Fatalf("expected ErrBindTimeout, got %v", err)
	}
	select {
	case c := <-timedOut:
		if !errors.Is(c.Err, binding.ErrBindTimeout) {
			t.Fatalf("expected timeout error on change, got %v", c.Err)
		}
	case <-ctx.Done():
		t.Fatal("timeout change was not reported")
	}
	select {
	case <-unbound:
	case <-ctx.Done():
		t.Fatal("expected timed out bind to be abandoned")
	}
}

func TestChannelWaitBoundReturnsKey(t *testing.T) {
	binder := &fakeBinder{}
	ch := binding.NewChannel(binder, binding.Options{Poster: eventloop.Inline{}, Logger: logging.NewNop()})
	if _, err := ch.WaitBound(context.Background()); !errors.Is(err, binding.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connect, got %v", err)
	}

	_ = ch.Connect()
	go binder.last().Connected(registry.Key("w9"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key, err := ch.WaitBound(ctx)
	if err != nil || key != "w9" {
		t.Fatalf("expected w9, got %q err=%v", key, err)
	}
}
