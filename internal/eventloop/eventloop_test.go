package eventloop_test

import (
	"sync"
	"testing"

	"enginehost/internal/eventloop"
)

func TestLooperRunsInPostOrder(t *testing.T) {
	l := eventloop.NewLooper()
	defer l.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if !l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("post %d rejected", i)
		}
	}
	l.Sync()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("expected 50 callbacks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran out of order (got %d)", i, v)
		}
	}
}

func TestLooperRejectsPostAfterClose(t *testing.T) {
	l := eventloop.NewLooper()
	ran := make(chan struct{}, 1)
	l.Post(func() { ran <- struct{}{} })
	l.Close()
	select {
	case <-ran:
	default:
		t.Fatal("expected queued work to run before close returned")
	}
	if l.Post(func() {}) {
		t.Fatal("expected post after close to be rejected")
	}
	l.Close()
}

func TestQueueHoldsWorkUntilDrained(t *testing.T) {
	q := eventloop.NewQueue()
	var order []string
	q.Post(func() {
		order = append(order, "first")
		q.Post(func() { order = append(order, "nested") })
	})
	q.Post(func() { order = append(order, "second") })

	if len(order) != 0 {
		t.Fatal("expected nothing to run before Drain")
	}
	if n := q.Drain(); n != 3 {
		t.Fatalf("expected 3 functions drained, got %d", n)
	}
	want := []string{"first", "second", "nested"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
}

func TestQueueDiscardAndClose(t *testing.T) {
	q := eventloop.NewQueue()
	q.Post(func() { t.Fatal("discarded work must not run") })
	if n := q.Discard(); n != 1 {
		t.Fatalf("expected 1 discarded, got %d", n)
	}
	q.Close()
	if q.Post(func() {}) {
		t.Fatal("expected post after close to fail")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}
