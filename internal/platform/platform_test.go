package platform_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"enginehost/internal/binding"
	"enginehost/internal/config"
	"enginehost/internal/engine"
	"enginehost/internal/eventloop"
	"enginehost/internal/grant"
	"enginehost/internal/logging"
	"enginehost/internal/notifications"
	"enginehost/internal/platform"
	"enginehost/internal/registry"
	"enginehost/internal/worker"
)

type recordingConn struct {
	mu           sync.Mutex
	connected    []registry.Key
	disconnected int
}

func (c *recordingConn) Connected(key registry.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = append(c.connected, key)
}

func (c *recordingConn) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type harness struct {
	platform    *platform.Platform
	queue       *eventloop.Queue
	notifier    *recordingNotifier
	created     []registry.Key
	destroyed   []registry.Key
	restarted   []registry.Key
	transitions [][2]binding.State
}

func newHarness(t *testing.T, mutate func(*platform.Options)) *harness {
	t.Helper()
	h := &harness{queue: eventloop.NewQueue(), notifier: &recordingNotifier{}}
	opts := platform.Options{
		Grant:    config.Default().Grant,
		Poster:   h.queue,
		Registry: registry.New[*worker.Worker](),
		Notifier: h.notifier,
		Logger:   logging.NewNop(),
		Observer: platform.Observer{
			WorkerCreated:   func(k registry.Key) { h.created = append(h.created, k) },
			WorkerDestroyed: func(k registry.Key) { h.destroyed = append(h.destroyed, k) },
			WorkerRestarted: func(k registry.Key) { h.restarted = append(h.restarted, k) },
			BindingTransition: func(from, to binding.State) {
				h.transitions = append(h.transitions, [2]binding.State{from, to})
			},
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.platform = platform.New(opts)
	t.Cleanup(h.platform.Close)
	return h
}

func TestStartWorkerIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.platform.StartWorker(ctx, engine.Intent{Action: "main"})
	if err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	second, err := h.platform.StartWorker(ctx, engine.Intent{Action: "main"})
	if err != nil {
		t.Fatalf("second StartWorker: %v", err)
	}
	if first != second {
		t.Fatalf("expected same worker identity, got %s and %s", first, second)
	}
	if len(h.created) != 1 {
		t.Fatalf("expected one worker creation, got %d", len(h.created))
	}
	status := h.platform.Status()
	if status.Worker == nil || status.Worker.StartCount != 2 || !status.Started || status.Policy != "sticky" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestBindWorkerDeliversAsynchronously(t *testing.T) {
	h := newHarness(t, nil)
	conn := &recordingConn{}

	if err := h.platform.BindWorker(conn); err != nil {
		t.Fatalf("BindWorker: %v", err)
	}
	if len(conn.connected) != 0 {
		t.Fatal("Connected must not fire before the dispatch thread runs")
	}
	if len(h.created) != 1 {
		t.Fatal("bind must auto-create the worker")
	}
	if st := h.platform.Status(); st.Pending != 1 || st.Bound != 0 {
		t.Fatalf("expected one pending connection, got %+v", st)
	}

	h.queue.Drain()
	if len(conn.connected) != 1 || conn.connected[0] != h.created[0] {
		t.Fatalf("expected Connected with worker key, got %v", conn.connected)
	}
	if st := h.platform.Status(); st.Bound != 1 || st.Pending != 0 {
		t.Fatalf("expected one bound connection, got %+v", st)
	}
	want := [][2]binding.State{{binding.Unbound, binding.Connecting}, {binding.Connecting, binding.Bound}}
	if len(h.transitions) != 2 || h.transitions[0] != want[0] || h.transitions[1] != want[1] {
		t.Fatalf("unexpected transitions %v", h.transitions)
	}
}

func TestUnbindBeforeDeliverySuppressesConnected(t *testing.T) {
	h := newHarness(t, nil)
	conn := &recordingConn{}
	_ = h.platform.BindWorker(conn)
	h.platform.UnbindWorker(conn)
	h.queue.Drain()

	if len(conn.connected) != 0 {
		t.Fatal("abandoned connection must not receive Connected")
	}
	h.platform.UnbindWorker(conn)
	h.platform.UnbindWorker(&recordingConn{})
	if st := h.platform.Status(); st.Bound != 0 || st.Pending != 0 {
		t.Fatalf("expected no connections, got %+v", st)
	}
}

func TestReclaimRestartsStickyWorker(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	oldKey, _ := h.platform.StartWorker(ctx, engine.Intent{Action: "main"})
	conn := &recordingConn{}
	_ = h.platform.BindWorker(conn)
	h.queue.Drain()

	descriptor, err := h.platform.SetForeground(ctx, oldKey, true)
	if err != nil {
		t.Fatalf("SetForeground: %v", err)
	}
	if _, ok := h.platform.Notifications().Posted(descriptor.ID); !ok {
		t.Fatal("expected ongoing notification to be posted")
	}

	result, err := h.platform.Reclaim(ctx)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if result.Reclaimed != oldKey || result.Restarted == "" || result.Restarted == oldKey || result.Severed != 1 {
		t.Fatalf("unexpected reclaim result %+v", result)
	}
	if conn.disconnected != 1 {
		t.Fatalf("expected Disconnected on severed connection, got %d", conn.disconnected)
	}
	if _, ok := h.platform.Resolve(oldKey); ok {
		t.Fatal("reclaimed worker key must not resolve")
	}
	if _, err := h.platform.SetForeground(ctx, oldKey, true); !errors.Is(err, platform.ErrWorkerGone) {
		t.Fatalf("expected ErrWorkerGone for stale key, got %v", err)
	}
	if _, ok := h.platform.Notifications().Posted(descriptor.ID); ok {
		t.Fatal("reclamation must revoke the ongoing notification")
	}

	status := h.platform.Status()
	if status.Worker == nil || status.Worker.Key != result.Restarted || status.Worker.StartCount != 1 {
		t.Fatalf("expected restarted worker with one start command, got %+v", status.Worker)
	}
	if status.Foreground || status.Restarts != 1 || status.Bound != 0 {
		t.Fatalf("unexpected post-reclaim status %+v", status)
	}
	w, _ := h.platform.Resolve(result.Restarted)
	if w.LastIntent().Action != "" {
		t.Fatalf("sticky restart must carry an empty intent, got %+v", w.LastIntent())
	}

	if _, err := h.platform.SetForeground(ctx, result.Restarted, true); err != nil {
		t.Fatalf("SetForeground on restarted worker: %v", err)
	}
	if h.platform.Notifications().Creations() != 1 {
		t.Fatalf("channel table must survive reclamation, got %d creations", h.platform.Notifications().Creations())
	}
	if len(h.destroyed) != 1 || len(h.restarted) != 1 || len(h.created) != 2 {
		t.Fatalf("unexpected lifecycle hooks created=%d destroyed=%d restarted=%d", len(h.created), len(h.destroyed), len(h.restarted))
	}
}

func TestReclaimUnstartedWorkerStaysDead(t *testing.T) {
	h := newHarness(t, nil)
	conn := &recordingConn{}
	_ = h.platform.BindWorker(conn)
	h.queue.Drain()

	result, err := h.platform.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if result.Restarted != "" {
		t.Fatal("bound-only worker must not be restarted")
	}
	if _, err := h.platform.Reclaim(context.Background()); !errors.Is(err, platform.ErrNoWorker) {
		t.Fatalf("expected ErrNoWorker, got %v", err)
	}
}

func TestRequireBindingDeniesUnboundPromotion(t *testing.T) {
	h := newHarness(t, func(o *platform.Options) { o.RequireBinding = true })
	ctx := context.Background()
	key, _ := h.platform.StartWorker(ctx, engine.Intent{})

	if _, err := h.platform.SetForeground(ctx, key, true); !errors.Is(err, grant.ErrDenied) {
		t.Fatalf("expected ErrDenied without a bound controller, got %v", err)
	}
	if h.platform.Status().Foreground {
		t.Fatal("denied promotion must leave the worker in background")
	}

	conn := &recordingConn{}
	_ = h.platform.BindWorker(conn)
	h.queue.Drain()
	if _, err := h.platform.SetForeground(ctx, key, true); err != nil {
		t.Fatalf("SetForeground with bound controller: %v", err)
	}
	if _, err := h.platform.SetForeground(ctx, key, false); err != nil {
		t.Fatalf("SetForeground(false): %v", err)
	}

	h.platform.Close()
	want := map[notifications.Event]bool{
		notifications.EventGrantDenied:   true,
		notifications.EventGrantPromoted: true,
		notifications.EventGrantDemoted:  true,
	}
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	for _, e := range h.notifier.events {
		delete(want, e)
	}
	if len(want) != 0 {
		t.Fatalf("missing mirrored events %v (got %v)", want, h.notifier.events)
	}
}

func TestCustomDenyPolicy(t *testing.T) {
	refusal := errors.New("battery saver")
	h := newHarness(t, func(o *platform.Options) {
		o.Deny = func(registry.Key, grant.Descriptor) error { return refusal }
	})
	key, _ := h.platform.StartWorker(context.Background(), engine.Intent{})
	_, err := h.platform.SetForeground(context.Background(), key, true)
	if !errors.Is(err, grant.ErrDenied) || !errors.Is(err, refusal) {
		t.Fatalf("expected denial wrapping the policy error, got %v", err)
	}
}

func TestClosedPlatformRejectsRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.platform.Close()
	if _, err := h.platform.StartWorker(context.Background(), engine.Intent{}); !errors.Is(err, platform.ErrClosed) {
		t.Fatalf("expected ErrClosed from StartWorker, got %v", err)
	}
	if err := h.platform.BindWorker(&recordingConn{}); !errors.Is(err, platform.ErrClosed) {
		t.Fatalf("expected ErrClosed from BindWorker, got %v", err)
	}
}

func TestObserversFanOut(t *testing.T) {
	var a, b int
	combined := platform.Observers(
		platform.Observer{WorkerCreated: func(registry.Key) { a++ }},
		platform.Observer{WorkerCreated: func(registry.Key) { b++ }, Grant: grant.Observer{Demoted: func() { b++ }}},
	)
	combined.WorkerCreated("w")
	combined.Grant.Demoted()
	combined.BindingTransition(binding.Unbound, binding.Connecting)
	if a != 1 || b != 2 {
		t.Fatalf("expected fan-out to both observers, a=%d b=%d", a, b)
	}
}

func TestPromotionAfterCloseSkipsNotificationMirror(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	key, err := h.platform.StartWorker(ctx, engine.Intent{})
	if err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	w, ok := h.platform.Resolve(key)
	if !ok {
		t.Fatal("expected live worker")
	}

	h.platform.Close()
	if _, err := w.MakeForegroundActive(ctx, true); err != nil {
		t.Fatalf("MakeForegroundActive: %v", err)
	}
	h.platform.Close()

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.events) != 0 {
		t.Fatalf("expected no mirrored events after Close, got %v", h.notifier.events)
	}
}
