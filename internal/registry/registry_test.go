package registry_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"enginehost/internal/registry"
)

type instance struct{ key registry.Key }

func TestEnsureCreatesOncePerName(t *testing.T) {
	reg := registry.New[*instance]()
	var creates atomic.Int32
	create := func(k registry.Key) (*instance, error) {
		creates.Add(1)
		return &instance{key: k}, nil
	}

	var wg sync.WaitGroup
	keys := make([]registry.Key, 16)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, _, _, err := reg.Ensure("worker", create)
			if err != nil {
				t.Errorf("Ensure: %v", err)
			}
			keys[i] = k
		}(i)
	}
	wg.Wait()

	if creates.Load() != 1 {
		t.Fatalf("expected exactly one create, got %d", creates.Load())
	}
	for _, k := range keys {
		if k != keys[0] {
			t.Fatalf("expected identical keys, got %v", keys)
		}
	}
	v, ok := reg.Lookup(keys[0])
	if !ok || v.key != keys[0] {
		t.Fatalf("expected lookup to resolve instance, ok=%v", ok)
	}
}

func TestRemovedKeyNoLongerResolves(t *testing.T) {
	reg := registry.New[*instance]()
	create := func(k registry.Key) (*instance, error) { return &instance{key: k}, nil }

	first, _, _, _ := reg.Ensure("worker", create)
	if !reg.Remove(first) {
		t.Fatal("expected remove to report live entry")
	}
	if reg.Remove(first) {
		t.Fatal("expected second remove to report absence")
	}
	if _, ok := reg.Lookup(first); ok {
		t.Fatal("expected stale key to fail resolution")
	}
	if _, _, ok := reg.Current("worker"); ok {
		t.Fatal("expected no current incarnation")
	}

	second, _, created, _ := reg.Ensure("worker", create)
	if !created || second == first {
		t.Fatalf("expected a fresh incarnation, created=%v", created)
	}
	if _, ok := reg.Lookup(first); ok {
		t.Fatal("old key must stay unresolvable after restart")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one live entry, got %d", reg.Len())
	}
}

func TestEnsurePropagatesCreateError(t *testing.T) {
	reg := registry.New[*instance]()
	boom := errors.New("boom")
	_, _, _, err := reg.Ensure("worker", func(registry.Key) (*instance, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped create error, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("expected registry to stay empty after failed create")
	}
}

func TestResetClearsEntries(t *testing.T) {
	reg := registry.New[*instance]()
	k, _, _, _ := reg.Ensure("a", func(k registry.Key) (*instance, error) { return &instance{key: k}, nil })
	reg.Reset()
	if _, ok := reg.Lookup(k); ok || reg.Len() != 0 {
		t.Fatal("expected reset to clear registry")
	}
}
