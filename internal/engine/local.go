package engine

import (
	"errors"
	"sync"
)

// ErrUnknownInstance is returned when a Ref does not name a live instance.
var ErrUnknownInstance = errors.New("unknown engine instance")

// Local is an in-process engine. It tracks live instances and records the
// intents each one received.
type Local struct {
	mu        sync.Mutex
	next      Ref
	live      map[Ref][]Intent
	destroyed int
}

// NewLocal returns an empty in-process engine.
func NewLocal() *Local {
	return &Local{next: 1, live: make(map[Ref][]Intent)}
}

func (l *Local) ConstructNativeClass() (Ref, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref := l.next
	l.next++
	l.live[ref] = nil
	return ref, nil
}

func (l *Local) DestroyNativeClass(ref Ref) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live[ref]; !ok {
		return ErrUnknownInstance
	}
	delete(l.live, ref)
	l.destroyed++
	return nil
}

func (l *Local) AppNewIntent(ref Ref, intent Intent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	intents, ok := l.live[ref]
	if !ok {
		return ErrUnknownInstance
	}
	l.live[ref] = append(intents, intent)
	return nil
}

// Live returns the number of constructed, not yet destroyed instances.
func (l *Local) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// Destroyed returns how many instances have been destroyed.
func (l *Local) Destroyed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// Intents returns a copy of the intents delivered to ref.
func (l *Local) Intents(ref Ref) []Intent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Intent(nil), l.live[ref]...)
}
