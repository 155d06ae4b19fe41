package eventloop

import (
	"sync"
)

// Poster accepts work for later execution on a dispatch thread. Post reports
// false when the poster has been shut down and fn will never run.
type Poster interface {
	Post(fn func()) bool
}

// Looper runs posted functions sequentially on a dedicated goroutine.
type Looper struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	running bool
	closed  bool
	done    chan struct{}
}

// NewLooper starts a looper goroutine.
func NewLooper() *Looper {
	l := &Looper{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.loop()
	return l
}

func (l *Looper) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.pending = append(l.pending, fn)
	l.cond.Broadcast()
	return true
}

func (l *Looper) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.running = true
		l.mu.Unlock()

		fn()

		l.mu.Lock()
		l.running = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// Sync blocks until every function posted before the call has run. It must
// not be called from the looper goroutine.
func (l *Looper) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.pending) > 0 || l.running {
		l.cond.Wait()
	}
}

// Close stops accepting work, runs what is already queued, and waits for the
// goroutine to exit.
func (l *Looper) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

// Queue buffers posted functions until Drain runs them on the caller's
// goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
}

// NewQueue returns an empty manual queue.
func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, fn)
	return true
}

// Len reports how many functions are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Step runs the oldest pending function and reports whether one ran.
func (q *Queue) Step() bool {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	fn := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.mu.Unlock()
	fn()
	return true
}

// Drain runs pending functions, including ones posted while draining, until
// the queue is empty. It returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for q.Step() {
		n++
	}
	return n
}

// Discard drops everything pending without running it.
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

// Close makes future Post calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Inline runs posted functions immediately on the posting goroutine.
type Inline struct{}

func (Inline) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	fn()
	return true
}
