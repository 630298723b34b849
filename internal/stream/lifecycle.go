package stream

import (
	"sync"
	"time"
)

type Stage string

const (
	StageStart    Stage = "start"
	StageReceived Stage = "received"
	StageRendered Stage = "rendered"
)

// Marker is one lifecycle event of an epoch.
type Marker struct {
	Stage     Stage
	Epoch     uint64
	Step      int64
	IsPartial bool
	Elements  map[string]int
	At        time.Time
}

// Lifecycle fans epoch markers out to subscribers in publish order. Each
// subscriber has an unbounded queue, so a slow consumer never blocks the
// engine and never loses a marker. It is closed only when the session ends.
type Lifecycle struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	last    Marker
	hasLast bool
	closed  bool
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{subs: make(map[int]*subscriber)}
}

func (l *Lifecycle) Publish(m Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.last = m
	l.hasLast = true
	for _, s := range l.subs {
		s.push(m)
	}
}

// Last returns the most recent marker.
func (l *Lifecycle) Last() (Marker, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.hasLast
}

// Subscribe returns a channel of markers published from now on and a
// function that cancels the subscription.
func (l *Lifecycle) Subscribe() (<-chan Marker, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan Marker),
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	if l.closed {
		s.closed = true
	} else {
		l.subs[id] = s
	}
	l.mu.Unlock()
	go s.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(s.stop)
		})
	}
	return s.out, cancel
}

// Close ends the stream; subscribers drain queued markers then see their
// channel closed.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, s := range l.subs {
		s.finish()
		delete(l.subs, id)
	}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Marker
	closed bool
	wake   chan struct{}
	stop   chan struct{}
	out    chan Marker
}

func (s *subscriber) push(m Marker) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, m := range batch {
			select {
			case s.out <- m:
			case <-s.stop:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}
