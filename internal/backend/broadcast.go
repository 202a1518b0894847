package backend

import (
	"sync"

	"github.com/and161185/qr-media-share/internal/model"
)

type delivery struct {
	event   model.AuthEvent
	session *model.Session
}

// Broadcaster fans session transitions out to subscribers. Each subscriber
// has its own goroutine, so a slow handler never blocks the publisher and
// every handler sees transitions in publish order.
type Broadcaster struct {
	mu      sync.Mutex
	current *model.Session
	subs    map[*subscriber]struct{}
	closed  bool
}

// NewBroadcaster starts with current as the session reported to new subscribers.
func NewBroadcaster(current *model.Session) *Broadcaster {
	return &Broadcaster{current: cloneSession(current), subs: make(map[*subscriber]struct{})}
}

func cloneSession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Subscribe registers h and queues AuthInitialSession with the current session.
func (b *Broadcaster) Subscribe(h SessionHandler) Subscription {
	s := &subscriber{h: h, wake: make(chan struct{}, 1), done: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.done)
		return s
	}
	b.subs[s] = struct{}{}
	s.unsubscribe = func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}
	s.push(delivery{event: model.AuthInitialSession, session: cloneSession(b.current)})
	go s.run()
	return s
}

// Publish records session as current and queues event for every subscriber.
func (b *Broadcaster) Publish(event model.AuthEvent, session *model.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.current = cloneSession(session)
	for s := range b.subs {
		s.push(delivery{event: event, session: cloneSession(session)})
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close cancels every subscriber. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[*subscriber]struct{}{}
	b.closed = true
	b.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}

type subscriber struct {
	h           SessionHandler
	mu          sync.Mutex
	queue       []delivery
	wake        chan struct{}
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

func (s *subscriber) push(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.h(d.event, d.session)
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Cancel stops delivery and detaches the subscriber.
func (s *subscriber) Cancel() {
	s.stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}
