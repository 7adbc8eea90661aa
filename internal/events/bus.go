package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSubscriberBuffer is the queue depth per subscriber before older
// progress events start getting shed.
const DefaultSubscriberBuffer = 256

// Bus fans events out to subscribers. Each subscriber owns a bounded queue;
// when a slow consumer falls behind, the oldest droppable event in its queue
// is discarded first. Terminal and state events are always retained.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	onDrop func(Event)
	logger zerolog.Logger
}

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	max    int
	closed bool
	ch     chan Event
}

// NewBus creates an empty Bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// OnDrop registers a callback invoked with every event the bus sheds. Used
// to feed a drop counter.
func (b *Bus) OnDrop(fn func(Event)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a consumer with the given queue depth (0 means
// DefaultSubscriberBuffer). The returned cancel function releases the
// subscription and closes the channel once pending events drain.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &subscriber{max: buffer, ch: make(chan Event)}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.pump()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber. It never blocks on a slow
// consumer.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	onDrop := b.onDrop
	b.mu.Unlock()

	for _, s := range subs {
		if shed, dropped := s.offer(e); dropped {
			b.logger.Debug().Str("kind", string(shed.Kind)).Msg("dropped progress event for slow subscriber")
			if onDrop != nil {
				onDrop(shed)
			}
		}
	}
}

// offer enqueues e, shedding the oldest droppable event if the queue is
// full. Returns the shed event when one was discarded.
func (s *subscriber) offer(e Event) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, false
	}

	var shed Event
	dropped := false
	if len(s.queue) >= s.max {
		for i, queued := range s.queue {
			if queued.Droppable() {
				shed = queued
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped && e.Droppable() {
			// Queue is all non-droppable; shed the incoming progress event.
			return e, true
		}
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
	return shed, dropped
}

// pump moves events from the queue onto the subscriber channel in order.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.ch <- e
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()

	// Drain so pump can finish even if nobody reads the channel.
	go func() {
		for range s.ch {
		}
	}()
}
