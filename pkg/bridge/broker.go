package bridge

import "sync"

// Broker fans bridge events out to subscribers. Each subscriber has its own
// unbounded FIFO, so publishing never blocks on a slow consumer and every
// subscriber observes events in emission order.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[*Subscriber]struct{}),
	}
}

// Subscribe adds a subscriber that will receive all subsequently published
// events.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	go sub.run()
	return sub
}

// Unsubscribe removes a subscriber and closes its event channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Publish queues ev for every subscriber and returns immediately.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		sub.push(ev)
	}
}

// Close stops every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()
	for sub := range subs {
		sub.stop()
	}
}

// Subscriber is one consumer's ordered view of the event stream.
type Subscriber struct {
	mu    sync.Mutex
	queue []Event

	out  chan Event
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Events returns the channel delivering this subscriber's events. It is
// closed on unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.out
}

func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
