// Package pubsub implements channel fan-out for SUBSCRIBE, UNSUBSCRIBE
// and PUBLISH. Delivery is best-effort per subscriber: a subscriber
// whose buffer is full misses the message rather than stalling the
// publisher.
package pubsub

import "sync"

// messageBuffer bounds how far a slow subscriber may lag.
const messageBuffer = 256

// Message is one published payload tagged with its channel.
type Message struct {
	Channel string
	Payload string
}

// Subscriber is one connection's subscription set plus its delivery
// queue. A pump goroutine on the owning connection drains C.
type Subscriber struct {
	hub      *Hub
	ch       chan Message
	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

// C returns the delivery queue. It is closed when the subscriber is
// closed.
func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Count returns the number of channels currently subscribed.
func (s *Subscriber) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Channels returns the subscribed channel names.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

func (s *Subscriber) deliver(m Message) {
	select {
	case s.ch <- m:
	default:
	}
}

// Hub routes published messages to subscribers.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Subscriber]struct{})}
}

// NewSubscriber creates a subscriber bound to this hub.
func (h *Hub) NewSubscriber() *Subscriber {
	return &Subscriber{
		hub:      h,
		ch:       make(chan Message, messageBuffer),
		channels: make(map[string]struct{}),
	}
}

// Subscribe adds the subscriber to channel and returns its new
// subscription count. Subscribing twice to the same channel is a no-op.
func (h *Hub) Subscribe(s *Subscriber, channel string) int {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	n := len(s.channels)
	s.mu.Unlock()

	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()
	return n
}

// Unsubscribe removes the subscriber from channel and returns its
// remaining subscription count.
func (h *Hub) Unsubscribe(s *Subscriber, channel string) int {
	s.mu.Lock()
	delete(s.channels, channel)
	n := len(s.channels)
	s.mu.Unlock()

	h.detach(s, channel)
	return n
}

// Publish delivers payload to every subscriber of channel and returns
// how many subscribers were targeted.
func (h *Hub) Publish(channel, payload string) int {
	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	m := Message{Channel: channel, Payload: payload}
	for _, s := range targets {
		s.deliver(m)
	}
	return len(targets)
}

// Close detaches the subscriber from every channel and closes its
// delivery queue. Safe to call more than once.
func (h *Hub) Close(s *Subscriber) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	chans := make([]string, 0, len(s.channels))
	for c := range s.channels {
		chans = append(chans, c)
	}
	s.channels = make(map[string]struct{})
	s.mu.Unlock()

	for _, c := range chans {
		h.detach(s, c)
	}
	close(s.ch)
}

func (h *Hub) detach(s *Subscriber, channel string) {
	h.mu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
}
