package lottery

import (
	"sync"

	"github.com/dedis/lottery/raffle/base"
	"go.dedis.ch/onet/v3/log"
)

const subscriberBuffer = 16

// EventLog stores the events and assigns their sequence numbers.
type EventLog interface {
	AppendEvent(ev *base.Event) error
}

// Subscriber receives the events emitted after it subscribed. Events are
// dropped for subscribers that do not keep up; they can catch up from the
// event log.
type Subscriber struct {
	ch chan base.Event
}

// Chan is closed when the subscriber is removed.
func (s *Subscriber) Chan() <-chan base.Event {
	return s.ch
}

// Hub appends the events of the raffle to the event log and fans them out
// to the subscribers. It implements raffle.EventSink.
type Hub struct {
	sync.Mutex
	events  EventLog
	clients map[*Subscriber]struct{}
	closed  bool
}

// NewHub returns a hub persisting to events, which may be nil.
func NewHub(events EventLog) *Hub {
	return &Hub{
		events:  events,
		clients: make(map[*Subscriber]struct{}),
	}
}

// Emit never blocks on a subscriber.
func (h *Hub) Emit(ev *base.Event) {
	if h.events != nil {
		if err := h.events.AppendEvent(ev); err != nil {
			log.Errorf("Storing event %s: %v", ev.Type, err)
		}
	}
	log.Lvlf3("Event %d: %s round %d", ev.Seq, ev.Type, ev.Round)
	h.Lock()
	defer h.Unlock()
	for c := range h.clients {
		select {
		case c.ch <- *ev:
		default:
			log.Lvl2("Dropping event for slow subscriber")
		}
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	h.Lock()
	defer h.Unlock()
	s := &Subscriber{ch: make(chan base.Event, subscriberBuffer)}
	if h.closed {
		close(s.ch)
		return s
	}
	h.clients[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.Lock()
	defer h.Unlock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.ch)
	}
}

// Close removes all subscribers.
func (h *Hub) Close() {
	h.Lock()
	defer h.Unlock()
	for s := range h.clients {
		delete(h.clients, s)
		close(s.ch)
	}
	h.closed = true
}
