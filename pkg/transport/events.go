package transport

import (
	"encoding/json"
	"fmt"
	"sync"
)

// State is the lifecycle state of a WebsocketTransport.
type State int

const (
	StateConnecting State = iota + 1
	StateOpen
	StateClosing
	StateError
	StateReconnecting
	StateClosed
	StateDisposed
)

var stateNames = map[State]string{
	StateConnecting:   "connecting",
	StateOpen:         "open",
	StateClosing:      "closing",
	StateError:        "error",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
	StateDisposed:     "disposed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool { return s == StateClosed || s == StateDisposed }

// Event is something a WebsocketTransport reports to its observers.
type Event int

const (
	// EventStateChanged fires on every state transition.
	EventStateChanged Event = iota + 1
	// EventOpen fires when the socket opens, before resubscription.
	EventOpen
	// EventConnected fires after resubscription and the flush of deferred writes.
	EventConnected
	// EventReady follows EventConnected; calls are now written immediately.
	EventReady
	// EventNotification fires for a server notification that is not tied to a subscription.
	EventNotification
	// EventError fires for dial failures, protocol errors and abnormal closes.
	EventError
	// EventDisconnected fires when an open socket goes away.
	EventDisconnected
	// EventReconnecting fires when a reconnect has been scheduled.
	EventReconnecting
	// EventClosed fires on a terminal close.
	EventClosed
	// EventDisposed fires once Dispose has torn the transport down.
	EventDisposed
	// EventSubscriptionLost fires, before EventConnected, for each subscription the
	// server refused to restore after a reconnect. The record is no longer tracked.
	EventSubscriptionLost
)

var eventNames = map[Event]string{
	EventStateChanged:     "state_changed",
	EventOpen:             "open",
	EventConnected:        "connected",
	EventReady:            "ready",
	EventNotification:     "notification",
	EventError:            "error",
	EventDisconnected:     "disconnected",
	EventReconnecting:     "reconnecting",
	EventClosed:           "closed",
	EventDisposed:         "disposed",
	EventSubscriptionLost: "subscription_lost",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// EventInfo describes one emitted event. Fields not relevant to the event are zero.
type EventInfo struct {
	Event        Event
	State        State
	Err          error
	Method       string
	Params       json.RawMessage
	Attempt      int
	// Subscription is the stale subscription ID of an EventSubscriptionLost.
	Subscription string
}

// EventHandler observes events. Handlers run on the transport's goroutines: they must
// not block and must not call Dispose synchronously.
type EventHandler func(EventInfo)

type handlerEntry struct {
	id uint64
	fn EventHandler
}

// dispatcher is a typed dispatch table from Event to handlers.
type dispatcher struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Event][]handlerEntry
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[Event][]handlerEntry)}
}

func (d *dispatcher) on(e Event, fn EventHandler) (unregister func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[e] = append(d.handlers[e], handlerEntry{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		entries := d.handlers[e]
		for i, h := range entries {
			if h.id == id {
				d.handlers[e] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) emit(info EventInfo) {
	d.mu.RLock()
	entries := append([]handlerEntry(nil), d.handlers[info.Event]...)
	d.mu.RUnlock()

	for _, h := range entries {
		h.fn(info)
	}
}
