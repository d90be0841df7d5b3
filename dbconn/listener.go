package dbconn

import (
	"time"

	"github.com/dryyun/dbpool/objpool"
)

// ConnectionPoolEvent is relayed to ConnectionPoolListeners, one per
// underlying objpool.Event; a Validator rejecting a session arrives as
// the relayed objpool.ValidationError event.
type ConnectionPoolEvent struct {
	Kind objpool.EventKind
	Pool string
	Time time.Time
}

// ConnectionPoolListener observes pool-level lifecycle events. It is
// the connection-pool analogue of objpool.Listener, kept as a distinct
// type so dbconn callers do not need to import objpool just to listen.
type ConnectionPoolListener interface {
	OnConnectionPoolEvent(ConnectionPoolEvent)
}

// ConnectionPoolListenerFunc adapts a plain function to
// ConnectionPoolListener.
type ConnectionPoolListenerFunc func(ConnectionPoolEvent)

func (f ConnectionPoolListenerFunc) OnConnectionPoolEvent(evt ConnectionPoolEvent) { f(evt) }

// AddListener registers l to receive future pool events.
func (cp *ConnectionPool) AddListener(l ConnectionPoolListener) {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	cp.listeners = append(cp.listeners, l)
}

// RemoveListener deregisters l.
func (cp *ConnectionPool) RemoveListener(l ConnectionPoolListener) {
	cp.listenersMu.Lock()
	defer cp.listenersMu.Unlock()
	for i, existing := range cp.listeners {
		if existing == l {
			cp.listeners = append(cp.listeners[:i], cp.listeners[i+1:]...)
			return
		}
	}
}

// relayEvent is registered as an objpool.Listener on the underlying
// pool; it re-fires every event as a ConnectionPoolEvent so callers
// never need to see the generic objpool types.
func (cp *ConnectionPool) relayEvent(evt objpool.Event) {
	cp.fire(ConnectionPoolEvent{Kind: evt.Kind, Pool: cp.name, Time: evt.Time})
}

func (cp *ConnectionPool) fire(evt ConnectionPoolEvent) {
	cp.listenersMu.Lock()
	listeners := append([]ConnectionPoolListener{}, cp.listeners...)
	cp.listenersMu.Unlock()
	for _, l := range listeners {
		cp.deliver(l, evt)
	}
}

func (cp *ConnectionPool) deliver(l ConnectionPoolListener, evt ConnectionPoolEvent) {
	defer func() {
		if r := recover(); r != nil {
			cp.logger().Error("dbconn: listener panicked")
		}
	}()
	l.OnConnectionPoolEvent(evt)
}
