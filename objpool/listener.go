package objpool

import (
	"time"

	"go.uber.org/zap"
)

// EventKind identifies the kind of lifecycle transition an Event reports.
type EventKind int

const (
	Checkout EventKind = iota
	Checkin
	MaxPoolLimitReached
	MaxPoolLimitExceeded
	MaxSizeLimitReached
	MaxSizeLimitError
	ParametersChanged
	PoolReleased
	ValidationError
)

func (k EventKind) String() string {
	switch k {
	case Checkout:
		return "CHECKOUT"
	case Checkin:
		return "CHECKIN"
	case MaxPoolLimitReached:
		return "MAX_POOL_LIMIT_REACHED"
	case MaxPoolLimitExceeded:
		return "MAX_POOL_LIMIT_EXCEEDED"
	case MaxSizeLimitReached:
		return "MAX_SIZE_LIMIT_REACHED"
	case MaxSizeLimitError:
		return "MAX_SIZE_LIMIT_ERROR"
	case ParametersChanged:
		return "PARAMETERS_CHANGED"
	case PoolReleased:
		return "POOL_RELEASED"
	case ValidationError:
		return "VALIDATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to Listeners on every pool lifecycle transition.
type Event struct {
	Kind EventKind
	Pool *Pool
	Time time.Time
}

// Listener receives pool lifecycle events. Implementations must return
// quickly: OnEvent is invoked synchronously, and for every event except
// ParametersChanged and PoolReleased while the pool holds its internal
// lock, so a slow or blocking listener stalls every other caller of the
// pool. A panicking listener is isolated (recovered and
// logged) rather than allowed to corrupt a state transition already in
// progress.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

func (p *Pool) emit(kind EventKind) {
	if len(p.listeners) == 0 {
		return
	}
	evt := Event{Kind: kind, Pool: p, Time: time.Now()}
	for _, l := range p.listeners {
		p.deliver(l, evt)
	}
}

// deliver isolates a single listener's panic so that one broken
// subscriber cannot abort a check-out/check-in already in progress.
func (p *Pool) deliver(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("objpool: listener panicked",
				zap.String("pool", p.name), zap.String("event", evt.Kind.String()), zap.Any("recover", r))
		}
	}()
	l.OnEvent(evt)
}

// AddListener registers a Listener for pool lifecycle events.
func (p *Pool) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// RemoveListener unregisters a previously added Listener.
func (p *Pool) RemoveListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.listeners {
		if x == l {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}
