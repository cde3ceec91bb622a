// Package events implements the listener registry behind the client's event
// stream. Each event is identified by a Kind that fixes its payload type, so
// subscribing and publishing are checked at compile time instead of relying
// on per-event method overloads.
package events

import (
	"fmt"
	"sync"

	"github.com/localrivet/gotdl/logx"
)

// Kind names an event and binds the type of its payload.
type Kind[T any] struct {
	name string
}

// NewKind declares an event kind. Kinds with the same name share listeners, so
// a name must always be used with the same payload type.
func NewKind[T any](name string) Kind[T] {
	return Kind[T]{name: name}
}

// Name returns the event name.
func (k Kind[T]) Name() string { return k.name }

// Listener identifies one registration. It is the handle used to remove it.
type Listener struct {
	event string
	id    uint64
}

// Event returns the name of the event the listener is registered for.
func (l Listener) Event() string { return l.event }

type entry struct {
	id   uint64
	once bool
	fn   func(any)
}

// ErrorSink receives failures of listeners. The emitter that owns a sink
// usually re-publishes them as an error event.
type ErrorSink func(err error)

// Emitter is a registry of listeners keyed by event name.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]entry
	onFailure ErrorSink
	logger    logx.Logger
}

// NewEmitter creates an empty emitter. onFailure, when set, is called with a
// *ListenerError whenever a listener panics.
func NewEmitter(logger logx.Logger, onFailure ErrorSink) *Emitter {
	if logger == nil {
		logger = logx.NewNopLogger()
	}
	return &Emitter{
		listeners: make(map[string][]entry),
		onFailure: onFailure,
		logger:    logger,
	}
}

// ListenerError reports a listener that panicked while handling an event.
type ListenerError struct {
	Event string
	Value interface{}
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener for %q panicked: %v", e.Event, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *ListenerError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func (e *Emitter) add(event string, once bool, fn func(any)) Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[event] = append(e.listeners[event], entry{id: e.nextID, once: once, fn: fn})
	return Listener{event: event, id: e.nextID}
}

// On registers fn for every occurrence of kind.
func On[T any](e *Emitter, kind Kind[T], fn func(T)) Listener {
	return e.add(kind.name, false, wrap(fn))
}

// AddListener is an alias of On.
func AddListener[T any](e *Emitter, kind Kind[T], fn func(T)) Listener {
	return On(e, kind, fn)
}

// Once registers fn for the next occurrence of kind only.
func Once[T any](e *Emitter, kind Kind[T], fn func(T)) Listener {
	return e.add(kind.name, true, wrap(fn))
}

func wrap[T any](fn func(T)) func(any) {
	return func(payload any) {
		v, _ := payload.(T)
		fn(v)
	}
}

// Off removes a single registration. It reports whether the listener was
// still registered.
func (e *Emitter) Off(l Listener) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[l.event]
	for i, en := range list {
		if en.id == l.id {
			e.listeners[l.event] = append(list[:i:i], list[i+1:]...)
			if len(e.listeners[l.event]) == 0 {
				delete(e.listeners, l.event)
			}
			return true
		}
	}
	return false
}

// RemoveListener is an alias of Off.
func (e *Emitter) RemoveListener(l Listener) bool {
	return e.Off(l)
}

// RemoveAll removes the listeners of an event. With onceOnly only the
// listeners registered through Once are removed.
func (e *Emitter) RemoveAll(event string, onceOnly bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[event]
	if !onceOnly {
		delete(e.listeners, event)
		return len(list)
	}
	kept := list[:0:0]
	for _, en := range list {
		if !en.once {
			kept = append(kept, en)
		}
	}
	removed := len(list) - len(kept)
	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	return removed
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit delivers payload to the listeners of kind in registration order and
// reports how many were invoked. Listeners registered or removed while the
// event is being delivered take effect from the next Emit.
func Emit[T any](e *Emitter, kind Kind[T], payload T) int {
	return e.emit(kind.name, payload)
}

func (e *Emitter) emit(event string, payload any) int {
	e.mu.Lock()
	list := e.listeners[event]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	// Once-listeners are dropped before they run so a re-entrant Emit
	// cannot invoke them twice.
	if len(list) > 0 {
		kept := list[:0:0]
		for _, en := range list {
			if !en.once {
				kept = append(kept, en)
			}
		}
		if len(kept) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = kept
		}
	}
	e.mu.Unlock()

	for _, en := range snapshot {
		e.invoke(event, en.fn, payload)
	}
	return len(snapshot)
}

func (e *Emitter) invoke(event string, fn func(any), payload any) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		lerr := &ListenerError{Event: event, Value: r}
		if e.onFailure == nil {
			e.logger.Error("%v", lerr)
			return
		}
		e.onFailure(lerr)
	}()
	fn(payload)
}
