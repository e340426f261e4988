// Package eventbus implements the in-process multi-listener dispatch
// described in spec.md §4.6: synchronous, insertion-ordered delivery
// over an emit-time snapshot, matching the ordering guarantees spec.md
// §4.6 requires.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives the arguments passed to Emit for the event it is
// registered against.
type Listener func(args ...any)

// Subscription identifies a registered listener for Off.
type Subscription struct {
	event string
	id    uint64
}

type entry struct {
	id   uint64
	fn   Listener
	once bool
}

// Bus is a synchronous, multi-listener event dispatcher with error
// isolation between listeners (spec.md §4.6).
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]*entry
	seq       uint64

	// MaxListeners triggers a maxListenersExceeded warning event (not an
	// error) once an event's listener count would exceed it. Zero means
	// unlimited.
	MaxListeners int

	// CaptureRejections controls what happens when a listener panics: if
	// true, the panic is re-routed to an "error" emit; if false, it is
	// logged and dispatch continues with the next listener.
	CaptureRejections bool

	Log zerolog.Logger
}

// New creates an empty Bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{listeners: make(map[string][]*entry), Log: log}
}

// On registers fn to run on every future Emit of event, in the order
// registered.
func (b *Bus) On(event string, fn Listener) Subscription {
	return b.add(event, fn, false)
}

// Once registers fn to run at most once, removed after its first Emit.
func (b *Bus) Once(event string, fn Listener) Subscription {
	return b.add(event, fn, true)
}

func (b *Bus) add(event string, fn Listener, once bool) Subscription {
	b.mu.Lock()

	b.seq++
	id := b.seq
	b.listeners[event] = append(b.listeners[event], &entry{id: id, fn: fn, once: once})

	exceeded := b.MaxListeners > 0 && len(b.listeners[event]) > b.MaxListeners

	b.mu.Unlock()

	if exceeded {
		b.Emit("maxListenersExceeded", event, b.MaxListeners)
	}

	return Subscription{event: event, id: id}
}

// Off removes a previously registered listener.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.listeners[sub.event]
	for i, e := range list {
		if e.id == sub.id {
			b.listeners[sub.event] = append(list[:i], list[i+1:]...)

			return
		}
	}
}

// ListenerCount returns the number of listeners currently registered for
// event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.listeners[event])
}

// Emit dispatches args to every listener registered for event,
// synchronously, in insertion order, on a snapshot taken before
// dispatch begins (mutations a listener makes to the registration list
// do not affect this dispatch, spec.md §4.6).
func (b *Bus) Emit(event string, args ...any) {
	b.mu.Lock()
	snapshot := append([]*entry(nil), b.listeners[event]...)

	if len(snapshot) > 0 {
		// remove fired "once" listeners up front so a re-entrant Emit from
		// within a listener can't observe or refire them.
		var onceIDs map[uint64]bool
		for _, e := range snapshot {
			if e.once {
				if onceIDs == nil {
					onceIDs = make(map[uint64]bool)
				}
				onceIDs[e.id] = true
			}
		}

		if onceIDs != nil {
			kept := b.listeners[event][:0]
			for _, e := range b.listeners[event] {
				if !onceIDs[e.id] {
					kept = append(kept, e)
				}
			}
			b.listeners[event] = kept
		}
	}

	b.mu.Unlock()

	if len(snapshot) == 0 {
		if event == "error" {
			// Emitting error with no listeners is fatal (spec.md §4.6).
			var msg any
			if len(args) > 0 {
				msg = args[0]
			}

			panic(fmt.Sprintf("eventbus: unhandled 'error' event: %v", msg))
		}

		return
	}

	for _, e := range snapshot {
		b.dispatch(e, args)
	}
}

func (b *Bus) dispatch(e *entry, args []any) {
	defer func() {
		if r := recover(); r != nil {
			if b.CaptureRejections {
				b.Emit("error", fmt.Errorf("eventbus: listener panic: %v", r))

				return
			}

			b.Log.Error().Interface("panic", r).Msg("eventbus: listener panicked, continuing dispatch")
		}
	}()

	e.fn(args...)
}
