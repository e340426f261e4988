package eventbus

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestEmitDispatchesInInsertionOrder(t *testing.T) {
	b := New(zerolog.Nop())

	var order []int
	b.On("e", func(args ...any) { order = append(order, 1) })
	b.On("e", func(args ...any) { order = append(order, 2) })
	b.On("e", func(args ...any) { order = append(order, 3) })

	b.Emit("e")

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected insertion order [1 2 3], got %v", order)
	}
}

func TestOnceListenerFiresOnlyOnce(t *testing.T) {
	b := New(zerolog.Nop())

	n := 0
	b.Once("e", func(args ...any) { n++ })

	b.Emit("e")
	b.Emit("e")

	if n != 1 {
		t.Fatalf("expected once-listener to fire exactly once, got %d", n)
	}
}

// TestEmitUsesSnapshotNotMutatedDuringDispatch verifies a listener that
// registers a new listener for the same event mid-dispatch does not
// affect the current Emit call (spec.md §4.6).
func TestEmitUsesSnapshotNotMutatedDuringDispatch(t *testing.T) {
	b := New(zerolog.Nop())

	var fired []string

	b.On("e", func(args ...any) {
		fired = append(fired, "first")
		b.On("e", func(args ...any) { fired = append(fired, "registered-during-dispatch") })
	})

	b.Emit("e")

	if len(fired) != 1 || fired[0] != "first" {
		t.Fatalf("expected only the pre-existing listener to fire, got %v", fired)
	}

	fired = nil
	b.Emit("e")

	if len(fired) != 2 {
		t.Fatalf("expected the listener added mid-dispatch to run on the next Emit, got %v", fired)
	}
}

func TestOffRemovesListener(t *testing.T) {
	b := New(zerolog.Nop())

	n := 0
	sub := b.On("e", func(args ...any) { n++ })
	b.Off(sub)
	b.Emit("e")

	if n != 0 {
		t.Fatalf("expected removed listener to not fire, got n=%d", n)
	}
}

func TestCaptureRejectionsRoutesPanicToError(t *testing.T) {
	b := New(zerolog.Nop())
	b.CaptureRejections = true

	var caught error

	b.On("error", func(args ...any) {
		if len(args) > 0 {
			if err, ok := args[0].(error); ok {
				caught = err
			}
		}
	})

	b.On("e", func(args ...any) { panic("boom") })

	b.Emit("e")

	if caught == nil {
		t.Fatal("expected the panic to be re-routed to the error event")
	}
}

func TestEmitErrorWithNoListenersIsFatal(t *testing.T) {
	b := New(zerolog.Nop())

	defer func() {
		if recover() == nil {
			t.Fatal("expected emitting error with no listeners to panic")
		}
	}()

	b.Emit("error", nil)
}

func TestMaxListenersExceededWarning(t *testing.T) {
	b := New(zerolog.Nop())
	b.MaxListeners = 1

	var warned bool
	b.On("maxListenersExceeded", func(args ...any) { warned = true })

	b.On("e", func(args ...any) {})
	b.On("e", func(args ...any) {})

	if !warned {
		t.Fatal("expected maxListenersExceeded to be emitted once the limit was exceeded")
	}
}
