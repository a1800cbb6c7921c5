package relay

import (
	"runtime"
	"testing"
)

func TestListenerRegistry_ResolveFindsRegisteredListener(t *testing.T) {
	reg := NewListenerRegistry()
	l := NewListener("R", 1)
	reg.Register("R", l)

	got, ok := reg.Resolve("R")
	if !ok || got != l {
		t.Fatalf("expected to resolve the registered listener, got %v, %v", got, ok)
	}
	runtime.KeepAlive(l)
}

func TestListenerRegistry_WildcardFallback(t *testing.T) {
	reg := NewListenerRegistry()
	wildcard := NewListener("", 1)
	reg.Register(defaultListenerKey, wildcard)

	got, ok := reg.Resolve("unregistered-relay")
	if !ok || got != wildcard {
		t.Fatalf("expected wildcard fallback, got %v, %v", got, ok)
	}
	runtime.KeepAlive(wildcard)
}

// TestListenerRegistry_CompactsDeadWeakHandle covers the weak-handle
// claim in the registry's doc comment: once the caller's last strong
// reference to a registered Listener is gone, the registry's entry for
// it goes dead and a subsequent lookup removes it, rather than the map
// holding the Listener alive forever.
func TestListenerRegistry_CompactsDeadWeakHandle(t *testing.T) {
	reg := NewListenerRegistry()
	func() {
		l := NewListener("R", 1)
		reg.Register("R", l)
	}()

	for i := 0; i < 20; i++ {
		runtime.GC()
		if _, ok := reg.Resolve("R"); !ok {
			return
		}
	}
	t.Fatal("expected the dead weak handle to be compacted out of the registry")
}
