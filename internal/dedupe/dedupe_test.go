package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_Observe(t *testing.T) {
	reg := NewRegistry(0)

	if reg.Observe("fp-1") {
		t.Error("first observation must report not seen")
	}
	if !reg.Observe("fp-1") {
		t.Error("second observation must report seen")
	}
	if reg.Observe("fp-2") {
		t.Error("distinct fingerprint must report not seen")
	}
}

func TestRegistry_Seen(t *testing.T) {
	reg := NewRegistry(0)

	if reg.Seen("fp-1") {
		t.Error("Seen before Observe must be false")
	}
	reg.Observe("fp-1")
	if !reg.Seen("fp-1") {
		t.Error("Seen after Observe must be true")
	}
	// Seen must not record
	if reg.Seen("fp-2") {
		t.Error("Seen must not record fingerprints")
	}
	if reg.Observe("fp-2") {
		t.Error("Observe after Seen-only lookup must report not seen")
	}
}

func TestRegistry_Expiry(t *testing.T) {
	reg := NewRegistry(20 * time.Millisecond)
	reg.Observe("fp-1")
	time.Sleep(50 * time.Millisecond)
	if reg.Seen("fp-1") {
		t.Error("fingerprint should have expired")
	}
}

func TestRegistry_ConcurrentObserve(t *testing.T) {
	reg := NewRegistry(0)
	const goroutines = 16

	var firsts int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !reg.Observe("shared") {
				atomic.AddInt32(&firsts, 1)
			}
		}()
	}
	wg.Wait()

	if firsts != 1 {
		t.Errorf("exactly one goroutine should win the first observation, got %d", firsts)
	}

	// Distinct keys never collide
	for i := 0; i < 10; i++ {
		if reg.Observe(fmt.Sprintf("key-%d", i)) {
			t.Errorf("key-%d reported seen on first observation", i)
		}
	}
}
