package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_Acquire(t *testing.T) {
	m := NewManager(0)
	key := StreamKey("client:a", "Notion", "deep")

	if m.Acquire(key) != nil {
		t.Error("First Acquire should succeed")
	}
	if m.Acquire(key) == nil {
		t.Error("Second Acquire should fail while slot is held")
	}

	m.Release(key)
	if m.Acquire(key) != nil {
		t.Error("Acquire should succeed after Release")
	}
	m.Release(key)
	if m.Active() != 0 {
		t.Errorf("Active() = %d, want 0", m.Active())
	}
}

func TestManager_Release_Idempotent(t *testing.T) {
	m := NewManager(0)
	key := StreamKey("client:a", "Figma", "simple")

	m.Release(key)
	m.Release(key)

	_ = m.Acquire(key)
	m.Release(key)
	m.Release(key)

	if m.Acquire(key) != nil {
		t.Error("Acquire should succeed after multiple releases")
	}
	m.Release(key)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager(0)
	key := StreamKey("client:a", "Slack", "simple")

	const numGoroutines = 10
	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			if m.Acquire(key) == nil {
				n := holders.Add(1)
				for {
					cur := maxHolders.Load()
					if n <= cur || maxHolders.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				holders.Add(-1)
				m.Release(key)
			}
		}()
	}
	wg.Wait()

	if maxHolders.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxHolders.Load())
	}
}

func TestManager_Limit(t *testing.T) {
	m := NewManager(2)

	if m.Acquire("a") != nil || m.Acquire("b") != nil {
		t.Fatal("first two slots should be granted")
	}
	if m.Acquire("c") == nil {
		t.Error("third slot should be refused at the limit")
	}
	m.Release("a")
	if m.Acquire("c") != nil {
		t.Error("slot should be granted after a release")
	}
}

func TestManager_AcquireReasons(t *testing.T) {
	m := NewManager(1)
	if err := m.Acquire("a"); err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	if err := m.Acquire("a"); !errors.Is(err, ErrBusy) {
		t.Errorf("Acquire(a) again error = %v, want ErrBusy", err)
	}
	if err := m.Acquire("b"); !errors.Is(err, ErrLimit) {
		t.Errorf("Acquire(b) error = %v, want ErrLimit", err)
	}
}

func TestStreamKey(t *testing.T) {
	tests := []struct {
		a, b  [3]string
		equal bool
	}{
		{[3]string{"client:a", "Notion", "deep"}, [3]string{"client:a", " notion ", "deep"}, true},
		{[3]string{"client:a", "Notion", "deep"}, [3]string{"client:a", "Notion", "simple"}, false},
		{[3]string{"client:a", "Notion", "deep"}, [3]string{"client:b", "Notion", "deep"}, false},
	}
	for _, tt := range tests {
		got := StreamKey(tt.a[0], tt.a[1], tt.a[2]) == StreamKey(tt.b[0], tt.b[1], tt.b[2])
		if got != tt.equal {
			t.Errorf("StreamKey(%v) == StreamKey(%v) is %v, want %v", tt.a, tt.b, got, tt.equal)
		}
	}
}
