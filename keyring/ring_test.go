package keyring

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/jframe/crypto"
)

// fakeClock is a settable TimeProvider for grace-window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testMaterial(t *testing.T) []byte {
	t.Helper()
	m, err := crypto.GenerateKeyMaterial()
	if err != nil {
		t.Fatalf("GenerateKeyMaterial() failed: %v", err)
	}
	return m
}

func TestNewRingStartsDisabled(t *testing.T) {
	t.Parallel()

	r := NewRing("alice", 0)
	if _, ok := r.CurrentKey(); ok {
		t.Error("New ring must start with no current key")
	}
	if _, ok := r.KeyAt(0); ok {
		t.Error("New ring must have no slots")
	}
}

func TestSetKeyAndLookup(t *testing.T) {
	t.Parallel()

	r := NewRing("alice", 0)
	if err := r.SetKey(testMaterial(t), 3); err != nil {
		t.Fatalf("SetKey() failed: %v", err)
	}

	cur, ok := r.CurrentKey()
	if !ok {
		t.Fatal("CurrentKey() returned no key after SetKey")
	}
	if cur.Index() != 3 {
		t.Errorf("Current index = %d, want 3", cur.Index())
	}
	if cur.AEAD() == nil {
		t.Error("Slot must carry a derived AEAD")
	}

	if _, ok := r.KeyAt(3); !ok {
		t.Error("KeyAt(3) must find the installed slot")
	}
	if _, ok := r.KeyAt(4); ok {
		t.Error("KeyAt(4) must miss")
	}
}

func TestSetKeyIndexRange(t *testing.T) {
	t.Parallel()

	r := NewRing("alice", 0)
	if err := r.SetKey(testMaterial(t), SlotCount); err != ErrKeyIndexRange {
		t.Errorf("SetKey(index=%d): got %v, want ErrKeyIndexRange", SlotCount, err)
	}
}

func TestRotationKeepsPreviousWithinGrace(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := NewRing("alice", 10*time.Second)
	r.SetTimeProvider(clock)

	if err := r.SetKey(testMaterial(t), 0); err != nil {
		t.Fatalf("SetKey(0) failed: %v", err)
	}
	if err := r.SetKey(testMaterial(t), 1); err != nil {
		t.Fatalf("SetKey(1) failed: %v", err)
	}

	cur, _ := r.CurrentKey()
	if cur.Index() != 1 {
		t.Errorf("Current index = %d, want 1", cur.Index())
	}

	// Within the grace window the superseded slot still resolves.
	clock.Advance(5 * time.Second)
	if _, ok := r.KeyAt(0); !ok {
		t.Error("Superseded slot must stay decryptable within the grace window")
	}

	// Past the window the slot reports a miss even before a sweep.
	clock.Advance(6 * time.Second)
	if _, ok := r.KeyAt(0); ok {
		t.Error("Superseded slot must expire after the grace window")
	}

	r.Expire()
	if _, ok := r.KeyAt(0); ok {
		t.Error("Expire() must wipe the superseded slot")
	}
	if _, ok := r.KeyAt(1); !ok {
		t.Error("Expire() must keep the current slot")
	}
}

func TestMonotonicRotation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := NewRing("alice", time.Minute)
	r.SetTimeProvider(clock)

	if err := r.SetKey(testMaterial(t), 0); err != nil {
		t.Fatalf("SetKey(0) failed: %v", err)
	}
	if err := r.SetKey(testMaterial(t), 1); err != nil {
		t.Fatalf("SetKey(1) failed: %v", err)
	}

	// Index 0 still holds a superseded key: reuse must be refused.
	if err := r.SetKey(testMaterial(t), 0); err != ErrKeyIndexRegressed {
		t.Errorf("SetKey regressing to 0: got %v, want ErrKeyIndexRegressed", err)
	}

	// Re-installing the current index is a replace, not a regression.
	if err := r.SetKey(testMaterial(t), 1); err != nil {
		t.Errorf("SetKey replacing current index failed: %v", err)
	}

	// After an explicit reset the old index is usable again.
	r.Reset()
	if err := r.SetKey(testMaterial(t), 0); err != nil {
		t.Errorf("SetKey(0) after Reset failed: %v", err)
	}
}

func TestSetKeyNilDisables(t *testing.T) {
	t.Parallel()

	r := NewRing("alice", 0)
	if err := r.SetKey(testMaterial(t), 2); err != nil {
		t.Fatalf("SetKey() failed: %v", err)
	}
	if err := r.SetKey(nil, 0); err != nil {
		t.Fatalf("SetKey(nil) failed: %v", err)
	}

	if _, ok := r.CurrentKey(); ok {
		t.Error("SetKey(nil) must disable the ring")
	}
	if _, ok := r.KeyAt(2); ok {
		t.Error("SetKey(nil) must wipe all slots")
	}
}

func TestConcurrentReadersDuringRotation(t *testing.T) {
	t.Parallel()

	r := NewRing("alice", time.Minute)
	if err := r.SetKey(testMaterial(t), 0); err != nil {
		t.Fatalf("SetKey() failed: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if slot, ok := r.CurrentKey(); ok && slot.AEAD() == nil {
					t.Error("Observed slot without AEAD")
					return
				}
			}
		}()
	}

	for idx := uint8(1); idx < SlotCount; idx++ {
		if err := r.SetKey(testMaterial(t), idx); err != nil {
			t.Fatalf("SetKey(%d) failed: %v", idx, err)
		}
	}
	close(done)
	wg.Wait()
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore(0)

	r1 := s.Ring("alice")
	r2 := s.Ring("alice")
	if r1 != r2 {
		t.Error("Store must return the same ring per participant")
	}

	if err := s.SetKey("bob", testMaterial(t), 0); err != nil {
		t.Fatalf("Store.SetKey() failed: %v", err)
	}
	if _, ok := s.Get("bob"); !ok {
		t.Error("SetKey must create the ring")
	}

	s.Remove("bob")
	if _, ok := s.Get("bob"); ok {
		t.Error("Remove must destroy the ring")
	}

	s.Clear()
	if _, ok := s.Get("alice"); ok {
		t.Error("Clear must destroy all rings")
	}
}
