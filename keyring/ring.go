package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jframe/crypto"
)

// SlotCount is the number of key slots per ring, bounded by the 4-bit
// key index field in the frame trailer.
const SlotCount = 16

// DefaultGraceWindow is how long a superseded slot stays decryptable
// after a rotation before it is wiped.
const DefaultGraceWindow = 10 * time.Second

var (
	// ErrKeyIndexRange indicates an index outside [0, SlotCount).
	ErrKeyIndexRange = errors.New("key index out of range")

	// ErrKeyIndexRegressed indicates an attempt to reinstall a key at an
	// index still occupied by a superseded slot. Rotation is monotonic per
	// participant; only an explicit Reset (rejoin) may reuse old indices.
	ErrKeyIndexRegressed = errors.New("key index regressed past a superseded slot")
)

// Slot holds one installed key: the raw material it was derived from, the
// derived AES-128 frame key, and the ready-to-use AEAD. Slots are immutable
// once published; rotation replaces them wholesale.
type Slot struct {
	index        uint8
	material     []byte
	frameKey     [crypto.FrameKeySize]byte
	aead         cipher.AEAD
	supersededAt time.Time // zero while this is the current slot
}

// Index returns the slot's key index.
func (s *Slot) Index() uint8 { return s.index }

// AEAD returns the authenticated-encryption primitive derived from the
// slot's key material.
func (s *Slot) AEAD() cipher.AEAD { return s.aead }

// ringState is an immutable snapshot of a ring. current is -1 when the
// participant has encryption disabled.
type ringState struct {
	slots   [SlotCount]*Slot
	current int
}

// Ring is the per-participant ordered set of key slots. Reads are
// lock-free against an atomic snapshot; writes serialize on mu and
// publish a new snapshot.
type Ring struct {
	participantID string
	grace         time.Duration
	clock         TimeProvider

	mu    sync.Mutex
	state atomic.Pointer[ringState]
}

// NewRing creates an empty (disabled) ring for a participant. A zero
// grace duration selects DefaultGraceWindow.
func NewRing(participantID string, grace time.Duration) *Ring {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	r := &Ring{
		participantID: participantID,
		grace:         grace,
		clock:         DefaultTimeProvider{},
	}
	r.state.Store(&ringState{current: -1})
	return r
}

// SetTimeProvider overrides the ring's clock for deterministic tests.
func (r *Ring) SetTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	r.mu.Lock()
	r.clock = tp
	r.mu.Unlock()
}

// SetKey installs key material at the given index and advances the
// current index to it. The previous current slot is marked superseded and
// stays decryptable for the grace window. Passing nil material disables
// encryption for this participant and wipes every slot.
func (r *Ring) SetKey(material []byte, index uint8) error {
	if index >= SlotCount {
		return ErrKeyIndexRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if material == nil {
		r.disableLocked()
		return nil
	}

	frameKey, err := crypto.DeriveFrameKey(material)
	if err != nil {
		return fmt.Errorf("failed to derive frame key: %w", err)
	}
	block, err := aes.NewCipher(frameKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	now := r.clock.Now()
	old := r.state.Load()
	next := r.sweepLocked(old, now)

	// Re-installing the current index replaces it in place. Installing
	// into an index still holding a superseded key would let new traffic
	// regress to an old position; refuse it.
	if existing := next.slots[index]; existing != nil && next.current != int(index) {
		return ErrKeyIndexRegressed
	}

	if old.current >= 0 && old.current != int(index) {
		if cur := next.slots[old.current]; cur != nil {
			superseded := *cur
			superseded.supersededAt = now
			next.slots[old.current] = &superseded
		}
	}
	next.slots[index] = &Slot{
		index:    index,
		material: append([]byte(nil), material...),
		frameKey: frameKey,
		aead:     aead,
	}
	next.current = int(index)
	r.state.Store(next)

	logrus.WithFields(logrus.Fields{
		"function":    "SetKey",
		"participant": r.participantID,
		"key_index":   index,
	}).Debug("Installed key slot")

	return nil
}

// CurrentKey returns the slot used for all new encodes, or false when the
// ring is disabled.
func (r *Ring) CurrentKey() (*Slot, bool) {
	st := r.state.Load()
	if st.current < 0 {
		return nil, false
	}
	return st.slots[st.current], true
}

// KeyAt returns the slot for a trailer's key index. Superseded slots past
// the grace window report a miss even before the sweep wipes them.
func (r *Ring) KeyAt(index uint8) (*Slot, bool) {
	if index >= SlotCount {
		return nil, false
	}
	st := r.state.Load()
	slot := st.slots[index]
	if slot == nil {
		return nil, false
	}
	if !slot.supersededAt.IsZero() && r.clock.Now().Sub(slot.supersededAt) > r.grace {
		return nil, false
	}
	return slot, true
}

// Expire wipes superseded slots whose grace window has passed.
func (r *Ring) Expire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Store(r.sweepLocked(r.state.Load(), r.clock.Now()))
}

// Reset clears the ring back to the empty disabled state, wiping all key
// material. Used on participant rejoin, where index reuse is legitimate.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disableLocked()
}

// disableLocked wipes every slot and publishes an empty state.
func (r *Ring) disableLocked() {
	old := r.state.Load()
	for _, slot := range old.slots {
		if slot != nil {
			crypto.ZeroBytes(slot.material)
			crypto.ZeroBytes(slot.frameKey[:])
		}
	}
	r.state.Store(&ringState{current: -1})

	logrus.WithFields(logrus.Fields{
		"function":    "disableLocked",
		"participant": r.participantID,
	}).Debug("Ring disabled, all slots wiped")
}

// sweepLocked copies the state, dropping and wiping superseded slots past
// the grace window. Caller holds mu.
func (r *Ring) sweepLocked(old *ringState, now time.Time) *ringState {
	next := &ringState{current: old.current}
	for i, slot := range old.slots {
		if slot == nil {
			continue
		}
		if !slot.supersededAt.IsZero() && now.Sub(slot.supersededAt) > r.grace {
			crypto.ZeroBytes(slot.material)
			crypto.ZeroBytes(slot.frameKey[:])
			continue
		}
		next.slots[i] = slot
	}
	return next
}
