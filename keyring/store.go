package keyring

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store maps participant IDs to their rings. Rings are created on first
// sight of a participant and destroyed when the participant leaves.
type Store struct {
	grace time.Duration
	clock TimeProvider

	mu    sync.RWMutex
	rings map[string]*Ring
}

// NewStore creates an empty store. A zero grace duration selects
// DefaultGraceWindow for every ring it creates.
func NewStore(grace time.Duration) *Store {
	return &Store{
		grace: grace,
		clock: DefaultTimeProvider{},
		rings: make(map[string]*Ring),
	}
}

// SetTimeProvider overrides the clock handed to newly created rings and
// to all existing ones. Test support only.
func (s *Store) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tp
	for _, r := range s.rings {
		r.SetTimeProvider(tp)
	}
}

// Ring returns the participant's ring, creating an empty disabled one on
// first sight.
func (s *Store) Ring(participantID string) *Ring {
	s.mu.RLock()
	r, ok := s.rings[participantID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rings[participantID]; ok {
		return r
	}
	r = NewRing(participantID, s.grace)
	r.SetTimeProvider(s.clock)
	s.rings[participantID] = r

	logrus.WithFields(logrus.Fields{
		"function":    "Ring",
		"participant": participantID,
	}).Debug("Created key ring for participant")

	return r
}

// Get returns the participant's ring without creating one.
func (s *Store) Get(participantID string) (*Ring, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rings[participantID]
	return r, ok
}

// SetKey installs key material for a participant, creating the ring if
// needed. Nil material disables encryption for the participant.
func (s *Store) SetKey(participantID string, material []byte, index uint8) error {
	return s.Ring(participantID).SetKey(material, index)
}

// Remove destroys a participant's ring, wiping its key material.
func (s *Store) Remove(participantID string) {
	s.mu.Lock()
	r, ok := s.rings[participantID]
	delete(s.rings, participantID)
	s.mu.Unlock()

	if ok {
		r.Reset()
		logrus.WithFields(logrus.Fields{
			"function":    "Remove",
			"participant": participantID,
		}).Debug("Destroyed key ring for departed participant")
	}
}

// Expire sweeps every ring for superseded slots past the grace window.
func (s *Store) Expire() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rings {
		r.Expire()
	}
}

// Clear destroys every ring in the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rings {
		r.Reset()
		delete(s.rings, id)
	}
}
