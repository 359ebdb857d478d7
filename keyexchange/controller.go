package keyexchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jframe/crypto"
	"github.com/opd-ai/jframe/keyring"
)

// DefaultHandshakeTimeout bounds how long a pairwise handshake may take
// before the participant is left in the disabled state.
const DefaultHandshakeTimeout = 30 * time.Second

// Options configures a Controller.
type Options struct {
	// HandshakeTimeout bounds key establishment per participant. Zero
	// selects DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// Controller owns the key rotation policy and connects a Strategy to the
// key ring store. It keeps no state beyond the local sender's current
// material and index; everything else lives in the rings.
//
// Membership events drive rotation: a join ratchets the local key forward
// so the newcomer cannot derive earlier keys, a leave generates entirely
// fresh material so the departed participant is excluded. Establishment
// runs on background goroutines and never blocks frame transforms.
type Controller struct {
	localID  string
	strategy Strategy
	store    *keyring.Store
	timeout  time.Duration

	mu            sync.Mutex
	active        map[string]context.CancelFunc
	localMaterial []byte
	localIndex    uint8
	started       bool
	closed        bool
}

// NewController creates a controller for the local participant.
func NewController(localID string, strategy Strategy, store *keyring.Store, opts *Options) (*Controller, error) {
	if localID == "" {
		return nil, errors.New("local participant ID cannot be empty")
	}
	if strategy == nil {
		return nil, errors.New("strategy cannot be nil")
	}
	if store == nil {
		return nil, errors.New("key ring store cannot be nil")
	}

	timeout := DefaultHandshakeTimeout
	if opts != nil && opts.HandshakeTimeout > 0 {
		timeout = opts.HandshakeTimeout
	}

	return &Controller{
		localID:  localID,
		strategy: strategy,
		store:    store,
		timeout:  timeout,
		active:   make(map[string]context.CancelFunc),
	}, nil
}

// Start derives the initial local sender key, installs it into the ring,
// and begins accepting key updates from the strategy.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("controller already started")
	}
	if c.closed {
		return errors.New("controller closed")
	}

	c.strategy.OnKeyUpdate(c.handleKeyUpdate)

	material, err := c.strategy.LocalMaterial()
	if err != nil {
		return fmt.Errorf("failed to obtain local key material: %w", err)
	}
	if err := c.store.SetKey(c.localID, material, 0); err != nil {
		return fmt.Errorf("failed to install local key: %w", err)
	}
	c.localMaterial = material
	c.localIndex = 0
	c.started = true

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"local_id": c.localID,
	}).Info("Key exchange controller started")

	return nil
}

// LocalKey returns a copy of the current local sender material and its
// key index.
func (c *Controller) LocalKey() ([]byte, uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.localMaterial...), c.localIndex
}

// OnParticipantJoined ratchets the local key forward, announces it, and
// starts key establishment with the new participant in the background.
func (c *Controller) OnParticipantJoined(participantID string) {
	c.mu.Lock()
	if !c.started || c.closed || participantID == c.localID {
		c.mu.Unlock()
		return
	}
	if _, ok := c.active[participantID]; ok {
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.active[participantID] = cancel

	var rotateErr error
	if c.strategy.SupportsRotation() {
		rotateErr = c.rotateLocalLocked(false)
	}
	material := append([]byte(nil), c.localMaterial...)
	index := c.localIndex
	peers := c.activePeersLocked()
	c.mu.Unlock()

	if rotateErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnParticipantJoined",
			"error":    rotateErr.Error(),
		}).Error("Failed to ratchet local key on join")
	}

	// Announce to everyone: existing sessions get the ratcheted key now,
	// the newcomer's copy is queued until its handshake completes.
	for _, peer := range peers {
		if err := c.strategy.Announce(peer, material, index); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "OnParticipantJoined",
				"participant": peer,
				"error":       err.Error(),
			}).Warn("Failed to announce local key")
		}
	}

	go c.establish(ctx, cancel, participantID)
}

// OnParticipantLeft cancels any in-flight handshake with the participant,
// destroys its ring, and re-keys the local sender with fresh material so
// the departed participant is excluded from future traffic.
func (c *Controller) OnParticipantLeft(participantID string) {
	c.mu.Lock()
	cancel, ok := c.active[participantID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.active, participantID)

	var rotateErr error
	if c.strategy.SupportsRotation() {
		rotateErr = c.rotateLocalLocked(true)
	}
	material := append([]byte(nil), c.localMaterial...)
	index := c.localIndex
	peers := c.activePeersLocked()
	c.mu.Unlock()

	cancel()
	c.strategy.Teardown(participantID)
	c.store.Remove(participantID)

	if rotateErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnParticipantLeft",
			"error":    rotateErr.Error(),
		}).Error("Failed to re-key on leave")
	}

	for _, peer := range peers {
		if err := c.strategy.Announce(peer, material, index); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "OnParticipantLeft",
				"participant": peer,
				"error":       err.Error(),
			}).Warn("Failed to announce re-keyed material")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OnParticipantLeft",
		"participant": participantID,
	}).Info("Participant removed from key exchange")
}

// Close cancels all establishment work and wipes local key material.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := make([]context.CancelFunc, 0, len(c.active))
	for id, cancel := range c.active {
		cancels = append(cancels, cancel)
		delete(c.active, id)
	}
	crypto.ZeroBytes(c.localMaterial)
	c.localMaterial = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return c.strategy.Close()
}

// establish waits for the strategy to deliver the participant's first key.
// Failure leaves the participant disabled; the orchestrator's policy then
// decides between unencrypted pass-through and dropping.
func (c *Controller) establish(ctx context.Context, cancel context.CancelFunc, participantID string) {
	defer cancel()

	if err := c.strategy.Establish(ctx, participantID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "establish",
			"participant": participantID,
			"error":       err.Error(),
		}).Warn("Key establishment failed, participant stays disabled")
	}
}

// handleKeyUpdate installs keys the strategy learned. Updates for
// participants that already left are discarded: a late handshake response
// must not re-populate a ring for someone no longer present.
func (c *Controller) handleKeyUpdate(participantID string, material []byte, index uint8) {
	c.mu.Lock()
	_, present := c.active[participantID]
	closed := c.closed
	c.mu.Unlock()

	if closed || !present {
		logrus.WithFields(logrus.Fields{
			"function":    "handleKeyUpdate",
			"participant": participantID,
		}).Debug("Discarding key update for absent participant")
		return
	}

	if err := c.store.SetKey(participantID, material, index); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "handleKeyUpdate",
			"participant": participantID,
			"key_index":   index,
			"error":       err.Error(),
		}).Warn("Failed to install participant key")
	}
}

// rotateLocalLocked advances the local sender key: a ratchet step on
// join, fresh random material on leave. Caller holds mu.
func (c *Controller) rotateLocalLocked(fresh bool) error {
	var (
		next []byte
		err  error
	)
	if fresh {
		next, err = crypto.GenerateKeyMaterial()
	} else {
		next, err = crypto.RatchetMaterial(c.localMaterial)
	}
	if err != nil {
		return err
	}

	index := (c.localIndex + 1) % keyring.SlotCount
	if err := c.store.SetKey(c.localID, next, index); err != nil {
		return err
	}

	crypto.ZeroBytes(c.localMaterial)
	c.localMaterial = next
	c.localIndex = index

	logrus.WithFields(logrus.Fields{
		"function":  "rotateLocalLocked",
		"key_index": index,
		"fresh":     fresh,
	}).Debug("Rotated local sender key")

	return nil
}

// activePeersLocked snapshots the active participant IDs. Caller holds mu.
func (c *Controller) activePeersLocked() []string {
	peers := make([]string, 0, len(c.active))
	for id := range c.active {
		peers = append(peers, id)
	}
	return peers
}
