package keyexchange

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jframe/crypto"
	"github.com/opd-ai/jframe/interfaces"
	"github.com/opd-ai/jframe/keyring"
)

// Key-exchange message types on the delivery channel.
const (
	msgHandshake byte = 0x01
	msgSenderKey byte = 0x02
)

// ErrSessionTornDown indicates the participant left before the handshake
// completed.
var ErrSessionTornDown = errors.New("key exchange session torn down")

// PairwiseStrategy negotiates an independent authenticated session with
// each participant using the Noise XX pattern (mutual authentication
// without prior key knowledge), then exchanges sender keys through it.
// Each participant distributes its own random key material and can rotate
// it unilaterally by announcing new material to every established session.
//
// The participant with the lexicographically smaller ID initiates each
// pairwise handshake, so both sides agree on roles without negotiation.
type PairwiseStrategy struct {
	localID  string
	delivery interfaces.KeyDelivery
	suite    noise.CipherSuite
	static   noise.DHKey

	mu       sync.Mutex
	sessions map[string]*pairwiseSession
	onKey    KeyUpdateFunc
	closed   bool
}

// pairwiseSession tracks one peer's handshake and transport ciphers.
// Access is serialized by the strategy mutex; the delivery channel invokes
// handlers sequentially per sender.
type pairwiseSession struct {
	peerID    string
	initiator bool
	hs        *noise.HandshakeState
	send      *noise.CipherState
	recv      *noise.CipherState
	step      int // handshake messages processed or sent

	// Announcements queued until the handshake completes.
	pending [][]byte

	// Closed once the peer's first sender key arrives.
	keyReceived chan struct{}
	keyOnce     sync.Once

	torn bool
}

// NewPairwiseStrategy creates a strategy bound to the delivery channel and
// generates the local static Noise keypair.
func NewPairwiseStrategy(localID string, delivery interfaces.KeyDelivery) (*PairwiseStrategy, error) {
	if localID == "" {
		return nil, errors.New("local participant ID cannot be empty")
	}
	if delivery == nil {
		return nil, errors.New("key delivery channel cannot be nil")
	}

	suite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	static, err := suite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate static keypair: %w", err)
	}

	s := &PairwiseStrategy{
		localID:  localID,
		delivery: delivery,
		suite:    suite,
		static:   static,
		sessions: make(map[string]*pairwiseSession),
	}
	delivery.OnReceive(s.handleMessage)

	logrus.WithFields(logrus.Fields{
		"function": "NewPairwiseStrategy",
		"local_id": localID,
	}).Info("Pairwise key exchange strategy ready")

	return s, nil
}

// LocalMaterial generates fresh random sender key material.
func (s *PairwiseStrategy) LocalMaterial() ([]byte, error) {
	return crypto.GenerateKeyMaterial()
}

// SupportsRotation reports true: sender keys rotate unilaterally.
func (s *PairwiseStrategy) SupportsRotation() bool { return true }

// OnKeyUpdate registers the key callback.
func (s *PairwiseStrategy) OnKeyUpdate(fn KeyUpdateFunc) {
	s.mu.Lock()
	s.onKey = fn
	s.mu.Unlock()
}

// Announce sends (or queues, while the handshake is still in flight) the
// local sender key to a participant.
func (s *PairwiseStrategy) Announce(participantID string, material []byte, index uint8) error {
	if index >= keyring.SlotCount {
		return fmt.Errorf("key index %d out of range", index)
	}

	plaintext := make([]byte, 1+len(material))
	plaintext[0] = index
	copy(plaintext[1:], material)

	s.mu.Lock()
	sess, err := s.sessionLocked(participantID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if sess.send == nil {
		sess.pending = append(sess.pending, plaintext)
		s.mu.Unlock()
		return nil
	}

	msg, err := encryptKeyLocked(sess, plaintext)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.delivery.Send(participantID, msg)
}

// Establish starts (or joins) the handshake with a participant and blocks
// until the peer's first sender key arrives or ctx is done.
func (s *PairwiseStrategy) Establish(ctx context.Context, participantID string) error {
	s.mu.Lock()
	sess, err := s.sessionLocked(participantID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	// The initiator fires the first handshake message exactly once.
	if sess.initiator && sess.step == 0 {
		msg, _, _, werr := sess.hs.WriteMessage(nil, nil)
		if werr != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to write handshake message: %w", werr)
		}
		sess.step = 1
		s.mu.Unlock()
		if serr := s.delivery.Send(participantID, append([]byte{msgHandshake}, msg...)); serr != nil {
			return fmt.Errorf("failed to send handshake message: %w", serr)
		}
	} else {
		s.mu.Unlock()
	}

	select {
	case <-sess.keyReceived:
		s.mu.Lock()
		torn := sess.torn
		s.mu.Unlock()
		if torn {
			return ErrSessionTornDown
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Teardown discards the participant's session. Any Establish call blocked
// on it is released with ErrSessionTornDown, and late handshake or key
// messages from the participant are dropped.
func (s *PairwiseStrategy) Teardown(participantID string) {
	s.mu.Lock()
	sess, ok := s.sessions[participantID]
	if ok {
		sess.torn = true
		sess.keyOnce.Do(func() { close(sess.keyReceived) })
		delete(s.sessions, participantID)
	}
	s.mu.Unlock()

	if ok {
		logrus.WithFields(logrus.Fields{
			"function":    "Teardown",
			"participant": participantID,
		}).Debug("Tore down pairwise session")
	}
}

// Close tears down every session.
func (s *PairwiseStrategy) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, sess := range s.sessions {
		sess.torn = true
		sess.keyOnce.Do(func() { close(sess.keyReceived) })
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	crypto.ZeroBytes(s.static.Private)
	return nil
}

// sessionLocked returns the participant's session, creating it with the
// deterministic role assignment if needed. Caller holds mu.
func (s *PairwiseStrategy) sessionLocked(participantID string) (*pairwiseSession, error) {
	if s.closed {
		return nil, errors.New("strategy closed")
	}
	if participantID == s.localID {
		return nil, errors.New("cannot establish session with self")
	}
	if sess, ok := s.sessions[participantID]; ok {
		return sess, nil
	}

	initiator := s.localID < participantID
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   s.suite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: s.static,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	sess := &pairwiseSession{
		peerID:      participantID,
		initiator:   initiator,
		hs:          hs,
		keyReceived: make(chan struct{}),
	}
	s.sessions[participantID] = sess

	logrus.WithFields(logrus.Fields{
		"function":    "sessionLocked",
		"participant": participantID,
		"initiator":   initiator,
	}).Debug("Created pairwise session")

	return sess, nil
}

// handleMessage processes inbound key-exchange traffic from the delivery
// channel.
func (s *PairwiseStrategy) handleMessage(participantID string, payload []byte) {
	if len(payload) < 1 {
		return
	}

	switch payload[0] {
	case msgHandshake:
		s.handleHandshake(participantID, payload[1:])
	case msgSenderKey:
		s.handleSenderKey(participantID, payload[1:])
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "handleMessage",
			"participant":  participantID,
			"message_type": payload[0],
		}).Warn("Ignoring unknown key-exchange message type")
	}
}

// handleHandshake advances the XX state machine one message. Encryption
// happens under the lock (cipher nonce order matters) but nothing is sent
// while it is held, so a synchronous delivery channel cannot re-enter.
func (s *PairwiseStrategy) handleHandshake(participantID string, message []byte) {
	s.mu.Lock()

	sess, err := s.sessionLocked(participantID)
	if err != nil {
		s.mu.Unlock()
		return
	}

	var reply []byte
	switch {
	case !sess.initiator && sess.step == 0:
		// <- e
		if _, _, _, rerr := sess.hs.ReadMessage(nil, message); rerr != nil {
			s.failHandshakeLocked(sess, rerr)
			s.mu.Unlock()
			return
		}
		// -> e, ee, s, es
		reply, _, _, err = sess.hs.WriteMessage(nil, nil)
		if err != nil {
			s.failHandshakeLocked(sess, err)
			s.mu.Unlock()
			return
		}
		sess.step = 2

	case sess.initiator && sess.step == 1:
		// <- e, ee, s, es
		if _, _, _, rerr := sess.hs.ReadMessage(nil, message); rerr != nil {
			s.failHandshakeLocked(sess, rerr)
			s.mu.Unlock()
			return
		}
		// -> s, se : completes the handshake for the initiator.
		var send, recv *noise.CipherState
		reply, send, recv, err = sess.hs.WriteMessage(nil, nil)
		if err != nil {
			s.failHandshakeLocked(sess, err)
			s.mu.Unlock()
			return
		}
		sess.send, sess.recv = send, recv
		sess.step = 3

	case !sess.initiator && sess.step == 2:
		// <- s, se : completes the handshake for the responder. On a
		// ReadMessage completion the first cipher state decrypts inbound
		// traffic and the second encrypts outbound.
		_, recv, send, rerr := sess.hs.ReadMessage(nil, message)
		if rerr != nil {
			s.failHandshakeLocked(sess, rerr)
			s.mu.Unlock()
			return
		}
		sess.send, sess.recv = send, recv
		sess.step = 3

	default:
		logrus.WithFields(logrus.Fields{
			"function":    "handleHandshake",
			"participant": participantID,
			"step":        sess.step,
		}).Debug("Ignoring out-of-order handshake message")
		s.mu.Unlock()
		return
	}

	// Encrypt queued announcements before releasing the lock so cipher
	// nonces stay ordered, then send everything outside it.
	var keyMsgs [][]byte
	if sess.send != nil {
		for _, plaintext := range sess.pending {
			msg, kerr := encryptKeyLocked(sess, plaintext)
			if kerr != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "handleHandshake",
					"participant": participantID,
					"error":       kerr.Error(),
				}).Warn("Failed to encrypt queued sender key")
				continue
			}
			keyMsgs = append(keyMsgs, msg)
		}
		sess.pending = nil
	}
	s.mu.Unlock()

	if reply != nil {
		if serr := s.delivery.Send(participantID, append([]byte{msgHandshake}, reply...)); serr != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "handleHandshake",
				"participant": participantID,
				"error":       serr.Error(),
			}).Warn("Failed to send handshake reply")
			return
		}
	}
	for _, msg := range keyMsgs {
		if serr := s.delivery.Send(participantID, msg); serr != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "handleHandshake",
				"participant": participantID,
				"error":       serr.Error(),
			}).Warn("Failed to send queued sender key")
		}
	}
}

// handleSenderKey decrypts a peer's key announcement and reports it.
func (s *PairwiseStrategy) handleSenderKey(participantID string, ciphertext []byte) {
	s.mu.Lock()
	sess, ok := s.sessions[participantID]
	if !ok || sess.recv == nil {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "handleSenderKey",
			"participant": participantID,
		}).Debug("Dropping sender key for unestablished session")
		return
	}

	plaintext, err := sess.recv.Decrypt(nil, nil, ciphertext)
	if err != nil || len(plaintext) < 2 {
		s.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":    "handleSenderKey",
			"participant": participantID,
		}).Warn("Failed to decrypt sender key announcement")
		return
	}

	index := plaintext[0]
	material := plaintext[1:]
	onKey := s.onKey
	sess.keyOnce.Do(func() { close(sess.keyReceived) })
	s.mu.Unlock()

	if onKey != nil {
		onKey(participantID, material, index)
	}
}

// failHandshakeLocked abandons a broken handshake; the next Establish for
// the participant starts over. Caller holds mu.
func (s *PairwiseStrategy) failHandshakeLocked(sess *pairwiseSession, err error) {
	logrus.WithFields(logrus.Fields{
		"function":    "failHandshakeLocked",
		"participant": sess.peerID,
		"error":       err.Error(),
	}).Warn("Handshake failed, discarding session")
	sess.torn = true
	sess.keyOnce.Do(func() { close(sess.keyReceived) })
	delete(s.sessions, sess.peerID)
}

// encryptKeyLocked encrypts one announcement under the session's send
// cipher. Caller holds mu.
func encryptKeyLocked(sess *pairwiseSession, plaintext []byte) ([]byte, error) {
	ciphertext, err := sess.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt sender key: %w", err)
	}
	return append([]byte{msgSenderKey}, ciphertext...), nil
}
