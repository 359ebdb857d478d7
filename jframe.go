package jframe

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jframe/frame"
	"github.com/opd-ai/jframe/keyexchange"
	"github.com/opd-ai/jframe/keyring"
	"github.com/opd-ai/jframe/transform"
)

// ErrClosed is returned by control operations after Close.
var ErrClosed = errors.New("orchestrator closed")

// Config carries the orchestrator's explicit configuration. There is no
// global state; two orchestrators in one process are fully independent.
type Config struct {
	// LocalParticipantID identifies the local sender. Required.
	LocalParticipantID string

	// Enabled selects the initial encryption state. When disabled, both
	// EncodeFrame and DecodeFrame pass frames through untouched.
	Enabled bool

	// Policy selects decode-failure handling for frames without a valid
	// trailer: pass through (permissive, the default) or drop (strict).
	Policy transform.Policy

	// GraceWindow bounds how long a superseded key stays usable for
	// decode. Zero selects the key ring default.
	GraceWindow time.Duration

	// HandshakeTimeout bounds key establishment per participant. Zero
	// selects the key exchange default.
	HandshakeTimeout time.Duration
}

// command is one control-plane operation, executed on the run goroutine.
type command struct {
	fn   func()
	done chan struct{}
}

// Orchestrator wires frame transforms, key rings, and key exchange into
// the media pipeline.
//
// EncodeFrame and DecodeFrame are synchronous and safe to call
// concurrently across streams; frames belonging to one (participant,
// media kind) stream must be processed one at a time, which is how media
// pipelines deliver them. Control operations are serialized on a
// dedicated goroutine and never touch the frame hot path.
type Orchestrator struct {
	cfg        Config
	store      *keyring.Store
	controller *keyexchange.Controller
	metrics    *transform.Metrics
	enabled    atomic.Bool

	ctxMu     sync.RWMutex
	senders   map[frame.MediaKind]*transform.Context
	receivers map[string]map[frame.MediaKind]*transform.Context

	commands chan command
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an orchestrator using the given key establishment strategy.
// The strategy is owned by the orchestrator afterwards and is closed with
// it.
func New(cfg Config, strategy keyexchange.Strategy) (*Orchestrator, error) {
	if cfg.LocalParticipantID == "" {
		return nil, errors.New("local participant ID cannot be empty")
	}
	if strategy == nil {
		return nil, errors.New("strategy cannot be nil")
	}

	store := keyring.NewStore(cfg.GraceWindow)
	controller, err := keyexchange.NewController(cfg.LocalParticipantID, strategy, store,
		&keyexchange.Options{HandshakeTimeout: cfg.HandshakeTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create key exchange controller: %w", err)
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		controller: controller,
		metrics:    &transform.Metrics{},
		senders:    make(map[frame.MediaKind]*transform.Context),
		receivers:  make(map[string]map[frame.MediaKind]*transform.Context),
		commands:   make(chan command),
		quit:       make(chan struct{}),
	}
	o.enabled.Store(cfg.Enabled)
	return o, nil
}

// Start derives and installs the local sender key and begins processing
// control commands.
func (o *Orchestrator) Start() error {
	if err := o.controller.Start(); err != nil {
		return fmt.Errorf("failed to start key exchange: %w", err)
	}

	o.wg.Add(1)
	go o.run()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"local_id": o.cfg.LocalParticipantID,
		"enabled":  o.enabled.Load(),
	}).Info("Frame encryption orchestrator started")

	return nil
}

// Close stops the command goroutine, tears down key exchange, and wipes
// every ring. Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.stopOnce.Do(func() {
		close(o.quit)
		o.wg.Wait()
	})
	err := o.controller.Close()
	o.store.Clear()
	return err
}

// run owns all control-plane mutations.
func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case cmd := <-o.commands:
			cmd.fn()
			close(cmd.done)
		case <-o.quit:
			return
		}
	}
}

// do executes fn on the run goroutine and waits for it.
func (o *Orchestrator) do(fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case o.commands <- cmd:
	case <-o.quit:
		return ErrClosed
	}
	select {
	case <-cmd.done:
		return nil
	case <-o.quit:
		return ErrClosed
	}
}

// SetEnabled switches encryption on or off globally. Disabling does not
// discard keys; re-enabling resumes with the rings as they are.
func (o *Orchestrator) SetEnabled(enabled bool) error {
	return o.do(func() {
		o.enabled.Store(enabled)
		logrus.WithFields(logrus.Fields{
			"function": "SetEnabled",
			"enabled":  enabled,
		}).Info("Encryption state changed")
	})
}

// SetKey installs key material for a participant at the given index. Nil
// material disables encryption for that participant: their frames pass
// through both directions until a key is installed again.
func (o *Orchestrator) SetKey(participantID string, material []byte, index uint8) error {
	var setErr error
	if err := o.do(func() {
		setErr = o.store.SetKey(participantID, material, index)
	}); err != nil {
		return err
	}
	return setErr
}

// OnParticipantJoined starts key establishment with the participant and
// rotates the local sender key so the newcomer cannot read prior traffic.
func (o *Orchestrator) OnParticipantJoined(participantID string) error {
	return o.do(func() {
		o.controller.OnParticipantJoined(participantID)
	})
}

// OnParticipantLeft cancels the participant's key exchange, destroys
// their ring and transform contexts, and re-keys the local sender so the
// departed participant cannot read future traffic.
func (o *Orchestrator) OnParticipantLeft(participantID string) error {
	return o.do(func() {
		o.controller.OnParticipantLeft(participantID)
		o.ctxMu.Lock()
		delete(o.receivers, participantID)
		o.ctxMu.Unlock()
	})
}

// Metrics returns a snapshot of the transform outcome counters across all
// streams.
func (o *Orchestrator) Metrics() transform.Snapshot {
	return o.metrics.Snapshot()
}

// EncodeFrame encrypts an outgoing frame in place and returns it. With
// encryption disabled, or no local key installed, the frame is returned
// byte-identical. Frames of one media kind must be encoded one at a time.
func (o *Orchestrator) EncodeFrame(f *frame.Frame) (*frame.Frame, error) {
	if f == nil {
		return nil, errors.New("frame cannot be nil")
	}
	if !o.enabled.Load() {
		return f, nil
	}
	return o.senderContext(f.Kind).Encode(f)
}

// DecodeFrame decrypts a frame received from the participant. Outcomes
// follow the decode policy: pass-through for unencrypted senders and (in
// permissive mode) trailerless frames; a nil frame with a sentinel error
// for dropped frames, which the caller must skip, never treat as fatal.
func (o *Orchestrator) DecodeFrame(participantID string, f *frame.Frame) (*frame.Frame, error) {
	if f == nil {
		return nil, errors.New("frame cannot be nil")
	}
	if !o.enabled.Load() {
		return f, nil
	}
	return o.receiverContext(participantID, f.Kind).Decode(f)
}

// senderContext returns the local encode context for a media kind,
// creating it on first use.
func (o *Orchestrator) senderContext(kind frame.MediaKind) *transform.Context {
	o.ctxMu.RLock()
	ctx, ok := o.senders[kind]
	o.ctxMu.RUnlock()
	if ok {
		return ctx
	}

	o.ctxMu.Lock()
	defer o.ctxMu.Unlock()
	if ctx, ok = o.senders[kind]; ok {
		return ctx
	}
	ctx = transform.NewContext(o.store.Ring(o.cfg.LocalParticipantID), kind, o.cfg.Policy, o.metrics)
	o.senders[kind] = ctx
	return ctx
}

// receiverContext returns the decode context for one remote stream,
// creating it on first use.
func (o *Orchestrator) receiverContext(participantID string, kind frame.MediaKind) *transform.Context {
	o.ctxMu.RLock()
	ctx, ok := o.receivers[participantID][kind]
	o.ctxMu.RUnlock()
	if ok {
		return ctx
	}

	o.ctxMu.Lock()
	defer o.ctxMu.Unlock()
	if ctx, ok = o.receivers[participantID][kind]; ok {
		return ctx
	}
	byKind, ok := o.receivers[participantID]
	if !ok {
		byKind = make(map[frame.MediaKind]*transform.Context)
		o.receivers[participantID] = byKind
	}
	ctx = transform.NewContext(o.store.Ring(participantID), kind, o.cfg.Policy, o.metrics)
	byKind[kind] = ctx
	return ctx
}
