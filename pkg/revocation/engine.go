package revocation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/akes-protocol/akes-go/pkg/aead"
	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// hkdfInfo labels group keys expanded from command material.
const hkdfInfo = "akes group key v1"

// DefaultDistributeTimeout bounds one UPDATE fan-out.
const DefaultDistributeTimeout = 30 * time.Second

// Store is the key store the engine commits to. *keystore.Store implements it.
type Store interface {
	CheckReplay(peer string, id uint32) error
	Commit(peer string, id uint32, target keystore.NodeID, key keystore.GroupKey) (keystore.Outcome, error)
	Snapshot() keystore.Snapshot
	NeighborCount() int
}

var _ Store = (*keystore.Store)(nil)

// Distributor delivers a new group key to the surviving neighbors.
type Distributor interface {
	Distribute(ctx context.Context, snap keystore.Snapshot) error
}

// Config configures an Engine.
type Config struct {
	// Store is the node's key store. Required.
	Store Store

	// ChannelKey is the controller pre-shared key protecting revocation
	// requests and responses. Required, 16 bytes.
	ChannelKey []byte

	// NonceScheme selects the nonce derivation.
	NonceScheme replay.NonceScheme

	// AAD selects what associated data is authenticated.
	AAD AADMode

	// KeyMaterialSize is the fixed width of the command's key material.
	// Zero selects wire.DefaultKeyMaterialSize.
	KeyMaterialSize int

	// KeyDerivation selects how the group key is derived from the material.
	KeyDerivation KeyDerivation

	// Distributor receives the store snapshot after each applied revocation.
	// nil disables UPDATE distribution.
	Distributor Distributor

	// DistributeTimeout bounds one distribution. Zero selects
	// DefaultDistributeTimeout.
	DistributeTimeout time.Duration

	// OnApplied is called after a revocation is applied, outside the store
	// lock, e.g. to persist state.
	OnApplied func(target keystore.NodeID)

	// NodeID labels protocol events.
	NodeID string

	// Logger is used for operational logging. nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives state machine events. nil disables capture.
	ProtocolLogger log.Logger
}

// Engine runs the revocation state machine. It is safe for concurrent use;
// requests are decrypted in parallel and committed one at a time by the
// store.
type Engine struct {
	store         Store
	codec         *aead.Codec
	scheme        replay.NonceScheme
	aad           AADMode
	materialSize  int
	derivation    KeyDerivation
	distributor   Distributor
	distTimeout   time.Duration
	onApplied     func(keystore.NodeID)
	nodeID        string
	logger        *slog.Logger
	protocolLog   log.Logger
	halted        atomic.Bool
	stats         counters
	distributions sync.WaitGroup
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if len(cfg.ChannelKey) != aead.KeySize {
		return nil, fmt.Errorf("%w: channel key must be %d bytes", aead.ErrInvalidKey, aead.KeySize)
	}
	codec, err := aead.New(cfg.ChannelKey)
	if err != nil {
		return nil, err
	}
	size := cfg.KeyMaterialSize
	if size == 0 {
		size = wire.DefaultKeyMaterialSize
	}
	if size < wire.MinKeyMaterialSize {
		return nil, fmt.Errorf("key material size %d below %d", size, wire.MinKeyMaterialSize)
	}
	timeout := cfg.DistributeTimeout
	if timeout == 0 {
		timeout = DefaultDistributeTimeout
	}

	return &Engine{
		store:        cfg.Store,
		codec:        codec,
		scheme:       cfg.NonceScheme,
		aad:          cfg.AAD,
		materialSize: size,
		derivation:   cfg.KeyDerivation,
		distributor:  cfg.Distributor,
		distTimeout:  timeout,
		onApplied:    cfg.OnApplied,
		nodeID:       cfg.NodeID,
		logger:       cfg.Logger,
		protocolLog:  log.OrNoop(cfg.ProtocolLogger),
	}, nil
}

// Halted reports whether the engine has stopped serving requests.
func (e *Engine) Halted() bool {
	return e.halted.Load()
}

// Stats returns a snapshot of the request counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Wait blocks until all pending UPDATE distributions finish.
func (e *Engine) Wait() {
	e.distributions.Wait()
}

// Handle runs one request through the state machine and returns the sealed
// response. Every protocol failure produces a response; see the package
// documentation for the errors.
func (e *Engine) Handle(ctx context.Context, req Request) (*Response, error) {
	if e.halted.Load() {
		return nil, ErrHalted
	}

	x := &exchange{engine: e, req: req, state: StateReceived}
	x.emit("", StateReceived, "")
	e.stats.received.Add(1)

	reqNonce := replay.Derive(e.scheme, req.MessageID, req.Type)
	replyNonce := replay.Derive(e.scheme, req.Reply.MessageID, req.Reply.Type)
	if bytes.Equal(reqNonce, replyNonce) {
		return nil, fmt.Errorf("%w: id %d type %d", ErrNonceReuse, req.MessageID, req.Type)
	}

	var aad []byte
	if e.aad == AADContext {
		aad = aead.BuildAAD(req.Path, req.Code)
	}

	final, target, err := e.process(x, reqNonce, aad)
	if err != nil {
		return nil, err
	}

	x.transition(StateResponding, "")
	status := final.status()
	sealed, err := e.codec.Seal(replyNonce, wire.EncodeStatus(status), aad)
	if err != nil {
		return nil, fmt.Errorf("failed to seal response: %w", err)
	}
	x.transition(StateDone, status.String())
	e.stats.count(status)

	if final == StateApplied {
		e.afterApply(target)
	}

	return &Response{
		Status:    status,
		MessageID: req.Reply.MessageID,
		Type:      req.Reply.Type,
		Payload:   sealed,
	}, nil
}

// process runs the steps up to the commit and returns the outcome state.
func (e *Engine) process(x *exchange, nonce, aad []byte) (State, keystore.NodeID, error) {
	var target keystore.NodeID
	req := x.req

	if err := e.store.CheckReplay(req.Peer, req.MessageID); err != nil {
		x.transition(StateReplayRejected, "message id did not advance")
		return StateReplayRejected, target, nil
	}

	plaintext, err := e.codec.Open(nonce, req.Payload, aad)
	if err != nil {
		x.transition(StateAuthFailed, "tag verification failed")
		return StateAuthFailed, target, nil
	}
	x.transition(StateDecrypted, "")

	cmd, err := wire.ParseCommand(plaintext, e.materialSize)
	if err != nil {
		x.transition(StateMalformed, err.Error())
		return StateMalformed, target, nil
	}
	key, err := e.deriveKey(cmd.Material)
	if err != nil {
		x.transition(StateMalformed, err.Error())
		return StateMalformed, target, nil
	}
	target = keystore.NodeID(cmd.Target)
	x.transition(StateValidated, "")

	outcome, err := e.store.Commit(req.Peer, req.MessageID, target, key)
	if err != nil {
		if errors.Is(err, keystore.ErrCorrupted) {
			e.halt(x, err)
			return 0, target, fmt.Errorf("%w: %w", ErrHalted, err)
		}
		x.transition(StateMalformed, err.Error())
		return StateMalformed, target, nil
	}

	switch outcome {
	case keystore.OutcomeApplied:
		x.transition(StateApplied, "")
		return StateApplied, target, nil
	case keystore.OutcomeReplay:
		x.transition(StateReplayRejected, "message id consumed concurrently")
		return StateReplayRejected, target, nil
	default:
		x.transition(StateTargetUnknown, "target "+target.String()+" is not a neighbor")
		return StateTargetUnknown, target, nil
	}
}

func (e *Engine) deriveKey(material []byte) (keystore.GroupKey, error) {
	var key keystore.GroupKey
	switch e.derivation {
	case KeyHKDF:
		r := hkdf.New(sha256.New, material, nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return key, fmt.Errorf("hkdf: %w", err)
		}
	default:
		copy(key[:], material)
	}
	if key.IsZero() {
		return key, fmt.Errorf("key material yields zero key")
	}
	return key, nil
}

func (e *Engine) afterApply(target keystore.NodeID) {
	if e.logger != nil {
		e.logger.Info("neighbor revoked", "target", target, "neighbors", e.store.NeighborCount())
	}
	if e.onApplied != nil {
		e.onApplied(target)
	}
	if e.distributor == nil {
		return
	}

	snap := e.store.Snapshot()
	e.distributions.Add(1)
	go func() {
		defer e.distributions.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.distTimeout)
		defer cancel()

		e.protocolLog.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerEngine,
			Category:  log.CategoryState,
			NodeID:    e.nodeID,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityUpdate,
				NewState: "STARTED",
				Reason:   fmt.Sprintf("%d permanent neighbors", len(snap.Permanent())),
			},
		})
		if err := e.distributor.Distribute(ctx, snap); err != nil && e.logger != nil {
			e.logger.Warn("group key distribution incomplete", "error", err)
		}
	}()
}

func (e *Engine) halt(x *exchange, cause error) {
	if !e.halted.CompareAndSwap(false, true) {
		return
	}
	if e.logger != nil {
		e.logger.Error("revocation service halted", "error", cause)
	}
	e.protocolLog.Log(log.Event{
		Timestamp:  time.Now(),
		ExchangeID: x.req.ExchangeID,
		Layer:      log.LayerEngine,
		Category:   log.CategoryError,
		RemoteAddr: x.req.Peer,
		NodeID:     e.nodeID,
		Error: &log.ErrorEventData{
			Layer:   log.LayerEngine,
			Message: cause.Error(),
			Context: "commit",
		},
	})
	e.protocolLog.Log(log.Event{
		Timestamp:   time.Now(),
		ExchangeID:  x.req.ExchangeID,
		Layer:       log.LayerEngine,
		Category:    log.CategoryState,
		NodeID:      e.nodeID,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntityService, OldState: "SERVING", NewState: "HALTED", Reason: cause.Error()},
	})
}

// exchange tracks the state of one Handle call.
type exchange struct {
	engine *Engine
	req    Request
	state  State
}

func (x *exchange) transition(to State, reason string) {
	from := x.state
	x.state = to
	x.emit(from.String(), to, reason)
}

func (x *exchange) emit(from string, to State, reason string) {
	x.engine.protocolLog.Log(log.Event{
		Timestamp:  time.Now(),
		ExchangeID: x.req.ExchangeID,
		Layer:      log.LayerEngine,
		Category:   log.CategoryState,
		LocalRole:  log.RoleNode,
		RemoteAddr: x.req.Peer,
		NodeID:     x.engine.nodeID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRevocation,
			OldState: from,
			NewState: to.String(),
			Reason:   reason,
		},
	})
}
