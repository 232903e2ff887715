package update

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/sync/errgroup"

	"github.com/akes-protocol/akes-go/pkg/aead"
	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// wrapInfo labels wrap keys expanded from pairwise keys.
const wrapInfo = "akes update wrap v1"

// updateType is the nonce type byte of UPDATE frames.
const updateType = 0x55

// DefaultParallelism bounds concurrent sends.
const DefaultParallelism = 8

// Errors.
var (
	ErrNoSender    = errors.New("no update sender configured")
	ErrNoPairwise  = errors.New("neighbor has no pairwise key")
	ErrWrongSender = errors.New("update sender mismatch")
	ErrPersist     = errors.New("failed to persist update counters")
)

// Sender transmits one UPDATE frame to a neighbor over the link layer.
type Sender interface {
	SendUpdate(ctx context.Context, to keystore.NodeID, frame []byte) error
}

// Config configures a Fanout.
type Config struct {
	// NodeID is the local node identity carried in every frame.
	NodeID keystore.NodeID

	// Sender delivers frames. Required.
	Sender Sender

	// Parallelism bounds concurrent sends. Zero selects DefaultParallelism.
	Parallelism int

	// Counters seeds the last frame counter per neighbor, as returned by
	// Counters before a restart.
	Counters map[keystore.NodeID]uint32

	// Persist stores the counters after they are allocated for a
	// distribution and before its first frame is sent. An error aborts the
	// distribution. nil keeps the counters in memory only.
	Persist func() error

	// Logger is used for operational logging. nil disables logging.
	Logger *slog.Logger
}

// Fanout sends the group key to every permanent neighbor of a snapshot.
type Fanout struct {
	nodeID      keystore.NodeID
	sender      Sender
	parallelism int
	logger      *slog.Logger
	persist     func() error

	mu       sync.Mutex
	counters map[keystore.NodeID]uint32
}

// NewFanout creates a Fanout.
func NewFanout(cfg Config) (*Fanout, error) {
	if cfg.Sender == nil {
		return nil, ErrNoSender
	}
	p := cfg.Parallelism
	if p <= 0 {
		p = DefaultParallelism
	}
	counters := make(map[keystore.NodeID]uint32, len(cfg.Counters))
	maps.Copy(counters, cfg.Counters)
	return &Fanout{
		nodeID:      cfg.NodeID,
		sender:      cfg.Sender,
		parallelism: p,
		logger:      cfg.Logger,
		persist:     cfg.Persist,
		counters:    counters,
	}, nil
}

// Distribute sends snap's group key to each permanent neighbor. Neighbors
// without a pairwise key are skipped. Frame counters are allocated and
// persisted before anything is sent. All sends are attempted; the returned
// error joins the individual failures.
func (f *Fanout) Distribute(ctx context.Context, snap keystore.Snapshot) error {
	var recipients []keystore.NeighborEntry
	for _, n := range snap.Permanent() {
		if len(n.PairwiseKey) == 0 {
			f.debugLog("update skipped", "neighbor", n.ID, "reason", "no pairwise key")
			continue
		}
		recipients = append(recipients, n)
	}
	if len(recipients) == 0 {
		return nil
	}

	counters := f.allocate(recipients)
	if f.persist != nil {
		if err := f.persist(); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(f.parallelism)

	for i, n := range recipients {
		g.Go(func() error {
			if err := f.send(ctx, n, counters[i], snap.GroupKey); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("neighbor %s: %w", n.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	f.debugLog("update distributed", "generation", snap.Generation, "neighbors", len(recipients))
	return nil
}

func (f *Fanout) send(ctx context.Context, n keystore.NeighborEntry, counter uint32, key keystore.GroupKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := Seal(f.nodeID, n.ID, n.PairwiseKey, counter, key)
	if err != nil {
		return err
	}
	return f.sender.SendUpdate(ctx, n.ID, frame)
}

// allocate advances the counter of every recipient and returns the new
// values in recipient order.
func (f *Fanout) allocate(recipients []keystore.NeighborEntry) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, len(recipients))
	for i, n := range recipients {
		f.counters[n.ID]++
		out[i] = f.counters[n.ID]
	}
	return out
}

// Counter returns the last frame counter used for neighbor id.
func (f *Fanout) Counter(id keystore.NodeID) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[id]
}

// Counters returns a copy of all frame counters.
func (f *Fanout) Counters() map[keystore.NodeID]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.counters)
}

func (f *Fanout) debugLog(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

// WrapKey expands a pairwise key into the key that seals UPDATE frames.
func WrapKey(pairwise []byte) ([]byte, error) {
	if len(pairwise) == 0 {
		return nil, ErrNoPairwise
	}
	key := make([]byte, aead.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, pairwise, nil, []byte(wrapInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

func bindAAD(sender, recipient keystore.NodeID) []byte {
	aad := make([]byte, 0, 2*keystore.IDSize)
	aad = append(aad, sender[:]...)
	return append(aad, recipient[:]...)
}

// Seal builds the UPDATE frame carrying key from sender to recipient.
func Seal(sender, recipient keystore.NodeID, pairwise []byte, counter uint32, key keystore.GroupKey) ([]byte, error) {
	wrap, err := WrapKey(pairwise)
	if err != nil {
		return nil, err
	}
	nonce := replay.Derive(replay.NonceBinary, counter, updateType)
	sealed, err := aead.SealWithAAD(wrap, nonce, key[:], bindAAD(sender, recipient))
	if err != nil {
		return nil, err
	}
	return wire.EncodeUpdate(&wire.Update{Sender: sender, Counter: counter, SealedKey: sealed})
}

// Receiver opens UPDATE frames addressed to the local node.
type Receiver struct {
	self keystore.NodeID

	mu    sync.Mutex
	guard *replay.Guard
}

// NewReceiver creates a Receiver for node self.
func NewReceiver(self keystore.NodeID) *Receiver {
	return &Receiver{self: self, guard: replay.NewGuard()}
}

// Open authenticates frame from sender under their pairwise key and returns
// the group key. Frames whose counter does not advance return replay.ErrReplay.
func (r *Receiver) Open(sender keystore.NodeID, pairwise []byte, frame []byte) (keystore.GroupKey, error) {
	var key keystore.GroupKey

	u, err := wire.DecodeUpdate(frame)
	if err != nil {
		return key, err
	}
	if keystore.NodeID(u.Sender) != sender {
		return key, fmt.Errorf("%w: frame from %s", ErrWrongSender, keystore.NodeID(u.Sender))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guard.Check(sender.String(), u.Counter); err != nil {
		return key, err
	}
	wrap, err := WrapKey(pairwise)
	if err != nil {
		return key, err
	}
	nonce := replay.Derive(replay.NonceBinary, u.Counter, updateType)
	plain, err := aead.OpenWithAAD(wrap, nonce, u.SealedKey, bindAAD(sender, r.self))
	if err != nil {
		return key, err
	}
	if len(plain) != keystore.KeySize {
		return key, fmt.Errorf("%w: %d byte group key", keystore.ErrInvalidKey, len(plain))
	}
	copy(key[:], plain)
	if key.IsZero() {
		return key, keystore.ErrNoGroupKey
	}
	if err := r.guard.Advance(sender.String(), u.Counter); err != nil {
		return keystore.GroupKey{}, err
	}
	return key, nil
}
