package revocation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

const (
	typeCON = 0
	typeNON = 1
	typeACK = 2

	resourcePath = "akes/key-revocation"
	codePOST     = 2
)

var (
	channelKey = []byte("controllerkey-16")
	initialKey = keystore.GroupKey([]byte("oldsecoldsecolds"))
	material   = []byte("newsecnewsecnewsec")
	unknownID  = keystore.NodeID{0x13, 0x37, 0x13, 0x37, 0x13, 0x37, 0x13, 0x37}
)

func neighbor(n int) keystore.NodeID {
	return keystore.NodeID{0xfd, 0, 0, 0, 0, 0, 0, byte(n)}
}

type fixture struct {
	store  *keystore.Store
	engine *Engine
	sealer *Sealer
	events *eventRecorder
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	store, err := keystore.New(keystore.Config{InitialKey: initialKey})
	require.NoError(t, err)
	for i := 1; i <= 27; i++ {
		require.NoError(t, store.Enroll(neighbor(i), keystore.NeighborPermanent, nil))
	}

	events := &eventRecorder{}
	cfg := Config{
		Store:          store,
		ChannelKey:     channelKey,
		ProtocolLogger: events,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	sealer, err := NewSealer(channelKey, cfg.NonceScheme, cfg.AAD)
	require.NoError(t, err)

	return &fixture{store: store, engine: engine, sealer: sealer, events: events}
}

// request builds a sealed CON request with a piggybacked ACK reply.
func (f *fixture) request(t *testing.T, peer string, mid uint32, target keystore.NodeID, mat []byte) Request {
	t.Helper()
	payload, err := f.sealer.SealCommand(mid, typeCON, resourcePath, codePOST, &wire.Command{Target: target, Material: mat})
	require.NoError(t, err)
	return Request{
		ExchangeID: "ex",
		Peer:       peer,
		MessageID:  mid,
		Type:       typeCON,
		Payload:    payload,
		Reply:      Reply{MessageID: mid, Type: typeACK},
		Path:       resourcePath,
		Code:       codePOST,
	}
}

func (f *fixture) handle(t *testing.T, req Request) *Response {
	t.Helper()
	resp, err := f.engine.Handle(context.Background(), req)
	require.NoError(t, err)

	status, err := f.sealer.OpenStatus(resp.MessageID, resp.Type, req.Path, req.Code, resp.Payload)
	require.NoError(t, err, "response must open under the channel key")
	assert.Equal(t, resp.Status, status)
	return resp
}

type eventRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *eventRecorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityRevocation {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

func TestSuccessfulRevocation(t *testing.T) {
	f := newFixture(t, nil)
	oldKey := f.store.GroupKey()

	resp := f.handle(t, f.request(t, "ctrl", 2000, neighbor(7), material))

	assert.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, uint32(2000), resp.MessageID)
	assert.Equal(t, uint8(typeACK), resp.Type)
	assert.Equal(t, 26, f.store.NeighborCount())
	assert.NotEqual(t, oldKey, f.store.GroupKey())
	assert.Equal(t, keystore.GroupKey([]byte("newsecnewsecnews")), f.store.GroupKey())

	assert.Equal(t, []string{"RECEIVED", "DECRYPTED", "VALIDATED", "APPLIED", "RESPONDING", "DONE"}, f.events.states())
	assert.Equal(t, uint64(1), f.engine.Stats().Success)
}

func TestIdempotenceOnReplay(t *testing.T) {
	f := newFixture(t, nil)
	req := f.request(t, "ctrl", 2000, neighbor(7), material)

	first := f.handle(t, req)
	require.Equal(t, wire.StatusSuccess, first.Status)
	after := f.store.Snapshot()

	second := f.handle(t, req)
	assert.Equal(t, wire.StatusReplayRejected, second.Status)
	assert.Equal(t, after, f.store.Snapshot())
}

func TestUnknownTargetIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	before := f.store.Snapshot()

	resp := f.handle(t, f.request(t, "ctrl", 2000, unknownID, material))

	assert.Equal(t, wire.StatusTargetUnknown, resp.Status)
	assert.Equal(t, before, f.store.Snapshot())

	// The watermark was not consumed.
	resp = f.handle(t, f.request(t, "ctrl", 2000, neighbor(1), material))
	assert.Equal(t, wire.StatusSuccess, resp.Status)
}

func TestAuthFailureIsolation(t *testing.T) {
	f := newFixture(t, nil)
	req := f.request(t, "ctrl", 2000, neighbor(7), material)
	before := f.store.Snapshot()

	for i := range req.Payload {
		tampered := req
		tampered.Payload = bytes.Clone(req.Payload)
		tampered.Payload[i] ^= 0x80

		resp := f.handle(t, tampered)
		assert.Equal(t, wire.StatusAuthFailed, resp.Status, "byte %d", i)
	}
	assert.Equal(t, before, f.store.Snapshot())

	truncated := req
	truncated.Payload = req.Payload[:4]
	assert.Equal(t, wire.StatusAuthFailed, f.handle(t, truncated).Status)

	// A forged copy must not burn the genuine message ID.
	assert.Equal(t, wire.StatusSuccess, f.handle(t, req).Status)
	assert.Equal(t, uint64(len(req.Payload)+1), f.engine.Stats().AuthFailed)
}

func TestWrongChannelKey(t *testing.T) {
	f := newFixture(t, nil)
	other, err := NewSealer([]byte("not-the-right-k!"), replay.NonceDecimal, AADNone)
	require.NoError(t, err)

	payload, err := other.SealCommand(2000, typeCON, resourcePath, codePOST, &wire.Command{Target: neighbor(1), Material: material})
	require.NoError(t, err)
	req := f.request(t, "ctrl", 2000, neighbor(1), material)
	req.Payload = payload

	assert.Equal(t, wire.StatusAuthFailed, f.handle(t, req).Status)
	assert.Equal(t, 27, f.store.NeighborCount())
}

func TestMalformedPayload(t *testing.T) {
	f := newFixture(t, nil)

	short := f.request(t, "ctrl", 2000, neighbor(1), []byte("tooshort-material")[:16])
	resp := f.handle(t, short)
	assert.Equal(t, wire.StatusMalformedPayload, resp.Status)

	zero := f.request(t, "ctrl", 2001, neighbor(1), make([]byte, 18))
	resp = f.handle(t, zero)
	assert.Equal(t, wire.StatusMalformedPayload, resp.Status)

	assert.Equal(t, 27, f.store.NeighborCount())
	assert.Equal(t, initialKey, f.store.GroupKey())
	assert.Equal(t, uint64(2), f.engine.Stats().MalformedPayload)
}

func TestMonotonicWatermark(t *testing.T) {
	f := newFixture(t, nil)

	ids := []uint32{100, 90, 100, 101, 50, 200}
	want := []wire.Status{
		wire.StatusSuccess,
		wire.StatusReplayRejected,
		wire.StatusReplayRejected,
		wire.StatusSuccess,
		wire.StatusReplayRejected,
		wire.StatusSuccess,
	}
	for i, id := range ids {
		resp := f.handle(t, f.request(t, "ctrl", id, neighbor(i+1), material))
		assert.Equal(t, want[i], resp.Status, "id %d", id)
	}

	mark, ok := f.store.Watermark("ctrl")
	require.True(t, ok)
	assert.Equal(t, uint32(200), mark)
}

func TestNonConfirmableReply(t *testing.T) {
	f := newFixture(t, nil)
	req := f.request(t, "ctrl", 2000, neighbor(1), material)
	req.Type = typeNON
	payload, err := f.sealer.SealCommand(2000, typeNON, resourcePath, codePOST, &wire.Command{Target: neighbor(1), Material: material})
	require.NoError(t, err)
	req.Payload = payload
	req.Reply = ReplyTo(2000, typeNON)

	resp := f.handle(t, req)
	assert.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, uint32(2000), resp.MessageID)
	assert.Equal(t, uint8(typeReset), resp.Type)
}

func TestReplyNoncesDisjointFromRequests(t *testing.T) {
	for _, scheme := range []replay.NonceScheme{replay.NonceDecimal, replay.NonceBinary} {
		requests := make(map[string]bool)
		for id := uint32(0); id <= 3000; id++ {
			for _, typ := range []uint8{typeCON, typeNON} {
				requests[string(replay.Derive(scheme, id, typ))] = true
			}
		}
		for id := uint32(0); id <= 3000; id++ {
			for _, typ := range []uint8{typeCON, typeNON} {
				r := ReplyTo(id, typ)
				assert.False(t, requests[string(replay.Derive(scheme, r.MessageID, r.Type))],
					"%s reply to id %d type %d shares a request nonce", scheme, id, typ)
			}
		}
	}
	assert.Equal(t, Reply{MessageID: 7, Type: typeACK}, ReplyTo(7, typeCON))
}

func TestNonceReuseRejected(t *testing.T) {
	f := newFixture(t, nil)
	req := f.request(t, "ctrl", 2000, neighbor(1), material)
	req.Reply = Reply{MessageID: 2000, Type: typeCON}

	resp, err := f.engine.Handle(context.Background(), req)
	assert.ErrorIs(t, err, ErrNonceReuse)
	assert.Nil(t, resp)
	assert.Equal(t, 27, f.store.NeighborCount())
}

func TestConcurrentCommitSerialization(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	statuses := make([]wire.Status, 2)
	reqs := []Request{
		f.request(t, "ctrl-a", 10, neighbor(3), material),
		f.request(t, "ctrl-b", 10, neighbor(4), []byte("othersecothersecot")),
	}
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.engine.Handle(context.Background(), reqs[i])
			if assert.NoError(t, err) {
				statuses[i] = resp.Status
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []wire.Status{wire.StatusSuccess, wire.StatusSuccess}, statuses)
	assert.Equal(t, 25, f.store.NeighborCount())
}

func TestAADContext(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.AAD = AADContext
		c.NonceScheme = replay.NonceBinary
	})

	// Same command replayed against another method fails authentication.
	req := f.request(t, "ctrl", 2000, neighbor(1), material)
	moved := req
	moved.Code = 1
	assert.Equal(t, wire.StatusAuthFailed, f.handle(t, moved).Status)

	assert.Equal(t, wire.StatusSuccess, f.handle(t, req).Status)
}

func TestHKDFDerivation(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.KeyDerivation = KeyHKDF })

	require.Equal(t, wire.StatusSuccess, f.handle(t, f.request(t, "ctrl", 1, neighbor(1), material)).Status)

	var want keystore.GroupKey
	_, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(hkdfInfo)), want[:])
	require.NoError(t, err)
	assert.Equal(t, want, f.store.GroupKey())
}

type mockDistributor struct {
	mock.Mock
}

func (m *mockDistributor) Distribute(ctx context.Context, snap keystore.Snapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func TestDistributionAfterApply(t *testing.T) {
	dist := &mockDistributor{}
	var applied []keystore.NodeID
	f := newFixture(t, func(c *Config) {
		c.Distributor = dist
		c.OnApplied = func(target keystore.NodeID) { applied = append(applied, target) }
	})

	dist.On("Distribute", mock.Anything, mock.MatchedBy(func(s keystore.Snapshot) bool {
		for _, n := range s.Neighbors {
			if n.ID == neighbor(5) {
				return false
			}
		}
		return len(s.Neighbors) == 26 && s.GroupKey == keystore.GroupKey([]byte("newsecnewsecnews"))
	})).Return(nil).Once()

	require.Equal(t, wire.StatusSuccess, f.handle(t, f.request(t, "ctrl", 1, neighbor(5), material)).Status)
	require.Equal(t, wire.StatusTargetUnknown, f.handle(t, f.request(t, "ctrl", 2, neighbor(5), material)).Status)
	f.engine.Wait()

	dist.AssertExpectations(t)
	assert.Equal(t, []keystore.NodeID{neighbor(5)}, applied)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CheckReplay(peer string, id uint32) error {
	return m.Called(peer, id).Error(0)
}

func (m *mockStore) Commit(peer string, id uint32, target keystore.NodeID, key keystore.GroupKey) (keystore.Outcome, error) {
	args := m.Called(peer, id, target, key)
	return args.Get(0).(keystore.Outcome), args.Error(1)
}

func (m *mockStore) Snapshot() keystore.Snapshot {
	return m.Called().Get(0).(keystore.Snapshot)
}

func (m *mockStore) NeighborCount() int {
	return m.Called().Int(0)
}

func TestCorruptionHaltsService(t *testing.T) {
	store := &mockStore{}
	store.On("CheckReplay", "ctrl", mock.Anything).Return(nil)
	store.On("Commit", "ctrl", uint32(5), mock.Anything, mock.Anything).
		Return(keystore.OutcomeNotFound, keystore.ErrCorrupted).Once()

	events := &eventRecorder{}
	engine, err := NewEngine(Config{Store: store, ChannelKey: channelKey, ProtocolLogger: events})
	require.NoError(t, err)
	f := &fixture{engine: engine, events: events}
	f.sealer, err = NewSealer(channelKey, replay.NonceDecimal, AADNone)
	require.NoError(t, err)

	resp, err := engine.Handle(context.Background(), f.request(t, "ctrl", 5, neighbor(1), material))
	assert.ErrorIs(t, err, ErrHalted)
	assert.ErrorIs(t, err, keystore.ErrCorrupted)
	assert.Nil(t, resp)
	assert.True(t, engine.Halted())

	// Every later request is refused without touching the store.
	_, err = engine.Handle(context.Background(), f.request(t, "ctrl", 6, neighbor(1), material))
	assert.ErrorIs(t, err, ErrHalted)
	store.AssertNumberOfCalls(t, "Commit", 1)

	var halted bool
	for _, e := range events.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityService && e.StateChange.NewState == "HALTED" {
			halted = true
		}
	}
	assert.True(t, halted, "service halt must be logged")
}

func TestNewEngineValidation(t *testing.T) {
	store, err := keystore.New(keystore.Config{InitialKey: initialKey})
	require.NoError(t, err)

	_, err = NewEngine(Config{ChannelKey: channelKey})
	assert.ErrorIs(t, err, ErrNoStore)

	_, err = NewEngine(Config{Store: store, ChannelKey: []byte("short")})
	assert.Error(t, err)

	_, err = NewEngine(Config{Store: store, ChannelKey: channelKey, KeyMaterialSize: 8})
	assert.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	kd, err := ParseKeyDerivation("HKDF")
	require.NoError(t, err)
	assert.Equal(t, KeyHKDF, kd)
	_, err = ParseKeyDerivation("md5")
	assert.Error(t, err)

	m, err := ParseAADMode("context")
	require.NoError(t, err)
	assert.Equal(t, AADContext, m)
	_, err = ParseAADMode("peer")
	assert.Error(t, err)

	assert.Equal(t, "MALFORMED_PAYLOAD", StateMalformed.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestStatsMap(t *testing.T) {
	s := Stats{Received: 3, Success: 1, ReplayRejected: 2}
	m := s.Map()
	assert.Equal(t, uint64(3), m["RECEIVED"])
	assert.Equal(t, uint64(1), m["SUCCESS"])
	assert.Equal(t, uint64(2), m["REPLAY_REJECTED"])
}
