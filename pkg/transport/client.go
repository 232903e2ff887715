package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akes-protocol/akes-go/pkg/coap"
	"github.com/akes-protocol/akes-go/pkg/connection"
	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/persistence"
	"github.com/akes-protocol/akes-go/pkg/replay"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/status"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Client defaults.
const (
	// DefaultStartMessageID is the first message ID used towards a node
	// without saved controller state.
	DefaultStartMessageID = 1530

	// DefaultResponseTimeout bounds the wait for a reply to a
	// non-confirmable request.
	DefaultResponseTimeout = 5 * time.Second

	tokenLength = 4
)

// Client errors.
var (
	ErrNoChannelKey = errors.New("no channel key configured")
	ErrReset        = errors.New("request reset by peer")

	// ErrMessageIDsExhausted reports that all 16-bit message IDs towards a
	// node were used. The node's watermark would reject a wrapped ID, so the
	// node state must be reset before the controller can talk to it again.
	ErrMessageIDsExhausted = errors.New("message IDs exhausted")
)

// CodeError reports an unexpected response code.
type CodeError struct {
	Code    coap.Code
	Message string
}

func (e *CodeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("response %s: %s", e.Code, e.Message)
	}
	return "response " + e.Code.String()
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// ChannelKey is the controller pre-shared key. Required for Revoke.
	ChannelKey []byte

	// NonceScheme and AAD must match the node's configuration.
	NonceScheme replay.NonceScheme
	AAD         revocation.AADMode

	// Path is the revocation resource path. Default: DefaultPath.
	Path string

	// NonConfirmable sends requests as NON instead of CON.
	NonConfirmable bool

	// StartMessageID is the first message ID towards a new node.
	// Default: DefaultStartMessageID.
	StartMessageID uint16

	// ResponseTimeout bounds the wait for a NON reply.
	// Default: DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// Transmitter controls CON retransmission (optional).
	Transmitter *connection.Transmitter

	// StateStore persists the per-node message ID counters (optional).
	StateStore *persistence.ControllerStateStore

	// Logger is used for operational logging. nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message events (optional).
	ProtocolLogger log.Logger
}

// Client sends revocation requests and debug queries to nodes.
type Client struct {
	config ClientConfig
	sealer *revocation.Sealer
	events eventLog

	mu   sync.Mutex
	next map[string]uint32

	// saveMu orders snapshots and writes of the state file.
	saveMu sync.Mutex
}

// NewClient creates a new Client, restoring message ID counters from the
// state store when configured.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.StartMessageID == 0 {
		config.StartMessageID = DefaultStartMessageID
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}

	c := &Client{
		config: config,
		events: eventLog{logger: config.ProtocolLogger, role: log.RoleController},
		next:   make(map[string]uint32),
	}

	if len(config.ChannelKey) > 0 {
		sealer, err := revocation.NewSealer(config.ChannelKey, config.NonceScheme, config.AAD)
		if err != nil {
			return nil, fmt.Errorf("invalid channel key: %w", err)
		}
		c.sealer = sealer
	}

	if config.StateStore != nil {
		state, err := config.StateStore.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load controller state: %w", err)
		}
		if state != nil {
			for addr, id := range state.NextMessageID {
				c.next[addr] = id
			}
		}
	}
	return c, nil
}

// NextMessageID allocates the next message ID towards addr. After 65535 it
// returns ErrMessageIDsExhausted instead of wrapping.
func (c *Client) NextMessageID(addr string) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.next[addr]
	if !ok {
		id = uint32(c.config.StartMessageID)
	}
	if id > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s", ErrMessageIDsExhausted, addr)
	}
	c.next[addr] = id + 1
	return uint16(id), nil
}

// Save persists the message ID counters. It is a no-op without a state store.
func (c *Client) Save() error {
	if c.config.StateStore == nil {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	state := &persistence.ControllerState{NextMessageID: maps.Clone(c.next)}
	c.mu.Unlock()
	return c.config.StateStore.Save(state)
}

// Revoke asks the node at addr to revoke target and install a group key
// derived from material. It returns the node's status.
func (c *Client) Revoke(ctx context.Context, addr string, target keystore.NodeID, material []byte) (wire.Status, error) {
	if c.sealer == nil {
		return 0, ErrNoChannelKey
	}

	msg, err := c.newRequest(addr, coap.POST)
	if err != nil {
		return 0, err
	}
	// The counter is saved before the request leaves.
	if err := c.Save(); err != nil {
		return 0, fmt.Errorf("failed to save controller state: %w", err)
	}

	payload, err := c.sealer.SealCommand(uint32(msg.MessageID), uint8(msg.Type), c.config.Path, uint8(coap.POST),
		&wire.Command{Target: target, Material: material})
	if err != nil {
		return 0, err
	}
	msg.Payload = payload

	reply, err := c.exchange(ctx, addr, msg)
	if err != nil {
		return 0, err
	}
	if reply.Code != coap.Changed {
		return 0, &CodeError{Code: reply.Code, Message: string(reply.Payload)}
	}

	sealedAs := revocation.ReplyTo(uint32(msg.MessageID), uint8(msg.Type))
	st, err := c.sealer.OpenStatus(sealedAs.MessageID, sealedAs.Type, c.config.Path, uint8(coap.POST), reply.Payload)
	if err != nil {
		return 0, err
	}
	if c.config.Logger != nil {
		c.config.Logger.Info("revocation answered", "node", addr, "target", target, "status", st)
	}
	return st, nil
}

// Debug queries field on the node at addr in the given format.
func (c *Client) Debug(ctx context.Context, addr, field string, format status.Format) (*status.Value, error) {
	msg, err := c.newRequest(addr, coap.GET)
	if err != nil {
		return nil, err
	}
	msg.AddQuery(DebugQuery, field)
	msg.SetAccept(mediaTypeFor(format))

	reply, err := c.exchange(ctx, addr, msg)
	if err != nil {
		return nil, err
	}
	if reply.Code != coap.Content {
		return nil, &CodeError{Code: reply.Code, Message: string(reply.Payload)}
	}
	return status.Decode(field, format, reply.Payload)
}

// Ping sends a CoAP ping (empty CON) and waits for the reset.
func (c *Client) Ping(ctx context.Context, addr string) error {
	id, err := c.NextMessageID(addr)
	if err != nil {
		return err
	}
	msg := &coap.Message{Type: coap.Confirmable, Code: coap.Empty, MessageID: id}
	_, err = c.exchange(ctx, addr, msg)
	if errors.Is(err, ErrReset) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("unexpected reply to ping")
}

func (c *Client) newRequest(addr string, code coap.Code) (*coap.Message, error) {
	id, err := c.NextMessageID(addr)
	if err != nil {
		return nil, err
	}
	msg := &coap.Message{
		Type:      coap.Confirmable,
		Code:      code,
		MessageID: id,
		Token:     newToken(),
	}
	if c.config.NonConfirmable {
		msg.Type = coap.NonConfirmable
	}
	msg.SetPath(c.config.Path)
	return msg, nil
}

func newToken() []byte {
	tok := make([]byte, tokenLength)
	_, _ = rand.Read(tok)
	return tok
}

// exchange sends req to addr and returns the matching reply. A reset
// returns ErrReset.
func (c *Client) exchange(ctx context.Context, addr string, req *coap.Message) (*coap.Message, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	exchangeID := uuid.New().String()
	remote := conn.RemoteAddr()
	start := time.Now()
	c.events.message(exchangeID, log.DirectionOut, remote, req, nil, nil)

	replies := make(chan *coap.Message, 1)
	go c.receive(conn, exchangeID, req, replies)

	send := func(context.Context) error {
		c.events.frame(exchangeID, log.DirectionOut, remote, data)
		_, err := conn.Write(data)
		return err
	}

	tr := c.config.Transmitter
	if req.Type == coap.NonConfirmable {
		timeout := c.config.ResponseTimeout
		tr = &connection.Transmitter{
			MaxRetransmit: -1,
			NewBackoff: func() *connection.Backoff {
				return connection.NewBackoffWithConfig(connection.BackoffConfig{Initial: timeout})
			},
		}
	}

	reply, err := connection.Transmit(ctx, tr, send, replies)
	if err != nil {
		c.events.errorEvent(exchangeID, log.LayerCoAP, remote, err, "exchange")
		return nil, fmt.Errorf("%s %s: %w", req.Code, addr, err)
	}
	took := time.Since(start)
	c.events.message(exchangeID, log.DirectionIn, remote, reply, nil, &took)

	if reply.Type == coap.Reset {
		return nil, ErrReset
	}
	return reply, nil
}

// receive reads datagrams from conn until one matches req. It returns when
// conn is closed.
func (c *Client) receive(conn net.Conn, exchangeID string, req *coap.Message, replies chan<- *coap.Message) {
	buf := make([]byte, DefaultMaxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable surfaces as a read error on a
			// connected socket; keep waiting for retransmissions.
			continue
		}
		c.events.frame(exchangeID, log.DirectionIn, conn.RemoteAddr(), buf[:n])

		reply, err := coap.Parse(buf[:n])
		if err != nil || !matches(req, reply) {
			continue
		}
		select {
		case replies <- reply:
		default:
		}
		return
	}
}

// matches reports whether reply answers req.
func matches(req, reply *coap.Message) bool {
	switch reply.Type {
	case coap.Reset:
		return reply.MessageID == req.MessageID
	case coap.Acknowledgement:
		// An empty ACK announces a separate response; wait for it.
		return reply.MessageID == req.MessageID && reply.Code != coap.Empty && bytes.Equal(reply.Token, req.Token)
	default:
		return req.Type == coap.NonConfirmable && reply.Code != coap.Empty && bytes.Equal(reply.Token, req.Token)
	}
}
