package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/akes-protocol/akes-go/pkg/coap"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/revocation"
	"github.com/akes-protocol/akes-go/pkg/status"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Transport defaults.
const (
	// DefaultPort is the CoAP port.
	DefaultPort = 5683

	// DefaultPath is the revocation resource.
	DefaultPath = "akes/key-revocation"

	// DefaultMaxDatagramSize bounds inbound datagrams.
	DefaultMaxDatagramSize = 1280

	// DebugQuery is the Uri-Query name selecting the debug field.
	DebugQuery = "debug"

	// ExchangeLifetime is how long a confirmable reply is kept for
	// duplicate requests (RFC 7252 EXCHANGE_LIFETIME).
	ExchangeLifetime = 247 * time.Second

	// DefaultReplyCacheSize bounds the reply cache.
	DefaultReplyCacheSize = 256
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (e.g., ":5683" or "127.0.0.1:0").
	Address string

	// Path is the revocation resource path. Default: DefaultPath.
	Path string

	// Handler runs revocation requests. Required.
	Handler RevocationHandler

	// Querier answers debug GETs. nil disables the debug query.
	Querier DebugQuerier

	// AllowDebug decides which peers may query debug fields.
	// Default: loopback peers only.
	AllowDebug func(addr net.Addr) bool

	// PeerIdentity maps a source address to the requester identity used
	// for replay watermarks. Default: the source IP address.
	PeerIdentity func(addr net.Addr) string

	// MaxDatagramSize bounds inbound datagrams. Default: DefaultMaxDatagramSize.
	MaxDatagramSize int

	// ReplyCacheSize bounds remembered confirmable replies.
	// Default: DefaultReplyCacheSize.
	ReplyCacheSize int

	// NodeID labels protocol events.
	NodeID string

	// Logger is used for operational logging. nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message events (optional).
	ProtocolLogger log.Logger

	// OnError is called when a datagram cannot be read or answered.
	OnError func(addr net.Addr, err error)
}

// Server serves the revocation resource over UDP.
type Server struct {
	config ServerConfig
	conn   net.PacketConn
	events eventLog

	replies    *expirable.LRU[string, []byte]
	inflight   map[string]struct{}
	inflightMu sync.Mutex

	nextID atomic.Uint32

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, fmt.Errorf("revocation handler is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.MaxDatagramSize == 0 {
		config.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if config.ReplyCacheSize == 0 {
		config.ReplyCacheSize = DefaultReplyCacheSize
	}
	if config.AllowDebug == nil {
		config.AllowDebug = LoopbackOnly
	}
	if config.PeerIdentity == nil {
		config.PeerIdentity = PeerIP
	}

	s := &Server{
		config:   config,
		events:   eventLog{logger: config.ProtocolLogger, role: log.RoleNode, nodeID: config.NodeID},
		replies:  expirable.NewLRU[string, []byte](config.ReplyCacheSize, nil, ExchangeLifetime),
		inflight: make(map[string]struct{}),
	}
	s.nextID.Store(rand.Uint32N(1 << 16))
	return s, nil
}

// LoopbackOnly allows debug queries from loopback addresses.
func LoopbackOnly(addr net.Addr) bool {
	ua, ok := addr.(*net.UDPAddr)
	return ok && ua.IP.IsLoopback()
}

// AllowList returns a policy accepting loopback peers and the given IPs.
func AllowList(ips ...net.IP) func(net.Addr) bool {
	return func(addr net.Addr) bool {
		if LoopbackOnly(addr) {
			return true
		}
		ua, ok := addr.(*net.UDPAddr)
		if !ok {
			return false
		}
		for _, ip := range ips {
			if ip.Equal(ua.IP) {
				return true
			}
		}
		return false
	}
}

// PeerIP identifies a requester by source IP address, so a controller keeps
// its watermark across source ports.
func PeerIP(addr net.Addr) string {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	return addr.String()
}

// Start starts the server and begins serving datagrams.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	conn, err := net.ListenPacket("udp", s.config.Address)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.conn = conn
	s.running.Store(true)

	s.wg.Add(1)
	go s.readLoop()

	s.debugLog("server started", "addr", conn.LocalAddr(), "path", s.config.Path)
	return nil
}

// Stop stops the server and waits for in-flight requests.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	s.debugLog("server stopped")
	return err
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	return nil
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.config.MaxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(addr, fmt.Errorf("read error: %w", err))
			continue
		}

		data := bytes.Clone(buf[:n])
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleDatagram(addr, data)
		}()
	}
}

func (s *Server) handleDatagram(addr net.Addr, data []byte) {
	start := time.Now()
	exchangeID := uuid.New().String()
	s.events.frame(exchangeID, log.DirectionIn, addr, data)

	msg, err := coap.Parse(data)
	if err != nil {
		s.events.errorEvent(exchangeID, log.LayerCoAP, addr, err, "parse")
		s.reportError(addr, fmt.Errorf("invalid datagram: %w", err))
		if len(data) >= 4 && coap.Type(data[0]>>4&0x03) == coap.Confirmable {
			s.reset(exchangeID, addr, uint16(data[2])<<8|uint16(data[3]))
		}
		return
	}
	s.events.message(exchangeID, log.DirectionIn, addr, msg, nil, nil)

	switch {
	case msg.Type == coap.Acknowledgement || msg.Type == coap.Reset:
		return
	case !msg.Code.IsRequest():
		// Empty CON is a CoAP ping.
		if msg.Type == coap.Confirmable {
			s.reset(exchangeID, addr, msg.MessageID)
		}
		return
	}

	key := addr.String() + "/" + strconv.Itoa(int(msg.MessageID))
	if msg.Type == coap.Confirmable {
		if cached, ok := s.replies.Get(key); ok {
			s.debugLog("duplicate request answered from cache", "remote", addr, "mid", msg.MessageID)
			s.write(exchangeID, addr, cached)
			return
		}
		if !s.begin(key) {
			return
		}
		defer s.end(key)
	}

	reply, st := s.serve(exchangeID, addr, msg)
	out, err := reply.Marshal()
	if err != nil {
		s.events.errorEvent(exchangeID, log.LayerCoAP, addr, err, "marshal")
		s.reportError(addr, fmt.Errorf("failed to encode reply: %w", err))
		return
	}
	if msg.Type == coap.Confirmable {
		s.replies.Add(key, out)
	}

	took := time.Since(start)
	s.events.message(exchangeID, log.DirectionOut, addr, reply, st, &took)
	s.write(exchangeID, addr, out)
}

// begin marks a confirmable exchange in flight. Duplicates arriving before
// the reply is cached are dropped; the client retransmits.
func (s *Server) begin(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Server) end(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}

// newReply returns the response skeleton for req: a piggybacked ACK for
// CON, a NON with a fresh message ID otherwise.
func (s *Server) newReply(req *coap.Message) *coap.Message {
	reply := &coap.Message{Token: req.Token}
	if req.Type == coap.Confirmable {
		reply.Type = coap.Acknowledgement
		reply.MessageID = req.MessageID
	} else {
		reply.Type = coap.NonConfirmable
		reply.MessageID = s.freshID(req.MessageID)
	}
	return reply
}

func (s *Server) freshID(avoid uint16) uint16 {
	for {
		if id := uint16(s.nextID.Add(1)); id != avoid {
			return id
		}
	}
}

func (s *Server) serve(exchangeID string, addr net.Addr, req *coap.Message) (*coap.Message, *wire.Status) {
	reply := s.newReply(req)
	if req.Path() != s.config.Path {
		reply.Code = coap.NotFound
		return reply, nil
	}

	switch req.Code {
	case coap.POST:
		return reply, s.serveRevocation(exchangeID, addr, req, reply)
	case coap.GET:
		s.serveDebug(addr, req, reply)
	default:
		reply.Code = coap.MethodNotAllowed
	}
	return reply, nil
}

func (s *Server) serveRevocation(exchangeID string, addr net.Addr, req, reply *coap.Message) *wire.Status {
	if s.config.Handler.Halted() {
		reply.Code = coap.ServiceUnavailable
		return nil
	}

	resp, err := s.config.Handler.Handle(s.ctx, revocation.Request{
		ExchangeID: exchangeID,
		Peer:       s.config.PeerIdentity(addr),
		MessageID:  uint32(req.MessageID),
		Type:       uint8(req.Type),
		Payload:    req.Payload,
		Reply:      revocation.ReplyTo(uint32(req.MessageID), uint8(req.Type)),
		Path:       req.Path(),
		Code:       uint8(req.Code),
	})
	switch {
	case errors.Is(err, revocation.ErrHalted):
		reply.Code = coap.ServiceUnavailable
		if s.config.Logger != nil {
			s.config.Logger.Error("revocation refused, service halted", "remote", addr, "error", err)
		}
		return nil
	case err != nil:
		reply.Code = coap.InternalServerError
		s.events.errorEvent(exchangeID, log.LayerEngine, addr, err, "handle")
		s.reportError(addr, err)
		return nil
	}

	reply.Code = coap.Changed
	reply.SetContentFormat(coap.AppOctetStream)
	reply.Payload = resp.Payload
	return &resp.Status
}

func (s *Server) serveDebug(addr net.Addr, req, reply *coap.Message) {
	if s.config.Querier == nil {
		reply.Code = coap.NotFound
		return
	}
	if !s.config.AllowDebug(addr) {
		s.debugLog("debug query refused", "remote", addr)
		reply.Code = coap.Forbidden
		return
	}
	name, ok := req.Query(DebugQuery)
	if !ok {
		reply.Code = coap.BadRequest
		return
	}

	mt := coap.TextPlain
	if accept, ok := req.Accept(); ok {
		mt = accept
	}
	format, ok := formatFor(mt)
	if !ok {
		reply.Code = coap.NotAcceptable
		return
	}

	v, err := s.config.Querier.Query(name)
	if err != nil {
		reply.Code = coap.NotFound
		reply.Payload = []byte(err.Error())
		return
	}
	data, err := v.Render(format)
	if err != nil {
		reply.Code = coap.InternalServerError
		return
	}
	reply.Code = coap.Content
	reply.SetContentFormat(mt)
	reply.Payload = data
}

// formatFor maps a content format to a debug rendering.
func formatFor(mt coap.MediaType) (status.Format, bool) {
	switch mt {
	case coap.TextPlain:
		return status.FormatText, true
	case coap.AppJSON:
		return status.FormatJSON, true
	case coap.AppCBOR:
		return status.FormatCBOR, true
	default:
		return 0, false
	}
}

// mediaTypeFor is the inverse of formatFor.
func mediaTypeFor(f status.Format) coap.MediaType {
	switch f {
	case status.FormatJSON:
		return coap.AppJSON
	case status.FormatCBOR:
		return coap.AppCBOR
	default:
		return coap.TextPlain
	}
}

func (s *Server) reset(exchangeID string, addr net.Addr, mid uint16) {
	rst := &coap.Message{Type: coap.Reset, Code: coap.Empty, MessageID: mid}
	out, err := rst.Marshal()
	if err != nil {
		return
	}
	s.events.message(exchangeID, log.DirectionOut, addr, rst, nil, nil)
	s.write(exchangeID, addr, out)
}

func (s *Server) write(exchangeID string, addr net.Addr, data []byte) {
	s.events.frame(exchangeID, log.DirectionOut, addr, data)
	if _, err := s.conn.WriteTo(data, addr); err != nil {
		s.events.errorEvent(exchangeID, log.LayerTransport, addr, err, "write")
		s.reportError(addr, fmt.Errorf("write error: %w", err))
	}
}

func (s *Server) reportError(addr net.Addr, err error) {
	if s.config.OnError != nil {
		s.config.OnError(addr, err)
	}
	if s.config.Logger != nil {
		s.config.Logger.Warn("transport error", "remote", addrString(addr), "error", err)
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
