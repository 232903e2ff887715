package transport

import (
	"net"
	"strings"
	"time"

	"github.com/akes-protocol/akes-go/pkg/coap"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// eventLog emits protocol events for one endpoint.
type eventLog struct {
	logger log.Logger
	role   log.Role
	nodeID string
}

func (e eventLog) enabled() bool {
	_, noop := e.logger.(log.NoopLogger)
	return e.logger != nil && !noop
}

func (e eventLog) frame(exchangeID string, dir log.Direction, remote net.Addr, data []byte) {
	if !e.enabled() {
		return
	}
	e.logger.Log(log.Event{
		Timestamp:  time.Now(),
		ExchangeID: exchangeID,
		Direction:  dir,
		Layer:      log.LayerTransport,
		Category:   log.CategoryMessage,
		LocalRole:  e.role,
		RemoteAddr: addrString(remote),
		NodeID:     e.nodeID,
		Frame:      log.NewFrameEvent(data),
	})
}

func (e eventLog) message(exchangeID string, dir log.Direction, remote net.Addr, m *coap.Message, st *wire.Status, took *time.Duration) {
	if !e.enabled() {
		return
	}
	e.logger.Log(log.Event{
		Timestamp:  time.Now(),
		ExchangeID: exchangeID,
		Direction:  dir,
		Layer:      log.LayerCoAP,
		Category:   log.CategoryMessage,
		LocalRole:  e.role,
		RemoteAddr: addrString(remote),
		NodeID:     e.nodeID,
		Message: &log.MessageEvent{
			Type:           uint8(m.Type),
			MessageID:      m.MessageID,
			Code:           m.Code.String(),
			Path:           m.Path(),
			Query:          strings.Join(m.Queries(), "&"),
			Status:         st,
			PayloadSize:    len(m.Payload),
			ProcessingTime: took,
		},
	})
}

func (e eventLog) errorEvent(exchangeID string, layer log.Layer, remote net.Addr, err error, op string) {
	if !e.enabled() {
		return
	}
	e.logger.Log(log.Event{
		Timestamp:  time.Now(),
		ExchangeID: exchangeID,
		Layer:      layer,
		Category:   log.CategoryError,
		LocalRole:  e.role,
		RemoteAddr: addrString(remote),
		NodeID:     e.nodeID,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
