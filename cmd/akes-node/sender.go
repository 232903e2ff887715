package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/update"
)

// frameSender hands UPDATE frames to the link layer. Link-layer delivery
// is outside this program, so frames are recorded in the protocol log
// addressed by neighbor id.
type frameSender struct {
	nodeID string
	events log.Logger
	logger *slog.Logger
}

var _ update.Sender = (*frameSender)(nil)

func (s *frameSender) SendUpdate(ctx context.Context, to keystore.NodeID, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.events.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionOut,
		Layer:      log.LayerTransport,
		Category:   log.CategoryMessage,
		LocalRole:  log.RoleNode,
		RemoteAddr: to.String(),
		NodeID:     s.nodeID,
		Frame:      log.NewFrameEvent(frame),
	})
	s.logger.Debug("update frame queued", "neighbor", to, "size", len(frame))
	return nil
}
