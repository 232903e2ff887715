package replay

import (
	"errors"
	"fmt"
	"maps"
)

// ErrReplay is returned for a message ID at or below the peer's watermark.
var ErrReplay = errors.New("message id did not advance")

// Guard tracks the highest accepted message ID per peer.
//
// The zero value is not usable; call NewGuard. Guard is not safe for
// concurrent use.
type Guard struct {
	marks map[string]uint32
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{marks: make(map[string]uint32)}
}

// Check reports whether id would be accepted for peer. It does not modify
// the guard.
func (g *Guard) Check(peer string, id uint32) error {
	if mark, ok := g.marks[peer]; ok && id <= mark {
		return fmt.Errorf("%w: peer %s id %d watermark %d", ErrReplay, peer, id, mark)
	}
	return nil
}

// Advance records id as the peer's watermark. It fails with ErrReplay when id
// does not advance, leaving the watermark unchanged.
func (g *Guard) Advance(peer string, id uint32) error {
	if err := g.Check(peer, id); err != nil {
		return err
	}
	g.marks[peer] = id
	return nil
}

// Watermark returns the peer's watermark and whether the peer has one.
func (g *Guard) Watermark(peer string) (uint32, bool) {
	mark, ok := g.marks[peer]
	return mark, ok
}

// Len returns the number of tracked peers.
func (g *Guard) Len() int {
	return len(g.marks)
}

// Snapshot returns a copy of all watermarks.
func (g *Guard) Snapshot() map[string]uint32 {
	return maps.Clone(g.marks)
}

// Restore replaces all watermarks with marks.
func (g *Guard) Restore(marks map[string]uint32) {
	g.marks = make(map[string]uint32, len(marks))
	maps.Copy(g.marks, marks)
}
