package wire

import (
	"errors"
	"fmt"
)

const (
	// TargetSize is the length of a node identity.
	TargetSize = 8

	// MinKeyMaterialSize is the smallest accepted key material width.
	MinKeyMaterialSize = 16

	// DefaultKeyMaterialSize matches the textual material used by deployed
	// controllers ("newsecnewsecnewsec").
	DefaultKeyMaterialSize = 18
)

// ErrMalformed is returned when a command does not match the fixed layout.
var ErrMalformed = errors.New("malformed revocation command")

// Command is a decrypted revocation command.
type Command struct {
	Target   [TargetSize]byte
	Material []byte
}

// ParseCommand splits a decrypted payload into target and key material.
// materialSize is the deployment's fixed material width.
func ParseCommand(data []byte, materialSize int) (*Command, error) {
	if materialSize < MinKeyMaterialSize {
		return nil, fmt.Errorf("%w: material width %d below %d", ErrMalformed, materialSize, MinKeyMaterialSize)
	}
	if len(data) != TargetSize+materialSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformed, len(data), TargetSize+materialSize)
	}
	cmd := &Command{Material: make([]byte, materialSize)}
	copy(cmd.Target[:], data[:TargetSize])
	copy(cmd.Material, data[TargetSize:])
	return cmd, nil
}

// EncodeCommand returns the plaintext layout of cmd.
func EncodeCommand(cmd *Command) []byte {
	buf := make([]byte, 0, TargetSize+len(cmd.Material))
	buf = append(buf, cmd.Target[:]...)
	return append(buf, cmd.Material...)
}
