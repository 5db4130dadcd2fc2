package server

import (
	"errors"
	"fmt"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

// RoomCodeAlphabet leaves out I, L, O, 0 and 1.
const (
	RoomCodeAlphabet    = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	RoomCodeLength      = 4
	MaxRoomCodeAttempts = 50
)

var ErrRoomAllocationExhausted = errors.New("could not allocate a free room code")

// CodeGenerator returns one candidate room code per call.
type CodeGenerator func() string

// nanoid's custom generators draw no random bytes below five characters, so
// codes are cut from a longer ID. Each character is uniform on its own.
const nanoidLength = 8

func NewCodeGenerator() (CodeGenerator, error) {
	gen, err := nanoid.CustomASCII(RoomCodeAlphabet, nanoidLength)
	if err != nil {
		return nil, fmt.Errorf("room code generator: %w", err)
	}
	return func() string {
		return gen()[:RoomCodeLength]
	}, nil
}

// GenerateRoomCode draws candidates until one is not in use, giving up after
// MaxRoomCodeAttempts.
func GenerateRoomCode(gen CodeGenerator, inUse func(string) bool) (string, error) {
	for i := 0; i < MaxRoomCodeAttempts; i++ {
		code := NormalizeRoomCode(gen())
		if !inUse(code) {
			return code, nil
		}
	}
	return "", ErrRoomAllocationExhausted
}

func ValidateRoomCode(code string) error {
	if len(code) != RoomCodeLength {
		return errors.New("room code must be exactly 4 characters")
	}

	code = strings.ToUpper(code)
	for _, ch := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, ch) {
			return errors.New("room code contains an invalid character")
		}
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
