package server

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RoomManager is the registry of live rooms keyed by canonical room code.
// Its lock covers only the map; room state is guarded by each room's own lock.
type RoomManager struct {
	rooms   map[string]*Room
	newCode CodeGenerator
	now     func() time.Time
	logger  *zap.Logger
	mu      sync.RWMutex
}

type RoomManagerOption func(*RoomManager)

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(gen CodeGenerator) RoomManagerOption {
	return func(rm *RoomManager) { rm.newCode = gen }
}

func WithClock(now func() time.Time) RoomManagerOption {
	return func(rm *RoomManager) { rm.now = now }
}

func NewRoomManager(logger *zap.Logger, opts ...RoomManagerOption) (*RoomManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rm := &RoomManager{
		rooms:  make(map[string]*Room),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(rm)
	}
	if rm.newCode == nil {
		gen, err := NewCodeGenerator()
		if err != nil {
			return nil, err
		}
		rm.newCode = gen
	}
	return rm, nil
}

// CreateRoom allocates a fresh code, runs setup on the new room while holding
// its lock, and only then publishes it. If setup fails the room is discarded.
func (rm *RoomManager) CreateRoom(setup func(*Room) error) (*Room, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	code, err := GenerateRoomCode(rm.newCode, func(c string) bool {
		_, taken := rm.rooms[c]
		return taken
	})
	if err != nil {
		rm.logger.Error("room code allocation failed",
			zap.Int("rooms", len(rm.rooms)),
			zap.Error(err))
		return nil, err
	}

	room := newRoom(code, rm.now)
	room.mu.Lock()
	defer room.mu.Unlock()

	if err := setup(room); err != nil {
		return nil, err
	}

	rm.rooms[code] = room
	rm.logger.Info("room created", zap.String("room", code))
	return room, nil
}

func (rm *RoomManager) GetRoom(code string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[NormalizeRoomCode(code)]
	return room, ok
}

// RemoveRoom deletes code only while it still maps to room, so a stale
// removal cannot drop a newer room that reused the code.
func (rm *RoomManager) RemoveRoom(code string, room *Room) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	code = NormalizeRoomCode(code)
	current, ok := rm.rooms[code]
	if !ok || current != room {
		return false
	}
	delete(rm.rooms, code)
	rm.logger.Info("room removed", zap.String("room", code))
	return true
}

func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}
