package server

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"tictactoe-server/internal/tictactoe"
)

// Sender delivers one outbound message to one connection. Implementations
// must not block: the coordinator calls Send while holding a room lock so
// that every member sees transitions in the order they were applied.
type Sender interface {
	Send(connectionID string, msg ServerMessage)
}

// Seat is where a connection ended up after create or join.
type Seat struct {
	RoomCode string
	Player   Player
}

// Coordinator applies client actions to rooms. Each call locks exactly one
// room for its whole read-modify-broadcast sequence.
type Coordinator struct {
	rooms  *RoomManager
	out    Sender
	logger *zap.Logger
}

func NewCoordinator(rooms *RoomManager, out Sender, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{rooms: rooms, out: out, logger: logger}
}

func (c *Coordinator) CreateRoom(connectionID, name string) (Seat, error) {
	var seat Seat
	_, err := c.rooms.CreateRoom(func(r *Room) error {
		p, err := r.seat(connectionID, name)
		if err != nil {
			return err
		}
		seat = Seat{RoomCode: r.code, Player: *p}

		r.appendChat(nil, fmt.Sprintf("%s created the room", p.Name), ChatSystem)
		r.appendChat(nil, "Welcome! You can chat here while you play.", ChatSystem)

		c.out.Send(connectionID, newJoinedMessage(r.code, *p))
		c.broadcastState(r)
		return nil
	})
	if err != nil {
		return Seat{}, fmt.Errorf("create room: %w", err)
	}

	c.logger.Info("player created room",
		zap.String("room", seat.RoomCode),
		zap.String("connection", connectionID),
		zap.String("player", seat.Player.ID),
		zap.String("name", seat.Player.Name))
	return seat, nil
}

func (c *Coordinator) Join(connectionID, code, name string) (Seat, error) {
	r, err := c.lookup(code)
	if err != nil {
		return Seat{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.seat(connectionID, name)
	if err != nil {
		c.logger.Debug("join rejected",
			zap.String("room", r.code),
			zap.String("connection", connectionID),
			zap.Error(err))
		return Seat{}, err
	}

	r.appendChat(nil, fmt.Sprintf("%s joined (%s)", p.Name, p.Symbol), ChatSystem)
	c.out.Send(connectionID, newJoinedMessage(r.code, *p))
	c.broadcastState(r)

	c.logger.Info("player joined room",
		zap.String("room", r.code),
		zap.String("connection", connectionID),
		zap.String("player", p.ID),
		zap.String("name", p.Name),
		zap.String("symbol", string(p.Symbol)))
	return Seat{RoomCode: r.code, Player: *p}, nil
}

func (c *Coordinator) Move(connectionID, code string, index *CellIndex) error {
	r, err := c.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cell := cellIndex(index)
	p, err := r.move(connectionID, cell)
	if err != nil {
		c.logger.Debug("move rejected",
			zap.String("room", r.code),
			zap.String("connection", connectionID),
			zap.Int("index", cell),
			zap.Error(err))
		return err
	}

	c.logger.Debug("move applied",
		zap.String("room", r.code),
		zap.String("player", p.ID),
		zap.String("symbol", string(p.Symbol)),
		zap.Int("index", cell))

	switch r.winner {
	case tictactoe.None:
	case tictactoe.Draw:
		r.appendChat(nil, "It's a draw!", ChatSystem)
		c.logger.Info("game drawn", zap.String("room", r.code))
	default:
		r.appendChat(nil, fmt.Sprintf("%s (%s) wins!", p.Name, r.winner), ChatSystem)
		c.logger.Info("game won",
			zap.String("room", r.code),
			zap.String("player", p.ID),
			zap.String("symbol", string(r.winner)))
	}

	c.broadcastState(r)
	return nil
}

func (c *Coordinator) Reset(connectionID, code string) error {
	r, err := c.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.player(connectionID)
	if !ok {
		return ErrNotInRoom
	}

	swapped := len(r.players) == MaxPlayers
	r.rematch()
	if swapped {
		r.appendChat(nil, fmt.Sprintf("%s reset the game, symbols swapped", p.Name), ChatSystem)
	} else {
		r.appendChat(nil, fmt.Sprintf("%s reset the game", p.Name), ChatSystem)
	}
	c.broadcastState(r)

	c.logger.Info("game reset",
		zap.String("room", r.code),
		zap.String("player", p.ID),
		zap.Bool("swapped", swapped))
	return nil
}

// Chat appends a player message. Blank text is ignored.
func (c *Coordinator) Chat(connectionID, code, text string) error {
	r, err := c.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.player(connectionID)
	if !ok {
		return ErrNotInRoom
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m := r.appendChat(p, text, ChatUser)
	c.broadcast(r, newChatEvent(m))
	c.broadcastState(r)
	return nil
}

func (c *Coordinator) GetChat(connectionID, code string) error {
	r, err := c.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.player(connectionID); !ok {
		return ErrNotInRoom
	}
	c.out.Send(connectionID, newChatHistoryMessage(r.chat.All()))
	c.logger.Debug("chat history sent",
		zap.String("room", r.code),
		zap.String("connection", connectionID),
		zap.Int("messages", r.chat.Len()))
	return nil
}

// Leave removes the connection's player from the room it was bound to. A room
// that has already gone away, or no longer seats the connection, is left
// untouched.
func (c *Coordinator) Leave(connectionID, code string) {
	r, ok := c.rooms.GetRoom(code)
	if !ok {
		return
	}

	r.mu.Lock()
	p, ok := r.unseat(connectionID)
	if !ok {
		r.mu.Unlock()
		return
	}

	closed := r.closed
	if !closed {
		r.appendChat(nil, fmt.Sprintf("%s left", p.Name), ChatSystem)
		c.broadcastState(r)
	}
	r.mu.Unlock()

	c.logger.Info("player left room",
		zap.String("room", r.code),
		zap.String("connection", connectionID),
		zap.String("player", p.ID),
		zap.Bool("room_closed", closed))

	if closed {
		c.rooms.RemoveRoom(r.code, r)
	}
}

func (c *Coordinator) lookup(code string) (*Room, error) {
	code = NormalizeRoomCode(code)
	if code == "" {
		return nil, ErrMissingRoomCode
	}
	if err := ValidateRoomCode(code); err != nil {
		return nil, ErrRoomNotFound
	}
	r, ok := c.rooms.GetRoom(code)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func (c *Coordinator) broadcast(r *Room, msg ServerMessage) {
	for _, id := range r.members() {
		c.out.Send(id, msg)
	}
}

func (c *Coordinator) broadcastState(r *Room) {
	c.broadcast(r, r.snapshot())
}

// cellIndex maps a decoded index to a board cell, or -1 when it is missing
// or not a whole number.
func cellIndex(index *CellIndex) int {
	if index == nil {
		return -1
	}
	v := float64(*index)
	if v != math.Trunc(v) || v < 0 || v >= tictactoe.Cells {
		return -1
	}
	return int(v)
}
