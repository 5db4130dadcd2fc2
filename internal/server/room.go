package server

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tictactoe-server/internal/tictactoe"
)

var (
	ErrMissingRoomCode    = errors.New("room code is required")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadyInRoom      = errors.New("already in a room")
	ErrNotInRoom          = errors.New("not a player in this room")
	ErrWaitingForOpponent = errors.New("waiting for a second player")
	ErrGameOver           = errors.New("game is over")
	ErrInvalidCell        = errors.New("invalid cell")
	ErrCellOccupied       = errors.New("cell is already taken")
	ErrNotYourTurn        = errors.New("not your turn")
)

const (
	MaxPlayers    = 2
	MaxNameLength = 20
	MaxChatLength = 300
	DefaultName   = "Player"
)

type Player struct {
	ID     string
	Name   string
	Symbol tictactoe.Symbol
}

// Room is one two-player game and its chat. Every field is guarded by mu;
// the unexported methods below expect the caller to hold it.
type Room struct {
	mu sync.Mutex

	code    string
	players map[string]*Player // connection ID -> player
	order   []string           // connection IDs in join order
	board   tictactoe.Board
	turn    tictactoe.Symbol
	winner  tictactoe.Outcome
	chat    *ChatLog
	chatSeq uint64
	closed  bool
	now     func() time.Time
}

func newRoom(code string, now func() time.Time) *Room {
	if now == nil {
		now = time.Now
	}
	return &Room{
		code:    code,
		players: make(map[string]*Player, MaxPlayers),
		board:   tictactoe.EmptyBoard(),
		turn:    tictactoe.X,
		winner:  tictactoe.None,
		chat:    NewChatLog(ChatCapacity),
		now:     now,
	}
}

func (r *Room) Code() string { return r.code }

// seat adds a player for the connection. The newcomer takes whichever
// symbol the seated player does not hold, X in an empty room.
func (r *Room) seat(connectionID, name string) (*Player, error) {
	if r.closed {
		return nil, ErrRoomNotFound
	}
	if len(r.players) >= MaxPlayers {
		return nil, ErrRoomFull
	}

	symbol := tictactoe.X
	for _, p := range r.players {
		symbol = p.Symbol.Opponent()
	}

	p := &Player{
		ID:     uuid.NewString(),
		Name:   sanitizeName(name),
		Symbol: symbol,
	}
	r.players[connectionID] = p
	r.order = append(r.order, connectionID)
	return p, nil
}

// unseat removes the connection's player. The room closes when it empties;
// otherwise the survivor becomes X and the game restarts.
func (r *Room) unseat(connectionID string) (*Player, bool) {
	p, ok := r.players[connectionID]
	if !ok {
		return nil, false
	}
	delete(r.players, connectionID)
	for i, id := range r.order {
		if id == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if len(r.players) == 0 {
		r.closed = true
		return p, true
	}

	for _, survivor := range r.players {
		survivor.Symbol = tictactoe.X
	}
	r.restart()
	return p, true
}

func (r *Room) player(connectionID string) (*Player, bool) {
	p, ok := r.players[connectionID]
	return p, ok
}

func (r *Room) move(connectionID string, index int) (*Player, error) {
	p, ok := r.players[connectionID]
	if !ok {
		return nil, ErrNotInRoom
	}
	if len(r.players) < MaxPlayers {
		return p, ErrWaitingForOpponent
	}
	if r.winner.Terminal() {
		return p, ErrGameOver
	}
	if !tictactoe.ValidIndex(index) {
		return p, ErrInvalidCell
	}
	if r.board[index] != tictactoe.Empty {
		return p, ErrCellOccupied
	}
	if p.Symbol != r.turn {
		return p, ErrNotYourTurn
	}

	r.board[index] = p.Symbol
	if w := tictactoe.WinnerOf(r.board); w.Terminal() {
		r.winner = w
	} else {
		r.turn = r.turn.Opponent()
	}
	return p, nil
}

// rematch clears the game and, with both seats taken, swaps the symbols so
// the previous O moves first.
func (r *Room) rematch() {
	if len(r.players) == MaxPlayers {
		for _, p := range r.players {
			p.Symbol = p.Symbol.Opponent()
		}
	}
	r.restart()
}

func (r *Room) restart() {
	r.board = tictactoe.EmptyBoard()
	r.turn = tictactoe.X
	r.winner = tictactoe.None
}

func (r *Room) appendChat(sender *Player, text string, kind ChatKind) ChatMessage {
	r.chatSeq++
	m := ChatMessage{
		ID:        r.chatSeq,
		Text:      truncate(text, MaxChatLength),
		Timestamp: r.now().UnixMilli(),
		Kind:      kind,
	}
	if sender != nil {
		m.Sender = &ChatSender{ID: sender.ID, Name: sender.Name}
	}
	r.chat.Append(m)
	return m
}

func (r *Room) members() []string {
	return append([]string(nil), r.order...)
}

func (r *Room) snapshot() StateMessage {
	players := make([]PlayerView, 0, len(r.order))
	for _, id := range r.order {
		p := r.players[id]
		players = append(players, PlayerView{ID: p.ID, Name: p.Name, Symbol: p.Symbol})
	}

	var winner *tictactoe.Outcome
	if r.winner.Terminal() {
		w := r.winner
		winner = &w
	}

	return StateMessage{
		Type:     "state",
		RoomCode: r.code,
		Players:  players,
		Board:    r.board.Slice(),
		Turn:     r.turn,
		Winner:   winner,
		Chat:     r.chat.All(),
	}
}

func sanitizeName(name string) string {
	name = truncate(strings.TrimSpace(name), MaxNameLength)
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName
	}
	return name
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
