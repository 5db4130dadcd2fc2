package server

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tictactoe-server/internal/tictactoe"
)

// recordingSender captures every outbound message per connection.
type recordingSender struct {
	mu   sync.Mutex
	msgs map[string][]ServerMessage
}

func newRecordingSender() *recordingSender {
	return &recordingSender{msgs: make(map[string][]ServerMessage)}
}

func (s *recordingSender) Send(connectionID string, msg ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[connectionID] = append(s.msgs[connectionID], msg)
}

func (s *recordingSender) all(connectionID string) []ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServerMessage(nil), s.msgs[connectionID]...)
}

func (s *recordingSender) count(connectionID string) int {
	return len(s.all(connectionID))
}

func (s *recordingSender) lastState(t *testing.T, connectionID string) StateMessage {
	t.Helper()
	msgs := s.all(connectionID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if st, ok := msgs[i].(StateMessage); ok {
			return st
		}
	}
	t.Fatalf("no state delivered to %s", connectionID)
	return StateMessage{}
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T) (*Coordinator, *RoomManager, *recordingSender) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rooms, err := NewRoomManager(logger, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	out := newRecordingSender()
	return NewCoordinator(rooms, out, logger), rooms, out
}

// twoPlayerRoom seats alice (X) and bob (O) and returns the room code.
func twoPlayerRoom(t *testing.T, c *Coordinator) string {
	t.Helper()
	seat, err := c.CreateRoom("alice", "Alice")
	require.NoError(t, err)
	_, err = c.Join("bob", seat.RoomCode, "Bob")
	require.NoError(t, err)
	return seat.RoomCode
}

func idx(i float64) *CellIndex {
	c := CellIndex(i)
	return &c
}

func playMoves(t *testing.T, c *Coordinator, code string, cells ...int) {
	t.Helper()
	conn := "alice"
	for _, cell := range cells {
		require.NoError(t, c.Move(conn, code, idx(float64(cell))), "move %d by %s", cell, conn)
		if conn == "alice" {
			conn = "bob"
		} else {
			conn = "alice"
		}
	}
}

func chatTexts(msgs []ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// ============================================================================
// CREATE / JOIN
// ============================================================================

func TestCoordinator_CreateRoom(t *testing.T) {
	assert := assert.New(t)
	c, rooms, out := newTestCoordinator(t)

	seat, err := c.CreateRoom("alice", "  Alice  ")
	require.NoError(t, err)

	assert.Len(seat.RoomCode, RoomCodeLength)
	assert.Equal("Alice", seat.Player.Name)
	assert.Equal(tictactoe.X, seat.Player.Symbol)
	assert.NotEmpty(seat.Player.ID)
	assert.Equal(1, rooms.Count())

	msgs := out.all("alice")
	require.Len(t, msgs, 2)

	joined, ok := msgs[0].(JoinedMessage)
	require.True(t, ok)
	assert.Equal("joined", joined.Type)
	assert.Equal(seat.RoomCode, joined.RoomCode)
	assert.Equal(seat.Player.ID, joined.ID)
	assert.Equal(tictactoe.X, joined.Symbol)

	state := out.lastState(t, "alice")
	assert.Equal(seat.RoomCode, state.RoomCode)
	assert.Len(state.Players, 1)
	assert.Equal(tictactoe.X, state.Turn)
	assert.Nil(state.Winner)
	assert.Equal(make([]tictactoe.Symbol, tictactoe.Cells), state.Board)
	assert.Equal([]string{"Alice created the room", "Welcome! You can chat here while you play."}, chatTexts(state.Chat))
	for _, m := range state.Chat {
		assert.Equal(ChatSystem, m.Kind)
		assert.Nil(m.Sender)
	}
}

func TestCoordinator_CreateRoom_DefaultName(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	seat, err := c.CreateRoom("alice", "   ")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, seat.Player.Name)

	long, err := c.CreateRoom("carol", strings.Repeat("n", 40))
	require.NoError(t, err)
	assert.Len(t, long.Player.Name, MaxNameLength)
}

func TestCoordinator_Join(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)

	created, err := c.CreateRoom("alice", "Alice")
	require.NoError(t, err)

	seat, err := c.Join("bob", strings.ToLower(created.RoomCode), "Bob")
	require.NoError(t, err)
	assert.Equal(created.RoomCode, seat.RoomCode)
	assert.Equal(tictactoe.O, seat.Player.Symbol)

	joined, ok := out.all("bob")[0].(JoinedMessage)
	require.True(t, ok)
	assert.Equal(tictactoe.O, joined.Symbol)

	for _, conn := range []string{"alice", "bob"} {
		state := out.lastState(t, conn)
		require.Len(t, state.Players, 2)
		assert.Equal("Alice", state.Players[0].Name)
		assert.Equal(tictactoe.X, state.Players[0].Symbol)
		assert.Equal("Bob", state.Players[1].Name)
		assert.Equal(tictactoe.O, state.Players[1].Symbol)
		assert.Equal(tictactoe.X, state.Turn)
		assert.Equal("Bob joined (O)", state.Chat[len(state.Chat)-1].Text)
	}
}

func TestCoordinator_Join_Errors(t *testing.T) {
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	_, err := c.Join("carol", code, "Carol")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Zero(t, out.count("carol"))

	_, err = c.Join("carol", "", "Carol")
	assert.ErrorIs(t, err, ErrMissingRoomCode)

	_, err = c.Join("carol", "ZZ", "Carol")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = c.Join("carol", "ZZZZ", "Carol")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestCoordinator_Join_ConcurrentSingleSeat(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	created, err := c.CreateRoom("alice", "Alice")
	require.NoError(t, err)

	const joiners = 20
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Join(fmt.Sprintf("conn-%d", i), created.RoomCode, "P")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrRoomFull)
		}
	}
	assert.Equal(t, 1, succeeded)
}

// ============================================================================
// MOVES
// ============================================================================

func TestCoordinator_Move_Center(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	require.NoError(t, c.Move("alice", code, idx(4)))

	for _, conn := range []string{"alice", "bob"} {
		state := out.lastState(t, conn)
		assert.Equal(tictactoe.X, state.Board[4])
		assert.Equal(tictactoe.O, state.Turn)
		assert.Nil(state.Winner)
	}
}

func TestCoordinator_Move_NumericStringIndex(t *testing.T) {
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	msg, err := DecodeClientMessage([]byte(`{"type":"move","roomCode":"` + code + `","index":"4"}`))
	require.NoError(t, err)
	move, ok := msg.(*MoveRequest)
	require.True(t, ok)

	require.NoError(t, c.Move("alice", move.RoomCode, move.Index))
	assert.Equal(t, tictactoe.X, out.lastState(t, "bob").Board[4])
}

func TestCoordinator_Move_Rejections(t *testing.T) {
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)
	require.NoError(t, c.Move("alice", code, idx(4)))

	before := out.count("alice") + out.count("bob")

	tests := []struct {
		name  string
		conn  string
		index *CellIndex
		want  error
	}{
		{"occupied", "bob", idx(4), ErrCellOccupied},
		{"wrong turn", "alice", idx(0), ErrNotYourTurn},
		{"fractional index", "bob", idx(4.5), ErrInvalidCell},
		{"out of range", "bob", idx(9), ErrInvalidCell},
		{"negative", "bob", idx(-1), ErrInvalidCell},
		{"missing index", "bob", nil, ErrInvalidCell},
		{"not a member", "mallory", idx(0), ErrNotInRoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, c.Move(tt.conn, code, tt.index), tt.want)
		})
	}

	assert.Equal(t, before, out.count("alice")+out.count("bob"), "rejected moves must not broadcast")
	state := out.lastState(t, "bob")
	assert.Equal(t, tictactoe.O, state.Turn)
}

func TestCoordinator_Move_WaitingForOpponent(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	seat, err := c.CreateRoom("alice", "Alice")
	require.NoError(t, err)

	err = c.Move("alice", seat.RoomCode, idx(0))
	assert.ErrorIs(t, err, ErrWaitingForOpponent)
}

func TestCoordinator_Move_Win(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	playMoves(t, c, code, 0, 3, 1, 4, 2)

	state := out.lastState(t, "bob")
	require.NotNil(t, state.Winner)
	assert.Equal(tictactoe.WinX, *state.Winner)
	assert.Equal("Alice (X) wins!", state.Chat[len(state.Chat)-1].Text)

	assert.ErrorIs(c.Move("bob", code, idx(8)), ErrGameOver)
	assert.ErrorIs(c.Move("alice", code, idx(8)), ErrGameOver)
	assert.Equal(tictactoe.Empty, out.lastState(t, "bob").Board[8])
}

func TestCoordinator_Move_Draw(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	playMoves(t, c, code, 0, 1, 2, 4, 3, 5, 7, 6, 8)

	state := out.lastState(t, "alice")
	require.NotNil(t, state.Winner)
	assert.Equal(tictactoe.Draw, *state.Winner)
	assert.Equal("It's a draw!", state.Chat[len(state.Chat)-1].Text)
}

// ============================================================================
// RESET / LEAVE
// ============================================================================

func TestCoordinator_Reset_SwapsSymbols(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)
	playMoves(t, c, code, 0, 3, 1, 4, 2)

	require.NoError(t, c.Reset("bob", code))

	state := out.lastState(t, "alice")
	assert.Nil(state.Winner)
	assert.Equal(tictactoe.X, state.Turn)
	assert.Equal(make([]tictactoe.Symbol, tictactoe.Cells), state.Board)
	assert.Equal(tictactoe.O, state.Players[0].Symbol)
	assert.Equal(tictactoe.X, state.Players[1].Symbol)
	assert.Equal("Bob reset the game, symbols swapped", state.Chat[len(state.Chat)-1].Text)

	// Bob now holds X and opens.
	assert.ErrorIs(c.Move("alice", code, idx(0)), ErrNotYourTurn)
	assert.NoError(c.Move("bob", code, idx(0)))
}

func TestCoordinator_Reset_Alone(t *testing.T) {
	c, _, out := newTestCoordinator(t)
	seat, err := c.CreateRoom("alice", "Alice")
	require.NoError(t, err)

	require.NoError(t, c.Reset("alice", seat.RoomCode))

	state := out.lastState(t, "alice")
	assert.Equal(t, tictactoe.X, state.Players[0].Symbol)
	assert.Equal(t, "Alice reset the game", state.Chat[len(state.Chat)-1].Text)

	assert.ErrorIs(t, c.Reset("mallory", seat.RoomCode), ErrNotInRoom)
}

func TestCoordinator_Leave_SurvivorBecomesX(t *testing.T) {
	assert := assert.New(t)
	c, rooms, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)
	require.NoError(t, c.Move("alice", code, idx(4)))

	c.Leave("alice", code)

	state := out.lastState(t, "bob")
	require.Len(t, state.Players, 1)
	assert.Equal("Bob", state.Players[0].Name)
	assert.Equal(tictactoe.X, state.Players[0].Symbol)
	assert.Equal(make([]tictactoe.Symbol, tictactoe.Cells), state.Board)
	assert.Equal(tictactoe.X, state.Turn)
	assert.Equal("Alice left", state.Chat[len(state.Chat)-1].Text)
	assert.Equal(1, rooms.Count())

	seat, err := c.Join("carol", code, "Carol")
	require.NoError(t, err)
	assert.Equal(tictactoe.O, seat.Player.Symbol)
}

func TestCoordinator_Leave_LastPlayerRemovesRoom(t *testing.T) {
	c, rooms, _ := newTestCoordinator(t)
	seat, err := c.CreateRoom("alice", "Alice")
	require.NoError(t, err)

	c.Leave("alice", seat.RoomCode)

	assert.Zero(t, rooms.Count())
	_, err = c.Join("bob", seat.RoomCode, "Bob")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// Leaving twice, or leaving a room that is gone, is a no-op.
	c.Leave("alice", seat.RoomCode)
	c.Leave("nobody", "ABCD")
}

// assertSymbols checks the seated players of a room directly: two players
// hold distinct symbols and a lone player holds X.
func assertSymbols(t *testing.T, rooms *RoomManager, code string, step string) {
	t.Helper()
	r, ok := rooms.GetRoom(code)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var symbols []tictactoe.Symbol
	for _, p := range r.players {
		symbols = append(symbols, p.Symbol)
	}
	switch len(symbols) {
	case 1:
		assert.Equal(t, tictactoe.X, symbols[0], step)
	case 2:
		assert.NotEqual(t, symbols[0], symbols[1], step)
		assert.ElementsMatch(t, []tictactoe.Symbol{tictactoe.X, tictactoe.O}, symbols, step)
	}
}

func TestCoordinator_SymbolsStayDistinct(t *testing.T) {
	c, rooms, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	steps := []struct {
		name string
		run  func()
	}{
		{"bob leaves", func() { c.Leave("bob", code) }},
		{"carol joins", func() { _, _ = c.Join("carol", code, "Carol") }},
		{"carol resets", func() { _ = c.Reset("carol", code) }},
		{"alice leaves", func() { c.Leave("alice", code) }},
		{"dave joins", func() { _, _ = c.Join("dave", code, "Dave") }},
		{"dave resets", func() { _ = c.Reset("dave", code) }},
	}
	for _, step := range steps {
		step.run()
		assertSymbols(t, rooms, code, step.name)
	}

	state := out.lastState(t, "dave")
	require.Len(t, state.Players, 2)
	assert.NotEqual(t, state.Players[0].Symbol, state.Players[1].Symbol)
}

// Random walks over join, leave, reset and move from many seeds; after
// every step the seated symbols must stay distinct, with a lone player on X.
func TestCoordinator_SymbolsStayDistinct_RandomOrderings(t *testing.T) {
	conns := []string{"c0", "c1", "c2", "c3"}

	for seed := int64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		c, rooms, _ := newTestCoordinator(t)
		seated := make(map[string]bool)

		first := conns[rng.Intn(len(conns))]
		seat, err := c.CreateRoom(first, first)
		require.NoError(t, err)
		code := seat.RoomCode
		seated[first] = true

		for i := 0; i < 30 && len(seated) > 0; i++ {
			conn := conns[rng.Intn(len(conns))]
			var action string
			switch rng.Intn(4) {
			case 0:
				action = "join"
				if !seated[conn] {
					if _, err := c.Join(conn, code, conn); err == nil {
						seated[conn] = true
					}
				}
			case 1:
				action = "leave"
				c.Leave(conn, code)
				delete(seated, conn)
			case 2:
				action = "reset"
				_ = c.Reset(conn, code)
			case 3:
				action = "move"
				_ = c.Move(conn, code, idx(float64(rng.Intn(tictactoe.Cells))))
			}
			assertSymbols(t, rooms, code, fmt.Sprintf("seed %d step %d: %s by %s", seed, i, action, conn))
		}
	}
}

func TestCoordinator_CreateRoom_DefaultCodeGenerator(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rooms, err := NewRoomManager(logger)
	require.NoError(t, err)
	c := NewCoordinator(rooms, newRecordingSender(), logger)

	type result struct {
		seat Seat
		err  error
	}
	done := make(chan result, 1)
	go func() {
		seat, err := c.CreateRoom("alice", "Alice")
		done <- result{seat, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.NoError(t, ValidateRoomCode(res.seat.RoomCode))
		_, ok := rooms.GetRoom(res.seat.RoomCode)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("CreateRoom did not return")
	}
}

// ============================================================================
// CHAT
// ============================================================================

func TestCoordinator_Chat(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)
	before := out.count("bob")

	require.NoError(t, c.Chat("alice", code, "  good luck  "))

	msgs := out.all("bob")[before:]
	require.Len(t, msgs, 2)
	event, ok := msgs[0].(ChatEvent)
	require.True(t, ok)
	assert.Equal("chat", event.Type)
	assert.Equal("good luck", event.Message.Text)
	assert.Equal(ChatUser, event.Message.Kind)
	require.NotNil(t, event.Message.Sender)
	assert.Equal("Alice", event.Message.Sender.Name)
	assert.Equal(fixedNow.UnixMilli(), event.Message.Timestamp)

	_, ok = msgs[1].(StateMessage)
	assert.True(ok)
}

func TestCoordinator_Chat_BlankIgnoredAndLongTruncated(t *testing.T) {
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)
	before := out.count("alice")

	require.NoError(t, c.Chat("bob", code, "   "))
	assert.Equal(t, before, out.count("alice"))

	require.NoError(t, c.Chat("bob", code, strings.Repeat("é", MaxChatLength+50)))
	state := out.lastState(t, "alice")
	last := state.Chat[len(state.Chat)-1]
	assert.Equal(t, MaxChatLength, len([]rune(last.Text)))

	assert.ErrorIs(t, c.Chat("mallory", code, "hi"), ErrNotInRoom)
}

func TestCoordinator_Chat_HistoryBounded(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)

	for i := 1; i <= 60; i++ {
		require.NoError(t, c.Chat("alice", code, fmt.Sprintf("m%d", i)))
	}

	state := out.lastState(t, "bob")
	require.Len(t, state.Chat, ChatCapacity)
	assert.Equal("m11", state.Chat[0].Text)
	assert.Equal("m60", state.Chat[ChatCapacity-1].Text)
	for i := 1; i < len(state.Chat); i++ {
		assert.Greater(state.Chat[i].ID, state.Chat[i-1].ID)
	}
}

func TestCoordinator_GetChat(t *testing.T) {
	assert := assert.New(t)
	c, _, out := newTestCoordinator(t)
	code := twoPlayerRoom(t, c)
	require.NoError(t, c.Chat("bob", code, "hello"))
	aliceBefore := out.count("alice")
	bobBefore := out.count("bob")

	require.NoError(t, c.GetChat("bob", code))

	assert.Equal(aliceBefore, out.count("alice"))
	msgs := out.all("bob")
	require.Len(t, msgs, bobBefore+1)
	history, ok := msgs[bobBefore].(ChatHistoryMessage)
	require.True(t, ok)
	assert.Equal("chat_history", history.Type)
	assert.Equal("hello", history.Messages[len(history.Messages)-1].Text)

	assert.ErrorIs(c.GetChat("mallory", code), ErrNotInRoom)
	assert.ErrorIs(c.GetChat("bob", "QQQQ"), ErrRoomNotFound)
}
