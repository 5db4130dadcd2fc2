package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tictactoe-server/internal/tictactoe"
)

// ============================================================================
// INBOUND
// ============================================================================

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type JoinRequest struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
}

type MoveRequest struct {
	RoomCode string     `json:"roomCode"`
	Index    *CellIndex `json:"index"`
}

// CellIndex is a float so that 4.5 decodes and is rejected as a cell rather
// than failing the whole frame. Numeric strings such as "4" are accepted.
type CellIndex float64

func (c *CellIndex) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return fmt.Errorf("cell index: empty string")
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("cell index %q: %w", s, err)
		}
		*c = CellIndex(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(bytes.TrimSpace(data), &v); err != nil {
		return err
	}
	*c = CellIndex(v)
	return nil
}

type ResetRequest struct {
	RoomCode string `json:"roomCode"`
}

type ChatRequest struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
}

type GetChatRequest struct {
	RoomCode string `json:"roomCode"`
}

// ============================================================================
// OUTBOUND
// ============================================================================

type ServerMessage interface {
	MessageType() string
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorMessage) MessageType() string { return "error" }

func newErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}

type JoinedMessage struct {
	Type     string           `json:"type"`
	ID       string           `json:"id"`
	RoomCode string           `json:"roomCode"`
	Symbol   tictactoe.Symbol `json:"symbol"`
}

func (JoinedMessage) MessageType() string { return "joined" }

func newJoinedMessage(roomCode string, p Player) JoinedMessage {
	return JoinedMessage{Type: "joined", ID: p.ID, RoomCode: roomCode, Symbol: p.Symbol}
}

type PlayerView struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Symbol tictactoe.Symbol `json:"symbol"`
}

// StateMessage is the full room snapshot. Winner is null while the game is
// in progress.
type StateMessage struct {
	Type     string             `json:"type"`
	RoomCode string             `json:"roomCode"`
	Players  []PlayerView       `json:"players"`
	Board    []tictactoe.Symbol `json:"board"`
	Turn     tictactoe.Symbol   `json:"turn"`
	Winner   *tictactoe.Outcome `json:"winner"`
	Chat     []ChatMessage      `json:"chat"`
}

func (StateMessage) MessageType() string { return "state" }

type ChatEvent struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

func (ChatEvent) MessageType() string { return "chat" }

func newChatEvent(m ChatMessage) ChatEvent {
	return ChatEvent{Type: "chat", Message: m}
}

type ChatHistoryMessage struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
}

func (ChatHistoryMessage) MessageType() string { return "chat_history" }

func newChatHistoryMessage(messages []ChatMessage) ChatHistoryMessage {
	return ChatHistoryMessage{Type: "chat_history", Messages: messages}
}

// ============================================================================
// CHAT
// ============================================================================

type ChatKind string

const (
	ChatUser   ChatKind = "user"
	ChatSystem ChatKind = "system"
)

type ChatSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChatMessage struct {
	ID        uint64      `json:"id"`
	Sender    *ChatSender `json:"sender"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"timestamp"`
	Kind      ChatKind    `json:"type"`
}

// ============================================================================
// HEALTH
// ============================================================================

type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}
