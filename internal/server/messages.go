package server

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownMessageType = errors.New("unknown message type")

// ClientMessage is the closed set of inbound message kinds.
type ClientMessage interface {
	isClientMessage()
}

type envelope struct {
	Type string `json:"type"`
}

func (CreateRoomRequest) isClientMessage() {}
func (JoinRequest) isClientMessage()       {}
func (MoveRequest) isClientMessage()       {}
func (ResetRequest) isClientMessage()      {}
func (ChatRequest) isClientMessage()       {}
func (GetChatRequest) isClientMessage()    {}

// DecodeClientMessage parses one text frame into its concrete message type.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	var msg ClientMessage
	switch env.Type {
	case "create_room":
		msg = &CreateRoomRequest{}
	case "join":
		msg = &JoinRequest{}
	case "move":
		msg = &MoveRequest{}
	case "reset":
		msg = &ResetRequest{}
	case "chat":
		msg = &ChatRequest{}
	case "get_chat":
		msg = &GetChatRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return msg, nil
}
