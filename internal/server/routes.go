package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.healthHandler)
	r.Get("/ws", s.websocketHandler)
	r.Get("/websocket", s.websocketHandler)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(HealthResponse{
		Status:      "ok",
		Rooms:       s.roomManager.Count(),
		Connections: s.connectionManager.Count(),
	})
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		s.logger.Warn("failed to write health response", zap.Error(err))
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.AllowedOrigins,
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer socket.Close(websocket.StatusNormalClosure, "")
	socket.SetReadLimit(s.config.MaxMessageSize)

	connectionID := uuid.NewString()
	log := s.logger.With(zap.String("connection", connectionID))
	log.Info("new connection", zap.String("remote", r.RemoteAddr))

	client := s.connectionManager.AddConnection(connectionID, socket)
	s.activity.Touch(connectionID)
	go client.writePump(s.config.WriteTimeout, log)

	defer s.disconnect(connectionID)

	ctx := r.Context()
	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("connection closed by peer")
			default:
				log.Debug("read error", zap.Error(err))
			}
			return
		}
		s.activity.Touch(connectionID)

		if msgType != websocket.MessageText {
			log.Debug("dropping non-text frame")
			continue
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			log.Debug("dropping malformed message", zap.Error(err))
			continue
		}

		s.dispatch(connectionID, msg)
	}
}

// disconnect runs once per connection, after its read loop ends for any
// reason.
func (s *Server) disconnect(connectionID string) {
	binding, bound := s.connectionManager.RemoveConnection(connectionID)
	s.activity.Forget(connectionID)

	if bound {
		s.coordinator.Leave(connectionID, binding.RoomCode)
	}
	s.logger.Info("connection closed",
		zap.String("connection", connectionID),
		zap.String("room", binding.RoomCode),
		zap.String("player", binding.PlayerID),
		zap.String("name", binding.Name))
}

func (s *Server) dispatch(connectionID string, msg ClientMessage) {
	var err error

	switch m := msg.(type) {
	case *CreateRoomRequest:
		err = s.handleCreateRoom(connectionID, m)
	case *JoinRequest:
		err = s.handleJoin(connectionID, m)
	case *MoveRequest:
		err = s.coordinator.Move(connectionID, m.RoomCode, m.Index)
	case *ResetRequest:
		err = s.coordinator.Reset(connectionID, m.RoomCode)
	case *ChatRequest:
		err = s.coordinator.Chat(connectionID, m.RoomCode, m.Text)
	case *GetChatRequest:
		err = s.coordinator.GetChat(connectionID, m.RoomCode)
	default:
		s.logger.Warn("unhandled message kind", zap.String("connection", connectionID))
		return
	}

	if err != nil {
		s.sendError(connectionID, err)
	}
}

func (s *Server) handleCreateRoom(connectionID string, req *CreateRoomRequest) error {
	if _, bound := s.connectionManager.Binding(connectionID); bound {
		return ErrAlreadyInRoom
	}

	seat, err := s.coordinator.CreateRoom(connectionID, req.Name)
	if err != nil {
		return err
	}
	s.bind(connectionID, seat)
	return nil
}

func (s *Server) handleJoin(connectionID string, req *JoinRequest) error {
	if _, bound := s.connectionManager.Binding(connectionID); bound {
		return ErrAlreadyInRoom
	}

	seat, err := s.coordinator.Join(connectionID, req.RoomCode, req.Name)
	if err != nil {
		return err
	}
	s.bind(connectionID, seat)
	return nil
}

func (s *Server) bind(connectionID string, seat Seat) {
	s.connectionManager.Bind(connectionID, PlayerConnection{
		RoomCode: seat.RoomCode,
		PlayerID: seat.Player.ID,
		Name:     seat.Player.Name,
	})
}

func (s *Server) sendError(connectionID string, err error) {
	s.connectionManager.Send(connectionID, newErrorMessage(errorText(err)))
}

// errorText is the client-facing reason for a domain error. Anything not in
// the known set is reported generically.
func errorText(err error) string {
	for _, known := range []error{
		ErrMissingRoomCode,
		ErrRoomNotFound,
		ErrRoomFull,
		ErrAlreadyInRoom,
		ErrNotInRoom,
		ErrWaitingForOpponent,
		ErrGameOver,
		ErrInvalidCell,
		ErrCellOccupied,
		ErrNotYourTurn,
		ErrRoomAllocationExhausted,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "request failed"
}

// Compile-time check that the manager satisfies the coordinator's sink.
var _ Sender = (*ConnectionManager)(nil)
