package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

type Server struct {
	config            Config
	logger            *zap.Logger
	connectionManager *ConnectionManager
	activity          *ActivityTracker
	roomManager       *RoomManager
	coordinator       *Coordinator

	stop     chan struct{}
	stopOnce sync.Once
	tasks    sync.WaitGroup
}

// New wires the registry, coordinator and gateway together. Background
// tasks are not started; see Start.
func New(cfg Config, logger *zap.Logger, opts ...RoomManagerOption) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.sanitize()

	rooms, err := NewRoomManager(logger.Named("rooms"), opts...)
	if err != nil {
		return nil, fmt.Errorf("room manager: %w", err)
	}
	connections := NewConnectionManager(cfg.SendQueueSize, logger.Named("connections"))

	return &Server{
		config:            cfg,
		logger:            logger,
		connectionManager: connections,
		activity:          NewActivityTracker(),
		roomManager:       rooms,
		coordinator:       NewCoordinator(rooms, connections, logger.Named("coordinator")),
		stop:              make(chan struct{}),
	}, nil
}

// NewServer builds the game server and the http.Server that exposes it, and
// starts the background tasks.
func NewServer(cfg Config, logger *zap.Logger) (*Server, *http.Server, error) {
	s, err := New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	s.Start()

	httpServer := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, httpServer, nil
}

func (s *Server) Start() {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.idleSweepTask(s.config.IdleTimeout / 2)
	}()
}

// Shutdown closes every live socket with StatusGoingAway and waits for the
// background tasks, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	closed := s.connectionManager.CloseAll(websocket.StatusGoingAway, "server shutting down")
	s.logger.Info("closing connections", zap.Int("connections", closed), zap.Int("rooms", s.roomManager.Count()))

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// idleSweepTask disconnects sockets that have sent nothing for IdleTimeout.
// Kicking only closes the socket; the connection's own read loop performs
// the room cleanup.
func (s *Server) idleSweepTask(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for _, id := range s.activity.Expired(s.config.IdleTimeout) {
				s.logger.Info("closing idle connection", zap.String("connection", id))
				s.connectionManager.Kick(id, websocket.StatusPolicyViolation, "idle timeout")
			}
		}
	}
}
