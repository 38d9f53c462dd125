package signalserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
)

// RoomStore is what the room API needs from persistence.
type RoomStore interface {
	room.Store
	room.StatusUpdater
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Admission control is out of scope; any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the hub and the room API into a gin engine.
type Server struct {
	hub    *Hub
	rooms  RoomStore
	log    *slog.Logger
	engine *gin.Engine
}

// New builds the HTTP surface. Debug mode adds gin's request logger.
func New(hub *Hub, rooms RoomStore, logger *slog.Logger, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		hub:    hub,
		rooms:  rooms,
		log:    logging.Component(logger, "http"),
		engine: gin.New(),
	}

	if debug {
		s.engine.Use(gin.Logger())
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.health)
	s.engine.GET("/ws", s.serveWs)

	api := s.engine.Group("/api")
	api.POST("/rooms", s.createRoom)
	api.GET("/rooms/:id", s.getRoom)
	api.PATCH("/rooms/:id/status", s.updateStatus)

	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("signaling server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "Signaling server is healthy.")
}

func (s *Server) serveWs(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(s.hub, conn)

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) createRoom(c *gin.Context) {
	var opts room.CreateOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	rec, err := room.NewRoom(opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.rooms.CreateRoom(c.Request.Context(), rec)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.log.Info("room created", "room", created.ID, "name", created.Name)
	c.JSON(http.StatusCreated, gin.H{"room": created})
}

func (s *Server) getRoom(c *gin.Context) {
	rec, err := s.rooms.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": rec})
}

func (s *Server) updateStatus(c *gin.Context) {
	var req struct {
		Status room.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	rec, err := s.rooms.UpdateRoomStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": rec})
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, room.ErrInvalidTransition), errors.Is(err, room.ErrRoomExists):
		status = http.StatusConflict
	case errors.Is(err, room.ErrInvalidRoom):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("room api failure", "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
