package relay

import (
	"net/http"
	"time"

	"github.com/doomcode/doomcode/internal/relaystore"
	"github.com/doomcode/doomcode/internal/wire"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // relay is meant to be reachable from any operator device
}

// Server exposes the relay's HTTP bootstrap endpoints and the duplex
// websocket endpoint, backed by a Hub and Store.
type Server struct {
	store     relaystore.Store
	transport *WSTransport
	hub       *Hub
	log       zerolog.Logger
	engine    *gin.Engine
}

func NewServer(log zerolog.Logger) *Server {
	store := relaystore.NewInMemoryStore()
	transport := NewWSTransport(log)
	hub := NewHub(store, transport, log, newSessionID)

	s := &Server{store: store, transport: transport, hub: hub, log: log}
	s.engine = s.buildEngine()
	return s
}

func newSessionID() string {
	return wire.NewMessageID() // 128-bit id, same shape as a messageId
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
	}))

	r.POST("/session", s.handleCreateSessionHTTP)
	r.GET("/session/:id", s.handleGetSessionHTTP)
	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)
	return r
}

func (s *Server) Handler() http.Handler { return s.engine }

// StartSweeper periodically evicts expired sessions and queues. Not
// part of any external interface; purely internal housekeeping.
func (s *Server) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	mem, ok := s.store.(*relaystore.InMemoryStore)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				mem.Sweep(now)
			}
		}
	}()
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateSessionHTTP(c *gin.Context) {
	id := newSessionID()
	if _, err := s.store.CreateSession(id, time.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, createSessionResponse{SessionID: id})
}

type sessionInfoResponse struct {
	SessionID     string `json:"sessionId"`
	HasController bool   `json:"hasController"`
	HasOperator   bool   `json:"hasOperator"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
}

func (s *Server) handleGetSessionHTTP(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.store.GetSession(id, time.Now())
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	ctrl, hasCtrl := sess.Slots[wire.RoleController]
	op, hasOp := sess.Slots[wire.RoleOperator]
	c.JSON(http.StatusOK, sessionInfoResponse{
		SessionID:     sess.ID,
		HasController: hasCtrl && ctrl.Filled(),
		HasOperator:   hasOp && op.Filled(),
		CreatedAt:     sess.CreatedAt.UnixMilli(),
		ExpiresAt:     sess.ExpiresAt.UnixMilli(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UnixMilli()})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := uuid.NewString()
	s.transport.Register(connectionID, conn)
	s.log.Debug().Str("conn", connectionID).Msg("connection opened")

	defer func() {
		s.hub.HandleDisconnect(connectionID)
		s.transport.Unregister(connectionID)
		s.log.Debug().Str("conn", connectionID).Msg("connection closed")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.hub.HandleFrame(connectionID, raw)
	}
}
