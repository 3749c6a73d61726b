package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradeflow/config"
	"tradeflow/logger"
	"tradeflow/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server hosts the broadcast websocket endpoints, one hub per channel.
// Publishing never blocks: a full hub queue drops the event with a warning.
type Server struct {
	config  *config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
	log     *logger.Entry

	hubs map[string]*hub
	http *http.Server
}

func NewServer(cfg *config.Config) *Server {
	hubs := make(map[string]*hub)
	for _, name := range []string{models.ChannelMarketData, models.ChannelSystemStatus, models.ChannelTrades} {
		hubs[name] = newHub(name)
	}
	return &Server{
		config: cfg,
		log:    logger.GetLogger().WithComponent("server"),
		hubs:   hubs,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for _, h := range s.hubs {
		go h.run(s.ctx)
	}

	s.http = &http.Server{
		Addr:    s.config.Server.Address,
		Handler: s.handler(),
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Broadcast server failed")
		}
	}()

	s.log.WithFields(logger.Fields{"address": s.config.Server.Address}).Info("Broadcast server started")
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if s.http != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}
	s.log.Info("Broadcast server stopped")
}

// Publish pushes an event onto the named channel's hub. Unknown channels
// and full queues drop the event; broadcast is fire-and-forget.
func (s *Server) Publish(channelName string, event models.Event) {
	h, ok := s.hubs[channelName]
	if !ok {
		s.log.WithFields(logger.Fields{"channel": channelName}).Warn("Publish to unknown channel")
		return
	}
	select {
	case h.broadcast <- event:
	default:
		s.log.WithFields(logger.Fields{"channel": channelName}).Warn("Broadcast queue full, dropping event")
	}
}

func (s *Server) handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws/:channel", s.handleWebsocket)
	router.GET("/status", s.handleStatus)
	return router
}

func (s *Server) handleWebsocket(c *gin.Context) {
	h, ok := s.hubs[c.Param("channel")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	cl := &client{
		hub:  h,
		conn: conn,
		send: make(chan models.Event, 256),
	}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    s.config.Tradeflow.Name,
		"version": s.config.Tradeflow.Version,
		"time":    time.Now().UTC(),
	})
}
