package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/drivetrain-rt/drivetrain/internal/export"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// clientBuffer is the per-client send queue depth. A client that falls
// this far behind is dropped.
const clientBuffer = 16

const writeTimeout = 5 * time.Second

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Streamer fans export batches out to WebSocket subscribers.
type Streamer struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *logging.Logger
}

// NewStreamer creates a streamer with no subscribers.
func NewStreamer(log *logging.Logger) *Streamer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Streamer{
		clients: make(map[*client]struct{}),
		log:     log,
	}
}

type envelope struct {
	Type      string        `json:"type"`
	Message   string        `json:"message,omitempty"`
	Batch     *export.Batch `json:"batch,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// Ship implements export.Sink by broadcasting the batch to every
// subscriber. A full client queue drops that client, never the batch for
// the others.
func (s *Streamer) Ship(_ context.Context, batch *export.Batch) error {
	payload, err := sonic.Marshal(envelope{
		Type:      "batch",
		Batch:     batch,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.log.Warn("subscriber too slow, dropping connection",
				zap.String("remote", c.conn.RemoteAddr().String()),
			)
			delete(s.clients, c)
			close(c.send)
		}
	}
	return nil
}

// Subscribers returns the current connection count.
func (s *Streamer) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects all subscribers.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// HandleConnection upgrades the request and serves the subscription until
// the client disconnects.
func (s *Streamer) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	s.log.Info("subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	greeting, _ := sonic.Marshal(envelope{
		Type:      "system",
		Message:   "connected to drivetrain metric stream",
		Timestamp: time.Now().Unix(),
	})
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, greeting); err != nil {
		s.remove(cl)
		conn.Close()
		return
	}

	go s.writePump(cl)
	s.readPump(cl)
}

func (s *Streamer) writePump(cl *client) {
	for payload := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.remove(cl)
			break
		}
	}
	cl.conn.Close()
}

func (s *Streamer) readPump(cl *client) {
	defer func() {
		s.remove(cl)
		cl.conn.Close()
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg envelope
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := sonic.Marshal(envelope{Type: "pong", Timestamp: time.Now().Unix()})
			select {
			case cl.send <- pong:
			default:
			}
		}
	}
}

// remove detaches a client; safe to call more than once.
func (s *Streamer) remove(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[cl]; ok {
		delete(s.clients, cl)
		close(cl.send)
	}
}
