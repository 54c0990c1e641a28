package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"quadsim/quadtree"
	"quadsim/sim"
)

const writeWait = time.Second

// Message types exchanged over the websocket.
const (
	MessageHello    = "hello"
	MessageSnapshot = "snapshot"
	MessagePoint    = "point"
	MessageError    = "error"
	MessageCursor   = "cursor"
	MessageClick    = "click"
)

// ClientMessage is sent by a websocket client. Click messages may carry a
// velocity; without one the point gets a random velocity.
type ClientMessage struct {
	Type string   `json:"type" msgpack:"type"`
	X    int      `json:"x" msgpack:"x"`
	Y    int      `json:"y" msgpack:"y"`
	VX   *float64 `json:"vx,omitempty" msgpack:"vx,omitempty"`
	VY   *float64 `json:"vy,omitempty" msgpack:"vy,omitempty"`
}

// ServerMessage is pushed to websocket clients.
type ServerMessage struct {
	Type     string         `json:"type" msgpack:"type"`
	ClientID string         `json:"client_id,omitempty" msgpack:"client_id,omitempty"`
	Snapshot *sim.Snapshot  `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`
	Point    *sim.PointView `json:"point,omitempty" msgpack:"point,omitempty"`
	Error    string         `json:"error,omitempty" msgpack:"error,omitempty"`
	Time     int64          `json:"time" msgpack:"time"` // milliseconds
}

// PointRequest is the body of POST /api/points.
type PointRequest struct {
	X  int      `json:"x"`
	Y  int      `json:"y"`
	VX *float64 `json:"vx,omitempty"`
	VY *float64 `json:"vy,omitempty"`
}

type client struct {
	id       string
	conn     *websocket.Conn
	encoding Encoding
	// mu serialises writes; gorilla connections allow one writer.
	mu sync.Mutex
}

// Server exposes a simulation over HTTP and websockets.
type Server struct {
	sim      *sim.Simulation
	gatherer prometheus.Gatherer
	logger   log.FieldLogger
	upgrader websocket.Upgrader

	clients   map[string]*client
	clientsMu sync.RWMutex
}

// New creates a server for s. A nil gatherer disables /metrics.
func New(s *sim.Simulation, gatherer prometheus.Gatherer, logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{
		sim:      s,
		gatherer: gatherer,
		logger:   logger,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // renderers may be served from anywhere
			},
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", s.HandleSnapshot)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("POST /api/points", s.HandlePoints)
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Starting HTTP server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HandleSnapshot returns the latest snapshot as JSON.
func (s *Server) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Snapshot())
}

// HandleStats returns the running statistics as JSON.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Stats())
}

// HandlePoints adds a point.
func (s *Server) HandlePoints(w http.ResponseWriter, r *http.Request) {
	var req PointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid point: "+err.Error(), http.StatusBadRequest)
		return
	}

	p, err := s.addPoint(req.X, req.Y, req.VX, req.VY)
	if errors.Is(err, quadtree.ErrOutOfBounds) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) addPoint(x, y int, vx, vy *float64) (sim.PointView, error) {
	if vx != nil || vy != nil {
		var fx, fy float64
		if vx != nil {
			fx = *vx
		}
		if vy != nil {
			fy = *vy
		}
		return s.sim.AddPointWithVelocity(x, y, fx, fy)
	}
	return s.sim.AddPoint(x, y)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Error writing response")
	}
}

// HandleWebSocket upgrades the connection, greets the client with its id
// and the current snapshot, then applies cursor and click messages until
// the client goes away.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	enc, err := ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		encoding: enc,
	}

	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	s.logger.WithFields(log.Fields{"client": c.id, "encoding": enc.String()}).Info("New WebSocket client connected")

	defer func() {
		conn.Close()
		s.clientsMu.Lock()
		delete(s.clients, c.id)
		s.clientsMu.Unlock()
		s.logger.WithField("client", c.id).Info("WebSocket client disconnected")
	}()

	snap := s.sim.Snapshot()
	if err := s.send(c, ServerMessage{Type: MessageHello, ClientID: c.id, Snapshot: &snap}); err != nil {
		return
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := decode(messageType, data, &msg); err != nil {
			s.send(c, ServerMessage{Type: MessageError, Error: "invalid message: " + err.Error()})
			continue
		}
		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case MessageCursor:
		s.sim.SetCursor(msg.X, msg.Y)
	case MessageClick:
		p, err := s.addPoint(msg.X, msg.Y, msg.VX, msg.VY)
		if err != nil {
			s.send(c, ServerMessage{Type: MessageError, Error: err.Error()})
			return
		}
		s.send(c, ServerMessage{Type: MessagePoint, Point: &p})
	default:
		s.send(c, ServerMessage{Type: MessageError, Error: "unknown message type " + msg.Type})
	}
}

func (s *Server) send(c *client, msg ServerMessage) error {
	msg.Time = time.Now().UnixMilli()
	messageType, data, err := c.encoding.encode(msg)
	if err != nil {
		s.logger.WithFields(log.Fields{"client": c.id, "type": msg.Type}).WithError(err).Error("Error encoding message")
		return err
	}
	return s.write(c, messageType, data)
}

func (s *Server) write(c *client, messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		s.logger.WithField("client", c.id).WithError(err).Warn("Error sending to client")
		return err
	}
	return nil
}

// Broadcast pushes snap to every connected client. Each encoding is
// marshalled once.
func (s *Server) Broadcast(snap sim.Snapshot) {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()
	if len(clients) == 0 {
		return
	}

	msg := ServerMessage{Type: MessageSnapshot, Snapshot: &snap, Time: time.Now().UnixMilli()}

	type frame struct {
		messageType int
		data        []byte
	}
	frames := make(map[Encoding]frame, 2)

	for _, c := range clients {
		f, ok := frames[c.encoding]
		if !ok {
			messageType, data, err := c.encoding.encode(msg)
			if err != nil {
				s.logger.WithField("encoding", c.encoding.String()).WithError(err).Error("Error marshaling snapshot")
				continue
			}
			f = frame{messageType, data}
			frames[c.encoding] = f
		}
		if err := s.write(c, f.messageType, f.data); err != nil {
			// The read loop sees the closed connection and unregisters.
			c.conn.Close()
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
		c.conn.Close()
	}
}
