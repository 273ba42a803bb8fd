// ABOUTME: Network sink service that streams a session to websocket listeners
// ABOUTME: Every paced cycle becomes one binary frame sent to each listener
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Sendspin/pcmstream/internal/discovery"
	"github.com/Sendspin/pcmstream/pkg/audio"
	"github.com/Sendspin/pcmstream/pkg/stream"
)

const (
	// StreamPath is the websocket endpoint
	StreamPath = "/stream"

	// DefaultAddr is used when Config.Addr is empty
	DefaultAddr = ":8927"

	// listenerQueue is how many frames a slow listener may lag before drops
	listenerQueue = 64

	writeDeadline = 10 * time.Second
)

// Config holds server configuration
type Config struct {
	Addr       string // listen address
	Name       string // advertised name
	Codec      Codec
	EnableMDNS bool

	// Realtime paces cycles at playback speed. Without it the producer
	// runs as fast as listeners accept frames.
	Realtime bool
}

// Hello is the first text message a listener receives
type Hello struct {
	ServerID   string `json:"server_id"`
	ListenerID string `json:"listener_id"`
	Name       string `json:"name"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Server is a stream.Service that broadcasts one stream over websockets
type Server struct {
	config   Config
	serverID string
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	mdns       *discovery.Manager
	active     *broadcastStream
	listeners  map[string]*Listener
	closed     bool // set by Deinit; no handler starts or registers after it

	frames  atomic.Uint64
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// Listener is a connected websocket client
type Listener struct {
	ID   string
	Addr string

	conn *websocket.Conn
	send chan []byte
}

// New creates a broadcast server
func New(config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Name == "" {
		config.Name = "pcmstream"
	}

	return &Server{
		config:   config,
		serverID: uuid.New().String(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// listeners are expected on the local network
				return true
			},
		},
		listeners: make(map[string]*Listener),
	}
}

func (s *Server) Name() string { return "broadcast" }

// ServiceName returns the name sent in Hello and advertised over mDNS
func (s *Server) ServiceName() string { return s.config.Name }

// Init starts the HTTP server and the optional mDNS advertisement
func (s *Server) Init() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, s.handleWebSocket)

	s.mu.Lock()
	s.closed = false
	s.listener = ln
	s.httpServer = &http.Server{Handler: mux}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Printf("Broadcast server listening on %s (ID: %s)", ln.Addr(), s.serverID)

	if s.config.EnableMDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		m := discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Path:        StreamPath,
		})
		if err := m.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			s.mu.Lock()
			s.mdns = m
			s.mu.Unlock()
		}
	}
	return nil
}

// Deinit disconnects every listener and stops the HTTP server. Shutdown
// does not track hijacked websocket connections, so their handlers are
// waited for on s.wg.
func (s *Server) Deinit() {
	s.mu.Lock()
	s.closed = true
	httpServer, m := s.httpServer, s.mdns
	s.httpServer, s.mdns, s.listener = nil, nil, nil
	listeners := make([]*Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	if m != nil {
		m.Stop()
	}
	for _, l := range listeners {
		l.conn.Close()
	}
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}
	s.wg.Wait()
	log.Printf("Broadcast server stopped")
}

// Addr returns the bound listen address, nil before Init
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Connect starts broadcasting a stream. One stream is active at a time.
func (s *Server) Connect(req *stream.ConnectRequest) (stream.Stream, error) {
	accept := func(f audio.Format) bool { return f.Sample == audio.FormatS16LE }
	if s.config.Codec == CodecOpus {
		accept = func(f audio.Format) bool { return f.Sample == audio.FormatS16LE && opusSupports(f) }
	}
	format, err := req.Negotiate(accept)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, fmt.Errorf("%w: broadcast already has an active stream", stream.ErrUnavailable)
	}

	quantum := stream.DefaultQuantum
	var encode func([]byte) ([]byte, error)
	if s.config.Codec == CodecOpus {
		enc, err := newOpusEncoder(format)
		if err != nil {
			return nil, err
		}
		quantum = format.SampleRate * OpusFrameDuration / 1000
		encode = enc.Encode
	}

	pull := stream.NewPullStream(req, format)
	bs := &broadcastStream{PullStream: pull, server: s}
	var seq uint64
	var frame []byte
	write := func(chunk []byte) error {
		payload := chunk
		if encode != nil {
			var err error
			if payload, err = encode(chunk); err != nil {
				return err
			}
		}
		frame = AppendFrame(frame[:0], s.config.Codec, seq, payload)
		seq++
		s.publish(frame)
		return nil
	}
	bs.pacer = stream.NewPacer(pull, quantum, s.config.Realtime, write)
	bs.pacer.Start()

	s.active = bs
	log.Printf("Broadcasting %s as %s, %d frames per packet", format, s.config.Codec, quantum)
	return bs, nil
}

// publish hands a frame to every listener without blocking
func (s *Server) publish(frame []byte) {
	s.frames.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		msg := append([]byte(nil), frame...)
		select {
		case l.send <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}

// Listeners returns the number of connected listeners
func (s *Server) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Frames returns how many frames were published
func (s *Server) Frames() uint64 {
	return s.frames.Load()
}

// Dropped returns how many frames slow listeners missed
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Server) format() (audio.Format, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return audio.Format{}, false
	}
	return s.active.Format(), true
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection registers a listener and serves it until it leaves
func (s *Server) handleConnection(conn *websocket.Conn, addr string) {
	defer conn.Close()

	l := &Listener{
		ID:   uuid.New().String(),
		Addr: addr,
		conn: conn,
		send: make(chan []byte, listenerQueue),
	}

	hello := Hello{
		ServerID:   s.serverID,
		ListenerID: l.ID,
		Name:       s.config.Name,
		Codec:      s.config.Codec.String(),
	}
	if f, ok := s.format(); ok {
		hello.SampleRate = f.SampleRate
		hello.Channels = f.Channels
	}
	data, err := json.Marshal(hello)
	if err != nil {
		log.Printf("Error marshaling hello: %v", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("Error sending hello: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.listeners[l.ID] = l
	s.mu.Unlock()
	log.Printf("Listener connected: %s (%s)", l.ID, addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.listenerWriter(l)
	}()

	// Drain control frames until the listener leaves
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}

	s.mu.Lock()
	delete(s.listeners, l.ID)
	close(l.send)
	s.mu.Unlock()
	<-done
	log.Printf("Listener disconnected: %s", l.ID)
}

// listenerWriter sends frames and pings to one listener
func (s *Server) listenerWriter(l *Listener) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-l.send:
			if !ok {
				return
			}
			l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := l.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Printf("Error writing frame to %s: %v", l.ID, err)
				l.conn.Close()
				// keep draining until the reader unregisters us
				for range l.send {
				}
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				l.conn.Close()
				for range l.send {
				}
				return
			}
		}
	}
}

// broadcastStream is the active stream of a Server
type broadcastStream struct {
	*stream.PullStream
	server *Server
	pacer  *stream.Pacer
	once   sync.Once
}

func (b *broadcastStream) Destroy() error {
	b.once.Do(func() {
		b.PullStream.Close()
		b.pacer.Stop()

		b.server.mu.Lock()
		if b.server.active == b {
			b.server.active = nil
		}
		b.server.mu.Unlock()
	})
	return nil
}
