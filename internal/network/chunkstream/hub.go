// Package chunkstream serves ready terrain chunks to remote viewers over
// websockets.
//
// A Hub is the orchestrator's Sink: every install and evict is encoded once
// and broadcast to all connected clients. Clients report their position
// with view updates; the most recent one drives the next frame.
package chunkstream

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/network/packets"
	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// ErrNoView is returned by Frame before any client has reported a view.
var ErrNoView = errors.New("chunkstream: no view reported yet")

// DefaultMaxRadius caps client view radii unless WithMaxRadius says
// otherwise.
const DefaultMaxRadius = 2048

const (
	defaultQueue   = 64
	defaultTimeout = 5 * time.Second
	readTimeout    = 60 * time.Second
)

// Option configures a Hub.
type Option func(*Hub)

// WithAllowedOrigins restricts browser origins. Empty keeps the websocket
// default, which only rejects cross-origin requests that carry an Origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		if len(origins) == 0 {
			return
		}
		allowed := slices.Clone(origins)
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		}
	}
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithInitialView sets the view used until a client reports one.
func WithInitialView(v terrain.View) Option {
	return func(h *Hub) {
		h.view = v
		h.hasView = true
	}
}

// WithMaxRadius caps the view radius a client may request. Larger radii
// are clamped.
func WithMaxRadius(r float64) Option {
	return func(h *Hub) {
		if r > 0 {
			h.maxRadius = r
		}
	}
}

// WithQueueSize sets how many packets may be queued per client before the
// client is dropped as too slow.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

type client struct {
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans chunk installs and evictions out to websocket clients.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	queue        int
	maxRadius    float64
	log          *zap.Logger

	mu        sync.Mutex
	clients   map[*client]struct{}
	installed map[terrain.ChunkKey][]byte
	view      terrain.View
	hasView   bool
}

// NewHub creates a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		writeTimeout: defaultTimeout,
		queue:        defaultQueue,
		maxRadius:    DefaultMaxRadius,
		log:          logger.Named("chunkstream"),
		clients:      make(map[*client]struct{}),
		installed:    make(map[terrain.ChunkKey][]byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Install encodes a ready chunk and broadcasts it.
func (h *Hub) Install(c *terrain.Chunk) {
	pkt, err := packets.NewChunkInstall(c)
	if err != nil {
		h.log.Error("encoding chunk", zap.Stringer("chunk", c.Key), zap.Error(err))
		return
	}
	data := pkt.Encode()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.installed[c.Key] = data
	h.broadcastLocked(data)
}

// Evict broadcasts that a chunk left the view.
func (h *Hub) Evict(c *terrain.Chunk) {
	data := (&packets.ChunkEvict{Key: packets.KeyOf(c.Key)}).Encode()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.installed[c.Key]; !ok {
		return
	}
	delete(h.installed, c.Key)
	h.broadcastLocked(data)
}

func (h *Hub) broadcastLocked(data []byte) {
	for c := range h.clients {
		h.enqueueLocked(c, data)
	}
}

func (h *Hub) enqueueLocked(c *client, data []byte) {
	select {
	case c.out <- data:
	default:
		h.log.Warn("dropping slow client", zap.Int("queued", len(c.out)))
		delete(h.clients, c)
		c.close()
	}
}

// Installed returns the keys of chunks currently installed, sorted.
func (h *Hub) Installed() []terrain.ChunkKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]terrain.ChunkKey, 0, len(h.installed))
	for k := range h.installed {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b terrain.ChunkKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return keys
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// View returns the latest reported view.
func (h *Hub) View() (terrain.View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view, h.hasView
}

func (h *Hub) setView(u *packets.ViewUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	v := terrain.View{
		X:      u.X,
		Y:      u.Y,
		Radius: min(u.Radius, h.maxRadius),
		Facing: math.Vec2{X: u.FacingX, Y: u.FacingY},
		FOV:    float64(u.FOV),
	}
	h.mu.Lock()
	h.view = v
	h.hasView = true
	h.mu.Unlock()
	return nil
}

// Frame queries the orchestrator with the latest view and reaps finished
// builds. Installs and evictions reach clients through the Sink methods.
// Call it from the goroutine that owns orch.
func (h *Hub) Frame(orch *terrain.Orchestrator) error {
	v, ok := h.View()
	if !ok {
		return ErrNoView
	}
	if _, err := orch.QueryView(v); err != nil {
		return err
	}
	orch.Tick()
	return nil
}

// Run calls Frame every interval until ctx is done, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context, orch *terrain.Orchestrator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.Frame(orch); err != nil && !errors.Is(err, ErrNoView) {
				h.log.Warn("frame failed", zap.Error(err))
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and streams chunks until the client
// disconnects. A new client first receives every installed chunk.
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{done: make(chan struct{})}
	h.mu.Lock()
	c.out = make(chan []byte, h.queue+len(h.installed))
	for _, data := range h.installed {
		c.out <- data
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(conn, c)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		pkt, err := packets.Decode(msg)
		if err != nil {
			h.log.Debug("bad packet", zap.Error(err))
			continue
		}
		if u, ok := pkt.(*packets.ViewUpdate); ok {
			if err := h.setView(u); err != nil {
				h.log.Debug("bad view", zap.Error(err))
			}
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	h.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client) {
	for {
		select {
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case data := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				c.close()
				conn.Close()
				return
			}
		}
	}
}
