package network

import (
	"fmt"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/network/packets"
)

// Mirror rebuilds the server's chunk set on the client and forwards
// installs and evictions to a local sink, such as a renderer.
type Mirror struct {
	sink   terrain.Sink
	chunks map[terrain.ChunkKey]*terrain.Chunk
}

// NewMirror creates a mirror forwarding to sink, which may be nil.
func NewMirror(sink terrain.Sink) *Mirror {
	return &Mirror{
		sink:   sink,
		chunks: make(map[terrain.ChunkKey]*terrain.Chunk),
	}
}

// Register installs the mirror's packet handlers on c.
func (m *Mirror) Register(c *Client) {
	c.RegisterHandler(packets.SC_CHUNK_INSTALL, m.handleInstall)
	c.RegisterHandler(packets.SC_CHUNK_EVICT, m.handleEvict)
}

func (m *Mirror) handleInstall(p packets.Packet) error {
	pkt, ok := p.(*packets.ChunkInstall)
	if !ok {
		return fmt.Errorf("unexpected packet %T", p)
	}
	mesh, err := pkt.Mesh()
	if err != nil {
		return err
	}
	key := pkt.Key.TerrainKey()
	c := &terrain.Chunk{
		Key:        key,
		Level:      key.Level,
		Bounds:     pkt.Bounds(),
		Resolution: mesh.Resolution,
		State:      terrain.StateReady,
		Mesh:       mesh,
	}
	if old, ok := m.chunks[key]; ok && m.sink != nil {
		m.sink.Evict(old)
	}
	m.chunks[key] = c
	if m.sink != nil {
		m.sink.Install(c)
	}
	return nil
}

func (m *Mirror) handleEvict(p packets.Packet) error {
	pkt, ok := p.(*packets.ChunkEvict)
	if !ok {
		return fmt.Errorf("unexpected packet %T", p)
	}
	key := pkt.Key.TerrainKey()
	c, ok := m.chunks[key]
	if !ok {
		return nil
	}
	delete(m.chunks, key)
	if m.sink != nil {
		m.sink.Evict(c)
	}
	return nil
}

// Len returns the number of mirrored chunks.
func (m *Mirror) Len() int {
	return len(m.chunks)
}

// Chunk returns a mirrored chunk.
func (m *Mirror) Chunk(k terrain.ChunkKey) (*terrain.Chunk, bool) {
	c, ok := m.chunks[k]
	return c, ok
}

// HeightAt returns the surface height at (x, y) from the finest mirrored
// chunk covering it.
func (m *Mirror) HeightAt(x, y float64) (float32, bool) {
	var (
		best  float32
		level = -1
	)
	for _, c := range m.chunks {
		if c.Level <= level {
			continue
		}
		if h, ok := c.Mesh.HeightAt(x, y); ok {
			best, level = h, c.Level
		}
	}
	return best, level >= 0
}
