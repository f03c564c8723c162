// Package packets defines the chunk stream wire packets.
//
// Every packet starts with a 6-byte header: packet ID (uint16) and total
// packet length including the header (uint32). All fields are little-endian.
package packets

import (
	"encoding/binary"
	"errors"
	"fmt"
	gomath "math"
)

// Packet IDs
const (
	// Server -> Client
	SC_CHUNK_INSTALL uint16 = 0x0C01 // Ready chunk mesh
	SC_CHUNK_EVICT   uint16 = 0x0C02 // Chunk left the view

	// Client -> Server
	CS_VIEW_UPDATE uint16 = 0x0C10 // Viewer moved
)

// HeaderSize is the size of the ID and length prefix.
const HeaderSize = 6

// MaxPacketSize bounds decoded packet lengths.
const MaxPacketSize = 64 << 20

// Decode errors.
var (
	ErrShortPacket   = errors.New("packets: short packet")
	ErrLengthInvalid = errors.New("packets: length mismatch")
	ErrUnknownPacket = errors.New("packets: unknown packet id")
	ErrFieldInvalid  = errors.New("packets: invalid field")
)

// Packet is any encodable packet.
type Packet interface {
	ID() uint16
	Encode() []byte
}

// Header reads the packet ID and declared length.
func Header(data []byte) (id uint16, length int, err error) {
	if len(data) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	id = binary.LittleEndian.Uint16(data[0:])
	length = int(binary.LittleEndian.Uint32(data[2:]))
	if length < HeaderSize || length > MaxPacketSize {
		return id, length, fmt.Errorf("%w: declared %d", ErrLengthInvalid, length)
	}
	return id, length, nil
}

// Decode decodes one complete packet.
func Decode(data []byte) (Packet, error) {
	id, _, err := Header(data)
	if err != nil {
		return nil, err
	}
	switch id {
	case SC_CHUNK_INSTALL:
		return DecodeChunkInstall(data)
	case SC_CHUNK_EVICT:
		return DecodeChunkEvict(data)
	case CS_VIEW_UPDATE:
		return DecodeViewUpdate(data)
	default:
		return nil, fmt.Errorf("%w: 0x%04X", ErrUnknownPacket, id)
	}
}

// ChunkKey identifies a tile on the wire.
type ChunkKey struct {
	Level uint8
	X, Y  int64
}

const chunkKeySize = 17

// Range is one draw range: indices [Start, End) relative to Base.
type Range struct {
	Start uint32
	End   uint32
	Base  uint32
}

// ChunkInstall (SC_CHUNK_INSTALL 0x0C01) carries a ready chunk mesh.
// Vertices hold six float32 per vertex: position then normal.
type ChunkInstall struct {
	Key        ChunkKey
	CenterX    float64
	CenterY    float64
	Size       float64
	Resolution uint16
	IndexWidth uint8
	Ranges     []Range
	Vertices   []float32
	Indices    []uint32
}

// ChunkInstall body layout after the header:
//
//	key(17) center_x(8) center_y(8) size(8) resolution(2) index_width(1)
//	range_count(4) vertex_count(4) index_count(4)
//	ranges(12 each) vertices(24 each) indices(index_width each)
const chunkInstallFixed = HeaderSize + chunkKeySize + 24 + 2 + 1 + 12

// ID returns the packet ID.
func (p *ChunkInstall) ID() uint16 { return SC_CHUNK_INSTALL }

// VertexCount returns the number of vertices.
func (p *ChunkInstall) VertexCount() int { return len(p.Vertices) / 6 }

// EncodedSize returns the encoded size in bytes.
func (p *ChunkInstall) EncodedSize() int {
	return chunkInstallFixed + len(p.Ranges)*12 + len(p.Vertices)*4 + len(p.Indices)*int(p.IndexWidth)
}

// Encode encodes the packet. Indices are narrowed to IndexWidth bytes.
func (p *ChunkInstall) Encode() []byte {
	buf := header(SC_CHUNK_INSTALL, p.EncodedSize())
	buf = appendKey(buf, p.Key)
	buf = appendFloat64(buf, p.CenterX)
	buf = appendFloat64(buf, p.CenterY)
	buf = appendFloat64(buf, p.Size)
	buf = binary.LittleEndian.AppendUint16(buf, p.Resolution)
	buf = append(buf, p.IndexWidth)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Ranges)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.VertexCount()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Indices)))
	for _, r := range p.Ranges {
		buf = binary.LittleEndian.AppendUint32(buf, r.Start)
		buf = binary.LittleEndian.AppendUint32(buf, r.End)
		buf = binary.LittleEndian.AppendUint32(buf, r.Base)
	}
	for _, f := range p.Vertices[:p.VertexCount()*6] {
		buf = binary.LittleEndian.AppendUint32(buf, gomath.Float32bits(f))
	}
	for _, idx := range p.Indices {
		if p.IndexWidth == 2 {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(idx))
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, idx)
		}
	}
	return buf
}

// DecodeChunkInstall decodes a SC_CHUNK_INSTALL packet.
func DecodeChunkInstall(data []byte) (*ChunkInstall, error) {
	r, err := newReader(data, SC_CHUNK_INSTALL, chunkInstallFixed)
	if err != nil {
		return nil, err
	}

	p := &ChunkInstall{}
	p.Key = r.key()
	p.CenterX = r.float64()
	p.CenterY = r.float64()
	p.Size = r.float64()
	p.Resolution = r.uint16()
	p.IndexWidth = r.uint8()
	rangeCount := int(r.uint32())
	vertexCount := int(r.uint32())
	indexCount := int(r.uint32())

	if p.IndexWidth != 2 && p.IndexWidth != 4 {
		return nil, fmt.Errorf("%w: index width %d", ErrFieldInvalid, p.IndexWidth)
	}
	want := chunkInstallFixed + rangeCount*12 + vertexCount*24 + indexCount*int(p.IndexWidth)
	if want != len(r.data) {
		return nil, fmt.Errorf("%w: counts need %d bytes, packet has %d", ErrLengthInvalid, want, len(r.data))
	}

	p.Ranges = make([]Range, rangeCount)
	for i := range p.Ranges {
		p.Ranges[i] = Range{Start: r.uint32(), End: r.uint32(), Base: r.uint32()}
		if p.Ranges[i].End < p.Ranges[i].Start || int(p.Ranges[i].End) > indexCount {
			return nil, fmt.Errorf("%w: range %d %+v", ErrFieldInvalid, i, p.Ranges[i])
		}
	}
	p.Vertices = make([]float32, vertexCount*6)
	for i := range p.Vertices {
		p.Vertices[i] = gomath.Float32frombits(r.uint32())
	}
	p.Indices = make([]uint32, indexCount)
	for i := range p.Indices {
		if p.IndexWidth == 2 {
			p.Indices[i] = uint32(r.uint16())
		} else {
			p.Indices[i] = r.uint32()
		}
	}
	for i, rg := range p.Ranges {
		for _, idx := range p.Indices[rg.Start:rg.End] {
			if uint64(rg.Base)+uint64(idx) >= uint64(vertexCount) {
				return nil, fmt.Errorf("%w: range %d references vertex %d of %d",
					ErrFieldInvalid, i, uint64(rg.Base)+uint64(idx), vertexCount)
			}
		}
	}
	return p, nil
}

// ChunkEvict (SC_CHUNK_EVICT 0x0C02) tells the client to drop a chunk.
type ChunkEvict struct {
	Key ChunkKey
}

const chunkEvictSize = HeaderSize + chunkKeySize

// ID returns the packet ID.
func (p *ChunkEvict) ID() uint16 { return SC_CHUNK_EVICT }

// Encode encodes the packet.
func (p *ChunkEvict) Encode() []byte {
	return appendKey(header(SC_CHUNK_EVICT, chunkEvictSize), p.Key)
}

// DecodeChunkEvict decodes a SC_CHUNK_EVICT packet.
func DecodeChunkEvict(data []byte) (*ChunkEvict, error) {
	r, err := newReader(data, SC_CHUNK_EVICT, chunkEvictSize)
	if err != nil {
		return nil, err
	}
	if len(r.data) != chunkEvictSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrLengthInvalid, len(r.data))
	}
	return &ChunkEvict{Key: r.key()}, nil
}

// ViewUpdate (CS_VIEW_UPDATE 0x0C10) reports the viewer position.
// FOV is in radians; zero disables cone culling.
type ViewUpdate struct {
	X, Y             float64
	Radius           float64
	FacingX, FacingY float32
	FOV              float32
}

const viewUpdateSize = HeaderSize + 24 + 12

// ID returns the packet ID.
func (p *ViewUpdate) ID() uint16 { return CS_VIEW_UPDATE }

// Encode encodes the packet.
func (p *ViewUpdate) Encode() []byte {
	buf := header(CS_VIEW_UPDATE, viewUpdateSize)
	buf = appendFloat64(buf, p.X)
	buf = appendFloat64(buf, p.Y)
	buf = appendFloat64(buf, p.Radius)
	buf = binary.LittleEndian.AppendUint32(buf, gomath.Float32bits(p.FacingX))
	buf = binary.LittleEndian.AppendUint32(buf, gomath.Float32bits(p.FacingY))
	buf = binary.LittleEndian.AppendUint32(buf, gomath.Float32bits(p.FOV))
	return buf
}

// DecodeViewUpdate decodes a CS_VIEW_UPDATE packet.
func DecodeViewUpdate(data []byte) (*ViewUpdate, error) {
	r, err := newReader(data, CS_VIEW_UPDATE, viewUpdateSize)
	if err != nil {
		return nil, err
	}
	if len(r.data) != viewUpdateSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrLengthInvalid, len(r.data))
	}
	p := &ViewUpdate{
		X:       r.float64(),
		Y:       r.float64(),
		Radius:  r.float64(),
		FacingX: gomath.Float32frombits(r.uint32()),
		FacingY: gomath.Float32frombits(r.uint32()),
		FOV:     gomath.Float32frombits(r.uint32()),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that every field is finite, the radius is positive and
// the FOV lies in [0, 2π].
func (p *ViewUpdate) Validate() error {
	for _, f := range []float64{p.X, p.Y, p.Radius, float64(p.FacingX), float64(p.FacingY), float64(p.FOV)} {
		if gomath.IsNaN(f) || gomath.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite view", ErrFieldInvalid)
		}
	}
	if p.Radius <= 0 {
		return fmt.Errorf("%w: radius %v", ErrFieldInvalid, p.Radius)
	}
	if p.FOV < 0 || float64(p.FOV) > 2*gomath.Pi {
		return fmt.Errorf("%w: fov %v", ErrFieldInvalid, p.FOV)
	}
	return nil
}

func header(id uint16, size int) []byte {
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint16(buf, id)
	return binary.LittleEndian.AppendUint32(buf, uint32(size))
}

func appendKey(buf []byte, k ChunkKey) []byte {
	buf = append(buf, k.Level)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(k.X))
	return binary.LittleEndian.AppendUint64(buf, uint64(k.Y))
}

func appendFloat64(buf []byte, f float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, gomath.Float64bits(f))
}

// reader walks a packet body. Callers check the total length up front, so
// the accessors do not bounds-check individually.
type reader struct {
	data []byte
	off  int
}

func newReader(data []byte, id uint16, minSize int) (*reader, error) {
	got, length, err := Header(data)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrUnknownPacket, id, got)
	}
	if length != len(data) {
		return nil, fmt.Errorf("%w: header says %d, have %d", ErrLengthInvalid, length, len(data))
	}
	if len(data) < minSize {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrShortPacket, len(data), minSize)
	}
	return &reader{data: data, off: HeaderSize}, nil
}

func (r *reader) uint8() uint8 {
	v := r.data[r.off]
	r.off++
	return v
}

func (r *reader) uint16() uint16 {
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) uint32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *reader) float64() float64 {
	return gomath.Float64frombits(r.uint64())
}

func (r *reader) key() ChunkKey {
	return ChunkKey{Level: r.uint8(), X: int64(r.uint64()), Y: int64(r.uint64())}
}
