// Package scene renders streamed terrain chunks with OpenGL.
package scene

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/mesh"
	"github.com/Faultbox/midgard-terrain/internal/engine/scene/shaders"
	"github.com/Faultbox/midgard-terrain/internal/engine/shader"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// Lighting holds per-frame shading parameters.
type Lighting struct {
	LightDir [3]float32
	Ambient  [3]float32
	Diffuse  [3]float32

	FogEnabled bool
	FogNear    float32
	FogFar     float32
	FogColor   [3]float32

	// TintLevels shades each LOD level differently.
	TintLevels bool
}

// DefaultLighting returns a late-morning sun with distance fog.
func DefaultLighting() Lighting {
	return Lighting{
		LightDir:   [3]float32{-0.4, -1, -0.3},
		Ambient:    [3]float32{0.35, 0.35, 0.4},
		Diffuse:    [3]float32{0.75, 0.72, 0.65},
		FogEnabled: true,
		FogNear:    400,
		FogFar:     1200,
		FogColor:   [3]float32{0.55, 0.65, 0.78},
	}
}

var levelTints = [][3]float32{
	{1.0, 0.7, 0.7},
	{0.7, 1.0, 0.7},
	{0.7, 0.7, 1.0},
	{1.0, 1.0, 0.6},
	{0.6, 1.0, 1.0},
	{1.0, 0.6, 1.0},
}

// chunkBuffers is the GPU copy of one chunk mesh.
type chunkBuffers struct {
	vao, vbo, ebo uint32
	indexType     uint32
	indexWidth    int
	ranges        []mesh.DrawRange
	level         int
	triangles     int
}

// ChunkRenderer owns GPU buffers for installed chunks. It is a terrain Sink
// and must be used on the thread that owns the GL context.
type ChunkRenderer struct {
	// Shader
	program uint32

	// Uniform locations
	locViewProj    int32
	locLightDir    int32
	locAmbient     int32
	locDiffuse     int32
	locCameraPos   int32
	locHeightRange int32
	locLevelTint   int32
	locFogUse      int32
	locFogNear     int32
	locFogFar      int32
	locFogColor    int32

	chunks map[terrain.ChunkKey]*chunkBuffers
	log    *zap.Logger

	// Height range seen across installed chunks, for coloring
	minHeight, maxHeight float32

	// Wireframe draws triangle edges only.
	Wireframe bool

	// Per-frame counters
	drawCalls int
	triangles int
}

// NewChunkRenderer compiles the terrain shader.
func NewChunkRenderer() (*ChunkRenderer, error) {
	r := &ChunkRenderer{
		chunks:    make(map[terrain.ChunkKey]*chunkBuffers),
		log:       logger.Named("scene"),
		minHeight: -1,
		maxHeight: 1,
	}

	program, err := shader.CompileProgram(shaders.TerrainVertexShader, shaders.TerrainFragmentShader)
	if err != nil {
		return nil, fmt.Errorf("terrain shader: %w", err)
	}
	r.program = program

	// Get uniform locations
	r.locViewProj = shader.GetUniform(program, "uViewProj")
	r.locLightDir = shader.GetUniform(program, "uLightDir")
	r.locAmbient = shader.GetUniform(program, "uAmbient")
	r.locDiffuse = shader.GetUniform(program, "uDiffuse")
	r.locCameraPos = shader.GetUniform(program, "uCameraPos")
	r.locHeightRange = shader.GetUniform(program, "uHeightRange")
	r.locLevelTint = shader.GetUniform(program, "uLevelTint")
	r.locFogUse = shader.GetUniform(program, "uFogUse")
	r.locFogNear = shader.GetUniform(program, "uFogNear")
	r.locFogFar = shader.GetUniform(program, "uFogFar")
	r.locFogColor = shader.GetUniform(program, "uFogColor")

	return r, nil
}

// Install uploads a ready chunk's vertex and index buffers.
func (r *ChunkRenderer) Install(c *terrain.Chunk) {
	if !c.Ready() {
		return
	}
	r.Evict(c)

	m := c.Mesh
	b := &chunkBuffers{
		indexType:  gl.UNSIGNED_INT,
		indexWidth: m.IndexWidth,
		ranges:     m.Ranges,
		level:      c.Level,
		triangles:  m.TriangleCount(),
	}
	if m.IndexWidth == 2 {
		b.indexType = gl.UNSIGNED_SHORT
	}

	gl.GenVertexArrays(1, &b.vao)
	gl.BindVertexArray(b.vao)

	// VBO
	vertices := m.VertexBytes()
	gl.GenBuffers(1, &b.vbo)
	gl.BindBuffer(gl.ARRAY_BUFFER, b.vbo)
	gl.BufferData(gl.ARRAY_BUFFER, len(vertices), unsafe.Pointer(&vertices[0]), gl.STATIC_DRAW)

	// Position (location 0)
	gl.VertexAttribPointerWithOffset(0, 3, gl.FLOAT, false, terrain.VertexStride, unsafe.Offsetof(terrain.Vertex{}.Position))
	gl.EnableVertexAttribArray(0)

	// Normal (location 1)
	gl.VertexAttribPointerWithOffset(1, 3, gl.FLOAT, false, terrain.VertexStride, unsafe.Offsetof(terrain.Vertex{}.Normal))
	gl.EnableVertexAttribArray(1)

	// EBO
	indices := m.IndexBytes()
	gl.GenBuffers(1, &b.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, b.ebo)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices), unsafe.Pointer(&indices[0]), gl.STATIC_DRAW)

	gl.BindVertexArray(0)

	r.chunks[c.Key] = b
	r.minHeight = min(r.minHeight, m.MinHeight)
	r.maxHeight = max(r.maxHeight, m.MaxHeight)
	r.log.Debug("chunk uploaded",
		zap.Stringer("chunk", c.Key),
		zap.Int("vertices", m.VertexCount),
		zap.Int("ranges", len(m.Ranges)),
	)
}

// Evict releases a chunk's buffers.
func (r *ChunkRenderer) Evict(c *terrain.Chunk) {
	b, ok := r.chunks[c.Key]
	if !ok {
		return
	}
	b.release()
	delete(r.chunks, c.Key)
}

func (b *chunkBuffers) release() {
	if b.vao != 0 {
		gl.DeleteVertexArrays(1, &b.vao)
	}
	if b.vbo != 0 {
		gl.DeleteBuffers(1, &b.vbo)
	}
	if b.ebo != 0 {
		gl.DeleteBuffers(1, &b.ebo)
	}
}

// Render draws every installed chunk, one draw call per range.
func (r *ChunkRenderer) Render(viewProj math.Mat4, cameraPos math.Vec3, light Lighting) {
	r.drawCalls = 0
	r.triangles = 0
	if len(r.chunks) == 0 {
		return
	}

	gl.UseProgram(r.program)

	// Set uniforms
	gl.UniformMatrix4fv(r.locViewProj, 1, false, viewProj.Ptr())
	gl.Uniform3f(r.locLightDir, light.LightDir[0], light.LightDir[1], light.LightDir[2])
	gl.Uniform3f(r.locAmbient, light.Ambient[0], light.Ambient[1], light.Ambient[2])
	gl.Uniform3f(r.locDiffuse, light.Diffuse[0], light.Diffuse[1], light.Diffuse[2])
	gl.Uniform3f(r.locCameraPos, cameraPos.X, cameraPos.Y, cameraPos.Z)
	gl.Uniform2f(r.locHeightRange, r.minHeight, r.maxHeight)

	// Fog uniforms
	if light.FogEnabled {
		gl.Uniform1i(r.locFogUse, 1)
		gl.Uniform1f(r.locFogNear, light.FogNear)
		gl.Uniform1f(r.locFogFar, light.FogFar)
		gl.Uniform3f(r.locFogColor, light.FogColor[0], light.FogColor[1], light.FogColor[2])
	} else {
		gl.Uniform1i(r.locFogUse, 0)
	}

	if r.Wireframe {
		gl.PolygonMode(gl.FRONT_AND_BACK, gl.LINE)
		defer gl.PolygonMode(gl.FRONT_AND_BACK, gl.FILL)
	}

	for _, b := range r.chunks {
		tint := [3]float32{1, 1, 1}
		if light.TintLevels {
			tint = levelTints[b.level%len(levelTints)]
		}
		gl.Uniform3f(r.locLevelTint, tint[0], tint[1], tint[2])

		gl.BindVertexArray(b.vao)
		for _, rg := range b.ranges {
			gl.DrawElementsBaseVertexWithOffset(gl.TRIANGLES, int32(rg.IndexCount()), b.indexType,
				rg.ByteOffset(b.indexWidth), int32(rg.BaseVertex))
			r.drawCalls++
		}
		r.triangles += b.triangles
	}

	gl.BindVertexArray(0)
}

// Stats returns the installed chunk count and the last frame's draw calls
// and triangles.
func (r *ChunkRenderer) Stats() (chunks, drawCalls, triangles int) {
	return len(r.chunks), r.drawCalls, r.triangles
}

// Destroy releases all resources.
func (r *ChunkRenderer) Destroy() {
	for _, b := range r.chunks {
		b.release()
	}
	r.chunks = make(map[terrain.ChunkKey]*chunkBuffers)
	if r.program != 0 {
		gl.DeleteProgram(r.program)
		r.program = 0
	}
}
