package terrain

import (
	"errors"
	"fmt"
	gomath "math"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/quadtree"
	"github.com/Faultbox/midgard-terrain/internal/engine/tasks"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/pkg/math"
)

// Orchestrator errors.
var (
	ErrInvalidConfig   = errors.New("terrain: invalid config")
	ErrLevelsNotNested = errors.New("terrain: LOD tile sizes must halve at each level")
	ErrInvalidQuery    = errors.New("terrain: invalid query")
	ErrChunkNotTracked = errors.New("terrain: chunk not tracked by this orchestrator")
)

// Sink receives chunks as they enter and leave the visible set. Both calls
// happen on the goroutine driving the orchestrator.
type Sink interface {
	Install(c *Chunk)
	Evict(c *Chunk)
}

// Config controls mesh layout and build scheduling.
type Config struct {
	// IndexWidth is 2 or 4 bytes per index.
	IndexWidth int
	// MaxIndex caps local indices below the width limit; zero means none.
	MaxIndex uint32
	// Async schedules builds on the scheduler, except for the tile under
	// the viewer, which is always built inline.
	Async bool
}

// View is a viewer position with an optional horizontal field of view.
type View struct {
	X, Y   float64
	Radius float64
	// Facing is the planar look direction; FOV is the full cone angle in
	// radians. A zero FOV disables the cone test.
	Facing math.Vec2
	FOV    float64
}

// Stats is a snapshot of orchestrator counters.
type Stats struct {
	Nodes      int
	Wanted     int
	Ready      int
	Generating int
	Active     int
	Topologies int
	Builds     uint64
	Failures   uint64
	Installs   uint64
	Evictions  uint64
	Released   uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the collaborator notified on install and evict.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// Orchestrator decides which tiles to realize at which detail level and
// drives their mesh builds. It is not safe for concurrent use; call it from
// one goroutine, typically the frame loop.
type Orchestrator struct {
	cfg     Config
	table   *lod.Table
	sampler *heightfield.Sampler
	sched   *tasks.Scheduler
	sink    Sink
	log     *zap.Logger

	tree       *quadtree.Tree[*Chunk]
	topologies *TopologyCache
	build      func(*heightfield.Sampler, quadtree.Bounds, *Topology) (*Mesh, error)

	wanted map[ChunkKey]*Chunk
	active map[ChunkKey]*Chunk
	stats  Stats
}

// New creates an orchestrator. sched may be nil when cfg.Async is false.
func New(cfg Config, table *lod.Table, sampler *heightfield.Sampler, sched *tasks.Scheduler, opts ...Option) (*Orchestrator, error) {
	if cfg.IndexWidth != 2 && cfg.IndexWidth != 4 {
		return nil, fmt.Errorf("%w: index width %d", ErrInvalidConfig, cfg.IndexWidth)
	}
	if table == nil || sampler == nil {
		return nil, fmt.Errorf("%w: missing LOD table or sampler", ErrInvalidConfig)
	}
	if cfg.Async && sched == nil {
		return nil, fmt.Errorf("%w: async builds need a scheduler", ErrInvalidConfig)
	}
	if !table.Halving() {
		return nil, ErrLevelsNotNested
	}

	o := &Orchestrator{
		cfg:        cfg,
		table:      table,
		sampler:    sampler,
		sched:      sched,
		log:        logger.Named("orchestrator"),
		topologies: NewTopologyCache(cfg.MaxIndex),
		build:      BuildMesh,
		wanted:     make(map[ChunkKey]*Chunk),
		active:     make(map[ChunkKey]*Chunk),
	}
	tree, err := quadtree.New(table.Coarsest().TileSize, table.MaxLevel(), o.allocChunk)
	if err != nil {
		return nil, err
	}
	o.tree = tree

	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) allocChunk(b quadtree.Bounds, level int) *Chunk {
	return &Chunk{
		Key:        KeyFor(level, b),
		Level:      level,
		Bounds:     b,
		Resolution: o.table.Level(level).Resolution,
		State:      StateRequested,
		node:       quadtree.None,
	}
}

// QueryChunksWithinRadius realizes the tiles around (x, y) and returns them.
func (o *Orchestrator) QueryChunksWithinRadius(x, y, radius float64) ([]*Chunk, error) {
	return o.QueryView(View{X: x, Y: y, Radius: radius})
}

// QueryView realizes the tiles that cover the square of half-extent
// v.Radius around the viewer and returns them.
//
// Starting at the coarsest level, a tile is split into its four children
// while its center is closer than the level's MaxViewDistance and finer
// levels remain. Only the leaves of this recursion become chunks. Each
// returned chunk has a build requested unless it is ready or building.
// Chunks leaving the returned set are evicted from the sink and lose their
// mesh; only the quadtree node outlives them.
func (o *Orchestrator) QueryView(v View) ([]*Chunk, error) {
	if !finite(v.X) || !finite(v.Y) || !finite(v.Radius) || v.Radius <= 0 {
		return nil, fmt.Errorf("%w: center (%v, %v) radius %v", ErrInvalidQuery, v.X, v.Y, v.Radius)
	}

	region := quadtree.Bounds{CenterX: v.X, CenterY: v.Y, Size: 2 * v.Radius}
	size := o.table.Coarsest().TileSize

	var leaves []*Chunk
	var visit func(b quadtree.Bounds, level int) error
	visit = func(b quadtree.Bounds, level int) error {
		if !region.Intersects(b) || !inCone(v, b) {
			return nil
		}
		d := b.Distance(v.X, v.Y)
		if d < o.table.Level(level).MaxViewDistance && level < o.table.MaxLevel() {
			for _, child := range b.Quadrants() {
				if err := visit(child, level+1); err != nil {
					return err
				}
			}
			return nil
		}

		id, err := o.tree.RequestNode(b.CenterX, b.CenterY, level)
		if err != nil {
			return err
		}
		c := o.tree.Data(id)
		c.node = id
		leaves = append(leaves, c)
		return nil
	}

	// Root tiles are centered on multiples of the coarsest tile size.
	minX, minY := region.Min()
	maxX, maxY := region.Max()
	for ky := gomath.Floor(minY/size + 0.5); ky <= gomath.Ceil(maxY/size-0.5); ky++ {
		for kx := gomath.Floor(minX/size + 0.5); kx <= gomath.Ceil(maxX/size-0.5); kx++ {
			root := quadtree.Bounds{CenterX: kx * size, CenterY: ky * size, Size: size}
			if err := visit(root, 0); err != nil {
				return nil, err
			}
		}
	}

	wanted := make(map[ChunkKey]*Chunk, len(leaves))
	for _, c := range leaves {
		wanted[c.Key] = c
	}
	for key, c := range o.wanted {
		if _, ok := wanted[key]; !ok {
			o.release(c)
		}
	}
	o.wanted = wanted

	for _, c := range leaves {
		if c.State == StateRequested {
			if err := o.request(c, o.priority(v, c)); err != nil {
				return nil, err
			}
		} else if c.Ready() {
			o.install(c)
		}
	}
	return leaves, nil
}

// Update regenerates c at a new resolution. The old mesh is evicted at once.
func (o *Orchestrator) Update(c *Chunk, resolution int) error {
	if resolution < 1 || resolution > MaxResolution {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, resolution)
	}
	if c.node == quadtree.None || o.tree.Data(c.node) != c {
		return fmt.Errorf("%w: %s", ErrChunkNotTracked, c.Key)
	}
	if c.Resolution == resolution && c.State != StateRequested {
		return nil
	}

	o.evict(c)
	c.gen++
	c.Resolution = resolution
	c.State = StateRequested
	c.Mesh = nil
	c.Err = nil

	priority := 0
	if o.cfg.Async {
		priority = 1
	}
	return o.request(c, priority)
}

// Tick runs one scheduler poll: dispatch, then reap completions. It returns
// the number of completions processed.
func (o *Orchestrator) Tick() int {
	if o.sched == nil {
		return 0
	}
	o.sched.ProcessScheduledTasks()
	return o.sched.ProcessCompletedTasks()
}

// ReadyChunks returns the chunks of the last query that have a mesh,
// ordered by key.
func (o *Orchestrator) ReadyChunks() []*Chunk {
	var out []*Chunk
	for _, c := range o.wanted {
		if c.Ready() {
			out = append(out, c)
		}
	}
	sortChunks(out)
	return out
}

// ActiveChunks returns the chunks currently installed in the sink, ordered
// by key.
func (o *Orchestrator) ActiveChunks() []*Chunk {
	out := make([]*Chunk, 0, len(o.active))
	for _, c := range o.active {
		out = append(out, c)
	}
	sortChunks(out)
	return out
}

// Table returns the LOD table.
func (o *Orchestrator) Table() *lod.Table {
	return o.table
}

// Stats returns current counters.
func (o *Orchestrator) Stats() Stats {
	st := o.stats
	st.Nodes = o.tree.Len()
	st.Wanted = len(o.wanted)
	st.Active = len(o.active)
	st.Topologies = o.topologies.Len()
	for _, c := range o.wanted {
		switch c.State {
		case StateReady:
			st.Ready++
		case StateGenerating:
			st.Generating++
		}
	}
	return st
}

// Close evicts every installed chunk and drops all meshes.
func (o *Orchestrator) Close() {
	for _, c := range o.ActiveChunks() {
		o.evict(c)
	}
	for _, c := range o.wanted {
		o.release(c)
	}
	o.wanted = make(map[ChunkKey]*Chunk)
}

// priority is 0 for the tile under the viewer and 1..3 by distance otherwise.
func (o *Orchestrator) priority(v View, c *Chunk) int {
	if !o.cfg.Async || c.Bounds.Contains(v.X, v.Y) {
		return 0
	}
	f := min(c.Bounds.Distance(v.X, v.Y)/v.Radius, 0.999)
	return 1 + int(f*3)
}

// request starts a build of c. The topology is resolved here, on the
// orchestrating goroutine, so workers only ever read the cache's entries.
func (o *Orchestrator) request(c *Chunk, priority int) error {
	topo, err := o.topologies.Get(c.Resolution, o.cfg.IndexWidth)
	if err != nil {
		return fmt.Errorf("topology for %s: %w", c.Key, err)
	}

	c.State = StateGenerating
	c.Attempts++
	o.stats.Builds++
	gen := c.gen
	build, sampler, bounds := o.build, o.sampler, c.Bounds

	if priority == 0 || o.sched == nil {
		m, err := build(sampler, bounds, topo)
		o.finish(c, gen, m, err)
		return nil
	}

	var built *Mesh
	work := func() error {
		m, err := build(sampler, bounds, topo)
		built = m
		return err
	}
	done := func(r tasks.Result) {
		o.finish(c, gen, built, r.Err)
	}
	id := fmt.Sprintf("%s#%d", c.Key, gen)
	if err := o.sched.Schedule(id, work, done, priority); err != nil {
		c.State = StateRequested
		c.Err = err
		return fmt.Errorf("scheduling %s: %w", c.Key, err)
	}
	return nil
}

func (o *Orchestrator) finish(c *Chunk, gen int, m *Mesh, err error) {
	if gen != c.gen {
		o.log.Debug("dropping stale build", zap.Stringer("chunk", c.Key), zap.Int("gen", gen))
		return
	}
	if err != nil {
		c.State = StateRequested
		c.Err = err
		o.stats.Failures++
		o.log.Warn("chunk build failed",
			zap.Stringer("chunk", c.Key),
			zap.Int("attempts", c.Attempts),
			zap.Error(err))
		return
	}

	c.State = StateReady
	c.Mesh = m
	c.Err = nil
	if _, ok := o.wanted[c.Key]; ok {
		o.install(c)
	}
}

func (o *Orchestrator) install(c *Chunk) {
	if _, ok := o.active[c.Key]; ok {
		return
	}
	o.active[c.Key] = c
	o.stats.Installs++
	o.log.Debug("install chunk",
		zap.Stringer("chunk", c.Key),
		zap.Int("vertices", c.Mesh.VertexCount),
		zap.Int("ranges", len(c.Mesh.Ranges)))
	if o.sink != nil {
		o.sink.Install(c)
	}
}

func (o *Orchestrator) evict(c *Chunk) {
	if _, ok := o.active[c.Key]; !ok {
		return
	}
	delete(o.active, c.Key)
	o.stats.Evictions++
	o.log.Debug("evict chunk", zap.Stringer("chunk", c.Key))
	if o.sink != nil {
		o.sink.Evict(c)
	}
}

// release evicts c and returns it to Requested without a mesh. A build
// still in flight for it completes as stale.
func (o *Orchestrator) release(c *Chunk) {
	o.evict(c)
	if c.State == StateRequested && c.Mesh == nil {
		return
	}
	c.gen++
	c.State = StateRequested
	c.Mesh = nil
	o.stats.Released++
}

// inCone reports whether any part of b may lie inside the view cone.
func inCone(v View, b quadtree.Bounds) bool {
	if v.FOV <= 0 || v.FOV >= 2*gomath.Pi || v.Facing == (math.Vec2{}) {
		return true
	}
	if b.Contains(v.X, v.Y) {
		return true
	}
	to := math.Vec2{X: float32(b.CenterX - v.X), Y: float32(b.CenterY - v.Y)}
	d := b.Distance(v.X, v.Y)
	spread := gomath.Asin(min(1, b.Half()*gomath.Sqrt2/d))
	return float64(v.Facing.AngleTo(to))-spread <= v.FOV/2
}

func finite(f float64) bool {
	return !gomath.IsNaN(f) && !gomath.IsInf(f, 0)
}

func sortChunks(cs []*Chunk) {
	slices.SortFunc(cs, func(a, b *Chunk) int {
		switch {
		case a.Key.Less(b.Key):
			return -1
		case b.Key.Less(a.Key):
			return 1
		default:
			return 0
		}
	})
}
