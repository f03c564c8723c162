package terrain

import (
	"errors"
	gomath "math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/quadtree"
	"github.com/Faultbox/midgard-terrain/internal/engine/tasks"
	"github.com/Faultbox/midgard-terrain/pkg/math"
)

type recordingSink struct {
	installed map[ChunkKey]int
	evicted   map[ChunkKey]int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		installed: make(map[ChunkKey]int),
		evicted:   make(map[ChunkKey]int),
	}
}

func (s *recordingSink) Install(c *Chunk) {
	if !c.Ready() {
		panic("installed a chunk without a mesh")
	}
	s.installed[c.Key]++
}

func (s *recordingSink) Evict(c *Chunk) { s.evicted[c.Key]++ }

func scenarioTable(t *testing.T) *lod.Table {
	t.Helper()
	tbl, err := lod.NewTable([]lod.Level{
		{TileSize: 32, MaxViewDistance: 32, Resolution: 4},
		{TileSize: 64, MaxViewDistance: 64, Resolution: 4},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func newSyncOrchestrator(t *testing.T, sink Sink) *Orchestrator {
	t.Helper()
	o, err := New(Config{IndexWidth: 2}, scenarioTable(t), hillySampler(), nil, WithSink(sink))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func tickUntil(t *testing.T, o *Orchestrator, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out; stats %+v", o.Stats())
		}
		if o.Tick() == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tbl := scenarioTable(t)
	s := hillySampler()
	if _, err := New(Config{IndexWidth: 3}, tbl, s, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("index width 3: %v", err)
	}
	if _, err := New(Config{IndexWidth: 2, Async: true}, tbl, s, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("async without scheduler: %v", err)
	}
	gappy, _ := lod.NewTable([]lod.Level{{TileSize: 16, MaxViewDistance: 16}, {TileSize: 64, MaxViewDistance: 64}})
	if _, err := New(Config{IndexWidth: 2}, gappy, s, nil); !errors.Is(err, ErrLevelsNotNested) {
		t.Errorf("non-halving levels: %v", err)
	}
}

func TestQueryCoversRegion(t *testing.T) {
	sink := newRecordingSink()
	o := newSyncOrchestrator(t, sink)

	chunks, err := o.QueryChunksWithinRadius(0, 0, 100)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// 5x5 coarse tiles, the center one split into four.
	if len(chunks) != 28 {
		t.Errorf("got %d chunks, want 28", len(chunks))
	}

	for _, c := range chunks {
		d := c.Bounds.Distance(0, 0)
		switch c.Bounds.Size {
		case 32:
			if c.Level != 1 || d >= 32 {
				t.Errorf("fine chunk %s at distance %v", c.Key, d)
			}
		case 64:
			if c.Level != 0 || d < 32 {
				t.Errorf("coarse chunk %s at distance %v", c.Key, d)
			}
		default:
			t.Errorf("chunk %s has size %v", c.Key, c.Bounds.Size)
		}
		if !c.Ready() || c.Resolution != 4 {
			t.Errorf("chunk %s state=%v res=%d", c.Key, c.State, c.Resolution)
		}
	}

	for x := -100.0; x <= 100; x += 5 {
		for y := -100.0; y <= 100; y += 5 {
			covered := false
			for _, c := range chunks {
				if c.Bounds.Contains(x, y) {
					covered = true
					break
				}
			}
			if !covered {
				t.Fatalf("point (%v,%v) not covered", x, y)
			}
		}
	}

	if len(sink.installed) != 28 || len(o.ActiveChunks()) != 28 || len(o.ReadyChunks()) != 28 {
		t.Errorf("installed=%d active=%d ready=%d", len(sink.installed), len(o.ActiveChunks()), len(o.ReadyChunks()))
	}
	if st := o.Stats(); st.Builds != 28 || st.Topologies != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestQueryIsIdempotent(t *testing.T) {
	sink := newRecordingSink()
	o := newSyncOrchestrator(t, sink)

	first, _ := o.QueryChunksWithinRadius(10, -5, 80)
	second, _ := o.QueryChunksWithinRadius(10, -5, 80)
	if len(first) != len(second) {
		t.Fatalf("query sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d is a different instance on requery", i)
		}
	}
	for key, n := range sink.installed {
		if n != 1 {
			t.Errorf("%s installed %d times", key, n)
		}
	}
	if st := o.Stats(); st.Builds != uint64(len(first)) {
		t.Errorf("requery rebuilt chunks: %+v", st)
	}
}

func TestQueryEvictsChunksLeavingView(t *testing.T) {
	sink := newRecordingSink()
	o := newSyncOrchestrator(t, sink)

	before, _ := o.QueryChunksWithinRadius(0, 0, 100)
	if _, err := o.QueryChunksWithinRadius(5000, 5000, 100); err != nil {
		t.Fatal(err)
	}
	for _, c := range before {
		if sink.evicted[c.Key] != 1 {
			t.Errorf("%s evicted %d times", c.Key, sink.evicted[c.Key])
		}
	}
	for _, c := range o.ActiveChunks() {
		if c.Bounds.Distance(5000, 5000) > 200 {
			t.Errorf("stale chunk %s still active", c.Key)
		}
	}

	o.Close()
	if len(o.ActiveChunks()) != 0 {
		t.Error("Close left chunks active")
	}
}

func TestMovingViewReleasesMeshes(t *testing.T) {
	o := newSyncOrchestrator(t, newRecordingSink())

	seen := make(map[ChunkKey]*Chunk)
	for i := range 20 {
		chunks, err := o.QueryChunksWithinRadius(float64(i)*1000, 0, 100)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range chunks {
			seen[c.Key] = c
		}
	}

	active := make(map[ChunkKey]bool)
	for _, c := range o.ActiveChunks() {
		active[c.Key] = true
	}
	withMesh := 0
	for key, c := range seen {
		if c.Mesh == nil {
			if c.State != StateRequested {
				t.Errorf("%s has no mesh but state %v", key, c.State)
			}
			continue
		}
		withMesh++
		if !active[key] {
			t.Errorf("%s left the view but kept its mesh", key)
		}
	}
	if withMesh != len(active) {
		t.Errorf("%d chunks hold meshes, %d active", withMesh, len(active))
	}
	if st := o.Stats(); st.Released != uint64(len(seen)-len(active)) {
		t.Errorf("released %d, want %d", st.Released, len(seen)-len(active))
	}

	// Coming back rebuilds the same tiles on the same chunk instances.
	builds := o.Stats().Builds
	back, _ := o.QueryChunksWithinRadius(0, 0, 100)
	for _, c := range back {
		if seen[c.Key] != c || !c.Ready() {
			t.Errorf("%s not rebuilt in place", c.Key)
		}
	}
	if got := o.Stats().Builds - builds; got != uint64(len(back)) {
		t.Errorf("revisit built %d chunks, want %d", got, len(back))
	}

	o.Close()
	for key, c := range seen {
		if c.Mesh != nil {
			t.Errorf("%s kept its mesh after Close", key)
		}
	}
}

func TestReleaseDropsInFlightBuild(t *testing.T) {
	sched := tasks.New(tasks.WithWorkers(1))
	defer sched.Close()
	o, err := New(Config{IndexWidth: 2, Async: true}, scenarioTable(t), hillySampler(), sched)
	if err != nil {
		t.Fatal(err)
	}

	first, _ := o.QueryChunksWithinRadius(0, 0, 100)
	var pending []*Chunk
	for _, c := range first {
		if c.State == StateGenerating {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		t.Fatal("expected background builds")
	}

	if _, err := o.QueryChunksWithinRadius(10000, 10000, 50); err != nil {
		t.Fatal(err)
	}
	tickUntil(t, o, func() bool { return sched.Idle() })
	for _, c := range pending {
		if c.Mesh != nil || c.State != StateRequested {
			t.Errorf("%s took a stale build: state %v", c.Key, c.State)
		}
	}
}

func TestQueryInvalid(t *testing.T) {
	o := newSyncOrchestrator(t, nil)
	for _, v := range []View{
		{X: 0, Y: 0, Radius: 0},
		{X: 0, Y: 0, Radius: -1},
		{X: gomath.NaN(), Y: 0, Radius: 10},
	} {
		if _, err := o.QueryView(v); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("QueryView(%+v) err = %v", v, err)
		}
	}
}

func TestQueryViewCone(t *testing.T) {
	o := newSyncOrchestrator(t, nil)
	all, _ := o.QueryChunksWithinRadius(0, 0, 200)

	ahead := View{X: 0, Y: 0, Radius: 200, Facing: math.Vec2{X: 1}, FOV: gomath.Pi / 2}
	visible, err := o.QueryView(ahead)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) == 0 || len(visible) >= len(all) {
		t.Fatalf("cone kept %d of %d chunks", len(visible), len(all))
	}

	has := func(cs []*Chunk, x, y float64) bool {
		for _, c := range cs {
			if c.Bounds.Contains(x, y) {
				return true
			}
		}
		return false
	}
	if !has(visible, 128, 0) {
		t.Error("tile straight ahead culled")
	}
	if has(visible, -128, 0) {
		t.Error("tile straight behind kept")
	}
	if !has(visible, 0, 0) {
		t.Error("tile under the viewer culled")
	}
}

func TestAsyncBuilds(t *testing.T) {
	sched := tasks.New(tasks.WithCompletionsPerPoll(2))
	defer sched.Close()
	sink := newRecordingSink()
	o, err := New(Config{IndexWidth: 4, Async: true}, scenarioTable(t), hillySampler(), sched, WithSink(sink))
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := o.QueryChunksWithinRadius(0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}

	// Tiles touching the viewer are built inline; the rest wait for ticks.
	for _, c := range chunks {
		inline := c.Bounds.Contains(0, 0)
		if inline && !c.Ready() {
			t.Errorf("chunk %s under the viewer not built inline", c.Key)
		}
		if !inline && c.State != StateGenerating {
			t.Errorf("chunk %s state %v before any tick", c.Key, c.State)
		}
	}
	if st := o.Stats(); st.Generating != 24 || st.Ready != 4 {
		t.Errorf("stats before ticking = %+v", st)
	}

	tickUntil(t, o, func() bool { return len(o.ReadyChunks()) == len(chunks) })
	for _, c := range chunks {
		if sink.installed[c.Key] != 1 {
			t.Errorf("%s installed %d times", c.Key, sink.installed[c.Key])
		}
		if c.Mesh.IndexWidth != 4 {
			t.Errorf("%s index width %d", c.Key, c.Mesh.IndexWidth)
		}
	}
}

func TestPriorityByDistance(t *testing.T) {
	sched := tasks.New()
	defer sched.Close()
	o, _ := New(Config{IndexWidth: 2, Async: true}, scenarioTable(t), hillySampler(), sched)

	v := View{X: 0, Y: 0, Radius: 100}
	tests := []struct {
		cx   float64
		want int
	}{
		{0, 0},
		{20, 1},
		{50, 2},
		{90, 3},
		{400, 3},
	}
	for _, tt := range tests {
		c := &Chunk{Bounds: quadtree.Bounds{CenterX: tt.cx, Size: 16}}
		if got := o.priority(v, c); got != tt.want {
			t.Errorf("priority at %v = %d, want %d", tt.cx, got, tt.want)
		}
	}

	o.cfg.Async = false
	if got := o.priority(v, &Chunk{Bounds: quadtree.Bounds{CenterX: 90, Size: 16}}); got != 0 {
		t.Errorf("sync priority = %d", got)
	}
}

func TestFailedBuildIsRetried(t *testing.T) {
	sink := newRecordingSink()
	o := newSyncOrchestrator(t, sink)

	boom := errors.New("out of memory")
	var calls atomic.Int32
	o.build = func(s *heightfield.Sampler, b quadtree.Bounds, topo *Topology) (*Mesh, error) {
		if b.CenterX == 128 && b.CenterY == 0 && calls.Add(1) == 1 {
			return nil, boom
		}
		return BuildMesh(s, b, topo)
	}

	chunks, err := o.QueryChunksWithinRadius(0, 0, 100)
	if err != nil {
		t.Fatalf("a failed build must not fail the query: %v", err)
	}
	var failed *Chunk
	for _, c := range chunks {
		if c.Bounds.CenterX == 128 && c.Bounds.CenterY == 0 {
			failed = c
		}
	}
	if failed == nil {
		t.Fatal("chunk at (128,0) not returned")
	}
	if failed.State != StateRequested || !errors.Is(failed.Err, boom) || failed.Attempts != 1 {
		t.Fatalf("failed chunk state=%v err=%v attempts=%d", failed.State, failed.Err, failed.Attempts)
	}
	if sink.installed[failed.Key] != 0 {
		t.Error("failed chunk was installed")
	}

	if _, err := o.QueryChunksWithinRadius(0, 0, 100); err != nil {
		t.Fatal(err)
	}
	if !failed.Ready() || failed.Err != nil || failed.Attempts != 2 {
		t.Errorf("retry: state=%v err=%v attempts=%d", failed.State, failed.Err, failed.Attempts)
	}
	if sink.installed[failed.Key] != 1 {
		t.Error("retried chunk not installed")
	}
	if st := o.Stats(); st.Failures != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPanickingAsyncBuildIsReported(t *testing.T) {
	sched := tasks.New()
	defer sched.Close()
	o, _ := New(Config{IndexWidth: 2, Async: true}, scenarioTable(t), hillySampler(), sched)

	// Inline builds run on the caller and are not recovered, so only the
	// scheduled ones panic.
	o.build = func(s *heightfield.Sampler, b quadtree.Bounds, topo *Topology) (*Mesh, error) {
		if b.Contains(0, 0) {
			return BuildMesh(s, b, topo)
		}
		panic("corrupt topology")
	}

	chunks, err := o.QueryChunksWithinRadius(0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	tickUntil(t, o, sched.Idle)

	for _, c := range chunks {
		if c.Bounds.Contains(0, 0) {
			if !c.Ready() {
				t.Errorf("inline chunk %s not ready", c.Key)
			}
			continue
		}
		if c.State != StateRequested || !errors.Is(c.Err, tasks.ErrTaskPanicked) {
			t.Errorf("chunk %s state=%v err=%v", c.Key, c.State, c.Err)
		}
	}
	if st := o.Stats(); st.Failures != 24 {
		t.Errorf("stats = %+v", st)
	}
}

func TestUpdateRegenerates(t *testing.T) {
	sink := newRecordingSink()
	o := newSyncOrchestrator(t, sink)

	chunks, _ := o.QueryChunksWithinRadius(0, 0, 50)
	c := chunks[0]
	oldMesh := c.Mesh

	if err := o.Update(c, 8); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !c.Ready() || c.Mesh == oldMesh || c.Mesh.Resolution != 8 || c.Resolution != 8 {
		t.Errorf("chunk not regenerated: state=%v res=%d", c.State, c.Resolution)
	}
	if sink.evicted[c.Key] != 1 || sink.installed[c.Key] != 2 {
		t.Errorf("evicted=%d installed=%d", sink.evicted[c.Key], sink.installed[c.Key])
	}
	if o.Stats().Topologies != 2 {
		t.Errorf("expected a second topology, stats %+v", o.Stats())
	}

	if err := o.Update(c, 0); !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("resolution 0: %v", err)
	}
	if err := o.Update(&Chunk{Key: ChunkKey{Level: 9}, node: quadtree.None}, 8); !errors.Is(err, ErrChunkNotTracked) {
		t.Errorf("foreign chunk: %v", err)
	}
}

func TestUpdateDropsStaleAsyncBuild(t *testing.T) {
	sched := tasks.New()
	defer sched.Close()
	sink := newRecordingSink()
	o, _ := New(Config{IndexWidth: 2, Async: true}, scenarioTable(t), hillySampler(), sched, WithSink(sink))

	chunks, _ := o.QueryChunksWithinRadius(0, 0, 100)
	var c *Chunk
	for _, ch := range chunks {
		if ch.State == StateGenerating {
			c = ch
			break
		}
	}
	if c == nil {
		t.Fatal("no scheduled chunk")
	}

	if err := o.Update(c, 2); err != nil {
		t.Fatalf("Update: %v", err)
	}
	tickUntil(t, o, sched.Idle)

	if !c.Ready() || c.Mesh.Resolution != 2 {
		t.Errorf("stale build won: res=%d", c.Mesh.Resolution)
	}
	if sink.installed[c.Key] != 1 {
		t.Errorf("installed %d times", sink.installed[c.Key])
	}
}

func TestChunkKey(t *testing.T) {
	k := KeyFor(1, quadtree.Bounds{CenterX: -16, CenterY: 48, Size: 32})
	if k != (ChunkKey{Level: 1, X: -1, Y: 1}) {
		t.Errorf("KeyFor = %+v", k)
	}
	if k.String() != "L1/-1,1" {
		t.Errorf("String = %q", k.String())
	}
	if !k.Less(ChunkKey{Level: 1, X: 0, Y: 1}) || k.Less(ChunkKey{Level: 0, X: 5, Y: 5}) {
		t.Error("Less ordering wrong")
	}
}
