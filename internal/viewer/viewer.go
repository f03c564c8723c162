// Package viewer implements the interactive terrain viewer loop.
//
// The viewer streams chunks around an orbit camera's focus point. In local
// mode it owns an orchestrator and builds meshes itself; in remote mode it
// mirrors the chunk set of a stream server.
package viewer

import (
	"fmt"
	"time"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/config"
	"github.com/Faultbox/midgard-terrain/internal/engine/camera"
	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/input"
	"github.com/Faultbox/midgard-terrain/internal/engine/renderer"
	"github.com/Faultbox/midgard-terrain/internal/engine/scene"
	"github.com/Faultbox/midgard-terrain/internal/engine/tasks"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/engine/window"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/network"
)

const windowTitle = "Midgard Terrain"

// Viewer is the main viewer instance.
type Viewer struct {
	cfg     *config.Config
	running bool
	log     *zap.Logger

	window   *window.Window
	renderer *renderer.Renderer
	input    *input.Input
	camera   *camera.OrbitCamera
	chunks   *scene.ChunkRenderer
	lighting scene.Lighting

	// Local mode
	sampler *heightfield.Sampler
	sched   *tasks.Scheduler
	orch    *terrain.Orchestrator

	// Remote mode
	client     *network.Client
	mirror     *network.Mirror
	lastSent   time.Time
	lastViewed terrain.View
}

// New creates a viewer. An empty remoteURL runs the orchestrator locally.
func New(cfg *config.Config, remoteURL string) (*Viewer, error) {
	v := &Viewer{
		cfg:      cfg,
		log:      logger.Named("viewer"),
		camera:   camera.NewOrbitCamera(),
		input:    input.New(),
		lighting: scene.DefaultLighting(),
	}
	v.log.Info("initializing viewer",
		zap.Int("width", cfg.Graphics.Width),
		zap.Int("height", cfg.Graphics.Height),
		zap.String("remote", remoteURL),
	)

	// Window first: it creates the OpenGL context
	var err error
	v.window, err = window.New(window.Config{
		Title:      windowTitle,
		Width:      cfg.Graphics.Width,
		Height:     cfg.Graphics.Height,
		Fullscreen: cfg.Graphics.Fullscreen,
		VSync:      cfg.Graphics.VSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	fbWidth, fbHeight := v.window.DrawableSize()
	v.renderer, err = renderer.New(renderer.Config{
		Width:      fbWidth,
		Height:     fbHeight,
		ClearColor: v.lighting.FogColor,
	})
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	v.chunks, err = scene.NewChunkRenderer()
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create chunk renderer: %w", err)
	}
	v.chunks.Wireframe = cfg.Graphics.Wireframe

	if remoteURL != "" {
		err = v.connect(remoteURL)
	} else {
		err = v.startLocal()
	}
	if err != nil {
		v.Close()
		return nil, err
	}

	v.lighting.FogFar = float32(cfg.Streaming.ViewRadius)
	v.lighting.FogNear = v.lighting.FogFar * 0.6

	v.log.Info("viewer initialized")
	return v, nil
}

func (v *Viewer) startLocal() error {
	table, err := v.cfg.LODTable()
	if err != nil {
		return err
	}
	v.sampler = v.cfg.Sampler()
	if v.cfg.Streaming.Async {
		v.sched = tasks.New(v.cfg.SchedulerOptions()...)
	}
	v.orch, err = terrain.New(v.cfg.OrchestratorConfig(), table, v.sampler, v.sched, terrain.WithSink(v.chunks))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return nil
}

func (v *Viewer) connect(url string) error {
	v.client = network.New()
	v.mirror = network.NewMirror(v.chunks)
	v.mirror.Register(v.client)
	return v.client.Connect(url)
}

// Run starts the main loop.
func (v *Viewer) Run() error {
	v.running = true

	lastTime := time.Now()
	frameCount := 0
	fpsTimer := time.Now()

	var frameBudget time.Duration
	if v.cfg.Graphics.FPSLimit > 0 {
		frameBudget = time.Second / time.Duration(v.cfg.Graphics.FPSLimit)
	}

	v.log.Info("starting viewer loop")

	for v.running {
		now := time.Now()
		dt := float32(now.Sub(lastTime).Seconds())
		lastTime = now

		// 1. Process input
		if v.input.Update() {
			v.running = false
			break
		}
		v.handleEvents(dt)

		// 2. Stream chunks
		if err := v.update(); err != nil {
			return fmt.Errorf("update error: %w", err)
		}

		// 3. Render
		v.render()

		// 4. Present
		v.window.SwapBuffers()

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			v.updateTitle(frameCount)
			frameCount = 0
			fpsTimer = time.Now()
		}

		if frameBudget > 0 {
			if spare := frameBudget - time.Since(now); spare > 0 {
				time.Sleep(spare)
			}
		}
	}

	return nil
}

func (v *Viewer) handleEvents(dt float32) {
	for _, event := range v.input.Events() {
		switch event.Type {
		case input.EventWindowResize:
			v.renderer.Resize(v.window.DrawableSize())
		case input.EventMouseMove:
			if v.input.IsButtonHeld(sdl.BUTTON_LEFT) {
				v.camera.HandleDrag(event.DeltaX, event.DeltaY)
			}
		case input.EventMouseWheel:
			v.camera.HandleZoom(event.DeltaY)
		case input.EventKeyDown:
			switch event.Key {
			case sdl.SCANCODE_ESCAPE:
				v.running = false
			case sdl.SCANCODE_F1:
				v.chunks.Wireframe = !v.chunks.Wireframe
			case sdl.SCANCODE_F2:
				v.lighting.TintLevels = !v.lighting.TintLevels
			case sdl.SCANCODE_F3:
				v.lighting.FogEnabled = !v.lighting.FogEnabled
			}
		}
	}

	forward := v.input.Axis(sdl.SCANCODE_S, sdl.SCANCODE_W)
	right := v.input.Axis(sdl.SCANCODE_A, sdl.SCANCODE_D)
	if forward != 0 || right != 0 {
		v.camera.HandleMovement(forward, right, dt)
	}
}

// view returns the streaming view for the current camera.
func (v *Viewer) view() terrain.View {
	x, y := v.camera.Ground()
	view := terrain.View{X: x, Y: y, Radius: v.cfg.Streaming.ViewRadius}
	if fov := v.cfg.FOVRadians(); fov > 0 {
		view.Facing = v.camera.Facing()
		view.FOV = fov
	}
	return view
}

func (v *Viewer) update() error {
	view := v.view()

	if v.orch != nil {
		if _, err := v.orch.QueryView(view); err != nil {
			return err
		}
		v.orch.Tick()
		v.camera.FollowGround(float32(v.sampler.Sample(view.X, view.Y)))
		return nil
	}

	if _, err := v.client.Process(); err != nil {
		return err
	}
	if view != v.lastViewed && time.Since(v.lastSent) >= v.cfg.Server.FrameInterval {
		if err := v.client.SendView(view.X, view.Y, view.Radius, view.Facing.X, view.Facing.Y, float32(view.FOV)); err != nil {
			return err
		}
		v.lastViewed = view
		v.lastSent = time.Now()
	}
	if h, ok := v.mirror.HeightAt(view.X, view.Y); ok {
		v.camera.FollowGround(h)
	}
	return nil
}

func (v *Viewer) render() {
	v.renderer.Begin()
	vp := v.camera.ViewProjection(v.window.Aspect())
	v.chunks.Render(vp, v.camera.Position(), v.lighting)
	v.renderer.End()
}

func (v *Viewer) updateTitle(fps int) {
	chunks, draws, tris := v.chunks.Stats()
	x, y := v.camera.Ground()
	title := fmt.Sprintf("%s | %d fps | %d chunks, %d draws, %d tris | %.0f,%.0f",
		windowTitle, fps, chunks, draws, tris, x, y)
	if v.orch != nil {
		st := v.orch.Stats()
		title += fmt.Sprintf(" | %d generating", st.Generating)
		v.log.Debug("frame stats",
			zap.Int("fps", fps),
			zap.Int("wanted", st.Wanted),
			zap.Int("ready", st.Ready),
			zap.Uint64("builds", st.Builds),
			zap.Uint64("failures", st.Failures),
		)
	}
	v.window.SetTitle(title)
}

// Focus moves the camera focus to a terrain position.
func (v *Viewer) Focus(x, y float64) {
	v.camera.SetCenter(float32(x), 0, float32(y))
	v.lastViewed = terrain.View{}
}

// Close cleans up viewer resources.
func (v *Viewer) Close() {
	v.log.Info("closing viewer")

	if v.orch != nil {
		v.orch.Close()
	}
	if v.sched != nil {
		v.sched.Close()
	}
	if v.client != nil {
		v.client.Disconnect()
	}
	if v.chunks != nil {
		v.chunks.Destroy()
	}
	if v.renderer != nil {
		v.renderer.Close()
	}
	if v.window != nil {
		v.window.Close()
	}
}
