// Package config handles terrain configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
)

// ErrInvalidConfig reports a config that parsed but cannot be used.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds all terrain settings.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Terrain   TerrainConfig   `yaml:"terrain"`
	LOD       LODConfig       `yaml:"lod"`
	Streaming StreamingConfig `yaml:"streaming"`
	Graphics  GraphicsConfig  `yaml:"graphics"`
	Bake      BakeConfig      `yaml:"bake"`
	Server    ServerConfig    `yaml:"server"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// TerrainConfig holds the heightfield construction parameters.
type TerrainConfig struct {
	Seed     int64                     `yaml:"seed"`
	Layers   []heightfield.Layer       `yaml:"layers"`
	Cellular heightfield.CellularLayer `yaml:"cellular"`
}

// LODConfig holds the detail levels, listed finest first.
type LODConfig struct {
	Levels     []lod.Level `yaml:"levels"`
	IndexWidth int         `yaml:"index_width"` // 2 or 4 bytes
	MaxIndex   uint32      `yaml:"max_index"`   // 0 = full index range
}

// StreamingConfig holds chunk query and build scheduling settings.
type StreamingConfig struct {
	ViewRadius          float64 `yaml:"view_radius"`
	FOV                 float64 `yaml:"fov"` // degrees, 0 disables culling
	Async               bool    `yaml:"async"`
	Workers             int     `yaml:"workers"`
	CompletionsPerFrame int     `yaml:"completions_per_frame"`
}

// GraphicsConfig holds viewer display settings.
type GraphicsConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
	FPSLimit   int  `yaml:"fps_limit"`
	Wireframe  bool `yaml:"wireframe"`
}

// BakeConfig holds offline chunk export settings.
type BakeConfig struct {
	OutputDir        string  `yaml:"output_dir"`
	IndexDB          string  `yaml:"index_db"`
	CompressionLevel int     `yaml:"compression_level"` // 1 (fastest) to 4 (best)
	Radius           float64 `yaml:"radius"`
}

// ServerConfig holds chunk stream server settings.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	FrameInterval  time.Duration `yaml:"frame_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
		Terrain: TerrainConfig{
			Seed:   1337,
			Layers: heightfield.DefaultLayers(),
			Cellular: heightfield.CellularLayer{
				Frequency: 1.0 / 96,
				Amplitude: 10,
				Jitter:    0.9,
			},
		},
		LOD: LODConfig{
			Levels: []lod.Level{
				{TileSize: 32, MaxViewDistance: 64, Resolution: 32},
				{TileSize: 64, MaxViewDistance: 128, Resolution: 32},
				{TileSize: 128, MaxViewDistance: 256, Resolution: 32},
				{TileSize: 256, MaxViewDistance: 512, Resolution: 32},
			},
			IndexWidth: 2,
		},
		Streaming: StreamingConfig{
			ViewRadius:          512,
			FOV:                 0,
			Async:               true,
			Workers:             4,
			CompletionsPerFrame: 1,
		},
		Graphics: GraphicsConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
			FPSLimit:   0,
		},
		Bake: BakeConfig{
			OutputDir:        "baked",
			IndexDB:          "baked/chunks.db",
			CompressionLevel: 2,
			Radius:           256,
		},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8740",
			FrameInterval: 50 * time.Millisecond,
			WriteTimeout:  5 * time.Second,
		},
	}
}

// Validate checks the invariants decoding alone cannot.
func (c *Config) Validate() error {
	table, err := c.LODTable()
	if err != nil {
		return fmt.Errorf("%w: lod: %w", ErrInvalidConfig, err)
	}
	if !table.Halving() {
		return fmt.Errorf("%w: lod: each level's tile size must be half the next coarser one", ErrInvalidConfig)
	}
	if c.LOD.IndexWidth != 2 && c.LOD.IndexWidth != 4 {
		return fmt.Errorf("%w: lod.index_width must be 2 or 4, got %d", ErrInvalidConfig, c.LOD.IndexWidth)
	}
	if c.LOD.MaxIndex != 0 && c.LOD.MaxIndex < 5 {
		return fmt.Errorf("%w: lod.max_index %d cannot hold a quad", ErrInvalidConfig, c.LOD.MaxIndex)
	}

	for i, l := range c.Terrain.Layers {
		if l.Frequency <= 0 || l.Amplitude < 0 {
			return fmt.Errorf("%w: terrain.layers[%d]: %+v", ErrInvalidConfig, i, l)
		}
	}

	s := c.Streaming
	if s.ViewRadius <= 0 {
		return fmt.Errorf("%w: streaming.view_radius must be positive", ErrInvalidConfig)
	}
	if s.FOV < 0 || s.FOV >= 360 {
		return fmt.Errorf("%w: streaming.fov must be in [0, 360)", ErrInvalidConfig)
	}
	if s.Workers < 1 || s.Workers > 4 {
		return fmt.Errorf("%w: streaming.workers must be 1..4, got %d", ErrInvalidConfig, s.Workers)
	}
	if s.CompletionsPerFrame < 1 {
		return fmt.Errorf("%w: streaming.completions_per_frame must be at least 1", ErrInvalidConfig)
	}

	if c.Graphics.Width <= 0 || c.Graphics.Height <= 0 {
		return fmt.Errorf("%w: graphics size %dx%d", ErrInvalidConfig, c.Graphics.Width, c.Graphics.Height)
	}
	if c.Bake.CompressionLevel < 1 || c.Bake.CompressionLevel > 4 {
		return fmt.Errorf("%w: bake.compression_level must be 1..4", ErrInvalidConfig)
	}
	if c.Server.FrameInterval <= 0 {
		return fmt.Errorf("%w: server.frame_interval must be positive", ErrInvalidConfig)
	}
	return nil
}
