package config

import (
	gomath "math"

	"github.com/Faultbox/midgard-terrain/internal/engine/heightfield"
	"github.com/Faultbox/midgard-terrain/internal/engine/lod"
	"github.com/Faultbox/midgard-terrain/internal/engine/tasks"
	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
)

// LODTable builds the level table from LOD.Levels.
func (c *Config) LODTable() (*lod.Table, error) {
	return lod.NewTable(c.LOD.Levels)
}

// Sampler builds the heightfield sampler.
func (c *Config) Sampler() *heightfield.Sampler {
	return heightfield.New(c.Terrain.Seed, c.Terrain.Layers, c.Terrain.Cellular)
}

// SchedulerOptions returns the task scheduler settings.
func (c *Config) SchedulerOptions() []tasks.Option {
	return []tasks.Option{
		tasks.WithWorkers(c.Streaming.Workers),
		tasks.WithCompletionsPerPoll(c.Streaming.CompletionsPerFrame),
	}
}

// OrchestratorConfig returns the chunk orchestrator settings.
func (c *Config) OrchestratorConfig() terrain.Config {
	return terrain.Config{
		IndexWidth: c.LOD.IndexWidth,
		MaxIndex:   c.LOD.MaxIndex,
		Async:      c.Streaming.Async,
	}
}

// FOVRadians returns the streaming field of view in radians.
func (c *Config) FOVRadians() float64 {
	return c.Streaming.FOV * gomath.Pi / 180
}
