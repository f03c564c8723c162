package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagSeed       = flag.Int64("seed", 0, "Terrain seed (0 keeps the configured seed)")
	flagRadius     = flag.Float64("radius", 0, "View radius in world units")
	flagSync       = flag.Bool("sync", false, "Build every chunk inline instead of on workers")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
	flagListen     = flag.String("listen", "", "Chunk stream listen address")
	flagOut        = flag.String("out", "", "Bake output directory")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagSeed != 0 {
		cfg.Terrain.Seed = *flagSeed
	}
	if *flagRadius > 0 {
		cfg.Streaming.ViewRadius = *flagRadius
		cfg.Bake.Radius = *flagRadius
	}
	if *flagSync {
		cfg.Streaming.Async = false
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
	if *flagListen != "" {
		cfg.Server.Listen = *flagListen
	}
	if *flagOut != "" {
		cfg.Bake.OutputDir = *flagOut
	}
}
