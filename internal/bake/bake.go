// Package bake exports ready terrain chunks to disk.
//
// Each chunk is written as a zstd-compressed install packet and recorded in
// an SQLite index keyed by level and grid position. A Baker is a terrain
// Sink, so an orchestrator driven over a region writes every chunk it
// installs.
package bake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/internal/logger"
	"github.com/Faultbox/midgard-terrain/internal/network/packets"
)

// FileExt is the extension of baked chunk files.
const FileExt = ".chunk.zst"

// ErrNotBaked is returned by Lookup for a chunk with no index row.
var ErrNotBaked = errors.New("bake: chunk not baked")

// Record is one row of the chunk index.
type Record struct {
	Key        terrain.ChunkKey
	CenterX    float64
	CenterY    float64
	Size       float64
	Resolution int
	Vertices   int
	Indices    int
	Ranges     int
	Path       string
	Seed       int64
	BakedAt    time.Time
}

// Options configures a Baker.
type Options struct {
	OutputDir string
	IndexPath string
	// Level is a zstd encoder level, 1 (fastest) to 4 (best).
	Level int
	Seed  int64
}

// Baker writes chunk files and their index rows.
type Baker struct {
	dir  string
	seed int64
	db   *sql.DB
	enc  *zstd.Encoder
	log  *zap.Logger

	written int
	err     error
}

// Open creates the output directory and opens or creates the index.
func Open(opts Options) (*Baker, error) {
	if opts.OutputDir == "" || opts.IndexPath == "" {
		return nil, errors.New("bake: output dir and index path are required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.IndexPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index dir: %w", err)
	}

	level := zstd.EncoderLevel(opts.Level)
	if level < zstd.SpeedFastest || level > zstd.SpeedBestCompression {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", opts.IndexPath)
	if err != nil {
		enc.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		enc.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		enc.Close()
		return nil, err
	}

	return &Baker{
		dir:  opts.OutputDir,
		seed: opts.Seed,
		db:   db,
		enc:  enc,
		log:  logger.Named("bake"),
	}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		level INTEGER NOT NULL,
		key_x INTEGER NOT NULL,
		key_y INTEGER NOT NULL,
		center_x REAL NOT NULL,
		center_y REAL NOT NULL,
		size REAL NOT NULL,
		resolution INTEGER NOT NULL,
		vertices INTEGER NOT NULL,
		indices INTEGER NOT NULL,
		ranges INTEGER NOT NULL,
		path TEXT NOT NULL,
		seed INTEGER NOT NULL,
		baked_at TEXT NOT NULL,
		PRIMARY KEY (level, key_x, key_y)
	);`)
	return err
}

// Close closes the index. Returns the first Install failure, if any.
func (b *Baker) Close() error {
	b.enc.Close()
	if err := b.db.Close(); err != nil {
		return err
	}
	return b.err
}

// Written returns the number of chunks written.
func (b *Baker) Written() int {
	return b.written
}

// Err returns the first Install failure.
func (b *Baker) Err() error {
	return b.err
}

// Install writes a ready chunk. Failures are logged and kept for Err.
func (b *Baker) Install(c *terrain.Chunk) {
	if _, err := b.WriteChunk(c); err != nil {
		b.log.Error("baking chunk", zap.Stringer("chunk", c.Key), zap.Error(err))
		if b.err == nil {
			b.err = err
		}
	}
}

// Evict keeps baked files; nothing to do.
func (b *Baker) Evict(*terrain.Chunk) {}

// FileName returns the file name of a chunk, e.g. L1_-2_3.chunk.zst.
func FileName(k terrain.ChunkKey) string {
	return fmt.Sprintf("L%d_%d_%d%s", k.Level, k.X, k.Y, FileExt)
}

// WriteChunk writes c to the output directory and upserts its index row.
func (b *Baker) WriteChunk(c *terrain.Chunk) (string, error) {
	pkt, err := packets.NewChunkInstall(c)
	if err != nil {
		return "", err
	}
	path := filepath.Join(b.dir, FileName(c.Key))

	data := b.enc.EncodeAll(pkt.Encode(), nil)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("renaming %s: %w", tmp, err)
	}

	_, err = b.db.Exec(`INSERT INTO chunks
		(level, key_x, key_y, center_x, center_y, size, resolution, vertices, indices, ranges, path, seed, baked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(level, key_x, key_y) DO UPDATE SET
			center_x=excluded.center_x, center_y=excluded.center_y, size=excluded.size,
			resolution=excluded.resolution, vertices=excluded.vertices, indices=excluded.indices,
			ranges=excluded.ranges, path=excluded.path, seed=excluded.seed, baked_at=excluded.baked_at`,
		c.Key.Level, c.Key.X, c.Key.Y,
		c.Bounds.CenterX, c.Bounds.CenterY, c.Bounds.Size,
		c.Mesh.Resolution, c.Mesh.VertexCount, c.Mesh.IndexCount, len(c.Mesh.Ranges),
		path, b.seed, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("indexing %s: %w", c.Key, err)
	}

	b.written++
	b.log.Debug("baked chunk", zap.Stringer("chunk", c.Key), zap.Int("bytes", len(data)))
	return path, nil
}

// Lookup returns the index row of a chunk.
func (b *Baker) Lookup(ctx context.Context, k terrain.ChunkKey) (Record, error) {
	row := b.db.QueryRowContext(ctx, `SELECT level, key_x, key_y, center_x, center_y, size,
		resolution, vertices, indices, ranges, path, seed, baked_at
		FROM chunks WHERE level=? AND key_x=? AND key_y=?`, k.Level, k.X, k.Y)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotBaked, k)
	}
	return r, err
}

// Records returns every index row ordered by level, row and column.
func (b *Baker) Records(ctx context.Context) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT level, key_x, key_y, center_x, center_y, size,
		resolution, vertices, indices, ranges, path, seed, baked_at
		FROM chunks ORDER BY level, key_y, key_x`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r       Record
		bakedAt string
	)
	err := s.Scan(&r.Key.Level, &r.Key.X, &r.Key.Y, &r.CenterX, &r.CenterY, &r.Size,
		&r.Resolution, &r.Vertices, &r.Indices, &r.Ranges, &r.Path, &r.Seed, &bakedAt)
	if err != nil {
		return Record{}, err
	}
	r.BakedAt, err = time.Parse(time.RFC3339Nano, bakedAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing baked_at %q: %w", bakedAt, err)
	}
	return r, nil
}

// ReadChunk loads a baked chunk file as a ready chunk.
func ReadChunk(path string) (*terrain.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	pkt, err := packets.DecodeChunkInstall(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	m, err := pkt.Mesh()
	if err != nil {
		return nil, fmt.Errorf("rebuilding mesh from %s: %w", path, err)
	}

	key := pkt.Key.TerrainKey()
	return &terrain.Chunk{
		Key:        key,
		Level:      key.Level,
		Bounds:     pkt.Bounds(),
		Resolution: m.Resolution,
		State:      terrain.StateReady,
		Mesh:       m,
	}, nil
}

// Region drives orch over a square of half-extent radius around (x, y)
// until every wanted chunk is ready, so each one passes through Install.
func Region(ctx context.Context, orch *terrain.Orchestrator, x, y, radius float64) error {
	wanted, err := orch.QueryChunksWithinRadius(x, y, radius)
	if err != nil {
		return err
	}
	for {
		orch.Tick()
		ready := 0
		for _, c := range wanted {
			if c.Ready() {
				ready++
			}
		}
		if ready == len(wanted) {
			return nil
		}
		// Failed builds go back to Requested; querying again retries them.
		if _, err := orch.QueryChunksWithinRadius(x, y, radius); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
