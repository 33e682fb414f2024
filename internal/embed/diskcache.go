package embed

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

func nowUnixNano() int64 { return time.Now().UnixNano() }

// DefaultDiskCacheMaxEntries bounds the persistent cache before the
// approximate-LRU eviction pass runs.
const DefaultDiskCacheMaxEntries = 200_000

// DiskCacheConfig configures a PersistentCache.
type DiskCacheConfig struct {
	// CachePath is the SQLite file backing the cache. Empty uses an
	// in-memory database (tests only; nothing survives process exit).
	CachePath string

	// MaxEntries is the approximate-LRU eviction cap by entry count.
	MaxEntries int

	// ModelName scopes every key; the cache is shared across models on
	// disk, but get/put always carry (modelName, contentHash).
	ModelName string
}

// CacheStats reports hit/miss telemetry for one PersistentCache instance.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// PersistentCache memoizes (modelName, contentHash) -> vector across runs,
// satisfying the Persistent Embedding Cache contract: get/put/flush plus
// approximate-LRU eviction by entry count. Grounded on the teacher's
// SQLiteBM25Index (internal/store/sqlite_bm25.go): same WAL-mode pragma
// set, same pure-Go modernc.org/sqlite driver, single-writer connection
// pool, so the cache can be read and written from concurrent orchestrator
// workers without external locking.
type PersistentCache struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	cfg    DiskCacheConfig
	closed bool

	hits   atomic.Int64
	misses atomic.Int64
	evicts atomic.Int64

	dirty int // entries written since the last flush-triggered vacuum/evict pass
}

// NewPersistentCache opens (or creates) the on-disk embedding cache.
func NewPersistentCache(cfg DiskCacheConfig) (*PersistentCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultDiskCacheMaxEntries
	}

	var dsn string
	if cfg.CachePath == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(cfg.CachePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create embedding cache dir: %w", err)
		}
		dsn = cfg.CachePath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	c := &PersistentCache{db: db, path: cfg.CachePath, cfg: cfg}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *PersistentCache) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS embedding_cache (
		model_name   TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		vector       BLOB NOT NULL,
		last_used_at INTEGER NOT NULL,
		PRIMARY KEY (model_name, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_embedding_cache_lru ON embedding_cache(last_used_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Key computes the (modelName, contentHash) cache key for a piece of text.
// The content hash is a hex SHA-256 digest of the text bytes, distinct from
// the file-level content hash (internal/chunk's generateChunkID) because a
// cache entry is keyed on exact chunk text, not the whole file.
func Key(modelName, text string) (model, contentHash string) {
	sum := sha256.Sum256([]byte(text))
	return modelName, hex.EncodeToString(sum[:])
}

// Get returns the cached vector for (modelName, contentHash), or ok=false
// on a miss. A miss is recorded as "unknown, recompute" — never an error.
func (c *PersistentCache) Get(ctx context.Context, modelName, contentHash string) (vec []float32, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, fmt.Errorf("embedding cache closed")
	}

	var blob []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT vector FROM embedding_cache WHERE model_name = ? AND content_hash = ?`,
		modelName, contentHash)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			c.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query embedding cache: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE embedding_cache SET last_used_at = ? WHERE model_name = ? AND content_hash = ?`,
		nowUnixNano(), modelName, contentHash); err != nil {
		// Touch failure never invalidates the hit; only LRU ordering degrades.
	}

	c.hits.Add(1)
	return decodeVector(blob), true, nil
}

// Put stores a vector for (modelName, contentHash), marking the row dirty
// for the next Flush-triggered eviction pass.
func (c *PersistentCache) Put(ctx context.Context, modelName, contentHash string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("embedding cache closed")
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (model_name, content_hash, vector, last_used_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(model_name, content_hash) DO UPDATE SET vector = excluded.vector, last_used_at = excluded.last_used_at`,
		modelName, contentHash, encodeVector(vec), nowUnixNano())
	if err != nil {
		return fmt.Errorf("insert embedding cache row: %w", err)
	}
	c.dirty++
	return nil
}

// Flush persists any buffered state and runs an approximate-LRU eviction
// pass if the cache is over its entry cap. SQLite already durably commits
// each Put, so Flush's real job is bounding storage growth.
func (c *PersistentCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.dirty = 0

	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&count); err != nil {
		return fmt.Errorf("count embedding cache: %w", err)
	}
	if count <= c.cfg.MaxEntries {
		return nil
	}

	evict := count - c.cfg.MaxEntries
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE rowid IN (
			SELECT rowid FROM embedding_cache ORDER BY last_used_at ASC LIMIT ?
		)`, evict)
	if err != nil {
		return fmt.Errorf("evict embedding cache rows: %w", err)
	}
	n, _ := res.RowsAffected()
	c.evicts.Add(n)
	return nil
}

// Stats returns hit/miss/eviction telemetry.
func (c *PersistentCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
	}
}

// Close releases the underlying database handle. It does not run Flush's
// eviction pass; every Put is already committed.
func (c *PersistentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
