// Package dbpool wraps database/sql and github.com/mattn/go-sqlite3 into the
// connection pool every meetvault database is opened through.
//
// A Pool owns one *sql.DB. Journal mode, foreign-key enforcement and the
// open mode are encoded in the DSN so every connection the database/sql pool
// creates carries the same settings, not just the first one.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/meetvault/internal/logger"
)

// DefaultMaxConns matches the connection cap the desktop app has always used.
const DefaultMaxConns = 5

// ErrClosed is returned by Close when the pool was already closed.
var ErrClosed = errors.New("pool already closed")

// Options configures Open. Path is required.
type Options struct {
	// Path is the SQLite database file.
	Path string

	// CreateIfMissing creates the file when absent. Without it, opening a
	// missing file fails.
	CreateIfMissing bool

	// WAL enables write-ahead journaling.
	WAL bool

	// ForeignKeys turns on foreign-key enforcement.
	ForeignKeys bool

	// ReadOnly rejects writes at the SQL layer (query_only). The file is
	// still opened read-write so WAL databases whose -shm file was removed on
	// the last close remain readable. Mutually exclusive with CreateIfMissing.
	ReadOnly bool

	// MaxConns caps open connections; zero means DefaultMaxConns.
	MaxConns int

	// Logger receives open/close messages. Nil uses the global logger.
	Logger *slog.Logger
}

// Pool is an open SQLite connection pool.
type Pool struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens the database described by opts and verifies the connection.
func Open(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("dbpool: Path is required")
	}
	if opts.ReadOnly && opts.CreateIfMissing {
		return nil, fmt.Errorf("dbpool: ReadOnly and CreateIfMissing are mutually exclusive")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Slog(logger.Global().WithPrefix("dbpool"))
	}

	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}

	db, err := sql.Open("sqlite3", DSN(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", opts.Path, err)
	}

	log.Debug("sqlite pool opened",
		"path", opts.Path,
		"max_conns", maxConns,
		"wal", opts.WAL,
		"read_only", opts.ReadOnly,
	)

	return &Pool{db: db, path: opts.Path, logger: log}, nil
}

// DSN builds the go-sqlite3 connection string for opts.
func DSN(opts Options) string {
	params := url.Values{}
	if opts.CreateIfMissing {
		params.Set("mode", "rwc")
	} else {
		params.Set("mode", "rw")
	}
	if opts.ReadOnly {
		params.Set("_query_only", "1")
	}
	if opts.WAL {
		params.Set("_journal_mode", "WAL")
	}
	if opts.ForeignKeys {
		params.Set("_foreign_keys", "1")
	} else {
		params.Set("_foreign_keys", "0")
	}
	params.Set("_busy_timeout", "5000")

	path := filepath.ToSlash(opts.Path)
	path = strings.NewReplacer("?", "%3f", "#", "%23").Replace(path)
	return "file:" + path + "?" + params.Encode()
}

// DB returns the underlying pool handle. It stays valid until Close.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Path returns the database file path.
func (p *Pool) Path() string {
	return p.path
}

// Close closes every connection in the pool. Closing twice returns ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.closed = true

	if err := p.db.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("failed to close database %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}
