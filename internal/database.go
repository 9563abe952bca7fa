package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuannm99/novasql/internal/btree"
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/schema"
	"github.com/tuannm99/novasql/internal/storage"
)

var ErrDatabaseClosed = errors.New("database is closed")

// Database wires a single B+-tree index file together: a StorageManager, a
// FileManager handing out page ids, a buffer pool pinning pages through
// them, and the Tree itself. It is the thing cmd/bptreedemo opens.
type Database struct {
	mu     sync.Mutex
	pool   *bufferpool.Pool
	fm     *storage.FileManager
	tree   *btree.Tree
	closed bool
}

// OpenDatabase opens (creating if absent) the index file described by fs,
// formatting a fresh meta page + empty root the first time CountPages
// reports zero pages.
func OpenDatabase(fs storage.LocalFileSet, bufferPoolSize int, sch schema.KeySchema, unique bool) (*Database, error) {
	sm := storage.NewStorageManager()

	n, err := sm.CountPages(fs)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	fm, err := storage.NewFileManager(sm, fs)
	if err != nil {
		return nil, fmt.Errorf("new file manager: %w", err)
	}

	pool := bufferpool.NewPool(sm, fs, fm, bufferPoolSize)

	var tree *btree.Tree
	if n == 0 {
		slog.Info("database: formatting new index", "dir", fs.Dir, "base", fs.Base)
		tree, err = btree.Create(pool, fm, sch, unique)
		if err != nil {
			return nil, fmt.Errorf("create tree: %w", err)
		}
	} else {
		tree = btree.Open(pool, fm, sch, unique)
	}

	return &Database{pool: pool, fm: fm, tree: tree}, nil
}

// Tree returns the underlying B+-tree for insert/delete/scan operations.
func (db *Database) Tree() *btree.Tree {
	return db.tree
}

// Close flushes every dirty page back to disk.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true
	return db.pool.FlushAll()
}
