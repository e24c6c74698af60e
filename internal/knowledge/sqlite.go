package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/kenning/internal/errs"
	"github.com/HendryAvila/kenning/internal/persist"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DBFile is the default database file name of the SQLite backend.
const DBFile = "knowledge.db"

// SQLiteBackend stores the graph in SQLite. The tag index is the node_tags
// table, written in the same transaction as the nodes.
type SQLiteBackend struct {
	db    *sql.DB
	opts  persist.Options
	hooks dbHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type dbHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (b *SQLiteBackend) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if b.hooks.exec != nil {
		return b.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (b *SQLiteBackend) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if b.hooks.beginTx != nil {
		return b.hooks.beginTx(ctx, b.db)
	}
	return b.db.BeginTx(ctx, nil)
}

func (b *SQLiteBackend) commitHook(tx *sql.Tx) error {
	if b.hooks.commit != nil {
		return b.hooks.commit(tx)
	}
	return tx.Commit()
}

// NewSQLiteBackend opens (creating if needed) the database at path with WAL
// mode and runs migrations.
func NewSQLiteBackend(path string, opts persist.Options) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("knowledge: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("knowledge: pragma %q: %w", p, err)
		}
	}

	b := &SQLiteBackend{db: db, opts: opts}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("knowledge: migration: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS graph_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS nodes (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			summary    TEXT NOT NULL,
			detail_ref TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS node_tags (
			node_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			tag     TEXT NOT NULL,
			PRIMARY KEY (node_id, tag)
		);

		CREATE INDEX IF NOT EXISTS idx_node_tags_tag ON node_tags(tag);

		CREATE TABLE IF NOT EXISTS connections (
			from_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			to_id   TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			PRIMARY KEY (from_id, to_id)
		);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Load reads every node with its tags and connections.
func (b *SQLiteBackend) Load(ctx context.Context) (*Graph, error) {
	return persist.Retry(ctx, b.opts, "load graph", b.load)
}

func (b *SQLiteBackend) load(ctx context.Context) (*Graph, error) {
	g := &Graph{Version: GraphVersion, TagIndex: map[string][]string{}}

	gen, updated, err := b.meta(ctx, b.db)
	if err != nil {
		return nil, err
	}
	g.Generation = gen
	g.LastUpdated = updated

	rows, err := b.db.QueryContext(ctx,
		`SELECT id, type, summary, detail_ref, created_at FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load nodes: %w", err)
	}
	byID := map[string]int{}
	err = eachRow(rows, func() error {
		var n Node
		var created string
		if err := rows.Scan(&n.ID, &n.Type, &n.Summary, &n.DetailRef, &created); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return errs.Corrupt("nodes."+n.ID+".created_at", err)
		}
		n.CreatedAt = ts
		byID[n.ID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: load nodes: %w", err)
	}

	tagRows, err := b.db.QueryContext(ctx, `SELECT node_id, tag FROM node_tags ORDER BY tag, node_id`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load tags: %w", err)
	}
	err = eachRow(tagRows, func() error {
		var id, tag string
		if err := tagRows.Scan(&id, &tag); err != nil {
			return err
		}
		if i, ok := byID[id]; ok {
			g.Nodes[i].Tags = append(g.Nodes[i].Tags, tag)
		}
		g.TagIndex[tag] = append(g.TagIndex[tag], id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: load tags: %w", err)
	}

	connRows, err := b.db.QueryContext(ctx, `SELECT from_id, to_id FROM connections ORDER BY from_id, to_id`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load connections: %w", err)
	}
	err = eachRow(connRows, func() error {
		var from, to string
		if err := connRows.Scan(&from, &to); err != nil {
			return err
		}
		if i, ok := byID[from]; ok {
			g.Nodes[i].Connections = append(g.Nodes[i].Connections, to)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: load connections: %w", err)
	}
	return g, nil
}

type rowIter interface {
	Next() bool
	Err() error
	Close() error
}

// eachRow calls fn once per row and always closes rows. An iteration error
// reported by rows.Err takes precedence over the close error.
func eachRow(rows rowIter, fn func() error) error {
	for rows.Next() {
		if err := fn(); err != nil {
			_ = rows.Close()
			return err
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *SQLiteBackend) meta(ctx context.Context, q rowQueryer) (uint64, time.Time, error) {
	var genStr string
	err := q.QueryRowContext(ctx, `SELECT value FROM graph_meta WHERE key = 'generation'`).Scan(&genStr)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("knowledge: read generation: %w", err)
	}
	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, errs.Corrupt("graph_meta.generation", err)
	}

	var updated time.Time
	var updStr string
	if err := q.QueryRowContext(ctx, `SELECT value FROM graph_meta WHERE key = 'last_updated'`).Scan(&updStr); err == nil {
		updated, _ = time.Parse(time.RFC3339Nano, updStr)
	}
	return gen, updated, nil
}

// Save replaces the stored graph with g in one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, g *Graph, expectGen uint64) error {
	_, err := persist.Retry(ctx, b.opts, "save graph", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.save(ctx, g, expectGen)
	})
	return err
}

func (b *SQLiteBackend) save(ctx context.Context, g *Graph, expectGen uint64) error {
	tx, err := b.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("knowledge: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	gen, _, err := b.meta(ctx, tx)
	if err != nil {
		return err
	}
	if gen != expectGen {
		return fmt.Errorf("knowledge: graph generation %d, expected %d: %w", gen, expectGen, errs.ErrConcurrencyConflict)
	}

	for _, q := range []string{`DELETE FROM connections`, `DELETE FROM node_tags`, `DELETE FROM nodes`} {
		if _, err := b.execHook(ctx, tx, q); err != nil {
			return fmt.Errorf("knowledge: clear: %w", err)
		}
	}

	for _, n := range g.Nodes {
		if _, err := b.execHook(ctx, tx,
			`INSERT INTO nodes (id, type, summary, detail_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
			n.ID, string(n.Type), n.Summary, n.DetailRef, n.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("knowledge: insert node %s: %w", n.ID, err)
		}
		for _, t := range n.Tags {
			if _, err := b.execHook(ctx, tx,
				`INSERT INTO node_tags (node_id, tag) VALUES (?, ?)`, n.ID, t,
			); err != nil {
				return fmt.Errorf("knowledge: insert tag %s/%s: %w", n.ID, t, err)
			}
		}
	}
	// Connections after all nodes so foreign keys resolve.
	for _, n := range g.Nodes {
		for _, to := range n.Connections {
			if _, err := b.execHook(ctx, tx,
				`INSERT INTO connections (from_id, to_id) VALUES (?, ?)`, n.ID, to,
			); err != nil {
				return fmt.Errorf("knowledge: insert connection %s->%s: %w", n.ID, to, err)
			}
		}
	}

	for k, v := range map[string]string{
		"generation":   strconv.FormatUint(g.Generation, 10),
		"last_updated": g.LastUpdated.UTC().Format(time.RFC3339Nano),
		"version":      g.Version,
	} {
		if _, err := b.execHook(ctx, tx,
			`INSERT INTO graph_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v,
		); err != nil {
			return fmt.Errorf("knowledge: write meta %s: %w", k, err)
		}
	}

	if err := b.commitHook(tx); err != nil {
		return fmt.Errorf("knowledge: commit: %w", err)
	}
	return nil
}
