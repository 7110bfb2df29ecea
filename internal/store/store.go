// Package store persists the call graph in SQLite and answers caller and
// symbol queries over it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"confusage/internal/graph"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	class_name TEXT NOT NULL,
	signature  TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end   INTEGER NOT NULL,
	symbol_uri TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE INDEX IF NOT EXISTS idx_nodes_signature ON nodes(signature);
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);

CREATE TABLE IF NOT EXISTS edges (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relation  TEXT NOT NULL,
	line      INTEGER NOT NULL,
	PRIMARY KEY (source_id, target_id, relation, line)
);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id, relation);
`

const nodeColumns = `n.id, n.name, n.kind, n.class_name, n.signature, n.file_path, n.line_start, n.line_end, n.symbol_uri`

// symbolMatch selects nodes by method name, full signature or
// "ClassName.method".
const symbolMatch = `(n.name = ?1 OR n.signature = ?1 OR n.class_name || '.' || n.name = ?1)`

// Store is a SQLite-backed call-graph index.
type Store struct {
	db *sql.DB
}

// Stats counts what the index holds.
type Stats struct {
	Nodes     int `json:"nodes"`
	Phantoms  int `json:"phantoms"`
	Calls     int `json:"calls"`
	Overrides int `json:"overrides"`
}

// Open opens or creates the index at path. ":memory:" gives a private
// in-memory index.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClearEdges removes every edge. Nodes are kept.
func (s *Store) ClearEdges(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return fmt.Errorf("failed to clear edges: %w", err)
	}
	return nil
}

// BulkUpsertNodes inserts nodes, replacing rows with the same ID.
func (s *Store) BulkUpsertNodes(ctx context.Context, nodes []*graph.Node) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO nodes (id, name, kind, class_name, signature, file_path, line_start, line_end, symbol_uri)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				kind = excluded.kind,
				class_name = excluded.class_name,
				signature = excluded.signature,
				file_path = excluded.file_path,
				line_start = excluded.line_start,
				line_end = excluded.line_end,
				symbol_uri = excluded.symbol_uri`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, n := range nodes {
			if _, err := stmt.ExecContext(ctx, n.ID, n.Name, n.Kind, n.ClassName, n.Signature,
				n.FilePath, n.LineStart, n.LineEnd, n.SymbolURI); err != nil {
				return fmt.Errorf("node %s: %w", n.Signature, err)
			}
		}
		return nil
	})
}

// BulkUpsertEdges inserts edges. Duplicates are ignored.
func (s *Store) BulkUpsertEdges(ctx context.Context, edges []graph.Edge) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO edges (source_id, target_id, relation, line) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range edges {
			if _, err := stmt.ExecContext(ctx, e.SourceID, e.TargetID, e.Relation, e.Line); err != nil {
				return fmt.Errorf("edge %s -> %s: %w", e.SourceID, e.TargetID, err)
			}
		}
		return nil
	})
}

// PruneStaleFiles removes nodes declared in files outside validFiles, and
// every edge touching them. Phantom nodes have no file and are kept.
func (s *Store) PruneStaleFiles(ctx context.Context, validFiles []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := fillFileSet(ctx, tx, validFiles); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM nodes WHERE file_path != '' AND file_path NOT IN (SELECT path FROM file_set)`); err != nil {
			return err
		}
		return dropDanglingEdges(ctx, tx)
	})
}

// DropFiles removes the nodes declared in files, every phantom node, and
// the edges touching them. Upserting a file's methods after DropFiles
// leaves no trace of methods the file no longer declares.
func (s *Store) DropFiles(ctx context.Context, files []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := fillFileSet(ctx, tx, files); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM nodes WHERE kind = ? OR file_path IN (SELECT path FROM file_set)`,
			graph.KindPhantom); err != nil {
			return err
		}
		return dropDanglingEdges(ctx, tx)
	})
}

// fillFileSet loads files into the temporary file_set table.
func fillFileSet(ctx context.Context, tx *sql.Tx, files []string) error {
	if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS file_set (path TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_set`); err != nil {
		return err
	}
	for _, f := range files {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO file_set (path) VALUES (?)`, f); err != nil {
			return err
		}
	}
	return nil
}

func dropDanglingEdges(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM edges
		WHERE source_id NOT IN (SELECT id FROM nodes) OR target_id NOT IN (SELECT id FROM nodes)`)
	return err
}

// GetSymbolsInFile returns the methods declared in filePath in line order.
func (s *Store) GetSymbolsInFile(ctx context.Context, filePath string) ([]*graph.Node, error) {
	return s.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		WHERE n.file_path = ?
		ORDER BY n.line_start, n.signature`, filePath)
}

// GetSymbolLocation returns the nodes matching name, which may be a method
// name, "ClassName.method" or a full signature.
func (s *Store) GetSymbolLocation(ctx context.Context, name string) ([]*graph.Node, error) {
	return s.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM nodes n
		WHERE `+symbolMatch+`
		ORDER BY n.signature`, name)
}

// FindCallers returns the methods with a call edge into a method matching
// name.
func (s *Store) FindCallers(ctx context.Context, name string) ([]*graph.Node, error) {
	return s.queryNodes(ctx, `
		SELECT DISTINCT `+nodeColumns+` FROM nodes n
		JOIN edges e ON e.source_id = n.id AND e.relation = 'calls'
		JOIN nodes t ON t.id = e.target_id
		WHERE `+strings.ReplaceAll(symbolMatch, "n.", "t.")+`
		ORDER BY n.signature`, name)
}

// FindImpact returns every method that reaches a method matching name
// through one or more call edges.
func (s *Store) FindImpact(ctx context.Context, name string) ([]*graph.Node, error) {
	return s.queryNodes(ctx, `
		WITH RECURSIVE impacted(id) AS (
			SELECT e.source_id FROM edges e
			JOIN nodes t ON t.id = e.target_id
			WHERE e.relation = 'calls' AND `+strings.ReplaceAll(symbolMatch, "n.", "t.")+`
			UNION
			SELECT e.source_id FROM edges e
			JOIN impacted i ON e.target_id = i.id
			WHERE e.relation = 'calls'
		)
		SELECT `+nodeColumns+` FROM nodes n
		JOIN impacted i ON i.id = n.id
		ORDER BY n.signature`, name)
}

// Stats counts nodes and edges.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM nodes),
			(SELECT COUNT(*) FROM nodes WHERE kind = ?),
			(SELECT COUNT(*) FROM edges WHERE relation = ?),
			(SELECT COUNT(*) FROM edges WHERE relation = ?)`,
		graph.KindPhantom, graph.RelationCalls, graph.RelationOverrides)
	if err := row.Scan(&st.Nodes, &st.Phantoms, &st.Calls, &st.Overrides); err != nil {
		return Stats{}, fmt.Errorf("failed to count index: %w", err)
	}
	return st, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]*graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*graph.Node
	for rows.Next() {
		n := &graph.Node{}
		if err := rows.Scan(&n.ID, &n.Name, &n.Kind, &n.ClassName, &n.Signature,
			&n.FilePath, &n.LineStart, &n.LineEnd, &n.SymbolURI); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
