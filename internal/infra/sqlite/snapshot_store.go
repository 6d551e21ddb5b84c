// Package sqlite はベクトルインデックスのスナップショットを単一の SQLite ファイルに保存する
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	pgvector "github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

// FileName は保存先ディレクトリ内のデータベースファイル名
const FileName = "index.db"

const schema = `
CREATE TABLE snapshot (
	model     TEXT    NOT NULL,
	dimension INTEGER NOT NULL
);
CREATE TABLE chunks (
	position  INTEGER PRIMARY KEY,
	id        TEXT    NOT NULL UNIQUE,
	text      TEXT    NOT NULL,
	metadata  TEXT    NOT NULL,
	embedding TEXT    NOT NULL
);
`

// SnapshotStore は vectorindex.SnapshotStore の SQLite 実装
// location はディレクトリで、その中の FileName に書き込む
type SnapshotStore struct {
	logger *slog.Logger
}

var _ vectorindex.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore は SnapshotStore を作成する
func NewSnapshotStore(logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{logger: logger}
}

// Save は一時ファイルへ書き込んでから rename で置き換える
func (s *SnapshotStore) Save(ctx context.Context, location string, snapshot *vectorindex.Snapshot) (err error) {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(location, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(location, ".index-*.db.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
			_ = os.Remove(tmpPath + "-journal")
		}
	}()

	if err := writeSnapshot(ctx, tmpPath, snapshot); err != nil {
		return err
	}
	if err := syncFile(tmpPath); err != nil {
		return err
	}

	target := filepath.Join(location, FileName)
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("replacing %s: %w", target, err)
	}

	s.logger.Debug("snapshot written", "path", target, "chunks", len(snapshot.Entries))
	return nil
}

// Load は location のスナップショットを挿入順に読み込む
func (s *SnapshotStore) Load(ctx context.Context, location string) (*vectorindex.Snapshot, error) {
	path := filepath.Join(location, FileName)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", vectorindex.ErrStoreNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", vectorindex.ErrStoreNotFound, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	snapshot := &vectorindex.Snapshot{}
	row := db.QueryRowContext(ctx, `SELECT model, dimension FROM snapshot LIMIT 1`)
	if err := row.Scan(&snapshot.Model, &snapshot.Dimension); err != nil {
		return nil, fmt.Errorf("%w: reading snapshot header: %v", vectorindex.ErrStoreNotFound, err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, text, metadata, embedding FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chunk    document.Chunk
			metadata string
			vec      pgvector.Vector
		)
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metadata, &vec); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for chunk %s: %w", chunk.ID, err)
		}
		snapshot.Entries = append(snapshot.Entries, vectorindex.Entry{Chunk: chunk, Vector: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	s.logger.Debug("snapshot read", "path", path, "chunks", len(snapshot.Entries))
	return snapshot, nil
}

func writeSnapshot(ctx context.Context, path string, snapshot *vectorindex.Snapshot) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot (model, dimension) VALUES (?, ?)`,
		snapshot.Model, snapshot.Dimension,
	); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, id, text, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snapshot.Entries {
		metadata, err := encodeMetadata(e.Chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for chunk %s: %w", e.Chunk.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, e.Chunk.ID, e.Chunk.Text, metadata, pgvector.NewVector(e.Vector)); err != nil {
			return fmt.Errorf("writing chunk %q: %w", e.Chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s for sync: %w", path, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return nil
}
