package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/core/vectorindex"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS docrag_snapshots (
	location   TEXT PRIMARY KEY,
	model      TEXT        NOT NULL,
	dimension  INTEGER     NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS docrag_chunks (
	location  TEXT    NOT NULL REFERENCES docrag_snapshots (location) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	chunk_id  TEXT    NOT NULL,
	text      TEXT    NOT NULL,
	metadata  JSONB   NOT NULL,
	embedding vector  NOT NULL,
	PRIMARY KEY (location, position),
	UNIQUE (location, chunk_id)
);
`

// SnapshotStore は vectorindex.SnapshotStore の PostgreSQL 実装
// location はスナップショットを識別するキーとして扱う
type SnapshotStore struct {
	db     *DB
	logger *slog.Logger
}

var _ vectorindex.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore は SnapshotStore を作成する
func NewSnapshotStore(db *DB, logger *slog.Logger) *SnapshotStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotStore{db: db, logger: logger}
}

// EnsureSchema は pgvector 拡張とテーブルを作成する
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Save は単一トランザクションで location の内容を置き換える
func (s *SnapshotStore) Save(ctx context.Context, location string, snapshot *vectorindex.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	err := transact(ctx, s.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM docrag_snapshots WHERE location = $1`, location); err != nil {
			return fmt.Errorf("failed to delete previous snapshot: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO docrag_snapshots (location, model, dimension) VALUES ($1, $2, $3)`,
			location, snapshot.Model, snapshot.Dimension,
		); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		batch := &pgx.Batch{}
		for i, e := range snapshot.Entries {
			metadata, err := encodeMetadata(e.Chunk.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata for chunk %s: %w", e.Chunk.ID, err)
			}
			batch.Queue(
				`INSERT INTO docrag_chunks (location, position, chunk_id, text, metadata, embedding)
				 VALUES ($1, $2, $3, $4, $5::jsonb, $6::vector)`,
				location, i, e.Chunk.ID, e.Chunk.Text, metadata, pgvector.NewVector(e.Vector).String(),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("snapshot written", "location", location, "chunks", len(snapshot.Entries))
	return nil
}

// Load は location のスナップショットを挿入順に読み込む
func (s *SnapshotStore) Load(ctx context.Context, location string) (*vectorindex.Snapshot, error) {
	snapshot := &vectorindex.Snapshot{}
	err := s.db.Pool.QueryRow(ctx,
		`SELECT model, dimension FROM docrag_snapshots WHERE location = $1`, location,
	).Scan(&snapshot.Model, &snapshot.Dimension)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", vectorindex.ErrStoreNotFound, location)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT chunk_id, text, metadata::text, embedding::text
		   FROM docrag_chunks
		  WHERE location = $1
		  ORDER BY position`, location)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chunk     document.Chunk
			metadata  string
			embedding string
			vec       pgvector.Vector
		)
		if err := rows.Scan(&chunk.ID, &chunk.Text, &metadata, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for chunk %s: %w", chunk.ID, err)
		}
		if err := vec.Scan(embedding); err != nil {
			return nil, fmt.Errorf("failed to parse embedding for chunk %s: %w", chunk.ID, err)
		}
		snapshot.Entries = append(snapshot.Entries, vectorindex.Entry{Chunk: chunk, Vector: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	s.logger.Debug("snapshot read", "location", location, "chunks", len(snapshot.Entries))
	return snapshot, nil
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
