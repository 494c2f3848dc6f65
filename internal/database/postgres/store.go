package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// Store persists fingerprint snapshots in the fingerprint_* tables.
type Store struct {
	pool *Pool
}

// NewStore creates a store on a migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Load implements fingerprint.Store.
func (s *Store) Load(ctx context.Context) (*fingerprint.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	snap := &fingerprint.Snapshot{Entries: make(map[string]*fingerprint.ImageRecord)}
	err = tx.QueryRowContext(ctx, "SELECT version_tag, dim, updated_at FROM fingerprint_meta WHERE id = 1").
		Scan(&snap.VersionTag, &snap.Dim, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fingerprint.ErrStoreEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("query fingerprint meta: %w", err)
	}

	if err := loadImages(ctx, tx, snap); err != nil {
		return nil, err
	}
	if err := loadFaces(ctx, tx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func loadImages(ctx context.Context, tx *sql.Tx, snap *fingerprint.Snapshot) error {
	rows, err := tx.QueryContext(ctx, "SELECT identity, name, revision, failure, scanned_at FROM fingerprint_images")
	if err != nil {
		return fmt.Errorf("query fingerprint images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := &fingerprint.ImageRecord{Embeddings: []fingerprint.FaceEmbedding{}}
		if err := rows.Scan(&rec.Identity, &rec.Name, &rec.Revision, &rec.Failure, &rec.ScannedAt); err != nil {
			return fmt.Errorf("scan fingerprint image: %w", err)
		}
		rec.ScannedAt = rec.ScannedAt.UTC()
		snap.Entries[rec.Identity] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate fingerprint images: %w", err)
	}
	return nil
}

func loadFaces(ctx context.Context, tx *sql.Tx, snap *fingerprint.Snapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT identity, embedding, bbox
		FROM fingerprint_faces
		ORDER BY identity, face_index
	`)
	if err != nil {
		return fmt.Errorf("query fingerprint faces: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var identity string
		var vec pgvector.Vector
		var bbox pq.Int64Array
		if err := rows.Scan(&identity, &vec, &bbox); err != nil {
			return fmt.Errorf("scan fingerprint face: %w", err)
		}
		rec, ok := snap.Entries[identity]
		if !ok {
			continue
		}
		emb := fingerprint.FaceEmbedding{Vector: vec.Slice()}
		if len(bbox) == 4 {
			emb.Box = fingerprint.BoundingBox{
				Left: int(bbox[0]), Top: int(bbox[1]), Right: int(bbox[2]), Bottom: int(bbox[3]),
			}
		}
		rec.Embeddings = append(rec.Embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate fingerprint faces: %w", err)
	}
	return nil
}

// Save implements fingerprint.Store. The previous snapshot is replaced in a
// single transaction, so readers see either the old or the new one.
func (s *Store) Save(ctx context.Context, snap *fingerprint.Snapshot) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fingerprint_images"); err != nil {
		return fmt.Errorf("clear fingerprint images: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fingerprint_meta (id, version_tag, dim, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET version_tag = EXCLUDED.version_tag, dim = EXCLUDED.dim, updated_at = EXCLUDED.updated_at
	`, snap.VersionTag, snap.Dim, snap.UpdatedAt); err != nil {
		return fmt.Errorf("upsert fingerprint meta: %w", err)
	}

	imageStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fingerprint_images (identity, name, revision, failure, scanned_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare image insert: %w", err)
	}
	defer imageStmt.Close()

	faceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fingerprint_faces (identity, face_index, embedding, bbox)
		VALUES ($1, $2, $3::vector, $4)
	`)
	if err != nil {
		return fmt.Errorf("prepare face insert: %w", err)
	}
	defer faceStmt.Close()

	for _, rec := range snap.Records() {
		if _, err := imageStmt.ExecContext(ctx, rec.Identity, rec.Name, rec.Revision, rec.Failure, rec.ScannedAt); err != nil {
			return fmt.Errorf("insert image %s: %w", rec.Identity, err)
		}
		for i, emb := range rec.Embeddings {
			bbox := pq.Array([]int64{
				int64(emb.Box.Left), int64(emb.Box.Top), int64(emb.Box.Right), int64(emb.Box.Bottom),
			})
			if _, err := faceStmt.ExecContext(ctx, rec.Identity, i, pgvector.NewVector(emb.Vector), bbox); err != nil {
				return fmt.Errorf("insert face %s/%d: %w", rec.Identity, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
