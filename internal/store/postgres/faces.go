package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-vault/internal/store"
)

const faceColumns = "id, image_path, bbox, confidence, embedding, person_id, created_at"

func scanFace(scanner interface{ Scan(...any) error }) (*store.Face, error) {
	var (
		face     store.Face
		bbox     pq.Int64Array
		vec      pgvector.Vector
		personID uuid.NullUUID
	)
	err := scanner.Scan(
		&face.ID, &face.ImagePath, &bbox, &face.Confidence, &vec, &personID, &face.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(bbox) == 4 {
		face.BBox = store.BoundingBox{
			X:      int(bbox[0]),
			Y:      int(bbox[1]),
			Width:  int(bbox[2]),
			Height: int(bbox[3]),
		}
	}
	face.Embedding = vec.Slice()
	if personID.Valid {
		id := personID.UUID
		face.PersonID = &id
	}
	return &face, nil
}

func scanFaces(rows *sql.Rows) ([]store.Face, error) {
	var faces []store.Face
	for rows.Next() {
		face, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, *face)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}

func bboxArray(b store.BoundingBox) pq.Int64Array {
	return pq.Int64Array{int64(b.X), int64(b.Y), int64(b.Width), int64(b.Height)}
}

func (s *Store) CreateFace(ctx context.Context, face *store.Face) error {
	if len(face.Embedding) != store.EmbeddingDim {
		return fmt.Errorf("embedding has %d components, want %d: %w",
			len(face.Embedding), store.EmbeddingDim, store.ErrInvalidInput)
	}

	var personID any
	if face.PersonID != nil {
		personID = *face.PersonID
	}

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO faces (image_path, bbox, confidence, embedding, person_id)
		VALUES ($1, $2, $3, $4::vector, $5)
		RETURNING id, created_at
	`,
		face.ImagePath,
		bboxArray(face.BBox),
		face.Confidence,
		pgvector.NewVector(face.Embedding),
		personID,
	).Scan(&face.ID, &face.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert face: %w", err)
	}
	return nil
}

func (s *Store) GetFace(ctx context.Context, id int64) (*store.Face, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+faceColumns+" FROM faces WHERE id = $1", id)

	face, err := scanFace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get face %d: %w", id, err)
	}
	return face, nil
}

func (s *Store) ListFaces(ctx context.Context, filter store.FaceFilter) ([]store.Face, error) {
	query := "SELECT " + faceColumns + " FROM faces"
	var args []any
	switch {
	case filter.Orphans:
		query += " WHERE person_id IS NULL"
	case filter.PersonID != nil:
		query += " WHERE person_id = $1"
		args = append(args, *filter.PersonID)
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

func (s *Store) CountFaces(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM faces WHERE person_id = $1", personID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}

func (s *Store) AssignFace(ctx context.Context, faceID int64, personID *uuid.UUID) error {
	var pid any
	if personID != nil {
		pid = *personID
	}
	result, err := s.q.ExecContext(ctx,
		"UPDATE faces SET person_id = $1 WHERE id = $2", pid, faceID)
	if err != nil {
		return fmt.Errorf("assign face %d: %w", faceID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign face %d: %w", faceID, err)
	}
	if affected == 0 {
		return fmt.Errorf("face %d: %w", faceID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ReassignFaces(ctx context.Context, from, to uuid.UUID) (int64, error) {
	result, err := s.q.ExecContext(ctx,
		"UPDATE faces SET person_id = $1 WHERE person_id = $2", to, from)
	if err != nil {
		return 0, fmt.Errorf("reassign faces: %w", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reassign faces: %w", err)
	}
	return moved, nil
}

func (s *Store) OrphanFaces(ctx context.Context, personID uuid.UUID) (int64, error) {
	result, err := s.q.ExecContext(ctx,
		"UPDATE faces SET person_id = NULL WHERE person_id = $1", personID)
	if err != nil {
		return 0, fmt.Errorf("orphan faces: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("orphan faces: %w", err)
	}
	return changed, nil
}

func (s *Store) DeleteFace(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, "DELETE FROM faces WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete face %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete face %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("face %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListImagePaths(ctx context.Context, personIDs []uuid.UUID) ([]string, error) {
	if len(personIDs) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(personIDs))
	for i, id := range personIDs {
		ids[i] = id.String()
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT image_path
		FROM faces
		WHERE person_id = ANY($1)
		GROUP BY image_path
		ORDER BY MAX(created_at) DESC
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query image paths: %w", err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan image path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image paths: %w", err)
	}
	return paths, nil
}

// SimilarFaces runs an approximate nearest neighbor query through the
// pgvector index, returning up to limit faces ordered by cosine distance.
func (s *Store) SimilarFaces(ctx context.Context, embedding []float32, limit int) ([]store.Face, []float64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+faceColumns+`, embedding <=> $1::vector AS distance
		FROM faces
		ORDER BY distance
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar faces: %w", err)
	}
	defer rows.Close()

	var (
		faces     []store.Face
		distances []float64
	)
	for rows.Next() {
		var (
			face     store.Face
			bbox     pq.Int64Array
			vec      pgvector.Vector
			personID uuid.NullUUID
			distance float64
		)
		err := rows.Scan(
			&face.ID, &face.ImagePath, &bbox, &face.Confidence, &vec, &personID, &face.CreatedAt,
			&distance,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("scan similar face: %w", err)
		}
		if len(bbox) == 4 {
			face.BBox = store.BoundingBox{
				X: int(bbox[0]), Y: int(bbox[1]), Width: int(bbox[2]), Height: int(bbox[3]),
			}
		}
		face.Embedding = vec.Slice()
		if personID.Valid {
			id := personID.UUID
			face.PersonID = &id
		}
		faces = append(faces, face)
		distances = append(distances, distance)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar faces: %w", err)
	}
	return faces, distances, nil
}
