package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDim is the dimensionality of face embeddings (ArcFace).
const EmbeddingDim = 512

// BoundingBox describes a detected face region in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the box has positive dimensions.
func (b BoundingBox) Valid() bool {
	return b.Width > 0 && b.Height > 0
}

// Face is a single detected face instance. Immutable after creation except
// for its PersonID, which matching, clustering and merges reassign.
type Face struct {
	ID         int64
	ImagePath  string
	BBox       BoundingBox
	Confidence float64
	Embedding  []float32 // L2-normalized, EmbeddingDim components
	PersonID   *uuid.UUID
	CreatedAt  time.Time
}

// Person is a cluster identity representing one individual.
// IsClaimed is true if and only if UserID is set.
type Person struct {
	ID        uuid.UUID
	Name      string
	IsClaimed bool
	UserID    *uuid.UUID
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an authenticated account. PersonID is the primary person pointer,
// a convenience cache that must stay consistent with the Person.UserID
// back-link. A user may own further claimed persons beyond the primary one.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash []byte
	PersonID     *uuid.UUID
	CreatedAt    time.Time
}
