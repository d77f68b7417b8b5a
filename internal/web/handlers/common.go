package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// sessionUser loads the account behind the request's session. Returns nil
// when there is no session or the account no longer exists.
func sessionUser(ctx context.Context, db store.Store) (*store.User, error) {
	session := middleware.GetSessionFromContext(ctx)
	if session == nil {
		return nil, nil
	}
	return db.GetUser(ctx, session.UserID)
}

// normalizedMean returns the L2-normalized centroid of the embeddings, or
// nil when there is nothing to average.
func normalizedMean(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	mean := make([]float64, len(embeddings[0]))
	for _, e := range embeddings {
		if len(e) != len(mean) {
			continue
		}
		for i, v := range e {
			mean[i] += float64(v)
		}
	}

	var norm float64
	for _, v := range mean {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}

	out := make([]float32, len(mean))
	for i, v := range mean {
		out[i] = float32(v / norm)
	}
	return out
}

// faceView is the JSON shape of a face record.
type faceView struct {
	ID         int64             `json:"id"`
	ImagePath  string            `json:"image_path"`
	BBox       store.BoundingBox `json:"bbox"`
	Confidence float64           `json:"confidence"`
	PersonID   *string           `json:"person_id,omitempty"`
}

func toFaceView(f *store.Face) faceView {
	v := faceView{
		ID:         f.ID,
		ImagePath:  f.ImagePath,
		BBox:       f.BBox,
		Confidence: f.Confidence,
	}
	if f.PersonID != nil {
		id := f.PersonID.String()
		v.PersonID = &id
	}
	return v
}

// personView is the JSON shape of a person record.
type personView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	IsClaimed bool            `json:"is_claimed"`
	UserID    *string         `json:"user_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	FaceCount int             `json:"face_count,omitempty"`
}

func toPersonView(p *store.Person) personView {
	v := personView{
		ID:        p.ID.String(),
		Name:      p.Name,
		IsClaimed: p.IsClaimed,
		Metadata:  p.Metadata,
	}
	if p.UserID != nil {
		id := p.UserID.String()
		v.UserID = &id
	}
	return v
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
