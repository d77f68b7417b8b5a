package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/claims"
	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/store/memory"
	"github.com/kozaktomas/face-vault/internal/vision"
	"github.com/kozaktomas/face-vault/internal/web/middleware"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Vision:     config.VisionConfig{MinFaceSize: 20},
		Matching:   config.MatchingConfig{High: 0.6, Medium: 0.5, Low: 0.4},
		Clustering: config.ClusteringConfig{Eps: 0.4, MinSamples: 2},
	}
}

// testEnv bundles the services handlers depend on, all backed by one
// in-memory store.
type testEnv struct {
	db      *memory.Store
	cfg     *config.Config
	matcher *matching.Service
	claims  *claims.Service
}

func newTestEnv() *testEnv {
	db := memory.New()
	cfg := testConfig()
	return &testEnv{
		db:      db,
		cfg:     cfg,
		matcher: matching.New(db, cfg.Matching),
		claims:  claims.New(db),
	}
}

func (e *testEnv) user(t *testing.T, username string) *store.User {
	t.Helper()
	user := &store.User{Username: username, PasswordHash: []byte("x")}
	if err := e.db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func (e *testEnv) person(t *testing.T, name string) *store.Person {
	t.Helper()
	person := &store.Person{Name: name}
	if err := e.db.CreatePerson(context.Background(), person); err != nil {
		t.Fatalf("CreatePerson failed: %v", err)
	}
	return person
}

func (e *testEnv) face(t *testing.T, personID *uuid.UUID, path string, emb []float32) *store.Face {
	t.Helper()
	face := &store.Face{
		ImagePath:  path,
		BBox:       store.BoundingBox{Width: 64, Height: 64},
		Confidence: 0.9,
		Embedding:  emb,
		PersonID:   personID,
	}
	if err := e.db.CreateFace(context.Background(), face); err != nil {
		t.Fatalf("CreateFace failed: %v", err)
	}
	return face
}

func unitEmbedding(axis int) []float32 {
	v := make([]float32, store.EmbeddingDim)
	v[axis] = 1
	return v
}

// requestAs attaches a session for the given user to the request context,
// the way RequireAuth does in production.
func requestAs(r *http.Request, user *store.User) *http.Request {
	session := &middleware.Session{
		ID:        "test-session",
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return r.WithContext(middleware.SetSessionInContext(r.Context(), session))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

var errBoom = errors.New("boom")

// multipartForm builds a multipart body with string fields and one file part.
func multipartForm(t *testing.T, fields map[string]string, fileField, fileName string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(fileData); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

// stubDetector returns canned detections.
type stubDetector struct {
	detections []vision.Detection
	err        error
}

func (d *stubDetector) DetectFaces(ctx context.Context, imageData []byte) ([]vision.Detection, error) {
	return d.detections, d.err
}

// stubEmbedder returns a canned embedding.
type stubEmbedder struct {
	embedding []float32
	err       error
}

func (e *stubEmbedder) EmbedFace(ctx context.Context, imageData []byte) ([]float32, error) {
	return e.embedding, e.err
}
