package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/vision"
)

func newProcessHandler(env *testEnv, detector vision.Detector, embedder vision.Embedder) *ProcessHandler {
	return NewProcessHandler(env.db, env.cfg, detector, embedder, env.matcher, nil)
}

// uploadJPEG renders a small real JPEG so the crop path can decode it.
func uploadJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func processRequest(t *testing.T, path string, fileData []byte) *http.Request {
	t.Helper()
	body, contentType := multipartForm(t, map[string]string{"path": path}, "file", "upload.jpg", fileData)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos/process", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func detection(axis int, size int) vision.Detection {
	return vision.Detection{
		BBox:      store.BoundingBox{X: 10, Y: 10, Width: size, Height: size},
		Score:     0.95,
		Embedding: unitEmbedding(axis),
	}
}

func TestProcessHandler_Process_NewPerson(t *testing.T) {
	env := newTestEnv()
	handler := newProcessHandler(env, &stubDetector{detections: []vision.Detection{detection(0, 64)}}, &stubEmbedder{})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, processRequest(t, "album/party.jpg", uploadJPEG(t, 100, 100)))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp processResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.FacesDetected != 1 || resp.FacesProcessed != 1 || resp.FacesSkipped != 0 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if resp.ImagePath != "album/party.jpg" {
		t.Errorf("expected the path form value to win, got %q", resp.ImagePath)
	}
	if !resp.Faces[0].NewPerson {
		t.Error("first face ever should create a new person")
	}

	face, err := env.db.GetFace(context.Background(), resp.Faces[0].FaceID)
	if err != nil || face == nil {
		t.Fatalf("stored face not found: %v", err)
	}
	if face.PersonID == nil {
		t.Error("stored face should be linked to a person")
	}
}

func TestProcessHandler_Process_MatchesExistingPerson(t *testing.T) {
	env := newTestEnv()
	alice := env.person(t, "Alice")
	env.face(t, &alice.ID, "known.jpg", unitEmbedding(0))

	handler := newProcessHandler(env, &stubDetector{detections: []vision.Detection{detection(0, 64)}}, &stubEmbedder{})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, processRequest(t, "new.jpg", uploadJPEG(t, 100, 100)))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp processResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(resp.Faces))
	}
	got := resp.Faces[0]
	if got.NewPerson {
		t.Error("identical embedding should match the existing person")
	}
	if got.PersonID != alice.ID.String() || got.PersonName != "Alice" {
		t.Errorf("expected Alice, got %+v", got)
	}
}

func TestProcessHandler_Process_PrefersUploaderIdentity(t *testing.T) {
	env := newTestEnv()

	// Two persons with the same face: a stranger and the uploader. The
	// uploader's own identity wins the association.
	stranger := env.person(t, "Stranger")
	env.face(t, &stranger.ID, "s.jpg", unitEmbedding(0))

	user := env.user(t, "alice")
	mine := enroll(t, env, user, unitEmbedding(0))

	handler := newProcessHandler(env, &stubDetector{detections: []vision.Detection{detection(0, 64)}}, &stubEmbedder{})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, requestAs(processRequest(t, "selfie2.jpg", uploadJPEG(t, 100, 100)), user))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp processResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(resp.Faces))
	}
	if resp.Faces[0].PersonID != mine.ID.String() {
		t.Errorf("expected the uploader's person %s, got %s", mine.ID, resp.Faces[0].PersonID)
	}
}

func TestProcessHandler_Process_CropsAndReEmbeds(t *testing.T) {
	env := newTestEnv()
	alice := env.person(t, "Alice")
	env.face(t, &alice.ID, "known.jpg", unitEmbedding(0))

	// The sidecar found the face but returned no embedding; the handler
	// crops the box and embeds it separately.
	bare := vision.Detection{
		BBox:  store.BoundingBox{X: 10, Y: 10, Width: 64, Height: 64},
		Score: 0.9,
	}
	handler := newProcessHandler(env,
		&stubDetector{detections: []vision.Detection{bare}},
		&stubEmbedder{embedding: unitEmbedding(0)})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, processRequest(t, "party.jpg", uploadJPEG(t, 120, 120)))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp processResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.FacesProcessed != 1 || resp.FacesSkipped != 0 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if resp.Faces[0].PersonID != alice.ID.String() {
		t.Errorf("re-embedded face should match Alice, got %+v", resp.Faces[0])
	}

	face, err := env.db.GetFace(context.Background(), resp.Faces[0].FaceID)
	if err != nil || face == nil {
		t.Fatalf("stored face not found: %v", err)
	}
	if len(face.Embedding) != store.EmbeddingDim {
		t.Errorf("stored face should carry the re-embedded vector, got %d dims", len(face.Embedding))
	}
}

func TestProcessHandler_Process_ReEmbedFailureSkipsFace(t *testing.T) {
	env := newTestEnv()

	bare := vision.Detection{
		BBox:  store.BoundingBox{X: 10, Y: 10, Width: 64, Height: 64},
		Score: 0.9,
	}
	handler := newProcessHandler(env,
		&stubDetector{detections: []vision.Detection{bare, detection(1, 64)}},
		&stubEmbedder{err: errBoom})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, processRequest(t, "party.jpg", uploadJPEG(t, 120, 120)))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp processResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.FacesDetected != 2 || resp.FacesProcessed != 1 || resp.FacesSkipped != 1 {
		t.Errorf("one bad face must not fail the batch: %+v", resp)
	}
}

func TestProcessHandler_Process_FiltersSmallFaces(t *testing.T) {
	env := newTestEnv()
	handler := newProcessHandler(env, &stubDetector{detections: []vision.Detection{
		detection(0, 64),
		detection(1, 5), // below min face size
	}}, &stubEmbedder{})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, processRequest(t, "crowd.jpg", uploadJPEG(t, 100, 100)))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp processResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.FacesDetected != 2 || resp.FacesProcessed != 1 || resp.FacesSkipped != 1 {
		t.Errorf("unexpected counts: %+v", resp)
	}
}

func TestProcessHandler_Process_DetectorFailure(t *testing.T) {
	env := newTestEnv()
	handler := newProcessHandler(env, &stubDetector{err: errBoom}, &stubEmbedder{})

	recorder := httptest.NewRecorder()
	handler.Process(recorder, processRequest(t, "broken.jpg", uploadJPEG(t, 50, 50)))

	assertStatusCode(t, recorder, http.StatusBadGateway)
}

func TestProcessHandler_Process_MissingFile(t *testing.T) {
	env := newTestEnv()
	handler := newProcessHandler(env, &stubDetector{}, &stubEmbedder{})

	body, contentType := multipartForm(t, map[string]string{"path": "x.jpg"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos/process", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	handler.Process(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
}
