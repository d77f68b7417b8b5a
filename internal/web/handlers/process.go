package handlers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/vision"
)

const maxUploadBytes = 32 << 20 // 32 MB

// ProcessHandler runs the photo ingestion pipeline: detect faces, filter,
// store embeddings and associate each face with a person.
type ProcessHandler struct {
	db       store.Store
	cfg      *config.Config
	detector vision.Detector
	embedder vision.Embedder
	matcher  *matching.Service
	index    *store.FaceIndex
}

// NewProcessHandler creates a new process handler. index may be nil when
// the HNSW index is disabled.
func NewProcessHandler(db store.Store, cfg *config.Config, detector vision.Detector, embedder vision.Embedder, matcher *matching.Service, index *store.FaceIndex) *ProcessHandler {
	return &ProcessHandler{
		db:       db,
		cfg:      cfg,
		detector: detector,
		embedder: embedder,
		matcher:  matcher,
		index:    index,
	}
}

// processedFace describes one face the pipeline stored.
type processedFace struct {
	FaceID     int64             `json:"face_id"`
	BBox       store.BoundingBox `json:"bbox"`
	Confidence float64           `json:"confidence"`
	PersonID   string            `json:"person_id"`
	PersonName string            `json:"person_name,omitempty"`
	NewPerson  bool              `json:"new_person"`
}

// processResponse is the pipeline result for one uploaded photo.
type processResponse struct {
	ImagePath      string          `json:"image_path"`
	FacesDetected  int             `json:"faces_detected"`
	FacesProcessed int             `json:"faces_processed"`
	FacesSkipped   int             `json:"faces_skipped"`
	Faces          []processedFace `json:"faces"`
}

// Process handles POST /photos/process. The multipart form carries the
// image under "file" and optionally its canonical path under "path"
// (defaults to the uploaded filename).
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	imagePath := r.FormValue("path")
	if imagePath == "" {
		imagePath = header.Filename
	}

	ctx := r.Context()
	user, err := sessionUser(ctx, h.db)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	detections, err := h.detector.DetectFaces(ctx, imageData)
	if err != nil {
		log.Printf("face detection failed for %s: %v", sanitizeForLog(imagePath), err)
		respondError(w, http.StatusBadGateway, "face detection failed")
		return
	}

	kept := vision.FilterDetections(detections, h.cfg.Vision.MinFaceSize)
	resp := processResponse{
		ImagePath:     imagePath,
		FacesDetected: len(detections),
		FacesSkipped:  len(detections) - len(kept),
		Faces:         []processedFace{},
	}

	for _, detection := range kept {
		processed, err := h.processDetection(ctx, user, imagePath, imageData, detection)
		if err != nil {
			// One bad face never fails the batch.
			log.Printf("skipping face in %s: %v", sanitizeForLog(imagePath), err)
			resp.FacesSkipped++
			continue
		}
		resp.Faces = append(resp.Faces, *processed)
		resp.FacesProcessed++
	}

	respondJSON(w, http.StatusOK, resp)
}

// processDetection stores one detection and links it to a person. A
// detection the sidecar did not embed gets its box cropped and embedded
// separately. The uploader's own identity is checked first, then the best
// existing match at the high-confidence threshold; with no match a fresh
// unclaimed person is created.
func (h *ProcessHandler) processDetection(ctx context.Context, user *store.User, imagePath string, imageData []byte, detection vision.Detection) (*processedFace, error) {
	embedding := detection.Embedding
	if len(embedding) != store.EmbeddingDim {
		crop, err := vision.CropFace(imageData, detection.BBox)
		if err != nil {
			return nil, fmt.Errorf("crop face: %w", err)
		}
		embedding, err = h.embedder.EmbedFace(ctx, crop)
		if err != nil {
			return nil, fmt.Errorf("embed cropped face: %w", err)
		}
	}

	var targetPerson *store.Person

	if user != nil {
		person, err := h.matcher.AutoAssociateToUser(ctx, user, embedding, h.cfg.Matching.High)
		if err != nil {
			return nil, fmt.Errorf("auto associate: %w", err)
		}
		targetPerson = person
	}

	var matches []matching.FaceMatch
	if targetPerson == nil {
		var err error
		matches, err = h.matcher.FindSimilarFaces(ctx, embedding, h.cfg.Matching.High, nil)
		if err != nil {
			return nil, fmt.Errorf("find similar faces: %w", err)
		}
	}

	for _, m := range matches {
		if m.Face.PersonID == nil {
			continue
		}
		person, err := h.db.GetPerson(ctx, *m.Face.PersonID)
		if err != nil {
			return nil, fmt.Errorf("get matched person: %w", err)
		}
		if person != nil {
			targetPerson = person
			break
		}
	}

	newPerson := false
	if targetPerson == nil {
		targetPerson = &store.Person{}
		if err := h.db.CreatePerson(ctx, targetPerson); err != nil {
			return nil, fmt.Errorf("create person: %w", err)
		}
		newPerson = true
	}

	personID := targetPerson.ID
	face := &store.Face{
		ImagePath:  imagePath,
		BBox:       detection.BBox,
		Confidence: detection.Score,
		Embedding:  embedding,
		PersonID:   &personID,
	}
	if err := h.db.CreateFace(ctx, face); err != nil {
		return nil, fmt.Errorf("create face: %w", err)
	}
	if h.index != nil {
		h.index.Add(face.ID, face.Embedding)
	}

	return &processedFace{
		FaceID:     face.ID,
		BBox:       face.BBox,
		Confidence: face.Confidence,
		PersonID:   personID.String(),
		PersonName: targetPerson.Name,
		NewPerson:  newPerson,
	}, nil
}
