package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/store"
)

// IdentifyHandler names faces: it attaches a face to a person looked up by
// normalized name, creating the person when needed, and can spread the
// identification to similar orphan faces.
type IdentifyHandler struct {
	db      store.Store
	cfg     *config.Config
	matcher *matching.Service
}

// NewIdentifyHandler creates a new identify handler
func NewIdentifyHandler(db store.Store, cfg *config.Config, matcher *matching.Service) *IdentifyHandler {
	return &IdentifyHandler{db: db, cfg: cfg, matcher: matcher}
}

type identifyRequest struct {
	FaceID       int64  `json:"face_id"`
	Name         string `json:"name"`
	AutoIdentify bool   `json:"auto_identify"`
}

type identifyResponse struct {
	Person         personView `json:"person"`
	NewPerson      bool       `json:"new_person"`
	AutoIdentified int        `json:"auto_identified"`
}

// Identify handles POST /identify
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx := r.Context()
	face, err := h.db.GetFace(ctx, req.FaceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load face")
		return
	}
	if face == nil {
		respondError(w, http.StatusNotFound, "face not found")
		return
	}

	person, err := h.db.FindPersonByName(ctx, req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to look up person")
		return
	}
	newPerson := false
	if person == nil {
		person = &store.Person{Name: req.Name}
		if err := h.db.CreatePerson(ctx, person); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to create person")
			return
		}
		newPerson = true
	}

	if err := h.db.AssignFace(ctx, face.ID, &person.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to assign face")
		return
	}

	autoIdentified := 0
	if req.AutoIdentify {
		autoIdentified, err = h.autoIdentify(r, face, person)
		if err != nil {
			// The primary identification stands; only the spread failed.
			log.Printf("auto-identify from face %d failed: %v", face.ID, err)
		}
	}

	view := toPersonView(person)
	respondJSON(w, http.StatusOK, identifyResponse{
		Person:         view,
		NewPerson:      newPerson,
		AutoIdentified: autoIdentified,
	})
}

// autoIdentify assigns orphan faces similar to the identified one to the
// same person, at the low-confidence floor.
func (h *IdentifyHandler) autoIdentify(r *http.Request, face *store.Face, person *store.Person) (int, error) {
	ctx := r.Context()
	matches, err := h.matcher.FindSimilarFaces(ctx, face.Embedding, h.cfg.Matching.Low, nil)
	if err != nil {
		return 0, err
	}

	assigned := 0
	for _, m := range matches {
		if m.Face.ID == face.ID || m.Face.PersonID != nil {
			continue
		}
		if err := h.db.AssignFace(ctx, m.Face.ID, &person.ID); err != nil {
			return assigned, err
		}
		assigned++
	}
	return assigned, nil
}
