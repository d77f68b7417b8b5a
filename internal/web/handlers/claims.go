package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/claims"
	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/store"
)

// ClaimsHandler serves the /users/me endpoints: claiming person clusters,
// finding unclaimed matches and listing the user's photos.
type ClaimsHandler struct {
	db      store.Store
	cfg     *config.Config
	matcher *matching.Service
	claims  *claims.Service
}

// NewClaimsHandler creates a new claims handler
func NewClaimsHandler(db store.Store, cfg *config.Config, matcher *matching.Service, claimsSvc *claims.Service) *ClaimsHandler {
	return &ClaimsHandler{db: db, cfg: cfg, matcher: matcher, claims: claimsSvc}
}

// requireUser loads the account of the current session or writes an error.
func (h *ClaimsHandler) requireUser(w http.ResponseWriter, r *http.Request) *store.User {
	user, err := sessionUser(r.Context(), h.db)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load account")
		return nil
	}
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	return user
}

type unclaimedMatchView struct {
	Person      personView `json:"person"`
	Confidence  float64    `json:"confidence"`
	SampleFaces []faceView `json:"sample_faces"`
	FaceCount   int        `json:"face_count"`
}

// UnclaimedMatches handles GET /users/me/unclaimed-matches. The user's
// identity embedding is the normalized centroid of their primary person's
// faces.
func (h *ClaimsHandler) UnclaimedMatches(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}
	if user.PersonID == nil {
		respondError(w, http.StatusBadRequest, "no primary person; claim or enroll a face first")
		return
	}

	ctx := r.Context()
	faces, err := h.db.ListFaces(ctx, store.FaceFilter{PersonID: user.PersonID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load faces")
		return
	}
	embeddings := make([][]float32, 0, len(faces))
	for i := range faces {
		embeddings = append(embeddings, faces[i].Embedding)
	}
	identityEmbedding := normalizedMean(embeddings)
	if identityEmbedding == nil {
		respondError(w, http.StatusBadRequest, "primary person has no usable faces")
		return
	}

	matches, err := h.matcher.FindUnclaimedMatches(ctx, identityEmbedding, h.cfg.Matching.Medium)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to find matches")
		return
	}

	views := make([]unclaimedMatchView, 0, len(matches))
	for _, m := range matches {
		view := unclaimedMatchView{
			Person:      toPersonView(&m.Person),
			Confidence:  m.Confidence,
			SampleFaces: make([]faceView, 0, len(m.SampleFaces)),
		}
		for i := range m.SampleFaces {
			view.SampleFaces = append(view.SampleFaces, toFaceView(&m.SampleFaces[i]))
		}
		count, err := h.db.CountFaces(ctx, m.Person.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to count faces")
			return
		}
		view.FaceCount = count
		views = append(views, view)
	}

	respondJSON(w, http.StatusOK, map[string]any{"matches": views})
}

type claimRequest struct {
	PersonIDs []uuid.UUID `json:"person_ids"`
}

// Claim handles POST /users/me/claims
func (h *ClaimsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.PersonIDs) == 0 {
		respondError(w, http.StatusBadRequest, "person_ids are required")
		return
	}

	result, err := h.claims.ClaimPersons(r.Context(), user, req.PersonIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "claim failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Unclaim handles DELETE /users/me/claims/{personID}
func (h *ClaimsHandler) Unclaim(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}

	personID, err := uuid.Parse(chi.URLParam(r, "personID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	ok, err := h.claims.UnclaimPerson(r.Context(), personID, user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unclaim failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "person not found or not yours")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Transfer handles POST /users/me/claims/{personID}/transfer
func (h *ClaimsHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}

	personID, err := uuid.Parse(chi.URLParam(r, "personID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	person, err := h.claims.TransferPersonToUser(r.Context(), personID, user)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "person not found")
		case errors.Is(err, store.ErrConflict):
			respondError(w, http.StatusConflict, "person already claimed")
		default:
			respondError(w, http.StatusInternalServerError, "transfer failed")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"person": toPersonView(person)})
}

// Photos handles GET /users/me/photos
func (h *ClaimsHandler) Photos(w http.ResponseWriter, r *http.Request) {
	user := h.requireUser(w, r)
	if user == nil {
		return
	}

	paths, err := h.claims.UserImagePaths(r.Context(), user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load photos")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"photos": paths,
		"count":  len(paths),
	})
}
