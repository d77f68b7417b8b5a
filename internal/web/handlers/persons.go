package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/claims"
	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/store"
)

const defaultPersonPageSize = 50

// PersonsHandler serves person CRUD and merge endpoints
type PersonsHandler struct {
	db      store.Store
	cfg     *config.Config
	matcher *matching.Service
	claims  *claims.Service
}

// NewPersonsHandler creates a new persons handler
func NewPersonsHandler(db store.Store, cfg *config.Config, matcher *matching.Service, claimsSvc *claims.Service) *PersonsHandler {
	return &PersonsHandler{db: db, cfg: cfg, matcher: matcher, claims: claimsSvc}
}

func parsePersonID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// List handles GET /persons with skip/limit pagination and an optional
// claimed filter.
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := store.PersonFilter{Limit: defaultPersonPageSize}
	q := r.URL.Query()
	if v := q.Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("claimed"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Claimed = &b
		}
	}

	ctx := r.Context()
	persons, err := h.db.ListPersons(ctx, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list persons")
		return
	}

	views := make([]personView, 0, len(persons))
	for i := range persons {
		view := toPersonView(&persons[i])
		count, err := h.db.CountFaces(ctx, persons[i].ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to count faces")
			return
		}
		view.FaceCount = count
		views = append(views, view)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"persons": views,
		"skip":    filter.Offset,
		"limit":   filter.Limit,
	})
}

// Get handles GET /persons/{id}, returning the person with their faces.
func (h *PersonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parsePersonID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	ctx := r.Context()
	person, err := h.db.GetPerson(ctx, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load person")
		return
	}
	if person == nil {
		respondError(w, http.StatusNotFound, "person not found")
		return
	}

	faces, err := h.db.ListFaces(ctx, store.FaceFilter{PersonID: &person.ID})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load faces")
		return
	}

	faceViews := make([]faceView, 0, len(faces))
	for i := range faces {
		faceViews = append(faceViews, toFaceView(&faces[i]))
	}

	view := toPersonView(person)
	view.FaceCount = len(faces)
	respondJSON(w, http.StatusOK, map[string]any{
		"person": view,
		"faces":  faceViews,
	})
}

// Delete handles DELETE /persons/{id}. Faces are orphaned, not removed.
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parsePersonID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	if err := h.claims.DeletePerson(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "person not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete person")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type mergeRequest struct {
	SourceIDs []uuid.UUID `json:"source_ids"`
}

// Merge handles POST /persons/{id}/merge, folding the source persons into
// the target.
func (h *PersonsHandler) Merge(w http.ResponseWriter, r *http.Request) {
	targetID, err := parsePersonID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.SourceIDs) == 0 {
		respondError(w, http.StatusBadRequest, "source_ids are required")
		return
	}

	result, err := h.claims.MergePersons(r.Context(), targetID, req.SourceIDs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "target person not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "merge failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type mergeSuggestionView struct {
	Person     personView `json:"person"`
	Similarity float64    `json:"similarity"`
}

// MergeSuggestions handles GET /persons/{id}/merge-suggestions, listing
// other persons whose faces look like this one at the high confidence
// threshold.
func (h *PersonsHandler) MergeSuggestions(w http.ResponseWriter, r *http.Request) {
	id, err := parsePersonID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	suggestions, err := h.matcher.SuggestPersonMerges(r.Context(), id, h.cfg.Matching.High)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute suggestions")
		return
	}

	views := make([]mergeSuggestionView, 0, len(suggestions))
	for _, s := range suggestions {
		views = append(views, mergeSuggestionView{
			Person:     toPersonView(&s.Person),
			Similarity: s.Similarity,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"suggestions": views})
}
