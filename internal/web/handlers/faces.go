package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-vault/internal/store"
)

// FacesHandler serves face-level operations.
type FacesHandler struct {
	db    store.Store
	index *store.FaceIndex
}

func NewFacesHandler(db store.Store, index *store.FaceIndex) *FacesHandler {
	return &FacesHandler{db: db, index: index}
}

// Delete handles DELETE /faces/{id}, removing a single face record, for
// example a false positive from detection. The face also leaves the
// search index so it can no longer come back as a match.
func (h *FacesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	if err := h.db.DeleteFace(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "face not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete face")
		return
	}
	if h.index != nil {
		h.index.Delete(id)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
