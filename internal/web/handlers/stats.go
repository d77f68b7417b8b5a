package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-vault/internal/store"
)

// StatsHandler serves aggregate numbers about the identity database.
type StatsHandler struct {
	db    store.Store
	index *store.FaceIndex
}

// NewStatsHandler creates a new stats handler. index may be nil.
func NewStatsHandler(db store.Store, index *store.FaceIndex) *StatsHandler {
	return &StatsHandler{db: db, index: index}
}

type statsResponse struct {
	FacesTotal     int  `json:"faces_total"`
	FacesOrphan    int  `json:"faces_orphan"`
	PersonsTotal   int  `json:"persons_total"`
	PersonsClaimed int  `json:"persons_claimed"`
	IndexedFaces   int  `json:"indexed_faces"`
	IndexEnabled   bool `json:"index_enabled"`
}

// Get handles GET /stats
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	faces, err := h.db.ListFaces(ctx, store.FaceFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load faces")
		return
	}
	orphans := 0
	for i := range faces {
		if faces[i].PersonID == nil {
			orphans++
		}
	}

	persons, err := h.db.ListPersons(ctx, store.PersonFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load persons")
		return
	}
	claimed := 0
	for i := range persons {
		if persons[i].IsClaimed {
			claimed++
		}
	}

	resp := statsResponse{
		FacesTotal:     len(faces),
		FacesOrphan:    orphans,
		PersonsTotal:   len(persons),
		PersonsClaimed: claimed,
	}
	if h.index != nil {
		resp.IndexEnabled = true
		resp.IndexedFaces = h.index.Count()
	}
	respondJSON(w, http.StatusOK, resp)
}
