package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/identity"
	"github.com/kozaktomas/face-vault/internal/store"
)

// ClustersHandler runs DBSCAN over orphan faces on demand.
type ClustersHandler struct {
	db  store.Store
	cfg *config.Config
}

// NewClustersHandler creates a new clusters handler
func NewClustersHandler(db store.Store, cfg *config.Config) *ClustersHandler {
	return &ClustersHandler{db: db, cfg: cfg}
}

type clusterView struct {
	Label   int     `json:"label"`
	Size    int     `json:"size"`
	FaceIDs []int64 `json:"face_ids"`
}

type clustersResponse struct {
	Clusters []clusterView         `json:"clusters"`
	Noise    []int64               `json:"noise"`
	Stats    identity.ClusterStats `json:"stats"`
	Eps      float64               `json:"eps"`
	MinPts   int                   `json:"min_samples"`
}

// List handles GET /clusters. The configured DBSCAN parameters can be
// overridden per request with eps and min_samples query parameters.
func (h *ClustersHandler) List(w http.ResponseWriter, r *http.Request) {
	eps := h.cfg.Clustering.Eps
	minSamples := h.cfg.Clustering.MinSamples
	q := r.URL.Query()
	if v := q.Get("eps"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 || parsed > 2 {
			respondError(w, http.StatusBadRequest, "eps must be in (0, 2]")
			return
		}
		eps = parsed
	}
	if v := q.Get("min_samples"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "min_samples must be at least 1")
			return
		}
		minSamples = parsed
	}

	faces, err := h.db.ListFaces(r.Context(), store.FaceFilter{Orphans: true})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load orphan faces")
		return
	}

	embeddings := make(map[int64][]float32, len(faces))
	for i := range faces {
		embeddings[faces[i].ID] = faces[i].Embedding
	}

	clusters, noise := identity.Cluster(embeddings, eps, minSamples)

	views := make([]clusterView, 0, len(clusters))
	for label, ids := range clusters {
		views = append(views, clusterView{Label: label, Size: len(ids), FaceIDs: ids})
	}
	// Largest clusters first, label breaks ties for a stable order.
	sort.Slice(views, func(i, j int) bool {
		if views[i].Size != views[j].Size {
			return views[i].Size > views[j].Size
		}
		return views[i].Label < views[j].Label
	})

	if noise == nil {
		noise = []int64{}
	}
	respondJSON(w, http.StatusOK, clustersResponse{
		Clusters: views,
		Noise:    noise,
		Stats:    identity.Stats(clusters),
		Eps:      eps,
		MinPts:   minSamples,
	})
}
