// Package vision talks to the self-hosted face analysis sidecar. The
// sidecar runs the detection and embedding models; this package carries
// image bytes over HTTP and turns the responses into domain values.
package vision

import (
	"context"

	"github.com/kozaktomas/face-vault/internal/store"
)

// Detection is a single face found in an image. The embedding may be empty
// when the sidecar did not compute one for this face; the pipeline then
// crops the box and embeds it separately.
type Detection struct {
	BBox      store.BoundingBox
	Score     float64
	Embedding []float32
}

// Detector finds faces in an image.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]Detection, error)
}

// Embedder computes the embedding of an image that contains exactly one
// face, used for registration selfies.
type Embedder interface {
	EmbedFace(ctx context.Context, imageData []byte) ([]float32, error)
}

// FilterDetections drops detections with invalid boxes and boxes smaller
// than minSize pixels on either side. Detections without an embedding are
// kept; the caller embeds them from a crop.
func FilterDetections(detections []Detection, minSize int) []Detection {
	kept := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !d.BBox.Valid() {
			continue
		}
		if d.BBox.Width < minSize || d.BBox.Height < minSize {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}
