// Package matching decides which person a detected face belongs to. All
// decisions run over the similarity engine against current storage state;
// nothing is cached between calls, so a claim or merge is visible to the
// very next match.
package matching

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/identity"
	"github.com/kozaktomas/face-vault/internal/store"
)

// sampleFaceLimit caps how many example faces an unclaimed match carries.
const sampleFaceLimit = 3

// indexSearchK is how many neighbors the HNSW index is asked for before
// threshold filtering. Large enough that the filter, not the cap, decides.
const indexSearchK = 100

// VectorSearcher is implemented by stores that answer nearest-neighbor
// queries natively, like the pgvector backend. FindSimilarFaces prefers it
// over a full scan when no HNSW index is installed.
type VectorSearcher interface {
	SimilarFaces(ctx context.Context, embedding []float32, limit int) ([]store.Face, []float64, error)
}

// Service matches new face embeddings against persisted faces and persons.
type Service struct {
	db    store.Store
	cfg   config.MatchingConfig
	index *store.FaceIndex
}

// New creates a matching service. cfg supplies the confidence tiers.
func New(db store.Store, cfg config.MatchingConfig) *Service {
	return &Service{db: db, cfg: cfg}
}

// SetIndex installs an optional HNSW face index used by FindSimilarFaces.
// Without one, similarity search falls back to a linear scan.
func (s *Service) SetIndex(index *store.FaceIndex) {
	s.index = index
}

// Thresholds returns the configured confidence tiers.
func (s *Service) Thresholds() config.MatchingConfig {
	return s.cfg
}

// FaceMatch is one similar face with its similarity score.
type FaceMatch struct {
	Face  store.Face
	Score float64
}

// FindSimilarFaces scores the query embedding against stored faces,
// excluding faces owned by any of the excluded persons, and returns matches
// at or above threshold sorted by descending score. The HNSW index is used
// when installed, then the store's native vector search when it has one,
// then a linear scan. A malformed query cannot abort the search; it simply
// matches nothing.
func (s *Service) FindSimilarFaces(ctx context.Context, embedding []float32, threshold float64, excludePersons []uuid.UUID) ([]FaceMatch, error) {
	excluded := make(map[uuid.UUID]struct{}, len(excludePersons))
	for _, id := range excludePersons {
		excluded[id] = struct{}{}
	}

	if s.index != nil && s.index.Count() > 0 {
		return s.findSimilarIndexed(ctx, embedding, threshold, excluded)
	}
	if vs, ok := s.db.(VectorSearcher); ok {
		return s.findSimilarVector(ctx, vs, embedding, threshold, excluded)
	}

	faces, err := s.db.ListFaces(ctx, store.FaceFilter{})
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}

	candidates := make(map[int64][]float32, len(faces))
	byID := make(map[int64]store.Face, len(faces))
	for _, f := range faces {
		if f.PersonID != nil {
			if _, skip := excluded[*f.PersonID]; skip {
				continue
			}
		}
		candidates[f.ID] = f.Embedding
		byID[f.ID] = f
	}

	ranked := identity.Rank(embedding, candidates, threshold)
	matches := make([]FaceMatch, 0, len(ranked))
	for _, r := range ranked {
		matches = append(matches, FaceMatch{Face: byID[r.ID], Score: r.Score})
	}
	return matches, nil
}

func (s *Service) findSimilarVector(ctx context.Context, vs VectorSearcher, embedding []float32, threshold float64, excluded map[uuid.UUID]struct{}) ([]FaceMatch, error) {
	// The database rejects malformed vectors outright; keep the contract
	// that a malformed query matches nothing instead.
	if identity.Similarity(embedding, embedding) == identity.NoMatch {
		return []FaceMatch{}, nil
	}

	faces, distances, err := vs.SimilarFaces(ctx, embedding, indexSearchK)
	if err != nil {
		return nil, fmt.Errorf("similar faces: %w", err)
	}

	matches := make([]FaceMatch, 0, len(faces))
	for i := range faces {
		score := 1 - distances[i]
		if score < threshold {
			continue
		}
		if faces[i].PersonID != nil {
			if _, skip := excluded[*faces[i].PersonID]; skip {
				continue
			}
		}
		matches = append(matches, FaceMatch{Face: faces[i], Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Face.ID < matches[j].Face.ID
	})
	return matches, nil
}

func (s *Service) findSimilarIndexed(ctx context.Context, embedding []float32, threshold float64, excluded map[uuid.UUID]struct{}) ([]FaceMatch, error) {
	ids, distances := s.index.Search(embedding, indexSearchK)

	matches := make([]FaceMatch, 0, len(ids))
	for i, id := range ids {
		score := 1 - distances[i]
		if score < threshold {
			continue
		}
		face, err := s.db.GetFace(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get face %d: %w", id, err)
		}
		if face == nil {
			continue // index lagging behind a delete
		}
		if face.PersonID != nil {
			if _, skip := excluded[*face.PersonID]; skip {
				continue
			}
		}
		matches = append(matches, FaceMatch{Face: *face, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Face.ID < matches[j].Face.ID
	})
	return matches, nil
}

// AutoAssociateToUser compares a new embedding against every face of the
// user's primary person and returns that person when either the maximum or
// the mean similarity reaches threshold. A single strong match or a
// generally consistent resemblance both justify association; this is a
// deliberate OR. Returns nil when the user has no primary person, the
// person has no faces, or neither statistic reaches the threshold.
func (s *Service) AutoAssociateToUser(ctx context.Context, user *store.User, embedding []float32, threshold float64) (*store.Person, error) {
	if user == nil || user.PersonID == nil {
		return nil, nil
	}

	faces, err := s.db.ListFaces(ctx, store.FaceFilter{PersonID: user.PersonID})
	if err != nil {
		return nil, fmt.Errorf("list person faces: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	var maxSim, sum float64
	maxSim = identity.NoMatch
	for _, f := range faces {
		sim := identity.Similarity(embedding, f.Embedding)
		sum += sim
		if sim > maxSim {
			maxSim = sim
		}
	}
	mean := sum / float64(len(faces))

	if maxSim >= threshold || mean >= threshold {
		person, err := s.db.GetPerson(ctx, *user.PersonID)
		if err != nil {
			return nil, fmt.Errorf("get person: %w", err)
		}
		return person, nil
	}
	return nil, nil
}

// UnclaimedMatch is an unclaimed person resembling the query embedding.
// Confidence is the maximum similarity across the person's faces.
type UnclaimedMatch struct {
	Person      store.Person
	Confidence  float64
	SampleFaces []store.Face
}

// FindUnclaimedMatches scans all unclaimed persons and returns those whose
// best face similarity reaches threshold, each with up to three of its
// highest-scoring faces as samples, sorted by descending confidence.
func (s *Service) FindUnclaimedMatches(ctx context.Context, embedding []float32, threshold float64) ([]UnclaimedMatch, error) {
	unclaimed := false
	persons, err := s.db.ListPersons(ctx, store.PersonFilter{Claimed: &unclaimed})
	if err != nil {
		return nil, fmt.Errorf("list unclaimed persons: %w", err)
	}

	var matches []UnclaimedMatch
	for _, person := range persons {
		personID := person.ID
		faces, err := s.db.ListFaces(ctx, store.FaceFilter{PersonID: &personID})
		if err != nil {
			return nil, fmt.Errorf("list faces of person %s: %w", personID, err)
		}
		if len(faces) == 0 {
			continue
		}

		scored := make([]FaceMatch, 0, len(faces))
		confidence := identity.NoMatch
		for _, f := range faces {
			sim := identity.Similarity(embedding, f.Embedding)
			scored = append(scored, FaceMatch{Face: f, Score: sim})
			if sim > confidence {
				confidence = sim
			}
		}
		if confidence < threshold {
			continue
		}

		sort.Slice(scored, func(i, j int) bool {
			if scored[i].Score != scored[j].Score {
				return scored[i].Score > scored[j].Score
			}
			return scored[i].Face.ID < scored[j].Face.ID
		})
		if len(scored) > sampleFaceLimit {
			scored = scored[:sampleFaceLimit]
		}
		samples := make([]store.Face, len(scored))
		for i, m := range scored {
			samples[i] = m.Face
		}

		matches = append(matches, UnclaimedMatch{
			Person:      person,
			Confidence:  confidence,
			SampleFaces: samples,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches, nil
}

// MergeSuggestion is another person likely to be the same individual.
type MergeSuggestion struct {
	Person     store.Person
	Similarity float64
}

// SuggestPersonMerges cross-compares every face of the given person against
// every face of every other person and reports those whose best pairwise
// similarity reaches threshold, sorted descending. Quadratic by design;
// this is out-of-band cleanup tooling, not a hot path. Returns an empty
// list when the person is missing or has no faces.
func (s *Service) SuggestPersonMerges(ctx context.Context, personID uuid.UUID, threshold float64) ([]MergeSuggestion, error) {
	person, err := s.db.GetPerson(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	if person == nil {
		return nil, nil
	}

	ownFaces, err := s.db.ListFaces(ctx, store.FaceFilter{PersonID: &personID})
	if err != nil {
		return nil, fmt.Errorf("list own faces: %w", err)
	}
	if len(ownFaces) == 0 {
		return nil, nil
	}

	persons, err := s.db.ListPersons(ctx, store.PersonFilter{})
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}

	var suggestions []MergeSuggestion
	for _, other := range persons {
		if other.ID == personID {
			continue
		}
		otherID := other.ID
		otherFaces, err := s.db.ListFaces(ctx, store.FaceFilter{PersonID: &otherID})
		if err != nil {
			return nil, fmt.Errorf("list faces of person %s: %w", otherID, err)
		}
		if len(otherFaces) == 0 {
			continue
		}

		best := identity.NoMatch
		for _, own := range ownFaces {
			for _, of := range otherFaces {
				if sim := identity.Similarity(own.Embedding, of.Embedding); sim > best {
					best = sim
				}
			}
		}
		if best >= threshold {
			suggestions = append(suggestions, MergeSuggestion{Person: other, Similarity: best})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Similarity > suggestions[j].Similarity
	})
	return suggestions, nil
}
