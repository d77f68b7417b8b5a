// Package claims reconciles person clusters with user accounts: claiming,
// unclaiming, merging duplicates and transferring persons. Every mutating
// operation runs inside a single store transaction so readers never observe
// a partially-claimed or partially-merged state.
package claims

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/store"
)

// Service manages person claims and merges.
type Service struct {
	db store.Store
}

// New creates a claims service.
func New(db store.Store) *Service {
	return &Service{db: db}
}

// ClaimResult reports the outcome of a batch claim. Skipped ids were
// already claimed or missing; they are excluded from the counts but listed
// so callers can reconcile what happened.
type ClaimResult struct {
	ClaimedCount int         `json:"claimed_count"`
	ClaimedIDs   []uuid.UUID `json:"person_ids"`
	SkippedIDs   []uuid.UUID `json:"skipped_ids"`
	TotalPhotos  int         `json:"total_photos"`
}

// ClaimPersons claims every currently-unclaimed person in personIDs for the
// user, setting each claimed person's name to the username. Already-claimed
// and missing persons are skipped, not errors. If the user has no primary
// person yet and at least one claim succeeded, the first successfully
// claimed id becomes the primary person.
func (s *Service) ClaimPersons(ctx context.Context, user *store.User, personIDs []uuid.UUID) (*ClaimResult, error) {
	result := &ClaimResult{
		ClaimedIDs: []uuid.UUID{},
		SkippedIDs: []uuid.UUID{},
	}

	err := s.db.WithTx(ctx, func(tx store.Store) error {
		for _, personID := range personIDs {
			claimed, err := tx.ClaimPerson(ctx, personID, user.ID, user.Username)
			if err != nil {
				return fmt.Errorf("claim person %s: %w", personID, err)
			}
			if !claimed {
				result.SkippedIDs = append(result.SkippedIDs, personID)
				continue
			}

			photos, err := tx.CountFaces(ctx, personID)
			if err != nil {
				return fmt.Errorf("count faces of %s: %w", personID, err)
			}
			result.TotalPhotos += photos
			result.ClaimedIDs = append(result.ClaimedIDs, personID)
			result.ClaimedCount++
		}

		if user.PersonID == nil && result.ClaimedCount > 0 {
			primary := result.ClaimedIDs[0]
			if err := tx.SetPrimaryPerson(ctx, user.ID, &primary); err != nil {
				return fmt.Errorf("set primary person: %w", err)
			}
			user.PersonID = &primary
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UnclaimPerson reverses a claim if the person currently belongs to the
// user, clearing the user's primary pointer when it referenced this person.
// Reports false, with no error, when the person is missing or owned by
// someone else.
func (s *Service) UnclaimPerson(ctx context.Context, personID uuid.UUID, user *store.User) (bool, error) {
	unclaimed := false
	err := s.db.WithTx(ctx, func(tx store.Store) error {
		ok, err := tx.UnclaimPerson(ctx, personID, user.ID)
		if err != nil {
			return fmt.Errorf("unclaim person %s: %w", personID, err)
		}
		if !ok {
			return nil
		}
		unclaimed = true

		if user.PersonID != nil && *user.PersonID == personID {
			if err := tx.SetPrimaryPerson(ctx, user.ID, nil); err != nil {
				return fmt.Errorf("clear primary person: %w", err)
			}
			user.PersonID = nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return unclaimed, nil
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	MergedCount     int         `json:"merged_count"`
	TotalFacesMoved int64       `json:"total_faces_moved"`
	TargetID        uuid.UUID   `json:"target_person_id"`
	SkippedIDs      []uuid.UUID `json:"skipped_ids"`
}

// MergePersons moves every face of each source person to the target and
// deletes the source records, all in one transaction. Source ids equal to
// the target or missing are skipped silently. A missing target is the one
// hard failure: it returns store.ErrNotFound and performs no mutation.
// If a deleted source was some user's primary person, that pointer is
// retargeted to the merge target when the same user owns it, otherwise
// cleared, keeping the primary-person invariant intact.
func (s *Service) MergePersons(ctx context.Context, targetID uuid.UUID, sourceIDs []uuid.UUID) (*MergeResult, error) {
	result := &MergeResult{
		TargetID:   targetID,
		SkippedIDs: []uuid.UUID{},
	}

	err := s.db.WithTx(ctx, func(tx store.Store) error {
		target, err := tx.GetPerson(ctx, targetID)
		if err != nil {
			return fmt.Errorf("get target person: %w", err)
		}
		if target == nil {
			return fmt.Errorf("target person %s: %w", targetID, store.ErrNotFound)
		}

		for _, sourceID := range sourceIDs {
			if sourceID == targetID {
				result.SkippedIDs = append(result.SkippedIDs, sourceID)
				continue
			}

			source, err := tx.GetPerson(ctx, sourceID)
			if err != nil {
				return fmt.Errorf("get source person: %w", err)
			}
			if source == nil {
				result.SkippedIDs = append(result.SkippedIDs, sourceID)
				continue
			}

			moved, err := tx.ReassignFaces(ctx, sourceID, targetID)
			if err != nil {
				return fmt.Errorf("reassign faces of %s: %w", sourceID, err)
			}
			result.TotalFacesMoved += moved

			if err := s.fixPrimaryPointer(ctx, tx, source, target); err != nil {
				return err
			}

			if err := tx.DeletePerson(ctx, sourceID); err != nil {
				return fmt.Errorf("delete source person %s: %w", sourceID, err)
			}
			result.MergedCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fixPrimaryPointer repairs a user's primary-person pointer before its
// target is deleted by a merge.
func (s *Service) fixPrimaryPointer(ctx context.Context, tx store.Store, source, target *store.Person) error {
	if source.UserID == nil {
		return nil
	}
	owner, err := tx.GetUser(ctx, *source.UserID)
	if err != nil {
		return fmt.Errorf("get owner of %s: %w", source.ID, err)
	}
	if owner == nil || owner.PersonID == nil || *owner.PersonID != source.ID {
		return nil
	}

	var replacement *uuid.UUID
	if target.UserID != nil && *target.UserID == owner.ID {
		id := target.ID
		replacement = &id
	}
	if err := tx.SetPrimaryPerson(ctx, owner.ID, replacement); err != nil {
		return fmt.Errorf("repair primary person of %s: %w", owner.ID, err)
	}
	return nil
}

// TransferPersonToUser claims a single currently-unclaimed person for the
// user and makes it their primary person if they have none. Returns
// store.ErrNotFound when the person does not exist and store.ErrConflict
// when someone else already claimed it.
func (s *Service) TransferPersonToUser(ctx context.Context, personID uuid.UUID, user *store.User) (*store.Person, error) {
	var transferred *store.Person
	err := s.db.WithTx(ctx, func(tx store.Store) error {
		claimed, err := tx.ClaimPerson(ctx, personID, user.ID, user.Username)
		if err != nil {
			return fmt.Errorf("claim person %s: %w", personID, err)
		}
		if !claimed {
			existing, err := tx.GetPerson(ctx, personID)
			if err != nil {
				return fmt.Errorf("get person: %w", err)
			}
			if existing == nil {
				return fmt.Errorf("person %s: %w", personID, store.ErrNotFound)
			}
			return fmt.Errorf("person %s already claimed: %w", personID, store.ErrConflict)
		}

		if user.PersonID == nil {
			id := personID
			if err := tx.SetPrimaryPerson(ctx, user.ID, &id); err != nil {
				return fmt.Errorf("set primary person: %w", err)
			}
			user.PersonID = &id
		}

		person, err := tx.GetPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("reload person: %w", err)
		}
		transferred = person
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transferred, nil
}

// DeletePerson removes a person, first orphaning its faces so they can be
// re-clustered later, and clears the owner's primary pointer when needed.
// Returns store.ErrNotFound if the person does not exist.
func (s *Service) DeletePerson(ctx context.Context, personID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx store.Store) error {
		person, err := tx.GetPerson(ctx, personID)
		if err != nil {
			return fmt.Errorf("get person: %w", err)
		}
		if person == nil {
			return fmt.Errorf("person %s: %w", personID, store.ErrNotFound)
		}

		if _, err := tx.OrphanFaces(ctx, personID); err != nil {
			return fmt.Errorf("orphan faces: %w", err)
		}

		if person.UserID != nil {
			owner, err := tx.GetUser(ctx, *person.UserID)
			if err != nil {
				return fmt.Errorf("get owner: %w", err)
			}
			if owner != nil && owner.PersonID != nil && *owner.PersonID == personID {
				if err := tx.SetPrimaryPerson(ctx, owner.ID, nil); err != nil {
					return fmt.Errorf("clear primary person: %w", err)
				}
			}
		}

		if err := tx.DeletePerson(ctx, personID); err != nil {
			return fmt.Errorf("delete person: %w", err)
		}
		return nil
	})
}

// UserImagePaths returns the distinct image paths where the user appears,
// across the primary person and every other person they have claimed.
func (s *Service) UserImagePaths(ctx context.Context, user *store.User) ([]string, error) {
	personIDs := make([]uuid.UUID, 0, 4)
	if user.PersonID != nil {
		personIDs = append(personIDs, *user.PersonID)
	}

	userID := user.ID
	owned, err := s.db.ListPersons(ctx, store.PersonFilter{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("list owned persons: %w", err)
	}
	for _, p := range owned {
		if user.PersonID != nil && p.ID == *user.PersonID {
			continue
		}
		personIDs = append(personIDs, p.ID)
	}
	if len(personIDs) == 0 {
		return []string{}, nil
	}

	paths, err := s.db.ListImagePaths(ctx, personIDs)
	if err != nil {
		return nil, fmt.Errorf("list image paths: %w", err)
	}
	return paths, nil
}
