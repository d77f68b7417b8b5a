// Package store defines the persistence contract for faces, persons and
// users, the shared domain types, and the error taxonomy used by the
// identity services. Backends live in subpackages (postgres, memory).
package store

import (
	"context"

	"github.com/google/uuid"
)

// FaceFilter narrows ListFaces results. Zero value lists everything.
type FaceFilter struct {
	PersonID *uuid.UUID // only faces of this person
	Orphans  bool       // only faces with no person assigned
}

// PersonFilter narrows ListPersons results. Zero value lists everything.
type PersonFilter struct {
	Claimed *bool
	UserID  *uuid.UUID
	Offset  int
	Limit   int // 0 means no limit
}

// FaceStore provides access to detected face records.
// Get-style methods return (nil, nil) when the record does not exist.
type FaceStore interface {
	CreateFace(ctx context.Context, face *Face) error
	GetFace(ctx context.Context, id int64) (*Face, error)
	ListFaces(ctx context.Context, filter FaceFilter) ([]Face, error)
	CountFaces(ctx context.Context, personID uuid.UUID) (int, error)

	// AssignFace sets or clears the person reference of a single face.
	// Returns ErrNotFound if the face does not exist.
	AssignFace(ctx context.Context, faceID int64, personID *uuid.UUID) error

	// ReassignFaces moves every face of one person to another in a single
	// bulk update and reports how many rows moved.
	ReassignFaces(ctx context.Context, from, to uuid.UUID) (int64, error)

	// OrphanFaces clears the person reference of every face of the given
	// person and reports how many rows changed.
	OrphanFaces(ctx context.Context, personID uuid.UUID) (int64, error)

	DeleteFace(ctx context.Context, id int64) error

	// ListImagePaths returns the distinct image paths of all faces owned
	// by the given persons, most recent first.
	ListImagePaths(ctx context.Context, personIDs []uuid.UUID) ([]string, error)
}

// PersonStore provides access to person cluster records.
type PersonStore interface {
	CreatePerson(ctx context.Context, person *Person) error
	GetPerson(ctx context.Context, id uuid.UUID) (*Person, error)

	// FindPersonByName looks a person up by display name. Names are
	// normalized on both sides (lowercase, no diacritics, dashes to
	// spaces) so "jan-novak" finds "Jan Novák".
	FindPersonByName(ctx context.Context, name string) (*Person, error)

	ListPersons(ctx context.Context, filter PersonFilter) ([]Person, error)

	// ClaimPerson atomically flips an unclaimed person to claimed by the
	// given user, overwriting its display name. Reports false when the
	// person is missing or already claimed; the check and the write
	// happen in one statement so concurrent claims cannot both win.
	ClaimPerson(ctx context.Context, personID, userID uuid.UUID, name string) (bool, error)

	// UnclaimPerson reverses a claim, but only when the person currently
	// belongs to the given user. Reports false otherwise.
	UnclaimPerson(ctx context.Context, personID, userID uuid.UUID) (bool, error)

	// DeletePerson removes a person record. Faces are not touched;
	// callers unlink or move them first. Returns ErrNotFound if missing.
	DeletePerson(ctx context.Context, id uuid.UUID) error
}

// UserStore provides access to user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SetPrimaryPerson updates the user's primary person pointer
	// (nil clears it). Returns ErrNotFound if the user does not exist.
	SetPrimaryPerson(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) error
}

// Store combines all record stores with a transactional scope. WithTx runs
// fn against a store bound to one transaction: if fn returns an error every
// write inside it is rolled back, otherwise all are committed together.
// Claim and merge operations rely on this for their all-or-nothing contract.
type Store interface {
	FaceStore
	PersonStore
	UserStore

	WithTx(ctx context.Context, fn func(tx Store) error) error
}
