// Package memory provides an in-memory store.Store implementation used by
// tests and the dev mode. It honors the same transactional contract as the
// postgres backend: WithTx rolls every write back when the callback fails.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/store"
)

type state struct {
	faces      map[int64]*store.Face
	persons    map[uuid.UUID]*store.Person
	users      map[uuid.UUID]*store.User
	nextFaceID int64
}

func newState() state {
	return state{
		faces:      make(map[int64]*store.Face),
		persons:    make(map[uuid.UUID]*store.Person),
		users:      make(map[uuid.UUID]*store.User),
		nextFaceID: 1,
	}
}

func (s *state) clone() state {
	c := state{
		faces:      make(map[int64]*store.Face, len(s.faces)),
		persons:    make(map[uuid.UUID]*store.Person, len(s.persons)),
		users:      make(map[uuid.UUID]*store.User, len(s.users)),
		nextFaceID: s.nextFaceID,
	}
	for id, f := range s.faces {
		c.faces[id] = copyFace(f)
	}
	for id, p := range s.persons {
		c.persons[id] = copyPerson(p)
	}
	for id, u := range s.users {
		c.users[id] = copyUser(u)
	}
	return c
}

func copyFace(f *store.Face) *store.Face {
	c := *f
	if f.Embedding != nil {
		c.Embedding = make([]float32, len(f.Embedding))
		copy(c.Embedding, f.Embedding)
	}
	if f.PersonID != nil {
		id := *f.PersonID
		c.PersonID = &id
	}
	return &c
}

func copyPerson(p *store.Person) *store.Person {
	c := *p
	if p.UserID != nil {
		id := *p.UserID
		c.UserID = &id
	}
	return &c
}

func copyUser(u *store.User) *store.User {
	c := *u
	if u.PersonID != nil {
		id := *u.PersonID
		c.PersonID = &id
	}
	return &c
}

// Store is the in-memory backend. The zero value is not usable; use New.
type Store struct {
	tx *tx

	// Error injection for tests. When set, the corresponding method
	// returns the error without touching state.
	CreateFaceError  error
	ListFacesError   error
	ListPersonsError error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{tx: &tx{st: newState(), root: true, sem: make(chan struct{}, 1)}}
}

// tx carries the mutable state. The root tx guards itself with a channel
// semaphore so WithTx holds exclusive access for its whole callback.
type tx struct {
	st   state
	root bool
	sem  chan struct{}
}

func (s *Store) lock() func() {
	s.tx.sem <- struct{}{}
	return func() { <-s.tx.sem }
}

// WithTx runs fn under the store's exclusive lock. On error, the state is
// restored from a snapshot taken before fn ran.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if !s.tx.root {
		// Already inside a transaction; just run the callback.
		return fn(s)
	}
	unlock := s.lock()
	defer unlock()

	snapshot := s.tx.st.clone()
	inner := &Store{tx: &tx{st: s.tx.st}}
	if err := fn(inner); err != nil {
		s.tx.st = snapshot
		return err
	}
	s.tx.st = inner.tx.st
	return nil
}

func (s *Store) withRead(fn func(st *state)) {
	if s.tx.root {
		unlock := s.lock()
		defer unlock()
	}
	fn(&s.tx.st)
}

func (s *Store) withWrite(fn func(st *state)) {
	s.withRead(fn)
}

// --- Faces ---

func (s *Store) CreateFace(ctx context.Context, face *store.Face) error {
	if s.CreateFaceError != nil {
		return s.CreateFaceError
	}
	if len(face.Embedding) != store.EmbeddingDim {
		return store.ErrInvalidInput
	}
	s.withWrite(func(st *state) {
		face.ID = st.nextFaceID
		st.nextFaceID++
		if face.CreatedAt.IsZero() {
			face.CreatedAt = time.Now()
		}
		st.faces[face.ID] = copyFace(face)
	})
	return nil
}

func (s *Store) GetFace(ctx context.Context, id int64) (*store.Face, error) {
	var found *store.Face
	s.withRead(func(st *state) {
		if f, ok := st.faces[id]; ok {
			found = copyFace(f)
		}
	})
	return found, nil
}

func (s *Store) ListFaces(ctx context.Context, filter store.FaceFilter) ([]store.Face, error) {
	if s.ListFacesError != nil {
		return nil, s.ListFacesError
	}
	var faces []store.Face
	s.withRead(func(st *state) {
		for _, f := range st.faces {
			if filter.Orphans && f.PersonID != nil {
				continue
			}
			if filter.PersonID != nil && (f.PersonID == nil || *f.PersonID != *filter.PersonID) {
				continue
			}
			faces = append(faces, *copyFace(f))
		}
	})
	sort.Slice(faces, func(i, j int) bool { return faces[i].ID < faces[j].ID })
	return faces, nil
}

func (s *Store) CountFaces(ctx context.Context, personID uuid.UUID) (int, error) {
	count := 0
	s.withRead(func(st *state) {
		for _, f := range st.faces {
			if f.PersonID != nil && *f.PersonID == personID {
				count++
			}
		}
	})
	return count, nil
}

func (s *Store) AssignFace(ctx context.Context, faceID int64, personID *uuid.UUID) error {
	err := store.ErrNotFound
	s.withWrite(func(st *state) {
		if f, ok := st.faces[faceID]; ok {
			if personID == nil {
				f.PersonID = nil
			} else {
				id := *personID
				f.PersonID = &id
			}
			err = nil
		}
	})
	return err
}

func (s *Store) ReassignFaces(ctx context.Context, from, to uuid.UUID) (int64, error) {
	var moved int64
	s.withWrite(func(st *state) {
		for _, f := range st.faces {
			if f.PersonID != nil && *f.PersonID == from {
				id := to
				f.PersonID = &id
				moved++
			}
		}
	})
	return moved, nil
}

func (s *Store) OrphanFaces(ctx context.Context, personID uuid.UUID) (int64, error) {
	var changed int64
	s.withWrite(func(st *state) {
		for _, f := range st.faces {
			if f.PersonID != nil && *f.PersonID == personID {
				f.PersonID = nil
				changed++
			}
		}
	})
	return changed, nil
}

func (s *Store) DeleteFace(ctx context.Context, id int64) error {
	err := store.ErrNotFound
	s.withWrite(func(st *state) {
		if _, ok := st.faces[id]; ok {
			delete(st.faces, id)
			err = nil
		}
	})
	return err
}

func (s *Store) ListImagePaths(ctx context.Context, personIDs []uuid.UUID) ([]string, error) {
	want := make(map[uuid.UUID]struct{}, len(personIDs))
	for _, id := range personIDs {
		want[id] = struct{}{}
	}

	type pathEntry struct {
		path    string
		created time.Time
	}
	var entries []pathEntry
	seen := make(map[string]struct{})
	s.withRead(func(st *state) {
		faces := make([]*store.Face, 0, len(st.faces))
		for _, f := range st.faces {
			faces = append(faces, f)
		}
		sort.Slice(faces, func(i, j int) bool {
			if !faces[i].CreatedAt.Equal(faces[j].CreatedAt) {
				return faces[i].CreatedAt.After(faces[j].CreatedAt)
			}
			return faces[i].ID > faces[j].ID
		})
		for _, f := range faces {
			if f.PersonID == nil {
				continue
			}
			if _, ok := want[*f.PersonID]; !ok {
				continue
			}
			if _, dup := seen[f.ImagePath]; dup {
				continue
			}
			seen[f.ImagePath] = struct{}{}
			entries = append(entries, pathEntry{f.ImagePath, f.CreatedAt})
		}
	})

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.path)
	}
	return paths, nil
}

// --- Persons ---

func (s *Store) CreatePerson(ctx context.Context, person *store.Person) error {
	s.withWrite(func(st *state) {
		if person.ID == uuid.Nil {
			person.ID = uuid.New()
		}
		now := time.Now()
		if person.CreatedAt.IsZero() {
			person.CreatedAt = now
		}
		person.UpdatedAt = now
		st.persons[person.ID] = copyPerson(person)
	})
	return nil
}

func (s *Store) GetPerson(ctx context.Context, id uuid.UUID) (*store.Person, error) {
	var found *store.Person
	s.withRead(func(st *state) {
		if p, ok := st.persons[id]; ok {
			found = copyPerson(p)
		}
	})
	return found, nil
}

func (s *Store) FindPersonByName(ctx context.Context, name string) (*store.Person, error) {
	normalized := store.NormalizePersonName(name)
	var found *store.Person
	s.withRead(func(st *state) {
		ids := sortedPersonIDs(st)
		for _, id := range ids {
			p := st.persons[id]
			if store.NormalizePersonName(p.Name) == normalized && p.Name != "" {
				found = copyPerson(p)
				return
			}
		}
	})
	return found, nil
}

func sortedPersonIDs(st *state) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(st.persons))
	for id := range st.persons {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := st.persons[ids[i]], st.persons[ids[j]]
		if !pi.CreatedAt.Equal(pj.CreatedAt) {
			return pi.CreatedAt.Before(pj.CreatedAt)
		}
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func (s *Store) ListPersons(ctx context.Context, filter store.PersonFilter) ([]store.Person, error) {
	if s.ListPersonsError != nil {
		return nil, s.ListPersonsError
	}
	var persons []store.Person
	s.withRead(func(st *state) {
		for _, id := range sortedPersonIDs(st) {
			p := st.persons[id]
			if filter.Claimed != nil && p.IsClaimed != *filter.Claimed {
				continue
			}
			if filter.UserID != nil && (p.UserID == nil || *p.UserID != *filter.UserID) {
				continue
			}
			persons = append(persons, *copyPerson(p))
		}
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(persons) {
			return nil, nil
		}
		persons = persons[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(persons) {
		persons = persons[:filter.Limit]
	}
	return persons, nil
}

func (s *Store) ClaimPerson(ctx context.Context, personID, userID uuid.UUID, name string) (bool, error) {
	claimed := false
	s.withWrite(func(st *state) {
		p, ok := st.persons[personID]
		if !ok || p.IsClaimed {
			return
		}
		id := userID
		p.IsClaimed = true
		p.UserID = &id
		p.Name = name
		p.UpdatedAt = time.Now()
		claimed = true
	})
	return claimed, nil
}

func (s *Store) UnclaimPerson(ctx context.Context, personID, userID uuid.UUID) (bool, error) {
	unclaimed := false
	s.withWrite(func(st *state) {
		p, ok := st.persons[personID]
		if !ok || p.UserID == nil || *p.UserID != userID {
			return
		}
		p.IsClaimed = false
		p.UserID = nil
		p.UpdatedAt = time.Now()
		unclaimed = true
	})
	return unclaimed, nil
}

func (s *Store) DeletePerson(ctx context.Context, id uuid.UUID) error {
	err := store.ErrNotFound
	s.withWrite(func(st *state) {
		if _, ok := st.persons[id]; ok {
			delete(st.persons, id)
			err = nil
		}
	})
	return err
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	s.withWrite(func(st *state) {
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now()
		}
		st.users[user.ID] = copyUser(user)
	})
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	var found *store.User
	s.withRead(func(st *state) {
		if u, ok := st.users[id]; ok {
			found = copyUser(u)
		}
	})
	return found, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var found *store.User
	s.withRead(func(st *state) {
		for _, u := range st.users {
			if u.Username == username {
				found = copyUser(u)
				return
			}
		}
	})
	return found, nil
}

func (s *Store) SetPrimaryPerson(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) error {
	err := store.ErrNotFound
	s.withWrite(func(st *state) {
		u, ok := st.users[userID]
		if !ok {
			return
		}
		if personID == nil {
			u.PersonID = nil
		} else {
			id := *personID
			u.PersonID = &id
		}
		err = nil
	})
	return err
}

var _ store.Store = (*Store)(nil)
