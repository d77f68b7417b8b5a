package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kozaktomas/face-vault/internal/store"
)

const userColumns = "id, username, password_hash, person_id, created_at"

func scanUser(scanner interface{ Scan(...any) error }) (*store.User, error) {
	var (
		user     store.User
		personID uuid.NullUUID
	)
	err := scanner.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &personID, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if personID.Valid {
		id := personID.UUID
		user.PersonID = &id
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	var personID any
	if user.PersonID != nil {
		personID = *user.PersonID
	}

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO users (id, username, password_hash, person_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`,
		user.ID, user.Username, user.PasswordHash, personID,
	).Scan(&user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("username %q: %w", user.Username, store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return user, nil
}

func (s *Store) SetPrimaryPerson(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) error {
	var pid any
	if personID != nil {
		pid = *personID
	}
	result, err := s.q.ExecContext(ctx,
		"UPDATE users SET person_id = $1 WHERE id = $2", pid, userID)
	if err != nil {
		return fmt.Errorf("set primary person of %s: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set primary person of %s: %w", userID, err)
	}
	if affected == 0 {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return nil
}
