package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-vault/internal/store"
)

const personColumns = "id, name, is_claimed, user_id, metadata, created_at, updated_at"

func scanPerson(scanner interface{ Scan(...any) error }) (*store.Person, error) {
	var (
		person   store.Person
		userID   uuid.NullUUID
		metadata []byte
	)
	err := scanner.Scan(
		&person.ID, &person.Name, &person.IsClaimed, &userID, &metadata,
		&person.CreatedAt, &person.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		id := userID.UUID
		person.UserID = &id
	}
	if len(metadata) > 0 {
		person.Metadata = json.RawMessage(metadata)
	}
	return &person, nil
}

func (s *Store) CreatePerson(ctx context.Context, person *store.Person) error {
	if person.ID == uuid.Nil {
		person.ID = uuid.New()
	}

	var userID any
	if person.UserID != nil {
		userID = *person.UserID
	}
	var metadata any
	if len(person.Metadata) > 0 {
		metadata = []byte(person.Metadata)
	}

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO persons (id, name, is_claimed, user_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`,
		person.ID, person.Name, person.IsClaimed, userID, metadata,
	).Scan(&person.CreatedAt, &person.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (s *Store) GetPerson(ctx context.Context, id uuid.UUID) (*store.Person, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+personColumns+" FROM persons WHERE id = $1", id)

	person, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person %s: %w", id, err)
	}
	return person, nil
}

// FindPersonByName normalizes both the stored name and the input in SQL so
// "jan-novak" finds "Jan Novák". Diacritics folding happens in Go because
// unaccent is an optional postgres extension.
func (s *Store) FindPersonByName(ctx context.Context, name string) (*store.Person, error) {
	normalized := store.NormalizePersonName(name)
	if normalized == "" {
		return nil, nil
	}

	// Candidate set first: case and dash insensitive match is cheap in SQL,
	// the exact normalized comparison runs in Go over the few candidates.
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE name <> ''
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query persons by name: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		if store.NormalizePersonName(person.Name) == normalized {
			return person, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return nil, nil
}

func (s *Store) ListPersons(ctx context.Context, filter store.PersonFilter) ([]store.Person, error) {
	query := "SELECT " + personColumns + " FROM persons"
	var (
		args  []any
		where []string
	)
	if filter.Claimed != nil {
		args = append(args, *filter.Claimed)
		where = append(where, "is_claimed = $"+strconv.Itoa(len(args)))
	}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, "user_id = $"+strconv.Itoa(len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	defer rows.Close()

	var persons []store.Person
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, *person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// ClaimPerson flips is_claimed in a single conditional update so two
// concurrent claimers cannot both win.
func (s *Store) ClaimPerson(ctx context.Context, personID, userID uuid.UUID, name string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE persons
		SET is_claimed = TRUE, user_id = $1, name = $2, updated_at = NOW()
		WHERE id = $3 AND is_claimed = FALSE
	`, userID, name, personID)
	if err != nil {
		return false, fmt.Errorf("claim person %s: %w", personID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim person %s: %w", personID, err)
	}
	return affected == 1, nil
}

func (s *Store) UnclaimPerson(ctx context.Context, personID, userID uuid.UUID) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE persons
		SET is_claimed = FALSE, user_id = NULL, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, personID, userID)
	if err != nil {
		return false, fmt.Errorf("unclaim person %s: %w", personID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unclaim person %s: %w", personID, err)
	}
	return affected == 1, nil
}

func (s *Store) DeletePerson(ctx context.Context, id uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, "DELETE FROM persons WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete person %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete person %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("person %s: %w", id, store.ErrNotFound)
	}
	return nil
}
