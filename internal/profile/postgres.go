package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists user profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			pin_code TEXT,
			pin_created_at TIMESTAMPTZ,
			pin_updated_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const selectProfile = `SELECT id, email, pin_code, pin_created_at, pin_updated_at, created_at
	FROM user_profiles WHERE id=$1`

func (s *PostgresStore) Get(ctx context.Context, userID string) (UserProfile, error) {
	return s.scanOne(s.pool.QueryRow(ctx, selectProfile, userID))
}

func (s *PostgresStore) Ensure(ctx context.Context, user AuthenticatedUser) (UserProfile, error) {
	p, err := s.Get(ctx, user.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return UserProfile{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO user_profiles (id, email) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET email=EXCLUDED.email
		 RETURNING id, email, pin_code, pin_created_at, pin_updated_at, created_at`,
		user.ID, user.Email,
	)
	return s.scanOne(row)
}

func (s *PostgresStore) StoredPin(ctx context.Context, userID string) (string, error) {
	var pinCode *string
	err := s.pool.QueryRow(ctx,
		`SELECT pin_code FROM user_profiles WHERE id=$1`, userID,
	).Scan(&pinCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query stored pin: %w", err)
	}
	if pinCode == nil {
		return "", nil
	}
	return *pinCode, nil
}

func (s *PostgresStore) SetPin(ctx context.Context, userID, newPin string) (UserProfile, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE user_profiles
		 SET pin_code=$2,
		     pin_created_at=CASE WHEN pin_code IS NULL OR pin_code='' THEN $3 ELSE pin_created_at END,
		     pin_updated_at=$3
		 WHERE id=$1
		 RETURNING id, email, pin_code, pin_created_at, pin_updated_at, created_at`,
		userID, newPin, now,
	)
	return s.scanOne(row)
}

func (s *PostgresStore) ClearPin(ctx context.Context, userID string) (UserProfile, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE user_profiles
		 SET pin_code=NULL, pin_updated_at=$2
		 WHERE id=$1
		 RETURNING id, email, pin_code, pin_created_at, pin_updated_at, created_at`,
		userID, now,
	)
	return s.scanOne(row)
}

func (s *PostgresStore) scanOne(row pgx.Row) (UserProfile, error) {
	var (
		p       UserProfile
		pinCode *string
	)
	err := row.Scan(&p.ID, &p.Email, &pinCode, &p.PinCreatedAt, &p.PinUpdatedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserProfile{}, ErrNotFound
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("scan profile row: %w", err)
	}
	if pinCode != nil {
		p.PinCode = *pinCode
		p.PinSet = p.PinCode != ""
	}
	return p, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
