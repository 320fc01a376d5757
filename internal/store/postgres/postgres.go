// Package postgres stores tokens, counters and feedback in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GriffinCanCode/omnicall/internal/dedup"
	apperrors "github.com/GriffinCanCode/omnicall/internal/errors"
	"github.com/GriffinCanCode/omnicall/internal/resilience"
	"github.com/GriffinCanCode/omnicall/internal/store"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		matches_found INT NOT NULL DEFAULT 0,
		notifications_sent INT NOT NULL DEFAULT 0,
		last_match_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS device_tokens (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, token)
	);
	CREATE TABLE IF NOT EXISTS stats_global (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		total_users BIGINT NOT NULL DEFAULT 0,
		total_sends BIGINT NOT NULL DEFAULT 0,
		total_matches BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS stats_daily (
		day DATE PRIMARY KEY,
		users_today BIGINT NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS feedback (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS device_tokens_created_idx ON device_tokens (user_id, created_at);
	INSERT INTO stats_global (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

// Store implements store.Backend on a connection pool.
type Store struct {
	pool  *pgxpool.Pool
	owner string
	now   func() time.Time
}

var _ store.Backend = (*Store)(nil)

// Open connects with retry, migrates the schema and ensures the owner row.
func Open(ctx context.Context, dsn, owner string) (*Store, error) {
	var pool *pgxpool.Pool
	err := resilience.Retry(ctx, resilience.ConnectRetryConfig(), func(ctx context.Context) error {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			// A malformed DSN never heals.
			return apperrors.Wrap(err, apperrors.CodeInvalidConfig, "parse postgres dsn")
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "ping postgres")
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "initialize postgres schema")
	}

	s := &Store{pool: pool, owner: owner, now: time.Now}
	if _, err := pool.Exec(ctx, `INSERT INTO users (id, label) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, owner); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeStoreUnavailable, "ensure owner user")
	}
	trace.Logger(ctx).Info("postgres store ready", "owner", owner)
	return s, nil
}

func (s *Store) ListTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY created_at, token`, userID)
	if err != nil {
		return nil, s.unavailable(err, "list tokens")
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.unavailable(err, "scan tokens")
	}
	return tokens, nil
}

// AddToken registers a device token for userID. Re-adding is a no-op.
func (s *Store) AddToken(ctx context.Context, userID, token string) error {
	if _, err := s.pool.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return s.unavailable(err, "ensure user")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_tokens (user_id, token) VALUES ($1, $2)
		ON CONFLICT (user_id, token) DO NOTHING
	`, userID, token)
	return s.unavailable(err, "add token")
}

func (s *Store) IncrementSends(ctx context.Context, n int) error {
	return s.inTx(ctx, "increment sends", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE users SET notifications_sent = notifications_sent + $2 WHERE id = $1`, s.owner, n); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE stats_global SET total_sends = total_sends + $1, updated_at = NOW() WHERE id = 1`, n)
		return err
	})
}

func (s *Store) IncrementMatches(ctx context.Context, n int) error {
	_, err := s.pool.Exec(ctx, `UPDATE stats_global SET total_matches = total_matches + $1, updated_at = NOW() WHERE id = 1`, n)
	return s.unavailable(err, "increment matches")
}

func (s *Store) RecordUserRegistered(ctx context.Context) error {
	return s.inTx(ctx, "record user", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE stats_global SET total_users = total_users + 1, updated_at = NOW() WHERE id = 1`); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO stats_daily (day, users_today) VALUES ($1::date, 1)
			ON CONFLICT (day) DO UPDATE SET users_today = stats_daily.users_today + 1
		`, store.DayKey(s.now()))
		return err
	})
}

func (s *Store) LoadLastMatch(ctx context.Context, userID string) (dedup.State, error) {
	var st dedup.State
	err := s.pool.QueryRow(ctx, `SELECT matches_found, last_match_at FROM users WHERE id = $1`, userID).
		Scan(&st.TotalMatches, &st.LastMatchAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return dedup.State{}, nil
	}
	if err != nil {
		return dedup.State{}, s.unavailable(err, "load last match")
	}
	return st, nil
}

// SaveLastMatch upserts the counter; GREATEST keeps it from moving back.
func (s *Store) SaveLastMatch(ctx context.Context, userID string, st dedup.State) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, matches_found, last_match_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			matches_found = GREATEST(users.matches_found, EXCLUDED.matches_found),
			last_match_at = GREATEST(users.last_match_at, EXCLUDED.last_match_at)
	`, userID, st.TotalMatches, st.LastMatchAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStateSave, "save last match").WithMetadata("user", userID)
	}
	return nil
}

func (s *Store) RegisterUser(ctx context.Context, label string) (string, error) {
	id := store.NewUserID(label)
	if _, err := s.pool.Exec(ctx, `INSERT INTO users (id, label) VALUES ($1, $2)`, id, label); err != nil {
		return "", s.unavailable(err, "create user")
	}
	if err := s.RecordUserRegistered(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SubmitFeedback(ctx context.Context, f store.Feedback) error {
	if err := store.ValidateFeedback(f); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO feedback (user_id, display_name, message) VALUES ($1, $2, $3)`,
		f.UserID, f.DisplayName, f.Message)
	return s.unavailable(err, "submit feedback")
}

func (s *Store) FetchStats(ctx context.Context, userID string) (store.PersonalStats, store.GlobalStats, error) {
	var g store.GlobalStats
	err := s.pool.QueryRow(ctx, `SELECT total_users, total_sends, total_matches, updated_at FROM stats_global WHERE id = 1`).
		Scan(&g.TotalUsers, &g.TotalSends, &g.TotalMatches, &g.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.PersonalStats{}, g, s.unavailable(err, "fetch global stats")
	}

	err = s.pool.QueryRow(ctx, `SELECT users_today FROM stats_daily WHERE day = $1::date`, store.DayKey(s.now())).Scan(&g.UsersToday)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.PersonalStats{}, g, s.unavailable(err, "fetch daily stats")
	}

	p := store.PersonalStats{UserID: userID}
	err = s.pool.QueryRow(ctx, `SELECT matches_found, notifications_sent, last_match_at FROM users WHERE id = $1`, userID).
		Scan(&p.MatchesFound, &p.NotificationsSent, &p.LastMatchAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, g, apperrors.New(apperrors.CodeNotFound, "user not found").WithMetadata("user", userID)
	}
	if err != nil {
		return p, g, s.unavailable(err, "fetch personal stats")
	}
	return p, g, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.unavailable(err, op)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return s.unavailable(err, op)
	}
	return s.unavailable(tx.Commit(ctx), op)
}

func (s *Store) unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(err, apperrors.CodeStoreUnavailable, op)
}
