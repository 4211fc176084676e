package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/aegis-orchestrator/internal/types"
)

const redisKeyPrefix = "aegis:consent:"

// Record is a consent decision made by a user.
type Record struct {
	UserID       string             `json:"user_id"`
	ConsentType  types.ConsentType  `json:"consent_type"`
	DataCategory types.DataCategory `json:"data_category"`
	Granted      bool               `json:"granted"`
	Source       string             `json:"source,omitempty"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
}

// Recorder persists consent decisions.
type Recorder interface {
	RecordConsent(ctx context.Context, rec Record) error
}

// GrantLister returns every consent currently granted by a user.
type GrantLister interface {
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
}

// dbtx is the subset of pgxpool.Pool used by PostgresStore.
type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore reads consent_records with a Redis read-through cache. The
// latest unexpired record for (user, type, category) decides.
type PostgresStore struct {
	db    dbtx
	redis *redis.Client
	ttl   time.Duration
}

func NewPostgresStore(db dbtx, rdb *redis.Client, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, redis: rdb, ttl: ttl}
}

func cacheKey(userID string, ct types.ConsentType, dc types.DataCategory) string {
	return redisKeyPrefix + userID + ":" + string(ct) + ":" + string(dc)
}

func (s *PostgresStore) HasConsent(ctx context.Context, userID string, ct types.ConsentType, dc types.DataCategory) (bool, error) {
	key := cacheKey(userID, ct, dc)
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, key).Result()
		if err == nil {
			return cached == "1", nil
		}
	}

	var granted bool
	err := s.db.QueryRow(ctx, `
		SELECT granted
		FROM consent_records
		WHERE user_id = $1
		  AND consent_type = $2
		  AND data_category = $3
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY recorded_at DESC
		LIMIT 1
	`, userID, string(ct), string(dc)).Scan(&granted)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("query consent_records: %w", err)
		}
		granted = false
	}

	if s.redis != nil && s.ttl > 0 {
		val := "0"
		if granted {
			val = "1"
		}
		s.redis.Set(ctx, key, val, s.ttl)
	}
	return granted, nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (consent_type, data_category) consent_type, data_category, granted
		FROM consent_records
		WHERE user_id = $1
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY consent_type, data_category, recorded_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query consent grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var ct, dc string
		var granted bool
		if err := rows.Scan(&ct, &dc, &granted); err != nil {
			return nil, fmt.Errorf("scan consent grant: %w", err)
		}
		if granted {
			grants = append(grants, Grant{ConsentType: types.ConsentType(ct), DataCategory: types.DataCategory(dc)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent grants: %w", err)
	}
	return grants, nil
}

// RecordConsent appends a decision and invalidates the cached answer.
func (s *PostgresStore) RecordConsent(ctx context.Context, rec Record) error {
	source := rec.Source
	if source == "" {
		source = "api"
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO consent_records (user_id, consent_type, data_category, granted, source, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.UserID, string(rec.ConsentType), string(rec.DataCategory), rec.Granted, source, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	if s.redis != nil {
		s.redis.Del(ctx, cacheKey(rec.UserID, rec.ConsentType, rec.DataCategory))
	}
	return nil
}

// WithdrawConsent records a revocation.
func (s *PostgresStore) WithdrawConsent(ctx context.Context, userID string, ct types.ConsentType, dc types.DataCategory) error {
	return s.RecordConsent(ctx, Record{
		UserID:       userID,
		ConsentType:  ct,
		DataCategory: dc,
		Granted:      false,
		Source:       "withdrawal",
	})
}
