package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const epochPrefix = "sv:"

// EpochLoader reads the authoritative session version from the database.
type EpochLoader interface {
	SessionVersion(ctx context.Context, userID uuid.UUID) (int, error)
}

// EpochStore answers "what is this user's session version right now".
// The users table is the source of truth. When a redis client is configured
// versions are cached under sv:<user id>; bumps write through so every
// instance sees the new value immediately.
type EpochStore struct {
	loader EpochLoader
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger zerolog.Logger
}

// NewEpochStore builds a store. rdb may be nil, in which case every lookup
// goes to the database.
func NewEpochStore(loader EpochLoader, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *EpochStore {
	return &EpochStore{
		loader: loader,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "session_epoch").Logger(),
	}
}

func epochKey(userID uuid.UUID) string {
	return epochPrefix + userID.String()
}

// Current returns the user's session version. Concurrent cache misses for the
// same user share one database read.
func (s *EpochStore) Current(ctx context.Context, userID uuid.UUID) (int, error) {
	if s.rdb != nil {
		raw, err := s.rdb.Get(ctx, epochKey(userID)).Result()
		switch {
		case err == nil:
			if v, convErr := strconv.Atoi(raw); convErr == nil {
				return v, nil
			}
			s.logger.Warn().Str("user_id", userID.String()).Str("value", raw).Msg("discarding malformed cached session version")
		case errors.Is(err, redis.Nil):
		default:
			s.logger.Warn().Err(err).Msg("session version cache read failed, using database")
		}
	}

	v, err, _ := s.group.Do(userID.String(), func() (interface{}, error) {
		version, err := s.loader.SessionVersion(ctx, userID)
		if err != nil {
			return 0, err
		}
		if s.rdb != nil {
			// SETNX so a concurrent Bumped is never overwritten by an older read.
			if err := s.rdb.SetNX(ctx, epochKey(userID), version, s.ttl).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("session version cache fill failed")
			}
		}
		return version, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Bumped records a version that has already been committed to the database.
// If the cache cannot be updated the entry is dropped so the next lookup
// reads the database.
func (s *EpochStore) Bumped(ctx context.Context, userID uuid.UUID, version int) error {
	if s.rdb == nil {
		return nil
	}
	key := epochKey(userID)
	if err := s.rdb.Set(ctx, key, version, s.ttl).Err(); err != nil {
		if delErr := s.rdb.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("update cached session version: %w", errors.Join(err, delErr))
		}
	}
	s.logger.Debug().Str("user_id", userID.String()).Int("session_version", version).Msg("session version bumped")
	return nil
}

// Forget drops the cached version of a deleted user.
func (s *EpochStore) Forget(ctx context.Context, userID uuid.UUID) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, epochKey(userID)).Err(); err != nil {
		return fmt.Errorf("forget session version: %w", err)
	}
	return nil
}
