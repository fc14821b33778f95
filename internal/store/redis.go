package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bartab/internal/economy"
)

// CachedStore wraps a primary store with Redis. Account records are cached
// read-through and written through on every save. A cached copy that fell
// behind the primary carries an old revision, so saving against it conflicts
// and evicts it. Cooldown stamps live only in Redis, where the key TTL does
// the expiry.
type CachedStore struct {
	economy.Store
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewCachedStore(primary economy.Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl, log: logger}
}

// --- Accounts ---

func (s *CachedStore) LoadAccount(ctx context.Context, userID int64) (economy.Record, error) {
	vals, err := s.rdb.HGetAll(ctx, accountKey(userID)).Result()
	if err == nil && len(vals) > 0 {
		if rec, ok := decodeRecord(userID, vals); ok {
			return rec, nil
		}
	}

	rec, err := s.Store.LoadAccount(ctx, userID)
	if err != nil {
		return economy.Record{}, err
	}
	if err := s.cacheAccount(ctx, rec); err != nil {
		s.log.Debug("account cache fill failed", "user_id", userID, "err", err)
	}
	return rec, nil
}

func (s *CachedStore) SaveAccount(ctx context.Context, rec economy.Record) error {
	key := accountKey(rec.UserID)
	err := s.Store.SaveAccount(ctx, rec)
	if errors.Is(err, economy.ErrConflict) {
		if derr := s.rdb.Del(ctx, key).Err(); derr != nil {
			return fmt.Errorf("%w (evict cached account %d: %v)", err, rec.UserID, derr)
		}
		return err
	}
	if err != nil {
		return err
	}

	rec.Revision++
	cerr := s.cacheAccount(ctx, rec)
	if cerr == nil {
		return nil
	}
	if derr := s.rdb.Del(ctx, key).Err(); derr != nil {
		// The primary has the write. A stale entry left here only costs the
		// next save a conflict and a reload.
		s.log.Warn("account cache left stale", "user_id", rec.UserID, "write_err", cerr, "evict_err", derr)
	}
	return nil
}

// --- Cooldowns ---

func (s *CachedStore) StampCooldown(ctx context.Context, userID int64, action string, at time.Time, ttl time.Duration) error {
	return s.rdb.Set(ctx, cooldownKeyFor(userID, action), at.UnixNano(), ttl).Err()
}

func (s *CachedStore) CooldownStamp(ctx context.Context, userID int64, action string, _ time.Time) (time.Time, error) {
	n, err := s.rdb.Get(ctx, cooldownKeyFor(userID, action)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, economy.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

// PurgeCooldowns has nothing to do: Redis expires the keys itself.
func (s *CachedStore) PurgeCooldowns(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, rec economy.Record) error {
	key := accountKey(rec.UserID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"schema_version", rec.SchemaVersion,
		"networth", rec.Networth,
		"doc", rec.Doc,
		"updated_at", rec.UpdatedAt.UnixNano(),
		"revision", rec.Revision,
	)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func decodeRecord(userID int64, vals map[string]string) (economy.Record, bool) {
	version, err := strconv.Atoi(vals["schema_version"])
	if err != nil {
		return economy.Record{}, false
	}
	networth, err := strconv.ParseInt(vals["networth"], 10, 64)
	if err != nil {
		return economy.Record{}, false
	}
	updated, err := strconv.ParseInt(vals["updated_at"], 10, 64)
	if err != nil {
		return economy.Record{}, false
	}
	revision, err := strconv.ParseInt(vals["revision"], 10, 64)
	if err != nil {
		return economy.Record{}, false
	}
	doc, ok := vals["doc"]
	if !ok || doc == "" {
		return economy.Record{}, false
	}
	return economy.Record{
		UserID:        userID,
		SchemaVersion: version,
		Networth:      networth,
		Doc:           []byte(doc),
		UpdatedAt:     time.Unix(0, updated).UTC(),
		Revision:      revision,
	}, true
}

func accountKey(uid int64) string { return fmt.Sprintf("bartab:account:%d", uid) }
func cooldownKeyFor(uid int64, action string) string {
	return fmt.Sprintf("bartab:cooldown:%d:%s", uid, action)
}
