// Package repository is the PostgreSQL persistence core of the check-in
// bot: group/user state, the multi-table statistics fan-out, resets,
// reporting reads and retention cleanup. All date-sensitive operations
// go through the group's business date.
package repository

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okoshkin/checkin-bot/internal/cache"
	"github.com/okoshkin/checkin-bot/internal/config"
)

const (
	keyActivityLimits = "activity_limits"
	keyPushSettings   = "push_settings"

	userCacheTTL  = 30 * time.Second
	groupCacheTTL = 300 * time.Second
)

func userKey(chatID, userID int64) string { return fmt.Sprintf("user:%d:%d", chatID, userID) }
func groupKey(chatID int64) string        { return fmt.Sprintf("group:%d", chatID) }

// Repository owns the connection pool and the process-local cache.
type Repository struct {
	cfg   *config.Config
	cache *cache.Cache

	mu   sync.RWMutex
	pool *pgxpool.Pool

	// txHook is a test-only failpoint injected between fan-out writes.
	txHook func(step string) error
}

func New(cfg *config.Config) *Repository {
	return &Repository{cfg: cfg, cache: cache.New()}
}

// Connect establishes the pool, creates the schema and seeds default
// configuration, retrying with exponential backoff. It must succeed
// before any other method is used; after exhausting the retry budget
// the last error propagates.
func (r *Repository) Connect(ctx context.Context) error {
	const maxRetries = 5
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		log.Printf("connecting to postgres (attempt %d/%d)", attempt+1, maxRetries)
		if err = r.initialize(ctx); err == nil {
			log.Printf("postgres ready")
			return nil
		}
		log.Printf("postgres connect attempt %d failed: %v", attempt+1, err)
		if attempt < maxRetries-1 {
			select {
			case <-time.After(time.Duration(1<<attempt) * 2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("postgres connect after %d attempts: %w", maxRetries, err)
}

func (r *Repository) initialize(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(r.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MinConns = r.cfg.PoolMinConns
	poolCfg.MaxConns = r.cfg.PoolMaxConns
	poolCfg.MaxConnIdleTime = r.cfg.PoolMaxIdleTime
	poolCfg.ConnConfig.ConnectTimeout = r.cfg.ConnectTimeout
	// All date arithmetic happens in the deployment timezone.
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "Asia/Shanghai"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping: %w", err)
	}

	if err := createSchema(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	createIndexes(ctx, pool)
	if err := seedDefaults(ctx, pool, r.cfg.Defaults); err != nil {
		pool.Close()
		return err
	}

	r.mu.Lock()
	if r.pool != nil {
		r.pool.Close()
	}
	r.pool = pool
	r.mu.Unlock()
	return nil
}

func (r *Repository) db() *pgxpool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

// Close shuts the pool down.
func (r *Repository) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

// HealthCheck runs a cheap round-trip query, retrying once to ride out
// transient disconnects. It never returns an error; callers react to
// the boolean.
func (r *Repository) HealthCheck(ctx context.Context) bool {
	pool := r.db()
	if pool == nil {
		log.Printf("health check: pool not initialized")
		return false
	}
	for attempt := 0; attempt < 2; attempt++ {
		var one int
		err := pool.QueryRow(ctx, "SELECT 1").Scan(&one)
		if err == nil && one == 1 {
			return true
		}
		log.Printf("health check attempt %d failed: %v", attempt+1, err)
		if attempt == 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return false
			}
		}
	}
	return false
}

// Reconnect tears the pool down, clears every cache and rebuilds the
// connection, verifying with a health check. Used when a live query or
// the health probe reports a connectivity error.
func (r *Repository) Reconnect(ctx context.Context) bool {
	const maxRetries = 3
	log.Printf("reconnecting to postgres")
	for attempt := 1; attempt <= maxRetries; attempt++ {
		r.Close()
		r.cache.Clear()
		if err := r.initialize(ctx); err != nil {
			log.Printf("reconnect attempt %d failed: %v", attempt, err)
		} else if r.HealthCheck(ctx) {
			log.Printf("reconnected (attempt %d)", attempt)
			return true
		} else {
			log.Printf("reconnect attempt %d: health check failed", attempt)
		}
		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			case <-ctx.Done():
				return false
			}
		}
	}
	log.Printf("reconnect failed after %d attempts", maxRetries)
	return false
}

// SweepCache drops expired cache entries.
func (r *Repository) SweepCache() int { return r.cache.Sweep() }

// RefreshConfigCache drops and repopulates the configuration caches.
// Used after admin edits that must be visible immediately.
func (r *Repository) RefreshConfigCache(ctx context.Context) {
	r.cache.Invalidate(keyActivityLimits, keyPushSettings)
	if _, err := r.ActivityLimits(ctx); err != nil {
		log.Printf("refresh activity limits: %v", err)
	}
	if _, err := r.PushSettings(ctx); err != nil {
		log.Printf("refresh push settings: %v", err)
	}
}

// Stats reports basic repository state for diagnostics.
func (r *Repository) Stats() map[string]any {
	pool := r.db()
	stats := map[string]any{
		"type":        "postgresql",
		"initialized": pool != nil,
		"cache_size":  r.cache.Len(),
	}
	if pool != nil {
		stats["total_conns"] = pool.Stat().TotalConns()
	}
	return stats
}

// DatabaseSize returns the size of the connected database in bytes.
func (r *Repository) DatabaseSize(ctx context.Context) (int64, error) {
	var size int64
	err := r.db().QueryRow(ctx, "SELECT pg_database_size(current_database())").Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("database size: %w", err)
	}
	return size, nil
}

// inTx runs fn inside a transaction, rolling back on any error.
func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
