// Package lock serializes work on a shared key across processes. Merges
// take one lock per duplicate group so two operators cannot pick different
// principals for the same group at once.
package lock

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-engine/internal/db"
)

// DistLock is a single non-blocking lock on one key. An instance is used
// by one goroutine; concurrent holders need separate instances.
type DistLock interface {
	// Acquire tries to take the lock and returns false if someone else holds it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still owns it.
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire on their own. Extend pushes
// the expiry out to ttl from now and returns false once the lock is no
// longer owned.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

// Locker hands out locks for arbitrary keys.
type Locker interface {
	NewLock(key string, ttl time.Duration) DistLock
}

// NewLocker picks the best available backend: Redis when a client is
// given, Postgres advisory locks when a pool is given, otherwise an
// in-process lock table.
func NewLocker(client *redis.Client, pool db.Pool) Locker {
	switch {
	case client != nil:
		return RedisLocker{Client: client}
	case pool != nil:
		return PGLocker{Pool: pool}
	default:
		return NewMemoryLocker()
	}
}

// RedisLocker creates RedisLocks.
type RedisLocker struct {
	Client *redis.Client
}

// NewLock implements Locker.
func (r RedisLocker) NewLock(key string, ttl time.Duration) DistLock {
	return NewRedisLock(r.Client, key, ttl)
}

// PGLocker creates PGAdvisoryLocks.
type PGLocker struct {
	Pool db.Pool
}

// NewLock implements Locker. The ttl is unused: the lock lives as long as
// the transaction holding it.
func (p PGLocker) NewLock(key string, _ time.Duration) DistLock {
	return NewPGAdvisoryLock(p.Pool, key)
}

// PGAdvisoryLock takes a transaction-scoped advisory lock and keeps the
// transaction open until Release. The lock is dropped by Postgres if the
// connection dies.
type PGAdvisoryLock struct {
	pool   db.Pool
	lockID int64
	mu     sync.Mutex
	tx     interface{ Rollback(context.Context) error }
}

// NewPGAdvisoryLock derives a deterministic lock id from key.
func NewPGAdvisoryLock(pool db.Pool, key string) *PGAdvisoryLock {
	return &PGAdvisoryLock{pool: pool, lockID: KeyID(key)}
}

// KeyID hashes a lock key to a Postgres advisory lock id.
func KeyID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// Acquire implements DistLock.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx != nil {
		return true, nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "lock: begin advisory tx")
	}
	var acquired bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", l.lockID).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return false, eris.Wrap(err, "lock: try advisory lock")
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return false, nil
	}
	l.tx = tx
	return true, nil
}

// Release implements DistLock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tx == nil {
		return nil
	}
	err := l.tx.Rollback(ctx)
	l.tx = nil
	return eris.Wrap(err, "lock: release advisory lock")
}

// MemoryLocker is an in-process lock table for single-node deployments
// (the SQLite store).
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryHold
	now  func() time.Time
}

type memoryHold struct {
	owner   *memoryLock
	expires time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryHold), now: time.Now}
}

// NewLock implements Locker. A ttl <= 0 never expires.
func (m *MemoryLocker) NewLock(key string, ttl time.Duration) DistLock {
	return &memoryLock{table: m, key: key, ttl: ttl}
}

type memoryLock struct {
	table *MemoryLocker
	key   string
	ttl   time.Duration
}

func (l *memoryLock) Acquire(_ context.Context) (bool, error) {
	m := l.table
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[l.key]; ok && h.owner != l && (h.expires.IsZero() || now.Before(h.expires)) {
		return false, nil
	}
	var exp time.Time
	if l.ttl > 0 {
		exp = now.Add(l.ttl)
	}
	m.held[l.key] = memoryHold{owner: l, expires: exp}
	return true, nil
}

func (l *memoryLock) Release(_ context.Context) error {
	m := l.table
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.held[l.key]; ok && h.owner == l {
		delete(m.held, l.key)
	}
	return nil
}

// Extend implements Extender.
func (l *memoryLock) Extend(_ context.Context, ttl time.Duration) (bool, error) {
	m := l.table
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	h, ok := m.held[l.key]
	if !ok || h.owner != l || (!h.expires.IsZero() && !now.Before(h.expires)) {
		return false, nil
	}
	if ttl > 0 {
		h.expires = now.Add(ttl)
	}
	m.held[l.key] = h
	return true, nil
}
