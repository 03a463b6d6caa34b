// Package kvtest provides throwaway kv backends for tests.
package kvtest

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bryan-buckman/newsdex/internal/kv"
)

// PostgresEnv names the variable holding a DSN for a disposable PostgreSQL
// database. When set, Backends includes PostgreSQL; its tables are truncated.
const PostgresEnv = "NEWSDEX_TEST_POSTGRES_DSN"

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a Clock stopped at t.
func NewClock(t time.Time) *Clock { return &Clock{t: t} }

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Add moves the clock forward by d.
func (c *Clock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Backend is one store under test.
type Backend struct {
	Name  string
	Store kv.Store

	// Advance moves the store's expiry clock forward.
	Advance func(time.Duration)
}

// Backends returns a fresh SQLite store, a miniredis-backed store, and a
// PostgreSQL store when PostgresEnv is set. All are closed on cleanup.
func Backends(t *testing.T) []Backend {
	t.Helper()
	lite, clock := SQLite(t)
	rs, mr := Redis(t)
	out := []Backend{
		{Name: "sqlite", Store: lite, Advance: clock.Add},
		{Name: "redis", Store: rs, Advance: mr.FastForward},
	}
	if dsn := os.Getenv(PostgresEnv); dsn != "" {
		pg, pgClock := Postgres(t, dsn)
		out = append(out, Backend{Name: "postgres", Store: pg, Advance: pgClock.Add})
	}
	return out
}

// SQLite opens a store in a temp dir with a controllable expiry clock.
func SQLite(t *testing.T) (*kv.SQLStore, *Clock) {
	t.Helper()
	clock := NewClock(time.Now())
	st, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), kv.Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, clock
}

// Redis starts a miniredis server and returns a store connected to it.
func Redis(t *testing.T) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := kv.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), kv.Options{})
	t.Cleanup(func() { st.Close() })
	return st, mr
}

// Postgres opens a store on dsn and empties its tables.
func Postgres(t *testing.T, dsn string) (*kv.SQLStore, *Clock) {
	t.Helper()
	clock := NewClock(time.Now())
	st, err := kv.OpenPostgres(dsn, kv.Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("opening postgres store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	raw, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec("TRUNCATE kv_strings, kv_hashes, kv_zsets, kv_sets, kv_expiry"); err != nil {
		t.Fatalf("truncating postgres tables: %v", err)
	}
	return st, clock
}
