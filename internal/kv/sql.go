package kv

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name        string
	rebind      func(string) string
	memberOrder string // ORDER BY expression giving byte-wise member order
	concurrent  bool
	txOptions   *sql.TxOptions
	isConflict  func(error) bool
}

func (d dialect) classify(op string, err error, fallback error) error {
	switch {
	case d.isConflict != nil && d.isConflict(err):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", fallback, op, err)
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps the key-value model in five tables: strings, field maps,
// sorted sets, sets, and an expiry table shared by strings and field maps.
// Expired keys are invisible to reads and physically removed by Purge.
type SQLStore struct {
	sqlReader
	db *sql.DB
}

var (
	_ Store  = (*SQLStore)(nil)
	_ Purger = (*SQLStore)(nil)
)

func newSQLStore(db *sql.DB, d dialect, opts Options) *SQLStore {
	return &SQLStore{
		sqlReader: sqlReader{q: db, d: d, now: opts.clock(), timeout: opts.Timeout},
		db:        db,
	}
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Backend returns the database backend name.
func (s *SQLStore) Backend() string {
	return s.d.name
}

// SupportsHighConcurrency reports whether the backend handles parallel writers.
func (s *SQLStore) SupportsHighConcurrency() bool {
	return s.d.concurrent
}

// Atomic runs fn against a fresh transaction and commits it. Write-only
// batches run at the default isolation level.
func (s *SQLStore) Atomic(ctx context.Context, fn func(Pipeline)) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.d.classify("begin", err, ErrUnavailable)
	}
	p := &sqlPipe{ctx: ctx, tx: tx, d: s.d, now: s.now().UnixMilli()}
	fn(p)
	if p.err != nil {
		_ = tx.Rollback()
		return s.d.classify("exec", p.err, ErrBatchFailed)
	}
	if err := tx.Commit(); err != nil {
		return s.d.classify("commit", err, ErrBatchFailed)
	}
	return nil
}

// Update runs fn in a transaction. SQL transactions already isolate the
// reads fn makes, so watch keys need no extra bookkeeping.
func (s *SQLStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error, watch ...string) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, s.d.txOptions)
	if err != nil {
		return s.d.classify("begin", err, ErrUnavailable)
	}
	t := &sqlTx{
		sqlReader: sqlReader{q: tx, d: s.d, now: s.now},
		tx:        tx,
	}
	if err := fn(ctx, t); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.d.classify("commit", err, ErrBatchFailed)
	}
	return nil
}

// Purge deletes expired strings and field maps.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	now := s.now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, s.d.txOptions)
	if err != nil {
		return 0, s.d.classify("purge", err, ErrUnavailable)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM kv_hashes WHERE key IN (SELECT key FROM kv_expiry WHERE expires_at <= ?)`,
		`DELETE FROM kv_strings WHERE key IN (SELECT key FROM kv_expiry WHERE expires_at <= ?)`,
	} {
		if _, err := tx.ExecContext(ctx, s.d.rebind(q), now); err != nil {
			return 0, s.d.classify("purge", err, ErrBatchFailed)
		}
	}
	res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM kv_expiry WHERE expires_at <= ?`), now)
	if err != nil {
		return 0, s.d.classify("purge", err, ErrBatchFailed)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.d.classify("purge", err, ErrBatchFailed)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Reads ---

type sqlReader struct {
	q       queryer
	d       dialect
	now     func() time.Time
	timeout time.Duration
}

// live filters out rows of expired keys; it takes the current time as its
// only argument.
func live(table string) string {
	return ` AND NOT EXISTS (SELECT 1 FROM kv_expiry e WHERE e.key = ` + table + `.key AND e.expires_at <= ?)`
}

func (r sqlReader) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	var v string
	err := r.q.QueryRowContext(ctx,
		r.d.rebind(`SELECT value FROM kv_strings WHERE key = ?`+live("kv_strings")),
		key, r.now().UnixMilli()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, r.d.classify("get "+key, err, ErrUnavailable)
	}
	return v, true, nil
}

func (r sqlReader) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	out, err := r.HGetAllMulti(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (r sqlReader) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	pos := make(map[string][]int, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		out[i] = map[string]string{}
		if _, seen := pos[k]; !seen {
			args = append(args, k)
		}
		pos[k] = append(pos[k], i)
	}
	args = append(args, r.now().UnixMilli())
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)-1), ",")

	rows, err := r.q.QueryContext(ctx,
		r.d.rebind(`SELECT key, field, value FROM kv_hashes WHERE key IN (`+placeholders+`)`+live("kv_hashes")),
		args...)
	if err != nil {
		return nil, r.d.classify("hgetall", err, ErrUnavailable)
	}
	defer rows.Close()
	for rows.Next() {
		var key, field, value string
		if err := rows.Scan(&key, &field, &value); err != nil {
			return nil, r.d.classify("hgetall", err, ErrUnavailable)
		}
		for _, i := range pos[key] {
			out[i][field] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, r.d.classify("hgetall", err, ErrUnavailable)
	}
	return out, nil
}

func (r sqlReader) ZCard(ctx context.Context, key string) (int64, error) {
	return r.count(ctx, "zcard "+key, `SELECT COUNT(*) FROM kv_zsets WHERE key = ?`, key)
}

func (r sqlReader) ZCount(ctx context.Context, key string, rng ScoreRange) (int64, error) {
	where, args := scoreWhere(rng)
	return r.count(ctx, "zcount "+key, `SELECT COUNT(*) FROM kv_zsets WHERE key = ?`+where, append([]any{key}, args...)...)
}

func (r sqlReader) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	var n int64
	if err := r.q.QueryRowContext(ctx, r.d.rebind(query), args...).Scan(&n); err != nil {
		return 0, r.d.classify(op, err, ErrUnavailable)
	}
	return n, nil
}

func (r sqlReader) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	var score float64
	err := r.q.QueryRowContext(ctx,
		r.d.rebind(`SELECT score FROM kv_zsets WHERE key = ? AND member = ?`), key, member).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, r.d.classify("zscore "+key, err, ErrUnavailable)
	}
	return score, true, nil
}

func (r sqlReader) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if start < 0 {
		start = 0
	}
	limit := int64(math.MaxInt64)
	if stop >= 0 {
		if stop < start {
			return []string{}, nil
		}
		limit = stop - start + 1
	}
	query := `SELECT member FROM kv_zsets WHERE key = ? ORDER BY score DESC, ` + r.d.memberOrder + ` DESC LIMIT ? OFFSET ?`
	return r.members(ctx, "zrevrange "+key, query, key, limit, start)
}

func (r sqlReader) ZRangeByScore(ctx context.Context, key string, rng ScoreRange) ([]string, error) {
	where, args := scoreWhere(rng)
	query := `SELECT member FROM kv_zsets WHERE key = ?` + where + ` ORDER BY score ASC, ` + r.d.memberOrder + ` ASC`
	return r.members(ctx, "zrangebyscore "+key, query, append([]any{key}, args...)...)
}

func (r sqlReader) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.members(ctx, "smembers "+key, `SELECT member FROM kv_sets WHERE key = ? ORDER BY `+r.d.memberOrder, key)
}

func (r sqlReader) members(ctx context.Context, op, query string, args ...any) ([]string, error) {
	ctx, cancel := bound(ctx, r.timeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, r.d.classify(op, err, ErrUnavailable)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, r.d.classify(op, err, ErrUnavailable)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, r.d.classify(op, err, ErrUnavailable)
	}
	return out, nil
}

func scoreWhere(r ScoreRange) (string, []any) {
	var (
		where string
		args  []any
	)
	if !math.IsInf(r.Min, -1) {
		op := ">="
		if r.MinExclusive {
			op = ">"
		}
		where += " AND score " + op + " ?"
		args = append(args, r.Min)
	}
	if !math.IsInf(r.Max, 1) {
		op := "<="
		if r.MaxExclusive {
			op = "<"
		}
		where += " AND score " + op + " ?"
		args = append(args, r.Max)
	}
	return where, args
}

// --- Transactions ---

type sqlTx struct {
	sqlReader
	tx   *sql.Tx
	used bool
}

func (t *sqlTx) Watch(ctx context.Context, keys ...string) error { return nil }

func (t *sqlTx) Pipelined(ctx context.Context, fn func(Pipeline)) error {
	if t.used {
		return errors.New("kv: Pipelined called twice in one transaction")
	}
	t.used = true
	p := &sqlPipe{ctx: ctx, tx: t.tx, d: t.d, now: t.now().UnixMilli()}
	fn(p)
	if p.err != nil {
		return t.d.classify("exec", p.err, ErrBatchFailed)
	}
	return nil
}

// sqlPipe executes each queued write on the transaction right away and keeps
// the first error; the owner rolls back if it is set.
type sqlPipe struct {
	ctx context.Context
	tx  *sql.Tx
	d   dialect
	now int64
	err error
}

func (p *sqlPipe) exec(query string, args ...any) {
	if p.err != nil {
		return
	}
	if _, err := p.tx.ExecContext(p.ctx, p.d.rebind(query), args...); err != nil {
		p.err = err
	}
}

// dropExpired clears a key whose TTL has passed so a new write starts from
// an empty value without the stale TTL, as Redis does.
func (p *sqlPipe) dropExpired(key string) {
	expired := ` AND EXISTS (SELECT 1 FROM kv_expiry WHERE key = ? AND expires_at <= ?)`
	p.exec(`DELETE FROM kv_hashes WHERE key = ?`+expired, key, key, p.now)
	p.exec(`DELETE FROM kv_strings WHERE key = ?`+expired, key, key, p.now)
	p.exec(`DELETE FROM kv_expiry WHERE key = ? AND expires_at <= ?`, key, p.now)
}

func (p *sqlPipe) HSet(key string, fields map[string]string) {
	p.dropExpired(key)
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		p.exec(`INSERT INTO kv_hashes (key, field, value) VALUES (?, ?, ?)
			ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`, key, f, fields[f])
	}
}

func (p *sqlPipe) Set(key, value string) {
	p.dropExpired(key)
	p.exec(`INSERT INTO kv_strings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	p.exec(`DELETE FROM kv_expiry WHERE key = ?`, key)
}

func (p *sqlPipe) SetEx(key, value string, ttl time.Duration) {
	p.Set(key, value)
	p.Expire(key, ttl)
}

func (p *sqlPipe) Expire(key string, ttl time.Duration) {
	p.exec(`INSERT INTO kv_expiry (key, expires_at)
		SELECT CAST(? AS TEXT), CAST(? AS BIGINT) WHERE EXISTS (SELECT 1 FROM kv_hashes WHERE key = ?) OR EXISTS (SELECT 1 FROM kv_strings WHERE key = ?)
		ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, p.now+ttl.Milliseconds(), key, key)
}

func (p *sqlPipe) Del(keys ...string) {
	for _, k := range keys {
		for _, table := range []string{"kv_strings", "kv_hashes", "kv_zsets", "kv_sets", "kv_expiry"} {
			p.exec(`DELETE FROM `+table+` WHERE key = ?`, k)
		}
	}
}

func (p *sqlPipe) ZAdd(key string, members ...Z) {
	for _, m := range members {
		p.exec(`INSERT INTO kv_zsets (key, member, score) VALUES (?, ?, ?)
			ON CONFLICT (key, member) DO UPDATE SET score = excluded.score`, key, m.Member, m.Score)
	}
}

func (p *sqlPipe) ZRem(key string, members ...string) {
	for _, m := range members {
		p.exec(`DELETE FROM kv_zsets WHERE key = ? AND member = ?`, key, m)
	}
}

func (p *sqlPipe) ZRemRangeByScore(key string, r ScoreRange) {
	where, args := scoreWhere(r)
	p.exec(`DELETE FROM kv_zsets WHERE key = ?`+where, append([]any{key}, args...)...)
}

func (p *sqlPipe) SAdd(key string, members ...string) {
	for _, m := range members {
		p.exec(`INSERT INTO kv_sets (key, member) VALUES (?, ?) ON CONFLICT (key, member) DO NOTHING`, key, m)
	}
}

func (p *sqlPipe) SRem(key string, members ...string) {
	for _, m := range members {
		p.exec(`DELETE FROM kv_sets WHERE key = ? AND member = ?`, key, m)
	}
}

func bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
