package dbconn

import (
	"context"
	"database/sql"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// CachingSession is a single pooled database connection plus its three
// statement caches (plain, prepared, callable). It is the Go analogue
// of the original's CacheConnection: a database/sql session wrapped
// with enough bookkeeping to hand back a cached *sql.Stmt instead of
// re-preparing identical SQL on every call.
//
// CachingSession implements objpool.Reusable: Recycle is invoked by the
// pool at check-in time, before the session is placed back on the free
// list.
type CachingSession struct {
	pool *ConnectionPool
	raw  *sql.Conn
	id   string

	simpleMu    sync.Mutex
	simpleCache []*CachedStatement
	simpleInUse map[*CachedStatement]struct{}
	cacheSimple bool

	preparedMu    sync.Mutex
	preparedCache map[string][]*CachedPreparedStatement
	preparedInUse map[*CachedPreparedStatement]struct{}
	cachePrepared bool

	callableMu    sync.Mutex
	callableCache map[string][]*CachedCallableStatement
	callableInUse map[*CachedCallableStatement]struct{}
	cacheCallable bool

	nonCachableMu sync.Mutex
	nonCachable   map[*sql.Stmt]struct{}

	openMu sync.Mutex
	open   bool

	statsMu                  sync.Mutex
	reqSimple, hitSimple     uint64
	reqPrepared, hitPrepared uint64
	reqCallable, hitCallable uint64

	tx *sql.Tx
}

func newCachingSession(pool *ConnectionPool, raw *sql.Conn) *CachingSession {
	return &CachingSession{
		pool:          pool,
		raw:           raw,
		simpleInUse:   make(map[*CachedStatement]struct{}),
		preparedCache: make(map[string][]*CachedPreparedStatement),
		preparedInUse: make(map[*CachedPreparedStatement]struct{}),
		callableCache: make(map[string][]*CachedCallableStatement),
		callableInUse: make(map[*CachedCallableStatement]struct{}),
		nonCachable:   make(map[*sql.Stmt]struct{}),
	}
}

// setOpen marks the session usable (on hand-out) or closed (on
// hand-back); CheckOut/Close use this to gate further statement calls.
func (s *CachingSession) setOpen(v bool) {
	s.openMu.Lock()
	s.open = v
	s.openMu.Unlock()
}

func (s *CachingSession) isOpen() bool {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	return s.open
}

// SetCacheStatements enables or disables caching of plain statements.
// Disabling it flushes any statements currently sitting idle in the
// cache (in-use statements are released when they are returned).
func (s *CachingSession) SetCacheStatements(enabled bool) {
	s.simpleMu.Lock()
	idle := s.simpleCache
	if !enabled {
		s.simpleCache = nil
	}
	s.cacheSimple = enabled
	s.simpleMu.Unlock()
	if !enabled {
		for _, w := range idle {
			_ = w.release()
		}
	}
}

// SetCachePreparedStatements enables or disables caching of prepared
// statements, flushing idle entries when disabled.
func (s *CachingSession) SetCachePreparedStatements(enabled bool) {
	s.preparedMu.Lock()
	idle := s.preparedCache
	if !enabled {
		s.preparedCache = make(map[string][]*CachedPreparedStatement)
	}
	s.cachePrepared = enabled
	s.preparedMu.Unlock()
	if !enabled {
		for _, list := range idle {
			for _, w := range list {
				_ = w.release()
			}
		}
	}
}

// SetCacheCallableStatements enables or disables caching of callable
// statements, flushing idle entries when disabled.
func (s *CachingSession) SetCacheCallableStatements(enabled bool) {
	s.callableMu.Lock()
	idle := s.callableCache
	if !enabled {
		s.callableCache = make(map[string][]*CachedCallableStatement)
	}
	s.cacheCallable = enabled
	s.callableMu.Unlock()
	if !enabled {
		for _, list := range idle {
			for _, w := range list {
				_ = w.release()
			}
		}
	}
}

// SetCacheAll is a convenience that toggles all three families at once.
func (s *CachingSession) SetCacheAll(enabled bool) {
	s.SetCacheStatements(enabled)
	s.SetCachePreparedStatements(enabled)
	s.SetCacheCallableStatements(enabled)
}

// CreateStatement vends a plain statement under the given mode. If
// plain-statement caching is enabled and an idle statement with a
// matching Mode exists, it is reused and counted as a cache hit.
func (s *CachingSession) CreateStatement(mode Mode) (*CachedStatement, error) {
	if !s.isOpen() {
		return nil, ErrSessionClosed
	}

	s.simpleMu.Lock()

	if s.cacheSimple {
		s.statsMu.Lock()
		s.reqSimple++
		s.statsMu.Unlock()
		for i, w := range s.simpleCache {
			if w.mode == mode {
				s.simpleCache = append(s.simpleCache[:i], s.simpleCache[i+1:]...)
				w.open = true
				s.simpleInUse[w] = struct{}{}
				s.simpleMu.Unlock()
				s.statsMu.Lock()
				s.hitSimple++
				s.statsMu.Unlock()
				s.pool.logger().Debug("dbconn: simple statement cache hit")
				return w, nil
			}
		}
	}

	w := &CachedStatement{session: s, mode: mode, open: true}
	s.simpleInUse[w] = struct{}{}
	s.simpleMu.Unlock()
	return w, nil
}

// PrepareStatement vends a prepared statement for sqlText under the
// given mode, reusing a cached *sql.Stmt when one with the same (SQL,
// Mode) key is idle.
func (s *CachingSession) PrepareStatement(ctx context.Context, sqlText string, mode Mode) (*CachedPreparedStatement, error) {
	if !s.isOpen() {
		return nil, ErrSessionClosed
	}

	s.preparedMu.Lock()

	if s.cachePrepared {
		s.statsMu.Lock()
		s.reqPrepared++
		s.statsMu.Unlock()
		if list, ok := s.preparedCache[sqlText]; ok {
			for i, w := range list {
				if w.mode == mode {
					list = append(list[:i], list[i+1:]...)
					if len(list) == 0 {
						delete(s.preparedCache, sqlText)
					} else {
						s.preparedCache[sqlText] = list
					}
					w.open = true
					s.preparedInUse[w] = struct{}{}
					s.preparedMu.Unlock()
					s.statsMu.Lock()
					s.hitPrepared++
					s.statsMu.Unlock()
					s.pool.logger().Debug("dbconn: prepared statement cache hit")
					return w, nil
				}
			}
		}
	}
	s.preparedMu.Unlock()

	raw, err := s.raw.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	w := &CachedPreparedStatement{session: s, sqlText: sqlText, mode: mode, raw: raw, open: true}
	s.preparedMu.Lock()
	s.preparedInUse[w] = struct{}{}
	s.preparedMu.Unlock()
	return w, nil
}

// PrepareCall vends a callable statement (stored procedure/function
// call) for sqlText under the given mode, with the same caching
// behaviour as PrepareStatement but in the callable family's own cache.
func (s *CachingSession) PrepareCall(ctx context.Context, sqlText string, mode Mode) (*CachedCallableStatement, error) {
	if !s.isOpen() {
		return nil, ErrSessionClosed
	}

	s.callableMu.Lock()

	if s.cacheCallable {
		s.statsMu.Lock()
		s.reqCallable++
		s.statsMu.Unlock()
		if list, ok := s.callableCache[sqlText]; ok {
			for i, w := range list {
				if w.mode == mode {
					list = append(list[:i], list[i+1:]...)
					if len(list) == 0 {
						delete(s.callableCache, sqlText)
					} else {
						s.callableCache[sqlText] = list
					}
					w.open = true
					s.callableInUse[w] = struct{}{}
					s.callableMu.Unlock()
					s.statsMu.Lock()
					s.hitCallable++
					s.statsMu.Unlock()
					s.pool.logger().Debug("dbconn: callable statement cache hit")
					return w, nil
				}
			}
		}
	}
	s.callableMu.Unlock()

	raw, err := s.raw.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	w := &CachedCallableStatement{session: s, sqlText: sqlText, mode: mode, raw: raw, open: true}
	s.callableMu.Lock()
	s.callableInUse[w] = struct{}{}
	s.callableMu.Unlock()
	return w, nil
}

// PrepareNonCachable prepares sqlText directly against the raw
// connection and tracks it outside of any cache. It is the escape
// hatch for statement forms that must never be reused verbatim, such
// as one built to return auto-generated keys for a specific insert.
func (s *CachingSession) PrepareNonCachable(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if !s.isOpen() {
		return nil, ErrSessionClosed
	}
	raw, err := s.raw.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	s.nonCachableMu.Lock()
	s.nonCachable[raw] = struct{}{}
	s.nonCachableMu.Unlock()
	return raw, nil
}

// CloseNonCachable releases a statement obtained from
// PrepareNonCachable. Callers should use this instead of calling
// Close directly on the *sql.Stmt so the session stops tracking it.
func (s *CachingSession) CloseNonCachable(stmt *sql.Stmt) error {
	s.nonCachableMu.Lock()
	delete(s.nonCachable, stmt)
	s.nonCachableMu.Unlock()
	return stmt.Close()
}

// simpleClosed is the return path for a plain statement: if caching is
// enabled it rejoins the idle list (after a no-op recycle), otherwise
// it is dropped (there is nothing to release).
func (s *CachingSession) simpleClosed(w *CachedStatement) error {
	s.simpleMu.Lock()
	delete(s.simpleInUse, w)
	cache := s.cacheSimple
	s.simpleMu.Unlock()

	if !cache {
		return w.release()
	}
	if err := w.recycle(); err != nil {
		return w.release()
	}
	s.simpleMu.Lock()
	s.simpleCache = append(s.simpleCache, w)
	s.simpleMu.Unlock()
	return nil
}

// preparedClosed is the return path for a prepared statement.
func (s *CachingSession) preparedClosed(w *CachedPreparedStatement) error {
	s.preparedMu.Lock()
	delete(s.preparedInUse, w)
	cache := s.cachePrepared
	s.preparedMu.Unlock()

	if !cache {
		return w.release()
	}
	if err := w.recycle(); err != nil {
		return w.release()
	}
	s.preparedMu.Lock()
	s.preparedCache[w.sqlText] = append(s.preparedCache[w.sqlText], w)
	s.preparedMu.Unlock()
	return nil
}

// callableClosed is the return path for a callable statement.
func (s *CachingSession) callableClosed(w *CachedCallableStatement) error {
	s.callableMu.Lock()
	delete(s.callableInUse, w)
	cache := s.cacheCallable
	s.callableMu.Unlock()

	if !cache {
		return w.release()
	}
	if err := w.recycle(); err != nil {
		return w.release()
	}
	s.callableMu.Lock()
	s.callableCache[w.sqlText] = append(s.callableCache[w.sqlText], w)
	s.callableMu.Unlock()
	return nil
}

// rollbackOpenTx rolls back and clears any in-flight transaction,
// standing in for JDBC's setAutoCommit(true): database/sql has no
// autocommit flag of its own, so a non-nil tx field is this session's
// only record that autocommit is currently "off".
func (s *CachingSession) rollbackOpenTx() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// BeginTx starts a transaction on the session's raw connection,
// recording it so Recycle can roll back anything a careless caller
// left open.
func (s *CachingSession) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if !s.isOpen() {
		return nil, ErrSessionClosed
	}
	tx, err := s.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	s.tx = tx
	return tx, nil
}

// Recycle implements objpool.Reusable. It is invoked by the pool at
// check-in: any statement the caller forgot to Close is forced closed
// (cached families keep the statement, disabled families release it),
// non-cachable statements are always released, and any open
// transaction is rolled back so the connection comes back to
// autocommit-equivalent state for the next borrower.
func (s *CachingSession) Recycle() error {
	var merr *multierror.Error

	s.simpleMu.Lock()
	leaked := make([]*CachedStatement, 0, len(s.simpleInUse))
	for w := range s.simpleInUse {
		leaked = append(leaked, w)
	}
	s.simpleMu.Unlock()
	for _, w := range leaked {
		if err := w.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.preparedMu.Lock()
	leakedP := make([]*CachedPreparedStatement, 0, len(s.preparedInUse))
	for w := range s.preparedInUse {
		leakedP = append(leakedP, w)
	}
	s.preparedMu.Unlock()
	for _, w := range leakedP {
		if err := w.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.callableMu.Lock()
	leakedC := make([]*CachedCallableStatement, 0, len(s.callableInUse))
	for w := range s.callableInUse {
		leakedC = append(leakedC, w)
	}
	s.callableMu.Unlock()
	for _, w := range leakedC {
		if err := w.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.nonCachableMu.Lock()
	nc := make([]*sql.Stmt, 0, len(s.nonCachable))
	for stmt := range s.nonCachable {
		nc = append(nc, stmt)
	}
	s.nonCachable = make(map[*sql.Stmt]struct{})
	s.nonCachableMu.Unlock()
	for _, stmt := range nc {
		if err := stmt.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if err := s.rollbackOpenTx(); err != nil {
		s.pool.logger().Warn("dbconn: rollback on recycle failed")
		merr = multierror.Append(merr, err)
	}

	return merr.ErrorOrNil()
}

// Release implements objpool.Config.Destroy's target: it tears down
// every statement cached or in use across all three families, along
// with any non-cachable statement, then closes the raw connection.
// Every independent failure is preserved in the returned error.
func (s *CachingSession) Release() error {
	s.setOpen(false)
	var merr *multierror.Error

	s.simpleMu.Lock()
	allSimple := append(append([]*CachedStatement{}, s.simpleCache...), mapKeysStatement(s.simpleInUse)...)
	s.simpleCache = nil
	s.simpleInUse = make(map[*CachedStatement]struct{})
	s.simpleMu.Unlock()
	for _, w := range allSimple {
		if err := w.release(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.preparedMu.Lock()
	var allPrepared []*CachedPreparedStatement
	for _, list := range s.preparedCache {
		allPrepared = append(allPrepared, list...)
	}
	allPrepared = append(allPrepared, mapKeysPrepared(s.preparedInUse)...)
	s.preparedCache = make(map[string][]*CachedPreparedStatement)
	s.preparedInUse = make(map[*CachedPreparedStatement]struct{})
	s.preparedMu.Unlock()
	for _, w := range allPrepared {
		if err := w.release(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.callableMu.Lock()
	var allCallable []*CachedCallableStatement
	for _, list := range s.callableCache {
		allCallable = append(allCallable, list...)
	}
	allCallable = append(allCallable, mapKeysCallable(s.callableInUse)...)
	s.callableCache = make(map[string][]*CachedCallableStatement)
	s.callableInUse = make(map[*CachedCallableStatement]struct{})
	s.callableMu.Unlock()
	for _, w := range allCallable {
		if err := w.release(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.nonCachableMu.Lock()
	nc := make([]*sql.Stmt, 0, len(s.nonCachable))
	for stmt := range s.nonCachable {
		nc = append(nc, stmt)
	}
	s.nonCachable = make(map[*sql.Stmt]struct{})
	s.nonCachableMu.Unlock()
	for _, stmt := range nc {
		if err := stmt.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if err := s.rollbackOpenTx(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := s.raw.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}

	if merr != nil && merr.Len() > 0 {
		return &ReleaseFailedError{Pool: s.pool.Name(), Cause: merr.ErrorOrNil()}
	}
	return nil
}

// Close returns the session to its owning pool. Calling Close on a
// session not currently checked out reports ErrSessionClosed.
func (s *CachingSession) Close() error {
	s.openMu.Lock()
	if !s.open {
		s.openMu.Unlock()
		return ErrSessionClosed
	}
	s.open = false
	s.openMu.Unlock()
	return s.pool.checkIn(s)
}

// HitRates reports the cache hit rate (0..1) for each of the three
// statement families, for diagnostics and metrics export.
func (s *CachingSession) HitRates() (simple, prepared, callable float64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	simple = rate(s.hitSimple, s.reqSimple)
	prepared = rate(s.hitPrepared, s.reqPrepared)
	callable = rate(s.hitCallable, s.reqCallable)
	return
}

func rate(hits, reqs uint64) float64 {
	if reqs == 0 {
		return 0
	}
	return float64(hits) / float64(reqs)
}

func mapKeysStatement(m map[*CachedStatement]struct{}) []*CachedStatement {
	out := make([]*CachedStatement, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeysPrepared(m map[*CachedPreparedStatement]struct{}) []*CachedPreparedStatement {
	out := make([]*CachedPreparedStatement, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeysCallable(m map[*CachedCallableStatement]struct{}) []*CachedCallableStatement {
	out := make([]*CachedCallableStatement, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
