package dbconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) *CachingSession {
	t.Helper()
	registerFakeDriver()
	cp, err := New("session-test", Config{DriverName: "dbpoolfake", URL: "ignored"})
	require.NoError(t, err)
	t.Cleanup(func() { cp.Release(true) })

	sess, err := cp.Get()
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestCreateStatementCacheHitOnMatchingMode(t *testing.T) {
	sess := newTestSession(t)
	sess.SetCacheStatements(true)

	s1, err := sess.CreateStatement(DefaultMode)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := sess.CreateStatement(DefaultMode)
	require.NoError(t, err)
	assert.Same(t, s1, s2, "expected the idle statement to be reused on a matching mode")
	simpleHit, _, _ := sess.HitRates()
	assert.Greater(t, simpleHit, 0.0)
	require.NoError(t, s2.Close())
}

func TestCreateStatementCacheMissOnDifferentMode(t *testing.T) {
	sess := newTestSession(t)
	sess.SetCacheStatements(true)

	s1, err := sess.CreateStatement(Mode{ResultSetType: 1})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := sess.CreateStatement(Mode{ResultSetType: 2})
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	require.NoError(t, s2.Close())
}

func TestPrepareStatementReusesCachedEntryAndPurgesEmptyKey(t *testing.T) {
	sess := newTestSession(t)
	sess.SetCachePreparedStatements(true)

	fake := &CachedPreparedStatement{session: sess, sqlText: "SELECT 1", mode: DefaultMode}
	sess.preparedCache["SELECT 1"] = []*CachedPreparedStatement{fake}

	got, err := sess.PrepareStatement(context.Background(), "SELECT 1", DefaultMode)
	require.NoError(t, err)
	assert.Same(t, fake, got)
	assert.True(t, got.open)

	sess.preparedMu.Lock()
	_, stillPresent := sess.preparedCache["SELECT 1"]
	sess.preparedMu.Unlock()
	assert.False(t, stillPresent, "matched key should be purged from the map once its list empties")

	require.NoError(t, got.Close())
	sess.preparedMu.Lock()
	list := sess.preparedCache["SELECT 1"]
	sess.preparedMu.Unlock()
	require.Len(t, list, 1)
}

func TestSetCachePreparedStatementsDisableReleasesIdleEntries(t *testing.T) {
	sess := newTestSession(t)
	sess.SetCachePreparedStatements(true)

	stmt, err := sess.PrepareStatement(context.Background(), "SELECT 1", DefaultMode)
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	sess.preparedMu.Lock()
	require.Len(t, sess.preparedCache["SELECT 1"], 1)
	sess.preparedMu.Unlock()

	sess.SetCachePreparedStatements(false)

	sess.preparedMu.Lock()
	defer sess.preparedMu.Unlock()
	assert.Empty(t, sess.preparedCache)
}

func TestPrepareStatementWithCachingDisabledDoesNotCountRequests(t *testing.T) {
	sess := newTestSession(t)
	// Caching for the prepared family is off by default on a freshly
	// created session (no SetCachePreparedStatements(true) call).

	for i := 0; i < 3; i++ {
		stmt, err := sess.PrepareStatement(context.Background(), "SELECT 1", DefaultMode)
		require.NoError(t, err)
		require.NoError(t, stmt.Close())
	}

	_, prepared, _ := sess.HitRates()
	assert.Equal(t, 0.0, prepared, "a disabled family reports a zero hit rate because requests are never counted either")

	sess.statsMu.Lock()
	reqPrepared := sess.reqPrepared
	sess.statsMu.Unlock()
	assert.Equal(t, uint64(0), reqPrepared, "caching disabled for a family means its request counter stays at 0")
}

func TestRecycleForceClosesLeakedStatementButKeepsItCached(t *testing.T) {
	sess := newTestSession(t)
	sess.SetCacheStatements(true)

	leaked, err := sess.CreateStatement(DefaultMode)
	require.NoError(t, err)
	// Caller never closes leaked.

	require.NoError(t, sess.Recycle())

	sess.simpleMu.Lock()
	defer sess.simpleMu.Unlock()
	assert.Empty(t, sess.simpleInUse)
	assert.Len(t, sess.simpleCache, 1)
	assert.False(t, leaked.isOpen())
}

func TestSessionCloseTwiceReportsSessionClosed(t *testing.T) {
	registerFakeDriver()
	cp, err := New("session-close-twice", Config{DriverName: "dbpoolfake", URL: "ignored"})
	require.NoError(t, err)
	t.Cleanup(func() { cp.Release(true) })

	sess, err := cp.Get()
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Close(), ErrSessionClosed)
}

func TestStatementCallsAfterCloseReturnErrStatementClosed(t *testing.T) {
	sess := newTestSession(t)
	stmt, err := sess.CreateStatement(DefaultMode)
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	_, err = stmt.ExecContext(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrStatementClosed)
}

func TestRotDecoderIsSelfInverse(t *testing.T) {
	dec := RotDecoder{}
	encoded, err := dec.Decode("Uryyb, Jbeyq!")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", encoded)

	roundTrip, err := dec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "Uryyb, Jbeyq!", roundTrip)
}

func TestAutoCommitValidatorRollsBackOpenTransaction(t *testing.T) {
	sess := newTestSession(t)
	tx, err := sess.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.NotNil(t, sess.tx)

	v := AutoCommitValidator{}
	assert.True(t, v.Valid(context.Background(), sess))
	assert.Nil(t, sess.tx, "validating should have rolled back and cleared the open transaction")
}
