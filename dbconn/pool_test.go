package dbconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConnectionPoolGetExecuteClose(t *testing.T) {
	registerFakeDriver()
	cp, err := New("roundtrip", Config{DriverName: "dbpoolfake", URL: "ignored", PoolSize: 1})
	require.NoError(t, err)
	defer cp.Release(true)

	sess, err := cp.Get()
	require.NoError(t, err)

	stmt, err := sess.CreateStatement(DefaultMode)
	require.NoError(t, err)
	_, err = stmt.ExecContext(context.Background(), "CREATE TABLE t (id INT)")
	require.NoError(t, err)
	require.NoError(t, stmt.Close())

	require.NoError(t, sess.Close())

	size, free, checkedOut, _ := cp.Stats()
	assert.Equal(t, 1, size)
	assert.Equal(t, 1, free)
	assert.Equal(t, 0, checkedOut)
}

func TestConnectionPoolValidatorRejectsSessionOnCheckout(t *testing.T) {
	registerFakeDriver()
	calls := 0
	validator := ValidatorFunc(func(ctx context.Context, s *CachingSession) bool {
		calls++
		// Valid on creation (call 1), invalid once idle and re-checked
		// (call 2, forcing the free entry to be destroyed and replaced),
		// valid again on the replacement's creation (call 3).
		return calls != 2
	})
	cp, err := New("validator-reject", Config{DriverName: "dbpoolfake", URL: "ignored", Validator: validator, PoolSize: 1})
	require.NoError(t, err)
	defer cp.Release(true)

	sess, err := cp.Get()
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	var validationErrors int
	cp.AddListener(ConnectionPoolListenerFunc(func(evt ConnectionPoolEvent) {
		if evt.Kind.String() == "VALIDATION_ERROR" {
			validationErrors++
		}
	}))

	sess2, err := cp.Get()
	require.NoError(t, err)
	require.NoError(t, sess2.Close())
	assert.Equal(t, 1, validationErrors, "a single rejected entry must be reported exactly once")
}

func TestConnectionPoolReleaseClosesBackingDB(t *testing.T) {
	registerFakeDriver()
	cp, err := New("release-db", Config{DriverName: "dbpoolfake", URL: "ignored"})
	require.NoError(t, err)

	sess, err := cp.Get()
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	cp.Release(false)
	assert.True(t, cp.pool.Released())
}

func TestResolveDSNPrefersPropertiesOverCredentials(t *testing.T) {
	dsn, err := resolveDSN(Config{
		URL:        "host/db",
		User:       "ignored-user",
		Properties: map[string]string{"ssl": "true"},
		DSNBuilder: PlainDSNBuilder,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "host/db", dsn)
}

func TestMySQLDSNBuilderAppliesCredentialsAndParams(t *testing.T) {
	dsn, err := MySQLDSNBuilder("tcp(localhost:3306)/mydb", "alice", "secret", map[string]string{"parseTime": "true"})
	require.NoError(t, err)
	assert.Contains(t, dsn, "alice:secret@")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestPostgresDSNBuilderAppendsKeyValuePairs(t *testing.T) {
	dsn, err := PostgresDSNBuilder("host=localhost dbname=mydb", "bob", "s3cr3t", nil)
	require.NoError(t, err)
	assert.Contains(t, dsn, "user=bob")
	assert.Contains(t, dsn, "password=s3cr3t")
}

func TestPostgresDSNBuilderQuotesValuesNeedingIt(t *testing.T) {
	dsn, err := PostgresDSNBuilder("host=localhost dbname=mydb", "bob", `s3 cr't\3`, map[string]string{"options": "-c x=1"})
	require.NoError(t, err)
	assert.Contains(t, dsn, "user=bob", "a plain value is left unquoted")
	assert.Contains(t, dsn, `password='s3 cr\'t\\3'`, "whitespace, quotes and backslashes must be escaped inside single quotes")
	assert.Contains(t, dsn, "options='-c x=1'", "a value containing whitespace must be quoted even with no special characters")
}
