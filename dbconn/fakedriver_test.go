package dbconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// fakeDriver is a minimal database/sql driver used only by this
// package's tests, so that ConnectionPool/CachingSession can be
// exercised end-to-end (Open/Conn/Prepare/Exec/Query/Close/Ping)
// without a real database. This is the same technique the real
// drivers this module wires (go-sql-driver/mysql, jackc/pgx/v5/stdlib)
// use to implement database/sql's driver.Driver contract; it is not a
// stand-in for any of this module's own dependencies.
type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{}, nil
}

var registerOnce sync.Once

func registerFakeDriver() {
	registerOnce.Do(func() {
		sql.Register("dbpoolfake", fakeDriver{})
	})
}

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) { return &fakeTx{}, nil }

// Ping implements driver.Pinger so *sql.Conn.PingContext succeeds
// without a round-trip to a real database.
func (c *fakeConn) Ping(ctx context.Context) error { return nil }

type fakeStmt struct{}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return &fakeRows{}, nil
}

type fakeRows struct{}

func (r *fakeRows) Columns() []string              { return nil }
func (r *fakeRows) Close() error                   { return nil }
func (r *fakeRows) Next(dest []driver.Value) error { return io.EOF }

type fakeTx struct{}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }
