// Package dbconn specialises objpool into a pool of database
// connections, each wrapped in a CachingSession that caches prepared
// and callable statements per connection so that repeated SQL is not
// re-parsed by the driver on every use.
//
// It is the Go counterpart of snaq.db's ConnectionPool and
// CacheConnection: JDBC's Connection/Statement/PreparedStatement/
// CallableStatement hierarchy is replaced throughout by database/sql's
// *sql.Conn/*sql.Stmt, with a Mode struct standing in for JDBC's
// (resultSetType, resultSetConcurrency, resultSetHoldability) triple
// purely as a cache-matching key.
package dbconn
