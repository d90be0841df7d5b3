package dbconn

import "context"

// Validator is invoked at check-out to confirm a pooled session is
// still usable. A nil Validator (Config.Validator unset)
// means "always valid", matching the original's null-validator
// convention.
type Validator interface {
	Valid(ctx context.Context, s *CachingSession) bool
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(ctx context.Context, s *CachingSession) bool

func (f ValidatorFunc) Valid(ctx context.Context, s *CachingSession) bool { return f(ctx, s) }

// DefaultValidator checks validity with a lightweight PingContext
// against the raw connection. It is the Go analogue of the original's
// isClosed()-based DefaultValidator: isClosed() has no faithful
// database/sql equivalent (a *sql.Conn does not expose its liveness
// without a round-trip), so a ping is substituted.
type DefaultValidator struct{}

func (DefaultValidator) Valid(ctx context.Context, s *CachingSession) bool {
	if s.raw == nil {
		return false
	}
	return s.raw.PingContext(ctx) == nil
}

// AutoCommitValidator validates a session by attempting to leave any
// open transaction (the Go equivalent of JDBC's setAutoCommit(true)
// probe). It exercises the same "connection still accepts a state
// change" signal as the original, adapted to database/sql's
// transaction-based autocommit model.
type AutoCommitValidator struct{}

func (AutoCommitValidator) Valid(ctx context.Context, s *CachingSession) bool {
	if s.raw == nil {
		return false
	}
	if err := s.rollbackOpenTx(); err != nil {
		return false
	}
	return s.raw.PingContext(ctx) == nil
}
