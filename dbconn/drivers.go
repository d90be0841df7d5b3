package dbconn

import (
	// Registers the "pgx" database/sql driver name used by Config.DriverName.
	_ "github.com/jackc/pgx/v5/stdlib"
)
