// Package poolmanager provides a registry of named connection pools
// built from a single properties file, the Go analogue of the
// original's ConnectionPoolManager.
package poolmanager

import (
	"fmt"
	"sync"

	"github.com/dryyun/dbpool/config"
	"github.com/dryyun/dbpool/dbconn"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Manager owns every pool loaded from one properties file, keyed by
// pool name, and is responsible for releasing all of them together.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*dbconn.ConnectionPool
	log   *zap.Logger
}

// DriverRegistry maps a driver name (as it appears in the properties
// file's top-level "drivers" option or a pool's "driver" override) to
// the DSNBuilder that knows how to compose that driver's DSN. Callers
// register the drivers they linked in; dbconn itself stays
// driver-agnostic.
type DriverRegistry map[string]dbconn.DSNBuilder

// DefaultDrivers is the registry wired by this module's domain stack:
// "mysql" via go-sql-driver/mysql and "pgx" via jackc/pgx's stdlib
// adapter.
func DefaultDrivers() DriverRegistry {
	return DriverRegistry{
		"mysql": dbconn.MySQLDSNBuilder,
		"pgx":   dbconn.PostgresDSNBuilder,
	}
}

// New builds a Manager from the properties file at path, opening one
// ConnectionPool per pool section. A pool that fails to build is
// skipped, not fatal to the rest: construction errors are scoped to
// the one pool that raised them, matching how the original's
// ConnectionPoolManager keeps serving the pools that did come up when
// one entry in the properties file is bad. Every skipped pool's error
// is logged and also returned, aggregated, so a caller that cares can
// inspect it; the Manager itself still holds every pool that did
// construct successfully.
func New(path string, drivers DriverRegistry, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{pools: make(map[string]*dbconn.ConnectionPool), log: logger}
	var merr *multierror.Error
	for name, spec := range f.Pools {
		driverName := spec.Driver
		if driverName == "" {
			if len(f.Drivers) == 0 {
				err := fmt.Errorf("poolmanager: pool %q specifies no driver and no top-level drivers are configured", name)
				logger.Warn("poolmanager: skipping pool", zap.String("pool", name), zap.Error(err))
				merr = multierror.Append(merr, err)
				continue
			}
			driverName = f.Drivers[0]
		}
		builder, ok := drivers[driverName]
		if !ok {
			err := fmt.Errorf("poolmanager: no DSNBuilder registered for driver %q", driverName)
			logger.Warn("poolmanager: skipping pool", zap.String("pool", name), zap.Error(err))
			merr = multierror.Append(merr, err)
			continue
		}

		dbCfg, err := spec.ToDBConnConfig(driverName, builder, logger)
		if err != nil {
			wrapped := fmt.Errorf("poolmanager: pool %q: %w", name, err)
			logger.Warn("poolmanager: skipping pool", zap.String("pool", name), zap.Error(wrapped))
			merr = multierror.Append(merr, wrapped)
			continue
		}
		pool, err := dbconn.New(name, dbCfg)
		if err != nil {
			wrapped := fmt.Errorf("poolmanager: pool %q: %w", name, err)
			logger.Warn("poolmanager: skipping pool", zap.String("pool", name), zap.Error(wrapped))
			merr = multierror.Append(merr, wrapped)
			continue
		}
		if spec.Init > 0 {
			pool.Init(spec.Init)
		}
		m.pools[name] = pool
	}
	return m, merr.ErrorOrNil()
}

// Pool returns the named pool, or (nil, false) if no pool by that name
// was configured.
func (m *Manager) Pool(name string) (*dbconn.ConnectionPool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Names returns every configured pool name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// ReleaseAll shuts down every pool the manager owns.
func (m *Manager) ReleaseAll(force bool) {
	m.releaseAll(force)
}

func (m *Manager) releaseAll(force bool) {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*dbconn.ConnectionPool)
	m.mu.Unlock()
	for name, p := range pools {
		m.log.Debug("poolmanager: releasing pool", zap.String("pool", name))
		p.Release(force)
	}
}
