// Copyright 2025 SQL Studio Contributors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq" // PostgreSQL driver

	"sqlstudio/backend/shared/logger"
)

// Supported database engines
const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

// Pool bounds applied to every managed pool
const (
	maxOpenConns   = 10
	minIdleConns   = 2
	idleTimeout    = 30 * time.Second
	connectTimeout = 10 * time.Second
	testTimeout    = 5 * time.Second
)

// ConnectionConfig describes a logical database connection. Credentials are
// held only for the lifetime of the pool entry and are never persisted.
type ConnectionConfig struct {
	Engine   string `json:"engine,omitempty"` // defaults to postgres
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSL      bool   `json:"ssl,omitempty"`
}

// ConnectionError wraps failures to construct or validate a pool
type ConnectionError struct {
	ConnectionID string
	Message      string
	Cause        error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return "connection '" + e.ConnectionID + "': " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return "connection '" + e.ConnectionID + "': " + e.Message
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Entry holds one live pool keyed by connection identifier
type Entry struct {
	DB            *sql.DB
	Config        ConnectionConfig
	CreatedAt     time.Time
	LastValidated time.Time
}

// TestResult reports the outcome of a connectivity probe
type TestResult struct {
	Version    string    `json:"version"`
	ServerTime time.Time `json:"serverTime"`
}

// openFunc opens a database handle; replaced in tests
type openFunc func(driverName, dsn string) (*sql.DB, error)

// Manager owns one pooled client per logical connection identifier.
// Pools are created lazily on first use and validated with a liveness
// round-trip before registration. Thread-safe for concurrent access.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Entry
	open  openFunc
	log   *logger.Logger
}

// NewManager creates an empty pool manager
func NewManager() *Manager {
	return &Manager{
		pools: make(map[string]*Entry),
		open:  sql.Open,
		log:   logger.New("db-pool"),
	}
}

// GetOrCreate returns the pool registered for connectionID, constructing and
// validating a new one if none exists. Construction is serialized so that
// concurrent callers for the same identifier observe exactly one pool.
func (m *Manager) GetOrCreate(ctx context.Context, connectionID string, cfg ConnectionConfig) (*Entry, error) {
	if cfg.Engine == "" {
		cfg.Engine = EnginePostgres
	}

	m.mu.RLock()
	entry, exists := m.pools[connectionID]
	m.mu.RUnlock()

	if exists {
		return entry, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check: another goroutine may have built the pool while we
	// waited for the write lock.
	if entry, exists := m.pools[connectionID]; exists {
		return entry, nil
	}

	db, err := m.buildPool(cfg, maxOpenConns, connectTimeout)
	if err != nil {
		return nil, &ConnectionError{ConnectionID: connectionID, Message: "failed to open pool", Cause: err}
	}

	validateCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := validate(validateCtx, db); err != nil {
		// No partial entry is left behind on validation failure
		_ = db.Close()
		poolValidationFailures.WithLabelValues(cfg.Engine).Inc()
		return nil, &ConnectionError{ConnectionID: connectionID, Message: "connection validation failed", Cause: err}
	}

	now := time.Now()
	entry = &Entry{
		DB:            db,
		Config:        cfg,
		CreatedAt:     now,
		LastValidated: now,
	}
	m.pools[connectionID] = entry

	poolsCreated.WithLabelValues(cfg.Engine).Inc()
	poolsActive.Set(float64(len(m.pools)))
	m.log.Info("", "", "Created connection pool", map[string]interface{}{
		"connection_id": connectionID,
		"engine":        cfg.Engine,
		"host":          cfg.Host,
		"database":      cfg.Database,
		"max_conns":     maxOpenConns,
	})

	return entry, nil
}

// Acquire returns the pooled database handle for connectionID, creating the
// pool on first use.
func (m *Manager) Acquire(ctx context.Context, connectionID string, cfg ConnectionConfig) (*sql.DB, error) {
	entry, err := m.GetOrCreate(ctx, connectionID, cfg)
	if err != nil {
		return nil, err
	}
	return entry.DB, nil
}

// TestConnection probes connectivity with a throwaway single-connection pool.
// The pool is always torn down before returning, success or failure.
func (m *Manager) TestConnection(ctx context.Context, cfg ConnectionConfig) (*TestResult, error) {
	// Probe pools use the short test timeout both for the DSN-level connect
	// deadline and for the probe context below.
	db, err := m.buildPool(cfg, 1, testTimeout)
	if err != nil {
		return nil, &ConnectionError{ConnectionID: "test", Message: "failed to open connection", Cause: err}
	}
	defer func() { _ = db.Close() }()

	probeCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	var result TestResult
	if err := db.QueryRowContext(probeCtx, "SELECT version(), now()").Scan(&result.Version, &result.ServerTime); err != nil {
		return nil, &ConnectionError{ConnectionID: "test", Message: "connection test failed", Cause: err}
	}

	return &result, nil
}

// Close tears down the pool registered for connectionID, if any
func (m *Manager) Close(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.pools[connectionID]
	if !exists {
		return fmt.Errorf("no pool registered for connection '%s'", connectionID)
	}

	delete(m.pools, connectionID)
	poolsActive.Set(float64(len(m.pools)))

	if err := entry.DB.Close(); err != nil {
		return fmt.Errorf("failed to close pool for connection '%s': %w", connectionID, err)
	}

	m.log.Info("", "", "Closed connection pool", map[string]interface{}{"connection_id": connectionID})
	return nil
}

// CloseAll tears down every registered pool concurrently and clears the
// registry. Used at process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Entry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, entry := range pools {
		wg.Add(1)
		go func(id string, entry *Entry) {
			defer wg.Done()
			if err := entry.DB.Close(); err != nil {
				m.log.ErrorWithErr("", "", "Failed to close connection pool", err, map[string]interface{}{"connection_id": id})
			} else {
				m.log.Info("", "", "Closed connection pool", map[string]interface{}{"connection_id": id})
			}
		}(id, entry)
	}
	wg.Wait()

	poolsActive.Set(0)
	m.log.Info("", "", "All connection pools closed", nil)
}

// Count returns the number of registered pools
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Has reports whether a pool is registered for connectionID
func (m *Manager) Has(connectionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.pools[connectionID]
	return exists
}

// Stats returns driver-level pool statistics per connection identifier
func (m *Manager) Stats() map[string]sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]sql.DBStats, len(m.pools))
	for id, entry := range m.pools {
		stats[id] = entry.DB.Stats()
	}
	return stats
}

// buildPool opens a database handle with the managed pool bounds applied
func (m *Manager) buildPool(cfg ConnectionConfig, maxConns int, connTimeout time.Duration) (*sql.DB, error) {
	engine := cfg.Engine
	if engine == "" {
		engine = EnginePostgres
	}

	dsn, driverName, err := buildDSN(engine, cfg, connTimeout)
	if err != nil {
		return nil, err
	}

	db, err := m.open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minIdleConns)
	db.SetConnMaxIdleTime(idleTimeout)

	return db, nil
}

// validate performs one liveness round-trip against a freshly built pool
func validate(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	return nil
}

// buildDSN constructs a driver connection string for the given engine
func buildDSN(engine string, cfg ConnectionConfig, connTimeout time.Duration) (dsn, driverName string, err error) {
	switch engine {
	case EnginePostgres:
		sslMode := "disable"
		if cfg.SSL {
			sslMode = "require"
		}
		// URL-encode credentials to handle special characters in URI format
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
			url.QueryEscape(cfg.Username), url.QueryEscape(cfg.Password),
			cfg.Host, cfg.Port, cfg.Database, sslMode, int(connTimeout.Seconds()))
		return dsn, "postgres", nil

	case EngineMySQL:
		mc := mysqldriver.NewConfig()
		mc.User = cfg.Username
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		mc.DBName = cfg.Database
		mc.Timeout = connTimeout
		mc.ParseTime = true
		if cfg.SSL {
			mc.TLSConfig = "true"
		}
		return mc.FormatDSN(), "mysql", nil

	default:
		return "", "", fmt.Errorf("unsupported engine: %q", engine)
	}
}
