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

package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlstudio/backend/dbpool"
	"sqlstudio/backend/shared/logger"
)

// Timeout and row-cap bounds enforced on caller-supplied options
const (
	MinTimeoutMs = 1000
	MaxTimeoutMs = 300000
	MinMaxRows   = 1
	MaxMaxRows   = 50000
)

// PoolProvider supplies pooled database handles per logical connection.
// Implemented by dbpool.Manager; substituted with fakes in tests.
type PoolProvider interface {
	Acquire(ctx context.Context, connectionID string, cfg dbpool.ConnectionConfig) (*sql.DB, error)
}

// Options carries caller-tunable execution limits
type Options struct {
	TimeoutMs int `json:"timeout,omitempty"`
	MaxRows   int `json:"maxRows,omitempty"`
}

// Request describes one query execution
type Request struct {
	SQL          string
	ConnectionID string
	Connection   dbpool.ConnectionConfig
	Options      Options
	QueryID      string // optional; generated when empty
}

// inflight ties a query identifier to the session executing it so the
// query can be cancelled server-side. The pinned *sql.Conn itself stays
// owned by the Execute call and is never reachable from here.
type inflight struct {
	db         *sql.DB
	engine     string
	sql        string
	startedAt  time.Time
	backendPID int64
}

// InFlightInfo is a snapshot of one tracked query
type InFlightInfo struct {
	QueryID   string    `json:"queryId"`
	SQL       string    `json:"sql"`
	StartedAt time.Time `json:"startedAt"`
	Engine    string    `json:"engine"`
}

// Executor runs SQL against pooled connections, races execution against a
// timeout, and tracks in-flight queries for best-effort cancellation
type Executor struct {
	pools PoolProvider
	log   *logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflight

	defaultTimeoutMs int
	defaultMaxRows   int
}

// NewExecutor creates an executor with the given defaults. defaultTimeoutMs
// and defaultMaxRows are used when the caller leaves options unset.
func NewExecutor(pools PoolProvider, log *logger.Logger, defaultTimeoutMs, defaultMaxRows int) *Executor {
	if log == nil {
		log = logger.New("query-executor")
	}
	return &Executor{
		pools:            pools,
		log:              log,
		inflight:         make(map[string]*inflight),
		defaultTimeoutMs: defaultTimeoutMs,
		defaultMaxRows:   defaultMaxRows,
	}
}

// Execute runs one query to completion. Every return path removes the
// in-flight record; the record never outlives the call except through an
// intervening Cancel, which only removes bookkeeping and signals the server.
func (e *Executor) Execute(ctx context.Context, req Request) (*ResultEnvelope, error) {
	queryID := req.QueryID
	if queryID == "" {
		queryID = uuid.New().String()
	}

	timeout := e.clampTimeout(req.Options.TimeoutMs)
	maxRows := e.clampMaxRows(req.Options.MaxRows)

	db, err := e.pools.Acquire(ctx, req.ConnectionID, req.Connection)
	if err != nil {
		queriesTotal.WithLabelValues("connection_error").Inc()
		return nil, err
	}

	// Dedicated session so the backend PID identifies exactly this query
	conn, err := db.Conn(ctx)
	if err != nil {
		queriesTotal.WithLabelValues("connection_error").Inc()
		return nil, &dbpool.ConnectionError{ConnectionID: req.ConnectionID, Message: "failed to acquire client from pool", Cause: err}
	}
	defer func() { _ = conn.Close() }()

	engine := req.Connection.Engine
	if engine == "" {
		engine = dbpool.EnginePostgres
	}

	backendPID, err := sessionID(ctx, conn, engine)
	if err != nil {
		queriesTotal.WithLabelValues("connection_error").Inc()
		return nil, &dbpool.ConnectionError{ConnectionID: req.ConnectionID, Message: "failed to identify backend session", Cause: err}
	}

	startedAt := time.Now()
	e.register(queryID, &inflight{
		db:         db,
		engine:     engine,
		sql:        req.SQL,
		startedAt:  startedAt,
		backendPID: backendPID,
	})
	defer e.unregister(queryID)

	if err := Validate(req.SQL); err != nil {
		queriesTotal.WithLabelValues("validation_error").Inc()
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.log.Debug("", queryID, "executing query", map[string]interface{}{
		"connection_id": req.ConnectionID,
		"timeout_ms":    timeout.Milliseconds(),
		"max_rows":      maxRows,
	})

	result, err := e.run(execCtx, conn, req.SQL)
	elapsed := time.Since(startedAt)

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			queriesTotal.WithLabelValues("timeout").Inc()
			e.log.Warn("", queryID, "query timed out", map[string]interface{}{"timeout_ms": timeout.Milliseconds()})
			return nil, &TimeoutError{QueryID: queryID, Timeout: timeout}
		}
		queriesTotal.WithLabelValues("driver_error").Inc()
		e.log.ErrorWithErr("", queryID, "query failed", err, nil)
		return nil, newDriverError(err, req.SQL)
	}

	queriesTotal.WithLabelValues("success").Inc()
	queryDuration.Observe(elapsed.Seconds())
	e.log.InfoWithDuration("", queryID, "query completed", float64(elapsed.Milliseconds()), map[string]interface{}{
		"rows": len(result.Rows),
	})

	envelope := Format(result, elapsed.Milliseconds(), maxRows)
	envelope.QueryID = queryID
	return envelope, nil
}

// Cancel removes the in-flight record for queryID and issues a best-effort
// server-side cancellation signal. Returns false when no record exists (the
// query already completed or was never started), true otherwise regardless
// of whether the signal itself succeeded. Removing the record first is what
// makes this race-safe against a near-simultaneous natural completion: only
// whichever operation finds the record still registered acts on it.
func (e *Executor) Cancel(ctx context.Context, queryID string) bool {
	e.mu.Lock()
	rec, ok := e.inflight[queryID]
	if ok {
		delete(e.inflight, queryID)
		inflightGauge.Set(float64(len(e.inflight)))
	}
	e.mu.Unlock()

	if !ok {
		return false
	}

	if err := e.signalCancel(ctx, rec); err != nil {
		e.log.Warn("", queryID, "server-side cancel signal failed", map[string]interface{}{"error": err.Error()})
	} else {
		e.log.Info("", queryID, "query cancelled", nil)
	}
	cancellationsTotal.Inc()

	return true
}

// InFlightCount returns the number of tracked in-flight queries
func (e *Executor) InFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// InFlight returns a snapshot of every tracked query
func (e *Executor) InFlight() []InFlightInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]InFlightInfo, 0, len(e.inflight))
	for id, rec := range e.inflight {
		out = append(out, InFlightInfo{
			QueryID:   id,
			SQL:       rec.sql,
			StartedAt: rec.startedAt,
			Engine:    rec.engine,
		})
	}
	return out
}

// run dispatches the statement through the session, fetching the full
// result set. Row limiting happens afterwards in Format; this preserves the
// fetch-then-truncate semantics of the service (a known scalability gap).
func (e *Executor) run(ctx context.Context, conn *sql.Conn, sqlText string) (*DriverResult, error) {
	verb := commandVerb(sqlText)

	if returnsRows(verb) {
		rows, err := conn.QueryContext(ctx, sqlText)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()
		return scanRows(rows, verb)
	}

	res, err := conn.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}

	return &DriverResult{
		Columns:      []DriverColumn{},
		Rows:         []map[string]interface{}{},
		RowsAffected: affected,
		Command:      verb,
	}, nil
}

// scanRows drains a result set into the raw driver result
func scanRows(rows *sql.Rows, verb string) (*DriverResult, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]DriverColumn, 0, len(columnTypes))
	for _, ct := range columnTypes {
		columns = append(columns, DriverColumn{
			Name:    ct.Name(),
			TypeOID: typeOIDForDatabaseType(ct.DatabaseTypeName()),
		})
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			val := values[i]
			// Convert []byte to string for text/varchar fields
			if b, ok := val.([]byte); ok {
				row[col.Name] = string(b)
			} else {
				row[col.Name] = val
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &DriverResult{
		Columns: columns,
		Rows:    results,
		Command: verb,
	}, nil
}

// sessionID fetches the server-side identifier of the session so a later
// Cancel can target it
func sessionID(ctx context.Context, conn *sql.Conn, engine string) (int64, error) {
	var pid int64
	var err error
	switch engine {
	case dbpool.EngineMySQL:
		err = conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&pid)
	default:
		err = conn.QueryRowContext(ctx, "SELECT pg_backend_pid()").Scan(&pid)
	}
	return pid, err
}

// signalCancel asks the server to stop the backend running the query.
// Issued over a different pooled connection; the in-flight session is
// still owned (and released) by the Execute call it belongs to.
func (e *Executor) signalCancel(ctx context.Context, rec *inflight) error {
	switch rec.engine {
	case dbpool.EngineMySQL:
		_, err := rec.db.ExecContext(ctx, fmt.Sprintf("KILL QUERY %d", rec.backendPID))
		return err
	default:
		_, err := rec.db.ExecContext(ctx, "SELECT pg_cancel_backend($1)", rec.backendPID)
		return err
	}
}

func (e *Executor) register(queryID string, rec *inflight) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[queryID] = rec
	inflightGauge.Set(float64(len(e.inflight)))
}

func (e *Executor) unregister(queryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, queryID)
	inflightGauge.Set(float64(len(e.inflight)))
}

func (e *Executor) clampTimeout(timeoutMs int) time.Duration {
	if timeoutMs == 0 {
		timeoutMs = e.defaultTimeoutMs
	}
	if timeoutMs < MinTimeoutMs {
		timeoutMs = MinTimeoutMs
	}
	if timeoutMs > MaxTimeoutMs {
		timeoutMs = MaxTimeoutMs
	}
	return time.Duration(timeoutMs) * time.Millisecond
}

func (e *Executor) clampMaxRows(maxRows int) int {
	if maxRows == 0 {
		maxRows = e.defaultMaxRows
	}
	if maxRows < MinMaxRows {
		maxRows = MinMaxRows
	}
	if maxRows > MaxMaxRows {
		maxRows = MaxMaxRows
	}
	return maxRows
}

// commandVerb extracts the leading SQL keyword, uppercased
func commandVerb(sqlText string) string {
	fields := strings.Fields(strings.TrimSpace(sqlText))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// returnsRows reports whether the verb produces a result set
func returnsRows(verb string) bool {
	switch verb {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "TABLE":
		return true
	default:
		return false
	}
}
