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

package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"sqlstudio/backend/dbpool"
	"sqlstudio/backend/query"
)

// QueryExecutor is the execution surface the handlers drive.
// Implemented by query.Executor; substituted with fakes in tests.
type QueryExecutor interface {
	Execute(ctx context.Context, req query.Request) (*query.ResultEnvelope, error)
	Cancel(ctx context.Context, queryID string) bool
}

// ConnectionPools is the pool surface the handlers drive.
// Implemented by dbpool.Manager.
type ConnectionPools interface {
	TestConnection(ctx context.Context, cfg dbpool.ConnectionConfig) (*dbpool.TestResult, error)
	Acquire(ctx context.Context, connectionID string, cfg dbpool.ConnectionConfig) (*sql.DB, error)
	Stats() map[string]sql.DBStats
	CloseAll()
}

// apiResponse is the envelope every endpoint returns
type apiResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}

// writeFlat writes a response whose result fields sit at the top level of
// the envelope rather than under data
func writeFlat(w http.ResponseWriter, payload map[string]interface{}) {
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// statusForError maps service errors to HTTP status codes
func statusForError(err error) int {
	var validationErr *query.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}

	var driverErr *query.DriverError
	if errors.As(err, &driverErr) && driverErr.IsSyntax() {
		return http.StatusBadRequest
	}

	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}

	var connErr *dbpool.ConnectionError
	if errors.As(err, &connErr) {
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// connectionRequest is the body shared by the connection endpoints
type connectionRequest struct {
	ConnectionID string                  `json:"connectionId"`
	Connection   dbpool.ConnectionConfig `json:"connection"`
}

// executeRequest is the body of POST /api/query/execute
type executeRequest struct {
	SQL          string                  `json:"query"`
	ConnectionID string                  `json:"connectionId"`
	Connection   dbpool.ConnectionConfig `json:"connection"`
	Options      query.Options           `json:"options"`
	QueryID      string                  `json:"queryId"`
}

// handleConnectionTest probes connectivity for the supplied configuration.
// Always responds 200; a failed probe is a result, not a transport error.
func (s *Server) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.pools.TestConnection(r.Context(), req.Connection)
	if err != nil {
		writeJSON(w, http.StatusOK, apiResponse{Success: false, Error: err.Error()})
		return
	}

	writeSuccess(w, result)
}

// SchemaColumn is one column in the schema introspection response
type SchemaColumn struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}

// SchemaTable is one table with its columns
type SchemaTable struct {
	Name    string         `json:"name"`
	Columns []SchemaColumn `json:"columns"`
}

// SchemaInfo groups tables by schema name
type SchemaInfo struct {
	Schema string        `json:"schema"`
	Tables []SchemaTable `json:"tables"`
}

// System schemas excluded from introspection
const schemaQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
ORDER BY table_schema, table_name, ordinal_position`

// handleConnectionSchema introspects the database reachable through the
// supplied connection and returns its user tables grouped per schema
func (s *Server) handleConnectionSchema(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "connectionId is required")
		return
	}

	db, err := s.pools.Acquire(r.Context(), req.ConnectionID, req.Connection)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	schemas, err := introspectSchema(r.Context(), db)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeSuccess(w, map[string]interface{}{"schemas": schemas})
}

// introspectSchema reads information_schema.columns and groups rows into
// the nested schema/table/column shape
func introspectSchema(ctx context.Context, db *sql.DB) ([]SchemaInfo, error) {
	rows, err := db.QueryContext(ctx, schemaQuery)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var schemas []SchemaInfo
	var curSchema *SchemaInfo
	var curTable *SchemaTable

	for rows.Next() {
		var schemaName, tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, err
		}

		if curSchema == nil || curSchema.Schema != schemaName {
			schemas = append(schemas, SchemaInfo{Schema: schemaName})
			curSchema = &schemas[len(schemas)-1]
			curTable = nil
		}
		if curTable == nil || curTable.Name != tableName {
			curSchema.Tables = append(curSchema.Tables, SchemaTable{Name: tableName})
			curTable = &curSchema.Tables[len(curSchema.Tables)-1]
		}

		curTable.Columns = append(curTable.Columns, SchemaColumn{
			Name:     columnName,
			DataType: dataType,
			Nullable: isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if schemas == nil {
		schemas = []SchemaInfo{}
	}
	return schemas, nil
}

// handleQueryExecute runs a query and returns the result envelope
func (s *Server) handleQueryExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "connectionId is required")
		return
	}

	result, err := s.executor.Execute(r.Context(), query.Request{
		SQL:          req.SQL,
		ConnectionID: req.ConnectionID,
		Connection:   req.Connection,
		Options:      req.Options,
		QueryID:      req.QueryID,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeSuccess(w, result)
}

// handleQueryCancel cancels an in-flight query by its identifier
func (s *Server) handleQueryCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QueryID string `json:"queryId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.QueryID == "" {
		writeError(w, http.StatusBadRequest, "queryId is required")
		return
	}

	cancelled := s.executor.Cancel(r.Context(), req.QueryID)
	writeFlat(w, map[string]interface{}{"success": true, "cancelled": cancelled})
}

// handleQueryValidate runs the static denylist check without executing.
// Always responds 200; an invalid statement is a result, not a failure.
func (s *Server) handleQueryValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SQL string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := query.Validate(req.SQL); err != nil {
		writeFlat(w, map[string]interface{}{"success": true, "valid": false, "error": err.Error()})
		return
	}

	writeFlat(w, map[string]interface{}{"success": true, "valid": true, "message": "Query is valid"})
}

// handlePoolStats reports driver-level statistics for every active pool
func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.pools.Stats())
}
