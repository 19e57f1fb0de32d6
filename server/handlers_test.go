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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlstudio/backend/config"
	"sqlstudio/backend/dbpool"
	"sqlstudio/backend/query"
)

type fakeExecutor struct {
	executeFn func(ctx context.Context, req query.Request) (*query.ResultEnvelope, error)
	cancelFn  func(ctx context.Context, queryID string) bool
}

func (f *fakeExecutor) Execute(ctx context.Context, req query.Request) (*query.ResultEnvelope, error) {
	return f.executeFn(ctx, req)
}

func (f *fakeExecutor) Cancel(ctx context.Context, queryID string) bool {
	return f.cancelFn(ctx, queryID)
}

type fakePools struct {
	testFn    func(ctx context.Context, cfg dbpool.ConnectionConfig) (*dbpool.TestResult, error)
	acquireFn func(ctx context.Context, connectionID string, cfg dbpool.ConnectionConfig) (*sql.DB, error)
}

func (f *fakePools) TestConnection(ctx context.Context, cfg dbpool.ConnectionConfig) (*dbpool.TestResult, error) {
	return f.testFn(ctx, cfg)
}

func (f *fakePools) Acquire(ctx context.Context, connectionID string, cfg dbpool.ConnectionConfig) (*sql.DB, error) {
	return f.acquireFn(ctx, connectionID, cfg)
}

func (f *fakePools) Stats() map[string]sql.DBStats { return map[string]sql.DBStats{} }
func (f *fakePools) CloseAll()                     {}

func testServer(executor QueryExecutor, pools ConnectionPools) *Server {
	cfg := &config.Config{
		Port:            "0",
		MaxQueryTimeout: 30000,
		MaxResultRows:   10000,
	}
	return New(cfg, executor, pools, nil, nil, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthReflectsReadiness(t *testing.T) {
	s := testServer(&fakeExecutor{}, &fakePools{})
	router := s.Router()

	rec, resp := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "starting", data["status"])

	s.SetReady(true)
	_, resp = doJSON(t, router, http.MethodGet, "/health", nil)
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
}

func TestQueryValidateEndpoint(t *testing.T) {
	s := testServer(&fakeExecutor{}, &fakePools{})
	router := s.Router()

	rec, body := doFlat(t, router, "/api/query/validate", map[string]string{"query": "SELECT 1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["valid"])

	rec, body = doFlat(t, router, "/api/query/validate", map[string]string{"query": "DROP DATABASE prod"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["valid"])
	assert.Contains(t, body["error"], "DROP DATABASE")
}

// doFlat posts JSON and decodes the whole response body as a flat map
func doFlat(t *testing.T, handler http.Handler, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestQueryExecuteEndpoint(t *testing.T) {
	executor := &fakeExecutor{
		executeFn: func(_ context.Context, req query.Request) (*query.ResultEnvelope, error) {
			assert.Equal(t, "SELECT 1", req.SQL)
			assert.Equal(t, "conn-1", req.ConnectionID)
			return &query.ResultEnvelope{
				QueryID: "q-1",
				Columns: []query.Column{},
				Rows:    []map[string]interface{}{{"n": float64(1)}},
			}, nil
		},
	}
	s := testServer(executor, &fakePools{})

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/query/execute", map[string]interface{}{
		"query":        "SELECT 1",
		"connectionId": "conn-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "q-1", data["queryId"])
}

func TestQueryExecuteErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation error",
			err:        &query.ValidationError{Message: "DELETE without WHERE clause is not allowed"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "syntax error",
			err:        &query.DriverError{Message: "syntax error", Code: "42601"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "connection error",
			err:        &dbpool.ConnectionError{ConnectionID: "c", Message: "refused"},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "timeout",
			err:        &query.TimeoutError{QueryID: "q", Timeout: time.Second},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "runtime driver error",
			err:        &query.DriverError{Message: "division by zero", Code: "22012"},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &fakeExecutor{
				executeFn: func(context.Context, query.Request) (*query.ResultEnvelope, error) {
					return nil, tt.err
				},
			}
			s := testServer(executor, &fakePools{})

			rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/query/execute", map[string]interface{}{
				"query":        "SELECT 1",
				"connectionId": "conn-1",
			})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestQueryExecuteRequiresConnectionID(t *testing.T) {
	s := testServer(&fakeExecutor{}, &fakePools{})

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/query/execute",
		map[string]string{"query": "SELECT 1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "connectionId")
}

func TestQueryCancelEndpoint(t *testing.T) {
	executor := &fakeExecutor{
		cancelFn: func(_ context.Context, queryID string) bool {
			return queryID == "running"
		},
	}
	s := testServer(executor, &fakePools{})
	router := s.Router()

	rec, body := doFlat(t, router, "/api/query/cancel", map[string]string{"queryId": "running"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["cancelled"])
	assert.NotEmpty(t, body["timestamp"])

	_, body = doFlat(t, router, "/api/query/cancel", map[string]string{"queryId": "finished"})
	assert.Equal(t, false, body["cancelled"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/query/cancel", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectionTestEndpoint(t *testing.T) {
	pools := &fakePools{
		testFn: func(_ context.Context, cfg dbpool.ConnectionConfig) (*dbpool.TestResult, error) {
			assert.Equal(t, "db.internal", cfg.Host)
			return &dbpool.TestResult{Version: "PostgreSQL 16.2"}, nil
		},
	}
	s := testServer(&fakeExecutor{}, pools)

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/connection/test", map[string]interface{}{
		"connection": map[string]interface{}{"host": "db.internal", "port": 5432},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PostgreSQL 16.2", resp.Data.(map[string]interface{})["version"])
}

func TestConnectionTestFailure(t *testing.T) {
	pools := &fakePools{
		testFn: func(context.Context, dbpool.ConnectionConfig) (*dbpool.TestResult, error) {
			return nil, &dbpool.ConnectionError{ConnectionID: "test", Message: "connection test failed",
				Cause: errors.New("connection refused")}
		},
	}
	s := testServer(&fakeExecutor{}, pools)

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/connection/test", map[string]interface{}{
		"connection": map[string]interface{}{"host": "nowhere"},
	})
	assert.Equal(t, http.StatusOK, rec.Code, "probe failures are results, not transport errors")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "connection test failed")
}

func TestConnectionSchemaEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WillReturnRows(sqlmock.NewRows(
			[]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("public", "users", "id", "integer", "NO").
			AddRow("public", "users", "email", "text", "YES").
			AddRow("public", "orders", "id", "integer", "NO").
			AddRow("reporting", "daily", "day", "date", "NO"))

	pools := &fakePools{
		acquireFn: func(_ context.Context, connectionID string, _ dbpool.ConnectionConfig) (*sql.DB, error) {
			assert.Equal(t, "conn-1", connectionID)
			return db, nil
		},
	}
	s := testServer(&fakeExecutor{}, pools)

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/connection/schema", map[string]interface{}{
		"connectionId": "conn-1",
		"connection":   map[string]interface{}{"host": "db"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	buf, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data struct {
		Schemas []SchemaInfo `json:"schemas"`
	}
	require.NoError(t, json.Unmarshal(buf, &data))

	require.Len(t, data.Schemas, 2)
	assert.Equal(t, "public", data.Schemas[0].Schema)
	require.Len(t, data.Schemas[0].Tables, 2)
	assert.Equal(t, "users", data.Schemas[0].Tables[0].Name)
	require.Len(t, data.Schemas[0].Tables[0].Columns, 2)
	assert.Equal(t, "id", data.Schemas[0].Tables[0].Columns[0].Name)
	assert.False(t, data.Schemas[0].Tables[0].Columns[0].Nullable)
	assert.True(t, data.Schemas[0].Tables[0].Columns[1].Nullable)
	assert.Equal(t, "reporting", data.Schemas[1].Schema)
}

func TestConnectionSchemaRequiresConnectionID(t *testing.T) {
	s := testServer(&fakeExecutor{}, &fakePools{})

	rec, _ := doJSON(t, s.Router(), http.MethodPost, "/api/connection/schema",
		map[string]interface{}{"connection": map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJWTAuthMiddleware(t *testing.T) {
	secret := "test-secret"
	cfg := &config.Config{Port: "0", MaxQueryTimeout: 30000, MaxResultRows: 10000}
	s := New(cfg, &fakeExecutor{}, &fakePools{}, nil, NewJWTAuth(secret), nil)
	router := s.Router()

	// No credentials
	rec, resp := doJSON(t, router, http.MethodPost, "/api/query/validate",
		map[string]string{"query": "SELECT 1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, resp.Error, "Authorization")

	// Valid token
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "studio",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"query": "SELECT 1"})
	req := httptest.NewRequest(http.MethodPost, "/api/query/validate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Token signed with the wrong secret
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "studio",
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/api/query/validate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+badToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := &config.Config{Port: "0", MaxQueryTimeout: 30000, MaxResultRows: 10000}
	limiter := NewMemoryRateLimiter(2, time.Minute)
	s := New(cfg, &fakeExecutor{}, &fakePools{}, limiter, nil, nil)
	router := s.Router()

	for i := 0; i < 2; i++ {
		rec, _ := doJSON(t, router, http.MethodPost, "/api/query/validate",
			map[string]string{"query": "SELECT 1"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec, resp := doJSON(t, router, http.MethodPost, "/api/query/validate",
		map[string]string{"query": "SELECT 1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, resp.Error, "rate limit")
}

func TestInvalidJSONBody(t *testing.T) {
	s := testServer(&fakeExecutor{}, &fakePools{})

	req := httptest.NewRequest(http.MethodPost, "/api/query/execute", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:54321"
	assert.Equal(t, "10.0.0.5", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
