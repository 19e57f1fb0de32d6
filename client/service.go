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

// Package client provides the caller-side view of the query service:
// a small HTTP driver, an execution tracker that models query lifecycle
// state, an error classifier, and a local connection store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sqlstudio/backend/dbpool"
	"sqlstudio/backend/query"
)

// QueryService is the transport-level contract the tracker drives.
// HTTPService talks to a running backend; tests substitute fakes.
type QueryService interface {
	ExecuteQuery(ctx context.Context, req ExecuteRequest) (*query.ResultEnvelope, error)
	CancelQuery(ctx context.Context, queryID string) (bool, error)
}

// ExecuteRequest is the wire form of a query execution request. Priority
// and Mode are advisory metadata carried onto the execution record.
type ExecuteRequest struct {
	SQL          string                  `json:"query"`
	ConnectionID string                  `json:"connectionId"`
	Connection   dbpool.ConnectionConfig `json:"connection"`
	Options      query.Options           `json:"options,omitempty"`
	QueryID      string                  `json:"queryId,omitempty"`
	Priority     string                  `json:"priority,omitempty"`
	Mode         string                  `json:"mode,omitempty"`
}

// apiEnvelope mirrors the JSON envelope the backend returns. Cancel and
// validate responses carry their result flat on the envelope instead of
// under data.
type apiEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Cancelled *bool           `json:"cancelled,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// HTTPService is the default QueryService backed by the backend HTTP API
type HTTPService struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPService creates a service client for the backend at baseURL.
// The client timeout is generous because query execution is long-lived;
// per-request deadlines come from the caller's context.
func NewHTTPService(baseURL, token string) *HTTPService {
	return &HTTPService{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient overrides the underlying HTTP client
func (s *HTTPService) WithHTTPClient(c *http.Client) *HTTPService {
	s.httpClient = c
	return s
}

// ExecuteQuery submits the query and blocks until the backend responds
func (s *HTTPService) ExecuteQuery(ctx context.Context, req ExecuteRequest) (*query.ResultEnvelope, error) {
	envelope, err := s.post(ctx, "/api/query/execute", req)
	if err != nil {
		return nil, err
	}

	var result query.ResultEnvelope
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result envelope: %w", err)
	}
	return &result, nil
}

// CancelQuery asks the backend to cancel the query identified by queryID.
// Returns whether the backend still had the query in flight.
func (s *HTTPService) CancelQuery(ctx context.Context, queryID string) (bool, error) {
	envelope, err := s.post(ctx, "/api/query/cancel", map[string]string{"queryId": queryID})
	if err != nil {
		return false, err
	}
	return envelope.Cancelled != nil && *envelope.Cancelled, nil
}

// post sends a JSON request and returns the decoded response envelope
func (s *HTTPService) post(ctx context.Context, path string, payload interface{}) (*apiEnvelope, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected response from %s (status %d): %s", path, resp.StatusCode, string(raw))
	}

	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	return &envelope, nil
}
