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

package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlstudio/backend/query"
	"sqlstudio/backend/shared/logger"
)

// Status is the lifecycle state of a tracked execution
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// Execution is a snapshot of one tracked query execution
type Execution struct {
	QueryID     string                `json:"queryId"`
	SQL         string                `json:"sql"`
	QueryHash   string                `json:"queryHash"`
	Priority    string                `json:"priority,omitempty"`
	Mode        string                `json:"mode,omitempty"`
	Status      Status                `json:"status"`
	StartedAt   time.Time             `json:"startedAt"`
	CompletedAt time.Time             `json:"completedAt,omitempty"`
	Result      *query.ResultEnvelope `json:"result,omitempty"`
	Err         *ClassifiedError      `json:"error,omitempty"`
}

// Subscriber receives execution snapshots as transitions happen
type Subscriber func(Execution)

// execution is the mutable tracked record. pubMu serializes each state
// change with its subscriber delivery so publishes arrive in transition
// order; mu alone guards the snapshot for readers.
type execution struct {
	pubMu sync.Mutex
	mu    sync.Mutex
	snap  Execution
}

// Tracker models the lifecycle of client-side query executions. Submission
// runs asynchronously; callers observe progress through subscribers or by
// polling Get. Subscribers are invoked synchronously and see each record's
// transitions in order. Once a record reaches a terminal status it never
// changes again; the first transition to a terminal state wins and later
// attempts are dropped.
type Tracker struct {
	service QueryService
	log     *logger.Logger

	mu         sync.RWMutex
	executions map[string]*execution
	subs       []Subscriber
}

// NewTracker creates a tracker driving the given query service
func NewTracker(service QueryService, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.New("query-tracker")
	}
	return &Tracker{
		service:    service,
		log:        log,
		executions: make(map[string]*execution),
	}
}

// Subscribe registers a subscriber for all future transitions
func (t *Tracker) Subscribe(fn Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// ExecuteQuery registers a pending execution and submits it asynchronously.
// The query identifier is generated client-side and sent with the request,
// so CancelExecution works even before the backend has responded. Returns
// the identifier immediately.
func (t *Tracker) ExecuteQuery(ctx context.Context, req ExecuteRequest) string {
	queryID := req.QueryID
	if queryID == "" {
		queryID = uuid.New().String()
		req.QueryID = queryID
	}

	rec := &execution{snap: Execution{
		QueryID:   queryID,
		SQL:       req.SQL,
		QueryHash: hashQuery(req.SQL),
		Priority:  req.Priority,
		Mode:      req.Mode,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}}

	t.mu.Lock()
	t.executions[queryID] = rec
	t.mu.Unlock()

	rec.pubMu.Lock()
	t.publish(rec.snapshot())
	rec.pubMu.Unlock()

	go t.submit(ctx, req, rec)

	return queryID
}

// submit drives one execution to a terminal state
func (t *Tracker) submit(ctx context.Context, req ExecuteRequest, rec *execution) {
	t.transition(rec, StatusRunning, nil, nil)

	result, err := t.service.ExecuteQuery(ctx, req)
	if err != nil {
		classified := Classify(err)
		status := StatusFailed
		if classified.Category == CategoryTimeout {
			status = StatusTimeout
		}
		t.transition(rec, status, nil, classified)
		return
	}

	t.transition(rec, StatusCompleted, result, nil)
}

// CancelExecution requests cancellation of a tracked execution. The record
// moves to cancelled as soon as the backend acknowledges; if the execution
// already reached a terminal state the transition is dropped and the
// earlier outcome stands.
func (t *Tracker) CancelExecution(ctx context.Context, queryID string) (bool, error) {
	t.mu.RLock()
	rec, ok := t.executions[queryID]
	t.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if rec.snapshot().Status.IsTerminal() {
		return false, nil
	}

	acknowledged, err := t.service.CancelQuery(ctx, queryID)
	if err != nil {
		return false, err
	}
	if !acknowledged {
		return false, nil
	}

	t.transition(rec, StatusCancelled, nil, &ClassifiedError{
		Category: CategoryUnknown,
		Title:    "Cancelled",
		Message:  "query cancelled by user",
	})
	return true, nil
}

// Get returns a snapshot of the execution, if tracked
func (t *Tracker) Get(queryID string) (Execution, bool) {
	t.mu.RLock()
	rec, ok := t.executions[queryID]
	t.mu.RUnlock()
	if !ok {
		return Execution{}, false
	}
	return rec.snapshot(), true
}

// List returns snapshots of all tracked executions
func (t *Tracker) List() []Execution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Execution, 0, len(t.executions))
	for _, rec := range t.executions {
		out = append(out, rec.snapshot())
	}
	return out
}

// Prune drops terminal executions older than maxAge and returns how many
// were removed
func (t *Tracker) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, rec := range t.executions {
		snap := rec.snapshot()
		if snap.Status.IsTerminal() && !snap.CompletedAt.IsZero() && snap.CompletedAt.Before(cutoff) {
			delete(t.executions, id)
			removed++
		}
	}
	return removed
}

// transition applies a state change under the record lock. Transitions out
// of a terminal state are dropped, which makes a cancel racing a natural
// completion safe: whichever writer arrives first decides the outcome.
// Delivery happens under pubMu so a racing transition cannot publish its
// snapshot between this one's state change and its fan-out; once a
// terminal snapshot is delivered, no earlier state is seen afterwards.
func (t *Tracker) transition(rec *execution, status Status, result *query.ResultEnvelope, cerr *ClassifiedError) {
	rec.pubMu.Lock()
	defer rec.pubMu.Unlock()

	rec.mu.Lock()
	if rec.snap.Status.IsTerminal() {
		rec.mu.Unlock()
		return
	}
	rec.snap.Status = status
	if status.IsTerminal() {
		rec.snap.CompletedAt = time.Now()
	}
	if result != nil {
		rec.snap.Result = result
	}
	if cerr != nil {
		rec.snap.Err = cerr
	}
	snap := rec.snap
	rec.mu.Unlock()

	t.log.Debug("", snap.QueryID, "execution transitioned", map[string]interface{}{
		"status": string(snap.Status),
		"sql":    firstLine(snap.SQL),
	})
	t.publish(snap)
}

// publish fans a snapshot out to subscribers
func (t *Tracker) publish(snap Execution) {
	t.mu.RLock()
	subs := make([]Subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (rec *execution) snapshot() Execution {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snap
}

// hashQuery returns the hex SHA-256 of the SQL text, used to correlate
// repeated executions of the same statement
func hashQuery(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
