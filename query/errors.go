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
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// sqlContextLength is how much of the original SQL is carried on driver
// errors for context.
const sqlContextLength = 200

// ValidationError rejects client input before any execution is attempted
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TimeoutError indicates the execution exceeded the configured timeout.
// The underlying query is not guaranteed to have stopped server-side;
// callers should issue an explicit cancel if that matters.
type TimeoutError struct {
	QueryID string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query %s exceeded timeout of %v", e.QueryID, e.Timeout)
}

// DriverError surfaces a runtime or syntax error from the database driver,
// carrying position metadata when the driver supplies it
type DriverError struct {
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Position string `json:"position,omitempty"`
	Line     string `json:"line,omitempty"`
	Column   string `json:"column,omitempty"`
	Query    string `json:"query,omitempty"` // first 200 characters of the SQL
	Cause    error  `json:"-"`
}

func (e *DriverError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("driver error %s: %s", e.Code, e.Message)
	}
	return "driver error: " + e.Message
}

func (e *DriverError) Unwrap() error {
	return e.Cause
}

// IsSyntax reports whether the error is a SQL syntax error (class 42)
func (e *DriverError) IsSyntax() bool {
	return len(e.Code) >= 2 && e.Code[:2] == "42"
}

// newDriverError builds a DriverError from a raw driver failure, extracting
// PostgreSQL diagnostic fields when available
func newDriverError(err error, sqlText string) *DriverError {
	de := &DriverError{
		Message: err.Error(),
		Query:   truncateSQL(sqlText),
		Cause:   err,
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		de.Message = pqErr.Message
		de.Code = string(pqErr.Code)
		de.Severity = pqErr.Severity
		de.Detail = pqErr.Detail
		de.Hint = pqErr.Hint
		de.Position = pqErr.Position
		de.Line = pqErr.Line
		de.Column = pqErr.Column
	}

	return de
}

func truncateSQL(sqlText string) string {
	if len(sqlText) > sqlContextLength {
		return sqlText[:sqlContextLength]
	}
	return sqlText
}
