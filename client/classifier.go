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

import "strings"

// Category buckets an execution failure for display purposes
type Category string

const (
	CategorySyntax     Category = "syntax"
	CategoryPermission Category = "permission"
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryRuntime    Category = "runtime"
	CategoryUnknown    Category = "unknown"
)

// ClassifiedError is an execution failure with display metadata attached
type ClassifiedError struct {
	Category   Category `json:"category"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	ActionHint string   `json:"actionHint,omitempty"`
}

func (e *ClassifiedError) Error() string {
	return string(e.Category) + ": " + e.Message
}

// categoryMeta carries the display metadata attached per category
var categoryMeta = map[Category]struct {
	title      string
	suggestion string
	actionHint string
}{
	CategorySyntax:     {"Syntax Error", "Check the SQL statement near the reported position", "edit-query"},
	CategoryPermission: {"Permission Denied", "Verify the database user's privileges and credentials", "check-credentials"},
	CategoryTimeout:    {"Query Timeout", "Narrow the query or raise the execution timeout", "increase-timeout"},
	CategoryConnection: {"Connection Failed", "Verify host, port, and network reachability", "check-connection"},
	CategoryRuntime:    {"Query Error", "Review the statement against the current schema", "edit-query"},
	CategoryUnknown:    {"Unexpected Error", "Retry the query or inspect the server logs", "retry"},
}

// Keyword sets per category. Matching is substring-based on the lowercased
// message; categories are checked in a fixed order and the first match wins,
// so a message mentioning both "syntax" and "timeout" classifies as syntax.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategorySyntax, []string{"syntax error", "parse error", "unexpected token", "unterminated"}},
	{CategoryPermission, []string{"permission denied", "access denied", "not authorized", "authentication failed", "password authentication"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded", "canceling statement due to statement timeout"}},
	{CategoryConnection, []string{"connection refused", "connection reset", "no such host", "could not connect", "broken pipe", "connection closed"}},
	{CategoryRuntime, []string{"does not exist", "already exists", "violates", "division by zero", "duplicate key", "null value", "out of range", "invalid input"}},
}

// Classify buckets an error by scanning its message for known keywords.
// Errors that match nothing fall into the unknown category.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return newClassified(entry.category, msg)
			}
		}
	}

	return newClassified(CategoryUnknown, msg)
}

func newClassified(category Category, msg string) *ClassifiedError {
	meta := categoryMeta[category]
	return &ClassifiedError{
		Category:   category,
		Title:      meta.title,
		Message:    msg,
		Suggestion: meta.suggestion,
		ActionHint: meta.actionHint,
	}
}
