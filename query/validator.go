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
	"regexp"
	"strings"
)

// Denylist patterns for statements that are rejected outright.
// This is a coarse textual check, not a parser: a WHERE appearing anywhere
// in the remaining text (even inside a string literal or comment) satisfies
// the DELETE/UPDATE checks. That permissiveness is intentional and must be
// preserved; it is not a security boundary.
var (
	dropDatabaseRe  = regexp.MustCompile(`(?i)\bDROP\s+DATABASE\b`)
	dropSchemaRe    = regexp.MustCompile(`(?i)\bDROP\s+SCHEMA\b`)
	truncateTableRe = regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`)
	deleteFromRe    = regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+\w+`)
	updateSetRe     = regexp.MustCompile(`(?i)\bUPDATE\s+\w+\s+SET\b`)
)

// Validate runs the static denylist check against raw SQL text.
// Returns nil when the statement is allowed, or a *ValidationError
// describing why it was rejected.
func Validate(sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return &ValidationError{Message: "Query cannot be empty"}
	}

	switch {
	case dropDatabaseRe.MatchString(sqlText):
		return &ValidationError{Message: "DROP DATABASE statements are not allowed"}
	case dropSchemaRe.MatchString(sqlText):
		return &ValidationError{Message: "DROP SCHEMA statements are not allowed"}
	case truncateTableRe.MatchString(sqlText):
		return &ValidationError{Message: "TRUNCATE TABLE statements are not allowed"}
	}

	if loc := deleteFromRe.FindStringIndex(sqlText); loc != nil {
		if !containsWhere(sqlText[loc[1]:]) {
			return &ValidationError{Message: "DELETE without WHERE clause is not allowed"}
		}
	}

	if loc := updateSetRe.FindStringIndex(sqlText); loc != nil {
		if !containsWhere(sqlText[loc[1]:]) {
			return &ValidationError{Message: "UPDATE without WHERE clause is not allowed"}
		}
	}

	return nil
}

func containsWhere(rest string) bool {
	return strings.Contains(strings.ToUpper(rest), "WHERE")
}
