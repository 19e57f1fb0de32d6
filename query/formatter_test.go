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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataTypeName(t *testing.T) {
	assert.Equal(t, "integer", DataTypeName(23))
	assert.Equal(t, "boolean", DataTypeName(16))
	assert.Equal(t, "timestamptz", DataTypeName(1184))
	assert.Equal(t, "jsonb", DataTypeName(3802))
	assert.Equal(t, "unknown", DataTypeName(9999))
	assert.Equal(t, "unknown", DataTypeName(0))
}

func TestFormatTruncatesRows(t *testing.T) {
	res := &DriverResult{
		Columns: []DriverColumn{{Name: "id", TypeOID: 23}},
		Rows: []map[string]interface{}{
			{"id": 1},
			{"id": 2},
			{"id": 3},
		},
		Command: "SELECT",
	}

	env := Format(res, 12, 2)

	assert.Len(t, env.Rows, 2)
	assert.Equal(t, 3, env.Metadata.RowCount)
	assert.Equal(t, 3, env.Metadata.ActualRowCount)
	assert.True(t, env.Metadata.HasMore)
	assert.Equal(t, int64(12), env.Metadata.ExecutionTime)
	assert.Equal(t, "SELECT", env.Metadata.Command)
}

func TestFormatUnderCap(t *testing.T) {
	res := &DriverResult{
		Columns: []DriverColumn{{Name: "id", TypeOID: 23}},
		Rows: []map[string]interface{}{
			{"id": 1},
			{"id": 2},
		},
		Command: "SELECT",
	}

	env := Format(res, 5, 3)

	assert.Len(t, env.Rows, 2)
	assert.Equal(t, 2, env.Metadata.RowCount)
	assert.False(t, env.Metadata.HasMore)
}

func TestFormatEmptyResult(t *testing.T) {
	res := &DriverResult{
		Columns: []DriverColumn{},
		Rows:    nil,
		Command: "SELECT",
	}

	env := Format(res, 1, 100)

	require.NotNil(t, env.Rows)
	assert.Len(t, env.Rows, 0)
	assert.Equal(t, 0, env.Metadata.RowCount)
	assert.False(t, env.Metadata.HasMore)
}

func TestFormatColumnMetadata(t *testing.T) {
	res := &DriverResult{
		Columns: []DriverColumn{
			{Name: "id", TypeOID: 23},
			{Name: "payload", TypeOID: 9999},
		},
		Rows:    []map[string]interface{}{},
		Command: "SELECT",
	}

	env := Format(res, 0, 10)

	require.Len(t, env.Columns, 2)
	assert.Equal(t, "id", env.Columns[0].Name)
	assert.Equal(t, uint32(23), env.Columns[0].DataTypeID)
	assert.Equal(t, "integer", env.Columns[0].DataType)
	assert.True(t, env.Columns[0].Nullable)

	assert.Equal(t, "unknown", env.Columns[1].DataType)
}

func TestFormatDMLResult(t *testing.T) {
	res := &DriverResult{
		Columns:      []DriverColumn{},
		Rows:         []map[string]interface{}{},
		RowsAffected: 7,
		Command:      "UPDATE",
	}

	env := Format(res, 3, 100)

	assert.Equal(t, int64(7), env.Metadata.RowsAffected)
	assert.Equal(t, "UPDATE", env.Metadata.Command)
	assert.Equal(t, 0, env.Metadata.RowCount)
}
