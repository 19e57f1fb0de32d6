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

// Column describes one result column in the envelope.
// Nullable is always true: the driver does not expose per-column
// nullability, and the envelope reports that limitation honestly rather
// than guessing.
type Column struct {
	Name       string `json:"name"`
	DataTypeID uint32 `json:"dataTypeID"`
	DataType   string `json:"dataType"`
	Nullable   bool   `json:"nullable"`
}

// ResultMetadata carries row accounting and timing for an execution
type ResultMetadata struct {
	RowCount       int    `json:"rowCount"`       // rows before capping
	ActualRowCount int    `json:"actualRowCount"` // same as RowCount, pre-cap
	RowsAffected   int64  `json:"rowsAffected"`   // for DML statements
	ExecutionTime  int64  `json:"executionTime"`  // milliseconds
	Command        string `json:"command"`        // SELECT, INSERT, ...
	HasMore        bool   `json:"hasMore"`        // true iff rows were truncated
}

// ResultEnvelope is the normalized result returned for every executed query
type ResultEnvelope struct {
	QueryID  string                   `json:"queryId"`
	Columns  []Column                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	Metadata ResultMetadata           `json:"metadata"`
}

// DriverColumn is a raw column as produced by the driver layer
type DriverColumn struct {
	Name    string
	TypeOID uint32
}

// DriverResult is the raw, untruncated outcome of a driver call
type DriverResult struct {
	Columns      []DriverColumn
	Rows         []map[string]interface{}
	RowsAffected int64
	Command      string
}

// typeOIDNames maps PostgreSQL type OIDs to semantic type names.
// Anything not listed here formats as "unknown".
var typeOIDNames = map[uint32]string{
	16:   "boolean",
	20:   "bigint",
	21:   "smallint",
	23:   "integer",
	25:   "text",
	114:  "json",
	700:  "real",
	701:  "double precision",
	1043: "varchar",
	1082: "date",
	1114: "timestamp",
	1184: "timestamptz",
	2950: "uuid",
	3802: "jsonb",
}

// databaseTypeOIDs maps lib/pq DatabaseTypeName values back to type OIDs so
// the envelope can carry the numeric identifier alongside the semantic name.
var databaseTypeOIDs = map[string]uint32{
	"BOOL":        16,
	"INT8":        20,
	"INT2":        21,
	"INT4":        23,
	"TEXT":        25,
	"JSON":        114,
	"FLOAT4":      700,
	"FLOAT8":      701,
	"VARCHAR":     1043,
	"DATE":        1082,
	"TIMESTAMP":   1114,
	"TIMESTAMPTZ": 1184,
	"UUID":        2950,
	"JSONB":       3802,
}

// DataTypeName resolves a type OID to its semantic name, or "unknown"
func DataTypeName(oid uint32) string {
	if name, ok := typeOIDNames[oid]; ok {
		return name
	}
	return "unknown"
}

// typeOIDForDatabaseType resolves a driver type name to its OID, or 0
func typeOIDForDatabaseType(name string) uint32 {
	return databaseTypeOIDs[name]
}

// Format turns a raw driver result into the stable result envelope,
// truncating the row sequence to maxRows. The full result has already been
// fetched at this point; truncation affects only what the caller sees.
func Format(res *DriverResult, executionTimeMs int64, maxRows int) *ResultEnvelope {
	columns := make([]Column, 0, len(res.Columns))
	for _, col := range res.Columns {
		columns = append(columns, Column{
			Name:       col.Name,
			DataTypeID: col.TypeOID,
			DataType:   DataTypeName(col.TypeOID),
			Nullable:   true,
		})
	}

	actualRowCount := len(res.Rows)
	rows := res.Rows
	hasMore := false
	if maxRows > 0 && actualRowCount > maxRows {
		rows = rows[:maxRows]
		hasMore = true
	}
	if rows == nil {
		rows = make([]map[string]interface{}, 0)
	}

	return &ResultEnvelope{
		Columns: columns,
		Rows:    rows,
		Metadata: ResultMetadata{
			RowCount:       actualRowCount,
			ActualRowCount: actualRowCount,
			RowsAffected:   res.RowsAffected,
			ExecutionTime:  executionTimeMs,
			Command:        res.Command,
			HasMore:        hasMore,
		},
	}
}
