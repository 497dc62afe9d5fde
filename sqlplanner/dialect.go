// Copyright (C) 2025 Driftlake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package sqlplanner is the SQL backend sibling (spec §6): given the same
// External snapshot the native Planner consumes, it produces a SQL string
// with clauses SELECT/FROM/WHERE/GROUP BY/HAVING/ORDER BY/LIMIT, plus an
// optional leading `WITH __with__ AS (<user-sql>)`. Clause assembly is
// grounded on the teacher's string-concatenation style in
// promql/sql_builder.go (whereFor, withTime, buildStepAggNoWindow); unlike
// the native Planner it has no shape-selection table, no virtual columns,
// and no extraction functions — SQL expresses everything inline.
package sqlplanner

import "strings"

// Dialect names the relational dialect's SQL-generation capabilities.
type Dialect struct {
	Name string

	// ShortcutGroupBy allows positional GROUP BY (spec §6's
	// "shortcut-group-by capability"): "GROUP BY 1, 2" instead of repeating
	// each split key's expression text.
	ShortcutGroupBy bool

	Quote func(identifier string) string
}

// DuckDB is the dialect the package's own tests run against, grounded on
// sql_builder_test.go's openDuckDB/mustExec/queryAll harness.
func DuckDB() Dialect {
	return Dialect{Name: "duckdb", ShortcutGroupBy: true, Quote: quoteDoubleQuote}
}

// Postgres is a second dialect wired for parity: same quoting convention as
// DuckDB, same positional GROUP BY support.
func Postgres() Dialect {
	return Dialect{Name: "postgres", ShortcutGroupBy: true, Quote: quoteDoubleQuote}
}

func quoteDoubleQuote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
