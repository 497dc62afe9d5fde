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

package sqlplanner

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/driftlake/qplan/expr"
)

func openDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, q string) {
	t.Helper()
	_, err := db.Exec(q)
	require.NoError(t, err, "sql:\n%s", q)
}

type rowmap map[string]any

func queryAll(t *testing.T, db *sql.DB, q string) []rowmap {
	t.Helper()
	rows, err := db.Query(q)
	require.NoError(t, err, "sql:\n%s", q)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out []rowmap
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		m := rowmap{}
		for i, c := range cols {
			m[c] = vals[i]
		}
		out = append(out, m)
	}
	return out
}

func salesAttributes() expr.AttributeMap {
	return expr.AttributeMap{
		"country": {Name: "country", Type: expr.TypeString, NativeType: "VARCHAR"},
		"revenue": {Name: "revenue", Type: expr.TypeNumber, NativeType: "DOUBLE"},
		"hits":    {Name: "hits", Type: expr.TypeNumber, NativeType: "BIGINT"},
	}
}

func TestBuildAggregateGroupBySum(t *testing.T) {
	db := openDuckDB(t)
	mustExec(t, db, `CREATE TABLE sales (country VARCHAR, revenue DOUBLE, hits BIGINT)`)
	mustExec(t, db, `INSERT INTO sales VALUES ('US', 10.0, 2), ('US', 5.0, 1), ('FR', 7.0, 3)`)

	ext := &expr.External{
		Mode:       expr.ModeSplit,
		Source:     "sales",
		Attributes: salesAttributes(),
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name:       "country",
				Expression: expr.Ref("country", 0, expr.TypeString),
			}}},
		},
		Applies: []expr.ApplyExpr{{
			Name: "revenue",
			Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggSum,
					Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
				},
			},
		}},
	}

	plan, err := Plan(ext, DuckDB())
	require.NoError(t, err)
	sql, ok := plan.Query.(string)
	require.True(t, ok)

	rows := queryAll(t, db, sql)
	require.Len(t, rows, 2)
	byCountry := map[string]float64{}
	for _, r := range rows {
		byCountry[r["country"].(string)] = r["revenue"].(float64)
	}
	require.Equal(t, 15.0, byCountry["US"])
	require.Equal(t, 7.0, byCountry["FR"])
}

func TestBuildAggregateValueModeHasNoGroupBy(t *testing.T) {
	db := openDuckDB(t)
	mustExec(t, db, `CREATE TABLE sales (country VARCHAR, revenue DOUBLE, hits BIGINT)`)
	mustExec(t, db, `INSERT INTO sales VALUES ('US', 10.0, 2), ('FR', 7.0, 3)`)

	ext := &expr.External{
		Mode:       expr.ModeValue,
		Source:     "sales",
		Attributes: salesAttributes(),
		ValueExpression: &expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:        expr.AggSum,
				Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
			},
		},
	}

	plan, err := Plan(ext, DuckDB())
	require.NoError(t, err)
	sql := plan.Query.(string)
	require.NotContains(t, sql, "GROUP BY")

	rows := queryAll(t, db, sql)
	require.Len(t, rows, 1)
	require.Equal(t, 17.0, rows[0]["value"].(float64))
}

func TestBuildAggregateFilteredSumUsesFilterClause(t *testing.T) {
	db := openDuckDB(t)
	mustExec(t, db, `CREATE TABLE sales (country VARCHAR, revenue DOUBLE, hits BIGINT)`)
	mustExec(t, db, `INSERT INTO sales VALUES ('US', 10.0, 2), ('US', 5.0, 1), ('FR', 7.0, 3)`)

	filteredSum := expr.Expression{
		Kind: expr.KindAggregate,
		Aggregate: &expr.AggregateExpr{
			Op: expr.AggSum,
			Operand: expr.Expression{
				Kind: expr.KindFilter,
				Filter: &expr.FilterExpr{
					Expression: expr.Expression{
						Kind: expr.KindIs,
						Is:   &expr.IsExpr{Operand: expr.Ref("country", 0, expr.TypeString), Value: "US"},
					},
				},
			},
			Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
		},
	}

	ext := &expr.External{
		Mode:            expr.ModeValue,
		Source:          "sales",
		Attributes:      salesAttributes(),
		ValueExpression: &filteredSum,
	}

	plan, err := Plan(ext, DuckDB())
	require.NoError(t, err)
	sql := plan.Query.(string)
	require.Contains(t, sql, "FILTER (WHERE")

	rows := queryAll(t, db, sql)
	require.Len(t, rows, 1)
	require.Equal(t, 15.0, rows[0]["value"].(float64))
}

func TestBuildScanSelectsBareColumns(t *testing.T) {
	db := openDuckDB(t)
	mustExec(t, db, `CREATE TABLE sales (country VARCHAR, revenue DOUBLE, hits BIGINT)`)
	mustExec(t, db, `INSERT INTO sales VALUES ('US', 10.0, 2)`)

	ext := &expr.External{
		Mode:               expr.ModeRaw,
		Source:             "sales",
		Attributes:         salesAttributes(),
		AllowSelectQueries: true,
		Select:             []string{"country", "revenue"},
		Sort:               &expr.Expression{Kind: expr.KindSort, Sort: &expr.SortExpr{RefName: "revenue", Descending: true}},
		Limit:              &expr.Expression{Kind: expr.KindLimit, Limit: &expr.LimitExpr{Value: 5}},
	}

	plan, err := Plan(ext, DuckDB())
	require.NoError(t, err)
	sql := plan.Query.(string)
	require.Contains(t, sql, "ORDER BY")
	require.Contains(t, sql, "LIMIT 5")

	rows := queryAll(t, db, sql)
	require.Len(t, rows, 1)
	require.Equal(t, "US", rows[0]["country"].(string))
}

func TestBuildScanWithoutAllowSelectQueriesFails(t *testing.T) {
	ext := &expr.External{Mode: expr.ModeRaw, Attributes: salesAttributes()}
	_, err := Plan(ext, DuckDB())
	require.Error(t, err)
}

func TestBuildAggregateHavingPushesDownToHavingClause(t *testing.T) {
	db := openDuckDB(t)
	mustExec(t, db, `CREATE TABLE sales (country VARCHAR, revenue DOUBLE, hits BIGINT)`)
	mustExec(t, db, `INSERT INTO sales VALUES ('US', 10.0, 2), ('US', 5.0, 1), ('FR', 1.0, 1)`)

	having := expr.Expression{
		Kind: expr.KindComparison,
		Comparison: &expr.ComparisonExpr{
			Op:  expr.CmpGt,
			LHS: expr.Ref("revenue", 0, expr.TypeNumber),
			RHS: expr.Lit(5.0, expr.TypeNumber),
		},
	}
	ext := &expr.External{
		Mode:       expr.ModeSplit,
		Source:     "sales",
		Attributes: salesAttributes(),
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name:       "country",
				Expression: expr.Ref("country", 0, expr.TypeString),
			}}},
		},
		Applies: []expr.ApplyExpr{{
			Name: "revenue",
			Expression: expr.Expression{
				Kind:      expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{Op: expr.AggSum, Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber}},
			},
		}},
		HavingFilter: &having,
	}

	plan, err := Plan(ext, DuckDB())
	require.NoError(t, err)
	sql := plan.Query.(string)
	require.Contains(t, sql, "HAVING")

	rows := queryAll(t, db, sql)
	require.Len(t, rows, 1)
	require.Equal(t, "US", rows[0]["country"].(string))
}
