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
	"fmt"
	"strings"
	"time"

	"github.com/driftlake/qplan/expr"
)

const userSQLAlias = "__with__"

// Plan lowers one External snapshot into a SQL string plus the
// PostTransform the caller pipes result rows through, the sibling of
// planner.Plan for a relational target (spec §6).
func Plan(ext *expr.External, d Dialect) (*expr.QueryAndPostTransform, error) {
	scope := expr.NewScopeStack(ext.Attributes)

	var b builder
	b.dialect = d

	switch ext.Mode {
	case expr.ModeRaw:
		if !ext.AllowSelectQueries {
			return nil, expr.NewInvalidConfigurationError("raw mode requires allowSelectQueries")
		}
		if err := b.buildScan(ext, scope); err != nil {
			return nil, err
		}
	case expr.ModeSplit:
		if err := b.buildAggregate(ext, scope, ext.Split.Split.Keys); err != nil {
			return nil, err
		}
	case expr.ModeValue, expr.ModeTotal:
		if err := b.buildAggregate(ext, scope, nil); err != nil {
			return nil, err
		}
	default:
		return nil, expr.NewInvalidConfigurationError("unknown mode %q", ext.Mode)
	}

	sql, err := b.render(ext)
	if err != nil {
		return nil, err
	}

	return &expr.QueryAndPostTransform{
		Query: sql,
		Context: expr.QueryContext{
			Timestamp: ext.TimeAttribute,
		},
		PostTransform: expr.RowTransform{Inflaters: b.inflaters, OutputCols: b.outputCols, TimeShift: ext.TimeShift},
	}, nil
}

// builder accumulates one query's clauses as it's built, mirroring the
// teacher's incremental cols/gb slice-building in buildStepAggNoWindow
// before joining them into clause strings.
type builder struct {
	dialect Dialect

	selectCols []string
	groupByLen int
	groupByCol []string // repeated-expression form, used when !ShortcutGroupBy
	having     string
	orderBy    string
	limit      int
	hasLimit   bool

	outputCols []string
	inflaters  []expr.ColumnInflater
}

func (b *builder) buildScan(ext *expr.External, scope *expr.ScopeStack) error {
	cols := ext.Select
	if len(cols) == 0 {
		cols = make([]string, len(ext.RawAttributes))
		for i, a := range ext.RawAttributes {
			cols[i] = a.Name
		}
	}
	for _, name := range cols {
		if derived, ok := ext.DerivedAttrs[name]; ok {
			sql, err := lowerScalar(derived, scope, b.dialect)
			if err != nil {
				return err
			}
			b.selectCols = append(b.selectCols, fmt.Sprintf("%s AS %s", sql, b.dialect.Quote(name)))
		} else {
			// Raw mode emits dropped-origin attributes: the bare column
			// name, with no table/source qualification (spec §6).
			b.selectCols = append(b.selectCols, b.dialect.Quote(name))
		}
		b.outputCols = append(b.outputCols, name)
		b.inflaters = append(b.inflaters, expr.ColumnInflater{Name: name, Inflate: inflaterFor(ext, name)})
	}
	if ext.Sort != nil {
		dir := "ASC"
		if ext.Sort.Sort.Descending {
			dir = "DESC"
		}
		b.orderBy = fmt.Sprintf("%s %s", b.dialect.Quote(ext.Sort.Sort.RefName), dir)
	}
	if ext.Limit != nil {
		b.limit = ext.Limit.Limit.Value
		b.hasLimit = true
	}
	return nil
}

func (b *builder) buildAggregate(ext *expr.External, scope *expr.ScopeStack, keys []expr.SplitKey) error {
	for _, key := range keys {
		sql, err := lowerScalar(key.Expression, scope, b.dialect)
		if err != nil {
			return err
		}
		alias := b.dialect.Quote(key.Name)
		b.selectCols = append(b.selectCols, fmt.Sprintf("%s AS %s", sql, alias))
		b.groupByCol = append(b.groupByCol, sql)
		b.outputCols = append(b.outputCols, key.Name)
		b.inflaters = append(b.inflaters, expr.ColumnInflater{Name: key.Name, Inflate: inflaterFor(ext, key.Name)})
	}
	b.groupByLen = len(keys)

	applies := ext.Applies
	if ext.Mode != expr.ModeSplit && ext.ValueExpression != nil {
		applies = []expr.ApplyExpr{{Name: "value", Expression: *ext.ValueExpression}}
	}
	for _, a := range applies {
		sql, err := buildSelectExpr(a.Expression, scope, b.dialect, ext.CustomAggregations)
		if err != nil {
			return fmt.Errorf("apply %q: %w", a.Name, err)
		}
		alias := b.dialect.Quote(a.Name)
		b.selectCols = append(b.selectCols, fmt.Sprintf("%s AS %s", sql, alias))
		b.outputCols = append(b.outputCols, a.Name)
		b.inflaters = append(b.inflaters, expr.ColumnInflater{Name: a.Name, Inflate: passthrough})
	}

	if ext.HavingFilter != nil {
		having, err := lowerPredicate(*ext.HavingFilter, scope, b.dialect)
		if err != nil {
			return err
		}
		b.having = having
	}
	if ext.Sort != nil {
		dir := "ASC"
		if ext.Sort.Sort.Descending {
			dir = "DESC"
		}
		b.orderBy = fmt.Sprintf("%s %s", b.dialect.Quote(ext.Sort.Sort.RefName), dir)
	}
	if ext.Limit != nil {
		b.limit = ext.Limit.Limit.Value
		b.hasLimit = true
	}
	return nil
}

// render assembles the accumulated clauses into one SQL string: SELECT |
// FROM | WHERE | GROUP BY | HAVING | ORDER BY | LIMIT, with an optional
// leading `WITH __with__ AS (<user-sql>)` when the External's context
// carries a user-supplied subquery (spec §6), grounded on the teacher's
// `"WITH _leaf AS (" + pipelineSQL + ")" + " SELECT " + ...` CTE wrapping in
// buildFromLogLeaf (promql/sql_builder.go).
func (b *builder) render(ext *expr.External) (string, error) {
	var sb strings.Builder

	from := b.dialect.Quote(ext.Source)
	if userSQL, ok := ext.Context["userSQL"].(string); ok && userSQL != "" {
		fmt.Fprintf(&sb, "WITH %s AS (%s) ", userSQLAlias, userSQL)
		from = userSQLAlias
	}

	fmt.Fprintf(&sb, "SELECT %s FROM %s", strings.Join(b.selectCols, ", "), from)

	if ext.Filter != nil {
		scope := expr.NewScopeStack(ext.Attributes)
		where, err := lowerPredicate(*ext.Filter, scope, b.dialect)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE " + where)
	}

	if b.groupByLen > 0 {
		sb.WriteString(" GROUP BY " + b.groupByClause())
	}
	// Value/total mode (no split keys) emits an empty group-by: the
	// aggregate is computed over the whole filtered set, so no GROUP BY
	// clause is emitted at all rather than an explicit empty one (spec §6).

	if b.having != "" {
		sb.WriteString(" HAVING " + b.having)
	}
	if b.orderBy != "" {
		sb.WriteString(" ORDER BY " + b.orderBy)
	}
	if b.hasLimit {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String(), nil
}

func (b *builder) groupByClause() string {
	if b.dialect.ShortcutGroupBy {
		positions := make([]string, b.groupByLen)
		for i := range positions {
			positions[i] = fmt.Sprintf("%d", i+1)
		}
		return strings.Join(positions, ", ")
	}
	return strings.Join(b.groupByCol, ", ")
}

func inflaterFor(ext *expr.External, name string) func(any) any {
	if name == ext.TimeAttribute {
		return inflateTime
	}
	return passthrough
}

func passthrough(raw any) any { return raw }

// inflateTime coerces DuckDB's native TIMESTAMP Go value (already a
// time.Time via the database/sql driver) into the algebra's Date-typed
// value; any other representation is a typed null per spec §7's "inflaters
// are total functions."
func inflateTime(raw any) any {
	if t, ok := raw.(time.Time); ok {
		return t
	}
	return nil
}
