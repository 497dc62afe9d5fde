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

// Package filterbuild is the FilterBuilder (spec §2, §4.8's ~15% component):
// it partitions a filter expression into a time-interval set on the time
// column and a residual dimension filter, distributing AND/OR the way the
// teacher's whereFor/withTime split a WHERE clause into a time predicate and
// the rest (promql/sql_builder.go), generalized from a SQL string to a
// native interval list plus Filter tree.
package filterbuild

import (
	"fmt"
	"time"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/planner/lower"
	"github.com/driftlake/qplan/query"
)

// timeRange is a half-open [Start, End) millisecond bound. A nil bound is
// open on that side.
type timeRange struct {
	Start, End *int64
}

// partitioned is one subexpression's contribution: zero or more disjoint
// time ranges (nil means "no time constraint from this branch") plus a
// residual dimension Filter.
type partitioned struct {
	ranges []timeRange
	filter *query.Filter
}

// Build partitions e (possibly nil, meaning "no filter") into RFC3339
// half-open interval strings and a residual dimension Filter.
func Build(e *expr.Expression, timeAttr string, scope *expr.ScopeStack) ([]string, *query.Filter, error) {
	if e == nil {
		return nil, nil, nil
	}
	if err := canHandleFilter(*e); err != nil {
		return nil, nil, err
	}
	p, err := partition(*e, timeAttr, scope)
	if err != nil {
		return nil, nil, err
	}
	return intervalStrings(p.ranges), p.filter, nil
}

// BuildDimensionFilter lowers e directly to a dimension Filter with no
// time-interval extraction, for callers (the AggregationBuilder's filtered
// aggregates, §4.3) that need a predicate scoped to one aggregator rather
// than the query's top-level interval set.
func BuildDimensionFilter(e expr.Expression, scope *expr.ScopeStack) (*query.Filter, error) {
	if err := canHandleFilter(e); err != nil {
		return nil, err
	}
	return leafFilter(e, scope)
}

// canHandleFilter rejects filters that reference a cardinality expression
// (spec §4.8's canHandleFilter feasibility check).
func canHandleFilter(e expr.Expression) error {
	if e.Kind == expr.KindCardinality {
		return expr.NewUnsupportedExpressionError("filter references a cardinality expression")
	}
	for _, c := range expr.Children(e) {
		if err := canHandleFilter(c); err != nil {
			return err
		}
	}
	return nil
}

func partition(e expr.Expression, timeAttr string, scope *expr.ScopeStack) (partitioned, error) {
	switch e.Kind {
	case expr.KindBoolean:
		switch e.Boolean.Op {
		case expr.BoolAnd:
			return partitionAnd(e.Boolean.Operands, timeAttr, scope)
		case expr.BoolOr:
			return partitionOr(e.Boolean.Operands, timeAttr, scope)
		case expr.BoolNot:
			inner, err := partition(e.Boolean.Operands[0], timeAttr, scope)
			if err != nil {
				return partitioned{}, err
			}
			if len(inner.ranges) > 0 {
				return partitioned{}, expr.NewUnsupportedExpressionError("cannot negate a time-interval filter")
			}
			f, err := leafFilter(e, scope)
			if err != nil {
				return partitioned{}, err
			}
			return partitioned{filter: f}, nil
		}
	case expr.KindComparison:
		if r, ok := comparisonTimeRange(e.Comparison, timeAttr); ok {
			return partitioned{ranges: []timeRange{r}}, nil
		}
	}
	f, err := leafFilter(e, scope)
	if err != nil {
		return partitioned{}, err
	}
	return partitioned{filter: f}, nil
}

func partitionAnd(operands []expr.Expression, timeAttr string, scope *expr.ScopeStack) (partitioned, error) {
	acc := partitioned{}
	var filters []query.Filter
	for _, op := range operands {
		p, err := partition(op, timeAttr, scope)
		if err != nil {
			return partitioned{}, err
		}
		if len(p.ranges) > 0 {
			merged, err := intersectRanges(acc.ranges, p.ranges)
			if err != nil {
				return partitioned{}, err
			}
			acc.ranges = merged
		}
		if p.filter != nil {
			filters = append(filters, *p.filter)
		}
	}
	acc.filter = andFilters(filters)
	return acc, nil
}

func partitionOr(operands []expr.Expression, timeAttr string, scope *expr.ScopeStack) (partitioned, error) {
	parts := make([]partitioned, len(operands))
	hasTime, hasDim := false, false
	for i, op := range operands {
		p, err := partition(op, timeAttr, scope)
		if err != nil {
			return partitioned{}, err
		}
		parts[i] = p
		if len(p.ranges) > 0 {
			hasTime = true
		}
		if p.filter != nil {
			hasDim = true
		}
	}
	if hasTime && hasDim {
		return partitioned{}, expr.NewUnsupportedExpressionError("OR forbids mixing time and non-time disjuncts")
	}
	if hasTime {
		var ranges []timeRange
		for _, p := range parts {
			ranges = append(ranges, p.ranges...)
		}
		return partitioned{ranges: ranges}, nil
	}
	var filters []query.Filter
	for _, p := range parts {
		if p.filter != nil {
			filters = append(filters, *p.filter)
		}
	}
	return partitioned{filter: &query.Filter{Type: "or", Fields: filters}}, nil
}

func intersectRanges(a, b []timeRange) ([]timeRange, error) {
	if len(a) == 0 {
		return b, nil
	}
	if len(b) == 0 {
		return a, nil
	}
	if len(a) != 1 || len(b) != 1 {
		return nil, expr.NewUnsupportedExpressionError("cannot intersect a union of time ranges with another time constraint")
	}
	ra, rb := a[0], b[0]
	out := timeRange{Start: laterOf(ra.Start, rb.Start), End: earlierOf(ra.End, rb.End)}
	return []timeRange{out}, nil
}

func laterOf(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a > *b {
		return a
	}
	return b
}

func earlierOf(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

func andFilters(filters []query.Filter) *query.Filter {
	if len(filters) == 0 {
		return nil
	}
	if len(filters) == 1 {
		return &filters[0]
	}
	return &query.Filter{Type: "and", Fields: filters}
}

// comparisonTimeRange recognizes `timeRef <op> literal` (or the reversed
// form) and converts it to a half-open millisecond bound.
func comparisonTimeRange(c *expr.ComparisonExpr, timeAttr string) (timeRange, bool) {
	lhs, rhs, op := c.LHS, c.RHS, c.Op
	if expr.IsTimeRef(rhs, timeAttr) && lhs.Kind == expr.KindLiteral {
		lhs, rhs = rhs, lhs
		op = flip(op)
	}
	if !expr.IsTimeRef(lhs, timeAttr) || rhs.Kind != expr.KindLiteral {
		return timeRange{}, false
	}
	ms, ok := literalMillis(rhs.Literal.Value)
	if !ok {
		return timeRange{}, false
	}
	switch op {
	case expr.CmpGte:
		return timeRange{Start: &ms}, true
	case expr.CmpGt:
		v := ms + 1
		return timeRange{Start: &v}, true
	case expr.CmpLt:
		return timeRange{End: &ms}, true
	case expr.CmpLte:
		v := ms + 1
		return timeRange{End: &v}, true
	}
	return timeRange{}, false
}

func flip(op expr.CompareOp) expr.CompareOp {
	switch op {
	case expr.CmpLt:
		return expr.CmpGt
	case expr.CmpLte:
		return expr.CmpGte
	case expr.CmpGt:
		return expr.CmpLt
	case expr.CmpGte:
		return expr.CmpLte
	}
	return op
}

func literalMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0, false
		}
		return parsed.UnixMilli(), true
	}
	return 0, false
}

func intervalStrings(ranges []timeRange) []string {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]string, len(ranges))
	for i, r := range ranges {
		out[i] = fmt.Sprintf("%s/%s", boundString(r.Start, minTime), boundString(r.End, maxTime))
	}
	return out
}

var (
	minTime = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
)

func boundString(ms *int64, fallback time.Time) string {
	if ms == nil {
		return fallback.UTC().Format(time.RFC3339)
	}
	return time.UnixMilli(*ms).UTC().Format(time.RFC3339)
}

// leafFilter lowers a predicate that isn't a recognized time bound into a
// native dimension Filter. Boolean nodes reaching here only ever contain
// non-time branches, since partition handles the time-aware cases above.
func leafFilter(e expr.Expression, scope *expr.ScopeStack) (*query.Filter, error) {
	switch e.Kind {
	case expr.KindBoolean:
		switch e.Boolean.Op {
		case expr.BoolAnd, expr.BoolOr:
			typ := "and"
			if e.Boolean.Op == expr.BoolOr {
				typ = "or"
			}
			fields := make([]query.Filter, len(e.Boolean.Operands))
			for i, op := range e.Boolean.Operands {
				f, err := leafFilter(op, scope)
				if err != nil {
					return nil, err
				}
				fields[i] = *f
			}
			return &query.Filter{Type: typ, Fields: fields}, nil
		case expr.BoolNot:
			f, err := leafFilter(e.Boolean.Operands[0], scope)
			if err != nil {
				return nil, err
			}
			return &query.Filter{Type: "not", Field: f}, nil
		}
	case expr.KindIs:
		dim, err := refName(e.Is.Operand, scope)
		if err != nil {
			return nil, err
		}
		return &query.Filter{Type: "selector", Dimension: dim, Value: e.Is.Value}, nil
	case expr.KindIn:
		dim, err := refName(e.In.Operand, scope)
		if err != nil {
			return nil, err
		}
		values := make([]string, len(e.In.Set))
		for i, v := range e.In.Set {
			values[i] = fmt.Sprintf("%v", v)
		}
		return &query.Filter{Type: "in", Dimension: dim, Values: values}, nil
	case expr.KindMatch:
		dim, err := refName(e.Match.Operand, scope)
		if err != nil {
			return nil, err
		}
		return &query.Filter{Type: "regex", Dimension: dim, Pattern: e.Match.Regex}, nil
	case expr.KindContains:
		dim, err := refName(e.Contains.Operand, scope)
		if err != nil {
			return nil, err
		}
		return &query.Filter{Type: "search", Dimension: dim, Value: e.Contains.Value}, nil
	case expr.KindComparison:
		return boundFilter(e.Comparison, scope)
	case expr.KindIsTrue:
		dim, err := refName(*e.Operand, scope)
		if err != nil {
			return nil, err
		}
		return &query.Filter{Type: "selector", Dimension: dim, Value: true}, nil
	}
	formula, err := lower.Lower(e, scope)
	if err != nil {
		return nil, err
	}
	return &query.Filter{Type: "expression", Value: formula}, nil
}

func boundFilter(c *expr.ComparisonExpr, scope *expr.ScopeStack) (*query.Filter, error) {
	dim, err := refName(c.LHS, scope)
	if err != nil {
		return nil, err
	}
	if c.RHS.Kind != expr.KindLiteral {
		return nil, expr.NewUnsupportedExpressionError("comparison filter requires a literal bound")
	}
	v := c.RHS.Literal.Value
	switch c.Op {
	case expr.CmpGte:
		return &query.Filter{Type: "bound", Dimension: dim, Lower: v, Ordering: "numeric"}, nil
	case expr.CmpGt:
		return &query.Filter{Type: "bound", Dimension: dim, Lower: v, LowerStrict: true, Ordering: "numeric"}, nil
	case expr.CmpLte:
		return &query.Filter{Type: "bound", Dimension: dim, Upper: v, Ordering: "numeric"}, nil
	case expr.CmpLt:
		return &query.Filter{Type: "bound", Dimension: dim, Upper: v, UpperStrict: true, Ordering: "numeric"}, nil
	}
	return nil, expr.NewUnsupportedExpressionError("unknown comparison op %q", c.Op)
}

func refName(e expr.Expression, scope *expr.ScopeStack) (string, error) {
	if e.Kind != expr.KindRef {
		return "", expr.NewUnsupportedExpressionError("dimension filter requires a bare reference, got kind %q", e.Kind)
	}
	info, err := scope.Resolve(e.Ref)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}
