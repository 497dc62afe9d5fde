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

	"github.com/driftlake/qplan/expr"
)

// buildSelectExpr lowers one apply's aggregate-expression tree into a single
// SQL scalar expression: a bare aggregate call, or an arithmetic combinator
// over nested aggregate calls inlined directly (SQL has no separate
// post-aggregation stage the way the native Planner's AggregationBuilder
// does, §4.3 — the whole tree is one SELECT expression).
func buildSelectExpr(e expr.Expression, scope *expr.ScopeStack, d Dialect, customAggregations map[string]any) (string, error) {
	switch e.Kind {
	case expr.KindAggregate:
		return aggregateSQL(e.Aggregate, scope, d, customAggregations)

	case expr.KindArithmetic:
		lhs, err := buildSelectExpr(e.Arithmetic.LHS, scope, d, customAggregations)
		if err != nil {
			return "", err
		}
		if e.Arithmetic.Op == expr.ArithAbs {
			return fmt.Sprintf("abs(%s)", lhs), nil
		}
		if e.Arithmetic.Op == expr.ArithLog {
			return fmt.Sprintf("ln(%s)", lhs), nil
		}
		rhs, err := buildSelectExpr(e.Arithmetic.RHS, scope, d, customAggregations)
		if err != nil {
			return "", err
		}
		switch e.Arithmetic.Op {
		case expr.ArithAdd:
			return fmt.Sprintf("(%s + %s)", lhs, rhs), nil
		case expr.ArithSub:
			return fmt.Sprintf("(%s - %s)", lhs, rhs), nil
		case expr.ArithMul:
			return fmt.Sprintf("(%s * %s)", lhs, rhs), nil
		case expr.ArithDiv:
			return safeDivide(lhs, rhs), nil
		case expr.ArithPow:
			return fmt.Sprintf("pow(%s, %s)", lhs, rhs), nil
		}
		return "", expr.NewUnsupportedExpressionError("unsupported post-aggregation arithmetic op %q", e.Arithmetic.Op)

	case expr.KindCast:
		return buildSelectExpr(e.Cast.Operand, scope, d, customAggregations)

	case expr.KindThen:
		op, err := buildSelectExpr(e.Then.Operand, scope, d, customAggregations)
		if err != nil {
			return "", err
		}
		fb, err := lowerScalar(e.Then.Expression, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(%s, %s)", op, fb), nil

	case expr.KindFallback:
		op, err := buildSelectExpr(e.Fallback.Operand, scope, d, customAggregations)
		if err != nil {
			return "", err
		}
		fb, err := lowerScalar(e.Fallback.Expression, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(%s, %s)", op, fb), nil

	default:
		return "", expr.NewUnsupportedExpressionError("apply expression of kind %q is not an aggregate combinator", e.Kind)
	}
}

// aggregateSQL builds one aggregate function call, wrapping it in a SQL
// FILTER clause when the operand is a filter(ref) — the relational
// equivalent of the native Planner's `filtered` aggregator wrapper (§4.3).
func aggregateSQL(a *expr.AggregateExpr, scope *expr.ScopeStack, d Dialect, customAggregations map[string]any) (string, error) {
	if a.Operand.Kind == expr.KindFilter {
		core, err := aggregateCore(a, scope, d, customAggregations)
		if err != nil {
			return "", err
		}
		cond, err := lowerPredicate(a.Operand.Filter.Expression, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s FILTER (WHERE %s)", core, cond), nil
	}
	return aggregateCore(a, scope, d, customAggregations)
}

func aggregateCore(a *expr.AggregateExpr, scope *expr.ScopeStack, d Dialect, customAggregations map[string]any) (string, error) {
	if a.Op == expr.AggCustom {
		tmpl, ok := customAggregations[a.CustomName]
		if !ok {
			return "", expr.NewInvalidConfigurationError("unknown custom aggregator %q", a.CustomName)
		}
		format, ok := tmpl.(string)
		if !ok {
			return "", expr.NewInvalidConfigurationError("custom aggregator %q is not a SQL format template", a.CustomName)
		}
		col := ""
		if a.Attribute != nil {
			info, err := scope.Resolve(a.Attribute)
			if err != nil {
				return "", err
			}
			col = d.Quote(info.Name)
		}
		return fmt.Sprintf(format, col), nil
	}

	if a.Op == expr.AggCount {
		return "COUNT(*)", nil
	}

	if a.Attribute == nil {
		return "", expr.NewTypeError("aggregate op %q requires an attribute", a.Op)
	}
	info, err := scope.Resolve(a.Attribute)
	if err != nil {
		return "", err
	}
	col := d.Quote(info.Name)

	switch a.Op {
	case expr.AggSum:
		return fmt.Sprintf("SUM(%s)", col), nil
	case expr.AggMin:
		return fmt.Sprintf("MIN(%s)", col), nil
	case expr.AggMax:
		return fmt.Sprintf("MAX(%s)", col), nil
	case expr.AggCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", col), nil
	case expr.AggQuantile:
		return fmt.Sprintf("approx_quantile(%s, %s)", col, sqlLiteral(a.Quantile)), nil
	default:
		return "", expr.NewUnsupportedExpressionError("unsupported aggregate op %q", a.Op)
	}
}
