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
	"sort"
	"strings"
	"time"

	"github.com/driftlake/qplan/expr"
)

// lowerScalar maps e to a SQL scalar expression string. It is the SQL
// dialect's analog of planner/lower.Lower, generalized from the native
// virtual-column formula language to SQL syntax (quoted identifiers,
// '-quoted literals, SQL operators) the way whereFor/sqlLit in
// promql/sql_builder.go quote matcher values into WHERE predicates.
func lowerScalar(e expr.Expression, scope *expr.ScopeStack, d Dialect) (string, error) {
	switch e.Kind {
	case expr.KindRef:
		info, err := scope.Resolve(e.Ref)
		if err != nil {
			return "", err
		}
		return d.Quote(info.Name), nil

	case expr.KindLiteral:
		return sqlLiteral(e.Literal.Value), nil

	case expr.KindCast:
		inner, err := lowerScalar(e.Cast.Operand, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("CAST(%s AS %s)", inner, sqlCastType(e.Cast.To)), nil

	case expr.KindThen:
		op, err := lowerScalar(e.Then.Operand, scope, d)
		if err != nil {
			return "", err
		}
		fb, err := lowerScalar(e.Then.Expression, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(%s, %s)", op, fb), nil

	case expr.KindFallback:
		op, err := lowerScalar(e.Fallback.Operand, scope, d)
		if err != nil {
			return "", err
		}
		fb, err := lowerScalar(e.Fallback.Expression, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("COALESCE(%s, %s)", op, fb), nil

	case expr.KindArithmetic:
		return lowerArithmeticScalar(e.Arithmetic, scope, d)

	case expr.KindSubstring:
		operand, err := lowerScalar(e.Substring.Operand, scope, d)
		if err != nil {
			return "", err
		}
		if e.Substring.Length == nil {
			return fmt.Sprintf("substr(%s, %d)", operand, e.Substring.Index+1), nil
		}
		return fmt.Sprintf("substr(%s, %d, %d)", operand, e.Substring.Index+1, *e.Substring.Length), nil

	case expr.KindLookup:
		return lowerLookupScalar(e.Lookup, scope, d)

	case expr.KindTimeBucket, expr.KindTimeFloor:
		operand, err := lowerScalar(e.TimeBucket.Operand, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("date_trunc(%s, %s)", sqlLiteral(truncUnit(e.TimeBucket.Period)), operand), nil

	case expr.KindNumberBucket:
		operand, err := lowerScalar(e.NumberBkt.Operand, scope, d)
		if err != nil {
			return "", err
		}
		size, offset := sqlLiteral(e.NumberBkt.Size), sqlLiteral(e.NumberBkt.Offset)
		return fmt.Sprintf("((floor((%s - %s) / %s) * %s) + %s)", operand, offset, size, size, offset), nil

	case expr.KindComparison, expr.KindBoolean, expr.KindMatch, expr.KindContains, expr.KindIs, expr.KindIn, expr.KindIsTrue:
		return lowerPredicate(e, scope, d)

	default:
		return "", expr.NewUnsupportedExpressionError("cannot lower expression of kind %q to SQL", e.Kind)
	}
}

func lowerArithmeticScalar(a *expr.ArithmeticExpr, scope *expr.ScopeStack, d Dialect) (string, error) {
	lhs, err := lowerScalar(a.LHS, scope, d)
	if err != nil {
		return "", err
	}
	switch a.Op {
	case expr.ArithAbs:
		return fmt.Sprintf("abs(%s)", lhs), nil
	case expr.ArithLog:
		return fmt.Sprintf("ln(%s)", lhs), nil
	}
	rhs, err := lowerScalar(a.RHS, scope, d)
	if err != nil {
		return "", err
	}
	switch a.Op {
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
	default:
		return "", expr.NewUnsupportedExpressionError("unsupported arithmetic op %q", a.Op)
	}
}

// safeDivide guards against division by zero the way the native Planner's
// AggregationBuilder uses the backend's safeDivide post-aggregator (spec
// §4.3): NULLIF turns a zero denominator into SQL NULL instead of raising a
// division error.
func safeDivide(lhs, rhs string) string {
	return fmt.Sprintf("(%s / NULLIF(%s, 0))", lhs, rhs)
}

func lowerLookupScalar(l *expr.LookupExpr, scope *expr.ScopeStack, d Dialect) (string, error) {
	operand, err := lowerScalar(l.Operand, scope, d)
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(l.Map))
	for k := range l.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("CASE ")
	for _, k := range keys {
		fmt.Fprintf(&b, "WHEN %s = %s THEN %s ", operand, sqlLiteral(k), sqlLiteral(l.Map[k]))
	}
	if l.ReplaceMissingWith != "" {
		fmt.Fprintf(&b, "ELSE %s ", sqlLiteral(l.ReplaceMissingWith))
	} else {
		b.WriteString("ELSE NULL ")
	}
	b.WriteString("END")
	return b.String(), nil
}

// lowerPredicate maps a boolean-valued e to a SQL boolean expression,
// mirroring whereFor's matcher-to-predicate translation in
// promql/sql_builder.go (MatchEq/MatchNe/MatchRe/MatchNre become
// =/<>/~/!~) generalized to this algebra's filter/having leaves.
func lowerPredicate(e expr.Expression, scope *expr.ScopeStack, d Dialect) (string, error) {
	switch e.Kind {
	case expr.KindBoolean:
		switch e.Boolean.Op {
		case expr.BoolAnd, expr.BoolOr:
			parts := make([]string, len(e.Boolean.Operands))
			for i, op := range e.Boolean.Operands {
				p, err := lowerPredicate(op, scope, d)
				if err != nil {
					return "", err
				}
				parts[i] = "(" + p + ")"
			}
			joiner := " AND "
			if e.Boolean.Op == expr.BoolOr {
				joiner = " OR "
			}
			return strings.Join(parts, joiner), nil
		case expr.BoolNot:
			inner, err := lowerPredicate(e.Boolean.Operands[0], scope, d)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("NOT (%s)", inner), nil
		}

	case expr.KindComparison:
		lhs, err := lowerScalar(e.Comparison.LHS, scope, d)
		if err != nil {
			return "", err
		}
		rhs, err := lowerScalar(e.Comparison.RHS, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", lhs, string(e.Comparison.Op), rhs), nil

	case expr.KindIs:
		operand, err := lowerScalar(e.Is.Operand, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", operand, sqlLiteral(e.Is.Value)), nil

	case expr.KindIn:
		operand, err := lowerScalar(e.In.Operand, scope, d)
		if err != nil {
			return "", err
		}
		items := make([]string, len(e.In.Set))
		for i, v := range e.In.Set {
			items[i] = sqlLiteral(v)
		}
		return fmt.Sprintf("%s IN (%s)", operand, strings.Join(items, ", ")), nil

	case expr.KindMatch:
		operand, err := lowerScalar(e.Match.Operand, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s ~ %s", operand, sqlLiteral(e.Match.Regex)), nil

	case expr.KindContains:
		operand, err := lowerScalar(e.Contains.Operand, scope, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s", operand, sqlLiteral("%"+fmt.Sprintf("%v", e.Contains.Value)+"%")), nil

	case expr.KindIsTrue:
		return lowerScalar(*e.Operand, scope, d)
	}
	return "", expr.NewUnsupportedExpressionError("cannot lower expression of kind %q to a SQL predicate", e.Kind)
}

func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return "TIMESTAMP '" + t.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sqlCastType(t expr.Type) string {
	switch t {
	case expr.TypeNumber:
		return "DOUBLE"
	case expr.TypeString:
		return "VARCHAR"
	case expr.TypeTime:
		return "TIMESTAMP"
	case expr.TypeBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// truncUnit maps an ISO-8601 granularity period to date_trunc's unit name
// for the small fixed period set planner.DefaultGranularityForWindow returns;
// any other period truncates to the day.
func truncUnit(period string) string {
	switch period {
	case "PT1M":
		return "minute"
	case "PT5M":
		return "minute"
	case "PT1H":
		return "hour"
	case "P1D":
		return "day"
	case "P1W":
		return "week"
	default:
		return "day"
	}
}
