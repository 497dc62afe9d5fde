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

// Package lower is the ExpressionLowerer (spec §2, §4.1's ~15% component): a
// pure function mapping one scalar expression to the backend's string
// formula dialect. It does no I/O and holds no state, grounded on the
// teacher's formula-building style in sql_builder.go (whereFor, sqlLit)
// generalized from SQL predicates to the native virtual-column language.
package lower

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/driftlake/qplan/expr"
)

// Lower maps e to a virtual-column formula string. scope resolves Refs with
// nest>0 against enclosing frames.
func Lower(e expr.Expression, scope *expr.ScopeStack) (string, error) {
	switch e.Kind {
	case expr.KindRef:
		info, err := scope.Resolve(e.Ref)
		if err != nil {
			return "", err
		}
		return identifier(info.Name), nil

	case expr.KindLiteral:
		return literal(e.Literal.Value), nil

	case expr.KindCast:
		inner, err := Lower(e.Cast.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("CAST(%s, '%s')", inner, nativeCastType(e.Cast.To)), nil

	case expr.KindThen:
		operand, err := Lower(e.Then.Operand, scope)
		if err != nil {
			return "", err
		}
		fallback, err := Lower(e.Then.Expression, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("nvl(%s, %s)", operand, fallback), nil

	case expr.KindFallback:
		operand, err := Lower(e.Fallback.Operand, scope)
		if err != nil {
			return "", err
		}
		fallback, err := Lower(e.Fallback.Expression, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("nvl(%s, %s)", operand, fallback), nil

	case expr.KindTimeBucket:
		operand, err := Lower(e.TimeBucket.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("timestamp_floor(%s, '%s', null, '%s')", operand, e.TimeBucket.Period, timeZoneOrUTC(e.TimeBucket.TimeZone)), nil

	case expr.KindTimeFloor:
		operand, err := Lower(e.TimeBucket.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("timestamp_floor(%s, '%s')", operand, e.TimeBucket.Period), nil

	case expr.KindNumberBucket:
		operand, err := Lower(e.NumberBkt.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("((floor((%s - %s) / %s) * %s) + %s)",
			operand,
			formatFloat(e.NumberBkt.Offset), formatFloat(e.NumberBkt.Size),
			formatFloat(e.NumberBkt.Size), formatFloat(e.NumberBkt.Offset)), nil

	case expr.KindArithmetic:
		return lowerArithmetic(e.Arithmetic, scope)

	case expr.KindComparison:
		lhs, err := Lower(e.Comparison.LHS, scope)
		if err != nil {
			return "", err
		}
		rhs, err := Lower(e.Comparison.RHS, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", lhs, string(e.Comparison.Op), rhs), nil

	case expr.KindBoolean:
		return lowerBoolean(e.Boolean, scope)

	case expr.KindMatch:
		operand, err := Lower(e.Match.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("regexp_like(%s, %s)", operand, literal(e.Match.Regex)), nil

	case expr.KindContains:
		operand, err := Lower(e.Contains.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("contains_string(%s, %s)", operand, literal(e.Contains.Value)), nil

	case expr.KindIs:
		operand, err := Lower(e.Is.Operand, scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s == %s)", operand, literal(e.Is.Value)), nil

	case expr.KindSubstring:
		operand, err := Lower(e.Substring.Operand, scope)
		if err != nil {
			return "", err
		}
		if e.Substring.Length == nil {
			return fmt.Sprintf("substring(%s, %d, -1)", operand, e.Substring.Index), nil
		}
		return fmt.Sprintf("substring(%s, %d, %d)", operand, e.Substring.Index, *e.Substring.Length), nil

	case expr.KindLookup:
		operand, err := Lower(e.Lookup.Operand, scope)
		if err != nil {
			return "", err
		}
		return lowerLookup(operand, e.Lookup), nil

	case expr.KindIn:
		operand, err := Lower(e.In.Operand, scope)
		if err != nil {
			return "", err
		}
		items := make([]string, len(e.In.Set))
		for i, v := range e.In.Set {
			items[i] = literal(v)
		}
		return fmt.Sprintf("array_contains(array(%s), %s)", strings.Join(items, ", "), operand), nil

	default:
		return "", expr.NewUnsupportedExpressionError("cannot lower expression of kind %q to a formula", e.Kind)
	}
}

func lowerArithmetic(a *expr.ArithmeticExpr, scope *expr.ScopeStack) (string, error) {
	lhs, err := Lower(a.LHS, scope)
	if err != nil {
		return "", err
	}
	switch a.Op {
	case expr.ArithAbs:
		return fmt.Sprintf("abs(%s)", lhs), nil
	case expr.ArithLog:
		return fmt.Sprintf("log(%s)", lhs), nil
	}
	rhs, err := Lower(a.RHS, scope)
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
		return fmt.Sprintf("safe_divide(%s, %s)", lhs, rhs), nil
	case expr.ArithPow:
		return fmt.Sprintf("pow(%s, %s)", lhs, rhs), nil
	default:
		return "", expr.NewUnsupportedExpressionError("unknown arithmetic op %q", a.Op)
	}
}

func lowerBoolean(b *expr.BooleanExpr, scope *expr.ScopeStack) (string, error) {
	if b.Op == expr.BoolNot {
		inner, err := Lower(b.Operands[0], scope)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("!(%s)", inner), nil
	}
	sep := " && "
	if b.Op == expr.BoolOr {
		sep = " || "
	}
	parts := make([]string, len(b.Operands))
	for i, op := range b.Operands {
		s, err := Lower(op, scope)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// identifier quotes a column reference only when it contains characters the
// backend's expression language can't parse bare.
func identifier(name string) string {
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return "\"" + strings.ReplaceAll(name, "\"", "\\\"") + "\""
		}
	}
	return name
}

func literal(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "\\'") + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return formatFloat(t)
	case int:
		return strconv.Itoa(t)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("'%v'", t)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func timeZoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

// lowerLookup renders an inline lookup table as a case_searched formula,
// keys sorted so the result is deterministic (spec §8).
func lowerLookup(operand string, l *expr.LookupExpr) string {
	keys := make([]string, 0, len(l.Map))
	for k := range l.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys)*2+1)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("(%s == %s)", operand, literal(k)), literal(l.Map[k]))
	}
	args = append(args, literal(l.ReplaceMissingWith))
	return fmt.Sprintf("case_searched(%s)", strings.Join(args, ", "))
}

func nativeCastType(t expr.Type) string {
	switch t {
	case expr.TypeNumber:
		return "DOUBLE"
	case expr.TypeString:
		return "STRING"
	case expr.TypeTime:
		return "LONG"
	default:
		return string(t)
	}
}
