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

package lower

import (
	"testing"

	"github.com/driftlake/qplan/expr"
)

func scopeWith(attrs expr.AttributeMap) *expr.ScopeStack {
	return expr.NewScopeStack(attrs)
}

func TestLowerRef(t *testing.T) {
	scope := scopeWith(expr.AttributeMap{"country": {Name: "country", Type: expr.TypeString}})
	got, err := Lower(expr.Ref("country", 0, expr.TypeString), scope)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if got != "country" {
		t.Fatalf("got %q, want %q", got, "country")
	}
}

func TestLowerArithmeticDivideIsSafe(t *testing.T) {
	scope := scopeWith(expr.AttributeMap{
		"a": {Name: "a", Type: expr.TypeNumber},
		"b": {Name: "b", Type: expr.TypeNumber},
	})
	e := expr.Expression{
		Kind: expr.KindArithmetic,
		Arithmetic: &expr.ArithmeticExpr{
			Op:  expr.ArithDiv,
			LHS: expr.Ref("a", 0, expr.TypeNumber),
			RHS: expr.Ref("b", 0, expr.TypeNumber),
		},
	}
	got, err := Lower(e, scope)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := "safe_divide(a, b)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLowerThenIsNvl(t *testing.T) {
	scope := scopeWith(expr.AttributeMap{"a": {Name: "a", Type: expr.TypeNumber}})
	e := expr.Expression{
		Kind: expr.KindThen,
		Then: &expr.ThenExpr{
			Operand:    expr.Ref("a", 0, expr.TypeNumber),
			Expression: expr.Lit(0.0, expr.TypeNumber),
		},
	}
	got, err := Lower(e, scope)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := "nvl(a, 0)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLowerUnsupportedKindFails(t *testing.T) {
	scope := scopeWith(nil)
	e := expr.Expression{Kind: expr.KindSplit, Split: &expr.SplitExpr{}}
	_, err := Lower(e, scope)
	if err == nil {
		t.Fatalf("expected error lowering a split as a scalar")
	}
	var target *expr.UnsupportedExpressionError
	if !asUnsupported(err, &target) {
		t.Fatalf("got %T, want *expr.UnsupportedExpressionError", err)
	}
}

func asUnsupported(err error, target **expr.UnsupportedExpressionError) bool {
	e, ok := err.(*expr.UnsupportedExpressionError)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestLowerStringLiteralEscapesQuotes(t *testing.T) {
	scope := scopeWith(nil)
	got, err := Lower(expr.Lit("o'brien", expr.TypeString), scope)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := "'o\\'brien'"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLowerTimeBucket(t *testing.T) {
	scope := scopeWith(expr.AttributeMap{"__time": {Name: "__time", Type: expr.TypeTime}})
	e := expr.Expression{
		Kind: expr.KindTimeBucket,
		TimeBucket: &expr.TimeBucketExpr{
			Operand:  expr.Ref("__time", 0, expr.TypeTime),
			Period:   "P1D",
			TimeZone: "UTC",
		},
	}
	got, err := Lower(e, scope)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	want := "timestamp_floor(__time, 'P1D', null, 'UTC')"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
