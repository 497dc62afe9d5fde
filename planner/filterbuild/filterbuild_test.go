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

package filterbuild

import (
	"testing"

	"github.com/driftlake/qplan/expr"
)

func TestBuildNilFilterIsEmpty(t *testing.T) {
	intervals, filter, err := Build(nil, "__time", scope())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intervals != nil || filter != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", intervals, filter)
	}
}

func TestBuildPureTimeRangeProducesIntervalsNoFilter(t *testing.T) {
	start := expr.Lit("2020-01-01T00:00:00Z", expr.TypeTime)
	end := expr.Lit("2020-01-02T00:00:00Z", expr.TypeTime)
	timeRef := expr.Ref("__time", 0, expr.TypeTime)
	e := expr.Expression{
		Kind: expr.KindBoolean,
		Boolean: &expr.BooleanExpr{
			Op: expr.BoolAnd,
			Operands: []expr.Expression{
				{Kind: expr.KindComparison, Comparison: &expr.ComparisonExpr{Op: expr.CmpGte, LHS: timeRef, RHS: start}},
				{Kind: expr.KindComparison, Comparison: &expr.ComparisonExpr{Op: expr.CmpLt, LHS: timeRef, RHS: end}},
			},
		},
	}
	intervals, filter, err := Build(&e, "__time", scope())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if filter != nil {
		t.Fatalf("expected no residual filter, got %+v", filter)
	}
	if len(intervals) != 1 || intervals[0] != "2020-01-01T00:00:00Z/2020-01-02T00:00:00Z" {
		t.Fatalf("got %v, want one interval 2020-01-01T00:00:00Z/2020-01-02T00:00:00Z", intervals)
	}
}

func TestBuildTimeAndDimensionAnd(t *testing.T) {
	timeRef := expr.Ref("__time", 0, expr.TypeTime)
	countryRef := expr.Ref("country", 0, expr.TypeString)
	e := expr.Expression{
		Kind: expr.KindBoolean,
		Boolean: &expr.BooleanExpr{
			Op: expr.BoolAnd,
			Operands: []expr.Expression{
				{Kind: expr.KindComparison, Comparison: &expr.ComparisonExpr{Op: expr.CmpGte, LHS: timeRef, RHS: expr.Lit("2020-01-01T00:00:00Z", expr.TypeTime)}},
				{Kind: expr.KindIs, Is: &expr.IsExpr{Operand: countryRef, Value: "US"}},
			},
		},
	}
	intervals, filter, err := Build(&e, "__time", scope())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("got %v intervals, want 1", intervals)
	}
	if filter == nil || filter.Type != "selector" || filter.Dimension != "country" {
		t.Fatalf("got filter %+v, want a selector on country", filter)
	}
}

func TestBuildOrMixingTimeAndDimensionFails(t *testing.T) {
	timeRef := expr.Ref("__time", 0, expr.TypeTime)
	countryRef := expr.Ref("country", 0, expr.TypeString)
	e := expr.Expression{
		Kind: expr.KindBoolean,
		Boolean: &expr.BooleanExpr{
			Op: expr.BoolOr,
			Operands: []expr.Expression{
				{Kind: expr.KindComparison, Comparison: &expr.ComparisonExpr{Op: expr.CmpGte, LHS: timeRef, RHS: expr.Lit("2020-01-01T00:00:00Z", expr.TypeTime)}},
				{Kind: expr.KindIs, Is: &expr.IsExpr{Operand: countryRef, Value: "US"}},
			},
		},
	}
	if _, _, err := Build(&e, "__time", scope()); err == nil {
		t.Fatalf("expected an error for mixed time/dimension OR")
	}
}

func TestBuildRejectsCardinalityInFilter(t *testing.T) {
	e := expr.Expression{
		Kind:    expr.KindCardinality,
		Operand: &expr.Expression{Kind: expr.KindRef, Ref: &expr.RefExpr{Name: "country"}},
	}
	if _, _, err := Build(&e, "__time", scope()); err == nil {
		t.Fatalf("expected an error for a cardinality reference inside a filter")
	}
}

func scope() *expr.ScopeStack {
	return expr.NewScopeStack(expr.AttributeMap{
		"__time":  {Name: "__time", Type: expr.TypeTime},
		"country": {Name: "country", Type: expr.TypeString},
	})
}
