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

package aggbuild

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

func attrScope() *expr.ScopeStack {
	return expr.NewScopeStack(expr.AttributeMap{
		"revenue": {Name: "revenue", Type: expr.TypeNumber, NativeType: "DOUBLE"},
		"hits":    {Name: "hits", Type: expr.TypeNumber, NativeType: "LONG"},
		"user_id": {Name: "user_id", Type: expr.TypeString, NativeType: "hyperUnique"},
		"country": {Name: "country", Type: expr.TypeString, NativeType: "STRING"},
	})
}

func TestBuildUnfilteredSum(t *testing.T) {
	applies := []expr.ApplyExpr{{
		Name: "revenue",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:        expr.AggSum,
				Operand:   expr.Ref("revenue", 0, expr.TypeNumber),
				Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
			},
		},
	}}
	aggs, postAggs, err := Build(applies, attrScope(), nil)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Empty(t, postAggs)
	require.Equal(t, "doubleSum", aggs[0].Type)
	require.Equal(t, "revenue", aggs[0].Name)
	require.Equal(t, "revenue", aggs[0].FieldName)
}

func TestBuildLongSumUsesAttributeNativeType(t *testing.T) {
	applies := []expr.ApplyExpr{{
		Name: "hits",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:        expr.AggSum,
				Operand:   expr.Ref("hits", 0, expr.TypeNumber),
				Attribute: &expr.RefExpr{Name: "hits", Type: expr.TypeNumber},
			},
		},
	}}
	aggs, _, err := Build(applies, attrScope(), nil)
	require.NoError(t, err)
	require.Equal(t, "longSum", aggs[0].Type)
}

func TestBuildCountDistinctPicksHyperUnique(t *testing.T) {
	applies := []expr.ApplyExpr{{
		Name: "uniques",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:        expr.AggCountDistinct,
				Operand:   expr.Ref("user_id", 0, expr.TypeString),
				Attribute: &expr.RefExpr{Name: "user_id", Type: expr.TypeString},
			},
		},
	}}
	aggs, _, err := Build(applies, attrScope(), nil)
	require.NoError(t, err)
	require.Equal(t, "hyperUnique", aggs[0].Type)
}

func TestBuildFilteredAggregate(t *testing.T) {
	applies := []expr.ApplyExpr{{
		Name: "us_revenue",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op: expr.AggSum,
				Operand: expr.Expression{
					Kind: expr.KindFilter,
					Filter: &expr.FilterExpr{
						Operand:    expr.Ref("revenue", 0, expr.TypeNumber),
						Expression: expr.Expression{Kind: expr.KindIs, Is: &expr.IsExpr{Operand: expr.Ref("country", 0, expr.TypeString), Value: "US"}},
					},
				},
				Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
			},
		},
	}}
	aggs, _, err := Build(applies, attrScope(), nil)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Equal(t, "filtered", aggs[0].Type)
	require.NotNil(t, aggs[0].Aggregator)
	require.Equal(t, "doubleSum", aggs[0].Aggregator.Type)
	require.NotNil(t, aggs[0].Filter)
	require.Equal(t, "selector", aggs[0].Filter.Type)
	require.Equal(t, "country", aggs[0].Filter.Dimension)
}

func TestBuildSafeDivide(t *testing.T) {
	num := expr.Expression{
		Kind: expr.KindAggregate,
		Aggregate: &expr.AggregateExpr{
			Op:        expr.AggSum,
			Operand:   expr.Ref("revenue", 0, expr.TypeNumber),
			Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
		},
	}
	den := expr.Expression{
		Kind: expr.KindAggregate,
		Aggregate: &expr.AggregateExpr{
			Op:        expr.AggSum,
			Operand:   expr.Ref("hits", 0, expr.TypeNumber),
			Attribute: &expr.RefExpr{Name: "hits", Type: expr.TypeNumber},
		},
	}
	applies := []expr.ApplyExpr{{
		Name: "rpm",
		Expression: expr.Expression{
			Kind: expr.KindArithmetic,
			Arithmetic: &expr.ArithmeticExpr{Op: expr.ArithDiv, LHS: num, RHS: den},
		},
	}}
	aggs, postAggs, err := Build(applies, attrScope(), nil)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	require.Len(t, postAggs, 1)
	require.Equal(t, "rpm", postAggs[0].Name)
	require.Equal(t, "safeDivide", postAggs[0].Type)
	require.Len(t, postAggs[0].Fields, 2)
	for _, agg := range aggs {
		require.True(t, agg.Name[0] == '!')
	}
}

func TestBuildUnknownCustomAggregatorFails(t *testing.T) {
	applies := []expr.ApplyExpr{{
		Name: "weird",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:         expr.AggCustom,
				CustomName: "doesNotExist",
			},
		},
	}}
	_, _, err := Build(applies, attrScope(), map[string]any{})
	require.Error(t, err)
}

func TestBuildCustomAggregatorFromTemplate(t *testing.T) {
	applies := []expr.ApplyExpr{{
		Name: "weighted",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:         expr.AggCustom,
				CustomName: "weightedAvg",
			},
		},
	}}
	custom := map[string]any{
		"weightedAvg": query.Aggregation{Type: "javascript", FieldNames: []string{"revenue", "hits"}, FnAggregate: "function(a,b,c){return a+b*c}"},
	}
	aggs, _, err := Build(applies, attrScope(), custom)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Equal(t, "javascript", aggs[0].Type)
	require.Equal(t, "weighted", aggs[0].Name)
}
