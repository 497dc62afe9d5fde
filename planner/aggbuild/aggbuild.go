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

// Package aggbuild is the AggregationBuilder (spec §2, §4.3's ~20%
// component): lowers a list of named applies into (aggregations,
// postAggregations) pairs, including filtered, custom, and
// cardinality/quantile sketch aggregators. Op dispatch mirrors the teacher's
// AggNode.Eval switch in promql/agg_node.go and the sketch merge paths
// there (DDSketch, HyperLogLog), generalized from in-process evaluation to
// native-document lowering.
package aggbuild

import (
	"fmt"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/planner/filterbuild"
	"github.com/driftlake/qplan/query"
)

// intermediatePrefix marks post-aggregator input names that the post-transform
// must drop from the output row (spec §4.3's "!"-prefixed intermediate names).
const intermediatePrefix = "!"

// Builder lowers applies against one scope and one custom-aggregator table.
type Builder struct {
	Scope              *expr.ScopeStack
	CustomAggregations map[string]any
	next               int
}

// Build lowers every apply into its aggregations and (if the apply's
// expression is more than a bare aggregate) post-aggregations, accumulating
// across all applies into one pair of lists for the enclosing query.
func Build(applies []expr.ApplyExpr, scope *expr.ScopeStack, customAggregations map[string]any) ([]query.Aggregation, []query.PostAggregation, error) {
	b := &Builder{Scope: scope, CustomAggregations: customAggregations}
	var aggs []query.Aggregation
	var postAggs []query.PostAggregation
	for _, apply := range applies {
		pa, newAggs, err := b.lowerNode(apply.Expression, apply.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("apply %q: %w", apply.Name, err)
		}
		aggs = append(aggs, newAggs...)
		if pa != nil {
			pa.Name = apply.Name
			postAggs = append(postAggs, *pa)
		}
	}
	return aggs, postAggs, nil
}

// lowerNode lowers one apply's aggregate-expression tree. When e is exactly
// an Aggregate, its output is the aggregator itself named preferredName and
// no post-aggregation is needed (nil return). Otherwise e is an arithmetic
// combinator over sub-aggregates and a PostAggregation is returned
// referencing intermediate ("!"-prefixed) aggregator/post-aggregator names.
func (b *Builder) lowerNode(e expr.Expression, preferredName string) (*query.PostAggregation, []query.Aggregation, error) {
	switch e.Kind {
	case expr.KindAggregate:
		agg, err := b.lowerAggregate(e.Aggregate, preferredName)
		if err != nil {
			return nil, nil, err
		}
		return nil, []query.Aggregation{*agg}, nil

	case expr.KindArithmetic:
		return b.lowerArithmetic(e.Arithmetic, preferredName)

	case expr.KindCast:
		return b.lowerNode(e.Cast.Operand, preferredName)

	case expr.KindThen, expr.KindFallback:
		return b.lowerCoalesce(e, preferredName)

	default:
		return nil, nil, expr.NewUnsupportedExpressionError("apply expression of kind %q is not an aggregate combinator", e.Kind)
	}
}

func (b *Builder) lowerCoalesce(e expr.Expression, preferredName string) (*query.PostAggregation, []query.Aggregation, error) {
	var operand, fallback expr.Expression
	if e.Kind == expr.KindThen {
		operand, fallback = e.Then.Operand, e.Then.Expression
	} else {
		operand, fallback = e.Fallback.Operand, e.Fallback.Expression
	}
	opPA, opAggs, err := b.fieldInput(operand, preferredName+"_value")
	if err != nil {
		return nil, nil, err
	}
	fbPA, fbAggs, err := b.fieldInput(fallback, preferredName+"_fallback")
	if err != nil {
		return nil, nil, err
	}
	return &query.PostAggregation{
		Type:   "coalesce",
		Fields: []query.PostAggregation{*opPA, *fbPA},
	}, append(opAggs, fbAggs...), nil
}

func (b *Builder) lowerArithmetic(a *expr.ArithmeticExpr, preferredName string) (*query.PostAggregation, []query.Aggregation, error) {
	lhsPA, aggs, err := b.fieldInput(a.LHS, preferredName+"_lhs")
	if err != nil {
		return nil, nil, err
	}
	if a.Op == expr.ArithAbs || a.Op == expr.ArithLog {
		fn := "abs"
		if a.Op == expr.ArithLog {
			fn = "log"
		}
		return &query.PostAggregation{Type: "arithmetic", Fn: fn, Fields: []query.PostAggregation{*lhsPA}}, aggs, nil
	}
	rhsPA, rhsAggs, err := b.fieldInput(a.RHS, preferredName+"_rhs")
	if err != nil {
		return nil, nil, err
	}
	aggs = append(aggs, rhsAggs...)
	if a.Op == expr.ArithDiv {
		return &query.PostAggregation{Type: "safeDivide", Fields: []query.PostAggregation{*lhsPA, *rhsPA}}, aggs, nil
	}
	fn, ok := arithFn[a.Op]
	if !ok {
		return nil, nil, expr.NewUnsupportedExpressionError("unsupported post-aggregation arithmetic op %q", a.Op)
	}
	return &query.PostAggregation{Type: "arithmetic", Fn: fn, Fields: []query.PostAggregation{*lhsPA, *rhsPA}}, aggs, nil
}

var arithFn = map[expr.ArithOp]string{
	expr.ArithAdd: "+",
	expr.ArithSub: "-",
	expr.ArithMul: "*",
	expr.ArithPow: "pow",
}

// fieldInput lowers a sub-expression of a post-aggregation into one input
// for the enclosing arithmetic combinator: a field-accessor naming a fresh
// "!"-prefixed aggregator when e is a bare aggregate, or the nested
// post-aggregation tree inlined directly when e is itself a combinator —
// Druid-style post-aggregators nest by containment, not by top-level name
// reference, so only the outermost post-aggregation per apply is registered
// in the query's postAggregations list (spec §4.3).
func (b *Builder) fieldInput(e expr.Expression, hint string) (*query.PostAggregation, []query.Aggregation, error) {
	if e.Kind == expr.KindLiteral {
		return &query.PostAggregation{Type: "constant", Value: e.Literal.Value}, nil, nil
	}
	name := intermediatePrefix + hint + b.nextSuffix()
	pa, aggs, err := b.lowerNode(e, name)
	if err != nil {
		return nil, nil, err
	}
	if pa == nil {
		fa := query.FieldAccessor(name)
		return &fa, aggs, nil
	}
	return pa, aggs, nil
}

func (b *Builder) nextSuffix() string {
	b.next++
	if b.next == 1 {
		return ""
	}
	return fmt.Sprintf("_%d", b.next)
}

// lowerAggregate builds the native aggregator for one Aggregate node, wrapping
// it in a `filtered` aggregator when its operand is a Filter (spec §4.3).
func (b *Builder) lowerAggregate(a *expr.AggregateExpr, name string) (*query.Aggregation, error) {
	if a.Operand.Kind == expr.KindFilter {
		inner, err := b.lowerCoreAggregate(a, name)
		if err != nil {
			return nil, err
		}
		filter, err := filterbuild.BuildDimensionFilter(a.Operand.Filter.Expression, b.Scope)
		if err != nil {
			return nil, err
		}
		return &query.Aggregation{Type: "filtered", Name: name, Aggregator: inner, Filter: filter}, nil
	}
	return b.lowerCoreAggregate(a, name)
}

// lowerCoreAggregate builds the unwrapped native aggregator: count, sum,
// min, max, countDistinct (cardinality/hyperUnique), quantile sketches, or a
// caller-supplied custom aggregator (spec §4.3).
func (b *Builder) lowerCoreAggregate(a *expr.AggregateExpr, name string) (*query.Aggregation, error) {
	agg := &query.Aggregation{Name: name, Finalize: a.Options.ForceFinalize}

	if a.Op == expr.AggCustom {
		tmpl, ok := b.CustomAggregations[a.CustomName]
		if !ok {
			return nil, expr.NewInvalidConfigurationError("unknown custom aggregator %q", a.CustomName)
		}
		native, ok := tmpl.(query.Aggregation)
		if !ok {
			return nil, expr.NewInvalidConfigurationError("custom aggregator %q is not a native aggregation template", a.CustomName)
		}
		native.Name = name
		native.Finalize = a.Options.ForceFinalize
		return &native, nil
	}

	if a.Op == expr.AggCount {
		agg.Type = "count"
		return agg, nil
	}

	if a.Attribute == nil {
		return nil, expr.NewTypeError("aggregate op %q requires an attribute", a.Op)
	}
	info, err := b.Scope.Resolve(a.Attribute)
	if err != nil {
		return nil, err
	}
	agg.FieldName = info.Name

	switch a.Op {
	case expr.AggSum:
		agg.Type = numericVariant(info, "longSum", "doubleSum")
	case expr.AggMin:
		agg.Type = numericVariant(info, "longMin", "doubleMin")
	case expr.AggMax:
		agg.Type = numericVariant(info, "longMax", "doubleMax")
	case expr.AggCountDistinct:
		if info.NativeType == "hyperUnique" {
			agg.Type = "hyperUnique"
		} else {
			agg.Type = "cardinality"
			agg.Fields = []string{info.Name}
		}
	case expr.AggQuantile:
		if info.NativeType == "approximateHistogram" {
			agg.Type = "approximateHistogramFold"
		} else {
			agg.Type = "quantilesDoublesSketch"
			agg.K = 128
		}
	default:
		return nil, expr.NewUnsupportedExpressionError("unsupported aggregate op %q", a.Op)
	}
	return agg, nil
}

func numericVariant(info expr.AttributeInfo, longType, doubleType string) string {
	if info.NativeType == "LONG" {
		return longType
	}
	return doubleType
}
