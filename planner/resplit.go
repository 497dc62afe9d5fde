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

package planner

import (
	"reflect"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

// resplitMatch is one apply's re-split pattern: aggregate(apply(split(ref |
// filter(ref)))) (spec §4.4's parseResplitAgg).
type resplitMatch struct {
	Outer     *expr.AggregateExpr
	InnerName string // the inner apply's name, becomes the intermediate column
	Split     *expr.SplitExpr
	Filtered  bool // the inner apply's operand was filter(ref), not a bare ref
}

// parseResplitAgg recognizes a re-split aggregate in one apply's expression
// tree: an Aggregate whose operand is an Apply whose own operand is a Split
// (directly, or wrapping a Filter over the split's source).
func parseResplitAgg(e expr.Expression) (*resplitMatch, bool) {
	if e.Kind != expr.KindAggregate {
		return nil, false
	}
	agg := e.Aggregate
	inner := agg.Operand
	if inner.Kind != expr.KindApply {
		return nil, false
	}
	apply := inner.Apply
	splitOperand := apply.Operand
	filtered := false
	if splitOperand.Kind == expr.KindFilter {
		splitOperand = splitOperand.Filter.Operand
		filtered = true
	}
	if splitOperand.Kind != expr.KindSplit {
		return nil, false
	}
	return &resplitMatch{Outer: agg, InnerName: apply.Name, Split: splitOperand.Split, Filtered: filtered}, true
}

// needsResplit reports whether any apply's expression contains a re-split
// pattern anywhere in its tree (spec §4.4's trigger condition).
func needsResplit(applies []expr.ApplyExpr) bool {
	for _, a := range applies {
		if containsResplit(a.Expression) {
			return true
		}
	}
	return false
}

func containsResplit(e expr.Expression) bool {
	if _, ok := parseResplitAgg(e); ok {
		return true
	}
	for _, c := range expr.Children(e) {
		if containsResplit(c) {
			return true
		}
	}
	return false
}

// collectResplits walks every apply's tree for a re-split pattern and
// enforces that all of them share the same inner split (spec §4.4 step 1).
func collectResplits(applies []expr.ApplyExpr) ([]*resplitMatch, *expr.SplitExpr, error) {
	var matches []*resplitMatch
	var shared *expr.SplitExpr

	var walk func(expr.Expression)
	var walkErr error
	walk = func(e expr.Expression) {
		if walkErr != nil {
			return
		}
		if m, ok := parseResplitAgg(e); ok {
			if shared == nil {
				shared = m.Split
			} else if !reflect.DeepEqual(shared, m.Split) {
				walkErr = expr.NewInvalidConfigurationError("all resplit aggregators must have the same split")
				return
			}
			matches = append(matches, m)
			return
		}
		for _, c := range expr.Children(e) {
			walk(c)
		}
	}
	for _, a := range applies {
		walk(a.Expression)
		if walkErr != nil {
			return nil, nil, walkErr
		}
	}
	return matches, shared, nil
}

// rewriteOuterAggregate implements spec §4.4 step 3 for a non-re-split
// aggregate in the outer expression: count pulls through as a sum of the
// intermediate, other chain-unary aggregates reapply the same op over the
// intermediate, and custom aggregates combined with a re-split are rejected.
func rewriteOuterAggregate(a *expr.AggregateExpr, intermediate string) (expr.Expression, error) {
	if a.Op == expr.AggCustom {
		return expr.Expression{}, expr.NewUnsupportedExpressionError("custom aggregator %q cannot be combined with a resplit aggregate", a.CustomName)
	}
	op := a.Op
	if op == expr.AggCount {
		op = expr.AggSum
	}
	return expr.Expression{
		Kind: expr.KindAggregate,
		Aggregate: &expr.AggregateExpr{
			Op:        op,
			Operand:   expr.Ref(intermediate, 0, expr.TypeNumber),
			Attribute: &expr.RefExpr{Name: intermediate, Type: expr.TypeNumber},
		},
	}, nil
}

// resplitPlan is the nested-query rewrite result for one top-level plan
// (spec §4.4 steps 2-5): an inner split query whose applies carry
// forceFinalize, and an outer query over it.
type resplitPlan struct {
	Inner *expr.External
	Outer *expr.External
}

// buildResplit rewrites ext into the inner/outer pair spec §4.4 describes.
// Split keys are merged by expression equality (matching outer keys are
// preserved; unmatched inner keys pass through); bucketed keys are divvied
// so the inner keeps the raw bucket and the outer reapplies it over the
// resulting intermediate ref.
func buildResplit(ext *expr.External) (*resplitPlan, error) {
	matches, split, err := collectResplits(ext.Applies)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, expr.NewInvalidConfigurationError("buildResplit called without a resplit pattern")
	}

	innerKeys, outerKeys := divvyKeys(split.Keys, ext.Split)

	var innerApplies []expr.ApplyExpr
	var outerApplies []expr.ApplyExpr
	seenIntermediate := map[string]bool{}

	for _, a := range ext.Applies {
		rewritten, intermediates, err := rewriteApplyForResplit(a.Expression, matches)
		if err != nil {
			return nil, err
		}
		for name, innerExpr := range intermediates {
			if !seenIntermediate[name] {
				seenIntermediate[name] = true
				innerApplies = append(innerApplies, expr.ApplyExpr{Name: name, Expression: innerExpr})
			}
		}
		outerApplies = append(outerApplies, expr.ApplyExpr{Name: a.Name, Expression: rewritten})
	}

	inner := &expr.External{
		Mode:               expr.ModeSplit,
		Source:             ext.Source,
		Filter:             ext.Filter,
		Split:              &expr.Expression{Kind: expr.KindSplit, Split: &expr.SplitExpr{Keys: innerKeys}},
		Applies:            innerApplies,
		TimeAttribute:      ext.TimeAttribute,
		CustomAggregations: ext.CustomAggregations,
		QuerySelection:      expr.QuerySelectionGroupByOnly,
		Attributes:          ext.Attributes,
	}

	rawAttrs := make([]expr.AttributeInfo, 0, len(innerApplies))
	for _, ia := range innerApplies {
		rawAttrs = append(rawAttrs, expr.AttributeInfo{Name: ia.Name, Type: expr.TypeNumber, NativeType: intermediateNativeType(ia.Expression)})
	}

	outer := &expr.External{
		Mode:               expr.ModeSplit,
		Source:             ext.Source,
		Filter:             alwaysTrue(),
		Split:              &expr.Expression{Kind: expr.KindSplit, Split: &expr.SplitExpr{Keys: outerKeys}},
		Applies:            outerApplies,
		Sort:                ext.Sort,
		Limit:               ext.Limit,
		HavingFilter:        ext.HavingFilter,
		TimeAttribute:       ext.TimeAttribute,
		RawAttributes:       rawAttrs,
		AllowEternity:       true,
		QuerySelection:      expr.QuerySelectionGroupByOnly,
		Attributes:          expr.AttributeMap(attributeMapFrom(rawAttrs)),
	}

	return &resplitPlan{Inner: inner, Outer: outer}, nil
}

// intermediateNativeType picks the raw-attribute native type the outer
// query's AggregationBuilder resolves against: a count-typed intermediate
// (including the auxiliary "_def" filter-count columns) is integral, every
// other aggregate intermediate is a double.
func intermediateNativeType(e expr.Expression) string {
	if e.Kind == expr.KindAggregate && e.Aggregate.Op == expr.AggCount {
		return "LONG"
	}
	return "DOUBLE"
}

func attributeMapFrom(attrs []expr.AttributeInfo) map[string]expr.AttributeInfo {
	m := make(map[string]expr.AttributeInfo, len(attrs))
	for _, a := range attrs {
		m[a.Name] = a
	}
	return m
}

func alwaysTrue() *expr.Expression {
	return &expr.Expression{Kind: expr.KindLiteral, Type: expr.TypeBoolean, Literal: &expr.LiteralExpr{Value: true}}
}

// rewriteApplyForResplit rewrites one top-level apply's tree, replacing any
// re-split pattern with a ref to its intermediate column and collecting the
// inner apply expressions those intermediates require. A filtered re-split
// (the inner apply's operand was filter(ref)) additionally introduces a
// "<name>_def" inner apply counting the filtered buckets, and the outer
// aggregate is wrapped in a filter excluding buckets where that count is
// zero (spec §4.4 step 2's filtered-operand carve-out).
func rewriteApplyForResplit(e expr.Expression, matches []*resplitMatch) (expr.Expression, map[string]expr.Expression, error) {
	for _, m := range matches {
		if e.Kind == expr.KindAggregate && reflect.DeepEqual(m.Outer, e.Aggregate) {
			innerExpr := e.Aggregate.Operand.Apply.Expression
			if innerExpr.Kind == expr.KindAggregate {
				innerExpr.Aggregate.Options.ForceFinalize = true
			}
			intermediates := map[string]expr.Expression{m.InnerName: innerExpr}

			rewritten, rewriteErr := rewriteOuterAggregate(m.Outer, m.InnerName)
			if rewriteErr != nil {
				return expr.Expression{}, nil, rewriteErr
			}
			if !m.Filtered {
				return rewritten, intermediates, nil
			}

			defName := m.InnerName + "_def"
			intermediates[defName] = expr.Expression{
				Kind:      expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{Op: expr.AggCount},
			}
			rewritten.Aggregate.Operand = expr.Expression{
				Kind: expr.KindFilter,
				Filter: &expr.FilterExpr{
					Operand: rewritten.Aggregate.Operand,
					Expression: expr.Expression{
						Kind: expr.KindComparison,
						Comparison: &expr.ComparisonExpr{
							Op:  expr.CmpGt,
							LHS: expr.Ref(defName, 0, expr.TypeNumber),
							RHS: expr.Lit(0.0, expr.TypeNumber),
						},
					},
				},
			}
			return rewritten, intermediates, nil
		}
	}
	intermediates := map[string]expr.Expression{}
	switch e.Kind {
	case expr.KindArithmetic:
		lhs, lhsInter, err := rewriteApplyForResplit(e.Arithmetic.LHS, matches)
		if err != nil {
			return expr.Expression{}, nil, err
		}
		rhs, rhsInter, err := rewriteApplyForResplit(e.Arithmetic.RHS, matches)
		if err != nil {
			return expr.Expression{}, nil, err
		}
		for k, v := range lhsInter {
			intermediates[k] = v
		}
		for k, v := range rhsInter {
			intermediates[k] = v
		}
		return expr.Expression{Kind: expr.KindArithmetic, Arithmetic: &expr.ArithmeticExpr{Op: e.Arithmetic.Op, LHS: lhs, RHS: rhs}}, intermediates, nil
	default:
		return e, nil, nil
	}
}

// divvyKeys implements spec §4.4 step 4: inner split keys keep the bucketed
// form, the outer query rebuckets over the resulting intermediate ref for a
// TimeBucket/NumberBucket key, or takes a bare passthrough ref otherwise.
// Outer split keys already present in ext.Split (by expression equality) are
// preserved verbatim instead of introduced as a passthrough.
func divvyKeys(innerKeys []expr.SplitKey, outerSplit *expr.Expression) (inner, outer []expr.SplitKey) {
	var existingOuter []expr.SplitKey
	if outerSplit != nil {
		existingOuter = outerSplit.Split.Keys
	}

	for _, k := range innerKeys {
		inner = append(inner, k)
		if matched, ok := findMatchingKey(k, existingOuter); ok {
			outer = append(outer, matched)
			continue
		}
		switch k.Expression.Kind {
		case expr.KindTimeBucket, expr.KindTimeFloor:
			outer = append(outer, expr.SplitKey{
				Name: k.Name,
				Expression: expr.Expression{
					Kind: k.Expression.Kind,
					TimeBucket: &expr.TimeBucketExpr{
						Operand:  expr.Ref(k.Name, 0, expr.TypeTime),
						Period:   k.Expression.TimeBucket.Period,
						TimeZone: k.Expression.TimeBucket.TimeZone,
					},
				},
			})
		case expr.KindNumberBucket:
			outer = append(outer, expr.SplitKey{
				Name: k.Name,
				Expression: expr.Expression{
					Kind: expr.KindNumberBucket,
					NumberBkt: &expr.NumberBucketExpr{
						Operand: expr.Ref(k.Name, 0, expr.TypeNumber),
						Size:    k.Expression.NumberBkt.Size,
						Offset:  k.Expression.NumberBkt.Offset,
					},
				},
			})
		default:
			outer = append(outer, expr.SplitKey{Name: k.Name, Expression: expr.Ref(k.Name, 0, k.Expression.Type)})
		}
	}

	for _, ok := range existingOuter {
		if _, matched := findMatchingKey(ok, innerKeys); !matched {
			outer = append(outer, ok)
		}
	}
	return inner, outer
}

func findMatchingKey(k expr.SplitKey, candidates []expr.SplitKey) (expr.SplitKey, bool) {
	for _, c := range candidates {
		if reflect.DeepEqual(c.Expression, k.Expression) {
			return c, true
		}
	}
	return expr.SplitKey{}, false
}

// nestDataSource wraps inner as the outer query's nested dataSource
// (spec §4.4 step 5).
func nestDataSource(inner query.Document) query.DataSource {
	return query.DataSource{Type: "query", Query: &inner}
}
