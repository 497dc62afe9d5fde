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
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/planner/extract"
	"github.com/driftlake/qplan/planner/inflate"
	"github.com/driftlake/qplan/planner/lower"
	"github.com/driftlake/qplan/query"
)

// dummyPrefix replaces a leading "__" in an output column name so a split
// key can never collide with the backend's own reserved columns (spec §4.2's
// "__"→"***" output-name rewriting; mirrored in expr.QueryContext.DummyPrefix).
const dummyPrefix = "***"

// splitResult is everything the SplitLowerer produces for one split
// expression: the native dimension list plus any virtual columns it had to
// fall back to, the inflaters needed to decode each key column back into its
// algebra type. lowerSplit leaves Having nil: having conjuncts over a
// SET/STRING split key are pushed into its dimension by
// pushHavingIntoDimensions instead.
type splitResult struct {
	Dimensions     []query.DimensionSpec
	VirtualColumns []query.VirtualColumn
	Inflaters      []expr.ColumnInflater
	Having         *query.Having
}

// lowerSplit implements the SplitLowerer (spec §4.2): each split key is
// free-reference-collected, then lowered extraction-fn-first and
// virtual-column-fallback, mirroring the teacher's per-label dimension
// selection in sql_builder.go's groupByDims.
func lowerSplit(keys []expr.SplitKey, scope *expr.ScopeStack, attrs expr.AttributeLookup) (*splitResult, error) {
	res := &splitResult{}
	vcSeq := 0
	for _, key := range keys {
		outputName := sanitizeOutputName(key.Name)

		refs := expr.FreeReferences(key.Expression)
		if attrs != nil {
			for _, r := range refs {
				if info, ok := attrs.Attribute(r.Name); ok && info.Unsplitable {
					return nil, expr.NewInvalidConfigurationError("split key %q references an un-splitable metric", key.Name)
				}
			}
		}

		column, fn, extractErr := extract.Build(key.Expression)
		if extractErr == nil {
			ds := query.DimensionSpec{
				Type:         dimensionType(fn),
				Dimension:    column,
				OutputName:   outputName,
				OutputType:   nativeOutputType(key.Expression.Type),
				ExtractionFn: fn,
			}
			res.Dimensions = append(res.Dimensions, ds)
			res.Inflaters = append(res.Inflaters, inflaterFor(outputName, key.Expression))
			continue
		}

		formula, lowerErr := lower.Lower(key.Expression, scope)
		if lowerErr != nil {
			return nil, expr.NewUnsupportedExpressionError(
				"split key %q: no extraction fn (%v) and no virtual column (%v)", key.Name, extractErr, lowerErr)
		}
		vcSeq++
		vcName := virtualColumnName(outputName, vcSeq)
		res.VirtualColumns = append(res.VirtualColumns, query.VirtualColumn{
			Type:       "expression",
			Name:       vcName,
			Expression: formula,
			OutputType: nativeOutputType(key.Expression.Type),
		})
		res.Dimensions = append(res.Dimensions, query.DimensionSpec{
			Type:       "default",
			Dimension:  vcName,
			OutputName: outputName,
			OutputType: nativeOutputType(key.Expression.Type),
		})
		res.Inflaters = append(res.Inflaters, inflaterFor(outputName, key.Expression))
	}
	return res, nil
}

func dimensionType(fn *query.ExtractionFn) string {
	if fn == nil {
		return "default"
	}
	return "extraction"
}

func sanitizeOutputName(name string) string {
	if len(name) >= 2 && name[:2] == "__" {
		return dummyPrefix + name[2:]
	}
	return name
}

// restoreOutputNames is the inverse of sanitizeOutputName, applied to the
// column-name list threaded alongside a RowTransform so it matches the keys
// the transform's Apply actually emits.
func restoreOutputNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if len(n) >= len(dummyPrefix) && n[:len(dummyPrefix)] == dummyPrefix {
			out[i] = "__" + n[len(dummyPrefix):]
			continue
		}
		out[i] = n
	}
	return out
}

func virtualColumnName(outputName string, seq int) string {
	if seq == 1 {
		return "v:" + outputName
	}
	return "v:" + outputName + "_" + strconv.Itoa(seq)
}

func nativeOutputType(t expr.Type) string {
	switch t {
	case expr.TypeNumber:
		return "DOUBLE"
	case expr.TypeTime:
		return "LONG"
	case expr.TypeBoolean:
		return "LONG"
	default:
		return "STRING"
	}
}

// inflaterFor builds the ColumnInflater that converts one raw backend column
// back into its algebra type (spec §4.2's dimension inflater selection): a
// CardinalityExpression selects the set-cardinality inflater regardless of
// its resolved type, everything else is chosen from the split key's type.
func inflaterFor(name string, e expr.Expression) expr.ColumnInflater {
	if e.Kind == expr.KindCardinality {
		return expr.ColumnInflater{Name: name, Inflate: inflateSetCardinality}
	}
	return expr.ColumnInflater{Name: name, Inflate: simpleInflate(e.Type)}
}

func simpleInflate(t expr.Type) func(any) any {
	switch t {
	case expr.TypeTime:
		return inflateTime
	case expr.TypeBoolean:
		return inflateBoolean
	case expr.TypeNumber:
		return inflateNumber
	default:
		if elem, ok := expr.IsSetOf(t); ok {
			return inflateSet(elem)
		}
		return inflateString
	}
}

func inflateTime(raw any) any {
	switch v := raw.(type) {
	case int64:
		return time.UnixMilli(v).UTC()
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return nil
}

func inflateBoolean(raw any) any {
	switch v := raw.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v == "true" || v == "1"
	}
	return nil
}

func inflateNumber(raw any) any {
	switch v := raw.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return nil
}

func inflateString(raw any) any {
	if raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return nil
}

// inflateSet handles the multi-value String dimension shape the native
// backend returns when a SET/<elem> split key fans a row out across several
// values (spec §4.2).
func inflateSet(elem expr.Type) func(any) any {
	inner := simpleInflate(elem)
	return func(raw any) any {
		switch v := raw.(type) {
		case []any:
			out := make([]any, len(v))
			for i, item := range v {
				out[i] = inner(item)
			}
			return out
		case nil:
			return nil
		default:
			return []any{inner(v)}
		}
	}
}

// inflateSetCardinality implements spec §4.2/GLOSSARY's set-cardinality
// inflater for a CardinalityExpression split key: the backend still returns
// the underlying dimension's per-row multi-value array, and the algebra
// value is the count of values in that row's set.
func inflateSetCardinality(raw any) any {
	switch v := raw.(type) {
	case []any:
		return float64(len(v))
	case nil:
		return float64(0)
	default:
		return float64(1)
	}
}

// coreAggregate returns e's AggregateExpr when e is (or wraps, via a plain
// filter/split operand) an aggregate node, so an apply's inflater can be
// chosen from the aggregate it actually computes.
func coreAggregate(e expr.Expression) *expr.AggregateExpr {
	if e.Kind == expr.KindAggregate {
		return e.Aggregate
	}
	return nil
}

// applyInflater implements the apply-output half of spec §3/§4.2's inflater
// selection: an unfinalized countDistinct or quantile apply comes back from
// the backend as a mergeable sketch (spec §4.4's ForceFinalize option), so it
// is decoded with the sketch-column inflaters instead of a plain number
// coercion.
func applyInflater(a expr.ApplyExpr) expr.ColumnInflater {
	if agg := coreAggregate(a.Expression); agg != nil && !agg.Options.ForceFinalize {
		switch agg.Op {
		case expr.AggCountDistinct:
			return expr.ColumnInflater{Name: a.Name, Inflate: inflateCardinalitySketch}
		case expr.AggQuantile:
			q := agg.Quantile
			return expr.ColumnInflater{Name: a.Name, Inflate: func(raw any) any {
				return inflateQuantileSketch(raw, q)
			}}
		}
	}
	return expr.ColumnInflater{Name: a.Name, Inflate: inflateNumber}
}

func inflateCardinalitySketch(raw any) any {
	n, err := inflate.Cardinality(raw)
	if err != nil {
		return nil
	}
	return float64(n)
}

func inflateQuantileSketch(raw any, q float64) any {
	v, err := inflate.QuantileSketch(raw, q)
	if err != nil {
		return nil
	}
	return v
}

// pushHavingIntoDimensions implements spec §4.2's
// expressionToDimensionInflaterHaving: the having filter is AND-extracted
// into conjuncts, and any conjunct that directly constrains a SET/STRING
// split key's own ref (match regex / is literal / in literal set) is pushed
// into that key's dimension as a regexFiltered/listFiltered delegate; the
// remaining conjuncts are the leftoverHavingFilter, still lowered by
// HavingFilterBuilder (finalize.go) against the apply outputs.
func pushHavingIntoDimensions(dims []query.DimensionSpec, keys []expr.SplitKey, having *expr.Expression) ([]query.DimensionSpec, *expr.Expression) {
	if having == nil || len(dims) == 0 || len(dims) != len(keys) {
		return dims, having
	}
	out := append([]query.DimensionSpec(nil), dims...)
	var leftover []expr.Expression
	for _, c := range andConjuncts(*having) {
		if !tryPushConjunct(out, keys, c) {
			leftover = append(leftover, c)
		}
	}
	return out, rebuildAnd(leftover)
}

// tryPushConjunct attempts to push one having conjunct into whichever split
// key it directly constrains, mutating dims in place on success.
func tryPushConjunct(dims []query.DimensionSpec, keys []expr.SplitKey, c expr.Expression) bool {
	for i, key := range keys {
		if dims[i].Type == "regexFiltered" || dims[i].Type == "listFiltered" {
			continue
		}
		elem, ok := expr.IsSetOf(key.Expression.Type)
		if !ok || elem != expr.TypeString {
			continue
		}
		refName, ok := singleFreeRef(key.Expression)
		if !ok {
			continue
		}
		if pushed, ok := dimensionConstraint(c, refName, dims[i]); ok {
			dims[i] = *pushed
			return true
		}
	}
	return false
}

// dimensionConstraint recognizes a having conjunct of the shape "match
// regex", "is literal", or "in literal set" over refName, and returns the
// regexFiltered/listFiltered dimension it lowers to, wrapping delegate.
func dimensionConstraint(c expr.Expression, refName string, delegate query.DimensionSpec) (*query.DimensionSpec, bool) {
	d := delegate
	switch c.Kind {
	case expr.KindMatch:
		if name, ok := bareRefName(c.Match.Operand); ok && name == refName {
			return &query.DimensionSpec{Type: "regexFiltered", Pattern: c.Match.Regex, Delegate: &d}, true
		}
	case expr.KindIn:
		if name, ok := bareRefName(c.In.Operand); ok && name == refName {
			values := make([]string, len(c.In.Set))
			for i, v := range c.In.Set {
				values[i] = fmt.Sprintf("%v", v)
			}
			sort.Strings(values)
			return &query.DimensionSpec{Type: "listFiltered", Values: values, IsWhitelist: true, Delegate: &d}, true
		}
	case expr.KindIs:
		if name, ok := bareRefName(c.Is.Operand); ok && name == refName {
			return &query.DimensionSpec{
				Type:        "listFiltered",
				Values:      []string{fmt.Sprintf("%v", c.Is.Value)},
				IsWhitelist: true,
				Delegate:    &d,
			}, true
		}
	}
	return nil, false
}

func bareRefName(e expr.Expression) (string, bool) {
	if e.Kind == expr.KindRef {
		return e.Ref.Name, true
	}
	return "", false
}

func singleFreeRef(e expr.Expression) (string, bool) {
	refs := expr.FreeReferences(e)
	if len(refs) != 1 {
		return "", false
	}
	return refs[0].Name, true
}

// andConjuncts flattens a top-level AND into its operands; anything else is
// treated as a single one-element conjunction.
func andConjuncts(e expr.Expression) []expr.Expression {
	if e.Kind == expr.KindBoolean && e.Boolean.Op == expr.BoolAnd {
		return e.Boolean.Operands
	}
	return []expr.Expression{e}
}

// rebuildAnd is the inverse of andConjuncts.
func rebuildAnd(conjuncts []expr.Expression) *expr.Expression {
	switch len(conjuncts) {
	case 0:
		return nil
	case 1:
		return &conjuncts[0]
	default:
		return &expr.Expression{
			Kind:    expr.KindBoolean,
			Type:    expr.TypeBoolean,
			Boolean: &expr.BooleanExpr{Op: expr.BoolAnd, Operands: conjuncts},
		}
	}
}
