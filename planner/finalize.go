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
	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

// finalizeTimeseries applies spec §4.5's timeseries sort/limit rules: only
// `descending` is representable (any explicit limit is rejected, since
// timeseries has no native row limit), and the context's skipEmptyBuckets is
// set to true unless the caller already set one.
func finalizeTimeseries(doc *query.Document, ext *expr.External) error {
	if ext.Sort != nil && ext.Sort.Sort.RefName != ext.TimeAttribute {
		return expr.NewUnsupportedExpressionError("timeseries cannot sort by %q", ext.Sort.Sort.RefName)
	}
	if ext.Sort != nil {
		doc.Descending = ext.Sort.Sort.Descending
	}
	if ext.Limit != nil {
		return expr.NewUnsupportedExpressionError("timeseries does not support a row limit")
	}
	if doc.Context == nil {
		doc.Context = map[string]any{}
	}
	if _, ok := doc.Context["skipEmptyBuckets"]; !ok {
		doc.Context["skipEmptyBuckets"] = true
	}
	return nil
}

// finalizeTopN applies spec §4.5's topN rules: the sort key and limit become
// the native metric/threshold pair.
func finalizeTopN(doc *query.Document, ext *expr.External, dimensionOutputName string) error {
	doc.Metric = topNMetric(ext.Sort, dimensionOutputName, dimensionOrdering(doc.Dimension))
	if ext.Limit != nil {
		doc.Threshold = ext.Limit.Limit.Value
	} else {
		doc.Threshold = defaultTopNThreshold
	}
	return nil
}

const defaultTopNThreshold = 1000

func dimensionOrdering(d *query.DimensionSpec) string {
	if d != nil && d.OutputType == "DOUBLE" {
		return "numeric"
	}
	return "lexicographic"
}

// finalizeGroupBy applies spec §4.5's groupBy rules: the sort expression and
// limit become a native LimitSpec, and having (already stripped of any
// dimension-pushed conjuncts by pushHavingIntoDimensions, split.go) becomes a
// native Having filter via HavingFilterBuilder.
func finalizeGroupBy(doc *query.Document, ext *expr.External, scope *expr.ScopeStack, having *expr.Expression) error {
	if ext.Sort != nil || ext.Limit != nil {
		spec := &query.LimitSpec{Type: "default"}
		if ext.Limit != nil {
			spec.Limit = ext.Limit.Limit.Value
		}
		if ext.Sort != nil {
			spec.Columns = []query.OrderByColumnSpec{{
				Dimension:      sanitizeOutputName(ext.Sort.Sort.RefName),
				Direction:      direction(ext.Sort.Sort.Descending),
				DimensionOrder: havingDimensionOrder(ext, ext.Sort.Sort.RefName),
			}}
		}
		doc.LimitSpec = spec
	}

	h, err := havingFilterBuilder(having, ext.Applies)
	if err != nil {
		return err
	}
	doc.Having = h
	return nil
}

func direction(descending bool) string {
	if descending {
		return "descending"
	}
	return "ascending"
}

func havingDimensionOrder(ext *expr.External, refName string) string {
	for _, a := range ext.Applies {
		if a.Name == refName {
			return "numeric"
		}
	}
	return "lexicographic"
}

// havingFilterBuilder lowers a having predicate over apply outputs into a
// native Having filter (spec §4.5's HavingFilterBuilder), rejecting any
// predicate that mentions something other than a bare apply output compared
// to a literal.
func havingFilterBuilder(h *expr.Expression, applies []expr.ApplyExpr) (*query.Having, error) {
	if h == nil {
		return nil, nil
	}
	applyNames := map[string]bool{}
	for _, a := range applies {
		applyNames[a.Name] = true
	}
	return lowerHaving(*h, applyNames)
}

func lowerHaving(e expr.Expression, applyNames map[string]bool) (*query.Having, error) {
	switch e.Kind {
	case expr.KindBoolean:
		fields := make([]query.Having, len(e.Boolean.Operands))
		for i, op := range e.Boolean.Operands {
			h, err := lowerHaving(op, applyNames)
			if err != nil {
				return nil, err
			}
			fields[i] = *h
		}
		if e.Boolean.Op == expr.BoolNot {
			return &query.Having{Type: "not", Field: &fields[0]}, nil
		}
		return &query.Having{Type: string(e.Boolean.Op), Fields: fields}, nil

	case expr.KindComparison:
		ref, lit, flipped, err := havingOperands(e.Comparison, applyNames)
		if err != nil {
			return nil, err
		}
		return &query.Having{Type: havingComparisonType(e.Comparison.Op, flipped), Aggregation: ref, Value: lit}, nil

	case expr.KindIs:
		if e.Is.Operand.Kind != expr.KindRef || !applyNames[e.Is.Operand.Ref.Name] {
			return nil, expr.NewUnsupportedExpressionError("having predicate must reference an apply output")
		}
		return &query.Having{Type: "equalTo", Aggregation: e.Is.Operand.Ref.Name, Value: e.Is.Value}, nil

	default:
		return nil, expr.NewUnsupportedExpressionError("having predicate of kind %q is not supported", e.Kind)
	}
}

func havingOperands(c *expr.ComparisonExpr, applyNames map[string]bool) (ref string, lit any, flipped bool, err error) {
	if c.LHS.Kind == expr.KindRef && applyNames[c.LHS.Ref.Name] && c.RHS.Kind == expr.KindLiteral {
		return c.LHS.Ref.Name, c.RHS.Literal.Value, false, nil
	}
	if c.RHS.Kind == expr.KindRef && applyNames[c.RHS.Ref.Name] && c.LHS.Kind == expr.KindLiteral {
		return c.RHS.Ref.Name, c.LHS.Literal.Value, true, nil
	}
	return "", nil, false, expr.NewUnsupportedExpressionError("having comparison must be an apply output compared to a literal")
}

func havingComparisonType(op expr.CompareOp, flipped bool) string {
	if flipped {
		op = flip(op)
	}
	switch op {
	case expr.CmpGt, expr.CmpGte:
		return "greaterThan"
	default:
		return "lessThan"
	}
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
