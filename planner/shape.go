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
)

// shape names the native query type the Planner has chosen for one pass.
type shape int

const (
	shapeTimeBoundary shape = iota
	shapeScan
	shapeTimeseries
	shapeTopN
	shapeGroupBy
)

// selectShape implements the mode/condition/shape table of spec §4.1.
func selectShape(ext *expr.External) (shape, error) {
	switch ext.Mode {
	case expr.ModeTotal:
		if allAppliesAreTimeMinMax(ext.Applies, ext.TimeAttribute) {
			return shapeTimeBoundary, nil
		}
		return shapeTimeseries, nil

	case expr.ModeValue:
		if ext.ValueExpression != nil && isMinMaxOfTimeRef(*ext.ValueExpression, ext.TimeAttribute) {
			return shapeTimeBoundary, nil
		}
		return shapeTimeseries, nil

	case expr.ModeRaw:
		if !ext.AllowSelectQueries {
			return 0, expr.NewInvalidConfigurationError("raw mode requires allowSelectQueries")
		}
		return shapeScan, nil

	case expr.ModeSplit:
		return selectSplitShape(ext)
	}
	return 0, expr.NewInvalidConfigurationError("unknown mode %q", ext.Mode)
}

func selectSplitShape(ext *expr.External) (shape, error) {
	if ext.Split == nil {
		return 0, expr.NewInvalidConfigurationError("split mode requires a split expression")
	}
	keys := ext.Split.Split.Keys
	groupByOnly := ext.QuerySelection == expr.QuerySelectionGroupByOnly

	if len(keys) == 1 && !groupByOnly {
		if _, _, ok := splitExpressionToGranularity(keys[0].Expression, ext.TimeAttribute); ok &&
			isTimestampCompatibleSort(ext.Sort, ext.TimeAttribute) &&
			ext.Limit == nil &&
			isTrivialHaving(ext.HavingFilter) {
			return shapeTimeseries, nil
		}
	}

	if len(keys) == 1 && !groupByOnly && !ext.ExactResultsOnly && ext.QuerySelection == expr.QuerySelectionAny {
		if topNCompatibleSort(ext.Sort, ext.Applies, ext.TimeAttribute) && (ext.Limit != nil || boundedBucketCount(ext)) {
			return shapeTopN, nil
		}
	}

	return shapeGroupBy, nil
}

// allAppliesAreTimeMinMax reports whether every apply is exactly min/max of
// the time reference (spec §4.1's total-mode timeBoundary condition).
func allAppliesAreTimeMinMax(applies []expr.ApplyExpr, timeAttr string) bool {
	if len(applies) == 0 {
		return false
	}
	for _, a := range applies {
		if !isMinMaxOfTimeRef(a.Expression, timeAttr) {
			return false
		}
	}
	return true
}

func isMinMaxOfTimeRef(e expr.Expression, timeAttr string) bool {
	if e.Kind != expr.KindAggregate {
		return false
	}
	a := e.Aggregate
	if a.Op != expr.AggMin && a.Op != expr.AggMax {
		return false
	}
	return a.Attribute != nil && a.Attribute.Name == timeAttr
}

// isTimestampCompatibleSort implements spec §4.1's isTimestampCompatibleSort:
// either no sort, or the sort key is a ref to the split's timestamp label.
func isTimestampCompatibleSort(sort *expr.Expression, timeAttr string) bool {
	if sort == nil {
		return true
	}
	return sort.Sort.RefName == timeAttr
}

// isTrivialHaving reports whether h is absent or the always-true predicate.
func isTrivialHaving(h *expr.Expression) bool {
	return h == nil || (h.Kind == expr.KindLiteral && h.Literal != nil && h.Literal.Value == true)
}

// boundedBucketCount is a conservative stand-in for "the split's bucket
// count is bounded" — true when a cardinality bound is available on the
// split dimension (spec §4.1's "limit or bounded bucket count" branch).
func boundedBucketCount(ext *expr.External) bool {
	if ext.Split == nil || len(ext.Split.Split.Keys) != 1 {
		return false
	}
	refs := expr.FreeReferences(ext.Split.Split.Keys[0].Expression)
	if len(refs) != 1 || ext.Attributes == nil {
		return false
	}
	info, ok := ext.Attributes.Attribute(refs[0].Name)
	return ok && info.Cardinality != nil
}

// topNCompatibleSort implements spec §4.1's topNCompatibleSort: the sort's
// ref resolves to an apply whose expression contains no filter over the
// time ref.
func topNCompatibleSort(sortExpr *expr.Expression, applies []expr.ApplyExpr, timeAttr string) bool {
	if sortExpr == nil {
		return len(applies) > 0
	}
	for _, a := range applies {
		if a.Name == sortExpr.Sort.RefName {
			return !expr.ContainsFilterOverRef(a.Expression, timeAttr)
		}
	}
	return false
}

// splitExpressionToGranularity implements spec §4.1's
// splitExpressionToGranularityInflater: the split expression is either the
// bare time ref (granularity "none") or a TimeBucket/TimeFloor over it.
func splitExpressionToGranularity(e expr.Expression, timeAttr string) (period, timeZone string, ok bool) {
	if expr.IsTimeRef(e, timeAttr) {
		return "", "", true
	}
	if e.Kind == expr.KindTimeBucket || e.Kind == expr.KindTimeFloor {
		if expr.IsTimeRef(e.TimeBucket.Operand, timeAttr) {
			return e.TimeBucket.Period, e.TimeBucket.TimeZone, true
		}
	}
	return "", "", false
}
