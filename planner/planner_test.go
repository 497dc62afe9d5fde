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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

func baseAttributes() expr.AttributeMap {
	return expr.AttributeMap{
		"__time":  {Name: "__time", Type: expr.TypeTime, NativeType: "__time"},
		"country": {Name: "country", Type: expr.TypeString, NativeType: "STRING"},
		"revenue": {Name: "revenue", Type: expr.TypeNumber, NativeType: "DOUBLE"},
		"hits":    {Name: "hits", Type: expr.TypeNumber, NativeType: "LONG"},
	}
}

func TestPlanTimeBoundaryTotal(t *testing.T) {
	ext := &expr.External{
		Mode:          expr.ModeTotal,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    baseAttributes(),
		Applies: []expr.ApplyExpr{{
			Name: "max",
			Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggMax,
					Attribute: &expr.RefExpr{Name: "__time", Type: expr.TypeTime},
				},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeTimeBoundary, doc.QueryType)
	require.Equal(t, "maxTime", doc.Bound)
}

func TestPlanTimeBoundaryMaxFallback(t *testing.T) {
	ext := &expr.External{
		Mode:          expr.ModeTotal,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    baseAttributes(),
		Applies: []expr.ApplyExpr{{
			Name: "max",
			Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggMax,
					Attribute: &expr.RefExpr{Name: "__time", Type: expr.TypeTime},
				},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)

	datum := plan.PostTransform.Apply(expr.RawRow{"maxTime": "2020-01-02T00:00:00Z"})
	require.Contains(t, datum, "max")
	require.Equal(t, 2020, datum["max"].(time.Time).Year())
	require.NotContains(t, datum, "maxTime")
	require.NotContains(t, datum, "maxIngestedEventTime||maxTime")

	datum = plan.PostTransform.Apply(expr.RawRow{
		"maxIngestedEventTime": "2020-06-01T00:00:00Z",
		"maxTime":              "2020-01-02T00:00:00Z",
	})
	require.Equal(t, 6, int(datum["max"].(time.Time).Month()))
}

func TestPlanTimeBoundaryMinAndMaxIsUnbounded(t *testing.T) {
	ext := &expr.External{
		Mode:          expr.ModeTotal,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    baseAttributes(),
		Applies: []expr.ApplyExpr{
			{Name: "min", Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggMin,
					Attribute: &expr.RefExpr{Name: "__time", Type: expr.TypeTime},
				},
			}},
			{Name: "max", Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggMax,
					Attribute: &expr.RefExpr{Name: "__time", Type: expr.TypeTime},
				},
			}},
		},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeTimeBoundary, doc.QueryType)
	require.Empty(t, doc.Bound)

	datum := plan.PostTransform.Apply(expr.RawRow{"minTime": "2020-01-01T00:00:00Z", "maxTime": "2020-01-02T00:00:00Z"})
	require.Contains(t, datum, "min")
	require.Contains(t, datum, "max")
}

func TestPlanTimeseriesSplit(t *testing.T) {
	ext := &expr.External{
		Mode:          expr.ModeSplit,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    baseAttributes(),
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name: "__time",
				Expression: expr.Expression{
					Kind: expr.KindTimeBucket,
					TimeBucket: &expr.TimeBucketExpr{
						Operand:  expr.Ref("__time", 0, expr.TypeTime),
						Period:   "P1D",
						TimeZone: "UTC",
					},
				},
			}}},
		},
		Sort: &expr.Expression{Kind: expr.KindSort, Sort: &expr.SortExpr{RefName: "__time"}},
		Applies: []expr.ApplyExpr{{
			Name: "revenue",
			Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggSum,
					Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
				},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeTimeseries, doc.QueryType)
	require.NotNil(t, doc.Granularity)
	require.Equal(t, "period", doc.Granularity.Type)
	require.Equal(t, "P1D", doc.Granularity.Period)
	require.Equal(t, "UTC", doc.Granularity.TimeZone)
	require.Equal(t, true, doc.Context["skipEmptyBuckets"])
}

func TestPlanTopNSplit(t *testing.T) {
	ext := &expr.External{
		Mode:          expr.ModeSplit,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    baseAttributes(),
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name:       "country",
				Expression: expr.Ref("country", 0, expr.TypeString),
			}}},
		},
		Sort: &expr.Expression{Kind: expr.KindSort, Sort: &expr.SortExpr{RefName: "revenue", Descending: true}},
		Limit: &expr.Expression{Kind: expr.KindLimit, Limit: &expr.LimitExpr{Value: 50}},
		QuerySelection: expr.QuerySelectionAny,
		Applies: []expr.ApplyExpr{{
			Name: "revenue",
			Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggSum,
					Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
				},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeTopN, doc.QueryType)
	require.NotNil(t, doc.Dimension)
	require.Equal(t, "country", doc.Dimension.Dimension)
	require.Equal(t, "country", doc.Dimension.OutputName)
	require.Equal(t, "revenue", doc.Metric)
	require.Equal(t, 50, doc.Threshold)
}

func TestPlanScanWithTimeOrdering(t *testing.T) {
	ext := &expr.External{
		Mode:               expr.ModeRaw,
		Source:             "events",
		TimeAttribute:      "__time",
		AllowSelectQueries: true,
		Attributes:         baseAttributes(),
		RawAttributes: []expr.AttributeInfo{
			{Name: "__time", Type: expr.TypeTime},
			{Name: "country", Type: expr.TypeString},
		},
		Select: []string{"country", "__time"},
		Sort:   &expr.Expression{Kind: expr.KindSort, Sort: &expr.SortExpr{RefName: "__time"}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeScan, doc.QueryType)
	require.Equal(t, "compactedList", doc.ResultFormat)
	require.Equal(t, "ascending", doc.Order)
	require.Contains(t, doc.Columns, "__time")
}

func TestPlanRawModeWithoutAllowSelectQueriesFails(t *testing.T) {
	ext := &expr.External{Mode: expr.ModeRaw, Attributes: baseAttributes()}
	_, err := Plan(ext)
	require.Error(t, err)
}

func TestSelectSplitShapeRejectsTopNWhenSortApplyFiltersOverTime(t *testing.T) {
	attrs := baseAttributes()
	filteredSum := expr.Expression{
		Kind: expr.KindAggregate,
		Aggregate: &expr.AggregateExpr{
			Op: expr.AggSum,
			Operand: expr.Expression{
				Kind: expr.KindFilter,
				Filter: &expr.FilterExpr{
					Expression: expr.Expression{
						Kind: expr.KindComparison,
						Comparison: &expr.ComparisonExpr{
							Op:  expr.CmpGt,
							LHS: expr.Ref("__time", 0, expr.TypeTime),
							RHS: expr.Lit(int64(0), expr.TypeNumber),
						},
					},
				},
			},
			Attribute: &expr.RefExpr{Name: "revenue", Type: expr.TypeNumber},
		},
	}
	ext := &expr.External{
		Mode:           expr.ModeSplit,
		Source:         "events",
		TimeAttribute:  "__time",
		Attributes:     attrs,
		QuerySelection: expr.QuerySelectionAny,
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name:       "country",
				Expression: expr.Ref("country", 0, expr.TypeString),
			}}},
		},
		Sort:    &expr.Expression{Kind: expr.KindSort, Sort: &expr.SortExpr{RefName: "revenue", Descending: true}},
		Limit:   &expr.Expression{Kind: expr.KindLimit, Limit: &expr.LimitExpr{Value: 50}},
		Applies: []expr.ApplyExpr{{Name: "revenue", Expression: filteredSum}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeGroupBy, doc.QueryType)
}

func TestHavingPushDownIntoListFiltered(t *testing.T) {
	attrs := baseAttributes()
	attrs["tags"] = expr.AttributeInfo{Name: "tags", Type: expr.SetOf(expr.TypeString), NativeType: "STRING"}

	having := expr.Expression{
		Kind: expr.KindBoolean,
		Type: expr.TypeBoolean,
		Boolean: &expr.BooleanExpr{
			Op: expr.BoolAnd,
			Operands: []expr.Expression{
				{
					Kind: expr.KindIn,
					Type: expr.TypeBoolean,
					In:   &expr.InExpr{Operand: expr.Ref("tags", 0, expr.SetOf(expr.TypeString)), Set: []any{"a", "b"}},
				},
				{
					Kind: expr.KindComparison,
					Type: expr.TypeBoolean,
					Comparison: &expr.ComparisonExpr{
						Op:  expr.CmpGt,
						LHS: expr.Ref("count", 0, expr.TypeNumber),
						RHS: expr.Lit(float64(10), expr.TypeNumber),
					},
				},
			},
		},
	}

	ext := &expr.External{
		Mode:          expr.ModeSplit,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    attrs,
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name:       "tags",
				Expression: expr.Ref("tags", 0, expr.SetOf(expr.TypeString)),
			}}},
		},
		HavingFilter:   &having,
		QuerySelection: expr.QuerySelectionGroupByOnly,
		Applies: []expr.ApplyExpr{{
			Name: "count",
			Expression: expr.Expression{
				Kind:      expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{Op: expr.AggCount},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Len(t, doc.Dimensions, 1)
	require.Equal(t, "listFiltered", doc.Dimensions[0].Type)
	require.Equal(t, []string{"a", "b"}, doc.Dimensions[0].Values)
	require.NotNil(t, doc.Dimensions[0].Delegate)
	require.Equal(t, "tags", doc.Dimensions[0].Delegate.Dimension)

	require.NotNil(t, doc.Having)
	require.Equal(t, "greaterThan", doc.Having.Type)
	require.Equal(t, "count", doc.Having.Aggregation)
}

func TestApplyInflaterSkipsSketchDecodeWhenForceFinalized(t *testing.T) {
	a := expr.ApplyExpr{
		Name: "uniques",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:        expr.AggCountDistinct,
				Attribute: &expr.RefExpr{Name: "country", Type: expr.TypeString},
				Options:   expr.AggregateOptions{ForceFinalize: true},
			},
		},
	}
	inf := applyInflater(a)
	require.Equal(t, float64(42), inf.Inflate(float64(42)))
}

func TestApplyInflaterRoutesUnfinalizedCountDistinctToSketchDecode(t *testing.T) {
	a := expr.ApplyExpr{
		Name: "uniques",
		Expression: expr.Expression{
			Kind: expr.KindAggregate,
			Aggregate: &expr.AggregateExpr{
				Op:        expr.AggCountDistinct,
				Attribute: &expr.RefExpr{Name: "country", Type: expr.TypeString},
			},
		},
	}
	inf := applyInflater(a)
	require.Nil(t, inf.Inflate("not a valid sketch payload"))
}

func TestPostTransformRestoresDummyPrefixedOutputName(t *testing.T) {
	attrs := baseAttributes()
	attrs["__custom"] = expr.AttributeInfo{Name: "__custom", Type: expr.TypeString, NativeType: "STRING"}

	ext := &expr.External{
		Mode:           expr.ModeSplit,
		Source:         "events",
		TimeAttribute:  "__time",
		Attributes:     attrs,
		QuerySelection: expr.QuerySelectionGroupByOnly,
		Split: &expr.Expression{
			Kind: expr.KindSplit,
			Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
				Name:       "__custom",
				Expression: expr.Ref("__custom", 0, expr.TypeString),
			}}},
		},
		Sort: &expr.Expression{Kind: expr.KindSort, Sort: &expr.SortExpr{RefName: "__custom"}},
		Applies: []expr.ApplyExpr{{
			Name: "count",
			Expression: expr.Expression{
				Kind:      expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{Op: expr.AggCount},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Len(t, doc.Dimensions, 1)
	require.Equal(t, "***custom", doc.Dimensions[0].OutputName)
	require.NotNil(t, doc.LimitSpec)
	require.Len(t, doc.LimitSpec.Columns, 1)
	require.Equal(t, "***custom", doc.LimitSpec.Columns[0].Dimension)

	require.Contains(t, plan.PostTransform.OutputCols, "__custom")
	require.NotContains(t, plan.PostTransform.OutputCols, "***custom")

	datum := plan.PostTransform.Apply(expr.RawRow{"***custom": "us", "count": float64(3)})
	require.Equal(t, "us", datum["__custom"])
	require.NotContains(t, datum, "***custom")
}

func TestPlanNestedGroupByResplit(t *testing.T) {
	attrs := baseAttributes()
	splitExpr := expr.Expression{
		Kind: expr.KindSplit,
		Split: &expr.SplitExpr{Keys: []expr.SplitKey{{
			Name:       "country",
			Expression: expr.Ref("country", 0, expr.TypeString),
		}}},
	}
	applyX := expr.Expression{
		Kind: expr.KindApply,
		Apply: &expr.ApplyExpr{
			Name: "x",
			Expression: expr.Expression{
				Kind:      expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{Op: expr.AggCount},
			},
		},
	}
	resplitOperand := expr.Expression{Kind: expr.KindApply, Apply: applyX.Apply}
	resplitOperand.Apply.Operand = splitExpr

	ext := &expr.External{
		Mode:          expr.ModeTotal,
		Source:        "events",
		TimeAttribute: "__time",
		Attributes:    attrs,
		Applies: []expr.ApplyExpr{{
			Name: "max",
			Expression: expr.Expression{
				Kind: expr.KindAggregate,
				Aggregate: &expr.AggregateExpr{
					Op:        expr.AggMax,
					Operand:   resplitOperand,
					Attribute: &expr.RefExpr{Name: "x", Type: expr.TypeNumber},
				},
			},
		}},
	}
	plan, err := Plan(ext)
	require.NoError(t, err)
	doc, ok := plan.Query.(query.Document)
	require.True(t, ok)
	require.Equal(t, query.TypeGroupBy, doc.QueryType)
	require.NotNil(t, doc.DataSource)
	require.Equal(t, "query", doc.DataSource.Type)
	require.NotNil(t, doc.DataSource.Query)
	require.Equal(t, query.TypeGroupBy, doc.DataSource.Query.QueryType)
	require.Len(t, doc.Aggregations, 1)
	require.Equal(t, "longMax", doc.Aggregations[0].Type)
}
