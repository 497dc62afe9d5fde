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

// Package planner is the top-level Planner (spec §2, ~40% component): it
// chooses a native query shape from one External snapshot, drives the
// sub-builders (SplitLowerer, AggregationBuilder, FilterBuilder,
// ExtractionFnBuilder, ExpressionLowerer), and assembles the
// QueryAndPostTransform the surrounding runtime sends to the backend
// requester. Dispatch style and the PlanID content hash are grounded on the
// teacher's Compile/exec tree assembly and baseExprID in
// promql/exec_planner.go.
package planner

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/planner/aggbuild"
	"github.com/driftlake/qplan/planner/filterbuild"
	"github.com/driftlake/qplan/query"
)

const valueOutputName = "value"

// Plan lowers one External snapshot into a QueryAndPostTransform (spec §3).
// It is the sole entry point the surrounding runtime calls.
func Plan(ext *expr.External) (*expr.QueryAndPostTransform, error) {
	if needsResplit(ext.Applies) {
		return planNestedGroupBy(ext)
	}

	sh, err := selectShape(ext)
	if err != nil {
		return nil, err
	}

	scope := expr.NewScopeStack(ext.Attributes)

	var doc query.Document
	var outputCols []string
	var inflaters []expr.ColumnInflater

	switch sh {
	case shapeTimeBoundary:
		d, fields, tbErr := planTimeBoundary(ext)
		if tbErr != nil {
			return nil, tbErr
		}
		intervals, _, intErr := filterbuild.Build(ext.Filter, ext.TimeAttribute, scope)
		if intErr != nil {
			return nil, intErr
		}
		d.Intervals = intervals
		doc = d
		for _, f := range fields {
			outputCols = append(outputCols, f.Name)
			inflaters = append(inflaters, expr.ColumnInflater{Name: f.Name, From: f.From, Inflate: inflateTime})
		}

	case shapeScan:
		sc, scErr := planScan(ext, scope)
		if scErr != nil {
			return nil, scErr
		}
		intervals, _, intErr := filterbuild.Build(ext.Filter, ext.TimeAttribute, scope)
		if intErr != nil {
			return nil, intErr
		}
		sc.Doc.Intervals = intervals
		doc = sc.Doc
		outputCols = sc.Doc.Columns
		inflaters = sc.Inflaters

	case shapeTimeseries, shapeTopN, shapeGroupBy:
		d, cols, infl, pErr := planAggregateShape(sh, ext, scope)
		if pErr != nil {
			return nil, pErr
		}
		doc = d
		outputCols = cols
		inflaters = infl
	}

	transform := expr.RowTransform{
		Inflaters:   inflaters,
		OutputCols:  restoreOutputNames(outputCols),
		TimeShift:   ext.TimeShift,
		DummyPrefix: dummyPrefix,
	}
	out := &expr.QueryAndPostTransform{
		Query:         doc,
		Context:       queryContext(ext),
		PostTransform: transform,
	}
	id, idErr := PlanID(doc)
	if idErr == nil {
		out.PlanID = id
	}
	return out, nil
}

func queryContext(ext *expr.External) expr.QueryContext {
	return expr.QueryContext{
		Timestamp:    ext.TimeAttribute,
		IgnorePrefix: "!",
		DummyPrefix:  dummyPrefix,
	}
}

// planAggregateShape builds the dimension/filter/aggregation-bearing
// shapes (timeseries, topN, groupBy): they share a split, a filter, and an
// aggregation-builder pass, differing only in shape-specific finalization.
func planAggregateShape(sh shape, ext *expr.External, scope *expr.ScopeStack) (query.Document, []string, []expr.ColumnInflater, error) {
	doc := query.Document{QueryType: queryTypeFor(sh)}
	doc.DataSource = &query.DataSource{Type: "table", Name: ext.Source}

	intervals, residual, err := filterbuild.Build(ext.Filter, ext.TimeAttribute, scope)
	if err != nil {
		return doc, nil, nil, err
	}
	doc.Intervals = intervals
	doc.Filter = residual

	outputCols := []string{}
	var inflaters []expr.ColumnInflater

	// timeseries has no native "dimensions" field — its single split key is
	// entirely absorbed into Granularity below, not lowered as a dimension.
	var split *splitResult
	if sh != shapeTimeseries && ext.Split != nil && len(ext.Split.Split.Keys) > 0 {
		split, err = lowerSplit(ext.Split.Split.Keys, scope, ext.Attributes)
		if err != nil {
			return doc, nil, nil, err
		}
		doc.VirtualColumns = append(doc.VirtualColumns, split.VirtualColumns...)
		inflaters = append(inflaters, split.Inflaters...)
		for _, d := range split.Dimensions {
			outputCols = append(outputCols, d.OutputName)
		}
	}

	applies := ext.Applies
	if ext.Mode != expr.ModeSplit && ext.ValueExpression != nil {
		applies = []expr.ApplyExpr{{Name: valueOutputName, Expression: *ext.ValueExpression}}
	}

	aggs, postAggs, err := aggbuild.Build(applies, scope, ext.CustomAggregations)
	if err != nil {
		return doc, nil, nil, err
	}
	doc.Aggregations = aggs
	doc.PostAggregations = postAggs
	for _, a := range applies {
		outputCols = append(outputCols, a.Name)
		inflaters = append(inflaters, applyInflater(a))
	}

	switch sh {
	case shapeTimeseries:
		doc.Granularity = &query.Granularity{Type: "none"}
		if ext.Split != nil && len(ext.Split.Split.Keys) == 1 {
			if period, tz, ok := splitExpressionToGranularity(ext.Split.Split.Keys[0].Expression, ext.TimeAttribute); ok {
				doc.Granularity = granularityFor(period, tz)
			}
		}
		if err := finalizeTimeseries(&doc, ext); err != nil {
			return doc, nil, nil, err
		}
		if ext.TimeAttribute != "" {
			outputCols = append([]string{ext.TimeAttribute}, outputCols...)
			inflaters = append([]expr.ColumnInflater{{Name: ext.TimeAttribute, Inflate: inflateTime}}, inflaters...)
		}

	case shapeTopN:
		doc.Dimension = &split.Dimensions[0]
		dimName := split.Dimensions[0].OutputName
		if err := finalizeTopN(&doc, ext, dimName); err != nil {
			return doc, nil, nil, err
		}

	case shapeGroupBy:
		var keys []expr.SplitKey
		if ext.Split != nil {
			keys = ext.Split.Split.Keys
		}
		dims, residualHaving := pushHavingIntoDimensions(split.dimensionsOrEmpty(), keys, ext.HavingFilter)
		doc.Dimensions = dims
		if err := finalizeGroupBy(&doc, ext, scope, residualHaving); err != nil {
			return doc, nil, nil, err
		}
	}

	return doc, outputCols, inflaters, nil
}

func (s *splitResult) dimensionsOrEmpty() []query.DimensionSpec {
	if s == nil {
		return nil
	}
	return s.Dimensions
}

func granularityFor(period, tz string) *query.Granularity {
	if period == "" {
		return &query.Granularity{Type: "none"}
	}
	return &query.Granularity{Type: "period", Period: period, TimeZone: tz}
}

func queryTypeFor(sh shape) query.QueryType {
	switch sh {
	case shapeTimeseries:
		return query.TypeTimeseries
	case shapeTopN:
		return query.TypeTopN
	default:
		return query.TypeGroupBy
	}
}

// planNestedGroupBy implements spec §4.4 steps 5: build the inner and outer
// planners independently and nest the inner document as the outer's
// dataSource.
func planNestedGroupBy(ext *expr.External) (*expr.QueryAndPostTransform, error) {
	rp, err := buildResplit(ext)
	if err != nil {
		return nil, err
	}
	innerPlan, err := Plan(rp.Inner)
	if err != nil {
		return nil, fmt.Errorf("inner resplit query: %w", err)
	}
	innerDoc, ok := innerPlan.Query.(query.Document)
	if !ok {
		return nil, expr.NewInvalidConfigurationError("inner resplit query did not produce a native document")
	}

	outerPlan, err := Plan(rp.Outer)
	if err != nil {
		return nil, fmt.Errorf("outer resplit query: %w", err)
	}
	outerDoc, ok := outerPlan.Query.(query.Document)
	if !ok {
		return nil, expr.NewInvalidConfigurationError("outer resplit query did not produce a native document")
	}
	outerDoc.DataSource = &query.DataSource{}
	*outerDoc.DataSource = nestDataSource(innerDoc)

	id, idErr := PlanID(outerDoc)
	if idErr == nil {
		outerPlan.PlanID = id
	}
	outerPlan.Query = outerDoc
	return outerPlan, nil
}

// PlanID computes a stable content-addressed identifier for a native query
// document (SPEC_FULL's supplemented "stable content-addressed identifiers"
// feature): the document is marshaled to JSON (Go's encoding/json sorts map
// keys, making the encoding deterministic for a given document value) and
// the first 8 bytes of its SHA-1 digest are hex-encoded, the same truncation
// convention as the teacher's baseExprID in promql/exec_planner.go.
func PlanID(doc query.Document) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:8]), nil
}
