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
	"time"

	"github.com/prometheus/common/model"

	"github.com/driftlake/qplan/expr"
)

// dimensionMetricSpec is the shape of a topN metricSpec that orders by the
// split dimension's own value rather than by an apply output.
type dimensionMetricSpec struct {
	Type      string `json:"type"`
	Ordering  string `json:"ordering"`
}

// invertedMetricSpec wraps another metricSpec to reverse its ordering.
type invertedMetricSpec struct {
	Type   string `json:"type"`
	Metric any    `json:"metric"`
}

// topNMetric implements the four-way truth table a topN query's metricSpec
// must pick between: sorting by the split's own dimension value vs sorting
// by an apply's aggregate output, each either ascending or descending
// (SPEC_FULL's supplemented "topN inverted-ordering" feature, generalizing
// the teacher's descending-by-value convention in top_k_node.go to Druid's
// native ascending/descending/dimension metricSpec variants).
func topNMetric(sortExpr *expr.Expression, dimensionOutputName string, ordering string) any {
	byDimension := sortExpr != nil && sortExpr.Sort.RefName == dimensionOutputName
	descending := sortExpr != nil && sortExpr.Sort.Descending

	if byDimension {
		base := any(dimensionMetricSpec{Type: "dimension", Ordering: ordering})
		if descending {
			return invertedMetricSpec{Type: "inverted", Metric: base}
		}
		return base
	}

	name := ""
	if sortExpr != nil {
		name = sortExpr.Sort.RefName
	}
	if descending {
		return name
	}
	return invertedMetricSpec{Type: "inverted", Metric: name}
}

// DefaultGranularityForWindow implements SPEC_FULL's supplemented
// DefaultGranularityForWindow: callers that omit an explicit split
// granularity get one derived from the query window's span, coarser windows
// getting coarser buckets so a fixed-size timeseries result stays bounded.
func DefaultGranularityForWindow(start, end time.Time) (period string, ok bool) {
	return granularityForSpan(end.Sub(start))
}

// GranularityForRangeString is DefaultGranularityForWindow for callers that
// carry the query window as a Prometheus-style range string (e.g. "6h",
// "14d") rather than a pair of timestamps — the shape External.Context
// hints arrive in when a caller forwards a PromQL-flavored lookback window.
// Parsing uses the same model.ParseDuration the teacher's PromQL leaf-node
// range parsing uses (grounded on promql/leaf_node.go's `model.ParseDuration(be.Range)`).
func GranularityForRangeString(window string) (period string, ok bool) {
	d, err := model.ParseDuration(window)
	if err != nil {
		return "", false
	}
	return granularityForSpan(time.Duration(d))
}

func granularityForSpan(span time.Duration) (period string, ok bool) {
	switch {
	case span <= 0:
		return "", false
	case span <= 6*time.Hour:
		return "PT1M", true
	case span <= 2*24*time.Hour:
		return "PT5M", true
	case span <= 14*24*time.Hour:
		return "PT1H", true
	case span <= 90*24*time.Hour:
		return "P1D", true
	default:
		return "P1W", true
	}
}
