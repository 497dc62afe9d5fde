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

// Package query defines the native query document shapes the Planner emits:
// timeseries, topN, groupBy, scan, timeBoundary, and segmentMetadata. Structs
// are JSON-tagged exactly the way the teacher's BaseExpr/eval_types.go
// structs are (promql/exec_planner.go, promql/eval_types.go), generalized
// from PromQL pushdown requests to this algebra's native query shapes.
package query

// QueryType enumerates the native shapes (spec §4.1, GLOSSARY).
type QueryType string

const (
	TypeTimeseries       QueryType = "timeseries"
	TypeTopN             QueryType = "topN"
	TypeGroupBy          QueryType = "groupBy"
	TypeScan             QueryType = "scan"
	TypeTimeBoundary     QueryType = "timeBoundary"
	TypeSegmentMetadata  QueryType = "segmentMetadata"
)

// DataSource names what a query reads from: a bare table name, or (for the
// nested-group-by rewrite, spec §4.4) a nested query.
type DataSource struct {
	Type  string `json:"type"` // "table" | "query"
	Name  string `json:"name,omitempty"`
	Query *Document `json:"query,omitempty"`
}

// Document is the union of all shape-specific fields. Only the fields
// documented in spec §4 for a given QueryType are ever populated and
// marshaled for that shape — unknown/irrelevant fields are omitted via
// `omitempty` (spec §6: "unknown fields must never be emitted").
type Document struct {
	QueryType QueryType  `json:"queryType"`
	DataSource *DataSource `json:"dataSource,omitempty"`

	// timeseries / topN / groupBy
	Granularity     *Granularity     `json:"granularity,omitempty"`
	VirtualColumns  []VirtualColumn  `json:"virtualColumns,omitempty"`
	Filter          *Filter          `json:"filter,omitempty"`
	Intervals       []string         `json:"intervals,omitempty"`
	Aggregations    []Aggregation    `json:"aggregations,omitempty"`
	PostAggregations []PostAggregation `json:"postAggregations,omitempty"`
	Context         map[string]any   `json:"context,omitempty"`
	Descending      bool             `json:"descending,omitempty"`

	// topN only
	Dimension *DimensionSpec `json:"dimension,omitempty"`
	Metric    any            `json:"metric,omitempty"`
	Threshold int            `json:"threshold,omitempty"`

	// groupBy only
	Dimensions []DimensionSpec `json:"dimensions,omitempty"`
	Having     *Having         `json:"having,omitempty"`
	LimitSpec  *LimitSpec      `json:"limitSpec,omitempty"`

	// timeBoundary only
	Bound string `json:"bound,omitempty"`

	// scan only
	ResultFormat string   `json:"resultFormat,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Order        string   `json:"order,omitempty"` // backend extension, spec §9 Open Question
	Limit        int      `json:"limit,omitempty"`

	// segmentMetadata only
	AnalysisTypes []string `json:"analysisTypes,omitempty"`
}

// Granularity is the time-bucket spec attached to timeseries/groupBy queries
// (spec §4.1's splitExpressionToGranularityInflater).
type Granularity struct {
	Type     string `json:"type"` // "none" | "period"
	Period   string `json:"period,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// VirtualColumn is a backend-computed column defined by a string formula.
type VirtualColumn struct {
	Type       string `json:"type"` // "expression"
	Name       string `json:"name"` // always begins with "v:"
	Expression string `json:"expression"`
	OutputType string `json:"outputType,omitempty"`
}
