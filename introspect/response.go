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

package introspect

import "github.com/driftlake/qplan/query"

// segmentMetadataEntry is one element of a segmentMetadata response array,
// JSON-tagged the way promql/eval_types.go tags result structs.
type segmentMetadataEntry struct {
	ID          string                    `json:"id,omitempty"`
	Columns     map[string]columnAnalysis `json:"columns"`
	Aggregators map[string]query.Aggregation `json:"aggregators,omitempty"`
	Size        int64                     `json:"size,omitempty"`
	NumRows     int64                     `json:"numRows,omitempty"`
}

// columnAnalysis is one column's entry in a segmentMetadata response.
type columnAnalysis struct {
	Type              string `json:"type"`
	HasMultipleValues bool   `json:"hasMultipleValues,omitempty"`
	Size              int64  `json:"size,omitempty"`
	Cardinality       *int64 `json:"cardinality,omitempty"`
	MinValue          any    `json:"minValue,omitempty"`
	MaxValue          any    `json:"maxValue,omitempty"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
}

// timeBoundaryEntry is the single-element response shape a timeBoundary
// query returns.
type timeBoundaryEntry struct {
	Timestamp string `json:"timestamp"`
	Result    struct {
		MinTime string `json:"minTime"`
		MaxTime string `json:"maxTime"`
	} `json:"result"`
}
