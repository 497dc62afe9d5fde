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

package query

// Aggregation is one native aggregator spec (spec §4.3).
type Aggregation struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	FieldName string `json:"fieldName,omitempty"`

	// filtered aggregators wrap a delegate with a Filter.
	Aggregator *Aggregation `json:"aggregator,omitempty"`
	Filter     *Filter      `json:"filter,omitempty"`

	// cardinality
	Fields      []string `json:"fields,omitempty"`
	ByRow       bool     `json:"byRow,omitempty"`

	// quantile sketches
	K int `json:"k,omitempty"`

	// javascript / custom
	FieldNames []string `json:"fieldNames,omitempty"`
	FnAggregate string  `json:"fnAggregate,omitempty"`
	FnCombine   string  `json:"fnCombine,omitempty"`
	FnReset     string  `json:"fnReset,omitempty"`

	// Finalize forces a sketch-typed aggregator to resolve to its finalized
	// scalar value before leaving the query it's computed in (spec §4.4's
	// forceFinalize, needed by the inner query of a nested group-by rewrite).
	Finalize bool `json:"finalize,omitempty"`
}

// PostAggregation is a derived column computed from aggregator/other
// post-aggregator outputs (spec §4.3).
type PostAggregation struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`

	// arithmetic
	Fn     string            `json:"fn,omitempty"` // "+","-","*","pow","abs","log" (division is the safeDivide type)
	Fields []PostAggregation `json:"fields,omitempty"`

	// fieldAccess
	FieldName string `json:"fieldName,omitempty"`

	// constant
	Value any `json:"value,omitempty"`
}

// FieldAccessor builds a fieldAccess post-aggregation input referencing an
// aggregation or another post-aggregation output name.
func FieldAccessor(name string) PostAggregation {
	return PostAggregation{Type: "fieldAccess", FieldName: name}
}
