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

// DimensionSpec names one group-by dimension: a bare column, an extraction
// over a column, or a filtered delegate (spec §4.2).
type DimensionSpec struct {
	Type         string        `json:"type"` // "default" | "extraction" | "regexFiltered" | "listFiltered"
	Dimension    string        `json:"dimension,omitempty"`
	OutputName   string        `json:"outputName,omitempty"`
	OutputType   string        `json:"outputType,omitempty"` // "STRING" | "LONG" | "DOUBLE"
	ExtractionFn *ExtractionFn `json:"extractionFn,omitempty"`

	// regexFiltered / listFiltered only: wrap another DimensionSpec.
	Delegate    *DimensionSpec `json:"delegate,omitempty"`
	Pattern     string         `json:"pattern,omitempty"`
	Values      []string       `json:"values,omitempty"`
	IsWhitelist bool           `json:"isWhitelist,omitempty"`
}

// ExtractionFn is a dimension-time transform the backend applies before
// grouping: lookup, substring, regex, bucket, time-format, or cascade
// (spec §4.1, GLOSSARY).
type ExtractionFn struct {
	Type string `json:"type"`

	// lookup
	LookupMap map[string]string `json:"lookupMap,omitempty"`
	Lookup    string            `json:"lookup,omitempty"`

	// substring
	Index  int  `json:"index,omitempty"`
	Length *int `json:"length,omitempty"`

	// regex
	Expr         string `json:"expr,omitempty"`
	ReplaceWith  string `json:"replaceMissingValue,omitempty"`

	// bucket (numeric)
	Size   float64 `json:"size,omitempty"`
	Offset float64 `json:"offset,omitempty"`

	// timeFormat
	Format   string `json:"format,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
	Granularity *Granularity `json:"granularity,omitempty"`

	// cascade
	ExtractionFns []ExtractionFn `json:"extractionFns,omitempty"`
}
