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

// Filter is the native residual-dimension filter (spec §4.8). Boolean
// connectives hold child Filters; leaf filters constrain one dimension.
type Filter struct {
	Type string `json:"type"`

	// and / or / not
	Fields []Filter `json:"fields,omitempty"`
	Field  *Filter  `json:"field,omitempty"`

	// selector / bound / in / regex
	Dimension    string   `json:"dimension,omitempty"`
	Value        any      `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	ExtractionFn *ExtractionFn `json:"extractionFn,omitempty"`

	Lower       any  `json:"lower,omitempty"`
	Upper       any  `json:"upper,omitempty"`
	LowerStrict bool `json:"lowerStrict,omitempty"`
	UpperStrict bool `json:"upperStrict,omitempty"`
	Ordering    string `json:"ordering,omitempty"` // "numeric" | "lexicographic"
}

// Having is the post-aggregation having filter (spec §4.2, §4.5).
type Having struct {
	Type   string   `json:"type"`
	Fields []Having `json:"fields,omitempty"`
	Field  *Having  `json:"field,omitempty"`

	Aggregation string `json:"aggregation,omitempty"`
	Value       any    `json:"value,omitempty"`
}

// IsTrivialTrue reports whether h is the `TRUE` having (nil or an empty
// "always" filter), meaning no having needs to be emitted.
func IsTrivialTrue(h *Having) bool {
	return h == nil || h.Type == "always"
}
