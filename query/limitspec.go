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

// LimitSpec bounds and orders a groupBy query's output rows (spec §4.5).
type LimitSpec struct {
	Type    string             `json:"type"` // "default"
	Limit   int                `json:"limit,omitempty"`
	Columns []OrderByColumnSpec `json:"columns,omitempty"`
}

// OrderByColumnSpec orders by one output column, numerically or
// lexicographically (spec §4.5).
type OrderByColumnSpec struct {
	Dimension string `json:"dimension"`
	Direction string `json:"direction"` // "ascending" | "descending"
	DimensionOrder string `json:"dimensionOrder,omitempty"` // "numeric" | "lexicographic"
}
