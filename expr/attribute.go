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

package expr

// Maker describes how a numeric attribute was rolled up/pre-aggregated so
// the AggregationBuilder can choose the right native aggregator.
type Maker struct {
	// Kind is one of "count", "sum", "min", "max", or "" for a plain metric
	// with no ingestion-time rollup.
	Kind string
	// FieldName names the underlying column the rollup summed/counted, when
	// different from the attribute's own name.
	FieldName string
}

// Range describes a numeric or time attribute's known min/max, populated by
// deep introspection (spec §4.9).
type Range struct {
	Min any
	Max any
}

// AttributeInfo describes one column of a dataset (spec §3).
type AttributeInfo struct {
	Name        string
	Type        Type
	NativeType  string // e.g. "STRING", "LONG", "FLOAT", "DOUBLE", "hyperUnique", "__time"
	Unsplitable bool
	Maker       *Maker
	Cardinality *int64
	Range       *Range
}

// AttributeLookup resolves attribute metadata by name, used by the builders
// to decide aggregator native typing and unsplitable rejections.
type AttributeLookup interface {
	Attribute(name string) (AttributeInfo, bool)
}

// AttributeMap is the simplest AttributeLookup: a read-only snapshot.
type AttributeMap map[string]AttributeInfo

func (m AttributeMap) Attribute(name string) (AttributeInfo, bool) {
	a, ok := m[name]
	return a, ok
}
