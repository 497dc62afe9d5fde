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

import (
	"strings"
	"time"
)

// Mode classifies what shape of result an External is asking for (spec §4.1).
type Mode string

const (
	ModeRaw   Mode = "raw"
	ModeValue Mode = "value"
	ModeTotal Mode = "total"
	ModeSplit Mode = "split"
)

// QuerySelection constrains which native shapes the planner may choose
// (spec §4.1's querySelection capability flag).
type QuerySelection string

const (
	QuerySelectionAny          QuerySelection = "any"
	QuerySelectionGroupByOnly  QuerySelection = "group-by-only"
)

// External is the planner's receiver: an immutable configuration snapshot
// for one planning pass (spec §3).
type External struct {
	Mode             Mode
	Source           string
	Filter           *Expression
	Split            *Expression // KindSplit
	Applies          []ApplyExpr
	ValueExpression  *Expression
	Sort             *Expression // KindSort
	Limit            *Expression // KindLimit
	HavingFilter     *Expression
	DerivedAttrs     map[string]Expression
	RawAttributes    []AttributeInfo
	Select           []string
	Context          map[string]any
	TimeAttribute    string
	CustomAggregations map[string]any
	CustomTransforms   map[string]any
	AllowEternity      bool
	AllowSelectQueries bool
	ExactResultsOnly   bool
	QuerySelection     QuerySelection

	// TimeShift supplements spec.md (SPEC_FULL §3): a query-level time shift
	// that the post-transform subtracts from a time value in the first output
	// column. The planner does not shift the emitted intervals or filter.
	// Zero by default and a no-op when zero.
	TimeShift time.Duration

	Attributes AttributeLookup
}

// QueryContext carries requester/inflater hints alongside the native query
// document (spec §3).
type QueryContext struct {
	Timestamp    string
	IgnorePrefix string // "!"
	DummyPrefix  string // "***"
}

// QueryAndPostTransform is the Planner's output (spec §3).
type QueryAndPostTransform struct {
	Query         any // backend-specific document; concrete type lives in package query
	Context       QueryContext
	PostTransform RowTransform

	// PlanID supplements spec.md: a stable content hash of the plan, purely
	// additive bookkeeping for callers that want to dedupe/cache (SPEC_FULL,
	// "stable content-addressed identifiers"). The planner never reads it.
	PlanID string
}

// RawRow is one row as returned by the backend requester, before inflation.
type RawRow map[string]any

// Datum is one algebra-typed output row.
type Datum map[string]any

// RowTransform is a streaming row transform: it consumes raw backend rows
// one at a time and yields algebra-typed Datums. Built from an ordered list
// of column inflaters plus the selected-attribute/split-key name lists
// (spec §3).
type RowTransform struct {
	Inflaters  []ColumnInflater
	OutputCols []string
	TimeShift  time.Duration

	// DummyPrefix is the "***" a split/output name beginning with "__" was
	// rewritten to before reaching the native query (spec §4.2, §8; mirrors
	// QueryContext.DummyPrefix). Apply restores it back to "__" when keying
	// the emitted Datum.
	DummyPrefix string
}

// ColumnInflater coerces one raw column value into its algebra-typed form.
// Inflaters are total functions: an unrecognized raw value yields a typed
// null rather than an error (spec §7).
type ColumnInflater struct {
	Name string

	// From, when non-empty, names the raw column(s) to read instead of Name,
	// tried in order and falling through to the next on a missing key (spec
	// §4.7's maxIngestedEventTime||maxTime timeBoundary fallback). Name is
	// still what the resulting Datum is keyed by.
	From []string

	Inflate func(raw any) any
}

// Apply converts one raw row into a Datum. It never buffers more than one
// row (spec §5 backpressure requirement).
func (t RowTransform) Apply(raw RawRow) Datum {
	out := make(Datum, len(t.Inflaters))
	for _, inf := range t.Inflaters {
		out[t.restoreName(inf.Name)] = inf.Inflate(rawValue(raw, inf))
	}
	if t.TimeShift != 0 {
		if ts, ok := out[timeShiftColumn(t)]; ok {
			if tm, ok := ts.(time.Time); ok {
				out[timeShiftColumn(t)] = tm.Add(-t.TimeShift)
			}
		}
	}
	return out
}

// restoreName strips t.DummyPrefix from name, restoring the "__" it replaced
// (spec §4.2's "__"→"***" output-name rewrite is stripped back out by the
// post-transform). A no-op when DummyPrefix is unset or name doesn't carry it.
func (t RowTransform) restoreName(name string) string {
	if t.DummyPrefix == "" || !strings.HasPrefix(name, t.DummyPrefix) {
		return name
	}
	return "__" + name[len(t.DummyPrefix):]
}

// rawValue resolves the raw value for one inflater: the first present key
// among From, or raw[inf.Name] when From is empty.
func rawValue(raw RawRow, inf ColumnInflater) any {
	for _, key := range inf.From {
		if v, ok := raw[key]; ok {
			return v
		}
	}
	if len(inf.From) > 0 {
		return nil
	}
	return raw[inf.Name]
}

func timeShiftColumn(t RowTransform) string {
	if len(t.OutputCols) > 0 {
		return t.OutputCols[0]
	}
	return ""
}

// Stream applies t to every row pulled from in, emitting one Datum per row,
// without buffering — the Go analog of the teacher's object-mode stream
// transform (spec §5, §9 "Streaming post-transform").
func (t RowTransform) Stream(in <-chan RawRow) <-chan Datum {
	out := make(chan Datum)
	go func() {
		defer close(out)
		for row := range in {
			out <- t.Apply(row)
		}
	}()
	return out
}
