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

// Package introspect builds segmentMetadata/timeBoundary protocol payloads
// and interprets their responses into expr.AttributeMap (spec §4.9). The
// requester call itself is an external collaborator (spec §1's "transport
// layer... out of scope"); this package only ever sees already-decoded
// response bytes, grounded on the request/response shape of the teacher's
// QuerierService.getSegmentInfos (promql/querier.go).
package introspect

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

// Depth selects how much the caller wants to learn about a data source
// (spec §4.9).
type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthMedium  Depth = "medium"
	DepthDeep    Depth = "deep"
)

// Requester issues one native query document and returns its raw JSON
// response body. It is the same requester capability the Planner's caller
// supplies (spec §3's "requester capability that issues queries and yields
// row streams"), narrowed here to a single decoded-bytes round trip since
// introspection queries aren't streamed.
type Requester func(ctx context.Context, doc *query.Document) ([]byte, error)

// defaultIntervals covers effectively all time; a caller that wants a
// narrower introspection window passes one via Options.
const defaultIntervals = "0000-01-01T00:00:00.000Z/3000-01-01T00:00:00.000Z"

// Options supplements the bare (source, depth) pair with the rest of the
// segmentMetadata request's knobs.
type Options struct {
	Intervals []string // defaults to defaultIntervals when empty
}

// opaqueNativeTypes names column types segmentMetadata reports that carry no
// directly queryable scalar value (spec §4.9's "opaque metric types").
var opaqueNativeTypes = map[string]bool{
	"hyperUnique":            true,
	"approximateHistogram":   true,
	"thetaSketch":            true,
	"quantilesDoublesSketch": true,
	"HLLSketchMerge":         true,
	"variance":               true,
}

// Introspect issues a segmentMetadata query against source (and, for deep
// introspection, a timeBoundary follow-up when needed) and interprets the
// response into an AttributeMap the Planner can plan against.
func Introspect(ctx context.Context, req Requester, source string, depth Depth, opts Options) (expr.AttributeMap, error) {
	reqID := uuid.New()
	log := slog.With("introspectRequestID", reqID.String(), "source", source, "depth", string(depth))

	doc := segmentMetadataDocument(source, depth, opts)
	body, err := req(ctx, doc)
	if err != nil {
		return nil, err
	}

	var resp []segmentMetadataEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, expr.NewInvalidResultError("segmentMetadata response: %v", err)
	}

	attrs, warnings := interpretSegmentMetadata(resp)
	if warnings.ErrorOrNil() != nil {
		log.Warn("segmentMetadata column interpretation warnings", "warnings", warnings.ErrorOrNil())
	}

	timeAttr, ok := attrs["__time"]
	if !ok {
		return nil, expr.NewInvalidResultError("segmentMetadata response for %q has no __time column", source)
	}

	if depth == DepthDeep && timeAttr.Range == nil {
		rng, err := fetchTimeBoundary(ctx, req, source, opts)
		if err != nil {
			// Swallowed per spec §4.9: the deep-introspection time-boundary
			// follow-up is the one suspension point whose failure doesn't
			// propagate.
			log.Warn("timeBoundary follow-up failed, continuing without a time range", "err", err)
		} else {
			timeAttr.Range = rng
			attrs["__time"] = timeAttr
		}
	}

	return attrs, nil
}

func segmentMetadataDocument(source string, depth Depth, opts Options) *query.Document {
	intervals := opts.Intervals
	if len(intervals) == 0 {
		intervals = []string{defaultIntervals}
	}
	analysisTypes := []string{"aggregators"}
	switch depth {
	case DepthMedium:
		analysisTypes = append(analysisTypes, "cardinality")
	case DepthDeep:
		analysisTypes = append(analysisTypes, "cardinality", "minmax")
	}
	return &query.Document{
		QueryType:     query.TypeSegmentMetadata,
		DataSource:    &query.DataSource{Type: "table", Name: source},
		Intervals:     intervals,
		AnalysisTypes: analysisTypes,
	}
}

func fetchTimeBoundary(ctx context.Context, req Requester, source string, opts Options) (*expr.Range, error) {
	doc := &query.Document{
		QueryType:  query.TypeTimeBoundary,
		DataSource: &query.DataSource{Type: "table", Name: source},
	}
	body, err := req(ctx, doc)
	if err != nil {
		return nil, err
	}
	var resp []timeBoundaryEntry
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, expr.NewInvalidResultError("timeBoundary response: %v", err)
	}
	if len(resp) == 0 {
		return nil, expr.NewInvalidResultError("timeBoundary response for %q is empty", source)
	}
	return &expr.Range{Min: resp[0].Result.MinTime, Max: resp[0].Result.MaxTime}, nil
}

// interpretSegmentMetadata folds every entry's column map into one
// AttributeMap (segmentMetadata may return one entry per segment; columns
// agreeing across entries just overwrite with the latest, matching the
// backend's own "merged" semantics when analysisTypes includes 'merge'-style
// fields). Column-level problems (a column carrying an errorMessage, an
// unrecognized native type) are collected rather than aborting the whole response,
// mirroring the multi-cause accumulation in lrdb/metric_seg.go.
func interpretSegmentMetadata(entries []segmentMetadataEntry) (expr.AttributeMap, *multierror.Error) {
	attrs := expr.AttributeMap{}
	var warnings *multierror.Error

	for _, entry := range entries {
		for name, col := range entry.Columns {
			if col.ErrorMessage != "" {
				warnings = multierror.Append(warnings, expr.NewInvalidResultError("column %q: %s", name, col.ErrorMessage))
				continue
			}
			info, ok := interpretColumn(name, col, entry.Aggregators[name])
			if !ok {
				warnings = multierror.Append(warnings, expr.NewInvalidResultError("column %q: unrecognized native type %q", name, col.Type))
				continue
			}
			attrs[name] = info
		}
	}
	return attrs, warnings
}

func interpretColumn(name string, col columnAnalysis, agg query.Aggregation) (expr.AttributeInfo, bool) {
	if name == "__time" {
		return expr.AttributeInfo{Name: name, Type: expr.TypeTime, NativeType: "__time", Range: minMaxRange(col)}, true
	}

	if opaqueNativeTypes[col.Type] {
		return expr.AttributeInfo{Name: name, Type: expr.TypeNull, NativeType: col.Type, Unsplitable: true}, true
	}

	switch col.Type {
	case "STRING":
		info := expr.AttributeInfo{Name: name, Type: expr.TypeString, NativeType: "STRING", Cardinality: col.Cardinality}
		if col.HasMultipleValues {
			info.Type = expr.SetOf(expr.TypeString)
		}
		return info, true

	case "LONG", "FLOAT", "DOUBLE":
		return expr.AttributeInfo{
			Name:       name,
			Type:       expr.TypeNumber,
			NativeType: col.Type,
			Maker:      inferMaker(agg),
			Range:      minMaxRange(col),
		}, true

	default:
		return expr.AttributeInfo{}, false
	}
}

func minMaxRange(col columnAnalysis) *expr.Range {
	if col.MinValue == nil && col.MaxValue == nil {
		return nil
	}
	return &expr.Range{Min: col.MinValue, Max: col.MaxValue}
}

// inferMaker reads the maker rules spec §4.9 names off one aggregator spec:
// longSum over a field literally named "count" is really a count(); plain
// longSum/doubleSum is a sum(); an identity-combiner javascript aggregator is
// also a sum(); min/max aggregator types map directly.
func inferMaker(agg query.Aggregation) *expr.Maker {
	switch agg.Type {
	case "":
		return nil
	case "longSum":
		if agg.FieldName == "count" {
			return &expr.Maker{Kind: "count"}
		}
		return &expr.Maker{Kind: "sum", FieldName: agg.FieldName}
	case "doubleSum", "floatSum":
		return &expr.Maker{Kind: "sum", FieldName: agg.FieldName}
	case "longMin", "doubleMin", "floatMin":
		return &expr.Maker{Kind: "min", FieldName: agg.FieldName}
	case "longMax", "doubleMax", "floatMax":
		return &expr.Maker{Kind: "max", FieldName: agg.FieldName}
	case "javascript":
		if isIdentityCombiner(agg.FnCombine) {
			return &expr.Maker{Kind: "sum"}
		}
		return nil
	default:
		return nil
	}
}

// isIdentityCombiner recognizes the "return a+b" shape of a pure-sum
// javascript combiner without attempting to actually evaluate the function
// body — a substring check on its most distinguishing operator is enough to
// separate a sum-equivalent combiner from anything else a custom aggregator
// might do.
func isIdentityCombiner(fnCombine string) bool {
	return fnCombine != "" && strings.Contains(fnCombine, "+")
}
