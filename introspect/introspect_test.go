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

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

const segmentMetadataFixture = `[{
	"id": "seg1",
	"columns": {
		"__time": {"type": "LONG"},
		"country": {"type": "STRING", "cardinality": 12},
		"tags": {"type": "STRING", "hasMultipleValues": true},
		"revenue": {"type": "DOUBLE"},
		"hits": {"type": "LONG"},
		"user_id": {"type": "hyperUnique"},
		"broken": {"type": "STRING", "errorMessage": "analysis failed"}
	},
	"aggregators": {
		"revenue": {"type": "doubleSum", "name": "revenue", "fieldName": "revenue"},
		"hits": {"type": "longSum", "name": "hits", "fieldName": "count"}
	}
}]`

func fixedRequester(t *testing.T, segmentMetadataBody, timeBoundaryBody string) Requester {
	return func(ctx context.Context, doc *query.Document) ([]byte, error) {
		switch doc.QueryType {
		case query.TypeSegmentMetadata:
			return []byte(segmentMetadataBody), nil
		case query.TypeTimeBoundary:
			return []byte(timeBoundaryBody), nil
		default:
			t.Fatalf("unexpected query type %q", doc.QueryType)
			return nil, nil
		}
	}
}

func TestIntrospectShallowBuildsAttributeMap(t *testing.T) {
	req := fixedRequester(t, segmentMetadataFixture, `[]`)

	attrs, err := Introspect(context.Background(), req, "sales", DepthShallow, Options{})
	require.NoError(t, err)

	timeAttr, ok := attrs["__time"]
	require.True(t, ok)
	require.Equal(t, expr.TypeTime, timeAttr.Type)
	require.Equal(t, "__time", timeAttr.NativeType)

	country := attrs["country"]
	require.Equal(t, expr.TypeString, country.Type)
	require.NotNil(t, country.Cardinality)
	require.Equal(t, int64(12), *country.Cardinality)

	tags := attrs["tags"]
	require.Equal(t, expr.SetOf(expr.TypeString), tags.Type)

	revenue := attrs["revenue"]
	require.Equal(t, expr.TypeNumber, revenue.Type)
	require.NotNil(t, revenue.Maker)
	require.Equal(t, "sum", revenue.Maker.Kind)

	hits := attrs["hits"]
	require.NotNil(t, hits.Maker)
	require.Equal(t, "count", hits.Maker.Kind)

	userID := attrs["user_id"]
	require.Equal(t, expr.TypeNull, userID.Type)
	require.True(t, userID.Unsplitable)

	_, ok = attrs["broken"]
	require.False(t, ok, "column with errorMessage should be dropped, not surfaced")
}

func TestIntrospectMissingTimeColumnFails(t *testing.T) {
	req := fixedRequester(t, `[{"columns": {"revenue": {"type": "DOUBLE"}}}]`, `[]`)

	_, err := Introspect(context.Background(), req, "sales", DepthShallow, Options{})
	require.Error(t, err)
}

func TestIntrospectDeepFetchesTimeBoundaryWhenRangeMissing(t *testing.T) {
	req := fixedRequester(t, segmentMetadataFixture, `[{
		"timestamp": "2024-01-01T00:00:00.000Z",
		"result": {"minTime": "2024-01-01T00:00:00.000Z", "maxTime": "2024-02-01T00:00:00.000Z"}
	}]`)

	attrs, err := Introspect(context.Background(), req, "sales", DepthDeep, Options{})
	require.NoError(t, err)

	timeAttr := attrs["__time"]
	require.NotNil(t, timeAttr.Range)
	require.Equal(t, "2024-01-01T00:00:00.000Z", timeAttr.Range.Min)
	require.Equal(t, "2024-02-01T00:00:00.000Z", timeAttr.Range.Max)
}

func TestIntrospectDeepSwallowsTimeBoundaryFailure(t *testing.T) {
	req := func(ctx context.Context, doc *query.Document) ([]byte, error) {
		switch doc.QueryType {
		case query.TypeSegmentMetadata:
			return []byte(segmentMetadataFixture), nil
		case query.TypeTimeBoundary:
			return nil, errors.New("backend unavailable")
		default:
			t.Fatalf("unexpected query type %q", doc.QueryType)
			return nil, nil
		}
	}

	attrs, err := Introspect(context.Background(), req, "sales", DepthDeep, Options{})
	require.NoError(t, err, "timeBoundary follow-up failure must be swallowed, not propagated")
	require.Nil(t, attrs["__time"].Range)
}

func TestSegmentMetadataDocumentAnalysisTypesByDepth(t *testing.T) {
	shallow := segmentMetadataDocument("sales", DepthShallow, Options{})
	require.Equal(t, []string{"aggregators"}, shallow.AnalysisTypes)

	medium := segmentMetadataDocument("sales", DepthMedium, Options{})
	require.Equal(t, []string{"aggregators", "cardinality"}, medium.AnalysisTypes)

	deep := segmentMetadataDocument("sales", DepthDeep, Options{})
	require.Equal(t, []string{"aggregators", "cardinality", "minmax"}, deep.AnalysisTypes)
}
