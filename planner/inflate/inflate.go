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

// Package inflate decodes sketch-typed raw column values the backend hands
// back when an aggregate was planned with forceFinalize=false and therefore
// left as a mergeable sketch rather than a finalized scalar (planner's
// applyInflater routes every countDistinct/quantile apply without
// ForceFinalize here; the nested group-by inner query, spec §4.4, sets
// ForceFinalize and so never needs this).
// The decode paths are grounded on the teacher's DDSketch/HyperLogLog merge
// branches in promql/agg_node.go, generalized from in-process merging across
// result rows to one-shot decode of a single backend-returned sketch value.
package inflate

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/DataDog/sketches-go/ddsketch"
	sketchpb "github.com/DataDog/sketches-go/ddsketch/pb/sketchpb"
	"github.com/axiomhq/hyperloglog"
)

// QuantileSketch decodes a serialized DDSketch payload (protobuf-encoded,
// optionally base64-wrapped by the transport) and returns its value at
// quantile q (0 < q < 1).
func QuantileSketch(raw any, q float64) (float64, error) {
	b, err := sketchBytes(raw)
	if err != nil {
		return 0, err
	}
	var pb sketchpb.DDSketch
	if err := proto.Unmarshal(b, &pb); err != nil {
		return 0, fmt.Errorf("unmarshal quantile sketch: %w", err)
	}
	sk, err := ddsketch.FromProto(&pb)
	if err != nil {
		return 0, fmt.Errorf("decode quantile sketch: %w", err)
	}
	return sk.GetValueAtQuantile(q)
}

// Cardinality decodes a base64-encoded HyperLogLog payload and returns its
// estimated distinct count.
func Cardinality(raw any) (uint64, error) {
	b, err := sketchBytes(raw)
	if err != nil {
		return 0, err
	}
	sk := hyperloglog.New14()
	if err := sk.UnmarshalBinary(b); err != nil {
		return 0, fmt.Errorf("decode hyperUnique sketch: %w", err)
	}
	return sk.Estimate(), nil
}

func sketchBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode sketch payload: %w", err)
		}
		return b, nil
	case nil:
		return nil, fmt.Errorf("sketch column is null")
	default:
		return nil, fmt.Errorf("sketch column has unexpected type %T", v)
	}
}
