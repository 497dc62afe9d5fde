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

// Package extract is the ExtractionFnBuilder (spec §2, §4.1's ~10%
// component): maps a scalar expression chained over a single column
// reference into a dimension-extraction function (lookup, substring, regex,
// bucket, time-format, cascade). It refuses any expression shape it cannot
// represent natively by returning an error rather than guessing, mirroring
// the teacher's per-op dispatch style (UnaryNode/ScalarNode, one function per
// op) in promql/scalar_node.go.
package extract

import (
	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

// Build walks e from the outermost node down to its underlying Ref,
// collecting one ExtractionFn per recognized node. Every node between e and
// the Ref must be one of the recognized shapes; the chain is returned
// outermost-last (the order a cascade extraction function applies them),
// along with the name of the underlying column.
func Build(e expr.Expression) (column string, fn *query.ExtractionFn, err error) {
	var chain []query.ExtractionFn
	cur := e
	for {
		switch cur.Kind {
		case expr.KindRef:
			switch len(chain) {
			case 0:
				return cur.Ref.Name, nil, nil
			case 1:
				return cur.Ref.Name, &chain[0], nil
			default:
				// Reverse so the innermost transform runs first.
				rev := make([]query.ExtractionFn, len(chain))
				for i, f := range chain {
					rev[len(chain)-1-i] = f
				}
				return cur.Ref.Name, &query.ExtractionFn{Type: "cascade", ExtractionFns: rev}, nil
			}

		case expr.KindSubstring:
			chain = append(chain, query.ExtractionFn{
				Type:   "substring",
				Index:  cur.Substring.Index,
				Length: cur.Substring.Length,
			})
			cur = cur.Substring.Operand

		case expr.KindLookup:
			chain = append(chain, query.ExtractionFn{
				Type:      "lookup",
				LookupMap: cur.Lookup.Map,
				Lookup:    cur.Lookup.ReplaceMissingWith,
			})
			cur = cur.Lookup.Operand

		case expr.KindMatch:
			chain = append(chain, query.ExtractionFn{
				Type: "regex",
				Expr: cur.Match.Regex,
			})
			cur = cur.Match.Operand

		case expr.KindNumberBucket:
			chain = append(chain, query.ExtractionFn{
				Type:   "bucket",
				Size:   cur.NumberBkt.Size,
				Offset: cur.NumberBkt.Offset,
			})
			cur = cur.NumberBkt.Operand

		case expr.KindTimeBucket, expr.KindTimeFloor:
			chain = append(chain, query.ExtractionFn{
				Type:        "timeFormat",
				Format:      "",
				TimeZone:    timeZoneOrUTC(cur.TimeBucket.TimeZone),
				Granularity: &query.Granularity{Type: "period", Period: cur.TimeBucket.Period, TimeZone: timeZoneOrUTC(cur.TimeBucket.TimeZone)},
			})
			cur = cur.TimeBucket.Operand

		default:
			return "", nil, expr.NewUnsupportedExpressionError("extraction function cannot represent expression of kind %q", cur.Kind)
		}
	}
}

func timeZoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
