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

package planner

import (
	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/query"
)

// timeBoundaryField names one output column of a timeBoundary post-transform:
// the algebra-facing Name to key the Datum by, and the raw column(s) the
// native response may carry it under, tried in order.
type timeBoundaryField struct {
	Name string
	From []string
}

// planTimeBoundary lowers a total/value query whose applies are min/max of
// the time ref into a native timeBoundary query (spec §4.7). The native
// response carries `minTime` and, for a max bound, `maxIngestedEventTime`
// when present else `maxTime` — the post-transform picks the first present
// raw column and renames it to the apply's own output name. Requesting both
// min and max (total mode, two applies) leaves the query unbounded, so the
// backend returns both fields in one round trip.
func planTimeBoundary(ext *expr.External) (query.Document, []timeBoundaryField, error) {
	ops, err := timeBoundaryOps(ext)
	if err != nil {
		return query.Document{}, nil, err
	}

	doc := query.Document{QueryType: query.TypeTimeBoundary, DataSource: &query.DataSource{Type: "table", Name: ext.Source}}
	if len(ops) == 1 {
		doc.Bound = boundFor(ops[0].op)
	}

	fields := make([]timeBoundaryField, len(ops))
	for i, o := range ops {
		fields[i] = timeBoundaryField{Name: o.name, From: rawFieldsFor(o.op)}
	}
	return doc, fields, nil
}

func boundFor(op expr.AggOp) string {
	if op == expr.AggMin {
		return "minTime"
	}
	return "maxTime"
}

func rawFieldsFor(op expr.AggOp) []string {
	if op == expr.AggMin {
		return []string{"minTime"}
	}
	return []string{"maxIngestedEventTime", "maxTime"}
}

type timeBoundaryApply struct {
	name string
	op   expr.AggOp
}

// timeBoundaryOps resolves the one or two min/max-of-time applies a
// timeBoundary shape was chosen for. Value mode and single-apply total mode
// yield one bound; two-apply total mode (one min, one max) yields both,
// which planTimeBoundary reports as unbounded (spec §4.7).
func timeBoundaryOps(ext *expr.External) ([]timeBoundaryApply, error) {
	if ext.Mode == expr.ModeValue && ext.ValueExpression != nil {
		return []timeBoundaryApply{{name: valueOutputName, op: ext.ValueExpression.Aggregate.Op}}, nil
	}
	if ext.Mode == expr.ModeTotal {
		switch len(ext.Applies) {
		case 1:
			return []timeBoundaryApply{{name: ext.Applies[0].Name, op: ext.Applies[0].Expression.Aggregate.Op}}, nil
		case 2:
			a, b := ext.Applies[0], ext.Applies[1]
			opA, opB := a.Expression.Aggregate.Op, b.Expression.Aggregate.Op
			if (opA == expr.AggMin && opB == expr.AggMax) || (opA == expr.AggMax && opB == expr.AggMin) {
				return []timeBoundaryApply{{name: a.Name, op: opA}, {name: b.Name, op: opB}}, nil
			}
		}
	}
	return nil, expr.NewInvalidConfigurationError("timeBoundary requires one or two min/max-of-time applies")
}
