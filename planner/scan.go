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
	"sort"

	"github.com/driftlake/qplan/expr"
	"github.com/driftlake/qplan/planner/lower"
	"github.com/driftlake/qplan/query"
)

// scanResult is everything planScan produces beyond the Document itself:
// the inflaters needed to decode each selected column.
type scanResult struct {
	Doc       query.Document
	Inflaters []expr.ColumnInflater
}

// planScan lowers raw mode into a native scan query (spec §4.6): every
// derived attribute becomes a virtual column, __time-renamed or computed
// attributes included, and Select (when non-empty) restricts the native
// column list; otherwise every known attribute plus __time is selected.
func planScan(ext *expr.External, scope *expr.ScopeStack) (*scanResult, error) {
	res := &scanResult{Doc: query.Document{
		QueryType:    query.TypeScan,
		ResultFormat: "compactedList",
		DataSource:   &query.DataSource{Type: "table", Name: ext.Source},
	}}

	vcSeq := 0
	columns := ext.Select
	if len(columns) == 0 {
		columns = scanAllColumns(ext)
	}

	for _, col := range columns {
		derived, isDerived := ext.DerivedAttrs[col]
		if !isDerived {
			res.Doc.Columns = append(res.Doc.Columns, col)
			res.Inflaters = append(res.Inflaters, expr.ColumnInflater{Name: col, Inflate: simpleInflate(attrType(ext, col))})
			continue
		}
		formula, err := lower.Lower(derived, scope)
		if err != nil {
			return nil, expr.NewUnsupportedExpressionError("scan column %q: %v", col, err)
		}
		vcSeq++
		vcName := virtualColumnName(col, vcSeq)
		res.Doc.VirtualColumns = append(res.Doc.VirtualColumns, query.VirtualColumn{
			Type:       "expression",
			Name:       vcName,
			Expression: formula,
			OutputType: nativeOutputType(derived.Type),
		})
		res.Doc.Columns = append(res.Doc.Columns, vcName)
		res.Inflaters = append(res.Inflaters, inflaterFor(col, derived))
	}

	if ext.Sort != nil {
		if ext.Sort.Sort.RefName != ext.TimeAttribute {
			return nil, expr.NewUnsupportedExpressionError("scan can only be time-sorted")
		}
		res.Doc.Order = direction(ext.Sort.Sort.Descending)
	}
	if ext.Limit != nil {
		res.Doc.Limit = ext.Limit.Limit.Value
	}
	return res, nil
}

func scanAllColumns(ext *expr.External) []string {
	cols := []string{ext.TimeAttribute}
	for _, a := range ext.RawAttributes {
		if a.Name != ext.TimeAttribute {
			cols = append(cols, a.Name)
		}
	}
	derived := make([]string, 0, len(ext.DerivedAttrs))
	for name := range ext.DerivedAttrs {
		derived = append(derived, name)
	}
	sort.Strings(derived)
	cols = append(cols, derived...)
	return cols
}

func attrType(ext *expr.External, name string) expr.Type {
	if ext.Attributes != nil {
		if info, ok := ext.Attributes.Attribute(name); ok {
			return info.Type
		}
	}
	return expr.TypeString
}
