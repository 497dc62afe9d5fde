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

// Children returns the immediate child expressions of e, generalizing the
// teacher's per-kind dispatch (exec_planner.go's Compile switch) into a
// single reusable walker used by FreeReferences, ContainsFilterOverRef,
// ContainsThen, and others.
func Children(e Expression) []Expression {
	switch e.Kind {
	case KindFilter:
		return []Expression{e.Filter.Operand, e.Filter.Expression}
	case KindSplit:
		out := []Expression{e.Split.Operand}
		for _, k := range e.Split.Keys {
			out = append(out, k.Expression)
		}
		return out
	case KindApply:
		return []Expression{e.Apply.Operand, e.Apply.Expression}
	case KindSort:
		return []Expression{e.Sort.Operand}
	case KindLimit:
		return []Expression{e.Limit.Operand}
	case KindTimeBucket, KindTimeFloor:
		return []Expression{e.TimeBucket.Operand}
	case KindNumberBucket:
		return []Expression{e.NumberBkt.Operand}
	case KindCast:
		return []Expression{e.Cast.Operand}
	case KindThen:
		return []Expression{e.Then.Operand, e.Then.Expression}
	case KindFallback:
		return []Expression{e.Fallback.Operand, e.Fallback.Expression}
	case KindArithmetic:
		return []Expression{e.Arithmetic.LHS, e.Arithmetic.RHS}
	case KindAggregate:
		return []Expression{e.Aggregate.Operand}
	case KindBoolean:
		return e.Boolean.Operands
	case KindComparison:
		return []Expression{e.Comparison.LHS, e.Comparison.RHS}
	case KindMatch:
		return []Expression{e.Match.Operand}
	case KindContains:
		return []Expression{e.Contains.Operand}
	case KindIs:
		return []Expression{e.Is.Operand}
	case KindIn:
		return []Expression{e.In.Operand}
	case KindCardinality:
		if e.Operand != nil {
			return []Expression{*e.Operand}
		}
	case KindSubstring:
		return []Expression{e.Substring.Operand}
	case KindLookup:
		return []Expression{e.Lookup.Operand}
	case KindIsTrue:
		if e.Operand != nil {
			return []Expression{*e.Operand}
		}
	}
	return nil
}

// FreeReferences collects every Ref with Nest==0 reachable from e, in
// first-seen order, deduplicated by name.
func FreeReferences(e Expression) []RefExpr {
	var out []RefExpr
	seen := map[string]bool{}
	var walk func(Expression)
	walk = func(n Expression) {
		if n.Kind == KindRef && n.Ref != nil && n.Ref.Nest == 0 {
			if !seen[n.Ref.Name] {
				seen[n.Ref.Name] = true
				out = append(out, *n.Ref)
			}
			return
		}
		for _, c := range Children(n) {
			walk(c)
		}
	}
	walk(e)
	return out
}

// ContainsFilterOverRef reports whether e contains a filter expression whose
// predicate mentions ref (used by topNCompatibleSort, spec §4.1).
func ContainsFilterOverRef(e Expression, refName string) bool {
	found := false
	var walk func(Expression)
	walk = func(n Expression) {
		if found {
			return
		}
		if n.Kind == KindFilter {
			for _, r := range FreeReferences(n.Filter.Expression) {
				if r.Name == refName {
					found = true
					return
				}
			}
		}
		for _, c := range Children(n) {
			walk(c)
		}
	}
	walk(e)
	return found
}

// ContainsThen reports whether e contains a "then" fallback-chain node
// anywhere in its tree (spec §4.2 step 2).
func ContainsThen(e Expression) bool {
	if e.Kind == KindThen {
		return true
	}
	for _, c := range Children(e) {
		if ContainsThen(c) {
			return true
		}
	}
	return false
}

// IsAggregateKind reports whether e's Kind is one that directly aggregates a
// dataset down to a scalar, the Go analog of the teacher's isAggregate()
// predicate on variant tag (spec §9).
func IsAggregateKind(e Expression) bool {
	return e.Kind == KindAggregate
}
