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

// Package expr is the algebra's expression tree: a tagged-union node type
// with one populated variant field per Kind. The constructors set the Kind,
// the variant field and the given Type; they do not check the operands' types.
package expr

// Type is the algebra's value type lattice (spec §3).
type Type string

const (
	TypeNull        Type = "NULL"
	TypeBoolean     Type = "BOOLEAN"
	TypeNumber      Type = "NUMBER"
	TypeTime        Type = "TIME"
	TypeString      Type = "STRING"
	TypeNumberRange Type = "NUMBER_RANGE"
	TypeTimeRange   Type = "TIME_RANGE"
	TypeDataset     Type = "DATASET"
)

// SetOf returns the SET/<T> type name for element type t.
func SetOf(t Type) Type { return Type("SET/" + string(t)) }

// IsSetOf reports whether t is a SET/<elem> type and returns elem.
func IsSetOf(t Type) (Type, bool) {
	const prefix = "SET/"
	if len(t) > len(prefix) && string(t[:len(prefix)]) == prefix {
		return Type(t[len(prefix):]), true
	}
	return "", false
}

// Kind discriminates the Expression tagged union.
type Kind string

const (
	KindRef                  Kind = "ref"
	KindLiteral              Kind = "literal"
	KindFilter               Kind = "filter"
	KindSplit                Kind = "split"
	KindApply                Kind = "apply"
	KindSort                 Kind = "sort"
	KindLimit                Kind = "limit"
	KindTimeBucket           Kind = "timeBucket"
	KindTimeFloor            Kind = "timeFloor"
	KindNumberBucket         Kind = "numberBucket"
	KindCast                 Kind = "cast"
	KindThen                 Kind = "then"
	KindFallback             Kind = "fallback"
	KindArithmetic           Kind = "arithmetic"
	KindAggregate            Kind = "aggregate"
	KindCardinality          Kind = "cardinality"
	KindBoolean              Kind = "boolean" // and/or/not connective
	KindComparison           Kind = "comparison"
	KindMatch                Kind = "match" // regex match
	KindContains             Kind = "contains"
	KindIs                   Kind = "is"
	KindIn                   Kind = "in"
	KindIsTrue               Kind = "isTrue" // bare boolean ref used as predicate
	KindSubstring            Kind = "substring"
	KindLookup               Kind = "lookup"
)

// ArithOp enumerates the post-aggregation / scalar arithmetic combinators (spec §4.3).
type ArithOp string

const (
	ArithAdd ArithOp = "add"
	ArithSub ArithOp = "subtract"
	ArithMul ArithOp = "multiply"
	ArithDiv ArithOp = "divide"
	ArithPow ArithOp = "power"
	ArithLog ArithOp = "log"
	ArithAbs ArithOp = "absolute"
)

// CompareOp enumerates scalar comparison operators used in filters/having.
type CompareOp string

const (
	CmpLt  CompareOp = "<"
	CmpLte CompareOp = "<="
	CmpGt  CompareOp = ">"
	CmpGte CompareOp = ">="
)

// BoolOp enumerates boolean connectives.
type BoolOp string

const (
	BoolAnd BoolOp = "and"
	BoolOr  BoolOp = "or"
	BoolNot BoolOp = "not"
)

// AggOp enumerates the aggregate functions an Aggregate expression can carry (spec §4.3).
type AggOp string

const (
	AggCount         AggOp = "count"
	AggSum           AggOp = "sum"
	AggMin           AggOp = "min"
	AggMax           AggOp = "max"
	AggCountDistinct AggOp = "countDistinct"
	AggQuantile      AggOp = "quantile"
	AggCustom        AggOp = "custom"
)

// AggregateOptions is the out-of-band option bag attached to an Aggregate node
// (spec §9 "forceFinalize option propagation").
type AggregateOptions struct {
	ForceFinalize bool
}

// Expression is the tagged-union expression tree node. Exactly one of the
// Kind-specific fields below is populated per Kind, mirroring the teacher's
// Expr/ExprKind pair (promql/parser.go) generalized to this algebra.
type Expression struct {
	Kind Kind
	Type Type

	// Chainable nodes: an operand the node is applied over, plus (for
	// chainable-unary nodes) a single child Expression.
	Operand    *Expression
	Expression *Expression

	Ref        *RefExpr
	Literal    *LiteralExpr
	Filter     *FilterExpr
	Split      *SplitExpr
	Apply      *ApplyExpr
	Sort       *SortExpr
	Limit      *LimitExpr
	TimeBucket *TimeBucketExpr
	NumberBkt  *NumberBucketExpr
	Cast       *CastExpr
	Then       *ThenExpr
	Fallback   *FallbackExpr
	Arithmetic *ArithmeticExpr
	Aggregate  *AggregateExpr
	Boolean    *BooleanExpr
	Comparison *ComparisonExpr
	Match      *MatchExpr
	Contains   *ContainsExpr
	Is         *IsExpr
	In         *InExpr
	Substring  *SubstringExpr
	Lookup     *LookupExpr
}

type RefExpr struct {
	Name       string
	Nest       int
	Type       Type
	IgnoreCase bool
}

type LiteralExpr struct {
	Value any
}

// FilterExpr wraps Operand (the dataset) with a boolean Expression predicate.
type FilterExpr struct {
	Operand    Expression
	Expression Expression
}

// SplitKey names one split-key expression with its output name.
type SplitKey struct {
	Name       string
	Expression Expression
}

type SplitExpr struct {
	Operand Expression
	Keys    []SplitKey
}

// ApplyExpr names an aggregate expression contributing one output column.
type ApplyExpr struct {
	Operand    Expression
	Name       string
	Expression Expression
}

type SortExpr struct {
	Operand    Expression
	RefName    string
	Descending bool
}

type LimitExpr struct {
	Operand Expression
	Value   int
}

type TimeBucketExpr struct {
	Operand  Expression // the time ref
	Period   string     // ISO-8601 duration, e.g. "P1D"
	TimeZone string
}

type NumberBucketExpr struct {
	Operand Expression
	Size    float64
	Offset  float64
}

type CastExpr struct {
	Operand Expression
	To      Type
}

// ThenExpr is the fallback-chain "then" combinator: evaluate Operand, and if
// it is null/undefined fall through to Expression.
type ThenExpr struct {
	Operand    Expression
	Expression Expression
}

type FallbackExpr struct {
	Operand    Expression
	Expression Expression // constant fallback
}

type ArithmeticExpr struct {
	Op  ArithOp
	LHS Expression
	RHS Expression // unused for ArithAbs
}

// AggregateExpr is an aggregate function applied to an operand dataset/column.
type AggregateExpr struct {
	Op         AggOp
	Operand    Expression // the dataset, possibly filter(ref) or split(ref).apply(...)
	Attribute  *RefExpr   // nil for count
	CustomName string     // for AggCustom: key into External.customAggregations
	Quantile   float64    // for AggQuantile
	Options    AggregateOptions
}

type BooleanExpr struct {
	Op       BoolOp
	Operands []Expression
}

type ComparisonExpr struct {
	Op  CompareOp
	LHS Expression
	RHS Expression
}

type MatchExpr struct {
	Operand Expression
	Regex   string
}

type ContainsExpr struct {
	Operand Expression
	Value   any
}

// IsExpr: Operand == Value (literal equality).
type IsExpr struct {
	Operand Expression
	Value   any
}

// InExpr: Operand in Set (literal set membership).
type InExpr struct {
	Operand Expression
	Set     []any
}

// SubstringExpr extracts a character range from a string-typed operand.
// Length nil means "to the end of the string".
type SubstringExpr struct {
	Operand Expression
	Index   int
	Length  *int
}

// LookupExpr rewrites a string-typed operand through a static table,
// falling back to ReplaceMissingWith when the operand has no entry.
type LookupExpr struct {
	Operand            Expression
	Map                map[string]string
	ReplaceMissingWith string
}

// Ref constructs a Ref leaf.
func Ref(name string, nest int, t Type) Expression {
	return Expression{Kind: KindRef, Type: t, Ref: &RefExpr{Name: name, Nest: nest, Type: t}}
}

// Lit constructs a Literal leaf of the given type t.
func Lit(v any, t Type) Expression {
	return Expression{Kind: KindLiteral, Type: t, Literal: &LiteralExpr{Value: v}}
}

// IsTimeRef reports whether e is exactly a Ref to name with TIME type.
func IsTimeRef(e Expression, name string) bool {
	return e.Kind == KindRef && e.Ref != nil && e.Ref.Name == name && e.Ref.Type == TypeTime
}
