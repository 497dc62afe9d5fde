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

import "fmt"

// TypeError reports that an expression's type does not match its position
// (spec §7), the Go analog of the teacher's unsupportedError in parser.go.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string { return "type error: " + e.Msg }

func NewTypeError(format string, args ...any) *TypeError {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedExpressionError reports that an expression cannot be lowered to
// the backend: an extraction-fn refusal, a cardinality reference inside a
// filter, an out-of-place sort/limit, and so on (spec §7).
type UnsupportedExpressionError struct {
	Msg string
}

func (e *UnsupportedExpressionError) Error() string { return "unsupported expression: " + e.Msg }

func NewUnsupportedExpressionError(format string, args ...any) *UnsupportedExpressionError {
	return &UnsupportedExpressionError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidConfigurationError reports a caller-supplied External that cannot
// be planned as given: raw mode without allowSelectQueries, disagreeing
// re-split splits, an unsplitable attribute used as a split key (spec §7).
type InvalidConfigurationError struct {
	Msg string
}

func (e *InvalidConfigurationError) Error() string { return "invalid configuration: " + e.Msg }

func NewInvalidConfigurationError(format string, args ...any) *InvalidConfigurationError {
	return &InvalidConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidResultError reports a malformed backend response: an introspection
// payload missing its time column, a scan response that isn't an array
// (spec §7).
type InvalidResultError struct {
	Msg string
}

func (e *InvalidResultError) Error() string { return "invalid result: " + e.Msg }

func NewInvalidResultError(format string, args ...any) *InvalidResultError {
	return &InvalidResultError{Msg: fmt.Sprintf(format, args...)}
}
