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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftlake/qplan/expr"
)

// TestScanAllColumnsIsDeterministic guards spec §8's "repeated calls produce
// structurally equal documents" invariant against scanAllColumns ranging
// over the DerivedAttrs map in nondeterministic order.
func TestScanAllColumnsIsDeterministic(t *testing.T) {
	ext := &expr.External{
		TimeAttribute: "__time",
		DerivedAttrs: map[string]expr.Expression{
			"zeta":  expr.Ref("zeta", 0, expr.TypeString),
			"alpha": expr.Ref("alpha", 0, expr.TypeString),
			"mu":    expr.Ref("mu", 0, expr.TypeString),
		},
	}

	first := scanAllColumns(ext)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, scanAllColumns(ext))
	}
	require.Equal(t, []string{"__time", "alpha", "mu", "zeta"}, first)
}
