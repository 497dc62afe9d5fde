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

package inflate

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiomhq/hyperloglog"
)

func TestCardinalityDecodesHyperLogLogPayload(t *testing.T) {
	sk := hyperloglog.New14()
	sk.Insert([]byte("a"))
	sk.Insert([]byte("b"))
	sk.Insert([]byte("a"))
	b, err := sk.MarshalBinary()
	require.NoError(t, err)

	got, err := Cardinality(b)
	require.NoError(t, err)
	require.InDelta(t, float64(sk.Estimate()), float64(got), 0.0001)
}

func TestCardinalityRejectsNull(t *testing.T) {
	_, err := Cardinality(nil)
	require.Error(t, err)
}

func TestCardinalityDecodesBase64String(t *testing.T) {
	sk := hyperloglog.New14()
	sk.Insert([]byte("x"))
	b, err := sk.MarshalBinary()
	require.NoError(t, err)

	got, err := Cardinality(base64.StdEncoding.EncodeToString(b))
	require.NoError(t, err)
	require.Equal(t, sk.Estimate(), got)
}
