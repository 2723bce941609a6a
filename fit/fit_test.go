// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fit

import (
	"bytes"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var olsWant = []float64{1.6413575456841833, 0.0002947725089628012}

func closedForm(t *testing.T, a *mat.Dense, b *mat.VecDense) []float64 {
	t.Helper()
	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	require.NoError(t, qr.SolveVecTo(&x, false, b))
	return x.RawVector().Data
}

func residualNorm(a mat.Matrix, b mat.Vector, x mat.Vector) float64 {
	var r mat.VecDense
	r.MulVec(a, x)
	r.SubVec(&r, b)
	return mat.Norm(&r, 2)
}

func assertRelative(t *testing.T, want, got []float64, msg string) {
	t.Helper()
	require.Len(t, got, len(want), msg)
	for i := range want {
		assert.InEpsilon(t, want[i], got[i], 1e-6, "%s [%d]", msg, i)
	}
}

func TestConstants(t *testing.T) {
	a, b := Coefficients(), Targets()
	r, c := a.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, 352.0, a.At(2, 0))
	assert.Equal(t, 102.76214, b.AtVec(5))

	a.Set(0, 0, -1)
	b.SetVec(0, -1)
	assert.Equal(t, 122.0, Coefficients().At(0, 0))
	assert.Equal(t, 287.61238, Targets().AtVec(0))
}

func TestSolveNonNegative(t *testing.T) {
	a, b := Coefficients(), Targets()
	x, err := SolveNonNegative(a, b)
	require.NoError(t, err)
	require.Equal(t, 2, x.Len())

	for i := 0; i < x.Len(); i++ {
		assert.GreaterOrEqual(t, x.AtVec(i), 0.0)
	}

	// Kuhn-Tucker: 𝐰 = 𝐀ᵀ(𝐛 - 𝐀𝐱) vanishes on positive components, otherwise 𝐰 ≤ 0.
	var r, w mat.VecDense
	r.MulVec(a, x)
	r.SubVec(b, &r)
	w.MulVec(a.T(), &r)
	for j := 0; j < x.Len(); j++ {
		scale := mat.Norm(a.ColView(j), 2) * mat.Norm(b, 2)
		if x.AtVec(j) > 0 {
			assert.InDelta(t, 0, w.AtVec(j)/scale, 1e-9)
		} else {
			assert.LessOrEqual(t, w.AtVec(j)/scale, 1e-9)
		}
	}

	best := residualNorm(a, b, x)
	for i := 0; i <= 40; i++ {
		for j := 0; j <= 40; j++ {
			p := mat.NewVecDense(2, []float64{3 * float64(i) / 40, 1e-3 * float64(j) / 40})
			assert.GreaterOrEqual(t, residualNorm(a, b, p), best-1e-9)
		}
	}

	// Both components of the least-squares solution are positive, so the constraint is inactive.
	assertRelative(t, olsWant, x.RawVector().Data, "nnls")
}

func TestSolveUnconstrained(t *testing.T) {
	a, b := Coefficients(), Targets()
	xlsq, err := SolveUnconstrained(a, b, []float64{0, 0})
	require.NoError(t, err)
	require.Equal(t, 2, xlsq.Len())

	want := closedForm(t, a, b)
	assertRelative(t, want, xlsq.RawVector().Data, "closed form")
	assertRelative(t, olsWant, xlsq.RawVector().Data, "pinned")
	assert.InDelta(t, 40.248, residualNorm(a, b, xlsq), 1e-3)

	// Normal equations agree within their conditioning.
	var ata mat.Dense
	var atb, xn mat.VecDense
	ata.Mul(a.T(), a)
	atb.MulVec(a.T(), b)
	require.NoError(t, xn.SolveVec(&ata, &atb))
	for i := range want {
		assert.InEpsilon(t, xn.AtVec(i), xlsq.AtVec(i), 1e-4)
	}
}

func TestIdempotent(t *testing.T) {
	a, b := Coefficients(), Targets()
	x1, err := SolveNonNegative(a, b)
	require.NoError(t, err)
	x2, err := SolveNonNegative(a, b)
	require.NoError(t, err)
	assertRelative(t, x1.RawVector().Data, x2.RawVector().Data, "nnls")

	l1, err := SolveUnconstrained(a, b, []float64{0, 0})
	require.NoError(t, err)
	l2, err := SolveUnconstrained(a, b, []float64{0, 0})
	require.NoError(t, err)
	assertRelative(t, l1.RawVector().Data, l2.RawVector().Data, "lsq")

	assert.True(t, mat.Equal(a, Coefficients()))
	assert.True(t, mat.Equal(b, Targets()))
}

func TestNegativeLeastSquares(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	b := mat.NewVecDense(3, []float64{1, -1, 0})

	xlsq, err := SolveUnconstrained(a, b, []float64{0, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, -1}, xlsq.RawVector().Data, 1e-6)

	x, err := SolveNonNegative(a, b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0}, x.RawVector().Data, 1e-12)
	assert.Equal(t, 0.0, x.AtVec(1))
}

func TestDimension(t *testing.T) {
	a := Coefficients()
	short := mat.NewVecDense(5, nil)

	_, err := SolveNonNegative(a, short)
	assert.ErrorIs(t, err, ErrDimension)

	_, err = SolveUnconstrained(a, short, []float64{0, 0})
	assert.ErrorIs(t, err, ErrDimension)

	_, err = SolveUnconstrained(a, Targets(), []float64{0, 0, 0})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	Report(&buf, mat.NewVecDense(2, []float64{1, 2}), mat.NewVecDense(2, []float64{3, 4}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "non-negative x and y:", lines[0])
	assert.Equal(t, []float64{1, 2}, parseRow(t, lines[1]))
	assert.Equal(t, "least squares solution:", lines[2])
	assert.Equal(t, []float64{3, 4}, parseRow(t, lines[3]))
}

func parseRow(t *testing.T, s string) []float64 {
	t.Helper()
	require.True(t, strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"), s)
	var v []float64
	for _, f := range strings.Fields(strings.Trim(s, "[]")) {
		x, err := strconv.ParseFloat(f, 64)
		require.NoError(t, err)
		v = append(v, x)
	}
	return v
}

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Run(&buf, slog.New(slog.NewTextHandler(io.Discard, nil))))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "non-negative x and y:", lines[0])
	assert.Equal(t, "least squares solution:", lines[2])
	assertRelative(t, olsWant, parseRow(t, lines[1]), "nnls")
	assertRelative(t, olsWant, parseRow(t, lines[3]), "lsq")
}
