// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lstsq

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func randDense(rnd *rand.Rand, m, n int) *mat.Dense {
	d := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			d.Set(i, j, rnd.Float64()*2-1)
		}
	}
	return d
}

func randVec(rnd *rand.Rand, m int) []float64 {
	v := make([]float64, m)
	for i := range v {
		v[i] = rnd.Float64()*2 - 1
	}
	return v
}

func residualNorm(a mat.Matrix, x, b []float64) float64 {
	var r mat.VecDense
	r.MulVec(a, mat.NewVecDense(len(x), x))
	r.SubVec(&r, mat.NewVecDense(len(b), b))
	return mat.Norm(&r, 2)
}

func TestHouseholder(t *testing.T) {
	v := []float64{3, 1, 4, 1, 5}
	u := append([]float64(nil), v...)
	up := h1(0, 1, len(u), u, 1)

	// 𝐐𝐯 must be s·𝐞₁ with |s| = ‖𝐯‖₂
	c := append([]float64(nil), v...)
	h2(0, 1, len(u), u, 1, up, c, 1, 1, 1)
	assert.InDelta(t, math.Sqrt(52), math.Abs(c[0]), 1e-12)
	assert.InDelta(t, -math.Sqrt(52), u[0], 1e-12)
	for _, e := range c[1:] {
		assert.InDelta(t, 0, e, 1e-12)
	}

	// 𝐐 preserves the norm of any other vector
	y := []float64{-2, 7, 1, 0, 3}
	ny := floats.Norm(y, 2)
	h2(0, 1, len(u), u, 1, up, y, 1, 1, 1)
	assert.InDelta(t, ny, floats.Norm(y, 2), 1e-12)
}

func TestHFTIFullRank(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	for _, dim := range [][2]int{{1, 1}, {3, 2}, {6, 2}, {8, 5}, {12, 12}} {
		m, n := dim[0], dim[1]
		a := randDense(rnd, m, n)
		b := randVec(rnd, m)

		sol, err := Ordinary(a, b, 0)
		require.NoError(t, err)
		require.Equal(t, n, sol.Rank)

		var qr mat.QR
		qr.Factorize(a)
		var want mat.VecDense
		require.NoError(t, qr.SolveVecTo(&want, false, mat.NewVecDense(m, b)))

		for j := 0; j < n; j++ {
			assert.InDelta(t, want.AtVec(j), sol.X[j], 1e-10, "%d×%d x[%d]", m, n, j)
		}
		assert.InDelta(t, residualNorm(a, sol.X, b), sol.ResidualNorm, 1e-10)
	}
}

func TestHFTIRankDeficient(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{
		1, 1,
		1, 1,
		1, 1,
	})
	b := []float64{2, 2, 2}

	sol, err := Ordinary(a, b, 1e-8)
	require.NoError(t, err)
	assert.Equal(t, 1, sol.Rank)
	assert.InDeltaSlice(t, []float64{1, 1}, sol.X, 1e-12)
	assert.InDelta(t, 0, sol.ResidualNorm, 1e-12)

	// Underdetermined: minimum-length solution of x₁ + 2x₂ = 5.
	a = mat.NewDense(1, 2, []float64{1, 2})
	sol, err = Ordinary(a, []float64{5}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sol.Rank)
	assert.InDeltaSlice(t, []float64{1, 2}, sol.X, 1e-12)
}

func TestNNLS(t *testing.T) {
	cases := []struct {
		name  string
		m, n  int
		a     []float64
		b     []float64
		x     []float64
		rnorm float64
	}{
		{
			name: "interior",
			m:    3, n: 2,
			a:     []float64{1, 0, 1, 0, 0, 1},
			b:     []float64{2, 1, 1},
			x:     []float64{1.5, 1},
			rnorm: math.Sqrt(0.5),
		},
		{
			name: "all active",
			m:    3, n: 2,
			a:     []float64{1, 0, 1, 0, 0, 1},
			b:     []float64{-1, -1, -1},
			x:     []float64{0, 0},
			rnorm: math.Sqrt(3),
		},
		{
			name: "one bound",
			m:    2, n: 2,
			a:     []float64{1, 0, 0, 1},
			b:     []float64{1, -1},
			x:     []float64{1, 0},
			rnorm: 1,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := mat.NewDense(c.m, c.n, c.a)
			sol, err := NonNegative(a, c.b, 0)
			require.NoError(t, err)
			assert.InDeltaSlice(t, c.x, sol.X, 1e-12)
			assert.InDelta(t, c.rnorm, sol.ResidualNorm, 1e-12)
		})
	}
}

// The solution must satisfy the Kuhn-Tucker conditions of the problem:
// 𝐱 ≥ 0, 𝐰ⱼ = 0 where 𝐱ⱼ > 0 and 𝐰ⱼ ≤ 0 where 𝐱ⱼ = 0.
func TestNNLSKuhnTucker(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		m, n := 4+rnd.Intn(8), 1+rnd.Intn(4)
		a := randDense(rnd, m, n)
		b := randVec(rnd, m)

		sol, err := NonNegative(a, b, 30*n)
		require.NoError(t, err)

		var r, w mat.VecDense
		r.MulVec(a, mat.NewVecDense(n, sol.X))
		r.SubVec(mat.NewVecDense(m, b), &r)
		w.MulVec(a.T(), &r)

		require.Len(t, sol.Dual, n)
		assert.InDeltaSlice(t, w.RawVector().Data, sol.Dual, 1e-12, "trial %d dual", trial)

		for j, v := range sol.X {
			require.GreaterOrEqual(t, v, 0.0)
			if v > 0 {
				assert.InDelta(t, 0, w.AtVec(j), 1e-10, "trial %d dual %d", trial, j)
			} else {
				assert.LessOrEqual(t, w.AtVec(j), 1e-10, "trial %d dual %d", trial, j)
			}
		}
		assert.InDelta(t, mat.Norm(&r, 2), sol.ResidualNorm, 1e-10)
	}
}

// Enumerate every passive set, solve it by QR and keep the best feasible fit.
// Problems with many columns drive the active set through several removals.
func TestNNLSExhaustive(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))

	for trial := 0; trial < 30; trial++ {
		m, n := 6+rnd.Intn(6), 3+rnd.Intn(4)
		a := randDense(rnd, m, n)
		b := randVec(rnd, m)

		best := floats.Norm(b, 2)
		for set := 1; set < 1<<n; set++ {
			var cols []int
			for j := 0; j < n; j++ {
				if set&(1<<j) != 0 {
					cols = append(cols, j)
				}
			}
			sub := mat.NewDense(m, len(cols), nil)
			for c, j := range cols {
				sub.SetCol(c, mat.Col(nil, j, a))
			}

			var qr mat.QR
			qr.Factorize(sub)
			var xs mat.VecDense
			if err := qr.SolveVecTo(&xs, false, mat.NewVecDense(m, b)); err != nil {
				continue
			}
			if floats.Min(xs.RawVector().Data) < 0 {
				continue
			}
			var r mat.VecDense
			r.MulVec(sub, &xs)
			r.SubVec(&r, mat.NewVecDense(m, b))
			best = math.Min(best, mat.Norm(&r, 2))
		}

		sol, err := NonNegative(a, b, 30*n)
		require.NoError(t, err)
		assert.InDelta(t, best, sol.ResidualNorm, 1e-10, "trial %d", trial)
		assert.InDelta(t, best, residualNorm(a, sol.X, b), 1e-10, "trial %d", trial)
		assert.GreaterOrEqual(t, floats.Min(sol.X), 0.0)
	}
}

func TestNNLSDual(t *testing.T) {
	// Column 0 stays at zero with a negative dual, column 1 enters ℙ.
	a := mat.NewDense(2, 2, []float64{
		1, 1,
		-1, 0,
	})
	b := []float64{1, 2}

	sol, err := NonNegative(a, b, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1}, sol.X, 1e-12)
	assert.InDeltaSlice(t, []float64{-2, 0}, sol.Dual, 1e-12)
	assert.Equal(t, 1, sol.Rank)
}

func TestNNLSMatchesOrdinary(t *testing.T) {
	// Unconstrained optimum already non-negative.
	a := mat.NewDense(4, 2, []float64{
		1, 1,
		1, 2,
		1, 3,
		1, 4,
	})
	b := []float64{6, 5, 7, 10}

	nn, err := NonNegative(a, b, 0)
	require.NoError(t, err)
	ls, err := Ordinary(a, b, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3.5, 1.4}, ls.X, 1e-12)
	assert.InDeltaSlice(t, ls.X, nn.X, 1e-12)
	assert.Equal(t, 2, nn.Rank)
}

func TestBadInput(t *testing.T) {
	a := mat.NewDense(3, 2, nil)

	_, err := NonNegative(a, []float64{1, 2}, 0)
	assert.ErrorIs(t, err, ErrDimension)

	_, err = Ordinary(a, []float64{1, 2, 3, 4}, 0)
	assert.ErrorIs(t, err, ErrDimension)

	_, mode := NNLS(3, 2, make([]float64, 4), 3, make([]float64, 3),
		make([]float64, 2), make([]float64, 2), make([]float64, 3), make([]int, 2), 0)
	assert.Equal(t, BadArgument, mode)
}

func TestNNLSIterationLimit(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	a := randDense(rnd, 10, 6)
	b := randVec(rnd, 10)

	var x mat.VecDense
	x.MulVec(a, mat.NewVecDense(6, []float64{1, 2, 3, 4, 5, 6}))
	for i := range b {
		b[i] += x.AtVec(i)
	}

	// Several coefficients are positive at the optimum, one iteration cannot reach it.
	_, err := NonNegative(a, b, 1)
	assert.ErrorIs(t, err, ErrMaxIter)
}
