// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lstsq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Solution is the result of NonNegative or Ordinary.
type Solution struct {
	X            []float64 // Solution vector of length n.
	Dual         []float64 // Dual vector 𝐀ᵀ(𝐛 - 𝐀𝐱) at X, filled by NonNegative only.
	ResidualNorm float64   // ‖ 𝐀𝐱 - 𝐛 ‖₂
	Rank         int       // Size of the passive set (NonNegative) or pseudo-rank (Ordinary).
}

// colMajor copies a into a new column-major array with leading dimension ld ≥ rows.
func colMajor(a mat.Matrix, ld int) []float64 {
	m, n := a.Dims()
	w := make([]float64, ld*n)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			w[i+ld*j] = a.At(i, j)
		}
	}
	return w
}

func checkDims(a mat.Matrix, b []float64) (m, n int, err error) {
	m, n = a.Dims()
	if m != len(b) {
		err = fmt.Errorf("%w: 𝐀 has %d rows but 𝐛 has %d elements", ErrDimension, m, len(b))
	}
	return
}

// NonNegative solves 𝚖𝚒𝚗 ‖ 𝐀𝐱 - 𝐛 ‖₂ subject to 𝐱 ≥ 0.
// Neither a nor b is modified. maxIter ≤ 0 selects the default limit 3n.
func NonNegative(a mat.Matrix, b []float64, maxIter int) (*Solution, error) {
	m, n, err := checkDims(a, b)
	if err != nil {
		return nil, err
	}

	work := colMajor(a, m)
	rhs := append([]float64(nil), b...)
	x := make([]float64, n)
	w := make([]float64, n)
	z := make([]float64, m)
	index := make([]int, n)

	if maxIter <= 0 {
		maxIter = 3 * n
	}

	rnorm, mode := NNLS(m, n, work, m, rhs, x, w, z, index, maxIter)
	switch mode {
	case HasSolution:
	case ExceedMaxIter:
		return nil, fmt.Errorf("%w after %d iterations", ErrMaxIter, maxIter)
	default:
		return nil, fmt.Errorf("lstsq: nnls failed: %v", mode)
	}

	rank := 0
	for _, v := range x {
		if v > zero {
			rank++
		}
	}

	// The working dual of NNLS is zero on ℙ and on rejected columns, recompute it.
	var r, dual mat.VecDense
	r.MulVec(a, mat.NewVecDense(n, x))
	r.SubVec(mat.NewVecDense(m, b), &r)
	dual.MulVec(a.T(), &r)

	return &Solution{X: x, Dual: dual.RawVector().Data, ResidualNorm: rnorm, Rank: rank}, nil
}

// Ordinary solves 𝚖𝚒𝚗 ‖ 𝐀𝐱 - 𝐛 ‖₂ without constraints and returns the
// minimum-length solution when 𝐀 is rank deficient.
// A non-positive tau selects max(m,n)·eps·‖𝐀‖ₘₐₓ as pseudo-rank tolerance.
func Ordinary(a mat.Matrix, b []float64, tau float64) (*Solution, error) {
	m, n, err := checkDims(a, b)
	if err != nil {
		return nil, err
	}

	if tau <= zero {
		amax := zero
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				amax = math.Max(amax, math.Abs(a.At(i, j)))
			}
		}
		tau = float64(max(m, n)) * eps * amax
	}

	ld := max(m, n)
	work := colMajor(a, m)
	rhs := make([]float64, ld)
	copy(rhs, b)
	norm := make([]float64, 1)

	rank := HFTI(work, m, m, n, rhs, ld, 1, tau, norm,
		make([]float64, n), make([]float64, n), make([]int, min(m, n)))

	return &Solution{X: rhs[:n:n], ResidualNorm: norm[0], Rank: rank}, nil
}
