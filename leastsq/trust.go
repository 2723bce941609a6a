// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leastsq

import (
	"math"

	"github.com/curioloop/lsqfit/lstsq"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// trustRegion solves the subproblem 𝚖𝚒𝚗 ‖ 𝐉𝐩 + 𝒇 ‖₂ subject to ‖ 𝐩 ‖₂ ≤ 𝚫
// for an m × n row-major Jacobian already expressed in scaled variables.
//
// The regularized problem for a parameter α ≥ 0 is the least-squares system
//
//	⎡ 𝐉  ⎤𝐩 ≅ ⎡-𝒇⎤
//	⎣√α𝐈⎦     ⎣ 0⎦
//
// solved by HFTI. Writing φ(α) = ‖ 𝐩(α) ‖ - 𝚫, the boundary solution is the root
// of φ found by the safeguarded Newton iteration of Moré, using
//
//	φ′(α) = -𝐩ᵀ(𝐉ᵀ𝐉 + α𝐈)⁻¹𝐩 / ‖ 𝐩 ‖ = -‖ 𝐑⁻ᵀ𝐏ᵀ𝐩 ‖² / ‖ 𝐩 ‖
//
// where 𝐑 and 𝐏 come from the pivoted QR factorization left in the work array.
type trustRegion struct {
	n, m int
	a    []float64 // (m+n) × n
	rhs  []float64 // m+n
	h, g []float64 // n
	ip   []int     // n
	q    []float64 // n
	norm [1]float64
}

func newTrustRegion(n, m int) trustRegion {
	return trustRegion{
		n: n, m: m,
		a:   make([]float64, (m+n)*n),
		rhs: make([]float64, m+n),
		h:   make([]float64, n),
		g:   make([]float64, n),
		ip:  make([]int, n),
		q:   make([]float64, n),
	}
}

// solve computes 𝐩(α) into p and returns ‖ 𝐩 ‖, ‖ 𝐑⁻ᵀ𝐏ᵀ𝐩 ‖² (NaN when
// rank deficient) and the pseudo-rank of the system.
func (tr *trustRegion) solve(jh, f []float64, alpha float64, p []float64) (pn, qn float64, rank int) {
	n, m := tr.n, tr.m

	rows := m
	if alpha > zero {
		rows += n
	}
	ld := rows
	a := tr.a[:ld*n]

	amax := zero
	for j := 0; j < n; j++ {
		col := a[ld*j : ld*(j+1)]
		for i := 0; i < m; i++ {
			col[i] = jh[i*n+j]
			amax = math.Max(amax, math.Abs(col[i]))
		}
		if alpha > zero {
			for i := m; i < rows; i++ {
				col[i] = zero
			}
			col[m+j] = math.Sqrt(alpha)
		}
	}
	if alpha > zero {
		amax = math.Max(amax, math.Sqrt(alpha))
	}

	mdb := max(rows, n)
	rhs := tr.rhs[:mdb]
	clear(rhs)
	for i, v := range f {
		rhs[i] = -v
	}

	tau := float64(mdb) * eps * amax
	rank = lstsq.HFTI(a, ld, rows, n, rhs, mdb, 1, tau, tr.norm[:], tr.h, tr.g, tr.ip)
	copy(p, rhs[:n])

	pn = floats.Norm(p, 2)
	qn = math.NaN()
	if rank < n {
		return
	}

	// 𝐲 = 𝐏ᵀ𝐩, then 𝐑ᵀ𝐳 = 𝐲
	z := tr.q
	copy(z, p)
	for j := 0; j < n; j++ {
		if l := tr.ip[j]; l != j {
			z[j], z[l] = z[l], z[j]
		}
	}
	for i := 0; i < n; i++ {
		z[i] = (z[i] - floats.Dot(a[ld*i:ld*i+i], z[:i])) / a[i+ld*i]
	}
	qn = floats.Dot(z, z)
	return
}

// step writes the subproblem solution into p and returns the Levenberg-Marquardt
// parameter used, zero for a Gauss-Newton step. alpha is the warm start.
func (tr *trustRegion) step(jh, f []float64, delta, alpha float64, p []float64) float64 {
	const (
		maxIter = 10
		rtol    = 0.01
	)

	n, m := tr.n, tr.m

	pn, qn, rank := tr.solve(jh, f, zero, p)
	if pn <= delta {
		return zero
	}

	// ‖ 𝐉ᵀ𝒇 ‖ / 𝚫 bounds α from above.
	var g mat.VecDense
	g.MulVec(mat.NewDense(m, n, jh).T(), mat.NewVecDense(m, f))
	upper := mat.Norm(&g, 2) / delta

	lower := zero
	if rank == n && qn > zero {
		lower = (pn - delta) * pn / qn
	}

	for it := 0; it < maxIter; it++ {
		if alpha < lower || alpha > upper || alpha <= zero {
			alpha = math.Max(0.001*upper, math.Sqrt(lower*upper))
		}

		pn, qn, _ = tr.solve(jh, f, alpha, p)
		phi := pn - delta
		if phi < zero {
			upper = alpha
		}
		if math.Abs(phi) < rtol*delta {
			break
		}

		if !(qn > zero) {
			// No derivative, fall back to bisection.
			if phi > zero {
				lower = alpha
			}
			alpha = -one
			continue
		}

		ratio := -phi * pn / qn
		lower = math.Max(lower, alpha-ratio)
		alpha -= (phi + delta) * ratio / delta
	}

	if pn > zero {
		s := delta / pn
		for i := range p {
			p[i] *= s
		}
	}
	return alpha
}
