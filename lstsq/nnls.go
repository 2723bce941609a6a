// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lstsq

import "math"

// NNLS solves 𝚖𝚒𝚗 ‖ 𝐀𝐱 - 𝐛 ‖₂ subject to 𝐱 ≥ 0 with the Lawson-Hanson active-set method
// and returns the residual norm.
//
// The variables are split into a passive set ℙ, free to take positive values,
// and an active set ℤ, held at zero. Starting from 𝐱 = 0 with every index in ℤ,
// each outer step moves the index with the largest dual component
//
//	𝐰 = 𝐀ᵀ(𝐛 - 𝐀𝐱)
//
// into ℙ and solves the unconstrained problem on the columns of ℙ by an updated
// QR factorization. When that solution 𝐳 has non-positive components, 𝐱 moves
// toward 𝐳 as far as feasibility allows and the indices that reach zero go back
// to ℤ. The method stops when 𝐰ⱼ ≤ 0 for every j ∈ ℤ, which are the
// Kuhn-Tucker conditions of the problem.
//
// Arguments:
//   - a holds the m × n column-major matrix 𝐀 (leading dimension mda); on return it holds 𝐐𝐀.
//   - b holds the m-vector 𝐛; on return it holds 𝐐𝐛.
//   - x receives the solution. w receives the dual components of ℤ from the
//     last optimality test; entries of ℙ, of rejected columns, and all entries
//     once k reaches m are zero.
//   - z (length m) and index (length n) are work arrays.
//   - maxIter bounds the number of inner iterations, 3n when not positive.
//
// Lawson & Hanson, Chapter 23, Algorithm 23.10.
func NNLS(
	m, n int,
	a []float64, mda int,
	b, x, w, z []float64,
	index []int,
	maxIter int) (float64, Mode) {

	const factor = 0.01

	if m <= 0 || n <= 0 || mda < m ||
		len(a) < mda*n || len(b) < m || len(x) < n || len(w) < n || len(z) < m || len(index) < n {
		return math.NaN(), BadArgument
	}

	if maxIter <= 0 {
		maxIter = 3 * n
	}

	// ℙ = index[:k], ℤ = index[k:]
	index = index[:n]
	for i := range index {
		index[i] = i
	}
	k := 0
	iter := 0

	clear(x[:n])
	clear(w[:n])

	finish := func() (rnorm float64, mode Mode) {
		if k < m {
			rnorm = impl.Dnrm2(m-k, b[k:], 1)
		} else {
			clear(w[:n])
		}
		mode = HasSolution
		if iter > maxIter {
			mode = ExceedMaxIter
		}
		return
	}

	for {
		if k >= n || k >= m {
			return finish()
		}

		// Since 𝐱ⱼ = 0 on ℤ and the first k rows of 𝐐𝐛 are fitted exactly,
		// the dual reduces to the product of the transformed tails.
		for _, j := range index[k:] {
			w[j] = impl.Ddot(m-k, a[k+mda*j:], 1, b[k:], 1)
		}

		var up float64
		pick := -1
		for pick < 0 {
			wmax, iz := zero, -1
			for i, j := range index[k:] {
				if w[j] > wmax {
					wmax, iz = w[j], k+i
				}
			}
			if iz < 0 {
				return finish()
			}

			j := index[iz]
			col := a[mda*j : mda*j+m]
			save := col[k]
			up = h1(k, k+1, m, col, 1)

			// Reject columns that are numerically dependent on ℙ or whose
			// new coefficient would not be positive.
			unorm := impl.Dnrm2(k, col, 1)
			if unorm+math.Abs(col[k])*factor-unorm > zero {
				copy(z[:m], b[:m])
				h2(k, k+1, m, col, 1, up, z, 1, 1, 1)
				if z[k]/col[k] > zero {
					pick = iz
					break
				}
			}

			col[k] = save
			w[j] = zero
		}

		j := index[pick]
		col := a[mda*j : mda*j+m]
		copy(b[:m], z[:m])

		index[pick], index[k] = index[k], j
		k++

		for _, l := range index[k:] {
			h2(k-1, k, m, col, 1, up, a[mda*l:], 1, mda, 1)
		}
		if k < m {
			clear(col[k:m])
		}
		w[j] = zero

		for {
			// Back-substitute the triangular system of ℙ into z.
			for ip := k - 1; ip >= 0; ip-- {
				l := index[ip]
				z[ip] /= a[ip+mda*l]
				impl.Daxpy(ip, -z[ip], a[mda*l:], 1, z, 1)
			}

			if iter++; iter > maxIter {
				return finish()
			}

			// α = 𝚖𝚒𝚗 { 𝐱ⱼ/(𝐱ⱼ-𝐳ⱼ) : 𝐳ⱼ ≤ 0, j ∈ ℙ }
			alpha, jj := two, -1
			for ip, l := range index[:k] {
				if z[ip] <= zero {
					if t := -x[l] / (z[ip] - x[l]); t < alpha {
						alpha, jj = t, ip
					}
				}
			}

			if jj < 0 {
				for ip, l := range index[:k] {
					x[l] = z[ip]
				}
				break
			}

			for ip, l := range index[:k] {
				x[l] += alpha * (z[ip] - x[l])
			}

			// Move every non-positive coefficient from ℙ to ℤ, restoring the
			// triangular form with Givens rotations.
			for jj >= 0 {
				i := index[jj]
				x[i] = zero
				for p := jj + 1; p < k; p++ {
					l := index[p]
					index[p-1] = l
					cl := a[mda*l:]
					c, s, r, _ := impl.Drotg(cl[p-1], cl[p])
					impl.Drot(n, a[p-1:], mda, a[p:], mda, c, s)
					impl.Drot(1, b[p-1:], 1, b[p:], 1, c, s)
					cl[p-1], cl[p] = r, zero
				}
				k--
				index[k] = i

				jj = -1
				for ip, l := range index[:k] {
					if x[l] <= zero {
						jj = ip
						break
					}
				}
			}

			copy(z[:m], b[:m])
		}
	}
}
