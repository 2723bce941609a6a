// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lstsq

import "math"

// HFTI solves 𝐀𝐗 ≅ 𝐁 by Householder forward triangulation with column interchanges
// and returns the pseudo-rank k of 𝐀.
//
// 𝐀 is factored as 𝐐𝐀𝐏 = 𝐑 where 𝐏 moves the column with the largest remaining
// squared length to the pivot position at every step. The pseudo-rank k is the
// number of leading diagonal elements of 𝐑 with magnitude above tau. When k < n
// the trailing block of 𝐑 is dropped and the leading k rows are triangulated
// from the right, [𝐑₁₁:𝐑₁₂]𝐊 = [𝐖:೦], giving the minimum-length solution
//
//	𝐱 = 𝐏𝐊[𝐖⁻¹𝐜₁ ೦]ᵀ   with 𝐜 = 𝐐𝐛
//
// and residual norm ‖𝐜₂‖₂.
//
// Arguments:
//   - a holds the m × n column-major matrix 𝐀 (leading dimension mda); it is overwritten.
//   - b holds the m × nb right-hand sides (leading dimension mdb ≥ max(m, n));
//     on return its first n rows hold the solutions. nb = 0 skips the solve.
//   - tau is the absolute tolerance for pseudo-rank determination.
//   - norm receives the residual norm of each right-hand side.
//   - h, g and ip are work arrays of length n, n and min(m, n).
//
// Lawson & Hanson, Chapter 14, Algorithm 14.9.
func HFTI(
	a []float64, mda, m, n int,
	b []float64, mdb, nb int,
	tau float64,
	norm []float64,
	h, g []float64, ip []int) int {

	const factor = 0.001

	diag := min(m, n)
	if diag <= 0 {
		return 0
	}
	if n > len(h) || n > len(g) || diag > len(ip) || nb > len(norm) {
		panic("bound check error")
	}

	hmax := zero
	for j := 0; j < diag; j++ {
		lmax := j

		// Downdate the squared column lengths.
		if j > 0 {
			for l := j; l < n; l++ {
				t := a[(j-1)+mda*l]
				h[l] -= t * t
				if h[l] > h[lmax] {
					lmax = l
				}
			}
		}

		// Recompute them from scratch when cancellation makes them unreliable.
		if j == 0 || factor*h[lmax] < hmax*eps {
			lmax = j
			for l := j; l < n; l++ {
				h[l] = impl.Ddot(m-j, a[j+mda*l:], 1, a[j+mda*l:], 1)
				if h[l] > h[lmax] {
					lmax = l
				}
			}
			hmax = h[lmax]
		}

		ip[j] = lmax
		if lmax != j {
			impl.Dswap(m, a[mda*j:], 1, a[mda*lmax:], 1)
			h[lmax] = h[j]
		}

		next := min(j+1, n-1)
		h[j] = h1(j, j+1, m, a[mda*j:], 1)
		h2(j, j+1, m, a[mda*j:], 1, h[j], a[mda*next:], 1, mda, n-j-1)
		h2(j, j+1, m, a[mda*j:], 1, h[j], b, 1, mdb, nb)
	}

	k := diag
	for j := 0; j < diag; j++ {
		if math.Abs(a[j+mda*j]) <= tau {
			k = j
			break
		}
	}

	for jb := 0; jb < nb; jb++ {
		norm[jb] = zero
		if k < m {
			norm[jb] = impl.Dnrm2(m-k, b[mdb*jb+k:], 1)
		}
	}

	if k == 0 {
		for jb := 0; jb < nb; jb++ {
			clear(b[mdb*jb : mdb*jb+n])
		}
		return 0
	}

	if k < n {
		for i := k - 1; i >= 0; i-- {
			g[i] = h1(i, k, n, a[i:], mda)
			h2(i, k, n, a[i:], mda, g[i], a, mda, 1, i)
		}
	}

	for jb := 0; jb < nb; jb++ {
		cb := b[mdb*jb:]
		if n > len(cb) {
			panic("bound check error")
		}

		// 𝐖𝐲₁ = 𝐜₁
		for i := k - 1; i >= 0; i-- {
			sm := zero
			if i+1 < k {
				sm = impl.Ddot(k-i-1, a[i+mda*(i+1):], mda, cb[i+1:], 1)
			}
			cb[i] = (cb[i] - sm) / a[i+mda*i]
		}

		if k < n {
			clear(cb[k:n])
			for i := 0; i < k; i++ {
				h2(i, k, n, a[i:], mda, g[i], cb, 1, mdb, 1)
			}
		}

		for j := diag - 1; j >= 0; j-- {
			if l := ip[j]; l != j {
				cb[l], cb[j] = cb[j], cb[l]
			}
		}
	}

	return k
}
