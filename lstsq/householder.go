// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lstsq

import "math"

// h1 constructs the Householder transformation 𝐐 = 𝐈 - b⁻¹𝐮𝐮ᵀ (b = s·uₚ) that
// maps the strided vector v onto s·𝐞ₚ, zeroing elements l through m-1.
//
// Elements between p and l are left untouched. On return v[p] holds s, the
// elements l through m-1 hold the tail of 𝐮, and uₚ is returned separately.
// A zero vector or an index range with l ≥ m yields the identity (up = 0).
//
// Lawson & Hanson, Chapter 10, Algorithm H12 (mode 1).
func h1(p, l, m int, v []float64, ive int) (up float64) {
	if p < 0 || p >= l || l >= m {
		return
	}

	ip, il, im := p*ive, l*ive, (m-1)*ive
	if ive <= 0 || ip >= len(v) || im >= len(v) {
		panic("bound check error")
	}

	vmax := math.Abs(v[ip])
	for i := il; i <= im; i += ive {
		vmax = math.Max(vmax, math.Abs(v[i]))
	}
	if vmax <= zero {
		return
	}

	// s = -sgn(vₚ)·‖v‖₂, accumulated on the scaled vector
	inv := one / vmax
	sm := math.Pow(v[ip]*inv, 2)
	for i := il; i <= im; i += ive {
		sm += math.Pow(v[i]*inv, 2)
	}
	s := vmax * math.Sqrt(sm)
	if v[ip] > zero {
		s = -s
	}

	up = v[ip] - s
	v[ip] = s
	return
}

// h2 applies the transformation built by h1 to ncv vectors stored in c.
// Consecutive elements of one vector are ice apart and consecutive vectors
// are icv apart.
//
// Lawson & Hanson, Chapter 10, Algorithm H12 (mode 2).
func h2(p, l, m int, u []float64, iue int, up float64, c []float64, ice, icv, ncv int) {
	if p < 0 || p >= l || l >= m || ncv <= 0 {
		return
	}

	b := u[p*iue] * up
	if b >= zero {
		return
	}
	b = one / b

	il, im := l*iue, (m-1)*iue
	if iue <= 0 || im >= len(u) {
		panic("bound check error")
	}

	for k := 0; k < ncv; k++ {
		j := ice*p + icv*k
		i1 := j + ice*(l-p)
		if last := i1 + ice*(m-l-1); j >= len(c) || last >= len(c) {
			panic("bound check error")
		}

		// 𝐮ᵀ𝐜
		sm := c[j] * up
		for iu, ic := il, i1; iu <= im; iu, ic = iu+iue, ic+ice {
			sm += c[ic] * u[iu]
		}
		if sm == zero {
			continue
		}

		sm *= b
		c[j] += sm * up
		for iu, ic := il, i1; iu <= im; iu, ic = iu+iue, ic+ice {
			c[ic] += sm * u[iu]
		}
	}
}
