// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leastsq

import "math"

// Loss selects the function ρ applied to the squared residuals, the
// objective becoming ½∑ C²ρ(fᵢ²/C²) with C the soft margin FScale.
type Loss int

const (
	// Linear gives the ordinary least-squares problem ρ(z) = z.
	Linear Loss = iota
	// SoftL1 ρ(z) = 2((1 + z)¹ᐟ² - 1), a smooth approximation of l1.
	SoftL1
	// Huber ρ(z) = z if z ≤ 1 else 2z¹ᐟ² - 1.
	Huber
	// Cauchy ρ(z) = ln(1 + z), severely weakens outliers.
	Cauchy
	// Arctan ρ(z) = arctan(z), limits the loss of a single residual.
	Arctan
)

func (l Loss) String() string {
	switch l {
	case Linear:
		return "linear"
	case SoftL1:
		return "soft_l1"
	case Huber:
		return "huber"
	case Cauchy:
		return "cauchy"
	case Arctan:
		return "arctan"
	}
	return "unknown"
}

// rho returns ρ(z) and its first two derivatives.
func (l Loss) rho(z float64) (r0, r1, r2 float64) {
	switch l {
	case SoftL1:
		t := 1 + z
		r0 = 2 * (math.Sqrt(t) - 1)
		r1 = 1 / math.Sqrt(t)
		r2 = -0.5 * r1 / t
	case Huber:
		if z <= 1 {
			return z, 1, 0
		}
		s := math.Sqrt(z)
		r0 = 2*s - 1
		r1 = 1 / s
		r2 = -0.5 * r1 / z
	case Cauchy:
		t := 1 + z
		r0 = math.Log1p(z)
		r1 = 1 / t
		r2 = -1 / (t * t)
	case Arctan:
		t := 1 + z*z
		r0 = math.Atan(z)
		r1 = 1 / t
		r2 = -2 * z / (t * t)
	default:
		r0, r1, r2 = z, 1, 0
	}
	return
}

// cost returns ½∑ C²ρ(fᵢ²/C²).
func (l Loss) cost(f []float64, c float64) float64 {
	sum := zero
	if l == Linear {
		for _, v := range f {
			sum += v * v
		}
		return 0.5 * sum
	}
	c2 := c * c
	for _, v := range f {
		r0, _, _ := l.rho(v * v / c2)
		sum += r0
	}
	return 0.5 * c2 * sum
}

// robustScale rewrites the residuals and the m × n row-major Jacobian in place
// so that the Gauss-Newton model of the robust objective becomes an ordinary
// least-squares model:
//
//	𝐉ᵢ ← 𝐉ᵢ·√(ρ′ + 2ρ″fᵢ²)   fᵢ ← fᵢ·ρ′/√(ρ′ + 2ρ″fᵢ²)
//
// with ρ′, ρ″ evaluated at fᵢ²/C² and ρ″ rescaled by 1/C².
func (l Loss) robustScale(f, jac []float64, n int, c float64) {
	if l == Linear {
		return
	}
	c2 := c * c
	for i, v := range f {
		_, r1, r2 := l.rho(v * v / c2)
		r2 /= c2
		s := r1 + 2*r2*v*v
		if s < eps {
			s = eps
		}
		s = math.Sqrt(s)
		f[i] = v * r1 / s
		row := jac[i*n : (i+1)*n]
		for j := range row {
			row[j] *= s
		}
	}
}
