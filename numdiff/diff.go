// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff approximates Jacobian matrices by finite differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
package numdiff

import (
	"errors"
	"math"
)

var (
	sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
	cubeEps = math.Cbrt(math.Nextafter(1, 2) - 1)
)

// Method selects the difference scheme.
type Method int

const (
	// Forward uses the first order accurate forward difference (2-point).
	Forward Method = iota
	// Central uses the central difference in interior points and the second order
	// accurate one-sided difference near a bound (3-point).
	Central
)

func (m Method) String() string {
	switch m {
	case Forward:
		return "2-point"
	case Central:
		return "3-point"
	}
	return "unknown"
}

// Bound holds the lower and upper limit of one variable. NaN means unbounded.
type Bound [2]float64

// Approx estimates the m × n Jacobian of Func around a point.
//
// The Jacobian is written row-major (element (i,j) at j+i·n) unless ColMajor
// is set, then element (i,j) is stored at i+j·m.
type Approx struct {
	N, M int
	// Func evaluates the n-vector x into the m-vector y.
	// It may read x only. x0 is never modified, the steps are taken on a copy.
	Func func(x, y []float64)
	// Method is the difference scheme.
	Method Method
	// Bounds keeps the evaluations inside the feasible box.
	Bounds []Bound
	// RelStep gives the absolute step h = RelStep·sign(x)·|x|.
	// When zero the step is h = ε·sign(x)·max(1,|x|) with ε = eps^(1/2) for
	// Forward and eps^(1/3) for Central.
	RelStep float64
	// AbsStep overrides RelStep. Its sign is ignored for Central.
	AbsStep float64
	// SkipBoundCheck accepts an x0 outside Bounds.
	SkipBoundCheck bool
	// ColMajor stores the Jacobian column by column.
	ColMajor bool

	f0, f1, f2 []float64
	xs         []float64
	h          []float64
	oneSide    []bool
	bounded    bool
}

// Check validates the problem against x0 and jac and allocates the work space.
func (ap *Approx) Check(x0, jac []float64) error {
	switch {
	case ap.N <= 0 || ap.M <= 0:
		return errors.New("numdiff: dimensions must be positive")
	case ap.Method != Forward && ap.Method != Central:
		return errors.New("numdiff: unknown method")
	case ap.Func == nil:
		return errors.New("numdiff: function is required")
	case len(x0) != ap.N:
		return errors.New("numdiff: x0 dimension mismatch")
	case len(jac) != ap.N*ap.M:
		return errors.New("numdiff: jacobian dimension mismatch")
	}

	ap.bounded = false
	if ap.Bounds != nil {
		if len(ap.Bounds) != ap.N {
			return errors.New("numdiff: bounds dimension mismatch")
		}
		for i, b := range ap.Bounds {
			lb, ub := lower(b), upper(b)
			if lb > ub {
				return errors.New("numdiff: empty bound range")
			}
			if !ap.SkipBoundCheck && (x0[i] < lb || x0[i] > ub) {
				return errors.New("numdiff: x0 violates bounds")
			}
			if !math.IsInf(lb, 0) || !math.IsInf(ub, 0) {
				ap.bounded = true
			}
		}
	}

	if len(ap.f0) != ap.M {
		ap.f0 = make([]float64, ap.M)
		ap.f1 = make([]float64, ap.M)
		ap.f2 = make([]float64, ap.M)
	}
	if len(ap.h) != ap.N {
		ap.xs = make([]float64, ap.N)
		ap.h = make([]float64, ap.N)
		ap.oneSide = make([]bool, ap.N)
	}
	return nil
}

// Jacobian writes the finite difference approximation at x0 into jac.
func (ap *Approx) Jacobian(x0, jac []float64) error {
	return ap.JacobianAt(x0, nil, jac)
}

// JacobianAt is Jacobian with the known value f0 = Func(x0), saving one evaluation.
// A nil f0 is computed.
func (ap *Approx) JacobianAt(x0, f0, jac []float64) error {
	if err := ap.Check(x0, jac); err != nil {
		return err
	}
	if f0 != nil && len(f0) != ap.M {
		return errors.New("numdiff: f0 dimension mismatch")
	}

	ap.initialStep(x0)
	ap.fitBounds(x0)

	if f0 == nil {
		ap.Func(x0, ap.f0)
	} else {
		copy(ap.f0, f0)
	}

	x := ap.xs
	copy(x, x0)
	if ap.Method == Central {
		ap.central(x, jac)
	} else {
		ap.forward(x, jac)
	}
	return nil
}

func lower(b Bound) float64 {
	if math.IsNaN(b[0]) {
		return math.Inf(-1)
	}
	return b[0]
}

func upper(b Bound) float64 {
	if math.IsNaN(b[1]) {
		return math.Inf(1)
	}
	return b[1]
}

func (ap *Approx) initialStep(x0 []float64) {
	eps := sqrtEps
	if ap.Method == Central {
		eps = cubeEps
	}

	for i, v := range x0 {
		s := ap.AbsStep
		if s == 0 && ap.RelStep != 0 {
			s = math.Copysign(ap.RelStep, v) * math.Abs(v)
		}
		// Fall back to the automatic step when the requested one vanishes at v.
		if s == 0 || (v+s)-v == 0 {
			s = math.Copysign(eps, v) * math.Max(1, math.Abs(v))
		}
		ap.h[i] = s
	}
}

// fitBounds flips or shrinks steps that would leave the feasible box and marks
// the Central steps that must become one-sided.
func (ap *Approx) fitBounds(x0 []float64) {
	h, side := ap.h, ap.oneSide
	for i := range side {
		side[i] = false
	}
	if ap.Method == Central {
		for i, v := range h {
			h[i] = math.Abs(v)
		}
	}
	if !ap.bounded {
		return
	}

	for i, x := range x0 {
		lb, ub := lower(ap.Bounds[i]), upper(ap.Bounds[i])
		below, above := x-lb, ub-x

		if ap.Method == Forward {
			fits := math.Abs(h[i]) <= math.Max(below, above)
			if t := x + h[i]; fits && (t < lb || t > ub) {
				h[i] = -h[i]
			} else if !fits {
				if above >= below {
					h[i] = above
				} else {
					h[i] = -below
				}
			}
			continue
		}

		if below >= h[i] && above >= h[i] {
			continue
		}
		if above >= below {
			h[i] = math.Min(h[i], 0.5*above)
		} else {
			h[i] = -math.Min(h[i], 0.5*below)
		}
		side[i] = true
		if near := math.Min(below, above); math.Abs(h[i]) <= near {
			h[i] = near
			side[i] = false
		}
	}
}

func (ap *Approx) store(jac []float64, j int, col []float64) {
	n, m := ap.N, ap.M
	if ap.ColMajor {
		copy(jac[j*m:(j+1)*m], col)
		return
	}
	for i, v := range col {
		jac[j+i*n] = v
	}
}

func (ap *Approx) forward(x0, jac []float64) {
	f0, f1, d := ap.f0, ap.f1, ap.f2
	for j, s := range ap.h {
		x := x0[j]
		x0[j] = x + s
		dx := x0[j] - x
		ap.Func(x0, f1)
		x0[j] = x

		for i := range d {
			d[i] = (f1[i] - f0[i]) / dx
		}
		ap.store(jac, j, d)
	}
}

func (ap *Approx) central(x0, jac []float64) {
	f0, f1, f2 := ap.f0, ap.f1, ap.f2
	d := make([]float64, ap.M)
	for j, s := range ap.h {
		x := x0[j]
		if ap.oneSide[j] {
			x0[j] = x + s
			dx := x0[j] - x
			ap.Func(x0, f1)
			x0[j] = x + 2*s
			ap.Func(x0, f2)
			for i := range d {
				d[i] = (4*f1[i] - 3*f0[i] - f2[i]) / (2 * dx)
			}
		} else {
			x0[j] = x - s
			lo := x0[j]
			ap.Func(x0, f1)
			x0[j] = x + s
			dx := x0[j] - lo
			ap.Func(x0, f2)
			for i := range d {
				d[i] = (f2[i] - f1[i]) / dx
			}
		}
		x0[j] = x
		ap.store(jac, j, d)
	}
}
