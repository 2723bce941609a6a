// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fit solves a fixed 6 × 2 linear system twice, once subject to
// 𝐱 ≥ 0 and once without constraints, and reports both solutions.
package fit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/curioloop/lsqfit/leastsq"
	"github.com/curioloop/lsqfit/lstsq"
	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when 𝐀, 𝐛 and 𝐱₀ disagree in shape.
var ErrDimension = errors.New("fit: dimension mismatch")

var (
	coefficients = []float64{
		122, 360000,
		189, 572000,
		352, 873000,
		220, 433000,
		64, 202000,
		66, 87000,
	}
	targets = []float64{287.61238, 476.7069, 847.02758, 494.35278, 153.83918, 102.76214}
)

// Coefficients returns a copy of the 6 × 2 coefficient matrix 𝐀.
func Coefficients() *mat.Dense {
	return mat.NewDense(len(targets), 2, append([]float64(nil), coefficients...))
}

// Targets returns a copy of the target vector 𝐛.
func Targets() *mat.VecDense {
	return mat.NewVecDense(len(targets), append([]float64(nil), targets...))
}

func rawVector(b mat.Vector) []float64 {
	v := make([]float64, b.Len())
	for i := range v {
		v[i] = b.AtVec(i)
	}
	return v
}

// SolveNonNegative minimizes ‖ 𝐀𝐱 - 𝐛 ‖₂ subject to 𝐱 ≥ 0.
func SolveNonNegative(a mat.Matrix, b mat.Vector) (*mat.VecDense, error) {
	if m, _ := a.Dims(); m != b.Len() {
		return nil, fmt.Errorf("%w: %d rows against %d targets", ErrDimension, m, b.Len())
	}
	sol, err := lstsq.NonNegative(a, rawVector(b), 0)
	if err != nil {
		return nil, fmt.Errorf("non-negative solve: %w", err)
	}
	return mat.NewVecDense(len(sol.X), sol.X), nil
}

// SolveUnconstrained minimizes ½‖ 𝐀𝐱 - 𝐛 ‖₂² iteratively starting from x0.
func SolveUnconstrained(a mat.Matrix, b mat.Vector, x0 []float64) (*mat.VecDense, error) {
	m, n := a.Dims()
	switch {
	case m != b.Len():
		return nil, fmt.Errorf("%w: %d rows against %d targets", ErrDimension, m, b.Len())
	case n != len(x0):
		return nil, fmt.Errorf("%w: %d columns against %d initial values", ErrDimension, n, len(x0))
	}

	ad := mat.DenseCopyOf(a)
	bv := rawVector(b)
	p := leastsq.Problem{
		N: n, M: m,
		Residual: func(x, f []float64) {
			xv := mat.NewVecDense(n, x)
			fv := mat.NewVecDense(m, f)
			fv.MulVec(ad, xv)
			for i, v := range bv {
				f[i] -= v
			}
		},
		Jacobian: func(_, jac []float64) {
			copy(jac, ad.RawMatrix().Data)
		},
	}

	opt, err := p.New(nil)
	if err != nil {
		return nil, err
	}
	res := opt.Fit(x0, opt.Init())
	if err = res.Err(); err != nil {
		return nil, fmt.Errorf("unconstrained solve: %w", err)
	}
	return mat.NewVecDense(n, res.X), nil
}

// Report writes both solutions as labeled row vectors.
func Report(w io.Writer, x, xlsq mat.Vector) {
	_, _ = fmt.Fprintf(w, "non-negative x and y:\n%v\n", mat.Formatted(x.T()))
	_, _ = fmt.Fprintf(w, "least squares solution:\n%v\n", mat.Formatted(xlsq.T()))
}

// Run solves the built-in system both ways and reports to w.
func Run(w io.Writer, logger *slog.Logger) error {
	a, b := Coefficients(), Targets()

	x, err := SolveNonNegative(a, b)
	if err != nil {
		return err
	}
	logger.Debug("non-negative solution", "x", x.RawVector().Data)

	_, n := a.Dims()
	xlsq, err := SolveUnconstrained(a, b, make([]float64, n))
	if err != nil {
		return err
	}
	logger.Debug("least squares solution", "x", xlsq.RawVector().Data)

	Report(w, x, xlsq)
	return nil
}
