// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lstsq solves dense linear least-squares problems 𝐀𝐱 ≅ 𝐛 with
// Householder orthogonal transformations, with or without a non-negativity
// constraint on 𝐱.
//
// The kernels work in place on column-major arrays with an explicit leading
// dimension. NonNegative and Ordinary wrap them for gonum matrices.
//
// # References
//
//	C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
package lstsq

import "errors"

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

// Mode reports how a kernel terminated.
type Mode int

const (
	// HasSolution problem solved successfully.
	HasSolution Mode = iota + 1
	// BadArgument input dimension unacceptable.
	BadArgument
	// ExceedMaxIter more than max iterations for solving NNLS.
	ExceedMaxIter
)

func (m Mode) String() string {
	switch m {
	case HasSolution:
		return "has solution"
	case BadArgument:
		return "bad argument"
	case ExceedMaxIter:
		return "iteration limit exceeded"
	}
	return "unknown"
}

var (
	// ErrDimension is returned when 𝐀 and 𝐛 disagree on the number of rows.
	ErrDimension = errors.New("lstsq: dimension mismatch")
	// ErrMaxIter is returned when NNLS runs out of iterations.
	ErrMaxIter = errors.New("lstsq: nnls iteration limit exceeded")
)
