// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leastsq minimizes a sum of squared residuals ½‖𝒇(𝐱)‖₂² of a
// vector function 𝒇 : ℝⁿ → ℝᵐ with a trust-region reflective method.
//
// Each iteration linearizes 𝒇 around 𝐱 and solves the subproblem
//
//	𝚖𝚒𝚗 ‖ 𝐉𝐩 + 𝒇 ‖₂ subject to ‖ 𝐃⁻¹𝐩 ‖₂ ≤ 𝚫
//
// where 𝐃 scales the variables. The Gauss-Newton step is taken when it fits
// inside the region, otherwise a Levenberg-Marquardt parameter α > 0 is found
// such that the solution of (𝐉ᵀ𝐉 + α𝐃⁻²)𝐩 = -𝐉ᵀ𝒇 lies on its boundary.
// The radius 𝚫 grows or shrinks with the agreement between the actual and the
// predicted reduction of the cost.
//
// # References
//
//   - M. A. Branch, T. F. Coleman, Y. Li, 'A Subspace, Interior, and Conjugate Gradient Method
//     for Large-Scale Bound-Constrained Minimization Problems', SIAM J. Sci. Comput. 21, 1999.
//   - J. J. Moré, 'The Levenberg-Marquardt Algorithm: Implementation and Theory',
//     Numerical Analysis, Lecture Notes in Mathematics 630, Springer, 1978.
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_lsq/trf.py
package leastsq

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/curioloop/lsqfit/numdiff"
)

const (
	zero = 0.0
	one  = 1.0
	eps  = float64(7)/3 - float64(4)/3 - 1.
)

// ErrNotConverged is wrapped by Result.Err when the solver stopped without
// meeting a tolerance.
var ErrNotConverged = errors.New("leastsq: solver did not converge")

// LogLevel controls the amount of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogLast print a termination report.
	LogLast LogLevel = 0
	// LogIter print also one line per iteration.
	LogIter LogLevel = 1
	// LogVerbose print also the location of every iteration.
	LogVerbose LogLevel = 2
)

// Logger handles the progress output of the solver.
type Logger struct {
	Level LogLevel
	Msg   io.Writer
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Msg, format, a...)
}

// Status describes why the solver stopped.
type Status int

const (
	// ImproperInput the residual could not be evaluated at a trial point.
	ImproperInput Status = -1
	// MaxEvaluations the evaluation budget is exhausted.
	MaxEvaluations Status = 0
	// GTolReached ‖ 𝐉ᵀ𝒇 ‖∞ < 𝚐𝚝𝚘𝚕
	GTolReached Status = 1
	// FTolReached 𝚍𝙵 < 𝚏𝚝𝚘𝚕 · 𝙵
	FTolReached Status = 2
	// XTolReached ‖ 𝚍𝐱 ‖ < 𝚡𝚝𝚘𝚕 · (𝚡𝚝𝚘𝚕 + ‖ 𝐱 ‖)
	XTolReached Status = 3
	// FTolXTolReached both FTolReached and XTolReached.
	FTolXTolReached Status = 4
)

func (s Status) String() string {
	switch s {
	case ImproperInput:
		return "residual evaluation failed or returned non-finite values"
	case MaxEvaluations:
		return "the maximum number of function evaluations is exceeded"
	case GTolReached:
		return "gtol termination condition is satisfied"
	case FTolReached:
		return "ftol termination condition is satisfied"
	case XTolReached:
		return "xtol termination condition is satisfied"
	case FTolXTolReached:
		return "both ftol and xtol termination conditions are satisfied"
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

// Residual evaluates the m-vector 𝒇(𝐱) into f.
type Residual func(x, f []float64)

// Jacobian evaluates the m × n row-major matrix ∂𝒇/∂𝐱 into jac.
type Jacobian func(x, jac []float64)

// Termination specifies the stopping criteria.
// A zero tolerance selects the default 1e-8, NaN disables the test.
type Termination struct {
	// Stop when the cost reduction satisfies 𝚍𝙵 < 𝚏𝚝𝚘𝚕 · 𝙵 on a step with good model agreement.
	FTol float64
	// Stop when the step satisfies ‖ 𝚍𝐱 ‖ < 𝚡𝚝𝚘𝚕 · (𝚡𝚝𝚘𝚕 + ‖ 𝐱 ‖).
	XTol float64
	// Stop when the gradient satisfies ‖ 𝐉ᵀ𝒇 ‖∞ < 𝚐𝚝𝚘𝚕.
	GTol float64
	// Stop after this many residual evaluations, 100n when zero.
	// Jacobian evaluations are not counted.
	MaxEvaluations int
}

// Problem specifies the least-squares problem.
type Problem struct {
	N, M     int            // The number of variables and residuals
	Residual Residual       // Residual function 𝒇(𝐱)
	Jacobian Jacobian       // Optional analytic Jacobian
	Method   numdiff.Method // Difference scheme used without Jacobian
	Loss     Loss           // Robust loss, Linear by default
	FScale   float64        // Soft margin C between inliers and outliers, 1 when zero
	XScale   []float64      // Optional characteristic scale of each variable
	Stop     Termination    // Stop condition
}

type lsqSpec struct {
	n, m   int
	fun    Residual
	jac    Jacobian
	method numdiff.Method
	loss   Loss
	fScale float64
	xScale []float64
	stop   Termination
	logger Logger
}

func tolerance(v float64) float64 {
	switch {
	case v == zero:
		return 1e-8
	case math.IsNaN(v):
		return zero
	}
	return v
}

// New creates a solver for the problem.
func (p *Problem) New(logger *Logger) (*Optimizer, error) {
	lg := Logger{Level: LogNoop}
	if logger != nil {
		lg = *logger
	}
	if lg.Msg == nil {
		lg.Msg = os.Stdout
	}

	stop := p.Stop
	stop.FTol = tolerance(stop.FTol)
	stop.XTol = tolerance(stop.XTol)
	stop.GTol = tolerance(stop.GTol)
	if stop.MaxEvaluations == 0 {
		stop.MaxEvaluations = 100 * p.N
	}

	fScale := p.FScale
	if fScale == zero {
		fScale = one
	}

	var err error
	switch {
	case p.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.M <= 0:
		err = errors.New("residual number must greater than 0")
	case p.Residual == nil:
		err = errors.New("residual function is required")
	case p.Method != numdiff.Forward && p.Method != numdiff.Central:
		err = errors.New("unknown difference method")
	case p.Loss < Linear || p.Loss > Arctan:
		err = errors.New("unknown loss function")
	case !(fScale > zero) || math.IsInf(fScale, 0):
		err = errors.New("loss scale must be positive and finite")
	case stop.FTol < zero || stop.XTol < zero || stop.GTol < zero:
		err = errors.New("tolerances must not less than 0")
	case stop.FTol < eps && stop.XTol < eps && stop.GTol < eps:
		err = errors.New("at least one tolerance must not less than machine epsilon")
	case stop.MaxEvaluations < 0:
		err = errors.New("max evaluations must not less than 0")
	case p.XScale != nil && len(p.XScale) != p.N:
		err = errors.New("x scale size must equal to n")
	}
	if err != nil {
		return nil, err
	}

	for k, s := range p.XScale {
		if !(s > zero) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("x scale at %d must be positive and finite", k)
		}
	}

	return &Optimizer{
		lsqSpec{
			n: p.N, m: p.M,
			fun:    p.Residual,
			jac:    p.Jacobian,
			method: p.Method,
			loss:   p.Loss,
			fScale: fScale,
			xScale: slices.Clone(p.XScale),
			stop:   stop,
			logger: lg,
		},
	}, nil
}

// Optimizer implements the trust-region least-squares method.
type Optimizer struct {
	lsqSpec
}

// Workspace holds the mutable state of one solve.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
type Workspace struct {
	n, m int
	lsqCtx
}

// Result contains the final result of the optimization process.
type Result struct {
	OK         bool      // Whether a tolerance was met.
	X          []float64 // Final solution.
	Cost       float64   // Final value of the cost function.
	Fun        []float64 // Residuals at the solution.
	Jac        []float64 // Row-major Jacobian at the solution, scaled by the loss.
	Grad       []float64 // Gradient of the cost at the solution.
	Optimality float64   // ‖ Grad ‖∞ at the solution.
	Summary              // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status     Status // Final status after optimization.
	NumIter    int    // Number of iterations performed.
	NumEval    int    // Number of residual evaluations.
	NumJacEval int    // Number of Jacobian evaluations.
}

// Err returns nil on convergence or an error wrapping ErrNotConverged.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrNotConverged, r.Status)
}

// Init allocates the workspace for the optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m = o.n, o.m
	w.init(o)
	return w
}

// Fit runs the optimization from the initial guess x0 using workspace w.
func (o *Optimizer) Fit(x0 []float64, w *Workspace) *Result {
	if len(x0) != o.n {
		panic("initial x dimension not match problem")
	}
	if w.n != o.n || w.m != o.m {
		panic("workspace dimension not match problem")
	}

	copy(w.x, x0)
	d := lsqDriver{optimizer: o, workspace: w}
	status := d.mainLoop()

	return &Result{
		OK:         status > MaxEvaluations,
		X:          slices.Clone(w.x),
		Cost:       w.cost,
		Fun:        slices.Clone(w.fTrue),
		Jac:        slices.Clone(w.jac),
		Grad:       slices.Clone(w.g),
		Optimality: w.gNorm,
		Summary: Summary{
			Status:     status,
			NumIter:    w.iter,
			NumEval:    w.nfev,
			NumJacEval: w.njev,
		},
	}
}
