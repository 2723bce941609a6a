// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leastsq

import (
	"math"

	"github.com/curioloop/lsqfit/numdiff"
	"gonum.org/v1/gonum/floats"
)

// running marks an unfinished solve.
const running Status = -2

type evalResult int

const (
	evalOK evalResult = iota
	evalNonFinite
	evalPanic
)

type lsqCtx struct {
	x, xNew     []float64 // n
	fTrue, fNew []float64 // m, raw residuals
	f           []float64 // m, residuals scaled by the loss
	jac, jh     []float64 // m × n, Jacobian and its column scaled version
	g, gh       []float64 // n, gradient 𝐉ᵀ𝒇 and its scaled version
	scale       []float64 // n, variable scale 𝐃
	scaleInv    []float64 // n
	step, stepH []float64 // n
	jp          []float64 // m

	tr     trustRegion
	approx numdiff.Approx

	cost  float64
	gNorm float64
	nfev  int
	njev  int
	iter  int
}

func (c *lsqCtx) init(o *Optimizer) {
	n, m := o.n, o.m
	c.x = make([]float64, n)
	c.xNew = make([]float64, n)
	c.fTrue = make([]float64, m)
	c.fNew = make([]float64, m)
	c.f = make([]float64, m)
	c.jac = make([]float64, m*n)
	c.jh = make([]float64, m*n)
	c.g = make([]float64, n)
	c.gh = make([]float64, n)
	c.scale = make([]float64, n)
	c.scaleInv = make([]float64, n)
	c.step = make([]float64, n)
	c.stepH = make([]float64, n)
	c.jp = make([]float64, m)
	c.tr = newTrustRegion(n, m)
	c.approx = numdiff.Approx{N: n, M: m, Method: o.method, Func: o.fun}
}

func (c *lsqCtx) reset() {
	c.cost, c.gNorm = zero, zero
	c.nfev, c.njev, c.iter = 0, 0, 0
}

// lsqDriver runs the iterations of one solve.
type lsqDriver struct {
	optimizer *Optimizer
	workspace *Workspace
}

// residual evaluates 𝒇(x) into f and counts the evaluation.
func (d *lsqDriver) residual(x, f []float64) (res evalResult) {
	d.workspace.nfev++
	defer func() {
		if r := recover(); r != nil {
			res = evalPanic
		}
	}()
	d.optimizer.fun(x, f)
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return evalNonFinite
		}
	}
	return evalOK
}

// jacobian evaluates the Jacobian at the current location, whose residuals
// are already in fTrue.
func (d *lsqDriver) jacobian() (ok bool) {
	o, w := d.optimizer, d.workspace
	w.njev++
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if o.jac != nil {
		o.jac(w.x, w.jac)
	} else if err := w.approx.JacobianAt(w.x, w.fTrue, w.jac); err != nil {
		return false
	}
	for _, v := range w.jac {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// linearize prepares the loss scaled residuals, Jacobian and gradient at the current location.
func (d *lsqDriver) linearize() {
	o, w := d.optimizer, d.workspace
	n := o.n
	copy(w.f, w.fTrue)
	o.loss.robustScale(w.f, w.jac, n, o.fScale)
	for j := range w.g {
		w.g[j] = zero
	}
	for i, fi := range w.f {
		row := w.jac[i*n : (i+1)*n]
		for j, v := range row {
			w.g[j] += v * fi
		}
	}
}

// updateScale sets 𝐃 from XScale or, by default, from the inverse column norms
// of the Jacobian, never letting a column norm decrease between iterations.
func (d *lsqDriver) updateScale(first bool) {
	o, w := d.optimizer, d.workspace
	n := o.n
	if o.xScale != nil {
		if first {
			for j, s := range o.xScale {
				w.scale[j], w.scaleInv[j] = s, one/s
			}
		}
		return
	}
	for j := 0; j < n; j++ {
		sm := zero
		for i := 0; i < o.m; i++ {
			v := w.jac[i*n+j]
			sm += v * v
		}
		cn := math.Sqrt(sm)
		if first {
			if cn == zero {
				cn = one
			}
			w.scaleInv[j] = cn
		} else {
			w.scaleInv[j] = math.Max(w.scaleInv[j], cn)
		}
		w.scale[j] = one / w.scaleInv[j]
	}
}

// predicted returns the reduction -(½‖ 𝐉𝐬 ‖² + 𝐠ᵀ𝐬) of the quadratic model.
func (d *lsqDriver) predicted() float64 {
	w := d.workspace
	n := d.optimizer.n
	q := zero
	for i := range w.jp {
		sm := zero
		row := w.jh[i*n : (i+1)*n]
		for j, v := range row {
			sm += v * w.stepH[j]
		}
		w.jp[i] = sm
		q += sm * sm
	}
	q *= 0.5
	for j, v := range w.gh {
		q += v * w.stepH[j]
	}
	return -q
}

// updateRadius adjusts 𝚫 from the ratio of actual to predicted reduction.
func updateRadius(delta, actual, predicted, stepNorm float64, boundHit bool) (float64, float64) {
	var ratio float64
	switch {
	case predicted > zero:
		ratio = actual / predicted
	case predicted == zero && actual == zero:
		ratio = one
	}

	if ratio < 0.25 {
		delta = 0.25 * stepNorm
	} else if ratio > 0.75 && boundHit {
		delta *= 2.0
	}
	return delta, ratio
}

func checkTermination(dF, F, dxNorm, xNorm, ratio, ftol, xtol float64) Status {
	fOK := dF < ftol*F && ratio > 0.25
	xOK := dxNorm < xtol*(xtol+xNorm)
	switch {
	case fOK && xOK:
		return FTolXTolReached
	case fOK:
		return FTolReached
	case xOK:
		return XTolReached
	}
	return running
}

func (d *lsqDriver) mainLoop() (status Status) {
	o, w := d.optimizer, d.workspace
	log := &o.logger
	n := o.n
	stop := o.stop

	w.reset()
	initCost := math.NaN()
	defer func() { d.printLast(status, initCost) }()

	if d.residual(w.x, w.fTrue) != evalOK || !d.jacobian() {
		return ImproperInput
	}
	w.cost = o.loss.cost(w.fTrue, o.fScale)
	initCost = w.cost
	d.linearize()
	d.updateScale(true)

	delta := zero
	for j, v := range w.x {
		delta = math.Hypot(delta, v*w.scaleInv[j])
	}
	if delta == zero {
		delta = one
	}

	if log.enable(LogIter) {
		log.log("%12s%15s%15s%18s%14s%16s\n", "Iteration", "Total nfev", "Cost", "Cost reduction", "Step norm", "Optimality")
	}

	alpha := zero
	status = running
	for {
		w.gNorm = floats.Norm(w.g, math.Inf(1))
		if w.gNorm < stop.GTol {
			status = GTolReached
		}
		if w.iter == 0 && log.enable(LogIter) {
			log.log("%12d%15d%15.4e%18s%14s%16.2e\n", 0, w.nfev, w.cost, "", "", w.gNorm)
		}
		if status != running || w.nfev >= stop.MaxEvaluations {
			break
		}

		for i := 0; i < o.m; i++ {
			for j := 0; j < n; j++ {
				w.jh[i*n+j] = w.jac[i*n+j] * w.scale[j]
			}
		}
		for j, v := range w.g {
			w.gh[j] = v * w.scale[j]
		}

		actual, costNew, stepNorm := -one, zero, zero
		for actual <= zero && w.nfev < stop.MaxEvaluations {
			alpha = w.tr.step(w.jh, w.f, delta, alpha, w.stepH)
			predicted := d.predicted()

			for j, v := range w.stepH {
				w.step[j] = v * w.scale[j]
				w.xNew[j] = w.x[j] + w.step[j]
			}
			stepHNorm := floats.Norm(w.stepH, 2)

			switch d.residual(w.xNew, w.fNew) {
			case evalPanic:
				return ImproperInput
			case evalNonFinite:
				delta = 0.25 * stepHNorm
				continue
			}

			costNew = o.loss.cost(w.fNew, o.fScale)
			actual = w.cost - costNew
			deltaNew, ratio := updateRadius(delta, actual, predicted, stepHNorm, stepHNorm > 0.95*delta)

			stepNorm = floats.Norm(w.step, 2)
			if status = checkTermination(actual, w.cost, stepNorm, floats.Norm(w.x, 2), ratio, stop.FTol, stop.XTol); status != running {
				break
			}

			alpha *= delta / deltaNew
			delta = deltaNew
		}

		if actual > zero {
			w.x, w.xNew = w.xNew, w.x
			w.fTrue, w.fNew = w.fNew, w.fTrue
			w.cost = costNew
			if !d.jacobian() {
				return ImproperInput
			}
			d.linearize()
			d.updateScale(false)
		} else {
			actual, stepNorm = zero, zero
		}

		w.iter++
		if log.enable(LogIter) {
			log.log("%12d%15d%15.4e%18.2e%14.2e%16.2e\n", w.iter, w.nfev, w.cost, actual, stepNorm, w.gNorm)
		}
		if log.enable(LogVerbose) {
			log.log("%12s x = %v\n", "", w.x)
		}
	}

	if status == running {
		status = MaxEvaluations
	}
	return
}

func (d *lsqDriver) printLast(status Status, initCost float64) {
	w, log := d.workspace, &d.optimizer.logger
	if !log.enable(LogLast) {
		return
	}
	log.log("%v.\n", status)
	if !math.IsNaN(initCost) {
		log.log("Function evaluations %d, initial cost %.4e, final cost %.4e, first-order optimality %.2e.\n",
			w.nfev, initCost, w.cost, w.gNorm)
	}
}
