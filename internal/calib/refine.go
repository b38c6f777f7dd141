package calib

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// refiner is a Levenberg-Marquardt minimizer of the summed squared reprojection
// error. The Jacobian is taken by central differences, one view block at a time:
// pose parameters only touch the residuals of their own view.
type refiner struct {
	p      Problem
	aspect float64

	nPoints int
	nRes    int
	nParams int

	res    []float64
	resTry []float64
	plus   []float64
	minus  []float64
	trial  []float64
	jac    *mat.Dense
}

func newRefiner(p Problem, aspect float64) *refiner {
	nPoints := len(p.Object)
	nRes := 2 * nPoints * len(p.Views)
	nParams := numIntrinsic + numPose*len(p.Views)
	return &refiner{
		p:       p,
		aspect:  aspect,
		nPoints: nPoints,
		nRes:    nRes,
		nParams: nParams,
		res:     make([]float64, nRes),
		resTry:  make([]float64, nRes),
		plus:    make([]float64, nRes),
		minus:   make([]float64, nRes),
		trial:   make([]float64, nParams),
		jac:     mat.NewDense(nRes, nParams, nil),
	}
}

// viewResiduals writes the 2*nPoints residuals of view v into out.
func (r *refiner) viewResiduals(params []float64, v int, out []float64) {
	fy := params[paramFy]
	fx := r.aspect * fy
	cx, cy := params[paramCx], params[paramCy]
	d := Distortion{K1: params[paramK1], K2: params[paramK2], P1: params[paramP1], P2: params[paramP2], K3: params[paramK3]}

	base := numIntrinsic + numPose*v
	rot := Rodrigues([3]float64{params[base], params[base+1], params[base+2]})
	t := [3]float64{params[base+3], params[base+4], params[base+5]}

	obs := r.p.Views[v]
	for i, obj := range r.p.Object {
		proj := projectWith(fx, fy, cx, cy, d, rot, t, obj)
		out[2*i] = proj.X - obs[i].X
		out[2*i+1] = proj.Y - obs[i].Y
	}
}

func (r *refiner) residuals(params []float64, out []float64) {
	stride := 2 * r.nPoints
	for v := range r.p.Views {
		r.viewResiduals(params, v, out[v*stride:(v+1)*stride])
	}
}

func step(x float64) float64 {
	return 1e-6 * math.Max(1, math.Abs(x))
}

func (r *refiner) jacobian(params []float64) {
	r.jac.Zero()
	copy(r.trial, params)

	for j := 0; j < numIntrinsic; j++ {
		h := step(params[j])
		r.trial[j] = params[j] + h
		r.residuals(r.trial, r.plus)
		r.trial[j] = params[j] - h
		r.residuals(r.trial, r.minus)
		r.trial[j] = params[j]
		for i := 0; i < r.nRes; i++ {
			r.jac.Set(i, j, (r.plus[i]-r.minus[i])/(2*h))
		}
	}

	stride := 2 * r.nPoints
	for v := range r.p.Views {
		plus := r.plus[:stride]
		minus := r.minus[:stride]
		row0 := v * stride
		for k := 0; k < numPose; k++ {
			j := numIntrinsic + numPose*v + k
			h := step(params[j])
			r.trial[j] = params[j] + h
			r.viewResiduals(r.trial, v, plus)
			r.trial[j] = params[j] - h
			r.viewResiduals(r.trial, v, minus)
			r.trial[j] = params[j]
			for i := 0; i < stride; i++ {
				r.jac.Set(row0+i, j, (plus[i]-minus[i])/(2*h))
			}
		}
	}
}

// run refines params in place and returns the final sum of squared residuals.
func (r *refiner) run(ctx context.Context, params []float64) (float64, error) {
	r.residuals(params, r.res)
	cost := floats.Dot(r.res, r.res)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0, errors.Wrap(ErrNumericalFailure, "initial estimate does not project")
	}

	var (
		jtj   mat.SymDense
		jtr   mat.VecDense
		delta mat.VecDense
		chol  mat.Cholesky
	)
	damped := mat.NewSymDense(r.nParams, nil)
	rhs := mat.NewVecDense(r.nParams, nil)
	lambda := 1e-3

	for iter := 0; iter < r.p.Options.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return 0, errors.Wrap(err, "calibration solve cancelled")
		}

		r.jacobian(params)
		jtj.SymOuterK(1, r.jac.T())
		jtr.MulVec(r.jac.T(), mat.NewVecDense(r.nRes, r.res))
		for i := 0; i < r.nParams; i++ {
			rhs.SetVec(i, -jtr.AtVec(i))
		}

		accepted := false
		for tries := 0; tries < 12 && !accepted; tries++ {
			damped.CopySym(&jtj)
			for i := 0; i < r.nParams; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*(d+1e-12))
			}
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			if err := chol.SolveVecTo(&delta, rhs); err != nil {
				// An ill-conditioned system still yields a usable step.
				if _, ill := err.(mat.Condition); !ill {
					lambda *= 10
					continue
				}
			}

			for i := range r.trial {
				r.trial[i] = params[i] + delta.AtVec(i)
			}
			r.residuals(r.trial, r.resTry)
			next := floats.Dot(r.resTry, r.resTry)
			if next < cost && !math.IsNaN(next) {
				accepted = true
				change := floats.Norm(delta.RawVector().Data, 2) / math.Max(floats.Norm(params, 2), 1e-300)
				copy(params, r.trial)
				r.res, r.resTry = r.resTry, r.res
				cost = next
				lambda = math.Max(lambda/10, 1e-15)
				if change < r.p.Options.Epsilon {
					return cost, nil
				}
			} else {
				lambda *= 10
			}
		}
		if !accepted {
			break
		}
	}
	return cost, nil
}

func (r *refiner) perViewErrors(params []float64) []float64 {
	stride := 2 * r.nPoints
	out := make([]float64, len(r.p.Views))
	buf := r.plus[:stride]
	for v := range r.p.Views {
		r.viewResiduals(params, v, buf)
		out[v] = math.Sqrt(floats.Dot(buf, buf) / float64(r.nPoints))
	}
	return out
}
