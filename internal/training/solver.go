package training

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch = errors.New("normal equations shape mismatch")
	ErrInvalidRidge  = errors.New("invalid ridge lambda")
	ErrNonFinite     = errors.New("non-finite normal equations")
	ErrSolveFailed   = errors.New("least-squares solve failed")
)

// machineEpsilon is the float64 unit roundoff used to scale the SVD cutoff.
var machineEpsilon = math.Nextafter(1, 2) - 1

// SolveNormalEquations solves (S + λI)β = b. A direct LU solve is tried first;
// if the system is singular or too ill-conditioned the minimum-norm
// least-squares solution from a thin SVD is returned instead, with singular
// values below eps·p·σ_max treated as zero.
func SolveNormalEquations(s mat.Symmetric, b mat.Vector, lambda float64) (*mat.VecDense, error) {
	p := s.SymmetricDim()
	if p == 0 {
		return nil, fmt.Errorf("%w: empty system", ErrShapeMismatch)
	}
	if b.Len() != p {
		return nil, fmt.Errorf("%w: S is %dx%d, b has %d entries", ErrShapeMismatch, p, p, b.Len())
	}
	if math.IsNaN(lambda) || math.IsInf(lambda, 0) || lambda < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRidge, lambda)
	}

	if !isFiniteVector(b) {
		return nil, fmt.Errorf("%w: b", ErrNonFinite)
	}

	a := mat.NewSymDense(p, nil)
	a.CopySym(s)
	for i := 0; i < p; i++ {
		if lambda > 0 {
			a.SetSym(i, i, a.At(i, i)+lambda)
		}
		for j := i; j < p; j++ {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: S[%d,%d]", ErrNonFinite, i, j)
			}
		}
	}

	beta := mat.NewVecDense(p, nil)
	if err := beta.SolveVec(a, b); err == nil && isFiniteVector(beta) {
		return beta, nil
	}
	return minNormSolve(a, b)
}

func minNormSolve(a mat.Matrix, b mat.Vector) (*mat.VecDense, error) {
	_, p := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, ErrSolveFailed
	}

	beta := mat.NewVecDense(p, nil)
	rank := svd.Rank(machineEpsilon * float64(p))
	if rank == 0 {
		return beta, nil
	}
	svd.SolveVecTo(beta, b, rank)
	if !isFiniteVector(beta) {
		return nil, ErrSolveFailed
	}
	return beta, nil
}

func isFiniteVector(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
