package filter

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when a covariance cannot be factorised
// even after adding jitter to its diagonal.
var ErrNotPositiveDefinite = errors.New("filter: covariance is not positive definite")

const (
	jitterStart    = 1e-9
	jitterAttempts = 6
)

// SigmaPoints generates Van der Merwe scaled sigma points.
type SigmaPoints struct {
	n                  int
	alpha, beta, kappa float64
	lambda             float64
	wm, wc             []float64
}

// NewMerweSigmaPoints returns 2n+1 point weights for an n-dimensional state.
func NewMerweSigmaPoints(n int, alpha, beta, kappa float64) *SigmaPoints {
	lambda := alpha*alpha*(float64(n)+kappa) - float64(n)
	c := 0.5 / (float64(n) + lambda)

	wm := make([]float64, 2*n+1)
	wc := make([]float64, 2*n+1)
	for i := range wm {
		wm[i], wc[i] = c, c
	}
	wm[0] = lambda / (float64(n) + lambda)
	wc[0] = wm[0] + (1 - alpha*alpha + beta)

	return &SigmaPoints{n: n, alpha: alpha, beta: beta, kappa: kappa, lambda: lambda, wm: wm, wc: wc}
}

// Len returns the number of sigma points.
func (s *SigmaPoints) Len() int { return 2*s.n + 1 }

// Weights returns copies of the mean and covariance weights.
func (s *SigmaPoints) Weights() (wm, wc []float64) {
	return append([]float64(nil), s.wm...), append([]float64(nil), s.wc...)
}

// Points spreads sigma points around x using the Cholesky factor of
// (n+lambda)P. P is symmetrised first.
func (s *SigmaPoints) Points(x []float64, p mat.Matrix) ([][]float64, error) {
	n := s.n
	scale := float64(n) + s.lambda

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, scale*(p.At(i, j)+p.At(j, i))/2)
		}
	}

	var chol mat.Cholesky
	ok := chol.Factorize(sym)
	for jitter, try := jitterStart, 0; !ok && try < jitterAttempts; jitter, try = jitter*10, try+1 {
		for i := 0; i < n; i++ {
			sym.SetSym(i, i, sym.At(i, i)+jitter)
		}
		ok = chol.Factorize(sym)
	}
	if !ok {
		return nil, ErrNotPositiveDefinite
	}

	var l mat.TriDense
	chol.LTo(&l)

	pts := make([][]float64, 2*n+1)
	pts[0] = append([]float64(nil), x...)
	for k := 0; k < n; k++ {
		plus := make([]float64, n)
		minus := make([]float64, n)
		for i := 0; i < n; i++ {
			d := l.At(i, k)
			plus[i] = x[i] + d
			minus[i] = x[i] - d
		}
		pts[k+1] = plus
		pts[n+k+1] = minus
	}
	return pts, nil
}
