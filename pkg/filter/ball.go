// Package filter estimates ball and robot state from vision detections.
//
// BallFilter is a linear Kalman filter over [x, vx, y, vy] with a constant
// friction deceleration opposing the estimated velocity. RobotFilter is an
// unscented Kalman filter over [x, y, theta, vx, vy, omega] whose means and
// residuals treat theta as an angle.
package filter

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidSettings reports a non-physical filter parameter.
var ErrInvalidSettings = errors.New("filter: invalid settings")

// Gravity in mm/s^2; vision reports millimetres.
const Gravity = 9806.65

// BallSettings parameterises BallFilter. Units are mm and seconds.
type BallSettings struct {
	FrictionDecel       float64 `json:"friction_decel" toml:"friction_decel"`
	FrictionDeadzone    float64 `json:"friction_deadzone" toml:"friction_deadzone"`
	ProcessVariance     float64 `json:"process_variance" toml:"process_variance"`
	MeasurementVariance float64 `json:"measurement_variance" toml:"measurement_variance"`
	InitialVariance     float64 `json:"initial_variance" toml:"initial_variance"`
}

// DefaultBallSettings models rolling friction of 0.07 g.
func DefaultBallSettings() BallSettings {
	return BallSettings{
		FrictionDecel:       0.07 * Gravity,
		FrictionDeadzone:    1e-6,
		ProcessVariance:     3.5,
		MeasurementVariance: 10,
		InitialVariance:     10,
	}
}

// Validate rejects negative deceleration, deadzone or variances.
func (s BallSettings) Validate() error {
	switch {
	case s.FrictionDecel < 0 || math.IsNaN(s.FrictionDecel):
		return fmt.Errorf("%w: friction deceleration must be >= 0, got %v", ErrInvalidSettings, s.FrictionDecel)
	case s.FrictionDeadzone < 0:
		return fmt.Errorf("%w: friction deadzone must be >= 0, got %v", ErrInvalidSettings, s.FrictionDeadzone)
	case s.ProcessVariance < 0:
		return fmt.Errorf("%w: process variance must be >= 0, got %v", ErrInvalidSettings, s.ProcessVariance)
	case s.MeasurementVariance <= 0:
		return fmt.Errorf("%w: measurement variance must be > 0, got %v", ErrInvalidSettings, s.MeasurementVariance)
	case s.InitialVariance <= 0:
		return fmt.Errorf("%w: initial variance must be > 0, got %v", ErrInvalidSettings, s.InitialVariance)
	}
	return nil
}

// BallState is the ball estimate.
type BallState struct {
	X, VX, Y, VY float64
}

// BallFilter is not safe for concurrent use.
type BallFilter struct {
	settings BallSettings

	x *mat.VecDense // [x, vx, y, vy]
	p *mat.Dense
	h *mat.Dense
	r *mat.Dense

	timestamp float64
}

// NewBallFilter starts at rest at the origin with diagonal covariance.
func NewBallFilter(s BallSettings) (*BallFilter, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	f := &BallFilter{
		x: mat.NewVecDense(4, nil),
		h: mat.NewDense(2, 4, []float64{
			1, 0, 0, 0,
			0, 0, 1, 0,
		}),
	}
	f.settings = s
	f.r = diag(s.MeasurementVariance, s.MeasurementVariance)
	f.p = diag(s.InitialVariance, s.InitialVariance, s.InitialVariance, s.InitialVariance)
	return f, nil
}

// Settings returns the current settings.
func (f *BallFilter) Settings() BallSettings { return f.settings }

// SetSettings replaces the settings without touching the state estimate.
func (f *BallFilter) SetSettings(s BallSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f.settings = s
	f.r = diag(s.MeasurementVariance, s.MeasurementVariance)
	return nil
}

// SetState resets the estimate and its covariance.
func (f *BallFilter) SetState(s BallState) {
	f.x.SetVec(0, s.X)
	f.x.SetVec(1, s.VX)
	f.x.SetVec(2, s.Y)
	f.x.SetVec(3, s.VY)
	v := f.settings.InitialVariance
	f.p = diag(v, v, v, v)
}

// State returns the current estimate.
func (f *BallFilter) State() BallState {
	return BallState{X: f.x.AtVec(0), VX: f.x.AtVec(1), Y: f.x.AtVec(2), VY: f.x.AtVec(3)}
}

// Covariance returns a copy of the state covariance.
func (f *BallFilter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.p)
}

// Timestamp is the sum of every dt passed to Predict.
func (f *BallFilter) Timestamp() float64 { return f.timestamp }

// FrictionInput returns the acceleration applied per axis on the next
// predict: the friction deceleration against the sign of the velocity,
// or exactly zero when the velocity is inside the deadzone.
func (f *BallFilter) FrictionInput() [2]float64 {
	s := f.settings
	return [2]float64{
		-sign(deadzone(f.x.AtVec(1), s.FrictionDeadzone)) * s.FrictionDecel,
		-sign(deadzone(f.x.AtVec(3), s.FrictionDeadzone)) * s.FrictionDecel,
	}
}

// Predict advances the estimate by dt seconds. F, B and Q depend on dt and
// are rebuilt every call.
func (f *BallFilter) Predict(dt float64) {
	u := f.FrictionInput()

	fm := mat.NewDense(4, 4, []float64{
		1, dt, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, dt,
		0, 0, 0, 1,
	})
	b := mat.NewDense(4, 2, []float64{
		0, 0,
		dt, 0,
		0, 0,
		0, dt,
	})

	var x, bu mat.VecDense
	x.MulVec(fm, f.x)
	bu.MulVec(b, mat.NewVecDense(2, u[:]))
	x.AddVec(&x, &bu)
	f.x = &x

	var fp, p mat.Dense
	fp.Mul(fm, f.p)
	p.Mul(&fp, fm.T())
	p.Add(&p, piecewiseWhiteNoise(dt, f.settings.ProcessVariance))
	f.p = &p

	f.timestamp += dt
}

// Update corrects the estimate with a position measurement.
func (f *BallFilter) Update(x, y float64) error {
	z := mat.NewVecDense(2, []float64{x, y})

	var hx, resid mat.VecDense
	hx.MulVec(f.h, f.x)
	resid.SubVec(z, &hx)

	// S = H P H' + R
	var ph, s mat.Dense
	ph.Mul(f.p, f.h.T())
	s.Mul(f.h, &ph)
	s.Add(&s, f.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("filter: innovation covariance: %w", err)
	}
	var k mat.Dense
	k.Mul(&ph, &sInv)

	var dx mat.VecDense
	dx.MulVec(&k, &resid)
	f.x.AddVec(f.x, &dx)

	// Joseph form keeps P symmetric: (I-KH) P (I-KH)' + K R K'
	var ikh mat.Dense
	ikh.Mul(&k, f.h)
	ikh.Sub(eye(4), &ikh)

	var a, p, kr, krk mat.Dense
	a.Mul(&ikh, f.p)
	p.Mul(&a, ikh.T())
	kr.Mul(&k, f.r)
	krk.Mul(&kr, k.T())
	p.Add(&p, &krk)
	f.p = &p
	return nil
}

// piecewiseWhiteNoise is the discrete process noise for two independent
// [position, velocity] axes driven by constant-per-step acceleration.
func piecewiseWhiteNoise(dt, variance float64) *mat.Dense {
	dt2 := dt * dt
	a := dt2 * dt2 / 4 * variance
	b := dt2 * dt / 2 * variance
	c := dt2 * variance
	return mat.NewDense(4, 4, []float64{
		a, b, 0, 0,
		b, c, 0, 0,
		0, 0, a, b,
		0, 0, b, c,
	})
}

func deadzone(v, dz float64) float64 {
	if math.Abs(v) < dz {
		return 0
	}
	return v
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func diag(v ...float64) *mat.Dense {
	d := mat.NewDense(len(v), len(v), nil)
	for i, x := range v {
		d.Set(i, i, x)
	}
	return d
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
