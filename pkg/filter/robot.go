package filter

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	robotStateDim = 6 // x, y, theta, vx, vy, omega
	robotMeasDim  = 3 // x, y, theta
	thetaIdx      = 2
)

// DefaultRobotDT is the nominal vision period.
const DefaultRobotDT = 1.0 / 60

// Merwe sigma point parameters used by NewRobotFilter.
const (
	SigmaAlpha = 0.1
	SigmaBeta  = 2.0
	SigmaKappa = -1.0
)

// RobotSettings parameterises RobotFilter. Variances are in mm^2,
// (mm/s)^2, rad^2 and (rad/s)^2.
type RobotSettings struct {
	PositionVariance    float64       `json:"position_variance" toml:"position_variance"`
	VelocityVariance    float64       `json:"velocity_variance" toml:"velocity_variance"`
	AngVelVariance      float64       `json:"angvel_variance" toml:"angvel_variance"`
	ThetaVariance       float64       `json:"theta_variance" toml:"theta_variance"`
	ConfidenceThreshold float64       `json:"confidence_threshold" toml:"confidence_threshold"`
	NoDataTimeout       time.Duration `json:"no_data_timeout" toml:"-"`
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func baseRobotSettings() RobotSettings {
	return RobotSettings{
		ThetaVariance:       math.Pow(radians(0.5), 2),
		ConfidenceThreshold: 0.1,
		NoDataTimeout:       10 * time.Second,
	}
}

// UnknownRobotSettings is the preset for a track with no history.
func UnknownRobotSettings() RobotSettings {
	s := baseRobotSettings()
	s.PositionVariance = 10 * 10
	s.VelocityVariance = 50 * 50
	s.AngVelVariance = math.Pow(radians(80), 2)
	return s
}

// KnownRobotSettings is the preset for a robot that is being reacquired.
func KnownRobotSettings() RobotSettings {
	s := baseRobotSettings()
	s.PositionVariance = 5 * 5
	s.VelocityVariance = 200 * 200
	s.AngVelVariance = math.Pow(radians(70), 2)
	return s
}

// Validate rejects non-positive variances.
func (s RobotSettings) Validate() error {
	for name, v := range map[string]float64{
		"position variance":         s.PositionVariance,
		"velocity variance":         s.VelocityVariance,
		"angular velocity variance": s.AngVelVariance,
		"theta variance":            s.ThetaVariance,
	} {
		if !(v > 0) {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidSettings, name, v)
		}
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be in [0, 1], got %v", ErrInvalidSettings, s.ConfidenceThreshold)
	}
	return nil
}

// RobotState is the robot estimate. Theta is in [-pi, pi).
type RobotState struct {
	X, Y, Theta   float64
	VX, VY, Omega float64
}

func (s RobotState) vec() []float64 {
	return []float64{s.X, s.Y, s.Theta, s.VX, s.VY, s.Omega}
}

func robotStateOf(v []float64) RobotState {
	return RobotState{X: v[0], Y: v[1], Theta: v[2], VX: v[3], VY: v[4], Omega: v[5]}
}

// RobotFilter is an unscented Kalman filter for one robot. It is not safe
// for concurrent use.
//
// The process model integrates position and heading at constant velocity.
// Velocities are carried through unchanged: commands sent to the robot and
// collisions with walls or other robots are not modelled yet.
type RobotFilter struct {
	settings RobotSettings
	dt       float64
	points   *SigmaPoints

	x []float64
	p *mat.Dense
	q *mat.Dense
	r *mat.Dense

	sigmasF [][]float64 // propagated sigma points from the last predict
}

// NewRobotFilter creates a filter at the origin with the settings' default
// covariance. A non-positive dt selects DefaultRobotDT.
func NewRobotFilter(s RobotSettings, dt float64) *RobotFilter {
	if dt <= 0 {
		dt = DefaultRobotDT
	}
	f := &RobotFilter{
		settings: s,
		dt:       dt,
		points:   NewMerweSigmaPoints(robotStateDim, SigmaAlpha, SigmaBeta, SigmaKappa),
		q:        diag(0, 0, 0, s.VelocityVariance, s.VelocityVariance, s.AngVelVariance),
		r:        diag(s.PositionVariance, s.PositionVariance, s.ThetaVariance),
	}
	f.SetState(RobotState{}, nil)
	return f
}

// Settings returns the settings the filter was built with.
func (f *RobotFilter) Settings() RobotSettings { return f.settings }

// DefaultCovariance is diag(pos, pos, theta, vel, vel, angvel) of the
// filter's settings.
func (f *RobotFilter) DefaultCovariance() *mat.Dense {
	s := f.settings
	return diag(s.PositionVariance, s.PositionVariance, s.ThetaVariance,
		s.VelocityVariance, s.VelocityVariance, s.AngVelVariance)
}

// SetState reinitialises the estimate. A nil covariance selects
// DefaultCovariance.
func (f *RobotFilter) SetState(s RobotState, cov *mat.Dense) {
	s.Theta = WrapAngle(s.Theta)
	f.x = s.vec()
	if cov == nil {
		f.p = f.DefaultCovariance()
	} else {
		f.p = mat.DenseCopyOf(cov)
	}
	f.sigmasF = nil
}

// State returns the current estimate.
func (f *RobotFilter) State() RobotState { return robotStateOf(f.x) }

// Covariance returns a copy of the state covariance.
func (f *RobotFilter) Covariance() *mat.Dense { return mat.DenseCopyOf(f.p) }

// robotProcess advances one sigma point by dt.
func robotProcess(s []float64, dt float64) []float64 {
	out := append([]float64(nil), s...)
	out[0] += dt * s[3]
	out[1] += dt * s[4]
	out[2] = WrapAngle(s[2] + dt*s[5])
	return out
}

func robotMeasurement(s []float64) []float64 {
	return []float64{s[0], s[1], s[2]}
}

// weightedMean averages sigma points, using the circular mean for the
// heading component.
func weightedMean(sigmas [][]float64, wm []float64) []float64 {
	dim := len(sigmas[0])
	mean := make([]float64, dim)
	angles := make([]float64, len(sigmas))
	for i, s := range sigmas {
		for j := range mean {
			mean[j] += wm[i] * s[j]
		}
		angles[i] = s[thetaIdx]
	}
	mean[thetaIdx] = MeanAngle(angles, wm)
	return mean
}

// residual is a-b with the heading wrapped.
func residual(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	out[thetaIdx] = WrapAngle(out[thetaIdx])
	return out
}

// Predict advances the estimate by dt seconds. A non-positive dt uses the
// filter's default.
func (f *RobotFilter) Predict(dt float64) error {
	if dt <= 0 {
		dt = f.dt
	}
	sigmas, err := f.points.Points(f.x, f.p)
	if err != nil {
		return err
	}
	for i := range sigmas {
		sigmas[i] = robotProcess(sigmas[i], dt)
	}

	wm, wc := f.points.wm, f.points.wc
	x := weightedMean(sigmas, wm)

	p := mat.DenseCopyOf(f.q)
	for i, s := range sigmas {
		d := residual(s, x)
		addOuter(p, wc[i], d, d)
	}

	f.x = x
	f.p = p
	f.sigmasF = sigmas
	return nil
}

// Update corrects the estimate with a pose measurement.
func (f *RobotFilter) Update(x, y, theta float64) error {
	if f.sigmasF == nil {
		sigmas, err := f.points.Points(f.x, f.p)
		if err != nil {
			return err
		}
		f.sigmasF = sigmas
	}
	wm, wc := f.points.wm, f.points.wc

	sigmasH := make([][]float64, len(f.sigmasF))
	for i, s := range f.sigmasF {
		sigmasH[i] = robotMeasurement(s)
	}
	zp := weightedMean(sigmasH, wm)

	pz := mat.DenseCopyOf(f.r)
	pxz := mat.NewDense(robotStateDim, robotMeasDim, nil)
	for i := range f.sigmasF {
		dz := residual(sigmasH[i], zp)
		addOuter(pz, wc[i], dz, dz)
		addOuter(pxz, wc[i], residual(f.sigmasF[i], f.x), dz)
	}

	var pzInv mat.Dense
	if err := pzInv.Inverse(pz); err != nil {
		return fmt.Errorf("filter: innovation covariance: %w", err)
	}
	var k mat.Dense
	k.Mul(pxz, &pzInv)

	innov := residual([]float64{x, y, theta}, zp)
	var dx mat.VecDense
	dx.MulVec(&k, mat.NewVecDense(robotMeasDim, innov))
	for i := range f.x {
		f.x[i] += dx.AtVec(i)
	}
	f.x[thetaIdx] = WrapAngle(f.x[thetaIdx])

	// P -= K Pz K'
	var kpz, kpzk mat.Dense
	kpz.Mul(&k, pz)
	kpzk.Mul(&kpz, k.T())
	f.p.Sub(f.p, &kpzk)
	f.sigmasF = nil
	return nil
}

// addOuter adds w * a b' to m.
func addOuter(m *mat.Dense, w float64, a, b []float64) {
	for i, ai := range a {
		for j, bj := range b {
			m.Set(i, j, m.At(i, j)+w*ai*bj)
		}
	}
}
