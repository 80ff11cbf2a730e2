package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBall(t *testing.T) *BallFilter {
	t.Helper()
	f, err := NewBallFilter(DefaultBallSettings())
	require.NoError(t, err)
	return f
}

func TestNewBallFilter_RejectsNegativeDecel(t *testing.T) {
	s := DefaultBallSettings()
	s.FrictionDecel = -1
	_, err := NewBallFilter(s)
	assert.True(t, errors.Is(err, ErrInvalidSettings), "got %v", err)

	s = DefaultBallSettings()
	s.FrictionDecel = 0
	_, err = NewBallFilter(s)
	assert.NoError(t, err)
}

func TestFrictionInput_Deadzone(t *testing.T) {
	f := newBall(t)

	f.SetState(BallState{VX: 1e-7, VY: -1e-7})
	assert.Equal(t, [2]float64{0, 0}, f.FrictionInput())

	decel := f.Settings().FrictionDecel
	f.SetState(BallState{VX: 100, VY: -100})
	assert.Equal(t, [2]float64{-decel, decel}, f.FrictionInput())
}

func TestPredict_AtRestStaysPut(t *testing.T) {
	f := newBall(t)
	f.SetState(BallState{X: 100, Y: -200})
	for i := 0; i < 10; i++ {
		f.Predict(1.0 / 60)
	}
	st := f.State()
	assert.Equal(t, 100.0, st.X)
	assert.Equal(t, -200.0, st.Y)
	assert.Zero(t, st.VX)
	assert.Zero(t, st.VY)
	assert.InDelta(t, 10.0/60, f.Timestamp(), 1e-12)
}

func TestPredict_FrictionSlowsBall(t *testing.T) {
	f := newBall(t)
	f.SetState(BallState{VX: 2000})
	dt := 0.01
	f.Predict(dt)

	st := f.State()
	decel := f.Settings().FrictionDecel
	assert.InDelta(t, 2000*dt, st.X, 1e-9, "position integrates the prior velocity")
	assert.InDelta(t, 2000-decel*dt, st.VX, 1e-9)
	assert.Zero(t, st.Y)
}

func TestPredict_GrowsCovariance(t *testing.T) {
	f := newBall(t)
	before := f.Covariance().At(0, 0)
	f.Predict(0.1)
	assert.Greater(t, f.Covariance().At(0, 0), before)
}

func TestUpdate_ConvergesToMeasurement(t *testing.T) {
	f := newBall(t)
	initial := f.Covariance().At(0, 0)
	for i := 0; i < 200; i++ {
		f.Predict(1.0 / 60)
		require.NoError(t, f.Update(500, -300))
	}
	st := f.State()
	// The prior at the origin carries the weight of roughly one measurement.
	assert.InDelta(t, 500, st.X, 5)
	assert.InDelta(t, -300, st.Y, 5)

	p := f.Covariance()
	assert.Less(t, p.At(0, 0), initial)
	assert.InDelta(t, p.At(0, 1), p.At(1, 0), 1e-9, "covariance stays symmetric")
}

func TestSetSettings(t *testing.T) {
	f := newBall(t)
	f.SetState(BallState{X: 1})

	s := f.Settings()
	s.FrictionDecel = 100
	require.NoError(t, f.SetSettings(s))
	assert.Equal(t, 100.0, f.Settings().FrictionDecel)
	assert.Equal(t, 1.0, f.State().X)

	s.MeasurementVariance = 0
	assert.ErrorIs(t, f.SetSettings(s), ErrInvalidSettings)
	assert.Equal(t, 100.0, f.Settings().FrictionDecel)
}
