package filter

import "math"

// WrapAngle maps a to [-pi, pi).
func WrapAngle(a float64) float64 {
	return -math.Pi + math.Mod(2*math.Pi+math.Mod(a+math.Pi, 2*math.Pi), 2*math.Pi)
}

// AngleResidual returns a-b wrapped to [-pi, pi).
func AngleResidual(a, b float64) float64 {
	return WrapAngle(a - b)
}

// MeanAngle is the weighted circular mean of angles: the direction of the
// weighted sum of unit vectors. A nil weights slice weighs all angles
// equally.
func MeanAngle(angles, weights []float64) float64 {
	var s, c float64
	for i, a := range angles {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		s += w * math.Sin(a)
		c += w * math.Cos(a)
	}
	return math.Atan2(s, c)
}
