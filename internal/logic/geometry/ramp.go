package geometry

import "math"

// Ramp describes the speed profile of one smooth auto-rotation: an S-curve
// up from Start, cruising, and an S-curve down into Target.
type Ramp struct {
	Start    float64 // angle where the move began
	Target   float64
	Distance float64 // length of each ramp, degrees
	Scale    float64 // peak speed scale for short moves, 0..1
}

// NewRamp plans a ramp for a move from start to target. Moves shorter than
// threshold never reach full speed: the peak is scaled with a quarter sine
// and each ramp covers half the move.
func NewRamp(start, target, threshold float64) Ramp {
	r := Ramp{Start: start, Target: target}
	r.Distance, r.Scale = RampPlan(math.Abs(target-start), threshold)
	return r
}

// RampPlan returns the ramp length and peak speed scale for a move.
func RampPlan(distance, threshold float64) (rampDistance, scale float64) {
	if distance < threshold {
		return distance / 2, math.Sin(distance / threshold * math.Pi / 2)
	}
	return threshold / 2, 1
}

// RampFactor is a smooth step over x in (0,1): ~0 near 0, ~1 near 1,
// steepness k. Outside the open interval it saturates.
func RampFactor(x, k float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return 0.5 * (1 + math.Tanh((2*x-1)*k/math.Sqrt(x*(1-x))))
}

// Factor returns the speed factor at angle, peak scale included.
func (r Ramp) Factor(angle, k float64) float64 {
	toStart := math.Abs(angle - r.Start)
	toTarget := math.Abs(angle - r.Target)

	var f float64
	switch {
	case toStart == 0 || toTarget == 0:
		f = 0
	case toStart < r.Distance:
		f = RampFactor(toStart/r.Distance, k)
	case toTarget < r.Distance:
		f = RampFactor(toTarget/r.Distance, k)
	default:
		f = 1
	}
	return f * r.Scale
}

// Speed returns the rounded speed in percent at angle.
func (r Ramp) Speed(maxSpeed int, angle, k float64) int {
	if maxSpeed == 0 {
		return 0
	}
	return int(math.Round(float64(maxSpeed) * r.Factor(angle, k)))
}
