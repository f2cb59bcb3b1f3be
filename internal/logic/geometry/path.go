package geometry

import "math"

// Path is the resolved travel for an auto-rotation.
type Path struct {
	Distance float64 // signed degrees, positive is clockwise
	Target   float64 // current + Distance, the angle actually aimed for
}

// CW reports whether the path turns clockwise.
func (p Path) CW() bool {
	return p.Distance > 0
}

// Abs returns the absolute travel.
func (p Path) Abs() float64 {
	return math.Abs(p.Distance)
}

// ShortestPath resolves target for a rotor whose range extends past 360°
// up to maxAngle. With useOverlap, targets inside the overlap region
// (0..maxAngle-360) may be reached 360° further when the direct way is
// more than half a turn counter-clockwise.
func ShortestPath(current, target, maxAngle float64, useOverlap bool) Path {
	distance := target - current
	overlapBorder := maxAngle - 360
	if useOverlap && target <= overlapBorder && distance < -180 {
		distance += 360
	}
	return Path{Distance: distance, Target: current + distance}
}
