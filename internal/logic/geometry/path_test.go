package geometry

import (
	"math"
	"testing"
)

func TestShortestPath(t *testing.T) {
	cases := []struct {
		name       string
		current    float64
		target     float64
		useOverlap bool
		wantDist   float64
		wantCW     bool
	}{
		{"wrap_into_overlap", 350, 10, true, 20, true},
		{"no_overlap_goes_back", 350, 10, false, -340, false},
		{"target_outside_overlap", 300, 120, true, -180, false},
		{"just_past_half_turn", 200, 10, true, 170, true},
		{"exactly_half_turn_stays_direct", 190, 10, true, -180, false},
		{"plain_cw", 10, 100, true, 90, true},
		{"plain_ccw", 100, 10, true, -90, false},
		{"overlap_border_inclusive", 300, 89, true, 149, true},
		{"beyond_border", 300, 90, true, -210, false},
		{"from_overlap_region", 370, 350, true, -20, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ShortestPath(tc.current, tc.target, 449, tc.useOverlap)
			if math.Abs(p.Distance-tc.wantDist) > 1e-9 {
				t.Errorf("Distance = %v, want %v", p.Distance, tc.wantDist)
			}
			if p.CW() != tc.wantCW {
				t.Errorf("CW = %v, want %v", p.CW(), tc.wantCW)
			}
			if p.Target != tc.current+p.Distance {
				t.Errorf("Target = %v, want current+distance", p.Target)
			}
		})
	}
}

// From 10° to 350° the direct move is 340° clockwise; the target is not in
// the overlap region so no wrap applies.
func TestShortestPath_TargetAboveOverlap(t *testing.T) {
	p := ShortestPath(10, 350, 449, true)
	if p.Distance != 340 {
		t.Errorf("Distance = %v, want 340", p.Distance)
	}
}

func TestPath_Abs(t *testing.T) {
	if got := (Path{Distance: -20}).Abs(); got != 20 {
		t.Errorf("Abs = %v", got)
	}
}
