package climb

import (
	"math"
	"testing"
)

// grid builds distance/elevation slices on a 10 m grid from segment specs:
// each segment runs over metres horizontally and rises (or falls) by rise.
func grid(segments ...[2]float64) (distance, elevation []float64) {
	const step = 10.0
	d, e := 0.0, 0.0
	distance = append(distance, d)
	elevation = append(elevation, e)
	for _, seg := range segments {
		metres, rise := seg[0], seg[1]
		n := int(metres / step)
		for i := 1; i <= n; i++ {
			distance = append(distance, d+float64(i)*step)
			elevation = append(elevation, e+rise*float64(i)/float64(n))
		}
		d += metres
		e += rise
	}
	return distance, elevation
}

func TestFindNoClimbInFlatNoise(t *testing.T) {
	// A gentle sine of amplitude 5 m never clears the elevation threshold.
	var distance, elevation []float64
	for i := 0; i <= 2000; i++ {
		distance = append(distance, float64(10*i))
		elevation = append(elevation, 100+5*math.Sin(float64(i)/100))
	}
	climbs := Find(distance, elevation, DefaultParams())
	if len(climbs) != 0 {
		t.Errorf("climbs = %d, want 0", len(climbs))
	}
	if TotalClimb(climbs) != 0 {
		t.Errorf("total climb = %v, want 0", TotalClimb(climbs))
	}
}

func TestFindPyramid(t *testing.T) {
	distance, elevation := grid([2]float64{1100, 100}, [2]float64{900, -100})
	climbs := Find(distance, elevation, DefaultParams())
	if len(climbs) != 1 {
		t.Fatalf("climbs = %d, want 1", len(climbs))
	}
	c := climbs[0]
	if math.Abs(c.Elevation-100) > 1 {
		t.Errorf("elevation = %v, want ~100", c.Elevation)
	}
	if math.Abs(c.Distance-1100) > 50 {
		t.Errorf("distance = %v, want ~1100", c.Distance)
	}
}

func TestFindReversedSplit(t *testing.T) {
	// Rise to 100, drop to 80, rise to 170: the trough-to-top section
	// scores highest, and the first rise is found separately.
	distance, elevation := grid(
		[2]float64{1100, 100}, [2]float64{100, -20}, [2]float64{300, 90})

	params := DefaultParams()
	params.MaxReversal = 0.2
	climbs := Find(distance, elevation, params)
	if len(climbs) != 2 {
		t.Fatalf("climbs = %d, want 2", len(climbs))
	}
	if math.Abs(climbs[0].Elevation-100) > 1 {
		t.Errorf("first climb elevation = %v, want ~100", climbs[0].Elevation)
	}
	if math.Abs(climbs[1].Elevation-90) > 1 {
		t.Errorf("second climb elevation = %v, want ~90", climbs[1].Elevation)
	}
	if climbs[0].Start > climbs[1].Start {
		t.Error("climbs not ordered by start")
	}
}

func TestFindRejectsSpikes(t *testing.T) {
	// 50 m of rise over 60 m of travel is a GPS spike, not a climb.
	distance, elevation := grid([2]float64{60, 50}, [2]float64{2000, 0})
	climbs := Find(distance, elevation, DefaultParams())
	if len(climbs) != 0 {
		t.Errorf("climbs = %d, want 0 (gradient too steep)", len(climbs))
	}
}

func TestFindDeterministic(t *testing.T) {
	distance, elevation := grid(
		[2]float64{1100, 100}, [2]float64{100, -20}, [2]float64{300, 90},
		[2]float64{500, -60}, [2]float64{800, 70})
	params := DefaultParams()

	first := Find(distance, elevation, params)
	for run := 0; run < 5; run++ {
		again := Find(distance, elevation, params)
		if len(again) != len(first) {
			t.Fatalf("run %d: climbs = %d, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("run %d: climb %d = %+v, want %+v", run, i, again[i], first[i])
			}
		}
	}
}

func TestLargeReversalSeparatesClimbs(t *testing.T) {
	// A reversal of half the total rise keeps the two sides apart.
	distance, elevation := grid(
		[2]float64{500, 60}, [2]float64{200, -30}, [2]float64{500, 60})
	params := DefaultParams()
	params.MaxReversal = 0.2

	climbs := Find(distance, elevation, params)
	if len(climbs) != 2 {
		t.Fatalf("climbs = %d, want 2 after split", len(climbs))
	}
	for _, c := range climbs {
		if math.Abs(c.Elevation-60) > 1 {
			t.Errorf("split climb elevation = %v, want ~60", c.Elevation)
		}
	}
}
