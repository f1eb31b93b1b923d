package series

import (
	"math"
	"testing"
)

func almost(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestResample(t *testing.T) {
	points := []Point{{T: 0, V: 0}, {T: 10, V: 10}, {T: 30, V: 30}}
	out := Resample(points, 5)
	if len(out) != 7 {
		t.Fatalf("resampled length = %d, want 7", len(out))
	}
	for i, p := range out {
		wantT := float64(i * 5)
		if !almost(p.T, wantT, 1e-9) || !almost(p.V, wantT, 1e-9) {
			t.Errorf("point %d = (%v, %v), want (%v, %v)", i, p.T, p.V, wantT, wantT)
		}
	}
}

func TestResampleByX(t *testing.T) {
	xs := []float64{0, 100, 300}
	ys := []float64{0, 50, 150}
	outX, outY := ResampleByX(xs, ys, 50)
	if len(outX) != 7 {
		t.Fatalf("length = %d, want 7", len(outX))
	}
	if !almost(outY[1], 25, 1e-9) {
		t.Errorf("y at x=50 = %v, want 25", outY[1])
	}
	if !almost(outY[4], 100, 1e-9) {
		t.Errorf("y at x=200 = %v, want 100", outY[4])
	}
}

func TestRollingMean(t *testing.T) {
	got := RollingMean([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almost(got[i], want[i], 1e-9) {
			t.Errorf("mean[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if RollingMean([]float64{1, 2}, 3) != nil {
		t.Error("short input should yield nil")
	}
}

func TestRollingMedian(t *testing.T) {
	got := RollingMedian([]float64{1, 100, 3, 4, 5}, 3)
	want := []float64{3, 4, 4}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !almost(got[i], want[i], 1e-9) {
			t.Errorf("median[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSplitAtGaps(t *testing.T) {
	points := []Point{{T: 0}, {T: 10}, {T: 20}, {T: 100}, {T: 110}}
	splits := SplitAtGaps(points, 30)
	if len(splits) != 2 {
		t.Fatalf("splits = %d, want 2", len(splits))
	}
	if len(splits[0]) != 3 || len(splits[1]) != 2 {
		t.Errorf("split sizes = %d, %d, want 3, 2", len(splits[0]), len(splits[1]))
	}

	if got := SplitAtGaps(points, 1000); len(got) != 1 {
		t.Errorf("no-gap split count = %d, want 1", len(got))
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{3, 1, 2}); !almost(got, 2, 1e-9) {
		t.Errorf("odd median = %v, want 2", got)
	}
	if got := Median([]float64{4, 1, 2, 3}); !almost(got, 2.5, 1e-9) {
		t.Errorf("even median = %v, want 2.5", got)
	}
	if !math.IsNaN(Median(nil)) {
		t.Error("empty median should be NaN")
	}
}

func TestMedianStep(t *testing.T) {
	points := []Point{{T: 0}, {T: 10}, {T: 20}, {T: 35}}
	if got := MedianStep(points); !almost(got, 10, 1e-9) {
		t.Errorf("median step = %v, want 10", got)
	}
}
