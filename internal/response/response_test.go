package response

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"traindb/internal/calc"
	"traindb/internal/config"
	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/reader"
	"traindb/internal/store"
)

func testContext(t *testing.T) *pipeline.Context {
	t.Helper()
	return &pipeline.Context{
		Log: zap.NewNop(),
		DB:  store.NewTestStore(t),
		Config: &config.Config{
			Athlete: config.AthleteConfig{RestingHR: 50, MaxHR: 185, ThresholdHR: 165},
		},
		Args: map[string]string{},
	}
}

// seedHR creates a Bike activity with a constant heart rate at 1 Hz for the
// given duration.
func seedHR(t *testing.T, c *pipeline.Context, start time.Time, hr float64, seconds int) int64 {
	t.Helper()
	groupID, err := c.DB.EnsureActivityGroup("Bike", "")
	if err != nil {
		t.Fatal(err)
	}
	finish := start.Add(time.Duration(seconds) * time.Second)
	activityID, err := c.DB.AddActivityJournal(groupID, 0, start, finish)
	if err != nil {
		t.Fatal(err)
	}
	sn, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "heart_rate", Owner: reader.ActivityOwner, Constraint: "Bike",
		Kind: store.StatisticInt, Units: "bpm",
	})
	if err != nil {
		t.Fatal(err)
	}
	l := load.New(c.DB, c.Log, load.Options{AddSerial: true})
	for i := 0; i <= seconds; i++ {
		if err := l.Add(sn, activityID, start.Add(time.Duration(i)*time.Second), int64(hr)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	return activityID
}

func runPipeline(t *testing.T, c *pipeline.Context, p pipeline.Pipeline) {
	t.Helper()
	if err := p.Startup(c); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	items, err := p.Missing(c)
	if err != nil {
		t.Fatalf("Missing() error = %v", err)
	}
	for _, item := range items {
		var err error
		if item.ID != 0 {
			err = pipeline.RunWithTimestamp(c, p.Owner(), "", item.ID, func() error {
				return p.RunOne(c, item)
			})
		} else {
			err = p.RunOne(c, item)
		}
		if err != nil {
			t.Fatalf("RunOne() error = %v", err)
		}
	}
	if err := p.Shutdown(c); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func fitnessValues(t *testing.T, c *pipeline.Context) []store.TimedValue {
	t.Helper()
	sn, err := c.DB.GetStatisticName("fitness", ResponseOwner, "")
	if err != nil {
		t.Fatalf("fitness name: %v", err)
	}
	values, err := c.DB.ValuesBetween(sn.ID, allTime.start, allTime.finish)
	if err != nil {
		t.Fatal(err)
	}
	return values
}

func TestImpulse(t *testing.T) {
	p := DefaultImpulseParams()
	tests := []struct {
		zone, want float64
	}{
		{1, 0},
		{2, 0},
		{4.5, 0.5},
		{7, 1},
	}
	for _, tt := range tests {
		if got := Impulse(tt.zone, p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Impulse(%v) = %v, want %v", tt.zone, got, tt.want)
		}
	}

	quadratic := ImpulseParams{Gamma: 2, Zero: 2, NZones: 7}
	if got := Impulse(4.5, quadratic); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("Impulse(4.5) with gamma 2 = %v, want 0.25", got)
	}
}

func TestDecayScenario(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, 5)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour)
	}
	impulse := []float64{0, 0, 10, 0, 0}
	got := Decay(times, impulse, DecayParams{TauDays: 1, Scale: 1, Start: 0})

	want := []float64{0, 0, 10, 10 * math.Exp(-1.0/24), 10 * math.Exp(-2.0/24)}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("response[%d] = %.12f, want %.12f", i, got[i], want[i])
		}
	}
}

func TestDecayRecursionLaw(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	impulse := []float64{3, 0, 7.5, 1, 0, 0, 2, 9, 0, 4}
	times := make([]time.Time, len(impulse))
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour)
	}
	p := DecayParams{TauDays: 0.5, Scale: 2, Start: 5}
	r := Decay(times, impulse, p)

	decay := math.Exp(-1 / p.TauHours())
	for i := 1; i < len(r); i++ {
		want := r[i-1]*decay + p.Scale*impulse[i]
		if math.Abs(r[i]-want) > 1e-9 {
			t.Errorf("recursion violated at %d: %v vs %v", i, r[i], want)
		}
	}
}

func TestImpulseCalculator(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	seedHR(t, c, start, 165, 600)

	runPipeline(t, c, &ImpulseCalculator{})

	sn, err := c.DB.GetStatisticName("hr_impulse", ImpulseOwner, "Bike")
	if err != nil {
		t.Fatal(err)
	}
	values, err := c.DB.ValuesBetween(sn.ID, allTime.start, allTime.finish)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 61 {
		t.Fatalf("hr_impulse samples = %d, want 61", len(values))
	}
	want := Impulse(calc.Zone(165, 165), DefaultImpulseParams())
	for _, v := range values {
		if math.Abs(v.Value-want) > 1e-9 {
			t.Fatalf("hr_impulse = %v, want %v", v.Value, want)
		}
	}
}

func TestResponseChainExtension(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	seedHR(t, c, start, 165, 600)

	runPipeline(t, c, &ImpulseCalculator{})
	runPipeline(t, c, &ResponseCalculator{})

	first := fitnessValues(t, c)
	if len(first) != 1 {
		t.Fatalf("fitness values = %d, want 1", len(first))
	}
	perSample := Impulse(calc.Zone(165, 165), DefaultImpulseParams())
	wantFirst := 61 * perSample
	if math.Abs(first[0].Value-wantFirst) > 1e-9 {
		t.Errorf("fitness[0] = %v, want %v", first[0].Value, wantFirst)
	}

	// Nothing new: no work.
	r := &ResponseCalculator{}
	if err := r.Startup(c); err != nil {
		t.Fatal(err)
	}
	items, err := r.Missing(c)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("Missing() after full run = %d items, want 0", len(items))
	}

	// A second activity two hours on extends the chain without recomputing
	// the first hour.
	seedHR(t, c, start.Add(2*time.Hour), 165, 600)
	runPipeline(t, c, &ImpulseCalculator{})
	runPipeline(t, c, &ResponseCalculator{})

	second := fitnessValues(t, c)
	if len(second) != 2 {
		t.Fatalf("fitness values = %d, want 2", len(second))
	}
	if math.Abs(second[0].Value-wantFirst) > 1e-9 {
		t.Errorf("first hour changed on extension: %v", second[0].Value)
	}
	tauHours := 42.0 * 24
	wantSecond := wantFirst*math.Exp(-2/tauHours) + wantFirst
	if math.Abs(second[1].Value-wantSecond) > 1e-9 {
		t.Errorf("fitness[1] = %v, want %v", second[1].Value, wantSecond)
	}

	composites, err := c.DB.Composites()
	if err != nil {
		t.Fatal(err)
	}
	if len(composites) != 2 {
		t.Fatalf("composites = %d, want 2", len(composites))
	}
}

func TestResponseChainRebuildAfterDelete(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	first := seedHR(t, c, start, 165, 600)
	seedHR(t, c, start.Add(2*time.Hour), 140, 600)

	runPipeline(t, c, &ImpulseCalculator{})
	runPipeline(t, c, &ResponseCalculator{})
	if n := len(fitnessValues(t, c)); n != 2 {
		t.Fatalf("fitness values = %d, want 2", n)
	}

	// Deleting the first activity dirties its composite; the cleanup cascade
	// takes the whole suffix and the chain rebuilds from the survivor.
	if err := c.DB.DeleteSource(first); err != nil {
		t.Fatal(err)
	}
	runPipeline(t, c, &ResponseCalculator{})

	dirty, err := c.DB.DirtyComposites()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 0 {
		t.Fatalf("dirty composites after rebuild = %d", len(dirty))
	}

	rebuilt := fitnessValues(t, c)
	if len(rebuilt) != 1 {
		t.Fatalf("fitness values after rebuild = %d, want 1", len(rebuilt))
	}
	perSample := Impulse(calc.Zone(140, 165), DefaultImpulseParams())
	want := 61 * perSample
	if math.Abs(rebuilt[0].Value-want) > 1e-9 {
		t.Errorf("rebuilt fitness = %v, want %v", rebuilt[0].Value, want)
	}
}

func TestFitRecoversTau(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 24 * 60 // 60 days hourly
	times := make([]time.Time, n)
	impulse := make([]float64, n)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour)
		if i%24 == 10 {
			impulse[i] = 1 // one workout a day
		}
	}

	truth := DecayParams{TauDays: 1.5, Scale: 1, Start: 0}
	response := Decay(times, impulse, truth)

	var obs []Observation
	for i := 30; i < n; i += 71 {
		obs = append(obs, Observation{Time: times[i], Performance: 5 + 2*response[i]})
	}

	result, err := Fit(times, impulse, obs, DecayParams{TauDays: 1, Scale: 1}, FitOptions{})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if math.Abs(result.TauHours-36) > 1 {
		t.Errorf("fitted tau = %v hours, want ~36", result.TauHours)
	}
	if result.Score > 1e-3 {
		t.Errorf("residual score = %v, want ~0", result.Score)
	}
}

func TestFitRejectsOutlier(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 24 * 60
	times := make([]time.Time, n)
	impulse := make([]float64, n)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Hour)
		if i%24 == 10 {
			impulse[i] = 1
		}
	}
	truth := DecayParams{TauDays: 1.5, Scale: 1, Start: 0}
	response := Decay(times, impulse, truth)

	var obs []Observation
	for i := 30; i < n; i += 71 {
		obs = append(obs, Observation{Time: times[i], Performance: 5 + 2*response[i]})
	}
	bad := obs[7].Time
	obs[7].Performance += 50

	result, err := Fit(times, impulse, obs, DecayParams{TauDays: 1, Scale: 1},
		FitOptions{L1: true, MaxReject: 1})
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if len(result.Rejected) != 1 || !result.Rejected[0].Time.Equal(bad) {
		t.Fatalf("rejected = %v, want the corrupted observation at %v", result.Rejected, bad)
	}
	if math.Abs(result.TauHours-36) > 2 {
		t.Errorf("fitted tau = %v hours, want ~36", result.TauHours)
	}
}
