package calc

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

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

// seedActivity creates a Bike activity with waypoints at 1 Hz. Each column
// maps a raw statistic name to values; nil values are skipped.
func seedActivity(t *testing.T, c *pipeline.Context, start time.Time, columns map[string][]float64, n int) int64 {
	t.Helper()
	groupID, err := c.DB.EnsureActivityGroup("Bike", "")
	if err != nil {
		t.Fatal(err)
	}
	finish := start.Add(time.Duration(n) * time.Second)
	activityID, err := c.DB.AddActivityJournal(groupID, 0, start, finish)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.DB.AddActivityTimespan(activityID, start, finish); err != nil {
		t.Fatal(err)
	}

	names := make(map[string]*store.StatisticName)
	for col := range columns {
		kind := store.StatisticFloat
		units := "m"
		switch col {
		case "heart_rate":
			kind, units = store.StatisticInt, "bpm"
		case "power":
			kind, units = store.StatisticInt, "w"
		case "speed":
			units = "m/s"
		}
		sn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: col, Owner: reader.ActivityOwner, Constraint: "Bike",
			Kind: kind, Units: units,
		})
		if err != nil {
			t.Fatal(err)
		}
		names[col] = sn
	}

	l := load.New(c.DB, c.Log, load.Options{AddSerial: true})
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		for col, values := range columns {
			if i >= len(values) || math.IsNaN(values[i]) {
				continue
			}
			var v any = values[i]
			if names[col].Kind == store.StatisticInt {
				v = int64(values[i])
			}
			if err := l.Add(names[col], activityID, ts, v); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	return activityID
}

func runCalc(t *testing.T, c *pipeline.Context, p pipeline.Pipeline) {
	t.Helper()
	if err := p.Startup(c); err != nil {
		t.Fatalf("Startup() error = %v", err)
	}
	items, err := p.Missing(c)
	if err != nil {
		t.Fatalf("Missing() error = %v", err)
	}
	for _, item := range items {
		if err := pipeline.RunWithTimestamp(c, p.Owner(), "", item.ID, func() error {
			return p.RunOne(c, item)
		}); err != nil {
			t.Fatalf("RunOne() error = %v", err)
		}
	}
	if err := p.Shutdown(c); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func value(t *testing.T, c *pipeline.Context, name, owner, constraint string) float64 {
	t.Helper()
	sn, err := c.DB.GetStatisticName(name, owner, constraint)
	if err != nil {
		t.Fatalf("statistic %q: %v", name, err)
	}
	values, err := c.DB.ValuesBetween(sn.ID, allTime.start, allTime.finish)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 1 {
		t.Fatalf("statistic %q has %d values, want 1", name, len(values))
	}
	return values[0].Value
}

func TestZone(t *testing.T) {
	const fthr = 165
	tests := []struct {
		hr   float64
		want float64
		tol  float64
	}{
		{0, 1, 0.01},
		{fthr * 0.34, 1.5, 0.01}, // half way through zone 1
		{fthr * 0.68, 2, 0.01},   // bottom of zone 2
		{fthr, 4.55, 0.01},       // threshold sits in zone 4
		{fthr * 2, 8, 0.01},      // far above: capped below 8
	}
	for _, tt := range tests {
		if got := Zone(tt.hr, fthr); math.Abs(got-tt.want) > tt.tol {
			t.Errorf("Zone(%v) = %v, want ~%v", tt.hr, got, tt.want)
		}
	}

	// Monotone in hr.
	prev := 0.0
	for hr := 40.0; hr < 250; hr += 5 {
		z := Zone(hr, fthr)
		if z < prev {
			t.Fatalf("Zone not monotone at hr=%v", hr)
		}
		prev = z
	}
}

func TestActivityCalculator(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// 1000 s at 5 m/s: distance 0..5000 m.
	n := 1001
	distance := make([]float64, n)
	speed := make([]float64, n)
	for i := range distance {
		distance[i] = 5 * float64(i)
		speed[i] = 5
	}
	activityID := seedActivity(t, c, start, map[string][]float64{
		"distance": distance, "speed": speed,
	}, n)

	runCalc(t, c, &ActivityCalculator{})

	if got := value(t, c, "active_distance", ActivityCalcOwner, "Bike"); math.Abs(got-5000) > 10 {
		t.Errorf("active_distance = %v, want ~5000", got)
	}
	if got := value(t, c, "active_time", ActivityCalcOwner, "Bike"); math.Abs(got-1000) > 2 {
		t.Errorf("active_time = %v, want ~1000", got)
	}
	if got := value(t, c, "active_speed", ActivityCalcOwner, "Bike"); math.Abs(got-18) > 0.1 {
		t.Errorf("active_speed = %v km/h, want ~18", got)
	}

	// Constant 5 m/s: 5 km takes 1000 s wherever the window starts.
	minT := value(t, c, "min_5km_time", ActivityCalcOwner, "Bike")
	medT := value(t, c, "med_5km_time", ActivityCalcOwner, "Bike")
	if math.Abs(minT-1000) > 1 || math.Abs(medT-1000) > 1 {
		t.Errorf("5km times = %v/%v, want 1000", minT, medT)
	}

	// Timestamped after the run.
	ok, err := c.DB.HasTimestamp(ActivityCalcOwner, "", activityID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("activity not timestamped")
	}
}

func TestActivityCalculatorForceIsIdempotent(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	n := 601
	distance := make([]float64, n)
	for i := range distance {
		distance[i] = 3 * float64(i)
	}
	seedActivity(t, c, start, map[string][]float64{"distance": distance}, n)

	runCalc(t, c, &ActivityCalculator{})
	first := value(t, c, "active_distance", ActivityCalcOwner, "Bike")

	c.Force = true
	runCalc(t, c, &ActivityCalculator{})
	second := value(t, c, "active_distance", ActivityCalcOwner, "Bike")

	if math.Abs(first-second) > 1e-9 {
		t.Errorf("forced rerun changed active_distance: %v vs %v", first, second)
	}
}

func TestZoneCalculator(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// Constant heart rate at threshold: everything lands in one zone.
	n := 601
	hr := make([]float64, n)
	for i := range hr {
		hr[i] = 165
	}
	seedActivity(t, c, start, map[string][]float64{"heart_rate": hr}, n)

	runCalc(t, c, &ZoneCalculator{})

	zone := int(Zone(165, c.Config.Athlete.ThresholdHR))
	if zone != 4 {
		t.Fatalf("expected threshold in zone 4, got %d", zone)
	}
	if got := value(t, c, "percent_in_z4", ZoneCalcOwner, "Bike"); math.Abs(got-100) > 0.1 {
		t.Errorf("percent_in_z4 = %v, want 100", got)
	}
}

func TestMaxWindowCalculator(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// 20 minutes at 200 w with a 5-minute surge at 300 w.
	n := 1201
	power := make([]float64, n)
	for i := range power {
		power[i] = 200
		if i >= 300 && i < 600 {
			power[i] = 300
		}
	}
	seedActivity(t, c, start, map[string][]float64{"power": power}, n)

	runCalc(t, c, &MaxWindowCalculator{})

	if got := value(t, c, "max_mean_power_5m", MaxWindowCalcOwner, "Bike"); math.Abs(got-300) > 2 {
		t.Errorf("max_mean_power_5m = %v, want ~300", got)
	}
	if got := value(t, c, "max_mean_power_10m", MaxWindowCalcOwner, "Bike"); math.Abs(got-250) > 3 {
		t.Errorf("max_mean_power_10m = %v, want ~250", got)
	}
}

func TestElevationCalculatorPyramid(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	// Rise to 100 m over 1.1 km, descend to 0 over 0.9 km, at 2 m/s.
	n := 1001
	distance := make([]float64, n)
	elevation := make([]float64, n)
	for i := range distance {
		d := 2 * float64(i)
		distance[i] = d
		if d <= 1100 {
			elevation[i] = 100 * d / 1100
		} else {
			elevation[i] = 100 * (2000 - d) / 900
		}
	}
	seedActivity(t, c, start, map[string][]float64{
		"distance": distance, "elevation": elevation,
	}, n)

	runCalc(t, c, &ElevationCalculator{})

	if got := value(t, c, "climb_elevation", ElevationCalcOwner, "Bike"); math.Abs(got-100) > 2 {
		t.Errorf("climb_elevation = %v, want ~100", got)
	}
	if got := value(t, c, "climb_distance", ElevationCalcOwner, "Bike"); math.Abs(got-1100) > 60 {
		t.Errorf("climb_distance = %v, want ~1100", got)
	}
	if got := value(t, c, "total_climb", ElevationCalcOwner, "Bike"); math.Abs(got-100) > 2 {
		t.Errorf("total_climb = %v, want ~100", got)
	}
}

func TestStepsCalculator(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	monitorID, err := c.DB.AddMonitorJournal(0, start, start.Add(4*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	cum, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "cumulative_steps", Owner: reader.MonitorOwner,
		Kind: store.StatisticInt, Units: "steps",
	})
	if err != nil {
		t.Fatal(err)
	}
	l := load.New(c.DB, c.Log, load.Options{})
	// Counter climbs, then resets (midnight), then climbs again.
	counts := []int64{100, 250, 400, 50, 120}
	for i, v := range counts {
		ts := start.Add(time.Duration(i) * time.Hour)
		if err := l.Add(cum, monitorID, ts, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	runCalc(t, c, &StepsCalculator{})

	sn, err := c.DB.GetStatisticName("steps", StepsCalcOwner, "")
	if err != nil {
		t.Fatal(err)
	}
	values, err := c.DB.ValuesBetween(sn.ID, allTime.start, allTime.finish)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{100, 150, 150, 50, 70}
	if len(values) != len(want) {
		t.Fatalf("steps values = %d, want %d", len(values), len(want))
	}
	var total float64
	for i, v := range values {
		if v.Value != want[i] {
			t.Errorf("delta[%d] = %v, want %v", i, v.Value, want[i])
		}
		total += v.Value
	}
	if total != 520 {
		t.Errorf("total steps = %v, want 520", total)
	}
}

func TestSummaryCalculator(t *testing.T) {
	c := testContext(t)
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	n := 601
	distance := make([]float64, n)
	for i := range distance {
		distance[i] = 3 * float64(i)
	}
	// Two activities in the same month.
	seedActivity(t, c, start, map[string][]float64{"distance": distance}, n)
	seedActivity(t, c, start.Add(48*time.Hour), map[string][]float64{"distance": distance}, n)

	runCalc(t, c, &ActivityCalculator{})
	month := &SummaryCalculator{Schedule: ScheduleMonth}
	runCalc(t, c, month)

	intervals, err := c.DB.Intervals(ScheduleMonth, month.Owner())
	if err != nil {
		t.Fatal(err)
	}
	if len(intervals) != 1 {
		t.Fatalf("intervals = %d, want 1", len(intervals))
	}
	if intervals[0].Dirty {
		t.Error("interval still dirty after summary")
	}

	sn, err := c.DB.GetStatisticName("sum_active_distance", month.Owner(), "Bike")
	if err != nil {
		t.Fatal(err)
	}
	values, err := c.DB.ValuesBetween(sn.ID, allTime.start, allTime.finish)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 1 {
		t.Fatalf("sum values = %d, want 1", len(values))
	}
	if math.Abs(values[0].Value-2*1800) > 20 {
		t.Errorf("sum_active_distance = %v, want ~3600", values[0].Value)
	}

	// msr produced one rank per activity.
	rank, err := c.DB.GetStatisticName("rank_active_distance", month.Owner(), "Bike")
	if err != nil {
		t.Fatal(err)
	}
	ranks, err := c.DB.ValuesBetween(rank.ID, allTime.start, allTime.finish)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranks) != 2 {
		t.Errorf("ranks = %d, want 2", len(ranks))
	}
}
