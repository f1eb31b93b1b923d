package store

import (
	"errors"
	"testing"
	"time"
)

func TestSourceCascade(t *testing.T) {
	s := NewTestStore(t)

	groupID, err := s.EnsureActivityGroup("Bike", "")
	if err != nil {
		t.Fatalf("EnsureActivityGroup() error = %v", err)
	}

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	activityID, err := s.AddActivityJournal(groupID, 0, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("AddActivityJournal() error = %v", err)
	}

	name, err := s.EnsureStatisticName(StatisticName{
		Name: "heart_rate", Owner: "ActivityReader", Constraint: "Bike",
		Kind: StatisticInt, Units: "bpm",
	})
	if err != nil {
		t.Fatalf("EnsureStatisticName() error = %v", err)
	}

	// Insert a value directly, bypassing the loader.
	res, err := s.db.Exec(
		`INSERT INTO statistic_journal (name_id, source_id, time, kind) VALUES (?, ?, ?, ?)`,
		name.ID, activityID, start.Unix(), int(StatisticInt))
	if err != nil {
		t.Fatalf("inserting journal: %v", err)
	}
	id, _ := res.LastInsertId()
	if _, err := s.db.Exec(`INSERT INTO statistic_journal_int (id, value) VALUES (?, 140)`, id); err != nil {
		t.Fatalf("inserting value: %v", err)
	}

	if err := s.DeleteSource(activityID); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM statistic_journal`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("journal rows after cascade = %d, want 0", count)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM statistic_journal_int`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("typed rows after cascade = %d, want 0", count)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM activity_journal`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("activity rows after cascade = %d, want 0", count)
	}
}

func TestOverlappingActivities(t *testing.T) {
	s := NewTestStore(t)

	groupID, err := s.EnsureActivityGroup("Run", "")
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := s.AddActivityJournal(groupID, 0, base, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	t.Run("overlap detected", func(t *testing.T) {
		got, err := s.OverlappingActivities(groupID, base.Add(30*time.Minute), base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("OverlappingActivities() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("overlapping = %d, want 1", len(got))
		}
	})

	t.Run("adjacent is not overlap", func(t *testing.T) {
		got, err := s.OverlappingActivities(groupID, base.Add(time.Hour), base.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("OverlappingActivities() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("overlapping = %d, want 0", len(got))
		}
	})
}

func TestIntervalDirtyOnSourceDelete(t *testing.T) {
	s := NewTestStore(t)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	finish := start.AddDate(0, 1, 0)
	intervalID, err := s.AddInterval("m", "SummaryCalculator", start, finish)
	if err != nil {
		t.Fatalf("AddInterval() error = %v", err)
	}
	if err := s.CleanInterval(intervalID); err != nil {
		t.Fatal(err)
	}

	groupID, _ := s.EnsureActivityGroup("Bike", "")
	inside := start.Add(10 * 24 * time.Hour)
	activityID, err := s.AddActivityJournal(groupID, 0, inside, inside.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSource(activityID); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}

	dirty, err := s.DirtyIntervals("m", "SummaryCalculator")
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 {
		t.Errorf("dirty intervals = %d, want 1", len(dirty))
	}
}

func TestFileHashUniqueness(t *testing.T) {
	s := NewTestStore(t)

	id1, existed, err := s.EnsureFileHash("abc123")
	if err != nil {
		t.Fatalf("EnsureFileHash() error = %v", err)
	}
	if existed {
		t.Error("first hash reported as existing")
	}

	id2, existed, err := s.EnsureFileHash("abc123")
	if err != nil {
		t.Fatalf("EnsureFileHash() second call error = %v", err)
	}
	if !existed {
		t.Error("second hash not reported as existing")
	}
	if id1 != id2 {
		t.Errorf("hash ids differ: %d vs %d", id1, id2)
	}
}

func TestConstants(t *testing.T) {
	s := NewTestStore(t)
	epoch := time.Unix(0, 0).UTC()

	t.Run("single valued", func(t *testing.T) {
		if err := s.SetConstant("FTHR:Bike", epoch, "154"); err != nil {
			t.Fatalf("SetConstant() error = %v", err)
		}
		got, err := s.GetConstant("FTHR:Bike", time.Now())
		if err != nil {
			t.Fatalf("GetConstant() error = %v", err)
		}
		if got != "154" {
			t.Errorf("value = %q, want 154", got)
		}
	})

	t.Run("prefix lookup", func(t *testing.T) {
		got, err := s.GetConstant("FTHR", time.Now())
		if err != nil {
			t.Fatalf("GetConstant() by prefix error = %v", err)
		}
		if got != "154" {
			t.Errorf("value = %q, want 154", got)
		}
	})

	t.Run("time keyed", func(t *testing.T) {
		t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		t2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		if err := s.SetConstant("FTHR:Bike", t1, "150"); err != nil {
			t.Fatal(err)
		}
		if err := s.SetConstant("FTHR:Bike", t2, "148"); err != nil {
			t.Fatal(err)
		}
		got, err := s.GetConstant("FTHR:Bike", t1.AddDate(0, 1, 0))
		if err != nil {
			t.Fatal(err)
		}
		if got != "150" {
			t.Errorf("value in february = %q, want 150", got)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetConstant("NoSuch", time.Now())
		if !errors.Is(err, ErrConstantNotFound) {
			t.Errorf("error = %v, want ErrConstantNotFound", err)
		}
	})

	t.Run("schema validation", func(t *testing.T) {
		RegisterConstantSchema("HRImpulse", []string{"gamma", "zero", "one", "max_secs"})
		err := s.SetConstant("HRImpulse", epoch, `{"gamma": 2.0, "zero": 1}`)
		if err == nil {
			t.Error("incomplete JSON accepted")
		}
		err = s.SetConstant("HRImpulse", epoch, `{"gamma": 2.0, "zero": 1, "one": 6, "max_secs": 60}`)
		if err != nil {
			t.Errorf("valid JSON rejected: %v", err)
		}
	})
}

func TestComposites(t *testing.T) {
	s := NewTestStore(t)

	groupID, _ := s.EnsureActivityGroup("Bike", "")
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a1, err := s.AddActivityJournal(groupID, 0, base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := s.AddActivityJournal(groupID, 0, base.Add(2*time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	c1, err := s.AddComposite(base.Add(time.Hour), []int64{a1})
	if err != nil {
		t.Fatalf("AddComposite() error = %v", err)
	}
	c2, err := s.AddComposite(base.Add(3*time.Hour), []int64{a2, c1})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("clean chain", func(t *testing.T) {
		dirty, err := s.DirtyComposites()
		if err != nil {
			t.Fatal(err)
		}
		if len(dirty) != 0 {
			t.Errorf("dirty composites = %v, want none", dirty)
		}
	})

	t.Run("deleted component marks dirty", func(t *testing.T) {
		if err := s.DeleteSource(a2); err != nil {
			t.Fatal(err)
		}
		dirty, err := s.DirtyComposites()
		if err != nil {
			t.Fatal(err)
		}
		if len(dirty) != 1 || dirty[0] != c2 {
			t.Errorf("dirty composites = %v, want [%d]", dirty, c2)
		}
	})
}

func TestTimestamps(t *testing.T) {
	s := NewTestStore(t)

	has, err := s.HasTimestamp("ActivityCalculator", "", 42)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("timestamp exists before set")
	}

	if err := s.SetTimestamp("ActivityCalculator", "", 42, time.Now()); err != nil {
		t.Fatalf("SetTimestamp() error = %v", err)
	}
	has, err = s.HasTimestamp("ActivityCalculator", "", 42)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("timestamp missing after set")
	}

	if err := s.ClearTimestamp("ActivityCalculator", "", 42); err != nil {
		t.Fatalf("ClearTimestamp() error = %v", err)
	}
	has, _ = s.HasTimestamp("ActivityCalculator", "", 42)
	if has {
		t.Error("timestamp exists after clear")
	}
}
