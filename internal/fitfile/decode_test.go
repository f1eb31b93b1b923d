package fitfile

import (
	"errors"
	"math"
	"testing"
	"time"

	"traindb/internal/fitfile/fittest"
)

const (
	btEnum   = 0x00
	btUint8  = 0x02
	btSint32 = 0x85
	btUint32 = 0x86
)

func buildActivity(t *testing.T) []byte {
	t.Helper()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var b fittest.Builder

	// record: timestamp, heart_rate, distance, position_lat
	b.Definition(0, 20,
		fittest.FieldDef{Number: 253, Size: 4, Base: btUint32},
		fittest.FieldDef{Number: 3, Size: 1, Base: btUint8},
		fittest.FieldDef{Number: 5, Size: 4, Base: btUint32},
		fittest.FieldDef{Number: 0, Size: 4, Base: btSint32},
	)
	// event: timestamp, event, event_type
	b.Definition(1, 21,
		fittest.FieldDef{Number: 253, Size: 4, Base: btUint32},
		fittest.FieldDef{Number: 0, Size: 1, Base: btEnum},
		fittest.FieldDef{Number: 1, Size: 1, Base: btEnum},
	)

	// timer start
	b.Data(1, append(fittest.Timestamp(start), 0, 0)...)
	// two records, second with an invalid heart rate
	payload := fittest.Timestamp(start.Add(time.Second))
	payload = append(payload, 140)
	payload = append(payload, fittest.Uint32(1000)...) // 10.00 m
	payload = append(payload, fittest.Int32(1<<30)...) // 90 degrees in semicircles
	b.Data(0, payload...)

	payload = fittest.Timestamp(start.Add(2 * time.Second))
	payload = append(payload, 0xFF)
	payload = append(payload, fittest.Uint32(2000)...)
	payload = append(payload, fittest.Int32(1<<30)...)
	b.Data(0, payload...)

	// timer stop
	b.Data(1, append(fittest.Timestamp(start.Add(3*time.Second)), 0, 4)...)

	return b.Bytes()
}

func TestDecode(t *testing.T) {
	data := buildActivity(t)

	f, err := Decode(data, Options{Validate: true})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(f.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(f.Records))
	}

	t.Run("timestamp order", func(t *testing.T) {
		var last time.Time
		for i, r := range f.Records {
			if !r.HasTime {
				continue
			}
			if r.Time.Before(last) {
				t.Errorf("record %d out of order: %v before %v", i, r.Time, last)
			}
			last = r.Time
		}
	})

	t.Run("scaling", func(t *testing.T) {
		rec := f.Records[1]
		if rec.Name != "record" {
			t.Fatalf("record name = %q", rec.Name)
		}
		d, ok := rec.Fields["distance"]
		if !ok {
			t.Fatal("distance missing")
		}
		got, _ := d.Float()
		if math.Abs(got-10) > 1e-9 {
			t.Errorf("distance = %v, want 10", got)
		}
		if d.Units != "m" {
			t.Errorf("distance units = %q, want m", d.Units)
		}
	})

	t.Run("event enums", func(t *testing.T) {
		ev := f.Records[0]
		if ev.Name != "event" {
			t.Fatalf("first record = %q, want event", ev.Name)
		}
		if got := ev.Fields["event"].Scalar(); got != "timer" {
			t.Errorf("event = %v, want timer", got)
		}
		if got := ev.Fields["event_type"].Scalar(); got != "start" {
			t.Errorf("event_type = %v, want start", got)
		}
	})
}

func TestDecodeFilters(t *testing.T) {
	data := buildActivity(t)

	f, err := Decode(data, Options{Validate: true, Filters: StandardFilters()})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	t.Run("semicircles to degrees", func(t *testing.T) {
		lat, ok := f.Records[1].Fields["position_lat"]
		if !ok {
			t.Fatal("position_lat missing")
		}
		got, _ := lat.Float()
		if math.Abs(got-90) > 1e-6 {
			t.Errorf("position_lat = %v, want 90", got)
		}
		if lat.Units != "deg" {
			t.Errorf("units = %q, want deg", lat.Units)
		}
	})

	t.Run("invalid heart rate suppressed", func(t *testing.T) {
		if _, ok := f.Records[2].Fields["heart_rate"]; ok {
			t.Error("sentinel heart rate survived suppression")
		}
		if _, ok := f.Records[1].Fields["heart_rate"]; !ok {
			t.Error("valid heart rate was dropped")
		}
	})
}

func TestUnpackSingletons(t *testing.T) {
	r := Record{Fields: map[string]Value{
		"left_right_balance": {
			Values:  []any{uint8(52), uint8(0xFF), uint8(0xFF)},
			invalid: []bool{false, true, true},
		},
		"heart_rate": {Values: []any{uint8(120)}, invalid: []bool{false}},
	}}
	for _, filter := range StandardFilters() {
		r = filter(r)
	}

	v, ok := r.Fields["left_right_balance"]
	if !ok {
		t.Fatal("padded field dropped")
	}
	if len(v.Values) != 1 {
		t.Fatalf("values = %v, want scalar after trimming padding", v.Values)
	}
	if b, _ := v.Values[0].(uint8); b != 52 {
		t.Errorf("value = %v, want 52", v.Values[0])
	}
	if hr := r.Fields["heart_rate"]; len(hr.Values) != 1 {
		t.Errorf("scalar field changed: %v", hr.Values)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		data := buildActivity(t)
		data[8] = 'X'
		_, err := Decode(data, Options{})
		var mf *MalformedFileError
		if !errors.As(err, &mf) {
			t.Errorf("error = %v, want MalformedFileError", err)
		}
	})

	t.Run("bad CRC fails only with validation", func(t *testing.T) {
		data := buildActivity(t)
		data[len(data)-1] ^= 0xFF

		_, err := Decode(data, Options{Validate: true})
		var mf *MalformedFileError
		if !errors.As(err, &mf) {
			t.Errorf("validated decode error = %v, want MalformedFileError", err)
		}

		f, err := Decode(data, Options{})
		if err != nil {
			t.Fatalf("best-effort decode error = %v", err)
		}
		if len(f.Warnings) == 0 {
			t.Error("no warning recorded for CRC mismatch")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		data := buildActivity(t)
		_, err := Decode(data[:len(data)-10], Options{})
		var mf *MalformedFileError
		if !errors.As(err, &mf) {
			t.Errorf("error = %v, want MalformedFileError", err)
		}
	})
}

func TestDecodeRestartable(t *testing.T) {
	data := buildActivity(t)
	f1, err := Decode(data, Options{})
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Decode(data, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(f1.Records) != len(f2.Records) {
		t.Fatalf("record counts differ: %d vs %d", len(f1.Records), len(f2.Records))
	}
	for i := range f1.Records {
		if f1.Records[i].Name != f2.Records[i].Name || !f1.Records[i].Time.Equal(f2.Records[i].Time) {
			t.Errorf("record %d differs between decodes", i)
		}
	}
}
