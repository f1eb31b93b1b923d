package fitfile

import "math"

// A Filter is a pure transformation applied to each decoded record. Filters
// compose by function composition; Decode applies them in order.
type Filter func(Record) Record

// semicircleScale converts FIT semicircles to degrees.
const semicircleScale = 180.0 / (1 << 31)

// DegreesFromSemicircles converts position fields from semicircles to
// degrees, renaming units.
func DegreesFromSemicircles(r Record) Record {
	for name, v := range r.Fields {
		spec, ok := fieldFor(r.Global, fieldNumberByName(r.Global, name))
		if !ok || !spec.semicircles {
			continue
		}
		converted := Value{Units: "deg", invalid: v.invalid}
		for _, raw := range v.Values {
			if f, ok := toFloat(raw); ok {
				converted.Values = append(converted.Values, f*semicircleScale)
			} else {
				converted.Values = append(converted.Values, raw)
			}
		}
		r.Fields[name] = converted
	}
	return r
}

// SuppressInvalid drops sentinel ("invalid") elements from every field, and
// the field itself when nothing survives.
func SuppressInvalid(r Record) Record {
	for name, v := range r.Fields {
		if len(v.invalid) == 0 {
			continue
		}
		any := false
		for _, bad := range v.invalid {
			if bad {
				any = true
				break
			}
		}
		if !any {
			continue
		}
		kept := Value{Units: v.Units}
		for i, raw := range v.Values {
			if i < len(v.invalid) && v.invalid[i] {
				continue
			}
			kept.Values = append(kept.Values, raw)
			kept.invalid = append(kept.invalid, false)
		}
		if len(kept.Values) == 0 {
			delete(r.Fields, name)
		} else {
			r.Fields[name] = kept
		}
	}
	return r
}

// MergeDuplicates merges alternate spellings of the same measurement, e.g.
// enhanced fields, preferring the already-present plain name.
func MergeDuplicates(r Record) Record {
	aliases := map[string]string{
		"enhanced_altitude": "altitude",
		"enhanced_speed":    "speed",
	}
	for alias, canonical := range aliases {
		v, ok := r.Fields[alias]
		if !ok {
			continue
		}
		if _, present := r.Fields[canonical]; !present {
			r.Fields[canonical] = v
		}
		delete(r.Fields, alias)
	}
	return r
}

// UnpackSingletons trims 0xFF padding from byte-array fields, reducing
// padded single-byte values to their scalar.
func UnpackSingletons(r Record) Record {
	for name, v := range r.Fields {
		if len(v.Values) < 2 {
			continue
		}
		end := len(v.Values)
		for end > 1 {
			b, ok := v.Values[end-1].(uint8)
			if !ok || b != 0xFF {
				break
			}
			end--
		}
		if end == len(v.Values) {
			continue
		}
		r.Fields[name] = Value{
			Values:  v.Values[:end],
			Units:   v.Units,
			invalid: v.invalid[:min(end, len(v.invalid))],
		}
	}
	return r
}

// StandardFilters is the default pipeline for the readers: padding trimmed
// before degree conversion, degree conversion before suppression so
// suppression sees normalised values.
func StandardFilters() []Filter {
	return []Filter{MergeDuplicates, UnpackSingletons, DegreesFromSemicircles, SuppressInvalid}
}

// fieldNumberByName reverses the profile's field naming for one message.
func fieldNumberByName(global uint16, name string) uint8 {
	spec, ok := profile[global]
	if !ok {
		return 0xFF
	}
	for num, f := range spec.fields {
		if f.name == name {
			return num
		}
	}
	return 0xFF
}

// PlausibleHeartRate reports whether a decoded heart rate is usable.
func PlausibleHeartRate(bpm float64) bool {
	return bpm > 0 && bpm < 255 && !math.IsNaN(bpm)
}
