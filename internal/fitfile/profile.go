package fitfile

import "time"

// fitEpoch is the zero of FIT timestamps.
var fitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

const (
	fieldNumTimestamp   = 253
	fieldNumTimestamp16 = 26 // monitoring only
)

// fieldSpec describes one known field of a global message: its name, units
// and the scale/offset applied to the raw integer. Semicircle positions are
// tagged so the degree filter can find them.
type fieldSpec struct {
	name        string
	units       string
	scale       float64
	offset      float64
	semicircles bool
	enum        map[uint64]string
}

// messageSpec is the known subset of the FIT profile for one global message.
type messageSpec struct {
	name   string
	fields map[uint8]fieldSpec
}

var sportEnum = map[uint64]string{
	0: "generic", 1: "running", 2: "cycling", 3: "transition",
	4: "fitness_equipment", 5: "swimming", 11: "walking", 17: "hiking",
	10: "training", 13: "alpine_skiing", 14: "snowboarding", 15: "rowing",
}

var eventEnum = map[uint64]string{
	0: "timer", 3: "workout", 8: "session", 9: "lap",
}

var eventTypeEnum = map[uint64]string{
	0: "start", 1: "stop", 3: "marker", 4: "stop_all",
	6: "begin_depreciated", 7: "end_depreciated",
}

var fileTypeEnum = map[uint64]string{
	1: "device", 2: "settings", 3: "sport", 4: "activity", 5: "workout",
	6: "course", 9: "weight", 15: "monitoring_a", 28: "monitoring_daily",
	32: "monitoring_b",
}

var activityTypeEnum = map[uint64]string{
	0: "generic", 1: "running", 2: "cycling", 3: "transition",
	4: "fitness_equipment", 5: "swimming", 6: "walking", 8: "sedentary",
}

// profile maps global message numbers to their known fields. Unknown messages
// and fields pass through with synthetic names and a warning.
var profile = map[uint16]messageSpec{
	0: {name: "file_id", fields: map[uint8]fieldSpec{
		0: {name: "type", enum: fileTypeEnum},
		1: {name: "manufacturer"},
		2: {name: "product"},
		3: {name: "serial_number"},
		4: {name: "time_created", units: "s"},
		5: {name: "number"},
		8: {name: "product_name"},
	}},
	12: {name: "sport", fields: map[uint8]fieldSpec{
		0: {name: "sport", enum: sportEnum},
		1: {name: "sub_sport"},
		3: {name: "name"},
	}},
	18: {name: "session", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		2:   {name: "start_time", units: "s"},
		5:   {name: "sport", enum: sportEnum},
		7:   {name: "total_elapsed_time", units: "s", scale: 1000},
		8:   {name: "total_timer_time", units: "s", scale: 1000},
		9:   {name: "total_distance", units: "m", scale: 100},
		14:  {name: "avg_speed", units: "m/s", scale: 1000},
		15:  {name: "max_speed", units: "m/s", scale: 1000},
		16:  {name: "avg_heart_rate", units: "bpm"},
		17:  {name: "max_heart_rate", units: "bpm"},
		20:  {name: "avg_power", units: "w"},
		21:  {name: "max_power", units: "w"},
		24:  {name: "total_calories", units: "kcal"},
	}},
	19: {name: "lap", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		2:   {name: "start_time", units: "s"},
		7:   {name: "total_elapsed_time", units: "s", scale: 1000},
		8:   {name: "total_timer_time", units: "s", scale: 1000},
		9:   {name: "total_distance", units: "m", scale: 100},
	}},
	20: {name: "record", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		0:   {name: "position_lat", units: "semicircles", semicircles: true},
		1:   {name: "position_long", units: "semicircles", semicircles: true},
		2:   {name: "altitude", units: "m", scale: 5, offset: 500},
		3:   {name: "heart_rate", units: "bpm"},
		4:   {name: "cadence", units: "rpm"},
		5:   {name: "distance", units: "m", scale: 100},
		6:   {name: "speed", units: "m/s", scale: 1000},
		7:   {name: "power", units: "w"},
		9:   {name: "grade", units: "%", scale: 100},
		13:  {name: "temperature", units: "C"},
	}},
	21: {name: "event", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		0:   {name: "event", enum: eventEnum},
		1:   {name: "event_type", enum: eventTypeEnum},
		2:   {name: "data16"},
		3:   {name: "data"},
		4:   {name: "event_group"},
	}},
	23: {name: "device_info", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		0:   {name: "device_index"},
		2:   {name: "manufacturer"},
		4:   {name: "product"},
		3:   {name: "serial_number"},
		5:   {name: "software_version", scale: 100},
	}},
	34: {name: "activity", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		0:   {name: "total_timer_time", units: "s", scale: 1000},
		1:   {name: "num_sessions"},
		5:   {name: "local_timestamp", units: "s"},
	}},
	55: {name: "monitoring", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		0:   {name: "device_index"},
		1:   {name: "calories", units: "kcal"},
		2:   {name: "distance", units: "m", scale: 100},
		3:   {name: "steps", units: "steps"},
		4:   {name: "active_time", units: "s", scale: 1000},
		5:   {name: "activity_type", enum: activityTypeEnum},
		26:  {name: "timestamp_16", units: "s"},
		27:  {name: "heart_rate", units: "bpm"},
	}},
	103: {name: "monitoring_info", fields: map[uint8]fieldSpec{
		253: {name: "timestamp", units: "s"},
		0:   {name: "local_timestamp", units: "s"},
		1:   {name: "activity_type"},
		3:   {name: "cycles_to_distance", units: "m/cycle", scale: 5000},
		4:   {name: "cycles_to_calories", units: "kcal/cycle", scale: 5000},
		5:   {name: "resting_metabolic_rate", units: "kcal/day"},
	}},
	206: {name: "field_description", fields: map[uint8]fieldSpec{
		0: {name: "developer_data_index"},
		1: {name: "field_definition_number"},
		2: {name: "fit_base_type_id"},
		3: {name: "field_name"},
		8: {name: "units"},
	}},
	207: {name: "developer_data_id", fields: map[uint8]fieldSpec{
		0: {name: "developer_id"},
		1: {name: "application_id"},
		3: {name: "developer_data_index"},
	}},
}

func messageName(global uint16) (string, bool) {
	if spec, ok := profile[global]; ok {
		return spec.name, true
	}
	return "", false
}

func fieldFor(global uint16, field uint8) (fieldSpec, bool) {
	if spec, ok := profile[global]; ok {
		if f, ok := spec.fields[field]; ok {
			return f, true
		}
	}
	return fieldSpec{}, false
}

func timestampToTime(raw uint32) time.Time {
	return fitEpoch.Add(time.Duration(raw) * time.Second)
}
