package fitfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/tormoder/fit/dyncrc16"
)

const (
	compressedHeaderMask       = 0x80
	compressedLocalMesgNumMask = 0x60
	compressedTimeMask         = 0x1F
	mesgDefinitionMask         = 0x40
	devDataMask                = 0x20
	localMesgNumMask           = 0x0F

	headerSizeNoCRC = 12
	headerSizeCRC   = 14
)

// Options controls decoding.
type Options struct {
	// Validate makes header and file CRC mismatches fatal (MalformedFileError).
	Validate bool
	// Filters are applied, in order, to every record after decoding.
	Filters []Filter
}

type baseType uint8

const (
	baseEnum    baseType = 0x00
	baseSint8   baseType = 0x01
	baseUint8   baseType = 0x02
	baseSint16  baseType = 0x83
	baseUint16  baseType = 0x84
	baseSint32  baseType = 0x85
	baseUint32  baseType = 0x86
	baseString  baseType = 0x07
	baseFloat32 baseType = 0x88
	baseFloat64 baseType = 0x89
	baseUint8z  baseType = 0x0A
	baseUint16z baseType = 0x8B
	baseUint32z baseType = 0x8C
	baseByte    baseType = 0x0D
	baseSint64  baseType = 0x8E
	baseUint64  baseType = 0x8F
	baseUint64z baseType = 0x90
)

var baseSizes = map[baseType]int{
	baseEnum: 1, baseSint8: 1, baseUint8: 1, baseSint16: 2, baseUint16: 2,
	baseSint32: 4, baseUint32: 4, baseString: 1, baseFloat32: 4, baseFloat64: 8,
	baseUint8z: 1, baseUint16z: 2, baseUint32z: 4, baseByte: 1,
	baseSint64: 8, baseUint64: 8, baseUint64z: 8,
}

type fieldDef struct {
	number uint8
	size   uint8
	base   baseType
}

type devFieldDef struct {
	number   uint8
	size     uint8
	dataIdx  uint8
	baseSize int
}

type definition struct {
	global    uint16
	arch      binary.ByteOrder
	fields    []fieldDef
	devFields []devFieldDef
}

type decoder struct {
	data          []byte
	pos           int
	defs          map[uint8]definition
	lastTimestamp uint32
	lastOffset    int32
	records       []Record
	warnings      []string
	unknownSeen   map[uint16]bool
}

func (d *decoder) warnf(format string, args ...any) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}

// Decode parses a FIT byte blob into timestamp-ordered records. Records
// without timestamps sort before timestamped ones; the original file order is
// preserved within equal keys.
func Decode(data []byte, opts Options) (*File, error) {
	if len(data) < headerSizeNoCRC+2 {
		return nil, malformed("too short: %d bytes", len(data))
	}

	size := int(data[0])
	if size != headerSizeNoCRC && size != headerSizeCRC {
		return nil, malformed("invalid header size %d", size)
	}
	if len(data) < size {
		return nil, malformed("truncated header")
	}
	if string(data[8:12]) != ".FIT" {
		return nil, malformed("bad magic %q", string(data[8:12]))
	}
	dataSize := int(binary.LittleEndian.Uint32(data[4:8]))
	required := size + dataSize + 2
	if len(data) < required {
		return nil, malformed("truncated: have %d bytes, need %d", len(data), required)
	}

	d := &decoder{
		data:        data[size : size+dataSize],
		defs:        make(map[uint8]definition),
		unknownSeen: make(map[uint16]bool),
	}

	if size == headerSizeCRC {
		stored := binary.LittleEndian.Uint16(data[12:14])
		if stored != 0 {
			computed := dyncrc16.Checksum(data[:12])
			if stored != computed {
				if opts.Validate {
					return nil, malformed("header CRC mismatch: stored %04x, computed %04x", stored, computed)
				}
				d.warnf("header CRC mismatch: stored %04x, computed %04x", stored, computed)
			}
		}
	}
	storedCRC := binary.LittleEndian.Uint16(data[size+dataSize : size+dataSize+2])
	computedCRC := dyncrc16.Checksum(data[:size+dataSize])
	if storedCRC != computedCRC {
		if opts.Validate {
			return nil, malformed("file CRC mismatch: stored %04x, computed %04x", storedCRC, computedCRC)
		}
		d.warnf("file CRC mismatch: stored %04x, computed %04x", storedCRC, computedCRC)
	}

	if err := d.run(); err != nil {
		return nil, err
	}

	sort.SliceStable(d.records, func(i, j int) bool {
		a, b := d.records[i], d.records[j]
		if a.HasTime != b.HasTime {
			return !a.HasTime
		}
		if !a.HasTime {
			return false
		}
		return a.Time.Before(b.Time)
	})

	for i := range d.records {
		for _, f := range opts.Filters {
			d.records[i] = f(d.records[i])
		}
	}

	return &File{Records: d.records, Warnings: d.warnings}, nil
}

func (d *decoder) run() error {
	for d.pos < len(d.data) {
		header := d.data[d.pos]
		d.pos++

		switch {
		case header&compressedHeaderMask == compressedHeaderMask:
			local := (header & compressedLocalMesgNumMask) >> 5
			def, ok := d.defs[local]
			if !ok {
				return malformed("compressed data message with no definition for local %d", local)
			}
			if err := d.dataMessage(def, header, true); err != nil {
				return err
			}
		case header&mesgDefinitionMask == mesgDefinitionMask:
			if err := d.definitionMessage(header); err != nil {
				return err
			}
		default:
			local := header & localMesgNumMask
			def, ok := d.defs[local]
			if !ok {
				return malformed("data message with no definition for local %d", local)
			}
			if err := d.dataMessage(def, header, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *decoder) read(n int) ([]byte, error) {
	if d.pos+n > len(d.data) {
		return nil, malformed("record truncated at byte %d", d.pos)
	}
	out := d.data[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) definitionMessage(header uint8) error {
	local := header & localMesgNumMask

	fixed, err := d.read(5) // reserved, arch, global (2), field count
	if err != nil {
		return err
	}
	var arch binary.ByteOrder
	switch fixed[1] {
	case 0:
		arch = binary.LittleEndian
	case 1:
		arch = binary.BigEndian
	default:
		return malformed("invalid architecture byte %d", fixed[1])
	}
	def := definition{
		global: arch.Uint16(fixed[2:4]),
		arch:   arch,
	}

	nFields := int(fixed[4])
	for i := 0; i < nFields; i++ {
		raw, err := d.read(3)
		if err != nil {
			return err
		}
		def.fields = append(def.fields, fieldDef{
			number: raw[0],
			size:   raw[1],
			base:   baseType(raw[2] & 0x9F),
		})
	}

	if header&devDataMask == devDataMask {
		count, err := d.read(1)
		if err != nil {
			return err
		}
		for i := 0; i < int(count[0]); i++ {
			raw, err := d.read(3)
			if err != nil {
				return err
			}
			def.devFields = append(def.devFields, devFieldDef{
				number: raw[0], size: raw[1], dataIdx: raw[2],
			})
		}
	}

	d.defs[local] = def
	return nil
}

func (d *decoder) dataMessage(def definition, header uint8, compressed bool) error {
	name, known := messageName(def.global)
	if !known {
		name = fmt.Sprintf("message_%d", def.global)
		if !d.unknownSeen[def.global] {
			d.unknownSeen[def.global] = true
			d.warnf("unknown message %d passed through", def.global)
		}
	}

	rec := Record{
		Name:   name,
		Global: def.global,
		Fields: make(map[string]Value, len(def.fields)),
	}

	if compressed {
		offset := int32(header & compressedTimeMask)
		if d.lastTimestamp != 0 {
			d.lastTimestamp += uint32((offset - d.lastOffset) & int32(compressedTimeMask))
			d.lastOffset = offset
			rec.Time = timestampToTime(d.lastTimestamp)
			rec.HasTime = true
		} else {
			d.warnf("compressed timestamp with no reference, message %s", name)
		}
	}

	for _, fd := range def.fields {
		raw, err := d.read(int(fd.size))
		if err != nil {
			return err
		}
		spec, _ := fieldFor(def.global, fd.number)
		fname := spec.name
		if fname == "" {
			fname = fmt.Sprintf("field_%d", fd.number)
		}

		if fd.number == fieldNumTimestamp {
			if ts, ok := rawUint32(raw, fd.base, def.arch); ok && ts != 0xFFFFFFFF {
				d.lastTimestamp = ts
				d.lastOffset = int32(ts & compressedTimeMask)
				rec.Time = timestampToTime(ts)
				rec.HasTime = true
			}
		}
		// Monitoring samples carry a 16-bit timestamp relative to the last
		// full timestamp seen in the file.
		if def.global == 55 && fd.number == fieldNumTimestamp16 {
			if t16, ok := rawUint32(raw, fd.base, def.arch); ok && d.lastTimestamp != 0 {
				full := d.lastTimestamp + ((uint32(t16) - (d.lastTimestamp & 0xFFFF)) & 0xFFFF)
				rec.Time = timestampToTime(full)
				rec.HasTime = true
			}
		}

		value := decodeValue(raw, fd, def.arch, spec)
		if len(value.Values) > 0 || len(value.invalid) > 0 {
			if _, dup := rec.Fields[fname]; dup {
				d.warnf("duplicate field %s in message %s", fname, name)
			}
			rec.Fields[fname] = value
		}
	}

	for _, dd := range def.devFields {
		raw, err := d.read(int(dd.size))
		if err != nil {
			return err
		}
		fname := fmt.Sprintf("dev_%d_%d", dd.dataIdx, dd.number)
		values := make([]any, len(raw))
		for i, b := range raw {
			values[i] = b
		}
		rec.Fields[fname] = Value{Values: values}
	}

	d.records = append(d.records, rec)
	return nil
}

// decodeValue decodes one field's bytes, applying the profile scale/offset
// and enum naming. Sentinel invalid values are kept but flagged; the
// suppression filter removes them.
func decodeValue(raw []byte, fd fieldDef, arch binary.ByteOrder, spec fieldSpec) Value {
	out := Value{Units: spec.units}

	if fd.base == baseString {
		s := decodeString(raw)
		if s != "" {
			out.Values = []any{s}
			out.invalid = []bool{false}
		}
		return out
	}

	size, ok := baseSizes[fd.base]
	if !ok || size <= 0 || len(raw)%size != 0 {
		// Unknown base type: pass bytes through.
		for _, b := range raw {
			out.Values = append(out.Values, b)
			out.invalid = append(out.invalid, false)
		}
		return out
	}

	for i := 0; i+size <= len(raw); i += size {
		v, invalid := decodeScalar(raw[i:i+size], fd.base, arch)
		if !invalid {
			if spec.scale != 0 {
				if f, ok := toFloat(v); ok {
					v = f/spec.scale - spec.offset
				}
			} else if spec.enum != nil {
				if u, ok := toUint64(v); ok {
					if s, ok := spec.enum[u]; ok {
						v = s
					}
				}
			}
		}
		out.Values = append(out.Values, v)
		out.invalid = append(out.invalid, invalid)
	}
	return out
}

func decodeScalar(raw []byte, bt baseType, arch binary.ByteOrder) (any, bool) {
	switch bt {
	case baseEnum:
		return raw[0], raw[0] == 0xFF
	case baseSint8:
		v := int8(raw[0])
		return v, v == 0x7F
	case baseUint8:
		return raw[0], raw[0] == 0xFF
	case baseUint8z:
		return raw[0], raw[0] == 0
	case baseSint16:
		v := int16(arch.Uint16(raw))
		return v, v == 0x7FFF
	case baseUint16:
		v := arch.Uint16(raw)
		return v, v == 0xFFFF
	case baseUint16z:
		v := arch.Uint16(raw)
		return v, v == 0
	case baseSint32:
		v := int32(arch.Uint32(raw))
		return v, v == 0x7FFFFFFF
	case baseUint32:
		v := arch.Uint32(raw)
		return v, v == 0xFFFFFFFF
	case baseUint32z:
		v := arch.Uint32(raw)
		return v, v == 0
	case baseFloat32:
		bits := arch.Uint32(raw)
		return float64(math.Float32frombits(bits)), bits == 0xFFFFFFFF
	case baseFloat64:
		bits := arch.Uint64(raw)
		return math.Float64frombits(bits), bits == 0xFFFFFFFFFFFFFFFF
	case baseSint64:
		v := int64(arch.Uint64(raw))
		return v, v == 0x7FFFFFFFFFFFFFFF
	case baseUint64:
		v := arch.Uint64(raw)
		return v, v == 0xFFFFFFFFFFFFFFFF
	case baseUint64z:
		v := arch.Uint64(raw)
		return v, v == 0
	default: // baseByte
		return raw[0], raw[0] == 0xFF
	}
}

func rawUint32(raw []byte, bt baseType, arch binary.ByteOrder) (uint32, bool) {
	switch len(raw) {
	case 2:
		return uint32(arch.Uint16(raw)), true
	case 4:
		return arch.Uint32(raw), true
	default:
		return 0, false
	}
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case int8:
		if x >= 0 {
			return uint64(x), true
		}
	case int16:
		if x >= 0 {
			return uint64(x), true
		}
	case int32:
		if x >= 0 {
			return uint64(x), true
		}
	case int64:
		if x >= 0 {
			return uint64(x), true
		}
	}
	return 0, false
}

func decodeString(raw []byte) string {
	end := len(raw)
	for i, b := range raw {
		if b == 0 {
			end = i
			break
		}
	}
	return string(raw[:end])
}
