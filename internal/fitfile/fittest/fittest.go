// Package fittest builds small synthetic FIT files for tests.
package fittest

import (
	"encoding/binary"
	"time"

	"github.com/tormoder/fit/dyncrc16"
)

// FitEpoch is the zero of FIT timestamps.
var FitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

// FieldDef is one field of a definition message.
type FieldDef struct {
	Number uint8
	Size   uint8
	Base   uint8
}

// Builder accumulates FIT records and assembles a valid file around them.
type Builder struct {
	body []byte
}

// Definition appends a definition message binding local to a global message.
func (b *Builder) Definition(local uint8, global uint16, fields ...FieldDef) *Builder {
	b.body = append(b.body, 0x40|local&0x0F, 0, 0) // header, reserved, little-endian
	b.body = binary.LittleEndian.AppendUint16(b.body, global)
	b.body = append(b.body, uint8(len(fields)))
	for _, f := range fields {
		b.body = append(b.body, f.Number, f.Size, f.Base)
	}
	return b
}

// Data appends a data message for local with pre-encoded field bytes.
func (b *Builder) Data(local uint8, payload ...byte) *Builder {
	b.body = append(b.body, local&0x0F)
	b.body = append(b.body, payload...)
	return b
}

// Timestamp encodes t as a FIT uint32 timestamp, little-endian.
func Timestamp(t time.Time) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(t.Sub(FitEpoch)/time.Second))
}

// Uint32 encodes v little-endian.
func Uint32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// Uint16 encodes v little-endian.
func Uint16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// Int32 encodes v little-endian.
func Int32(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}

// Bytes assembles the 14-byte header, body and trailing CRC.
func (b *Builder) Bytes() []byte {
	header := make([]byte, 14)
	header[0] = 14
	header[1] = 0x10 // protocol version
	binary.LittleEndian.PutUint16(header[2:4], 2140)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(b.body)))
	copy(header[8:12], ".FIT")
	binary.LittleEndian.PutUint16(header[12:14], dyncrc16.Checksum(header[:12]))

	out := append(header, b.body...)
	crc := dyncrc16.Checksum(out)
	return binary.LittleEndian.AppendUint16(out, crc)
}
