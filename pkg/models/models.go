package models

import (
	"encoding/binary"
	"fmt"
)

// MapKind distinguishes the two record layouts found in the lookup table.
type MapKind int

const (
	Map2D MapKind = iota
	Map3D
)

func (k MapKind) String() string {
	if k == Map3D {
		return "3D"
	}
	return "2D"
}

// ElementFormat is the binary encoding of one stored axis or data value.
type ElementFormat int

const (
	FormatUInt16 ElementFormat = 16
	FormatUInt8  ElementFormat = 8
)

// Bits returns the element width in bits, or 0 for a format the tool
// does not handle.
func (f ElementFormat) Bits() int {
	switch f {
	case FormatUInt8, FormatUInt16:
		return int(f)
	default:
		return 0
	}
}

// Bytes returns the element width in bytes.
func (f ElementFormat) Bytes() int {
	return f.Bits() / 8
}

func (f ElementFormat) String() string {
	switch f {
	case FormatUInt8:
		return "uint8"
	case FormatUInt16:
		return "uint16"
	default:
		return "unknown"
	}
}

// Lookup table record layout. All multi-byte fields are big-endian.
// A 2D record is id(1) xLen(1) pad(2) xAddr(4) zAddr(4) zeros(4).
// A 3D record is id(1) xLen(1) yLen(1) pad(1) xAddr(4) yAddr(4) zAddr(4) zeros(4).
const (
	Record2DSize = 16
	Record3DSize = 20

	// MaxRecordID is the highest id byte that still denotes a map record.
	// Anything above it (including 0xFF flash padding) terminates the table.
	MaxRecordID = 0x2A

	// Record ids above this value describe 3D maps, the rest 2D maps.
	record3DThreshold = 0x0F

	// Byte 3 is padding and holds 0x00 or 0xFF depending on ECU version.
	padByteIndex = 3

	// Every record ends in four zero bytes.
	zeroTailSize = 4
)

// Element width bits of the record id byte. A set bit means 8-bit
// elements, clear means 16-bit.
const (
	xFormatBit = 1 << 4
	yFormatBit = 1 << 2
	zFormatBit = 1 << 0
)

// MapInfo is one decoded entry of the Denso map lookup table. YLen, YAddr
// and YFormat are meaningful only for 3D maps.
type MapInfo struct {
	ID   byte
	Kind MapKind

	XLen int
	YLen int

	XAddr uint32
	YAddr uint32
	ZAddr uint32

	XFormat ElementFormat
	YFormat ElementFormat
	ZFormat ElementFormat
}

// KindForID classifies a record by its leading id byte. Ids above
// MaxRecordID are not records at all; they mark the end of the table.
func KindForID(id byte) (MapKind, error) {
	switch {
	case id > MaxRecordID:
		return 0, fmt.Errorf("id byte 0x%02X: %w", id, ErrInvalidRecord)
	case id > record3DThreshold:
		return Map3D, nil
	default:
		return Map2D, nil
	}
}

// RecordSize returns the encoded size in bytes of a record of the given kind.
func RecordSize(kind MapKind) int {
	if kind == Map3D {
		return Record3DSize
	}
	return Record2DSize
}

func formatForBit(id, mask byte) ElementFormat {
	if id&mask != 0 {
		return FormatUInt8
	}
	return FormatUInt16
}

// DecodeRecord decodes a single lookup-table record. rec must hold at
// least RecordSize bytes for the kind implied by its id byte.
func DecodeRecord(rec []byte) (*MapInfo, error) {
	if len(rec) == 0 {
		return nil, fmt.Errorf("empty record window: %w", ErrOutOfBounds)
	}

	kind, err := KindForID(rec[0])
	if err != nil {
		return nil, err
	}
	if len(rec) < RecordSize(kind) {
		return nil, fmt.Errorf("%s record needs %d bytes, have %d: %w",
			kind, RecordSize(kind), len(rec), ErrOutOfBounds)
	}

	m := &MapInfo{
		ID:      rec[0],
		Kind:    kind,
		XLen:    int(rec[1]),
		XFormat: formatForBit(rec[0], xFormatBit),
		ZFormat: formatForBit(rec[0], zFormatBit),
	}

	switch kind {
	case Map2D:
		m.XAddr = binary.BigEndian.Uint32(rec[4:8])
		m.ZAddr = binary.BigEndian.Uint32(rec[8:12])
	case Map3D:
		m.YLen = int(rec[2])
		m.YFormat = formatForBit(rec[0], yFormatBit)
		m.XAddr = binary.BigEndian.Uint32(rec[4:8])
		m.YAddr = binary.BigEndian.Uint32(rec[8:12])
		m.ZAddr = binary.BigEndian.Uint32(rec[12:16])
	}

	return m, nil
}

// DataLength returns the size in bytes of the map's data block.
func (m *MapInfo) DataLength() int {
	rows := 1
	if m.Kind == Map3D {
		rows = m.YLen
	}
	return m.XLen * rows * m.ZFormat.Bytes()
}

// Validate checks that the decoded entry describes a map that actually
// fits inside an image of imageSize bytes.
func (m *MapInfo) Validate(imageSize int) error {
	if m.XLen < 1 {
		return fmt.Errorf("zero x axis length: %w", ErrInvalidRecord)
	}
	if m.Kind == Map3D && m.YLen < 1 {
		return fmt.Errorf("zero y axis length: %w", ErrInvalidRecord)
	}

	if m.XFormat.Bits() == 0 || m.ZFormat.Bits() == 0 {
		return fmt.Errorf("element format of record 0x%02X: %w", m.ID, ErrUnsupportedFormat)
	}
	if m.Kind == Map3D && m.YFormat.Bits() == 0 {
		return fmt.Errorf("y element format of record 0x%02X: %w", m.ID, ErrUnsupportedFormat)
	}

	if err := checkRange("x axis", m.XAddr, m.XLen*m.XFormat.Bytes(), imageSize); err != nil {
		return err
	}
	if m.Kind == Map3D {
		if err := checkRange("y axis", m.YAddr, m.YLen*m.YFormat.Bytes(), imageSize); err != nil {
			return err
		}
	}
	return checkRange("data", m.ZAddr, m.DataLength(), imageSize)
}

func checkRange(what string, addr uint32, length, imageSize int) error {
	if addr == 0 {
		return fmt.Errorf("%s address is zero: %w", what, ErrInvalidRecord)
	}
	// int64 arithmetic so addresses above 2^31 cannot wrap on 32-bit builds.
	if int64(addr)+int64(length) > int64(imageSize) {
		return fmt.Errorf("%s at 0x%X (%d bytes) exceeds image of %d bytes: %w",
			what, addr, length, imageSize, ErrInvalidRecord)
	}
	return nil
}

// ValidateRecord decodes the raw record window, checks it for the
// structural markers of a real lookup-table entry (padding byte, zero
// tail) and that the decoded addresses fit an image of imageSize bytes,
// and returns the decoded entry.
func ValidateRecord(rec []byte, imageSize int) (*MapInfo, error) {
	m, err := DecodeRecord(rec)
	if err != nil {
		return nil, err
	}

	size := RecordSize(m.Kind)
	if p := rec[padByteIndex]; p != 0x00 && p != 0xFF {
		return nil, fmt.Errorf("padding byte 0x%02X: %w", p, ErrInvalidRecord)
	}
	for _, b := range rec[size-zeroTailSize : size] {
		if b != 0 {
			return nil, fmt.Errorf("nonzero record tail: %w", ErrInvalidRecord)
		}
	}

	if err := m.Validate(imageSize); err != nil {
		return nil, err
	}
	return m, nil
}
