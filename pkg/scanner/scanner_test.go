package scanner

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tientuk3/DensoToXDF/pkg/models"
)

func record2D(id byte, xLen int, xAddr, zAddr uint32) []byte {
	rec := make([]byte, models.Record2DSize)
	rec[0] = id
	rec[1] = byte(xLen)
	binary.BigEndian.PutUint32(rec[4:8], xAddr)
	binary.BigEndian.PutUint32(rec[8:12], zAddr)
	return rec
}

func record3D(id byte, xLen, yLen int, xAddr, yAddr, zAddr uint32) []byte {
	rec := make([]byte, models.Record3DSize)
	rec[0] = id
	rec[1] = byte(xLen)
	rec[2] = byte(yLen)
	binary.BigEndian.PutUint32(rec[4:8], xAddr)
	binary.BigEndian.PutUint32(rec[8:12], yAddr)
	binary.BigEndian.PutUint32(rec[12:16], zAddr)
	return rec
}

// ffImage returns a flash-padding image of the given size.
func ffImage(size int) []byte {
	return bytes.Repeat([]byte{0xFF}, size)
}

func TestScanAllFFImage(t *testing.T) {
	img := ffImage(0x1000)

	for _, start := range []int{0, 0x200, 0xFF0} {
		s, err := Scan(img, start)
		require.NoError(t, err)
		assert.Empty(t, s.Maps)
		assert.Zero(t, s.Skipped)
	}
}

func TestScanSingle2DRecord(t *testing.T) {
	img := ffImage(0x2000)
	copy(img[0x100:], record2D(0x01, 16, 0x800, 0x1000))

	s, err := Scan(img, 0x100)
	require.NoError(t, err)
	require.Len(t, s.Maps, 1)

	m := s.Maps[0]
	assert.Equal(t, models.Map2D, m.Kind)
	assert.Equal(t, 16, m.XLen)
	assert.Equal(t, uint32(0x800), m.XAddr)
	assert.Equal(t, uint32(0x1000), m.ZAddr)
	assert.Equal(t, models.FormatUInt16, m.XFormat)
	assert.Equal(t, models.FormatUInt8, m.ZFormat)
}

func TestScanSingle3DRecord(t *testing.T) {
	img := ffImage(0x3000)
	copy(img[0x40:], record3D(0x11, 8, 10, 0x100, 0x200, 0x2000))

	s, err := Scan(img, 0x40)
	require.NoError(t, err)
	require.Len(t, s.Maps, 1)

	m := s.Maps[0]
	assert.Equal(t, models.Map3D, m.Kind)
	assert.Equal(t, 8, m.XLen)
	assert.Equal(t, 10, m.YLen)
	assert.Equal(t, uint32(0x100), m.XAddr)
	assert.Equal(t, uint32(0x200), m.YAddr)
	assert.Equal(t, uint32(0x2000), m.ZAddr)
}

func TestScanConsecutiveRecords(t *testing.T) {
	img := ffImage(0x3000)
	pos := 0x80
	pos += copy(img[pos:], record2D(0x01, 16, 0x800, 0x1000))
	pos += copy(img[pos:], record3D(0x11, 8, 10, 0x100, 0x200, 0x2000))
	copy(img[pos:], record2D(0x09, 29, 0x900, 0x1100))

	s, err := Scan(img, 0x80)
	require.NoError(t, err)
	require.Len(t, s.Maps, 3)

	// Table order is preserved by the scanner.
	assert.Equal(t, models.Map2D, s.Maps[0].Kind)
	assert.Equal(t, models.Map3D, s.Maps[1].Kind)
	assert.Equal(t, uint32(0x1100), s.Maps[2].ZAddr)
}

func TestScanSkipsInvalidRecord(t *testing.T) {
	img := ffImage(0x3000)
	pos := 0x80
	pos += copy(img[pos:], record2D(0x01, 16, 0x800, 0x1000))
	pos += copy(img[pos:], record2D(0x01, 16, 0, 0x1000)) // zero x address
	copy(img[pos:], record2D(0x09, 29, 0x900, 0x1100))

	s, err := Scan(img, 0x80)
	require.NoError(t, err)
	assert.Len(t, s.Maps, 2)
	assert.Equal(t, 1, s.Skipped)
}

func TestScanDropsOversizedData(t *testing.T) {
	img := ffImage(0x2000)
	pos := 0x80
	pos += copy(img[pos:], record2D(0x01, 16, 0x800, 0x1000))
	// Data block runs past the end of the image.
	copy(img[pos:], record2D(0x01, 16, 0x800, 0x1FFC))

	s, err := Scan(img, 0x80)
	require.NoError(t, err)
	assert.Len(t, s.Maps, 1)
	assert.Equal(t, 1, s.Skipped)
}

func TestScanBadStartOffset(t *testing.T) {
	// Offset outside the image entirely.
	img := ffImage(0x1000)
	_, err := Scan(img, 0x5000)
	assert.ErrorIs(t, err, ErrBadStartOffset)

	_, err = Scan(img, -1)
	assert.ErrorIs(t, err, ErrBadStartOffset)

	// First record's data block exceeds the image: fail fast.
	img = ffImage(0x2000)
	copy(img[0x100:], record2D(0x01, 16, 0x800, 0x1FFC))
	_, err = Scan(img, 0x100)
	assert.ErrorIs(t, err, ErrBadStartOffset)

	// First record window truncated by the image end: fail fast.
	img = ffImage(0x100)
	img[0xF8] = 0x01 // 2D id with only 8 bytes left
	for i := 0xF9; i < 0x100; i++ {
		img[i] = 0
	}
	_, err = Scan(img, 0xF8)
	assert.ErrorIs(t, err, ErrBadStartOffset)
}

func TestScanTruncatedTail(t *testing.T) {
	// A valid record followed by a record window running past the image
	// end is the expected shape of a truncated dump; not an error.
	img := ffImage(0x80 + models.Record2DSize + 8)
	copy(img[0x80:], record2D(0x01, 16, 0x20, 0x40))
	img[0x80+models.Record2DSize] = 0x01
	for i := 0x80 + models.Record2DSize + 1; i < len(img); i++ {
		img[i] = 0
	}

	s, err := Scan(img, 0x80)
	require.NoError(t, err)
	assert.Len(t, s.Maps, 1)
}

func TestSessionNext(t *testing.T) {
	img := ffImage(0x3000)
	pos := 0x80
	pos += copy(img[pos:], record2D(0x01, 16, 0x800, 0x1000))
	copy(img[pos:], record3D(0x11, 8, 10, 0x100, 0x200, 0x2000))

	s := NewSession(img, 0x80)

	m, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, models.Map2D, m.Kind)

	m, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, models.Map3D, m.Kind)
	assert.Equal(t, 0x80+models.Record2DSize+models.Record3DSize, s.Cursor())

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestFindTableOffset(t *testing.T) {
	img := ffImage(0x2000)
	pos := 0x40
	for i := 0; i < 5; i++ {
		pos += copy(img[pos:], record2D(0x01, 16, 0x800, 0x1000))
	}

	offset, err := FindTableOffset(img)
	require.NoError(t, err)
	assert.Equal(t, 0x40, offset)
}

func TestFindTableOffsetRequiresRun(t *testing.T) {
	// Four valid records are not enough to call it a table.
	img := ffImage(0x2000)
	pos := 0x40
	for i := 0; i < 4; i++ {
		pos += copy(img[pos:], record2D(0x01, 16, 0x800, 0x1000))
	}

	_, err := FindTableOffset(img)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestFindTableOffsetNotFound(t *testing.T) {
	_, err := FindTableOffset(ffImage(0x1000))
	assert.ErrorIs(t, err, ErrTableNotFound)

	_, err = FindTableOffset(make([]byte, 0x1000)) // zero addresses never validate
	assert.ErrorIs(t, err, ErrTableNotFound)
}
