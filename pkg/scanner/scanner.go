package scanner

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/tientuk3/DensoToXDF/pkg/models"
)

var (
	// ErrBadStartOffset means the caller-supplied table offset does not
	// point at a plausible lookup-table record.
	ErrBadStartOffset = errors.New("no valid map record at start offset")

	// ErrTableNotFound means automatic discovery walked the whole image
	// without finding the lookup table.
	ErrTableNotFound = errors.New("cannot determine lookup table offset")
)

// errEndOfTable is the implicit table terminator: an id byte that cannot
// start a record. Never surfaced to callers.
var errEndOfTable = errors.New("end of map lookup table")

// Session is one pass over a firmware image: the image itself, the scan
// cursor, the maps accepted so far and a tally of records dropped for
// failing validation.
type Session struct {
	image  []byte
	cursor int
	seen   int

	Maps    []models.MapInfo
	Skipped int
}

// NewSession starts a scan of image at the given table offset.
func NewSession(image []byte, start int) *Session {
	return &Session{image: image, cursor: start}
}

// Cursor returns the byte offset the next record would be read from.
func (s *Session) Cursor() int {
	return s.cursor
}

// step reads and validates the record at the cursor, advancing past it on
// success or on a validation failure. The table terminator and truncated
// record windows leave the cursor in place.
func (s *Session) step() (*models.MapInfo, error) {
	if s.cursor >= len(s.image) {
		s.seen++
		return nil, fmt.Errorf("offset 0x%X: %w", s.cursor, models.ErrOutOfBounds)
	}
	s.seen++

	kind, err := models.KindForID(s.image[s.cursor])
	if err != nil {
		return nil, errEndOfTable
	}

	size := models.RecordSize(kind)
	if s.cursor+size > len(s.image) {
		return nil, fmt.Errorf("record at 0x%X: %w", s.cursor, models.ErrOutOfBounds)
	}

	rec := s.image[s.cursor : s.cursor+size]
	s.cursor += size

	return models.ValidateRecord(rec, len(s.image))
}

// Next returns the next valid map record, silently skipping entries that
// fail validation, until the table terminator is reached.
func (s *Session) Next() (*models.MapInfo, bool) {
	for {
		m, err := s.step()
		if err == nil {
			return m, true
		}
		if errors.Is(err, errEndOfTable) || errors.Is(err, models.ErrOutOfBounds) {
			return nil, false
		}
		s.Skipped++
	}
}

// Scan walks the map lookup table starting at start and returns the
// completed session. Per-record anomalies only reduce the output set; the
// scan fails only when the very first record is already implausible,
// which means the caller supplied a bad offset.
func Scan(image []byte, start int) (*Session, error) {
	if start < 0 || start >= len(image) {
		return nil, fmt.Errorf("offset 0x%X outside image of %d bytes: %w",
			start, len(image), ErrBadStartOffset)
	}

	s := NewSession(image, start)
	for {
		m, err := s.step()
		if err == nil {
			s.Maps = append(s.Maps, *m)
			continue
		}

		switch {
		case errors.Is(err, errEndOfTable):
			// Flash padding or code bytes: the table simply ends here.
			return s, nil
		case errors.Is(err, models.ErrOutOfBounds):
			if s.seen == 1 {
				return nil, fmt.Errorf("%w: %s", ErrBadStartOffset, err)
			}
			// Truncated image tail, treat like the terminator.
			return s, nil
		default:
			if s.seen == 1 {
				return nil, fmt.Errorf("%w: %s", ErrBadStartOffset, err)
			}
			s.Skipped++
		}
	}
}

// Offset discovery parameters. Record structures are 4-aligned in every
// firmware inspected so far, and a run of five consecutive valid records
// has never occurred outside the real lookup table.
const (
	offsetAlignment = 4
	validRunLength  = 5
)

// FindTableOffset locates the start of the map lookup table by sliding a
// 4-aligned window over the image until a run of consecutive valid
// records is found.
func FindTableOffset(image []byte) (int, error) {
	position := 0
	candidate := -1
	run := 0

	for position < len(image) {
		if size, ok := recordAt(image, position); ok {
			if candidate < 0 {
				candidate = position
			}
			run++
			if run >= validRunLength {
				return candidate, nil
			}
			position += size
			continue
		}

		// Not a record: rewind to just past the failed candidate.
		if candidate >= 0 {
			position = candidate
			candidate = -1
		}
		run = 0
		position += offsetAlignment
	}

	return 0, ErrTableNotFound
}

// recordAt reports whether a fully valid record starts at position and,
// if so, its encoded size.
func recordAt(image []byte, position int) (int, bool) {
	kind, err := models.KindForID(image[position])
	if err != nil {
		return 0, false
	}
	size := models.RecordSize(kind)
	if position+size > len(image) {
		return 0, false
	}
	if _, err := models.ValidateRecord(image[position:position+size], len(image)); err != nil {
		return 0, false
	}
	return size, true
}

// DisplayResults renders the scanned maps as a terminal table.
func DisplayResults(s *Session) {
	if len(s.Maps) == 0 {
		pterm.Info.Println("No maps found in lookup table")
		return
	}

	tableData := pterm.TableData{
		{"Kind", "Size", "X Addr", "Y Addr", "Data Addr", "X Fmt", "Y Fmt", "Data Fmt"},
	}

	for _, m := range s.Maps {
		size := fmt.Sprintf("x%d", m.XLen)
		yAddr, yFmt := "-", "-"
		if m.Kind == models.Map3D {
			size = fmt.Sprintf("x%dy%d", m.XLen, m.YLen)
			yAddr = fmt.Sprintf("0x%06X", m.YAddr)
			yFmt = m.YFormat.String()
		}
		tableData = append(tableData, []string{
			m.Kind.String(),
			size,
			fmt.Sprintf("0x%06X", m.XAddr),
			yAddr,
			fmt.Sprintf("0x%06X", m.ZAddr),
			m.XFormat.String(),
			yFmt,
			m.ZFormat.String(),
		})
	}

	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	if s.Skipped > 0 {
		pterm.Info.Printf("Skipped %d invalid record(s)\n", s.Skipped)
	}
}
