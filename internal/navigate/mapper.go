// ABOUTME: Position mapping between scroll fractions, keyboard moves, row numbers, and offsets.
// ABOUTME: Pure arithmetic over the logical row count; every result is clamped to a valid window start.

package navigate

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned for row numbers outside [1, total].
var ErrOutOfRange = errors.New("row out of range")

// RangeError describes a rejected row number.
type RangeError struct {
	Row   int
	Total int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("row %d out of range [1, %d]", e.Row, e.Total)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// MaxOffset returns the last valid window start for a page of pageSize rows.
func MaxOffset(total, pageSize int) int {
	if total <= pageSize {
		return 0
	}
	return total - pageSize
}

// Clamp limits offset to [0, MaxOffset(total, pageSize)].
func Clamp(offset, total, pageSize int) int {
	return max(0, min(offset, MaxOffset(total, pageSize)))
}

// FractionToOffset maps a scrollbar position in [0,1] to a window start.
// Fractions outside the interval, and NaN, are clamped.
func FractionToOffset(fraction float64, total, pageSize int) int {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return Clamp(int(math.Floor(fraction*float64(total))), total, pageSize)
}

// OffsetToFraction maps a window start back to a scrollbar position.
func OffsetToFraction(offset, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(offset) / float64(total)
}

// Advance moves the window start by delta rows.
func Advance(current, delta, total, pageSize int) int {
	return Clamp(current+delta, total, pageSize)
}

// Start is the window start of the first page.
func Start() int {
	return 0
}

// End is the window start of the last page.
func End(total, pageSize int) int {
	return MaxOffset(total, pageSize)
}

// RowNumberToOffset converts a 1-based row number to an offset.
func RowNumberToOffset(row, total int) (int, error) {
	if row < 1 || row > total {
		return 0, &RangeError{Row: row, Total: total}
	}
	return row - 1, nil
}

// Move is a keyboard navigation action.
type Move int

const (
	StepDown Move = iota
	StepUp
	PageDown
	PageUp
	Home
	EndKey
)

var moveNames = map[string]Move{
	"down":     StepDown,
	"up":       StepUp,
	"pagedown": PageDown,
	"pageup":   PageUp,
	"home":     Home,
	"end":      EndKey,
}

// ParseMove parses a move name such as "pagedown".
func ParseMove(s string) (Move, error) {
	m, ok := moveNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown move %q", s)
	}
	return m, nil
}

// Target returns the offset reached by applying m at current.
func (m Move) Target(current, total, pageSize int) int {
	switch m {
	case StepDown:
		return Advance(current, 1, total, pageSize)
	case StepUp:
		return Advance(current, -1, total, pageSize)
	case PageDown:
		return Advance(current, pageSize, total, pageSize)
	case PageUp:
		return Advance(current, -pageSize, total, pageSize)
	case Home:
		return Start()
	case EndKey:
		return End(total, pageSize)
	}
	return Clamp(current, total, pageSize)
}
