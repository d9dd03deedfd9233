// ABOUTME: Customer record model shared by the generator, store, and query engine.
// ABOUTME: Defines sortable fields, sort directions, and the record comparator.

package record

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// Record is one row of the logical customer dataset.
type Record struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email"`
	Score         int       `json:"score"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	AddedBy       string    `json:"addedBy"`
	Avatar        string    `json:"avatar"`
}

// Field names a sortable column.
type Field string

const (
	FieldID            Field = "id"
	FieldName          Field = "name"
	FieldPhone         Field = "phone"
	FieldEmail         Field = "email"
	FieldScore         Field = "score"
	FieldLastMessageAt Field = "lastMessageAt"
)

// Fields lists every sortable field in column order.
var Fields = []Field{FieldID, FieldName, FieldPhone, FieldEmail, FieldScore, FieldLastMessageAt}

// Valid reports whether f is a known sortable field.
func (f Field) Valid() bool {
	for _, known := range Fields {
		if f == known {
			return true
		}
	}
	return false
}

// ParseField parses a wire field name. An empty string means FieldID.
func ParseField(s string) (Field, error) {
	if s == "" {
		return FieldID, nil
	}
	f := Field(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown sort field %q", s)
	}
	return f, nil
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection parses "asc" or "desc" case-insensitively. An empty string means Asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// Valid reports whether d is Asc or Desc.
func (d Direction) Valid() bool {
	return d == Asc || d == Desc
}

// Compare orders a and b by field f in ascending order. Equal keys fall back
// to the id so the result is a total order.
func Compare(a, b Record, f Field) int {
	var c int
	switch f {
	case FieldName:
		c = strings.Compare(a.Name, b.Name)
	case FieldPhone:
		c = strings.Compare(a.Phone, b.Phone)
	case FieldEmail:
		c = strings.Compare(a.Email, b.Email)
	case FieldScore:
		c = cmp.Compare(a.Score, b.Score)
	case FieldLastMessageAt:
		c = a.LastMessageAt.Compare(b.LastMessageAt)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Comparator returns a comparison function for slices.SortFunc honoring
// field and direction.
func Comparator(f Field, d Direction) func(a, b Record) int {
	if d == Desc {
		return func(a, b Record) int { return Compare(b, a, f) }
	}
	return func(a, b Record) int { return Compare(a, b, f) }
}
