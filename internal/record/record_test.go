// ABOUTME: Tests for field parsing and the record comparator.
// ABOUTME: Covers every sort field plus the id tie-break in both directions.

package record

import (
	"slices"
	"testing"
	"time"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in      string
		want    Field
		wantErr bool
	}{
		{"", FieldID, false},
		{"id", FieldID, false},
		{"name", FieldName, false},
		{"lastMessageAt", FieldLastMessageAt, false},
		{"Name", "", true},
		{"avatar", "", true},
	}
	for _, tt := range tests {
		got, err := ParseField(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseField(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"": Asc, "asc": Asc, "DESC": Desc} {
		got, err := ParseDirection(in)
		if err != nil {
			t.Fatalf("ParseDirection(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDirection(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("ParseDirection(sideways) error = nil, want error")
	}
}

func TestComparator(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	recs := []Record{
		{ID: 3, Name: "Bob", Score: 50, Phone: "+1-555-0000003", Email: "b@x", LastMessageAt: base.AddDate(0, 0, -3)},
		{ID: 1, Name: "Alice", Score: 50, Phone: "+1-555-0000001", Email: "c@x", LastMessageAt: base.AddDate(0, 0, -1)},
		{ID: 2, Name: "Alice", Score: 10, Phone: "+1-555-0000002", Email: "a@x", LastMessageAt: base.AddDate(0, 0, -2)},
	}

	tests := []struct {
		field Field
		dir   Direction
		want  []int64
	}{
		{FieldID, Asc, []int64{1, 2, 3}},
		{FieldID, Desc, []int64{3, 2, 1}},
		{FieldName, Asc, []int64{1, 2, 3}},
		{FieldName, Desc, []int64{3, 2, 1}},
		{FieldScore, Asc, []int64{2, 1, 3}},
		{FieldScore, Desc, []int64{3, 1, 2}},
		{FieldEmail, Asc, []int64{2, 3, 1}},
		{FieldPhone, Desc, []int64{3, 2, 1}},
		{FieldLastMessageAt, Asc, []int64{3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(string(tt.field)+"_"+string(tt.dir), func(t *testing.T) {
			sorted := slices.Clone(recs)
			slices.SortFunc(sorted, Comparator(tt.field, tt.dir))
			var got []int64
			for _, r := range sorted {
				got = append(got, r.ID)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
		})
	}
}
