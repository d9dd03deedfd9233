// ABOUTME: Deterministic customer record generator.
// ABOUTME: Derives every field of a record from its id with O(1) arithmetic over fixed lookup tables.

package generator

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389/megatable/internal/record"
)

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda",
	"David", "Elizabeth", "William", "Barbara", "Richard", "Susan", "Joseph", "Jessica",
	"Thomas", "Sarah", "Charles", "Karen", "Daniel", "Lisa", "Matthew", "Nancy",
	"Anthony", "Betty", "Mark", "Sandra", "Steven", "Ashley", "Andrew", "Emily",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
	"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas",
	"Taylor", "Moore", "Jackson", "Martin", "Lee", "Perez", "Thompson", "White",
	"Harris", "Sanchez", "Clark", "Ramirez", "Lewis", "Robinson", "Walker", "Young",
	"Allen", "King", "Wright", "Scott", "Torres", "Nguyen", "Hill", "Flores",
}

var domains = []string{"gmail.com", "yahoo.com", "outlook.com", "icloud.com", "proton.me", "example.com"}

var agents = []string{"Alex Support", "Jordan Sales", "Casey Success", "Riley Ops", "Import Bot"}

const (
	phonePrefix    = "+1-555-"
	avatarTemplate = "https://i.pravatar.cc/150?u=%d"
	daysPerYear    = 365
)

// Generator synthesizes records relative to a fixed reference time.
// All fields except LastMessageAt depend on the id alone; LastMessageAt is
// only stable for generators sharing the same reference time.
type Generator struct {
	now time.Time
}

// New returns a generator anchored at now. The reference time is truncated to
// milliseconds in UTC so synthesized timestamps survive a store round trip.
func New(now time.Time) *Generator {
	return &Generator{now: now.UTC().Truncate(time.Millisecond)}
}

// Now returns the reference time.
func (g *Generator) Now() time.Time {
	return g.now
}

// Generate returns the record for id. It never fails.
func (g *Generator) Generate(id int64) record.Record {
	name := NameFor(id)
	return record.Record{
		ID:            id,
		Name:          name,
		Phone:         PhoneFor(id),
		Email:         EmailFor(name, id),
		Score:         int(mod(id*7, 100)),
		LastMessageAt: g.now.AddDate(0, 0, -int(mod(id, daysPerYear))),
		AddedBy:       agents[mod(id, int64(len(agents)))],
		Avatar:        fmt.Sprintf(avatarTemplate, id),
	}
}

// Range returns the records for ids from through to inclusive.
func (g *Generator) Range(from, to int64) []record.Record {
	if to < from {
		return nil
	}
	out := make([]record.Record, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, g.Generate(id))
	}
	return out
}

// NameFor returns the synthesized "First Last" name for id.
func NameFor(id int64) string {
	n := int64(len(firstNames))
	first := firstNames[mod(id, n)]
	last := lastNames[mod(id/n, int64(len(lastNames)))]
	return first + " " + last
}

// PhoneFor returns the fixed-width phone number for id.
func PhoneFor(id int64) string {
	return fmt.Sprintf("%s%07d", phonePrefix, id)
}

// EmailFor builds the address for a person called name with the given id.
// The id is embedded in the local part, so two ids never share an address.
func EmailFor(name string, id int64) string {
	var parts []string
	for _, p := range strings.Fields(strings.ToLower(name)) {
		if p = normalize(p); p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, fmt.Sprint(id))
	return strings.Join(parts, ".") + "@" + domains[mod(id, int64(len(domains)))]
}

// normalize keeps ASCII letters and digits only.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func mod(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
