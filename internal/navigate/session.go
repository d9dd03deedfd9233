// ABOUTME: Explicit per-viewer navigation state and request generation tokens.
// ABOUTME: Stale query results are detected by comparing tokens, not by racing callbacks.

package navigate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/2389/megatable/internal/query"
	"github.com/2389/megatable/internal/record"
)

// ErrSuperseded is returned when a newer request was issued before a result arrived.
var ErrSuperseded = errors.New("request superseded")

// Session is the navigation state of one table view.
type Session struct {
	Offset   int
	PageSize int
	Total    int
	Search   string
	Sort     record.Field
	Dir      record.Direction
}

// Scroll moves to a scrollbar fraction and returns the new offset.
func (s *Session) Scroll(fraction float64) int {
	s.Offset = FractionToOffset(fraction, s.Total, s.PageSize)
	return s.Offset
}

// Step applies a keyboard move and returns the new offset.
func (s *Session) Step(m Move) int {
	s.Offset = m.Target(s.Offset, s.Total, s.PageSize)
	return s.Offset
}

// JumpToRow moves so that row is the first visible row. The session is
// unchanged when row is rejected.
func (s *Session) JumpToRow(row int) (int, error) {
	off, err := RowNumberToOffset(row, s.Total)
	if err != nil {
		return s.Offset, err
	}
	s.Offset = Clamp(off, s.Total, s.PageSize)
	return s.Offset, nil
}

// Fraction returns the scrollbar position for the current offset.
func (s *Session) Fraction() float64 {
	return OffsetToFraction(s.Offset, s.Total)
}

// Request builds the query for the current window.
func (s *Session) Request() query.Request {
	return query.Request{
		Offset: s.Offset,
		Limit:  s.PageSize,
		Search: s.Search,
		Sort:   s.Sort,
		Dir:    s.Dir,
	}
}

// Token identifies one issued request.
type Token uint64

// Tracker hands out monotonically increasing tokens. Only the most recently
// issued token is current.
type Tracker struct {
	latest atomic.Uint64
}

// Issue returns a new token, superseding all earlier ones.
func (t *Tracker) Issue() Token {
	return Token(t.latest.Add(1))
}

// Current reports whether tok is the latest issued token.
func (t *Tracker) Current(tok Token) bool {
	return uint64(tok) == t.latest.Load()
}

// QueryFunc runs one window request.
type QueryFunc func(ctx context.Context, req query.Request) (query.Page, error)

// Pager drives a Session against a query function and drops stale results.
type Pager struct {
	mu      sync.Mutex
	session Session
	tracker Tracker
	run     QueryFunc
	page    query.Page
}

// NewPager returns a pager starting from s.
func NewPager(s Session, run QueryFunc) *Pager {
	return &Pager{session: s, run: run}
}

// Session returns a copy of the current session state.
func (p *Pager) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Page returns the last applied page.
func (p *Pager) Page() query.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// Update changes the session under the pager's lock and returns the new state.
func (p *Pager) Update(fn func(*Session)) Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.session)
	return p.session
}

// Load queries the current window. When a newer Load starts before this one
// finishes, the result is discarded and ErrSuperseded returned. A failed
// query leaves the previously applied page in place.
//
// The result's total replaces the session total. If that moves the offset
// out of range (a search shrank the row count) the offset is clamped and the
// window queried again, so the applied page always matches the session.
func (p *Pager) Load(ctx context.Context) (query.Page, error) {
	for {
		p.mu.Lock()
		tok := p.tracker.Issue()
		req := p.session.Request()
		p.mu.Unlock()

		page, err := p.run(ctx, req)

		p.mu.Lock()
		if !p.tracker.Current(tok) {
			p.mu.Unlock()
			return query.Page{}, ErrSuperseded
		}
		if err != nil {
			p.mu.Unlock()
			return query.Page{}, err
		}
		p.session.Total = page.Total
		if off := Clamp(p.session.Offset, page.Total, p.session.PageSize); off != req.Offset {
			p.session.Offset = off
			p.mu.Unlock()
			continue
		}
		p.page = page
		p.mu.Unlock()
		return page, nil
	}
}
