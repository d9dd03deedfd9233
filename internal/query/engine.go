// ABOUTME: Hybrid query engine merging persisted records with synthesized ones.
// ABOUTME: Serves offset windows over the logical dataset and exact search over the persisted prefix.

package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/megatable/internal/generator"
	"github.com/2389/megatable/internal/record"
)

const (
	// DefaultTotal is the logical size N of the dataset.
	DefaultTotal = 1_000_000
	// DefaultPersisted is the persisted prefix size K.
	DefaultPersisted = 10_000
	// MaxLimit caps a single window.
	MaxLimit = 1_000
)

var (
	// ErrQueryFailed wraps store failures hit while answering a query.
	ErrQueryFailed = errors.New("query failed")
	// ErrInvalidRequest means a request violated its preconditions.
	ErrInvalidRequest = errors.New("invalid request")
)

// Source is the read side of the persisted store.
type Source interface {
	GetRange(ctx context.Context, lo, hi int64) (map[int64]record.Record, error)
	SearchCandidates(ctx context.Context, term string, maxID int64) iter.Seq2[record.Record, error]
	Count(ctx context.Context) (int, error)
}

// Request asks for the window [Offset, Offset+Limit).
type Request struct {
	Offset int
	Limit  int
	Search string
	Sort   record.Field
	Dir    record.Direction
}

// Validate checks the request preconditions.
func (r Request) Validate() error {
	switch {
	case r.Offset < 0:
		return fmt.Errorf("%w: offset %d is negative", ErrInvalidRequest, r.Offset)
	case r.Limit <= 0:
		return fmt.Errorf("%w: limit %d must be positive", ErrInvalidRequest, r.Limit)
	case r.Limit > MaxLimit:
		return fmt.Errorf("%w: limit %d exceeds %d", ErrInvalidRequest, r.Limit, MaxLimit)
	case !r.Sort.Valid():
		return fmt.Errorf("%w: sort field %q", ErrInvalidRequest, r.Sort)
	case !r.Dir.Valid():
		return fmt.Errorf("%w: sort direction %q", ErrInvalidRequest, r.Dir)
	}
	return nil
}

// Page is one window of results.
type Page struct {
	Records []record.Record `json:"page"`
	Total   int             `json:"total"`
	HasMore bool            `json:"hasMore"`
}

// Observer receives per-query measurements.
type Observer interface {
	OnWindow(d time.Duration, persisted, synthesized int, err error)
	OnSearch(d time.Duration, matches int, shared bool, err error)
}

// NoopObserver discards all measurements.
type NoopObserver struct{}

func (NoopObserver) OnWindow(time.Duration, int, int, error) {}
func (NoopObserver) OnSearch(time.Duration, int, bool, error) {}

// Options configures an Engine.
type Options struct {
	Total     int // logical dataset size N
	Persisted int // persisted prefix size K
	Logger    *slog.Logger
	Observer  Observer
}

type Engine struct {
	src       Source
	gen       *generator.Generator
	total     int
	persisted int
	logger    *slog.Logger
	observer  Observer
	searches  singleflight.Group
}

// New returns an engine over src that synthesizes missing rows with gen.
// Zero option values fall back to the defaults.
func New(src Source, gen *generator.Generator, opts Options) *Engine {
	if opts.Total <= 0 {
		opts.Total = DefaultTotal
	}
	if opts.Persisted <= 0 {
		opts.Persisted = DefaultPersisted
	}
	if opts.Persisted > opts.Total {
		opts.Persisted = opts.Total
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}
	return &Engine{
		src:       src,
		gen:       gen,
		total:     opts.Total,
		persisted: opts.Persisted,
		logger:    opts.Logger,
		observer:  opts.Observer,
	}
}

// Total returns the logical dataset size.
func (e *Engine) Total() int {
	return e.total
}

// PersistedLimit returns K, the highest id that may be served from storage.
func (e *Engine) PersistedLimit() int {
	return e.persisted
}

// Persisted returns the number of records actually stored.
func (e *Engine) Persisted(ctx context.Context) (int, error) {
	n, err := e.src.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return n, nil
}

// Query resolves a window request.
//
// Without a search term the window covers the whole logical dataset. A sort
// other than ascending id reorders only the fetched window, so consecutive
// pages are each sorted but not globally ordered.
//
// With a search term only persisted records are considered; the full match
// set is sorted before slicing.
func (e *Engine) Query(ctx context.Context, req Request) (Page, error) {
	if err := req.Validate(); err != nil {
		return Page{}, err
	}
	term := strings.TrimSpace(req.Search)
	if term == "" {
		return e.window(ctx, req)
	}
	return e.search(ctx, term, req)
}

func (e *Engine) window(ctx context.Context, req Request) (Page, error) {
	page := Page{Total: e.total, HasMore: req.Offset < e.total-req.Limit}
	if req.Offset >= e.total {
		page.HasMore = false
		page.Records = []record.Record{}
		return page, nil
	}

	first := int64(req.Offset) + 1
	last := int64(min(req.Offset+req.Limit, e.total))

	start := time.Now()
	persisted := map[int64]record.Record{}
	if hi := min(last, int64(e.persisted)); first <= hi {
		var err error
		persisted, err = e.src.GetRange(ctx, first, hi)
		if err != nil {
			e.observer.OnWindow(time.Since(start), 0, 0, err)
			return Page{}, fmt.Errorf("%w: %w", ErrQueryFailed, err)
		}
	}

	recs := make([]record.Record, 0, last-first+1)
	for id := first; id <= last; id++ {
		if r, ok := persisted[id]; ok {
			recs = append(recs, r)
			continue
		}
		recs = append(recs, e.gen.Generate(id))
	}

	if req.Sort != record.FieldID || req.Dir != record.Asc {
		slices.SortFunc(recs, record.Comparator(req.Sort, req.Dir))
	}

	e.observer.OnWindow(time.Since(start), len(persisted), len(recs)-len(persisted), nil)
	e.logger.Debug("window",
		"offset", req.Offset, "limit", req.Limit,
		"persisted", len(persisted), "synthesized", len(recs)-len(persisted))

	page.Records = recs
	return page, nil
}

func (e *Engine) search(ctx context.Context, term string, req Request) (Page, error) {
	key := strings.Join([]string{term, string(req.Sort), string(req.Dir)}, "\x00")
	start := time.Now()
	// the scan is shared, so one caller giving up must not fail the others
	scanCtx := context.WithoutCancel(ctx)
	ch := e.searches.DoChan(key, func() (any, error) {
		return e.matches(scanCtx, term, req.Sort, req.Dir)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		e.observer.OnSearch(time.Since(start), 0, false, ctx.Err())
		return Page{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		e.observer.OnSearch(time.Since(start), 0, res.Shared, res.Err)
		return Page{}, fmt.Errorf("%w: %w", ErrQueryFailed, res.Err)
	}
	all := res.Val.([]record.Record)
	e.observer.OnSearch(time.Since(start), len(all), res.Shared, nil)

	e.logger.Debug("search", "term", term, "matches", len(all), "shared", res.Shared)

	page := Page{Total: len(all), HasMore: req.Offset < len(all)-req.Limit}
	if req.Offset >= len(all) {
		page.Records = []record.Record{}
		return page, nil
	}
	end := min(req.Offset+req.Limit, len(all))
	// the match slice may be shared with concurrent callers
	page.Records = slices.Clone(all[req.Offset:end])
	return page, nil
}

// matches returns every persisted record within the prefix that matches
// term, sorted by field and direction.
func (e *Engine) matches(ctx context.Context, term string, f record.Field, d record.Direction) ([]record.Record, error) {
	lower := strings.ToLower(term)
	var out []record.Record
	for r, err := range e.src.SearchCandidates(ctx, term, int64(e.persisted)) {
		if err != nil {
			return nil, err
		}
		if r.ID > int64(e.persisted) {
			continue
		}
		if Matches(r, term, lower) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, record.Comparator(f, d))
	return out, nil
}

// Matches reports whether r matches a search term: name or email contain it
// case-insensitively, or phone contains it verbatim. lower must be
// strings.ToLower(term).
func Matches(r record.Record, term, lower string) bool {
	return strings.Contains(strings.ToLower(r.Name), lower) ||
		strings.Contains(strings.ToLower(r.Email), lower) ||
		strings.Contains(r.Phone, term)
}
