// ABOUTME: Bulk ingestion of the persisted prefix in bounded, atomic chunks.
// ABOUTME: Yields between chunks, optionally paces them, and retries failed chunk writes.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/2389/megatable/internal/generator"
	"github.com/2389/megatable/internal/record"
	"github.com/2389/megatable/internal/store"
)

const (
	// DefaultChunkSize is the number of records committed per transaction.
	DefaultChunkSize = 1_000
	// DefaultRetryBackoff is the wait before the first retry; it doubles per attempt.
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Writer persists one chunk atomically.
type Writer interface {
	Write(ctx context.Context, records []record.Record) error
}

// Progress reports how far a load has come.
type Progress struct {
	Written int
	Total   int
	Chunks  int
}

// Observer receives one call per committed or failed chunk.
type Observer interface {
	OnChunk(d time.Duration, records int, err error)
}

// Options configures a Loader.
type Options struct {
	ChunkSize int
	// ChunksPerSecond paces chunk commits; zero means unpaced.
	ChunksPerSecond float64
	// Retries is how many extra attempts a chunk gets after a store write failure.
	Retries      int
	RetryBackoff time.Duration
	Logger       *slog.Logger
	Observer     Observer
}

type Loader struct {
	w       Writer
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New returns a loader writing to w.
func New(w Writer, opts Options) *Loader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	l := &Loader{w: w, opts: opts, logger: opts.Logger}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if opts.ChunksPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.ChunksPerSecond), 1)
	}
	return l
}

// Load writes every record from records in chunks. total is only used for
// progress reporting and may be zero when unknown. progress may be nil.
//
// Each chunk is one transaction. When Load returns an error, every chunk
// reported through progress before the failure is durably written and
// nothing of the failing chunk is.
func (l *Loader) Load(ctx context.Context, records iter.Seq[record.Record], total int, progress func(Progress)) error {
	chunk := make([]record.Record, 0, l.opts.ChunkSize)
	p := Progress{Total: total}

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		start := time.Now()
		err := l.writeChunk(ctx, chunk)
		if l.opts.Observer != nil {
			l.opts.Observer.OnChunk(time.Since(start), len(chunk), err)
		}
		if err != nil {
			return fmt.Errorf("chunk %d (after %d records): %w", p.Chunks+1, p.Written, err)
		}
		p.Written += len(chunk)
		p.Chunks++
		chunk = chunk[:0]
		if progress != nil {
			progress(p)
		}
		return l.yield(ctx)
	}

	for r := range records {
		chunk = append(chunk, r)
		if len(chunk) == l.opts.ChunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	l.logger.Info("ingestion complete", "records", p.Written, "chunks", p.Chunks)
	return nil
}

// writeChunk retries transient store failures with exponential backoff.
// Invalid records and other errors fail at once.
func (l *Loader) writeChunk(ctx context.Context, chunk []record.Record) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.RetryBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := l.w.Write(ctx, chunk)
		if err != nil && !errors.Is(err, store.ErrStoreWriteFailed) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(l.opts.Retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Warn("chunk write failed", "attempt", attempt, "first_id", chunk[0].ID, "retry_in", next, "err", err)
		}),
	)
	return err
}

// yield gives other goroutines a turn between chunks and applies pacing.
func (l *Loader) yield(ctx context.Context) error {
	runtime.Gosched()
	if l.limiter != nil {
		return l.limiter.Wait(ctx)
	}
	return ctx.Err()
}

// Source yields the records for ids 1..k. The first len(names) ids take
// their name from names, with the email rebuilt around it; all other fields
// come from gen.
func Source(gen *generator.Generator, k int, names []string) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		for id := int64(1); id <= int64(k); id++ {
			r := gen.Generate(id)
			if i := int(id - 1); i < len(names) && names[i] != "" {
				r.Name = names[i]
				r.Email = generator.EmailFor(r.Name, id)
			}
			if !yield(r) {
				return
			}
		}
	}
}
