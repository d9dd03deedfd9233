// ABOUTME: Tests for chunked bulk ingestion.
// ABOUTME: Covers chunk boundaries, progress reporting, retries, cancellation, and the record source.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/megatable/internal/generator"
	"github.com/2389/megatable/internal/record"
	"github.com/2389/megatable/internal/store"
)

var refTime = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type recordingWriter struct {
	chunks   [][]record.Record
	failures map[int]int // chunk index -> remaining failures
	err      error
	calls    int
}

func (w *recordingWriter) Write(ctx context.Context, recs []record.Record) error {
	idx := len(w.chunks)
	w.calls++
	if w.failures[idx] > 0 {
		w.failures[idx]--
		if w.err != nil {
			return w.err
		}
		return fmt.Errorf("%w: disk full", store.ErrStoreWriteFailed)
	}
	w.chunks = append(w.chunks, append([]record.Record(nil), recs...))
	return nil
}

func TestLoad_Chunks(t *testing.T) {
	w := &recordingWriter{}
	l := New(w, Options{ChunkSize: 4})
	g := generator.New(refTime)

	var reports []Progress
	err := l.Load(context.Background(), Source(g, 10, nil), 10, func(p Progress) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(w.chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(w.chunks))
	}
	for i, want := range []int{4, 4, 2} {
		if len(w.chunks[i]) != want {
			t.Errorf("chunk %d size = %d, want %d", i, len(w.chunks[i]), want)
		}
	}
	if w.chunks[2][1].ID != 10 {
		t.Errorf("last id = %d, want 10", w.chunks[2][1].ID)
	}

	if len(reports) != 3 {
		t.Fatalf("progress reports = %d, want 3", len(reports))
	}
	last := reports[2]
	if last.Written != 10 || last.Total != 10 || last.Chunks != 3 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestLoad_RetriesWriteFailures(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{1: 2}}
	l := New(w, Options{ChunkSize: 5, Retries: 2})

	if err := l.Load(context.Background(), Source(generator.New(refTime), 15, nil), 15, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(w.chunks) != 3 || w.calls != 5 {
		t.Errorf("chunks = %d calls = %d, want 3 and 5", len(w.chunks), w.calls)
	}
}

func TestLoad_GivesUpAfterRetries(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{1: 10}}
	l := New(w, Options{ChunkSize: 5, Retries: 1})

	var written int
	err := l.Load(context.Background(), Source(generator.New(refTime), 15, nil), 15, func(p Progress) {
		written = p.Written
	})
	if !errors.Is(err, store.ErrStoreWriteFailed) {
		t.Fatalf("Load() error = %v, want ErrStoreWriteFailed", err)
	}
	if !strings.Contains(err.Error(), "chunk 2") {
		t.Errorf("error %q should name the failing chunk", err)
	}
	if written != 5 {
		t.Errorf("committed before failure = %d, want 5", written)
	}
}

func TestLoad_OtherErrorsNotRetried(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{0: 1}, err: errors.New("schema mismatch")}
	l := New(w, Options{ChunkSize: 5, Retries: 3})

	if err := l.Load(context.Background(), Source(generator.New(refTime), 5, nil), 5, nil); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if w.calls != 1 {
		t.Errorf("calls = %d, want 1", w.calls)
	}
}

func TestLoad_InvalidRecordNotRetried(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{0: 1}, err: fmt.Errorf("%w: id 0 must be positive", store.ErrInvalidRecord)}
	l := New(w, Options{ChunkSize: 5, Retries: 3})

	err := l.Load(context.Background(), Source(generator.New(refTime), 5, nil), 5, nil)
	if !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("Load() error = %v, want ErrInvalidRecord", err)
	}
	if w.calls != 1 {
		t.Errorf("calls = %d, want 1", w.calls)
	}
}

func TestLoad_RetryBackoff(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{0: 2}}
	l := New(w, Options{ChunkSize: 5, Retries: 2, RetryBackoff: 20 * time.Millisecond})

	start := time.Now()
	if err := l.Load(context.Background(), Source(generator.New(refTime), 5, nil), 5, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// 20ms before the first retry, 40ms before the second
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("Load() took %v, want at least 60ms of backoff", elapsed)
	}
	if w.calls != 3 {
		t.Errorf("calls = %d, want 3", w.calls)
	}
}

func TestLoad_CancelDuringBackoff(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{0: 5}}
	l := New(w, Options{ChunkSize: 5, Retries: 3, RetryBackoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Load(ctx, Source(generator.New(refTime), 5, nil), 5, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Load() error = %v, want DeadlineExceeded", err)
	}
	if w.calls != 1 {
		t.Errorf("calls = %d, want 1", w.calls)
	}
}

func TestLoad_CancelStopsBetweenChunks(t *testing.T) {
	w := &recordingWriter{}
	l := New(w, Options{ChunkSize: 2})
	ctx, cancel := context.WithCancel(context.Background())

	err := l.Load(ctx, Source(generator.New(refTime), 10, nil), 10, func(p Progress) {
		if p.Chunks == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v, want context.Canceled", err)
	}
	if len(w.chunks) != 2 {
		t.Errorf("chunks written = %d, want 2", len(w.chunks))
	}
}

func TestLoad_Paced(t *testing.T) {
	w := &recordingWriter{}
	l := New(w, Options{ChunkSize: 1, ChunksPerSecond: 50})

	start := time.Now()
	if err := l.Load(context.Background(), Source(generator.New(refTime), 6, nil), 6, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// burst of one, then five waits of 20ms each
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("paced load took %v, want at least 60ms", elapsed)
	}
}

type chunkObserver struct {
	ok, failed, records int
}

func (o *chunkObserver) OnChunk(d time.Duration, records int, err error) {
	if err != nil {
		o.failed++
		return
	}
	o.ok++
	o.records += records
}

func TestLoad_Observer(t *testing.T) {
	w := &recordingWriter{failures: map[int]int{1: 5}}
	obs := &chunkObserver{}
	l := New(w, Options{ChunkSize: 3, Retries: 1, Observer: obs})

	if err := l.Load(context.Background(), Source(generator.New(refTime), 7, nil), 7, nil); err == nil {
		t.Fatal("Load() error = nil, want failure on second chunk")
	}
	if obs.ok != 1 || obs.records != 3 || obs.failed != 1 {
		t.Errorf("observer = %+v, want one committed chunk of 3 and one failure", obs)
	}
}

func TestSource_Overlay(t *testing.T) {
	g := generator.New(refTime)
	var got []record.Record
	for r := range Source(g, 4, []string{"Ada Lovelace", "", "Grace Hopper"}) {
		got = append(got, r)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0].Name != "Ada Lovelace" || got[0].Email != generator.EmailFor("Ada Lovelace", 1) {
		t.Errorf("record 1 = %+v, want overlaid name and email", got[0])
	}
	if got[1] != g.Generate(2) {
		t.Errorf("record 2 = %+v, want generated", got[1])
	}
	if got[2].Name != "Grace Hopper" || got[2].Phone != g.Generate(3).Phone {
		t.Errorf("record 3 = %+v", got[2])
	}
	if got[3] != g.Generate(4) {
		t.Errorf("record 4 = %+v, want generated", got[3])
	}
}

func TestLoad_IntoStore(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test_ingest.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	l := New(s, Options{ChunkSize: 1000})
	if err := l.Load(context.Background(), Source(generator.New(refTime), 2500, nil), 2500, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2500 {
		t.Errorf("Count() = %d, want 2500", n)
	}

	// reloading is idempotent thanks to upserts
	if err := l.Load(context.Background(), Source(generator.New(refTime), 2500, nil), 2500, nil); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if n, _ := s.Count(context.Background()); n != 2500 {
		t.Errorf("Count() after reload = %d, want 2500", n)
	}
}
