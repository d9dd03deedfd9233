// ABOUTME: Stress tests for concurrent chunk writes and reads against one store.
// ABOUTME: Checks that WAL mode and busy_timeout keep readers and writers error-free.

package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/2389/megatable/internal/generator"
)

// TestConcurrentChunkWrites has many goroutines commit disjoint chunks at once.
func TestConcurrentChunkWrites(t *testing.T) {
	s := newTestStore(t)
	g := generator.New(refTime)
	ctx := context.Background()

	numWriters := 20
	chunkSize := 50
	var wg sync.WaitGroup
	var errorCount int32

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			from := int64(id*chunkSize + 1)
			if err := s.Write(ctx, g.Range(from, from+int64(chunkSize)-1)); err != nil {
				atomic.AddInt32(&errorCount, 1)
				t.Logf("writer %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if errorCount > 0 {
		t.Errorf("Expected 0 write errors, got %d", errorCount)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != numWriters*chunkSize {
		t.Errorf("Count() = %d, want %d", n, numWriters*chunkSize)
	}
}

// TestConcurrentReadWrite reads ranges while chunks are still being written.
// Every range read must see whole chunks: either all or none of a chunk's ids.
func TestConcurrentReadWrite(t *testing.T) {
	s := newTestStore(t)
	g := generator.New(refTime)
	ctx := context.Background()

	numChunks := 20
	chunkSize := 25
	total := int64(numChunks * chunkSize)
	var wg sync.WaitGroup
	var errorCount int32
	var torn int32

	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := 0; c < numChunks; c++ {
			from := int64(c*chunkSize + 1)
			if err := s.Write(ctx, g.Range(from, from+int64(chunkSize)-1)); err != nil {
				atomic.AddInt32(&errorCount, 1)
			}
		}
	}()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 30; j++ {
				got, err := s.GetRange(ctx, 1, total)
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					continue
				}
				if len(got)%chunkSize != 0 {
					atomic.AddInt32(&torn, 1)
				}
			}
		}()
	}
	wg.Wait()

	if errorCount > 0 {
		t.Errorf("Expected 0 errors during concurrent access, got %d", errorCount)
	}
	if torn > 0 {
		t.Errorf("%d reads observed a partially committed chunk", torn)
	}
}

// TestDeadlockPrevention mixes upserts, scans, and searches and fails if
// they do not finish in time.
func TestDeadlockPrevention(t *testing.T) {
	s := newTestStore(t)
	g := generator.New(refTime)
	ctx := context.Background()

	if err := s.Write(ctx, g.Range(1, 200)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	numGoroutines := 20
	operationsPerGoroutine := 20
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				switch j % 3 {
				case 0:
					from := int64((id*operationsPerGoroutine+j)%200 + 1)
					s.Write(ctx, g.Range(from, from))
				case 1:
					for _, err := range s.ScanAll(ctx) {
						if err != nil {
							break
						}
					}
				default:
					for range s.SearchCandidates(ctx, "smith", 200) {
					}
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("concurrent operations did not finish; possible deadlock")
	}
}
