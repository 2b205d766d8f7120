package sequence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hylla/traq/internal/adapters/storage/sqlitedoc"
	"github.com/hylla/traq/internal/domain"
	"github.com/hylla/traq/internal/storage"
)

func openTestGateway(t *testing.T) storage.Gateway {
	t.Helper()
	gw, err := sqlitedoc.Open(filepath.Join(t.TempDir(), "test.db"), sqlitedoc.Options{
		MaxRetries:   20,
		RetryBackoff: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func seedProject(t *testing.T, gw storage.Gateway, prefix string) domain.Project {
	t.Helper()
	project, err := domain.NewProject("p1", "t1", "Payments Service", "", prefix, time.Now())
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	data, err := storage.Encode(project)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	ref := storage.Ref{Collection: storage.CollectionProjects, ID: project.ID}
	if err := gw.Put(context.Background(), ref, data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return project
}

func TestAllocateSequential(t *testing.T) {
	gw := openTestGateway(t)
	seedProject(t, gw, "PAY")
	alloc := NewAllocator(gw)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		seq, key, err := alloc.Allocate(ctx, "t1", "p1")
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		if seq != i {
			t.Fatalf("seq = %d, want %d", seq, i)
		}
		if want := fmt.Sprintf("PAY-%d", i); key != want {
			t.Fatalf("key = %q, want %q", key, want)
		}
		if !domain.ValidKey(key) {
			t.Fatalf("minted key %q fails the key contract", key)
		}
	}
}

func TestAllocateDerivesAndFreezesFallbackPrefix(t *testing.T) {
	gw := openTestGateway(t)
	seedProject(t, gw, "")
	alloc := NewAllocator(gw)
	ctx := context.Background()

	_, key, err := alloc.Allocate(ctx, "t1", "p1")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if key != "PS-1" {
		t.Fatalf("key = %q, want PS-1 derived from the display name", key)
	}

	// The derived prefix must be persisted so later allocations reuse it.
	doc, err := gw.Get(ctx, storage.Ref{Collection: storage.CollectionProjects, ID: "p1"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var project domain.Project
	if err := storage.Decode(doc, &project); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if project.KeyPrefix != "PS" {
		t.Fatalf("persisted KeyPrefix = %q, want PS", project.KeyPrefix)
	}

	_, key, err = alloc.Allocate(ctx, "t1", "p1")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if key != "PS-2" {
		t.Fatalf("second key = %q, want PS-2", key)
	}
}

func TestAllocateMissingProject(t *testing.T) {
	gw := openTestGateway(t)
	alloc := NewAllocator(gw)
	if _, _, err := alloc.Allocate(context.Background(), "t1", "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Allocate() error = %v, want ErrNotFound", err)
	}
}

func TestAllocateTenantMismatch(t *testing.T) {
	gw := openTestGateway(t)
	seedProject(t, gw, "PAY")
	alloc := NewAllocator(gw)
	if _, _, err := alloc.Allocate(context.Background(), "other-tenant", "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Allocate() error = %v, want ErrNotFound", err)
	}
}

func TestAllocateConcurrentNoDuplicates(t *testing.T) {
	gw := openTestGateway(t)
	seedProject(t, gw, "PAY")
	alloc := NewAllocator(gw)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var (
		mu   sync.Mutex
		keys = map[string]bool{}
		seqs = map[int64]bool{}
	)
	var wg sync.WaitGroup
	errCh := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seq, key, err := alloc.Allocate(ctx, "t1", "p1")
				if err != nil {
					errCh <- err
					return
				}
				mu.Lock()
				if keys[key] || seqs[seq] {
					errCh <- fmt.Errorf("duplicate allocation: seq=%d key=%s", seq, key)
				}
				keys[key] = true
				seqs[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent Allocate() error = %v", err)
	}

	if len(keys) != workers*perWorker {
		t.Fatalf("allocated %d unique keys, want %d", len(keys), workers*perWorker)
	}
	// Every value in [1, N] must be present: no gaps, no reuse.
	for i := int64(1); i <= workers*perWorker; i++ {
		if !seqs[i] {
			t.Fatalf("sequence value %d missing from allocations", i)
		}
	}
}
