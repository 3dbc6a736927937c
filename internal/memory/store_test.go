package memory

import (
	"fmt"
	"sync"
	"testing"
)

func TestRecordThenSnapshot(t *testing.T) {
	s := NewStore()
	s.Record("get_balance", "1.5 SOL")
	s.Record("get_tps", "2400")
	s.Record("get_balance", "2 SOL")

	snap := s.Snapshot()
	if len(snap) != 2 || snap["get_balance"] != "2 SOL" || snap["get_tps"] != "2400" {
		t.Fatalf("unexpected snapshot %v", snap)
	}

	snap["get_tps"] = "mutated"
	if v, _ := s.Get("get_tps"); v != "2400" {
		t.Fatalf("snapshot must be a copy, store now holds %q", v)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("did not expect missing key")
	}
}

func TestCapacityEvictsLeastRecentlyWritten(t *testing.T) {
	s := NewStore(WithCapacity(2))
	s.Record("a", "1")
	s.Record("b", "2")
	s.Record("a", "3")
	s.Record("c", "4")

	if s.Len() != 2 {
		t.Fatalf("unexpected length %d", s.Len())
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, _ := s.Get("a"); v != "3" {
		t.Fatalf("unexpected value for a: %q", v)
	}
}

func TestUnboundedByDefault(t *testing.T) {
	s := NewStore(WithCapacity(0))
	for i := 0; i < 100; i++ {
		s.Record(fmt.Sprintf("task-%d", i), "x")
	}
	if s.Len() != 100 {
		t.Fatalf("unexpected length %d", s.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Record(fmt.Sprintf("k%d", i%4), fmt.Sprint(i))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	if s.Len() != 4 {
		t.Fatalf("unexpected length %d", s.Len())
	}
}

func TestSizeReporterSeesFinalCount(t *testing.T) {
	var (
		mu   sync.Mutex
		last int
	)
	s := NewStore(WithCapacity(8), WithSizeReporter(func(n int) {
		mu.Lock()
		last = n
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Record(fmt.Sprintf("k%d", i%12), fmt.Sprint(i))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if last != s.Len() || last != 8 {
		t.Fatalf("reported %d entries, store holds %d", last, s.Len())
	}
}

func TestStoresWithoutReporterStayIsolated(t *testing.T) {
	calls := 0
	reported := NewStore(WithSizeReporter(func(int) { calls++ }))
	plain := NewStore()
	plain.Record("a", "1")
	plain.Record("b", "2")
	reported.Record("a", "1")
	if calls != 1 {
		t.Fatalf("only the reporting store should report, got %d calls", calls)
	}
}
