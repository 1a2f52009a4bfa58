package launcher

import (
	"testing"
)

func TestPortAllocatorAcquireRelease(t *testing.T) {
	a := NewPortAllocator(42000, 42099, 10)

	first, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if first.Start != 42000 || first.Count != 10 || first.End() != 42009 {
		t.Errorf("first block = %+v, want 42000-42009", first)
	}

	second, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if second.Start != 42010 {
		t.Errorf("second block starts at %d, want 42010", second.Start)
	}

	a.Release(first)
	third, err := a.Acquire()
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if third.Start != 42000 {
		t.Errorf("released block not reused: got %d, want 42000", third.Start)
	}
}

func TestPortAllocatorDisjointBlocks(t *testing.T) {
	a := NewPortAllocator(42000, 42099, 10)

	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		block, err := a.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		for p := block.Start; p <= block.End(); p++ {
			if seen[p] {
				t.Fatalf("port %d handed out twice", p)
			}
			seen[p] = true
		}
	}
}

func TestPortAllocatorExhaustion(t *testing.T) {
	a := NewPortAllocator(42000, 42019, 10)

	if _, err := a.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := a.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := a.Acquire(); err == nil {
		t.Error("expected exhaustion error, got nil")
	}
	if a.Allocated() != 2 {
		t.Errorf("Allocated() = %d, want 2", a.Allocated())
	}
}

func TestPortAllocatorReleaseUnallocated(t *testing.T) {
	a := NewPortAllocator(42000, 42099, 10)
	a.Release(PortBlock{Start: 42050, Count: 10}) // must not panic
	if a.Allocated() != 0 {
		t.Errorf("Allocated() = %d, want 0", a.Allocated())
	}
}
