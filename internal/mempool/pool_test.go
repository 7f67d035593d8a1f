package mempool

import "testing"

func TestAllocRejectsNonPositiveSize(t *testing.T) {
	p := New()
	if _, err := p.Alloc(0, 0); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := p.Alloc(-1, 0); err == nil {
		t.Fatal("expected error for negative size")
	}
}

func TestAllocWithoutFDHasNoFD(t *testing.T) {
	p := New()
	b, err := p.Alloc(4096, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, ok := b.FD(); ok {
		t.Fatal("expected no fd for a block allocated without WithFD")
	}
}

func TestAllocWithFDIsSealable(t *testing.T) {
	p := New()
	b, err := p.Alloc(4096, WithFD|Seal|ReadWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	fd, ok := b.FD()
	if !ok || fd < 0 {
		t.Fatal("expected a valid fd for a WithFD block")
	}
}

func TestMapOutOfBoundsRejected(t *testing.T) {
	p := New()
	b, err := p.Alloc(64, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := p.Map(b.ID(), 0, 128); err == nil {
		t.Fatal("expected error mapping beyond block size")
	}
	if _, err := p.Map(b.ID(), -1, 10); err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestMapUnknownBlockRejected(t *testing.T) {
	p := New()
	if _, err := p.Map(999, 0, 16); err == nil {
		t.Fatal("expected error mapping an unknown block id")
	}
}

func TestOverlappingMapsShareUnderlyingMapping(t *testing.T) {
	p := New()
	b, err := p.Alloc(4096, ReadWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	m1, err := p.Map(b.ID(), 0, 1024)
	if err != nil {
		t.Fatalf("Map m1: %v", err)
	}
	m2, err := p.Map(b.ID(), 512, 1024)
	if err != nil {
		t.Fatalf("Map m2: %v", err)
	}

	gotDiff := uintptr(m2.Ptr) - uintptr(m1.Ptr)
	wantDiff := uintptr(m2.Offset - m1.Offset)
	if gotDiff != wantDiff {
		t.Fatalf("pointer diff = %d, want %d", gotDiff, wantDiff)
	}

	if err := p.Unmap(m1); err != nil {
		t.Fatalf("Unmap m1: %v", err)
	}
	if err := p.Unmap(m2); err != nil {
		t.Fatalf("Unmap m2: %v", err)
	}
}

func TestReleaseRefusesBlockWithLiveMaps(t *testing.T) {
	p := New()
	b, err := p.Alloc(4096, 0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	m, err := p.Map(b.ID(), 0, 64)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	if err := p.Release(b.ID()); err == nil {
		t.Fatal("expected Release to refuse a block with a live map")
	}

	if err := p.Unmap(m); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if err := p.Release(b.ID()); err != nil {
		t.Fatalf("Release after Unmap: %v", err)
	}
	if _, ok := p.Block(b.ID()); ok {
		t.Fatal("expected block to be gone after Release")
	}
}

func TestReleaseUnknownBlockIsNoop(t *testing.T) {
	p := New()
	if err := p.Release(12345); err != nil {
		t.Fatalf("Release on unknown id should be a no-op, got: %v", err)
	}
}
