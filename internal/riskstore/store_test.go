package riskstore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, windowSeconds int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk.sqlite")
	s, err := Open(path, windowSeconds)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestIncrementAndGetCounts(t *testing.T) {
	s, _ := openTestStore(t, 300)
	now := time.Now()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementAndGet("default", now)
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("count = %d, want %d", got, want)
		}
	}

	got, err := s.Get("default", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 3 {
		t.Fatalf("read-only get = %d, want 3", got)
	}
}

func TestTenantsAreIndependent(t *testing.T) {
	s, _ := openTestStore(t, 300)
	now := time.Now()

	s.IncrementAndGet("alpha", now)
	s.IncrementAndGet("alpha", now)
	got, err := s.IncrementAndGet("beta", now)
	if err != nil {
		t.Fatalf("increment beta: %v", err)
	}
	if got != 1 {
		t.Fatalf("beta count = %d, want 1", got)
	}
}

func TestWindowExpiryResetsCount(t *testing.T) {
	s, _ := openTestStore(t, 10)
	start := time.Now()

	s.IncrementAndGet("default", start)
	s.IncrementAndGet("default", start)

	later := start.Add(11 * time.Second)
	got, err := s.IncrementAndGet("default", later)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if got != 1 {
		t.Fatalf("count after window expiry = %d, want 1", got)
	}

	read, err := s.Get("default", later)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if read != 1 {
		t.Fatalf("get after expiry = %d, want 1", read)
	}
}

func TestCountsPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.sqlite")
	now := time.Now()

	s1, err := Open(path, 10_000)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.IncrementAndGet("default", now)
	s1.IncrementAndGet("default", now)
	s1.Close()

	s2, err := Open(path, 10_000)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	got, err := s2.IncrementAndGet("default", now)
	if err != nil {
		t.Fatalf("increment after reopen: %v", err)
	}
	if got != 3 {
		t.Fatalf("count after reopen = %d, want 3", got)
	}
}

func TestGetUnknownTenantIsZero(t *testing.T) {
	s, _ := openTestStore(t, 300)
	got, err := s.Get("ghost", time.Now())
	if err != nil {
		t.Fatalf("get unknown tenant: %v", err)
	}
	if got != 0 {
		t.Fatalf("unknown tenant count = %d, want 0", got)
	}
}
