package versionfile

import (
	"os"
	"testing"
	"time"
)

func TestFile_Current_MissingFileReadsZero(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	v, err := f.Current()
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if v != 0 {
		t.Errorf("Current() on missing file = %d, want 0", v)
	}
}

func TestFile_Bump_Increases(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	v1, err := f.Bump()
	if err != nil {
		t.Fatalf("first Bump() failed: %v", err)
	}
	if v1 <= 0 {
		t.Errorf("first Bump() = %d, want > 0", v1)
	}

	v2, err := f.Bump()
	if err != nil {
		t.Fatalf("second Bump() failed: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("second Bump() = %d, want > %d", v2, v1)
	}
}

func TestFile_Bump_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	f1 := New(dir)

	v1, err := f1.Bump()
	if err != nil {
		t.Fatalf("Bump() failed: %v", err)
	}

	f2 := New(dir)
	v2, err := f2.Read()
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if v2 != v1 {
		t.Errorf("Read() from fresh instance = %d, want %d", v2, v1)
	}
}

func TestFile_Bump_NonMonotonicClockGuard(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	// Seed the file with a version far in the future, simulating a prior
	// write whose clock was ahead of this process's clock.
	future := time.Now().Add(365 * 24 * time.Hour).UnixNano()
	if err := f.writeLocked(future); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	next, err := f.Bump()
	if err != nil {
		t.Fatalf("Bump() failed: %v", err)
	}
	if next != future+1 {
		t.Errorf("Bump() after clock-behind seed = %d, want %d", next, future+1)
	}
}

func TestFile_Current_CachesWithinPollInterval(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	if _, err := f.Bump(); err != nil {
		t.Fatalf("Bump() failed: %v", err)
	}
	cachedBefore, err := f.Current()
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}

	// Write a different value directly to disk, bypassing the File's own
	// writeLocked so the in-memory cache doesn't know about it.
	if err := os.WriteFile(f.Path(), []byte("999999999999999999"), 0o644); err != nil {
		t.Fatalf("direct write failed: %v", err)
	}

	cachedAfter, err := f.Current()
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if cachedAfter != cachedBefore {
		t.Errorf("Current() returned %d before poll interval elapsed, want cached %d", cachedAfter, cachedBefore)
	}
}

func TestFile_Read_BypassesCache(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	if _, err := f.Bump(); err != nil {
		t.Fatalf("Bump() failed: %v", err)
	}
	if err := os.WriteFile(f.Path(), []byte("42"), 0o644); err != nil {
		t.Fatalf("direct write failed: %v", err)
	}

	v, err := f.Read()
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Read() = %d, want 42 (bypassing cache)", v)
	}
}

func TestFile_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	if _, err := f.Bump(); err != nil {
		t.Fatalf("Bump() failed: %v", err)
	}
	if _, err := os.Stat(f.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp version file should not remain after a successful Bump")
	}
}
