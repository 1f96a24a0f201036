package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestInstanceGuard_AcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	g := NewInstanceGuard(dir, nil)
	if err := g.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	data, err := os.ReadFile(g.PIDPath())
	if err != nil {
		t.Fatalf("pid marker missing: %v", err)
	}
	pid, _ := strconv.Atoi(string(data))
	if pid != os.Getpid() {
		t.Errorf("pid marker = %d, want %d", pid, os.Getpid())
	}

	var rec LockRecord
	lockData, err := os.ReadFile(g.LockPath())
	if err != nil {
		t.Fatalf("lock record missing: %v", err)
	}
	if err := json.Unmarshal(lockData, &rec); err != nil {
		t.Fatalf("lock record not valid JSON: %v", err)
	}
	if rec.PID != os.Getpid() || rec.MemoryBytes == 0 {
		t.Errorf("unexpected lock record: %+v", rec)
	}

	g.Release()
	if _, err := os.Stat(g.PIDPath()); !os.IsNotExist(err) {
		t.Error("pid marker should be removed on release")
	}
	if _, err := os.Stat(g.LockPath()); !os.IsNotExist(err) {
		t.Error("lock record should be removed on release")
	}
}

func TestInstanceGuard_RejectsLiveInstance(t *testing.T) {
	dir := t.TempDir()
	// A marker naming a live foreign process: use our parent, which is
	// certainly alive for the duration of the test.
	ppid := os.Getppid()
	if err := os.WriteFile(filepath.Join(dir, pidFileName), []byte(strconv.Itoa(ppid)), 0o644); err != nil {
		t.Fatal(err)
	}
	g := NewInstanceGuard(dir, nil)
	err := g.Acquire()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Acquire error = %v, want ErrAlreadyRunning", err)
	}
}

func TestInstanceGuard_TakesOverStaleMarker(t *testing.T) {
	dir := t.TempDir()
	// A pid far beyond the kernel's default pid_max cannot be alive.
	if err := os.WriteFile(filepath.Join(dir, pidFileName), []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := NewInstanceGuard(dir, nil)
	if err := g.Acquire(); err != nil {
		t.Fatalf("stale marker should be taken over, got %v", err)
	}
	data, _ := os.ReadFile(g.PIDPath())
	if pid, _ := strconv.Atoi(string(data)); pid != os.Getpid() {
		t.Errorf("marker not rewritten, pid = %d", pid)
	}
	g.Release()
}

func TestInstanceGuard_IgnoresGarbageMarker(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, pidFileName), []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := NewInstanceGuard(dir, nil)
	if err := g.Acquire(); err != nil {
		t.Fatalf("garbage marker should not block acquisition, got %v", err)
	}
	g.Release()
}

func TestInstanceGuard_RefreshLoopUpdatesRecord(t *testing.T) {
	dir := t.TempDir()
	g := NewInstanceGuard(dir, nil)
	if err := g.Acquire(); err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	var first LockRecord
	data, _ := os.ReadFile(g.LockPath())
	json.Unmarshal(data, &first)

	ctx, cancel := context.WithCancel(context.Background())
	go g.RefreshLoop(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	updated := false
	for time.Now().Before(deadline) {
		var rec LockRecord
		data, _ := os.ReadFile(g.LockPath())
		if json.Unmarshal(data, &rec) == nil && rec.LastUpdate.After(first.LastUpdate) {
			updated = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if !updated {
		t.Error("refresh loop never updated the lock record")
	}
}
