package queue

import (
	"os"
	"testing"
)

// TestTakeSnapshot tests sampling the test process itself
func TestTakeSnapshot(t *testing.T) {
	sn, err := takeSnapshot(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("takeSnapshot: %v", err)
	}
	if sn.At.IsZero() {
		t.Fatalf("snapshot should be timestamped")
	}
	if sn.RSS == 0 {
		t.Fatalf("a live process should report resident memory")
	}
	if sn.CPU < 0 || sn.Mem < 0 {
		t.Fatalf("negative usage: cpu=%v mem=%v", sn.CPU, sn.Mem)
	}
}

// TestTakeSnapshotGone tests sampling a process that no longer exists
func TestTakeSnapshotGone(t *testing.T) {
	// pids near the max are essentially never in use
	if _, err := takeSnapshot(1<<22 - 2); err == nil {
		t.Fatalf("expected an error for a nonexistent pid")
	}
}
