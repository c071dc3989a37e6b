package memprof

import (
	"sync"
	"testing"
)

func TestTracker_Accounting(t *testing.T) {
	var tr Tracker
	tr.Allocate(100)
	tr.Allocate(50)
	if tr.InUse() != 150 {
		t.Errorf("expected 150 in use, got %d", tr.InUse())
	}
	tr.Deallocate(100)
	if tr.InUse() != 50 {
		t.Errorf("expected 50 in use, got %d", tr.InUse())
	}
	if tr.Peak() != 150 {
		t.Errorf("expected peak 150, got %d", tr.Peak())
	}
}

func TestTracker_Budget(t *testing.T) {
	var tr Tracker
	if !tr.WouldFit(1 << 40) {
		t.Error("unlimited tracker should fit anything")
	}

	tr.SetMaximum(1000)
	tr.Allocate(800)
	if !tr.WouldFit(200) {
		t.Error("200 bytes should still fit into the budget")
	}
	if tr.WouldFit(201) {
		t.Error("201 bytes must not fit into the budget")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tr.Allocate(3)
				tr.Deallocate(3)
			}
		}()
	}
	wg.Wait()
	if tr.InUse() != 0 {
		t.Errorf("expected zero outstanding bytes, got %d", tr.InUse())
	}
}
