package storage

import (
	"testing"
	"time"
)

func TestEnqueueCoalesces(t *testing.T) {
	s := openTestStore(t)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.Enqueue(7, "X1", at.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Enqueue pass %d: %v", i, err)
		}
	}

	depth, err := s.QueueDepth()
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 1 {
		t.Errorf("depth = %d, want coalesced 1", depth)
	}

	items, err := s.PendingWork(10)
	if err != nil {
		t.Fatalf("PendingWork: %v", err)
	}
	if len(items) != 1 || items[0].TenderID != 7 || items[0].ExtKey != "X1" {
		t.Fatalf("items = %+v", items)
	}
	// The original enqueue time survives the coalesced duplicates.
	if !items[0].CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", items[0].CreatedAt, at)
	}
}

func TestEnqueueDistinctPairs(t *testing.T) {
	s := openTestStore(t)

	if err := s.Enqueue(1, "X1", time.Time{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(2, "X1", time.Time{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(1, "X2", time.Time{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	depth, err := s.QueueDepth()
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 3 {
		t.Errorf("depth = %d, want 3", depth)
	}
}

func TestCompleteWork(t *testing.T) {
	s := openTestStore(t)

	if err := s.Enqueue(1, "X1", time.Time{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.CompleteWork(1, "X1"); err != nil {
		t.Fatalf("CompleteWork: %v", err)
	}
	// Completing an already-removed item is not an error.
	if err := s.CompleteWork(1, "X1"); err != nil {
		t.Fatalf("second CompleteWork: %v", err)
	}

	depth, err := s.QueueDepth()
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 0 {
		t.Errorf("depth = %d, want 0", depth)
	}
}

func TestPendingWorkOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Enqueue(2, "B", base.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(1, "A", base); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	items, err := s.PendingWork(10)
	if err != nil {
		t.Fatalf("PendingWork: %v", err)
	}
	if len(items) != 2 || items[0].TenderID != 1 || items[1].TenderID != 2 {
		t.Errorf("items not oldest-first: %+v", items)
	}
}
