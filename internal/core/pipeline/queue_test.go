package pipeline

import (
	"fmt"
	"testing"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := newJobQueue()
	q.Push("low", 1)
	q.Push("high", 10)
	q.Push("mid", 5)

	want := []string{"high", "mid", "low"}
	for _, expected := range want {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("queue unexpectedly empty, wanted %s", expected)
		}
		if got != expected {
			t.Errorf("expected %s, got %s", expected, got)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue after draining")
	}
}

func TestQueueFIFOAmongEqualPriorities(t *testing.T) {
	q := newJobQueue()
	for i := 0; i < 10; i++ {
		q.Push(fmt.Sprintf("job-%d", i), 3)
	}

	for i := 0; i < 10; i++ {
		got, ok := q.Pop()
		if !ok {
			t.Fatal("queue unexpectedly empty")
		}
		if want := fmt.Sprintf("job-%d", i); got != want {
			t.Errorf("expected FIFO order %s, got %s", want, got)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := newJobQueue()
	q.Push("a", 1)
	q.Push("b", 2)
	q.Push("c", 3)

	if !q.Remove("b") {
		t.Error("expected Remove to find queued job")
	}
	if q.Remove("b") {
		t.Error("expected second Remove to report missing job")
	}
	if q.Contains("b") {
		t.Error("removed job still reported as queued")
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 remaining entries, got %d", q.Len())
	}

	first, _ := q.Pop()
	second, _ := q.Pop()
	if first != "c" || second != "a" {
		t.Errorf("unexpected pop order after removal: %s, %s", first, second)
	}
}

func TestQueueDeduplicatesJobIDs(t *testing.T) {
	q := newJobQueue()
	q.Push("same", 1)
	q.Push("same", 9)

	if q.Len() != 1 {
		t.Errorf("expected duplicate push to be ignored, got %d entries", q.Len())
	}
}
