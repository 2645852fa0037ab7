package pipeline

import (
	"container/heap"
	"time"
)

// QueueEntry repräsentiert einen wartenden Job in der Warteschlange
type QueueEntry struct {
	JobID      string    `json:"job_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	seq   uint64 // FIFO-Reihenfolge bei gleicher Priorität
	index int    // Heap-Position, von heap.Interface verwaltet
}

// entryHeap implementiert heap.Interface: höchste Priorität zuerst,
// bei Gleichstand die früher eingereihte
type entryHeap []*QueueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	entry := x.(*QueueEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// jobQueue ist die Prioritäts-Warteschlange des Orchestrators.
// Nicht nebenläufigkeitssicher; der Orchestrator serialisiert die Zugriffe.
type jobQueue struct {
	heap    entryHeap
	byJobID map[string]*QueueEntry
	nextSeq uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{byJobID: make(map[string]*QueueEntry)}
}

// Len liefert die Anzahl wartender Jobs
func (q *jobQueue) Len() int { return q.heap.Len() }

// Push reiht einen Job mit Priorität ein
func (q *jobQueue) Push(jobID string, priority int) {
	if _, exists := q.byJobID[jobID]; exists {
		return
	}
	entry := &QueueEntry{
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        q.nextSeq,
	}
	q.nextSeq++
	q.byJobID[jobID] = entry
	heap.Push(&q.heap, entry)
}

// Pop entnimmt den Job mit der höchsten Priorität (FIFO bei Gleichstand)
func (q *jobQueue) Pop() (string, bool) {
	if q.heap.Len() == 0 {
		return "", false
	}
	entry := heap.Pop(&q.heap).(*QueueEntry)
	delete(q.byJobID, entry.JobID)
	return entry.JobID, true
}

// Remove entfernt einen wartenden Job aus der Warteschlange
func (q *jobQueue) Remove(jobID string) bool {
	entry, ok := q.byJobID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, entry.index)
	delete(q.byJobID, jobID)
	return true
}

// Contains prüft, ob ein Job wartet
func (q *jobQueue) Contains(jobID string) bool {
	_, ok := q.byJobID[jobID]
	return ok
}
