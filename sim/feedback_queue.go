package sim

import "container/heap"

// pendingFeedback is one decision awaiting its outcome.
type pendingFeedback struct {
	seq       int64
	decidedAt int64
	releaseAt int64 // arrival time, or decidedAt + maxWait when censored
	censored  bool
}

// Release is a feedback entry handed back by AdvanceTo.
type Release struct {
	Seq       int64
	DecidedAt int64
	Time      int64 // release time: the arrival time, or the censoring deadline
	Censored  bool
}

// feedbackHeap orders entries by release time, then sequence number.
type feedbackHeap []pendingFeedback

func (h feedbackHeap) Len() int { return len(h) }

func (h feedbackHeap) Less(i, j int) bool {
	if h[i].releaseAt != h[j].releaseAt {
		return h[i].releaseAt < h[j].releaseAt
	}
	return h[i].seq < h[j].seq
}

func (h feedbackHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *feedbackHeap) Push(x any) {
	*h = append(*h, x.(pendingFeedback))
}

func (h *feedbackHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// FeedbackQueue holds decisions awaiting outcome resolution and releases them in
// time order. Entries whose outcome would arrive later than maxWait after the
// decision, or never, are released at the censoring deadline flagged Censored.
//
// Time only moves forward: AdvanceTo with a smaller time than a previous call fails.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type FeedbackQueue struct {
	entries  feedbackHeap
	maxWait  int64
	clock    int64
	advanced bool
	latest   int64 // largest scheduled release time
}

// NewFeedbackQueue creates a queue with the given censoring timeout in ticks.
func NewFeedbackQueue(maxWait int64) *FeedbackQueue {
	if maxWait <= 0 {
		panic("NewFeedbackQueue: maxWait must be positive")
	}
	q := &FeedbackQueue{entries: make(feedbackHeap, 0), maxWait: maxWait}
	heap.Init(&q.entries)
	return q
}

// Enqueue schedules the outcome of decision seq to arrive at arrivesAt.
// An entry due before the time of the last AdvanceTo is rejected with a
// ClockRegressionError, since it could no longer be released in order.
func (q *FeedbackQueue) Enqueue(seq, decidedAt, arrivesAt int64) error {
	if arrivesAt < decidedAt {
		return &FeedbackBeforeDecisionError{Seq: seq, DecidedAt: decidedAt, ArrivesAt: arrivesAt}
	}
	entry := pendingFeedback{seq: seq, decidedAt: decidedAt, releaseAt: arrivesAt}
	if arrivesAt-decidedAt > q.maxWait {
		entry.releaseAt = decidedAt + q.maxWait
		entry.censored = true
	}
	return q.push(entry)
}

// EnqueueUnresolved registers a decision whose outcome will never arrive.
// It is released as censored once maxWait has elapsed.
func (q *FeedbackQueue) EnqueueUnresolved(seq, decidedAt int64) error {
	return q.push(pendingFeedback{seq: seq, decidedAt: decidedAt, releaseAt: decidedAt + q.maxWait, censored: true})
}

func (q *FeedbackQueue) push(e pendingFeedback) error {
	if q.advanced && e.releaseAt < q.clock {
		return &ClockRegressionError{Now: e.releaseAt, Last: q.clock}
	}
	heap.Push(&q.entries, e)
	q.latest = max(q.latest, e.releaseAt)
	return nil
}

// AdvanceTo releases, oldest first, every entry whose release time is ≤ now.
// Calling it again with the same now releases nothing unless new entries were
// enqueued in between.
func (q *FeedbackQueue) AdvanceTo(now int64) ([]Release, error) {
	if q.advanced && now < q.clock {
		return nil, &ClockRegressionError{Now: now, Last: q.clock}
	}
	q.clock = now
	q.advanced = true

	var out []Release
	for q.entries.Len() > 0 && q.entries[0].releaseAt <= now {
		e := heap.Pop(&q.entries).(pendingFeedback)
		out = append(out, Release{Seq: e.seq, DecidedAt: e.decidedAt, Time: e.releaseAt, Censored: e.censored})
	}
	return out, nil
}

// Drain advances to the last scheduled release time, releasing everything.
func (q *FeedbackQueue) Drain() ([]Release, error) {
	if q.entries.Len() == 0 {
		return nil, nil
	}
	return q.AdvanceTo(max(q.latest, q.clock))
}

// Len returns the number of entries still waiting.
func (q *FeedbackQueue) Len() int {
	return q.entries.Len()
}

// Peek returns the next entry to be released without removing it.
func (q *FeedbackQueue) Peek() (Release, bool) {
	if q.entries.Len() == 0 {
		return Release{}, false
	}
	e := q.entries[0]
	return Release{Seq: e.seq, DecidedAt: e.decidedAt, Time: e.releaseAt, Censored: e.censored}, true
}

// Clock returns the time of the last AdvanceTo.
func (q *FeedbackQueue) Clock() int64 {
	return q.clock
}
