package hooks

import "strings"

// TurnRecord accumulates what one turn touched for turnEnd rules. It is
// owned by a single goroutine.
type TurnRecord struct {
	files    []string
	seen     map[string]bool
	commands []string
}

// NewTurnRecord returns an empty record.
func NewTurnRecord() *TurnRecord {
	return &TurnRecord{seen: make(map[string]bool)}
}

// TouchFile records a written path once.
func (r *TurnRecord) TouchFile(p string) {
	if p == "" || r.seen[p] {
		return
	}
	r.seen[p] = true
	r.files = append(r.files, p)
}

// AddCommand records a command that ran.
func (r *TurnRecord) AddCommand(c string) {
	if c != "" {
		r.commands = append(r.commands, c)
	}
}

// Files are the touched paths in first-touch order.
func (r *TurnRecord) Files() []string {
	return append([]string(nil), r.files...)
}

// Commands are the commands run in order.
func (r *TurnRecord) Commands() []string {
	return append([]string(nil), r.commands...)
}

// Snapshot returns an independent copy that another goroutine may read
// while the owner keeps recording.
func (r *TurnRecord) Snapshot() *TurnRecord {
	cp := NewTurnRecord()
	for _, f := range r.files {
		cp.TouchFile(f)
	}
	cp.commands = r.Commands()
	return cp
}

// Empty reports whether the turn touched nothing.
func (r *TurnRecord) Empty() bool {
	return len(r.files) == 0 && len(r.commands) == 0
}

// Reset clears the record for the next turn.
func (r *TurnRecord) Reset() {
	r.files = nil
	r.commands = nil
	r.seen = make(map[string]bool)
}

// FeedbackQueue holds hook feedback until the client is idle and tracks how
// many automatic resubmissions remain for the current consumer prompt. It is
// owned by a single goroutine.
type FeedbackQueue struct {
	items  []Feedback
	budget int
	used   int
}

// NewFeedbackQueue returns a queue allowing budget resubmissions per
// consumer prompt.
func NewFeedbackQueue(budget int) *FeedbackQueue {
	if budget < 0 {
		budget = 0
	}
	return &FeedbackQueue{budget: budget}
}

// Push appends feedback in arrival order.
func (q *FeedbackQueue) Push(items ...Feedback) {
	q.items = append(q.items, items...)
}

// Len is the number of queued items.
func (q *FeedbackQueue) Len() int {
	return len(q.items)
}

// Remaining is the resubmissions left before the next consumer prompt.
func (q *FeedbackQueue) Remaining() int {
	return q.budget - q.used
}

// ResetBudget restores the budget; called when the consumer submits a prompt.
func (q *FeedbackQueue) ResetBudget() {
	q.used = 0
}

// Drain empties the queue at an idle point. While budget remains, every
// queued item is joined into one prompt text and a unit is spent; otherwise
// the items are returned to be surfaced to the consumer.
func (q *FeedbackQueue) Drain() (resubmit string, surfaced []Feedback) {
	items := q.items
	q.items = nil
	if len(items) == 0 {
		return "", nil
	}
	if q.used >= q.budget {
		return "", items
	}
	q.used++
	return JoinFeedback(items), nil
}

// JoinFeedback renders items as one prompt.
func JoinFeedback(items []Feedback) string {
	texts := make([]string, len(items))
	for i, f := range items {
		texts[i] = f.Text
	}
	return strings.Join(texts, "\n\n")
}
