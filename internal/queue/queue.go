// Package queue is the relay outbox: a sequence-numbered JSONL log of
// envelopes kept on disk until the remote consumer acknowledges them.
package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EnvelopeVersion is the relay wire version.
const EnvelopeVersion = 1

const (
	queueFile  = "outbox.jsonl"
	ackedFile  = "acked-seq"
	maxLineLen = 16 << 20
)

// Envelope is one relayed event.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type Queue struct {
	dir         string
	path        string
	maxSize     int
	messages    []Envelope
	lastSeq     int64
	mu          sync.Mutex
	append      *os.File
	lastCompact time.Time
	now         func() time.Time
}

// NewQueue opens the outbox under stateDir, reloading unacknowledged
// envelopes from a previous run.
func NewQueue(stateDir string, maxSize int) (*Queue, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 50000
	}

	q := &Queue{
		dir:     stateDir,
		path:    filepath.Join(stateDir, queueFile),
		maxSize: maxSize,
		now:     time.Now,
	}
	acked, err := LoadAckedSeq(stateDir)
	if err != nil {
		return nil, err
	}
	q.lastSeq = acked
	if err := q.load(acked); err != nil {
		return nil, err
	}
	if err := q.openAppend(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load(acked int64) error {
	file, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)
	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue // torn write from a crash
		}
		if env.Seq > q.lastSeq {
			q.lastSeq = env.Seq
		}
		if env.Seq > acked {
			q.messages = append(q.messages, env)
		}
	}
	return scanner.Err()
}

func (q *Queue) openAppend() error {
	if q.append != nil {
		return nil
	}
	file, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open outbox for append: %w", err)
	}
	q.append = file
	return nil
}

func (q *Queue) appendEnvelope(env Envelope) error {
	if err := q.openAppend(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = q.append.Write(data)
	return err
}

func (q *Queue) compact() error {
	tmpPath := q.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create outbox: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, env := range q.messages {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if q.append != nil {
		_ = q.append.Close()
		q.append = nil
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		return err
	}
	q.lastCompact = q.now()
	return q.openAppend()
}

func (q *Queue) maybeCompact(removed int) error {
	if removed == 0 {
		return nil
	}
	// Avoid compacting too frequently
	if q.now().Sub(q.lastCompact) < 30*time.Second && removed < 100 {
		return nil
	}
	if info, err := os.Stat(q.path); err == nil {
		if info.Size() < 5*1024*1024 && removed < 100 {
			return nil
		}
	}
	return q.compact()
}

func (q *Queue) pruneLocked(seq int64) int {
	removed := 0
	kept := q.messages[:0]
	for _, env := range q.messages {
		if env.Seq > seq {
			kept = append(kept, env)
		} else {
			removed++
		}
	}
	q.messages = kept
	return removed
}

// Append assigns the next sequence number to payload and persists it.
// When the outbox is full the oldest envelope is dropped.
func (q *Queue) Append(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastSeq++
	env := Envelope{V: EnvelopeVersion, Type: typ, TS: q.now().UTC(), Seq: q.lastSeq, Payload: raw}

	needsCompact := false
	if len(q.messages) >= q.maxSize {
		q.messages = q.messages[1:]
		needsCompact = true
	}
	q.messages = append(q.messages, env)
	if err := q.appendEnvelope(env); err != nil {
		return env, err
	}
	if needsCompact {
		return env, q.compact()
	}
	return env, nil
}

// AckUpto drops every envelope with seq <= seq and records the ack.
func (q *Queue) AckUpto(seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := q.pruneLocked(seq)
	if err := SaveAckedSeq(q.dir, seq); err != nil {
		return err
	}
	return q.maybeCompact(removed)
}

// Unacked returns the envelopes still waiting for an ack, oldest first.
func (q *Queue) Unacked() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]Envelope, len(q.messages))
	copy(result, q.messages)
	return result
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// LastSeq is the highest sequence number handed out.
func (q *Queue) LastSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSeq
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.append == nil {
		return nil
	}
	err := q.append.Close()
	q.append = nil
	return err
}

// LoadAckedSeq loads the last acked sequence number
func LoadAckedSeq(stateDir string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, ackedFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, nil
	}
	return seq, nil
}

// SaveAckedSeq saves the last acked sequence number
func SaveAckedSeq(stateDir string, seq int64) error {
	return os.WriteFile(filepath.Join(stateDir, ackedFile), []byte(strconv.FormatInt(seq, 10)), 0o644)
}
