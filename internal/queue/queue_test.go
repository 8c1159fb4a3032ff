package queue

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqs(envs []Envelope) []int64 {
	out := make([]int64, len(envs))
	for i, e := range envs {
		out[i] = e.Seq
	}
	return out
}

func TestQueue_AppendAndAck(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, 10)
	require.NoError(t, err)
	defer q.Close()

	for i := 0; i < 3; i++ {
		env, err := q.Append("agent.message", map[string]int{"n": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), env.Seq)
		assert.Equal(t, EnvelopeVersion, env.V)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs(q.Unacked()))

	require.NoError(t, q.AckUpto(2))
	assert.Equal(t, []int64{3}, seqs(q.Unacked()))

	seq, err := LoadAckedSeq(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestQueue_ReloadKeepsUnacked(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, 10)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := q.Append("fs.written", map[string]string{"path": "a"})
		require.NoError(t, err)
	}
	require.NoError(t, q.AckUpto(1))
	require.NoError(t, q.Close())

	// A torn trailing line is ignored.
	f, err := os.OpenFile(filepath.Join(dir, queueFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"v":1,"type":"x","se`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	q, err = NewQueue(dir, 10)
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, []int64{2, 3, 4}, seqs(q.Unacked()))
	assert.Equal(t, int64(4), q.LastSeq())

	env, err := q.Append("fs.written", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), env.Seq)
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	dir := t.TempDir()
	q, err := NewQueue(dir, 2)
	require.NoError(t, err)
	defer q.Close()

	for i := 0; i < 3; i++ {
		_, err := q.Append("turn.started", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{2, 3}, seqs(q.Unacked()))

	// The file was compacted to the retained envelopes.
	data, err := os.ReadFile(filepath.Join(dir, queueFile))
	require.NoError(t, err)
	var first Envelope
	line := data[:bytes.IndexByte(data, '\n')]
	require.NoError(t, json.Unmarshal(line, &first))
	assert.Equal(t, int64(2), first.Seq)
}
