package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStat(t *testing.T) {
	comm, ppid, ok := parseStat("1234 (go test (x)) S 77 1234 1234 0 -1")
	require.True(t, ok)
	assert.Equal(t, "go test (x)", comm)
	assert.Equal(t, 77, ppid)

	_, _, ok = parseStat("")
	assert.False(t, ok)
	_, _, ok = parseStat("12 (sh)")
	assert.False(t, ok)
	_, _, ok = parseStat("12 (sh) S notanumber")
	assert.False(t, ok)
}

func TestParsePID(t *testing.T) {
	pid, ok := parsePID("42")
	assert.True(t, ok)
	assert.Equal(t, 42, pid)
	for _, name := range []string{"", "self", "0", "4a"} {
		_, ok := parsePID(name)
		assert.False(t, ok, name)
	}
}

func writeStat(t *testing.T, root string, pid, ppid int, comm string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stat := strconv.Itoa(pid) + " (" + comm + ") S " + strconv.Itoa(ppid) + " 0 0"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
}

func TestDescendants(t *testing.T) {
	root := t.TempDir()
	writeStat(t, root, 10, 1, "sh")
	writeStat(t, root, 11, 10, "make")
	writeStat(t, root, 12, 11, "cc")
	writeStat(t, root, 13, 10, "tee")
	writeStat(t, root, 20, 1, "other")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "self"), 0o755))

	snap := takeSnapshot(root)
	assert.Equal(t, 5, snap.Len())

	got := snap.Descendants(10)
	assert.ElementsMatch(t, []int{11, 12, 13}, got)
	// The grandchild comes before its parent.
	assert.Less(t, indexOf(got, 12), indexOf(got, 11))

	assert.Empty(t, snap.Descendants(20))
	assert.Nil(t, snap.Descendants(0))
	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.Descendants(10))
}

func TestTakeSnapshot_MissingRoot(t *testing.T) {
	snap := takeSnapshot(filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, 0, snap.Len())
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
