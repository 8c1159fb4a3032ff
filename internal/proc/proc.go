// Package proc reads the process table from /proc so a terminal command's
// whole process tree can be signalled.
package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Entry struct {
	Pid  int
	PPid int
	Comm string
}

type Snapshot struct {
	entries  map[int]*Entry
	children map[int][]int
}

// TakeSnapshot reads /proc. On systems without /proc the snapshot is empty.
func TakeSnapshot() *Snapshot {
	return takeSnapshot("/proc")
}

func takeSnapshot(root string) *Snapshot {
	entries := make(map[int]*Entry)
	children := make(map[int][]int)

	dirs, err := os.ReadDir(root)
	if err != nil {
		return &Snapshot{entries: entries, children: children}
	}

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		pid, ok := parsePID(dir.Name())
		if !ok {
			continue
		}

		stat, err := os.ReadFile(filepath.Join(root, dir.Name(), "stat"))
		if err != nil {
			continue
		}

		comm, ppid, ok := parseStat(string(stat))
		if !ok {
			continue
		}

		entries[pid] = &Entry{Pid: pid, PPid: ppid, Comm: comm}
		children[ppid] = append(children[ppid], pid)
	}

	return &Snapshot{entries: entries, children: children}
}

// Len is the number of processes in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Descendants returns every process below pid, deepest first, so that
// signalling in order reaches children before their parents.
func (s *Snapshot) Descendants(pid int) []int {
	if s == nil || pid <= 0 {
		return nil
	}

	var order []int
	queue := []int{pid}
	visited := map[int]struct{}{pid: {}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, kid := range s.children[current] {
			if _, seen := visited[kid]; seen {
				continue
			}
			visited[kid] = struct{}{}
			order = append(order, kid)
			queue = append(queue, kid)
		}
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func parsePID(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for _, ch := range name {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	pid, err := strconv.Atoi(name)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func parseStat(stat string) (string, int, bool) {
	stat = strings.TrimSpace(stat)
	if stat == "" {
		return "", 0, false
	}

	rparen := strings.LastIndex(stat, ")")
	lparen := strings.Index(stat, "(")
	if lparen == -1 || rparen == -1 || rparen <= lparen || rparen+2 > len(stat) {
		return "", 0, false
	}

	comm := stat[lparen+1 : rparen]
	rest := strings.Fields(stat[rparen+2:])
	if len(rest) < 2 {
		return comm, 0, false
	}

	ppid, err := strconv.Atoi(rest[1])
	if err != nil {
		return comm, 0, false
	}
	return comm, ppid, true
}
