// Package pathmap translates paths between the host filesystem namespace and
// the namespace the agent executes in.
package pathmap

import (
	"path"
	"runtime"
	"strings"
)

// Direction selects which namespace a rewrite translates from.
type Direction int

const (
	// HostToRemote rewrites host paths into agent paths.
	HostToRemote Direction = iota
	// RemoteToHost rewrites agent paths into host paths.
	RemoteToHost
)

// Translator maps paths between the two namespaces. Implementations are pure.
type Translator interface {
	// ToRemote converts a host path into the agent's namespace.
	ToRemote(hostPath string) string
	// ToHost converts an agent path into the host namespace.
	ToHost(remotePath string) string
	// Normalize puts a host path into the canonical form ToHost produces.
	Normalize(hostPath string) string
	// LooksLike reports whether s lexically belongs to the source namespace of dir.
	LooksLike(s string, dir Direction) bool
}

// New returns the translator for a paths mode: "wsl", "none" or "auto".
// Auto picks WSL translation on Windows hosts and identity elsewhere.
func New(mode, mountPrefix string) Translator {
	switch mode {
	case "wsl":
		return NewWSL(mountPrefix)
	case "none":
		return Identity{}
	}
	if runtime.GOOS == "windows" {
		return NewWSL(mountPrefix)
	}
	return Identity{}
}

// Translate applies t in the given direction.
func Translate(t Translator, p string, dir Direction) string {
	if dir == HostToRemote {
		return t.ToRemote(p)
	}
	return t.ToHost(p)
}

// Identity is the translator used when host and agent share a filesystem.
type Identity struct{}

func (Identity) ToRemote(p string) string  { return p }
func (Identity) ToHost(p string) string    { return p }
func (Identity) Normalize(p string) string { return p }

// LooksLike is always false: identity rewriting never changes a payload.
func (Identity) LooksLike(string, Direction) bool { return false }

// WSL maps Windows drive paths onto the /mnt/<drive> mounts of a WSL
// distribution: C:\Users\me <-> /mnt/c/Users/me.
type WSL struct {
	prefix string
}

// NewWSL returns a WSL translator. An empty prefix defaults to /mnt.
func NewWSL(mountPrefix string) WSL {
	mountPrefix = strings.TrimRight(mountPrefix, "/")
	if mountPrefix == "" {
		mountPrefix = "/mnt"
	}
	return WSL{prefix: mountPrefix}
}

// ToRemote converts C:\Users\me to /mnt/c/Users/me. The \\?\ prefix is
// stripped. UNC shares and relative paths only get forward slashes.
func (w WSL) ToRemote(p string) string {
	s := strings.TrimPrefix(p, `\\?\`)
	if !hasDrive(s) {
		if strings.HasPrefix(s, `\\`) {
			return p
		}
		return strings.ReplaceAll(s, `\`, "/")
	}
	drive := strings.ToLower(s[:1])
	rest := strings.Trim(strings.ReplaceAll(s[2:], `\`, "/"), "/")
	if rest == "" {
		return w.prefix + "/" + drive
	}
	return w.prefix + "/" + drive + "/" + rest
}

// ToHost converts /mnt/c/Users/me to C:\Users\me. Paths outside the mount
// prefix are returned unchanged.
func (w WSL) ToHost(p string) string {
	drive, rest, ok := w.splitMount(p)
	if !ok {
		return p
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return strings.ToUpper(drive) + `:\`
	}
	return strings.ToUpper(drive) + `:\` + strings.ReplaceAll(rest, "/", `\`)
}

// Normalize upper-cases the drive letter, uses backslashes and drops the
// extended-length prefix and trailing separators.
func (w WSL) Normalize(p string) string {
	s := strings.TrimPrefix(p, `\\?\`)
	if !hasDrive(s) {
		return p
	}
	return w.ToHost(w.ToRemote(s))
}

func (w WSL) LooksLike(s string, dir Direction) bool {
	if dir == HostToRemote {
		s = strings.TrimPrefix(s, `\\?\`)
		return len(s) >= 3 && hasDrive(s) && (s[2] == '\\' || s[2] == '/')
	}
	_, _, ok := w.splitMount(s)
	return ok
}

// splitMount splits /mnt/c/rest into ("c", "/rest").
func (w WSL) splitMount(p string) (string, string, bool) {
	rest, ok := strings.CutPrefix(p, w.prefix+"/")
	if !ok || rest == "" || !isLetter(rest[0]) {
		return "", "", false
	}
	if len(rest) > 1 && rest[1] != '/' {
		return "", "", false
	}
	return rest[:1], rest[1:], true
}

func hasDrive(s string) bool {
	return len(s) >= 2 && isLetter(s[0]) && s[1] == ':'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Within reports whether p lies inside root. Both paths are host paths; the
// comparison is lexical and case-insensitive for drive paths.
func Within(root, p string) bool {
	if root == "" {
		return true
	}
	r, q := slashed(root), slashed(p)
	if hasDrive(r) || hasDrive(q) {
		r, q = strings.ToLower(r), strings.ToLower(q)
	}
	if !strings.HasPrefix(q, "/") && !hasDrive(q) {
		return false
	}
	r, q = path.Clean(r), path.Clean(q)
	if r == q {
		return true
	}
	if !strings.HasSuffix(r, "/") {
		r += "/"
	}
	return strings.HasPrefix(q, r)
}

func slashed(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(p, `\\?\`), `\`, "/")
}
