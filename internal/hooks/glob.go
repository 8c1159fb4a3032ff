package hooks

import (
	"fmt"
	"path"
	"strings"
)

// MatchGlob matches name against pattern using path.Match per segment,
// where a "**" segment spans any number of segments, including none.
// Malformed patterns match nothing.
func MatchGlob(pattern, name string) bool {
	if pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "**") {
		ok, err := path.Match(pattern, name)
		return err == nil && ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], name[0])
		if err != nil || !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

// ValidateGlob rejects patterns path.Match cannot parse.
func ValidateGlob(pattern string) error {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// matchPath tests a rule pattern against every form of the input path. A
// pattern without a slash matches the base name at any depth; one with a
// slash matches the path relative to the working directory or the whole
// host or agent path.
func matchPath(pattern string, in Input) bool {
	if in.Path == "" && in.RemotePath == "" {
		return false
	}
	var candidates []string
	for _, p := range []string{in.Path, in.RemotePath} {
		if p == "" {
			continue
		}
		p = toSlash(p)
		if !strings.Contains(pattern, "/") {
			candidates = append(candidates, path.Base(p))
			continue
		}
		candidates = append(candidates, p)
		if rel, ok := relTo(toSlash(in.Cwd), p); ok {
			candidates = append(candidates, rel)
		}
	}
	for _, c := range candidates {
		if MatchGlob(pattern, c) {
			return true
		}
	}
	return false
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// relTo strips root from p lexically.
func relTo(root, p string) (string, bool) {
	if root == "" {
		return "", false
	}
	root = strings.TrimSuffix(root, "/") + "/"
	if len(p) < len(root) || !strings.EqualFold(p[:len(root)], root) {
		return "", false
	}
	return p[len(root):], true
}
